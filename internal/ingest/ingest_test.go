package ingest

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regspy/regspy/internal/core"
	"github.com/regspy/regspy/internal/core/upstream"
)

type fakeStore struct {
	processed map[string]bool
	vehicles  map[string]*core.VehicleDraft
	upserts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		processed: map[string]bool{},
		vehicles:  map[string]*core.VehicleDraft{},
	}
}

func (f *fakeStore) FileProcessed(_ context.Context, name string) (bool, error) {
	return f.processed[name], nil
}

func (f *fakeStore) MarkFileProcessed(_ context.Context, name string) error {
	f.processed[name] = true
	return nil
}

func (f *fakeStore) Upsert(_ context.Context, registration string, draft *core.VehicleDraft) (*core.Vehicle, error) {
	f.upserts++
	f.vehicles[registration] = draft
	return &core.Vehicle{Registration: registration}, nil
}

type fakeLister struct {
	listing *upstream.BulkListing
	err     error
}

func (f *fakeLister) BulkListing(context.Context) (*upstream.BulkListing, error) {
	return f.listing, f.err
}

// deltaArchive builds a zip holding one gzipped NDJSON entry.
func deltaArchive(t *testing.T, lines ...string) []byte {
	t.Helper()

	var ndjson bytes.Buffer
	gz := gzip.NewWriter(&ndjson)
	for _, line := range lines {
		_, err := gz.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, gz.Close())

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	entry, err := zw.Create("delta/vehicles.json.gz")
	require.NoError(t, err)
	_, err = entry.Write(ndjson.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return archive.Bytes()
}

func TestIngesterRun(t *testing.T) {
	archive := deltaArchive(t,
		`{"registration": "AB12 CDE", "make": "FORD", "model": "FIESTA", "motTests": [{"completedDate": "2024-03-01T09:00:00Z", "testResult": "PASSED"}]}`,
		`{"registration": "XY99ZZZ", "make": "HONDA", "model": "JAZZ"}`,
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive) // nolint:errcheck // test server
	}))
	defer srv.Close()

	listing := &upstream.BulkListing{
		Delta: []upstream.BulkFile{{
			Filename:    "bulk/delta_2024-03-02.zip",
			DownloadURL: srv.URL + "/delta_2024-03-02.zip",
			FileSize:    int64(len(archive)),
		}},
	}

	t.Run("AppliesDeltaArchive", func(t *testing.T) {
		db := newFakeStore()
		ing := &Ingester{
			MOT:   &fakeLister{listing: listing},
			Store: db,
			Dir:   t.TempDir(),
		}

		report, err := ing.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, report.FilesProcessed)
		require.Equal(t, 0, report.FilesSkipped)
		require.Equal(t, 2, report.Vehicles)

		require.True(t, db.processed["delta_2024-03-02.zip"])

		draft := db.vehicles["AB12CDE"]
		require.NotNil(t, draft)
		require.Equal(t, "FORD", draft.Make)
		require.Len(t, draft.MotTests, 1)
		require.Equal(t, "PASSED", draft.MotTests[0].TestResult)

		// Records without tests still upsert with an empty, non-nil list.
		require.NotNil(t, db.vehicles["XY99ZZZ"])
		require.NotNil(t, db.vehicles["XY99ZZZ"].MotTests)
		require.Empty(t, db.vehicles["XY99ZZZ"].MotTests)
	})

	t.Run("SecondRunSkipsProcessedArchive", func(t *testing.T) {
		db := newFakeStore()
		ing := &Ingester{
			MOT:   &fakeLister{listing: listing},
			Store: db,
			Dir:   t.TempDir(),
		}

		_, err := ing.Run(context.Background())
		require.NoError(t, err)

		report, err := ing.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 0, report.FilesProcessed)
		require.Equal(t, 1, report.FilesSkipped)
		require.Equal(t, 2, db.upserts)
	})

	t.Run("ListingFailureAbortsRun", func(t *testing.T) {
		ing := &Ingester{
			MOT:   &fakeLister{err: errors.New("boom")},
			Store: newFakeStore(),
		}

		_, err := ing.Run(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "fetch bulk listing")
	})

	t.Run("DownloadFailureLeavesFileUnprocessed", func(t *testing.T) {
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer broken.Close()

		db := newFakeStore()
		ing := &Ingester{
			MOT: &fakeLister{listing: &upstream.BulkListing{
				Delta: []upstream.BulkFile{{
					Filename:    "delta_broken.zip",
					DownloadURL: broken.URL + "/delta_broken.zip",
				}},
			}},
			Store: db,
			Dir:   t.TempDir(),
		}

		_, err := ing.Run(context.Background())
		require.Error(t, err)
		require.False(t, db.processed["delta_broken.zip"])
	})

	t.Run("EmptyListingIsANoOp", func(t *testing.T) {
		ing := &Ingester{
			MOT:   &fakeLister{listing: &upstream.BulkListing{}},
			Store: newFakeStore(),
		}

		report, err := ing.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 0, report.FilesProcessed)
		require.Equal(t, 0, report.Vehicles)
	})
}
