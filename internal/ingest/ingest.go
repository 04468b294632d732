// Package ingest loads the DVSA bulk trade data feed into the vehicle
// store. The feed is a manifest of delta archives; each archive holds
// gzipped newline-delimited JSON vehicle records. Archives are processed
// at most once, tracked per file name in the store.
package ingest

import (
	"archive/zip"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/regspy/regspy/internal/core"
	"github.com/regspy/regspy/internal/core/upstream"
)

// Store is the persistence surface the ingester needs.
type Store interface {
	FileProcessed(ctx context.Context, fileName string) (bool, error)
	MarkFileProcessed(ctx context.Context, fileName string) error
	Upsert(ctx context.Context, registration string, draft *core.VehicleDraft) (*core.Vehicle, error)
}

// Lister fetches the bulk-download manifest.
type Lister interface {
	BulkListing(ctx context.Context) (*upstream.BulkListing, error)
}

// Report summarizes one ingest run.
type Report struct {
	FilesProcessed int
	FilesSkipped   int
	Vehicles       int
}

// Ingester downloads and applies delta archives. Downloads are not
// resumable: a failed transfer is retried from scratch on the next run.
type Ingester struct {
	MOT    Lister
	Store  Store
	Client *http.Client
	Logger *logging.Logger
	// Dir is the scratch directory for downloaded archives. A temporary
	// directory is used when empty.
	Dir string
}

// Run fetches the manifest and applies every unprocessed delta archive in
// listing order. The first archive failure aborts the run so a later delta
// is never applied over a missing earlier one.
func (in *Ingester) Run(ctx context.Context) (*Report, error) {
	if in == nil || in.MOT == nil || in.Store == nil {
		return nil, errors.New("ingester is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	listing, err := in.MOT.BulkListing(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch bulk listing: %w", err)
	}

	dir := in.Dir
	if dir == "" {
		dir, err = os.MkdirTemp("", "regspy-ingest-")
		if err != nil {
			return nil, fmt.Errorf("create scratch directory: %w", err)
		}
		defer os.RemoveAll(dir) // nolint:errcheck // best-effort scratch cleanup
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	report := &Report{}
	for _, delta := range listing.Delta {
		name := path.Base(delta.Filename)
		if name == "" || name == "." || name == "/" {
			return report, fmt.Errorf("bulk listing entry has no usable filename: %q", delta.Filename)
		}

		done, err := in.Store.FileProcessed(ctx, name)
		if err != nil {
			return report, err
		}
		if done {
			report.FilesSkipped++
			in.debug("delta archive already processed", zap.String("file", name))
			continue
		}

		count, err := in.applyArchive(ctx, dir, name, delta)
		if err != nil {
			return report, fmt.Errorf("apply delta archive %s: %w", name, err)
		}
		if err := in.Store.MarkFileProcessed(ctx, name); err != nil {
			return report, err
		}

		report.FilesProcessed++
		report.Vehicles += count
		in.info("processed delta archive",
			zap.String("file", name),
			zap.Int("vehicles", count))
	}

	return report, nil
}

// applyArchive downloads one delta archive and upserts every vehicle
// record it contains.
func (in *Ingester) applyArchive(ctx context.Context, dir, name string, delta upstream.BulkFile) (int, error) {
	archivePath := filepath.Join(dir, name)
	if err := in.download(ctx, delta.DownloadURL, archivePath); err != nil {
		return 0, err
	}
	defer os.Remove(archivePath) // nolint:errcheck // best-effort scratch cleanup

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close() // nolint:errcheck // read-only archive handle

	total := 0
	for _, entry := range reader.File {
		if !strings.HasSuffix(entry.Name, ".json.gz") {
			continue
		}
		count, err := in.applyEntry(ctx, entry)
		if err != nil {
			return total, fmt.Errorf("entry %s: %w", entry.Name, err)
		}
		total += count
	}
	return total, nil
}

func (in *Ingester) applyEntry(ctx context.Context, entry *zip.File) (int, error) {
	raw, err := entry.Open()
	if err != nil {
		return 0, fmt.Errorf("open entry: %w", err)
	}
	defer raw.Close() // nolint:errcheck // read-only archive entry

	gz, err := gzip.NewReader(raw)
	if err != nil {
		return 0, fmt.Errorf("decompress entry: %w", err)
	}
	defer gz.Close() // nolint:errcheck // read-only gzip stream

	count := 0
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record upstream.MOTResponse
		if err := json.Unmarshal(line, &record); err != nil {
			return count, fmt.Errorf("decode vehicle record: %w", err)
		}

		registration := core.NormalizeRegistration(record.Registration)
		if registration == "" {
			in.debug("skipping record with no registration")
			continue
		}

		if _, err := in.Store.Upsert(ctx, registration, draftFromRecord(registration, &record)); err != nil {
			return count, fmt.Errorf("upsert %s: %w", registration, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("read entry: %w", err)
	}
	return count, nil
}

// download fetches url to dest. Partial files are discarded, not resumed.
func (in *Ingester) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	client := in.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download archive: status %d", resp.StatusCode)
	}

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close() // nolint:errcheck // write error already reported
		return fmt.Errorf("write archive file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close archive file: %w", err)
	}
	return nil
}

// draftFromRecord maps a bulk feed record onto the store's draft shape.
// The feed carries MOT trade fields only; enquiry-service fields (tax,
// CO2, year of manufacture) are left empty so cached values survive.
func draftFromRecord(registration string, record *upstream.MOTResponse) *core.VehicleDraft {
	tests := record.MotTests
	if tests == nil {
		tests = []core.MotTest{}
	}
	return &core.VehicleDraft{
		Registration:     registration,
		Make:             record.Make,
		Model:            record.Model,
		FirstUsedDate:    record.FirstUsedDate,
		FuelType:         record.FuelType,
		PrimaryColour:    record.PrimaryColour,
		RegistrationDate: record.RegistrationDate,
		ManufactureDate:  record.ManufactureDate,
		EngineSize:       record.EngineSize,
		MotTests:         tests,
	}
}

func (in *Ingester) info(msg string, fields ...zap.Field) {
	if in.Logger != nil {
		in.Logger.Info(msg, fields...)
	}
}

func (in *Ingester) debug(msg string, fields ...zap.Field) {
	if in.Logger != nil {
		in.Logger.Debug(msg, fields...)
	}
}
