package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/regspy/regspy/internal/config"
	"github.com/regspy/regspy/internal/core/upstream"
	"github.com/regspy/regspy/internal/ingest"
	"github.com/regspy/regspy/internal/observability"
)

var ingestDir string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest the DVSA bulk MOT data feed into the local store",
	Long: `Fetch the trade API's bulk-download manifest and apply every delta
archive that has not been processed yet. Each archive is downloaded,
decompressed, and its vehicle records merged into the store.

Processed archives are tracked by file name, so repeated runs only pick
up new deltas. Interrupted downloads are retried from scratch on the
next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		if cfg == nil {
			var err error
			if cfg, err = config.Load(cfgFile); err != nil {
				return err
			}
		}

		if verbose {
			dumpEffectiveConfig(cfg)
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup on exit

		ing := &ingest.Ingester{
			MOT: &upstream.MOTClient{
				Client:  &http.Client{Timeout: cfg.MOT.Timeout},
				BaseURL: cfg.MOT.BaseURL,
				APIKey:  cfg.MOT.APIKey,
				Tokens: &upstream.TokenSource{
					Client:       &http.Client{Timeout: cfg.MOT.Timeout},
					TokenURL:     cfg.MOT.TokenURL,
					ClientID:     cfg.MOT.ClientID,
					ClientSecret: cfg.MOT.ClientSecret,
					Scope:        cfg.MOT.Scope,
				},
			},
			Store: db,
			// Archives run to gigabytes; the API timeout is far too short.
			Client: &http.Client{Timeout: 30 * time.Minute},
			Logger: observability.CLILogger,
			Dir:    ingestDir,
		}

		report, err := ing.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Processed %d archive(s), skipped %d, merged %d vehicle record(s)\n",
			report.FilesProcessed, report.FilesSkipped, report.Vehicles)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "scratch directory for downloaded archives (default: a temporary directory)")
	rootCmd.AddCommand(ingestCmd)
}
