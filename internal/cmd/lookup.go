package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/regspy/regspy/internal/config"
	"github.com/regspy/regspy/internal/core/aggregator"
	"github.com/regspy/regspy/internal/core/pipeline"
	"github.com/regspy/regspy/internal/core/upstream"
	"github.com/regspy/regspy/internal/observability"
	"github.com/regspy/regspy/internal/output"
)

var lookupFormat string

var lookupCmd = &cobra.Command{
	Use:   "lookup <registration>",
	Short: "Look up a vehicle registration",
	Long: `Look up a vehicle registration against the cache and the upstream
APIs, exactly as a server request would, and print the result.

The CLI shares the server's cache: a fresh cached record is returned
without touching the upstream APIs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(lookupFormat)
		if err != nil {
			return err
		}

		cfg := config.GetConfig()
		if cfg == nil {
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

		pipe := &pipeline.Pipeline{
			Store: db,
			Aggregator: &aggregator.Aggregator{
				VES: &upstream.VESClient{
					Client:  &http.Client{Timeout: cfg.VES.Timeout},
					BaseURL: cfg.VES.BaseURL,
					APIKey:  cfg.VES.APIKey,
				},
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
				Logger: observability.CLILogger,
			},
			Logger: observability.CLILogger,
			// No rate limiter: admission control is a server boundary concern.
		}

		result, err := pipe.Lookup(cmd.Context(), pipeline.Request{
			Registration: args[0],
			ClientKey:    "cli",
		})
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatVehicle(result)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

// dumpEffectiveConfig prints the merged configuration to stderr with
// credentials redacted.
func dumpEffectiveConfig(cfg *config.Config) {
	redacted := *cfg
	if redacted.Store.AuthToken != "" {
		redacted.Store.AuthToken = "[redacted]"
	}
	if redacted.VES.APIKey != "" {
		redacted.VES.APIKey = "[redacted]"
	}
	if redacted.MOT.APIKey != "" {
		redacted.MOT.APIKey = "[redacted]"
	}
	if redacted.MOT.ClientSecret != "" {
		redacted.MOT.ClientSecret = "[redacted]"
	}

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return
	}
	fmt.Fprintf(os.Stderr, "# effective configuration\n%s\n", data)
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.Flags().StringVarP(&lookupFormat, "format", "f", "table",
		"output format (table, json, markdown)")
}
