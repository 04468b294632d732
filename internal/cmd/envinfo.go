package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/regspy/regspy/internal/config"
	"github.com/regspy/regspy/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()

		observability.CLILogger.Info("=== regspy Environment Information ===")
		observability.CLILogger.Info("")

		// Application Info
		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       regspy")
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		// SSOT Info
		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		// Runtime Info
		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := config.Load(cfgFile)
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		// Configuration
		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		observability.CLILogger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		observability.CLILogger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		observability.CLILogger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		observability.CLILogger.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			observability.CLILogger.Info("  DB URL:         "+cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		} else {
			observability.CLILogger.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		observability.CLILogger.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		observability.CLILogger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		observability.CLILogger.Info("")

		// Cache and Rate Limiting
		observability.CLILogger.Info("Cache:")
		observability.CLILogger.Info(fmt.Sprintf("  Stale After:    %d day(s)", cfg.Cache.StaleAfterDays), zap.Int("stale_after_days", cfg.Cache.StaleAfterDays))
		observability.CLILogger.Info("")
		observability.CLILogger.Info("Rate Limiting:")
		observability.CLILogger.Info("  Window:         "+cfg.RateLimit.Window.String(), zap.Duration("window", cfg.RateLimit.Window))
		observability.CLILogger.Info(fmt.Sprintf("  Max Requests:   %d", cfg.RateLimit.MaxRequests), zap.Int("max_requests", cfg.RateLimit.MaxRequests))
		observability.CLILogger.Info("")

		// Upstream API Configuration
		observability.CLILogger.Info("Upstream APIs:")
		observability.CLILogger.Info("  VES Base URL:   " + cfg.VES.BaseURL)
		observability.CLILogger.Info("  VES API Key:    " + secretStatus(cfg.VES.APIKey))
		observability.CLILogger.Info("  MOT Base URL:   " + cfg.MOT.BaseURL)
		observability.CLILogger.Info("  MOT Token URL:  " + cfg.MOT.TokenURL)
		observability.CLILogger.Info("  MOT API Key:    " + secretStatus(cfg.MOT.APIKey))
		observability.CLILogger.Info("  MOT Client ID:  " + secretStatus(cfg.MOT.ClientID))
		observability.CLILogger.Info("  MOT Secret:     " + secretStatus(cfg.MOT.ClientSecret))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

func secretStatus(value string) string {
	if strings.TrimSpace(value) != "" {
		return "(set)"
	}
	return "(not set)"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
