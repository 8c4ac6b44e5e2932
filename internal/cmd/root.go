/*
Package cmd provides the CLI commands for mailcast.
*/
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shineum/mailcast/internal/config"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mailcast",
	Short: "Personalized bulk email campaigns over SMTP",
	Long: `Mailcast sends personalized bulk email campaigns. Recipients are
supplied as loosely structured text (plain addresses or CSV-like lines with
name, link, and QR code columns); each recipient receives a template-rendered
HTML message with inline images, delivered over a throttled SMTP session with
per-recipient failure isolation.

Example:
  mailcast test                                        # verify SMTP credentials
  mailcast preview -r recipients.txt                   # inspect parsed recipients
  mailcast send -r recipients.txt -t newsletter.html   # run the campaign
  mailcast send -r recipients.txt -t news.html --dry-run`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with the given context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to YAML configuration file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration (YAML + env override, or env only when no
// file is given) and installs the global logger.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFromFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	setupLogger(level)

	return cfg, nil
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level. Logs go to stderr so command output stays clean.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
