package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/internal/app"
	"github.com/harun/mcpagent/internal/config"
	"github.com/harun/mcpagent/internal/logger"
	"github.com/harun/mcpagent/pkg/agent"
	"github.com/harun/mcpagent/pkg/registry"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// runtime is the part of app.App the commands use.
type runtime interface {
	Ask(ctx context.Context, query string) (*agent.Result, error)
	Tools() []registry.Descriptor
	Close() error
}

// newRuntime starts providers and builds the query loop. Tests replace it.
var newRuntime = func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (runtime, error) {
	return app.New(ctx, cfg, log)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcpagent",
	Short: "mcpagent - drive MCP tool providers from a language model",
	Long: `mcpagent starts the configured MCP tool providers (for example
Playwright MCP), merges their tools into one catalog and lets a language
model call them while answering your questions.

Run without a subcommand to start an interactive chat.`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mcpagent/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig reads the config file and applies the --log-level flag when it
// was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// startRuntime loads config, sets up logging and starts the runtime. The
// returned cleanup closes both and must always be called.
func startRuntime(cmd *cobra.Command) (runtime, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, func() {}, err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to set up logging: %w", err)
	}

	rt, err := newRuntime(cmd.Context(), cfg, log.GetZerolog())
	if err != nil {
		log.Close()
		return nil, func() {}, err
	}

	cleanup := func() {
		if err := rt.Close(); err != nil {
			log.Warn().Err(err).Msg("Error while closing providers")
		}
		log.Close()
	}
	return rt, cleanup, nil
}
