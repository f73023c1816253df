// Command rodprovider is an MCP tool provider that drives Chrome through
// go-rod. It speaks MCP on stdin/stdout and logs to stderr.
package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/internal/logger"
	"github.com/harun/mcpagent/pkg/browser"
)

const version = "0.1.0"

var (
	headless       bool
	noSandbox      bool
	chromeBin      string
	controlURL     string
	pageTimeout    time.Duration
	allowFile      bool
	allowLocalhost bool
	allowDomains   []string
	blockDomains   []string
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "rodprovider",
	Short: "MCP browser tool provider backed by go-rod",
	Long: `rodprovider serves browser_navigate, browser_text, browser_links,
browser_click, browser_type, browser_screenshot and browser_eval over MCP on
stdio. Chrome starts on the first tool call and stops when stdin closes.`,
	Version:      version,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVar(&headless, "headless", true, "run Chrome without a window")
	f.BoolVar(&noSandbox, "no-sandbox", false, "disable the Chrome sandbox")
	f.StringVar(&chromeBin, "chrome", "", "path to the Chrome binary (default: detected or downloaded)")
	f.StringVar(&controlURL, "control-url", "", "attach to a running Chrome DevTools endpoint instead of launching")
	f.DurationVar(&pageTimeout, "timeout", 30*time.Second, "timeout for each page operation")
	f.BoolVar(&allowFile, "allow-file-urls", false, "allow file:// URLs")
	f.BoolVar(&allowLocalhost, "allow-localhost", false, "allow localhost and loopback URLs")
	f.StringSliceVar(&allowDomains, "allow-domain", nil, "only allow these domains (repeatable, *.example.com supported)")
	f.StringSliceVar(&blockDomains, "block-domain", nil, "block these domains (repeatable)")
	f.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg := logger.DefaultConfig()
	cfg.Level = logLevel
	cfg.Console = true
	log, err := logger.New(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	zl := log.GetZerolog().With().Str("component", "rodprovider").Logger()

	b := browser.New(browser.Options{
		Headless:   headless,
		NoSandbox:  noSandbox,
		Bin:        chromeBin,
		ControlURL: controlURL,
		Timeout:    pageTimeout,
	}, zl)
	defer func() {
		if err := b.Close(); err != nil {
			zl.Warn().Err(err).Msg("Failed to close browser")
		}
	}()

	policy := browser.NewPolicy(browser.PolicyConfig{
		AllowFileURLs:      allowFile,
		AllowLocalhostURLs: allowLocalhost,
		AllowedDomains:     allowDomains,
		BlockedDomains:     blockDomains,
	}, zl)

	stdio := mcpserver.NewStdioServer(browser.NewServer(b, policy, version, zl))
	stdio.SetErrorLogger(stdlog.New(zl, "", 0))

	zl.Info().Msg("Serving MCP on stdio")
	// Listen returns at EOF on stdin, which is how the client closes us.
	if err := stdio.Listen(cmd.Context(), os.Stdin, os.Stdout); err != nil && cmd.Context().Err() == nil {
		return err
	}
	zl.Info().Msg("Client disconnected, shutting down")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
