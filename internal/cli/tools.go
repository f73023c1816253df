package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harun/mcpagent/pkg/registry"
)

var toolsFormat string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of every configured provider",
	Long: `Start the configured tool providers, print the merged tool catalog
with provider-prefixed names and exit.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVarP(&toolsFormat, "format", "f", "text", "output format (text, json, yaml)")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	switch toolsFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unsupported format %q (must be text, json or yaml)", toolsFormat)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	cmd.SetContext(ctx)

	rt, cleanup, err := startRuntime(cmd)
	defer cleanup()
	if err != nil {
		return err
	}

	return writeTools(cmd.OutOrStdout(), rt.Tools(), toolsFormat)
}

func writeTools(out io.Writer, tools []registry.Descriptor, format string) error {
	if tools == nil {
		tools = []registry.Descriptor{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(tools); err != nil {
			return err
		}
		return enc.Close()
	default:
		printTools(out, tools)
		return nil
	}
}
