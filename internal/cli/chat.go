package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/pkg/agent"
	"github.com/harun/mcpagent/pkg/registry"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start the configured tool providers, list their tools and answer
questions interactively. Type exit or quit to leave. Ctrl+C cancels the
question being answered; at the prompt it exits.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.RunE = runChat
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, cleanup, err := startRuntime(cmd)
	defer cleanup()
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	printTools(cmd.OutOrStdout(), rt.Tools())
	return chatLoop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), rt, interrupts)
}

// printTools writes the catalog banner shown before the first prompt.
func printTools(out io.Writer, tools []registry.Descriptor) {
	fmt.Fprintln(out, "=== Available MCP tools ===")
	for _, t := range tools {
		fmt.Fprintf(out, "- %s: %s\n", t.QualifiedName, t.Description)
	}
}

type asker interface {
	Ask(ctx context.Context, query string) (*agent.Result, error)
}

// chatLoop reads questions from in until EOF, exit or quit. A value on
// interrupts cancels the question in flight; at the prompt it ends the loop.
// Provider sessions are never touched here.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, rt asker, interrupts <-chan os.Signal) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lines := readLines(in)

	for {
		fmt.Fprint(out, "\nYou> ")

		var (
			line string
			ok   bool
		)
		select {
		case line, ok = <-lines:
			if !ok {
				fmt.Fprintln(out, "\nExiting.")
				return nil
			}
		case <-interrupts:
			fmt.Fprintln(out, "\nExiting.")
			return nil
		case <-ctx.Done():
			fmt.Fprintln(out, "\nExiting.")
			return nil
		}

		query := strings.TrimSpace(line)
		if query == "" {
			continue
		}
		switch strings.ToLower(query) {
		case "exit", "quit":
			fmt.Fprintln(out, "Bye.")
			return nil
		}

		answer, err := ask(ctx, rt, query, interrupts)
		switch {
		case errors.Is(err, context.Canceled) && ctx.Err() == nil:
			fmt.Fprintln(out, "\n(cancelled)")
			continue
		case errors.Is(err, agent.ErrMaxRoundsExceeded):
			fmt.Fprintf(out, "\nError: %v\n", err)
			continue
		case err != nil:
			if ctx.Err() != nil {
				fmt.Fprintln(out, "\nExiting.")
				return nil
			}
			fmt.Fprintf(out, "\nError: %v\n", err)
			continue
		}

		fmt.Fprintln(out, "\nAssistant>")
		fmt.Fprintln(out, answer)
	}
}

// ask runs one question, cancelling it if an interrupt arrives first.
func ask(ctx context.Context, rt asker, query string, interrupts <-chan os.Signal) (string, error) {
	qctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-interrupts:
			cancel()
		case <-done:
		}
	}()

	res, err := rt.Ask(qctx, query)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// readLines feeds lines from in to a channel so the prompt can also wait on
// interrupts. The channel is closed at EOF.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
