package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-memory/config"
	"github.com/becomeliminal/nim-memory/server"
)

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "nim-memory",
		Short: "Chat agent that recalls, reflects on and learns from past conversations",
		Long: strings.TrimSpace(`nim-memory stores every conversation turn as an embedded memory.

Each new message recalls related memories, reflects on which of them apply,
distills an insight and answers with that insight in context. Configuration is
read from NIM_MEMORY_* environment variables.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newChatCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newRecallCommand())
	root.AddCommand(newReflectCommand())
	root.AddCommand(newStatsCommand())
	return root
}

// openStack loads configuration and opens the shared backends.
func openStack(ctx context.Context) (*config.Stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return config.Open(ctx, cfg)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newChatCommand() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:     "chat",
		Short:   "Start an interactive conversation",
		Example: "  nim-memory chat --title \"modem trouble\"",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			stack, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			return interactiveChat(ctx, stack.NewAgent(), title, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Conversation title")
	return cmd
}

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve agents over WebSocket",
		Long:    "Serve one agent per WebSocket connection on /ws, all sharing the configured memory store. /health reports the store size.",
		Example: "  nim-memory serve --addr :8080",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			stack, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			if addr == "" {
				addr = stack.Config.Addr
			}
			srv, err := server.New(server.Config{
				NewAgent: stack.NewAgent,
				Store:    stack.Store,
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx, addr)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default: NIM_MEMORY_ADDR)")
	return cmd
}

func newRecallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "recall <query>",
		Short:   "List memories relevant to a query",
		Example: "  nim-memory recall \"dns button\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			recalled, err := stack.NewAgent().Recall(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range recalled {
				fmt.Fprintf(out, "%.4f  %-10s  %s  %s\n", r.Relevance, r.Type, r.ID, oneLine(r.Content))
			}
			fmt.Fprintf(out, "%d memories\n", len(recalled))
			return nil
		},
	}
}

func newReflectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reflect <query>",
		Short:   "Recall, reflect and extract an insight without replying",
		Example: "  nim-memory reflect \"my modem lost its connection\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			result, err := stack.NewAgent().Reflect(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recalled %d memories\n", len(result.Recalled))
			if result.Reflection != "" {
				fmt.Fprintf(out, "\nReflection:\n%s\n", result.Reflection)
			}
			if result.Insight != "" {
				fmt.Fprintf(out, "\nInsight:\n%s\n", result.Insight)
			}
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the configured backends and memory count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			n, err := stack.Store.Count(ctx)
			if err != nil {
				return err
			}
			c := stack.Config
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "store:      %s\n", c.Store)
			fmt.Fprintf(out, "embeddings: %s\n", c.EmbedProvider)
			fmt.Fprintf(out, "llm:        %s\n", c.LLMProvider)
			fmt.Fprintf(out, "memories:   %d\n", n)
			return nil
		},
	}
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 80 {
		return string(r[:80]) + "..."
	}
	return s
}
