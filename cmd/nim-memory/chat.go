package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/becomeliminal/nim-memory/engine"
)

const appName = "nim"

// interactiveChat runs one session until exit, EOF or interrupt. The session
// is closed on the way out; its memories stay in the store.
func interactiveChat(ctx context.Context, agent *engine.Agent, title string, out io.Writer) error {
	session, err := agent.StartConversation(ctx, title)
	if err != nil {
		return err
	}
	defer func() {
		if err := agent.Close(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(out, "Error closing session: %v\n", err)
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".nim_memory_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          out,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(out, "%s Session %s (type exit to quit)\n\n", appName, session.ID)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		resp, err := agent.Chat(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		for _, insight := range resp.Insights {
			fmt.Fprintf(out, "  (insight: %s)\n", oneLine(insight))
		}
		fmt.Fprintf(out, "\n%s %s\n\n", appName, resp.Content)
	}
}
