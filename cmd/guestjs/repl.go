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
	"github.com/spf13/cobra"
)

const (
	replPrompt     = "> "
	replContPrompt = "... "
)

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive session against one worker",
		Long: `Start an interactive session. Every line is a fresh script on the same
worker, so values stored on globalThis survive between lines, and timers keep
firing while the prompt waits.

Features:
  - Command history (up/down arrows, Ctrl+R search)
  - Multi-line input (end line with \)
  - .cleanup discards the worker, .exit quits`,
		Args: cobra.NoArgs,
		RunE: runRepl,
	}
	cmd.Flags().String("history", "", "History file path (default: [repl] history-file or ~/.guestjs/history)")
	cmd.Flags().Bool("typed", false, "Treat input as TypeScript")
	return cmd
}

func historyPath(cmd *cobra.Command, s *session) string {
	if p, _ := cmd.Flags().GetString("history"); p != "" {
		return p
	}
	if p := s.schema.ResolveCommand(s.cfg, "repl", "history-file"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".guestjs", "history")
}

func runRepl(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	typed, _ := cmd.Flags().GetBool("typed")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() { _ = s.sched.Run(ctx, func() bool { return false }) }()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            replPrompt,
		HistoryFile:       historyPath(cmd, s),
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         ".exit",
		HistorySearchFold: true,
		Stdin:             io.NopCloser(cmd.InOrStdin()),
		Stdout:            s.stdout,
		Stderr:            s.stderr,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	return repl(rl, s, typed)
}

// lineReader is the part of readline the loop uses.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(string)
}

func repl(rl lineReader, s *session, typed bool) error {
	_, _ = fmt.Fprintf(s.stderr, "guestjs %s (.exit or Ctrl+D to quit)\n", version)

	var pending strings.Builder
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				pending.Reset()
				rl.SetPrompt(replPrompt)
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if strings.HasSuffix(line, `\`) {
			pending.WriteString(strings.TrimSuffix(line, `\`))
			pending.WriteString("\n")
			rl.SetPrompt(replContPrompt)
			continue
		}
		if pending.Len() > 0 {
			pending.WriteString(line)
			line = pending.String()
			pending.Reset()
			rl.SetPrompt(replPrompt)
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case ".exit":
			return nil
		case ".cleanup":
			if _, err := s.bridge.Cleanup(); err != nil {
				return err
			}
			continue
		}

		before := s.failures.Load()
		v, err := s.bridge.Evaluate(line, typed)
		if err != nil {
			return err
		}
		if s.failures.Load() == before {
			printValue(s.stdout, v)
		}
	}
}
