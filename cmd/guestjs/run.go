package main

import (
	"fmt"
	"io"

	"github.com/joeycumines/guestjs/internal/config"
	"github.com/joeycumines/guestjs/internal/host"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Evaluate a script file",
		Long: `Evaluate a JavaScript or TypeScript file and keep ticking until its
timers and pending I/O are done. Files without a .js, .mjs or .cjs suffix
are treated as TypeScript.

With --watch the file is evaluated again on every change until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: runFile,
	}
	cmd.Flags().Bool("watch", false, "Re-evaluate the file when it changes")
	cmd.Flags().Bool("typed", false, "Treat the file as TypeScript")
	return cmd
}

func runFile(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	typed, _ := cmd.Flags().GetBool("typed")
	watch, err := watchEnabled(cmd, s)
	if err != nil {
		return err
	}

	if _, err := s.bridge.EvaluateFile(args[0], typed); err != nil {
		return err
	}

	if !watch {
		return s.settle(cmd.Context())
	}

	wt, err := s.bridge.WatchFile(args[0], typed)
	if err != nil {
		return err
	}
	defer wt.Close()
	s.logger.Info("watching", zap.String("file", args[0]))
	_ = s.sched.Run(cmd.Context(), func() bool { return false })
	return nil
}

func watchEnabled(cmd *cobra.Command, s *session) (bool, error) {
	if cmd.Flags().Changed("watch") {
		return cmd.Flags().GetBool("watch")
	}
	v, err := config.ParseBool(s.schema.ResolveCommand(s.cfg, "run", "watch"))
	if err != nil {
		return false, fmt.Errorf("option %q in [run]: %w", "watch", err)
	}
	return v, nil
}

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <source>",
		Short: "Evaluate source and print its completion value",
		Long: `Evaluate source as an anonymous script, print the host form of its
completion value, then keep ticking until pending guest work is done.`,
		Args: cobra.ExactArgs(1),
		RunE: runEval,
	}
	cmd.Flags().Bool("typed", false, "Treat the source as TypeScript")
	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	typed, _ := cmd.Flags().GetBool("typed")
	before := s.failures.Load()
	v, err := s.bridge.Evaluate(args[0], typed)
	if err != nil {
		return err
	}
	if s.failures.Load() == before {
		printValue(s.stdout, v)
	}
	return s.settle(cmd.Context())
}

func printValue(w io.Writer, v host.Value) {
	if v == nil {
		return
	}
	_, _ = fmt.Fprintln(w, host.Format(v))
}
