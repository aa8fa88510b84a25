package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/joeycumines/guestjs/internal/bridge"
	"github.com/joeycumines/guestjs/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// session is one bridge configured from flags, environment and config file.
type session struct {
	cfg    *config.Config
	schema *config.ConfigSchema
	opts   bridge.Options
	logger *zap.Logger
	bridge *bridge.Bridge
	sched  *loopScheduler
	stdout io.Writer
	stderr io.Writer

	failures atomic.Int64
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	for _, name := range optionFlags {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			cfg.SetOverride(name, f.Value.String())
		}
	}
	for flag, key := range map[string]string{"log-level": "log.level", "log-file": "log.file"} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			cfg.SetOverride(key, f.Value.String())
		}
	}

	s := &session{
		cfg:    cfg,
		schema: config.DefaultSchema(),
		sched:  newLoopScheduler(),
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}

	s.logger, err = newLogger(s.schema.Resolve(cfg, "log.level"), s.schema.Resolve(cfg, "log.file"), s.stderr)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings {
		s.logger.Warn("config", zap.String("warning", w))
	}

	s.opts = bridge.DefaultOptions()
	if err := s.schema.Apply(cfg, &s.opts); err != nil {
		_ = s.logger.Sync()
		return nil, err
	}
	s.opts.UseColor = useColor(s.schema.Resolve(cfg, "color"), s.stderr)
	color.NoColor = !s.opts.UseColor
	s.opts.ErrorHandler = s.report

	workers, err := strconv.Atoi(s.schema.Resolve(cfg, "io-workers"))
	if err != nil || workers <= 0 {
		_ = s.logger.Sync()
		return nil, fmt.Errorf("option %q must be a positive integer: %q", "io-workers", s.schema.Resolve(cfg, "io-workers"))
	}

	s.bridge = bridge.New(
		bridge.WithOptions(s.opts),
		bridge.WithExecutorWidth(workers),
		bridge.WithLogger(s.logger),
		bridge.WithScheduler(s.sched),
		bridge.WithConsole(s.stdout, s.stderr),
	)
	if _, err := s.bridge.Initialize(s.opts); err != nil {
		s.close()
		return nil, err
	}
	if insp := s.bridge.Inspector(); insp != nil {
		_, _ = fmt.Fprintf(s.stderr, "Inspector listening on %s\n", insp.URL())
	}
	return s, nil
}

// report prints a guest failure and counts it.
func (s *session) report(err error) {
	s.failures.Add(1)
	_, _ = fmt.Fprintln(s.stderr, bridge.FormatError(err, s.opts.UseColor))
}

// idle is true once no tick is armed.
func (s *session) idle() bool {
	return !s.bridge.Stats().TickScheduled
}

// settle runs ticks until the guest is drained, then reports whether any
// failure was printed.
func (s *session) settle(ctx context.Context) error {
	if err := s.sched.Run(ctx, s.idle); err != nil {
		return err
	}
	if s.failures.Load() > 0 {
		return errGuestFailed
	}
	return nil
}

func (s *session) close() {
	_ = s.bridge.Close()
	s.sched.Stop()
	_ = s.logger.Sync()
}

func newLogger(level, file string, stderr io.Writer) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if file != "" {
		cfg := zap.NewProductionConfig()
		cfg.Level = lvl
		cfg.OutputPaths = []string{file}
		cfg.ErrorOutputPaths = []string{"stderr"}
		return cfg.Build()
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(stderr), lvl)), nil
}

func useColor(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// loopScheduler runs bridge ticks on the goroutine that calls Run, the way
// an editor runs its timers on the main thread.
type loopScheduler struct {
	ch       chan func()
	done     chan struct{}
	stopOnce sync.Once
}

func newLoopScheduler() *loopScheduler {
	return &loopScheduler{ch: make(chan func()), done: make(chan struct{})}
}

func (l *loopScheduler) RunAfter(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		select {
		case l.ch <- fn:
		case <-l.done:
		}
	})
}

// Run executes scheduled callbacks until idle reports true or ctx is done.
func (l *loopScheduler) Run(ctx context.Context, idle func() bool) error {
	for !idle() {
		select {
		case fn := <-l.ch:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		}
	}
	return nil
}

// Stop drops callbacks that have not run yet.
func (l *loopScheduler) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}
