package bridge

import (
	"errors"
	"strings"

	"github.com/fatih/color"
	"github.com/joeycumines/guestjs/internal/host"
	"go.uber.org/zap"
)

// unrecoverable reports whether err leaves the worker unusable: a promise
// rejected with no handler while a top-level evaluation was in flight.
func unrecoverable(err error, topLevel bool) bool {
	var ur *UnhandledRejectionError
	return topLevel && errors.As(err, &ur)
}

// recoverFrom decides the fate of w after err, called on the loop goroutine.
func (b *Bridge) recoverFrom(w *Worker, err error, topLevel bool) error {
	if unrecoverable(err, topLevel) {
		w.logger.Warn("discarding worker after unhandled top-level rejection", zap.Error(err))
		b.discardWorker(w)
	}
	return err
}

// fail routes the failure of a top-level entry to the error handler. Without
// a handler the error is returned to the caller.
func (b *Bridge) fail(err error, handler ErrorHandler) (host.Value, error) {
	b.mu.Lock()
	if handler == nil {
		handler = b.state.options.ErrorHandler
	}
	useColor := b.state.options.UseColor
	insp := b.inspector
	b.mu.Unlock()

	b.logger.Warn("guest evaluation failed", zap.Error(err), zap.String("report", FormatError(err, useColor)))
	if insp != nil {
		insp.ExceptionThrown(FormatError(err, false))
	}
	if handler == nil {
		return nil, err
	}
	handler(err)
	return host.Nil, nil
}

// FormatError renders err for people, optionally with terminal colours.
func FormatError(err error, useColor bool) string {
	label := "error"
	var (
		ce *CompileError
		ge *GuestError
		ur *UnhandledRejectionError
	)
	switch {
	case errors.As(err, &ce):
		label = "compile error"
	case errors.As(err, &ur):
		label = "unhandled rejection"
	case errors.As(err, &ge):
		label = "uncaught " + ge.Name
		if ge.Name == "" {
			label = "uncaught exception"
		}
	}

	head := color.New(color.FgRed, color.Bold)
	body := color.New(color.FgHiBlack)
	if !useColor {
		head.DisableColor()
		body.DisableColor()
	}

	var sb strings.Builder
	sb.WriteString(head.Sprint(label + ":"))
	sb.WriteByte(' ')
	sb.WriteString(err.Error())
	if ce != nil {
		for _, d := range ce.Diagnostics {
			sb.WriteString("\n  ")
			sb.WriteString(body.Sprint(d.String()))
		}
	}
	if ge != nil && ge.Stack != "" && ur == nil {
		sb.WriteByte('\n')
		sb.WriteString(body.Sprint(ge.Stack))
	}
	return sb.String()
}
