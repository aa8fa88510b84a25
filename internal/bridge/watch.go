package bridge

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce coalesces the burst of events one save produces.
const watchDebounce = 50 * time.Millisecond

// Watcher re-evaluates a file whenever it changes.
type Watcher struct {
	fw        *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	gen       atomic.Uint64
}

// WatchFile starts watching path. Each change evaluates the file again
// through the host scheduler, with failures going to the error handler.
func (b *Bridge) WatchFile(path string, typed bool) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// editors often replace the file, so the directory is watched
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	wt := &Watcher{fw: fw, done: make(chan struct{})}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = fw.Close()
		return nil, ErrClosed
	}
	b.watchers = append(b.watchers, wt)
	b.mu.Unlock()

	go wt.run(b, abs, typed)
	return wt, nil
}

func (wt *Watcher) run(b *Bridge, abs string, typed bool) {
	logger := b.logger.With(zap.String("file", abs))
	for {
		select {
		case <-wt.done:
			return
		case event, ok := <-wt.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			gen := wt.gen.Add(1)
			b.scheduler.RunAfter(watchDebounce, func() {
				if wt.gen.Load() != gen || wt.closed() {
					return
				}
				logger.Info("file changed, evaluating")
				if _, err := b.EvaluateFile(abs, typed); err != nil {
					logger.Warn("watched evaluation failed", zap.Error(err))
				}
			})
		case err, ok := <-wt.fw.Errors:
			if !ok {
				return
			}
			logger.Error("error watching file", zap.Error(err))
		}
	}
}

func (wt *Watcher) closed() bool {
	select {
	case <-wt.done:
		return true
	default:
		return false
	}
}

// Close stops the watcher.
func (wt *Watcher) Close() error {
	var err error
	wt.closeOnce.Do(func() {
		close(wt.done)
		err = wt.fw.Close()
	})
	return err
}
