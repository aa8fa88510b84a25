package bridge

import (
	"errors"

	"github.com/dop251/goja"
	"github.com/joeycumines/guestjs/internal/host"
	"github.com/joeycumines/guestjs/internal/typescript"
	"go.uber.org/zap"
)

// run evaluates source as the script name on the scope's worker and returns
// its completion value. Each name is used once; the body is wrapped in a
// block so lexical declarations of one evaluation never collide with those of
// an earlier evaluation of the same file.
//
// Only a run made directly by its entry is top level. A nested run happens
// while the outer script is suspended, before it had a chance to handle its
// own rejections, so it leaves the accounting to the outer run.
func (b *Bridge) run(s *Scope, name, source string, typed bool) (host.Value, error) {
	w := s.worker
	topLevel := s.depth == 0
	var mark uint64
	if topLevel {
		prev := b.setTopLevel(true)
		defer b.setTopLevel(prev)
		mark = w.rejectMark()
	}

	code := source
	if typed {
		out, err := w.ts.Transform(name, source)
		if err != nil {
			ce := &CompileError{Name: name, Err: err}
			var te *typescript.Error
			if errors.As(err, &te) {
				ce.Diagnostics = te.Diagnostics
			}
			return nil, ce
		}
		code = out
	}

	prg, err := goja.Compile(name, "{"+code+"\n}", false)
	if err != nil {
		return nil, classifyGoja(name, err)
	}

	w.logger.Debug("running script", zap.String("name", name), zap.Bool("typed", typed))
	v, err := w.vm.RunProgram(prg)
	var rejection error
	if topLevel {
		// microtasks have drained by now, so whatever is still rejected is
		// unhandled
		rejection = w.takeRejections(mark)
	}
	if err != nil {
		return nil, b.recoverFrom(w, classifyGoja(name, err), false)
	}
	if rejection != nil {
		return nil, b.recoverFrom(w, rejection, true)
	}

	out, err := w.toHost(v)
	if err != nil {
		return nil, err
	}
	b.armTick()
	return out, nil
}
