package specialerror

import (
	"sync"

	"PPresence/tools/errs"

	"github.com/pkg/errors"
)

var (
	mu       sync.RWMutex
	handlers []func(err error) (errs.CodeError, bool)
)

// AddErrHandler registers a mapping from a foreign error onto a CodeError.
func AddErrHandler(h func(err error) (errs.CodeError, bool)) error {
	if h == nil {
		return errors.New("nil handler")
	}
	mu.Lock()
	defer mu.Unlock()
	handlers = append(handlers, h)
	return nil
}

// AddSentinel maps every error matching target (errors.Is) onto code.
func AddSentinel(target error, code errs.CodeError) error {
	if target == nil {
		return errors.New("nil sentinel")
	}
	return AddErrHandler(func(err error) (errs.CodeError, bool) {
		if errors.Is(err, target) {
			return code, true
		}
		return errs.CodeError{}, false
	})
}

// Resolve returns the CodeError carried by err, else the first registered
// mapping that matches.
func Resolve(err error) (*errs.CodeError, bool) {
	if err == nil {
		return nil, false
	}
	if ce, ok := errs.As(err); ok {
		return ce, true
	}
	mu.RLock()
	defer mu.RUnlock()
	for _, h := range handlers {
		if ce, ok := h(err); ok {
			return &ce, true
		}
	}
	return nil, false
}

func reset() {
	mu.Lock()
	handlers = nil
	mu.Unlock()
}
