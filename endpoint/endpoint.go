// Package endpoint provides a small, type-safe layer for building HTTP
// handlers.
//
// A handler is split into three phases:
//
//  1. Unmarshal: the request (path, query, form, headers, cookies) is decoded
//     into a typed parameters struct using struct tags.
//  2. Func: the business logic receives the decoded parameters and returns a
//     Renderer. It does not write to the response itself.
//  3. Render: the Renderer writes the status code, headers and body.
//
// Processors run before the Func and may short-circuit the request, but they
// never write the response body; that keeps response ownership with exactly
// one Renderer per request.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Error is a client-visible error carrying an HTTP status.
//
// Handlers translate any returned error into a response; errors that are not
// an *Error render as 500.
type Error struct {
	Status int
	// Message is a short description suitable for an HTTP error body.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "endpoint: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Errorf builds an *Error with a formatted message.
//
// If one of args is itself an *Error, it is returned unchanged so that a
// status chosen close to the failure is not overwritten further up the stack.
func Errorf(status int, format string, args ...any) error {
	for _, a := range args {
		if err, ok := a.(error); ok {
			var ee *Error
			if errors.As(err, &ee) {
				return err
			}
		}
	}
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error around err, preserving an existing *Error.
func WrapError(status int, message string, err error) error {
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return &Error{Status: status, Message: message, Err: err}
}

// Renderer writes a response into an http.ResponseWriter.
//
// A Renderer MUST call w.WriteHeader exactly once. Headers such as
// Content-Type must be set before that call.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor is middleware-style logic that runs before the Func.
//
// Processors MUST call next unless they intend to short-circuit, MUST NOT
// call w.WriteHeader and MUST NOT write body bytes. A returned error stops
// the chain.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// Func is the wrapped handler function type.
//
// It receives decoded params and returns the Renderer that owns the
// response. It may write request-scoped state (context values, headers via
// Defer) but not the response body.
type Func[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// Handler is the http.Handler wrapper for a Func.
type Handler[P any] struct {
	Func       Func[P]
	Processors []Processor
}

// New constructs a Handler. It exists to let the params type be inferred.
func New[P any](fn Func[P], processors ...Processor) *Handler[P] {
	return &Handler[P]{Func: fn, Processors: processors}
}

// HandleFunc adapts a Func into an http.HandlerFunc.
func HandleFunc[P any](fn Func[P], processors ...Processor) http.HandlerFunc {
	return New(fn, processors...).ServeHTTP
}

type hooksKey struct{}

// Defer registers fn to run just before response headers are written.
// fn must not call WriteHeader.
//
// Outside a Handler (no hook registry in the context) this is a silent
// no-op; middleware relying on Defer will then never flush its state.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if ok && hooks != nil {
		*hooks = append(*hooks, fn)
	}
}

// Commit runs all deferred hooks in LIFO order and clears them. It is called
// once before headers are written; calling it again is a no-op.
func Commit(ctx context.Context, w http.ResponseWriter) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if ok && hooks != nil {
		for i := len(*hooks) - 1; i >= 0; i-- {
			(*hooks)[i](w)
		}
		*hooks = nil
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Func == nil {
		http.Error(w, "endpoint: nil Func", http.StatusInternalServerError)
		return
	}

	if r.Context().Value(hooksKey{}) == nil {
		var hooks []func(http.ResponseWriter)
		r = r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hooks))
	}

	// Each processor wraps the next; after the last one, decode params and
	// invoke the Func, then the Renderer.
	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < 0 || i > len(h.Processors) {
			return errors.New("endpoint: invalid processor index")
		}
		if i < len(h.Processors) {
			if h.Processors[i] == nil {
				return errors.New("endpoint: nil processor")
			}
			return h.Processors[i].Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}

		var params P
		if err := Unmarshal(r2, &params); err != nil {
			return err
		}
		renderer, err := h.Func(w2, r2, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}
		Commit(r2.Context(), w2)
		return renderer.Render(w2, r2)
	}

	err := run(0, w, r)
	if err != nil {
		status := http.StatusInternalServerError
		message := ""
		var ee *Error
		if errors.As(err, &ee) && ee != nil {
			if ee.Status >= 100 {
				status = ee.Status
			}
			message = ee.Message
			if message == "" {
				message = http.StatusText(status)
			}
		} else {
			message = err.Error()
		}
		Commit(r.Context(), w)
		http.Error(w, message, status)
	}
}
