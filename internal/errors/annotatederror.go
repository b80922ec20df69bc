// Package errors extends the standard library errors with slog annotations and source locations.
//
// Import it in place of the standard library package. Is, As, Unwrap, Join and New are re-exported.
package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
)

//nolint:gochecknoglobals // re-exported from the standard library.
var (
	Is     = stderrors.Is
	As     = stderrors.As
	Unwrap = stderrors.Unwrap
	Join   = stderrors.Join
	New    = stderrors.New
)

// annotatedError carries a message, the location where it was created and slog attributes describing it.
type annotatedError struct {
	cause error
	msg   string
	attrs []slog.Attr
	pc    uintptr
}

func (e *annotatedError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *annotatedError) Unwrap() error {
	return e.cause
}

// NewSentinel creates a comparable error intended to be declared as a package level variable.
//
// Sentinels carry no source location because they are created at init time.
func NewSentinel(msg string) error {
	return stderrors.New(msg)
}

// Wrap annotates err with msg and attrs. The returned error records the caller's source location.
func Wrap(err error, msg string, attrs ...slog.Attr) error {
	return &annotatedError{
		cause: err,
		msg:   msg,
		attrs: attrs,
		pc:    callerPC(3), //nolint:mnd // runtime.Callers, callerPC, Wrap.
	}
}

// DecoratePanic converts a recovered panic value into an error with the location of the panic.
func DecoratePanic(recovered any) error {
	if recovered == nil {
		return nil
	}
	var cause error
	if err, ok := recovered.(error); ok {
		cause = err
	}
	e := &annotatedError{
		cause: cause,
		msg:   "panic",
		attrs: nil,
		pc:    panicPC(),
	}
	if cause == nil {
		e.msg = fmt.Sprintf("panic: %v", recovered)
	}
	return e
}

// SlogError returns an attribute grouping the error message, the innermost source location and all annotations
// found in the error tree.
func SlogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	var (
		attrs       []slog.Attr
		annotations []any
		source      string
	)
	walk(err, func(e *annotatedError) {
		for _, a := range e.attrs {
			annotations = append(annotations, a)
		}
		if e.pc != 0 {
			source = sourceOf(e.pc)
		}
	})
	attrs = append(attrs, slog.String("message", err.Error()))
	if source != "" {
		attrs = append(attrs, slog.String("source", source))
	}
	if len(annotations) > 0 {
		attrs = append(attrs, slog.Group("annotations", annotations...))
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return slog.Group("error", args...)
}

// walk visits the annotated errors in the tree of err from the outermost to the innermost.
func walk(err error, visit func(*annotatedError)) {
	if err == nil {
		return
	}
	if ae, ok := err.(*annotatedError); ok { //nolint:errorlint // we walk the tree ourselves.
		visit(ae)
	}
	switch u := err.(type) { //nolint:errorlint // we walk the tree ourselves.
	case interface{ Unwrap() []error }:
		for _, child := range u.Unwrap() {
			walk(child, visit)
		}
	case interface{ Unwrap() error }:
		walk(u.Unwrap(), visit)
	}
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// panicPC finds the first frame after the runtime's panic machinery.
func panicPC() uintptr {
	var pcs [32]uintptr
	n := runtime.Callers(1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	afterPanic := false
	for {
		frame, more := frames.Next()
		if frame.Function == "runtime.gopanic" {
			afterPanic = true
		} else if afterPanic {
			return frame.PC
		}
		if !more {
			return 0
		}
	}
}

func sourceOf(pc uintptr) string {
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return frame.File + ":" + strconv.Itoa(frame.Line)
}
