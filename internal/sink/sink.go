// Package sink delivers completed route results to their consumers.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// RouteResultSink receives each successful route result. A returned error
// means the result could not be shown; it never affects the stored result.
type RouteResultSink interface {
	Display(ctx context.Context, res *routing.RouteResult) error
}

// Func adapts a function to RouteResultSink.
type Func func(ctx context.Context, res *routing.RouteResult) error

// Display calls f.
func (f Func) Display(ctx context.Context, res *routing.RouteResult) error { return f(ctx, res) }

// DisplayError reports a result that is malformed or could not be rendered.
type DisplayError struct {
	Reason string
	Err    error
}

func (e *DisplayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("display route: %s: %v", e.Reason, e.Err)
	}
	return "display route: " + e.Reason
}

func (e *DisplayError) Unwrap() error { return e.Err }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects results a sink cannot render.
func Validate(res *routing.RouteResult) error {
	if res == nil {
		return &DisplayError{Reason: "nil result"}
	}
	if err := validate.Struct(res); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" "+fe.Tag())
			}
			return &DisplayError{Reason: "invalid " + strings.Join(fields, ", "), Err: err}
		}
		return &DisplayError{Reason: "invalid result", Err: err}
	}
	return nil
}

// LogSink writes a one-line summary of every result.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Display satisfies RouteResultSink.
func (s *LogSink) Display(_ context.Context, res *routing.RouteResult) error {
	if err := Validate(res); err != nil {
		return err
	}
	s.logger.Info("route ready",
		zap.String("engine", res.Engine),
		zap.String("costing", res.Costing.String()),
		zap.String("language", res.Language.String()),
		zap.Float64("length", res.Length),
		zap.String("units", res.Units),
		zap.Int("time_s", res.TimeS),
		zap.Int("legs", len(res.Legs)),
		zap.Bool("fallback", res.IsFallback),
	)
	return nil
}

// Multi fans a result out to every sink concurrently. All sinks run even
// when some fail; their errors are joined.
type Multi []RouteResultSink

// Display satisfies RouteResultSink.
func (m Multi) Display(ctx context.Context, res *routing.RouteResult) error {
	errs := make([]error, len(m))
	var wg sync.WaitGroup
	for i, s := range m {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Display(ctx, res)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
