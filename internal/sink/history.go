package sink

import (
	"context"

	"github.com/FooledKiwi/taproute/internal/routing"
)

// HistoryRecorder persists computed routes.
type HistoryRecorder interface {
	InsertRoute(ctx context.Context, sessionID string, res *routing.RouteResult) error
}

// HistorySink records every result for one session.
type HistorySink struct {
	repo      HistoryRecorder
	sessionID string
}

// NewHistorySink returns a sink writing to repo under sessionID.
func NewHistorySink(repo HistoryRecorder, sessionID string) *HistorySink {
	return &HistorySink{repo: repo, sessionID: sessionID}
}

// Display satisfies RouteResultSink.
func (s *HistorySink) Display(ctx context.Context, res *routing.RouteResult) error {
	if err := Validate(res); err != nil {
		return err
	}
	if err := s.repo.InsertRoute(ctx, s.sessionID, res); err != nil {
		return &DisplayError{Reason: "record history", Err: err}
	}
	return nil
}
