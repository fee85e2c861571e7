package routing

import (
	"context"
	"sync"

	"github.com/FooledKiwi/taproute/internal/locale"
)

// LocaleConfigurer is implemented by engines that hold the narration locale
// as shared state instead of reading it from each request.
type LocaleConfigurer interface {
	ConfigureLocale(l locale.Locale)
}

// AmbientEngine is an engine with the ambient locale contract.
type AmbientEngine interface {
	Engine
	LocaleConfigurer
}

// AmbientLocaleEngine adapts an AmbientEngine to the per-request Locale.
// Configure-then-route runs under one mutex so a request is always computed
// with its own locale; the price is that requests are serialised.
type AmbientLocaleEngine struct {
	mu    sync.Mutex
	inner AmbientEngine
}

// NewAmbientLocaleEngine wraps inner.
func NewAmbientLocaleEngine(inner AmbientEngine) *AmbientLocaleEngine {
	return &AmbientLocaleEngine{inner: inner}
}

// Route satisfies Engine.
func (a *AmbientLocaleEngine) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inner.ConfigureLocale(req.Locale)
	return a.inner.Route(ctx, req)
}
