package database

import (
	"github.com/koustreak/connhub/internal/errs"
)

// Adapters maps each engine to the adapter that serves it. It is built once
// at startup and only read afterwards.
type Adapters struct {
	byEngine map[Engine]Adapter
}

// NewAdapters indexes the given adapters by engine. A later adapter for the
// same engine replaces an earlier one.
func NewAdapters(list ...Adapter) *Adapters {
	a := &Adapters{byEngine: make(map[Engine]Adapter, len(list))}
	for _, ad := range list {
		a.byEngine[ad.Engine()] = ad
	}
	return a
}

// Lookup returns the adapter for engine, or a ConnectionFailed error with
// reason unsupported_engine.
func (a *Adapters) Lookup(engine Engine) (Adapter, error) {
	if ad, ok := a.byEngine[engine]; ok {
		return ad, nil
	}
	return nil, errs.Newf(errs.ErrKindConnectionFailed, "no adapter registered for engine %q", engine).
		WithReason(errs.ReasonUnsupportedEngine)
}

// Engines lists the engines with a registered adapter, in canonical order.
func (a *Adapters) Engines() []Engine {
	out := make([]Engine, 0, len(a.byEngine))
	for _, e := range Engines {
		if _, ok := a.byEngine[e]; ok {
			out = append(out, e)
		}
	}
	return out
}
