package tracker

import (
	"fmt"

	"github.com/ksred/intent-settlement/internal/types"
	"github.com/rs/zerolog/log"
)

// RegisterFillHandler registers a named observer for successful fill events.
// Registering under an existing name replaces the previous handler.
func (t *Tracker) RegisterFillHandler(name string, h FillHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.fillHandlers[name] = h
}

// UnregisterFillHandler removes the named fill observer.
func (t *Tracker) UnregisterFillHandler(name string) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	delete(t.fillHandlers, name)
}

// RegisterFailureHandler registers a named observer for failed fill attempts.
func (t *Tracker) RegisterFailureHandler(name string, h FailureHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.failureHandlers[name] = h
}

// UnregisterFailureHandler removes the named failure observer.
func (t *Tracker) UnregisterFailureHandler(name string) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	delete(t.failureHandlers, name)
}

// RegisterCompetitionHandler registers a named observer for finalized
// competitions.
func (t *Tracker) RegisterCompetitionHandler(name string, h CompetitionHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.competitionHandlers[name] = h
}

// UnregisterCompetitionHandler removes the named competition observer.
func (t *Tracker) UnregisterCompetitionHandler(name string) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	delete(t.competitionHandlers, name)
}

func (t *Tracker) notifyFillHandlers(ev types.FillEventData) {
	t.handlerMu.RLock()
	handlers := make(map[string]FillHandler, len(t.fillHandlers))
	for name, h := range t.fillHandlers {
		handlers[name] = h
	}
	t.handlerMu.RUnlock()

	for name, h := range handlers {
		safeInvoke(name, "fill", func() error { return h(ev) })
	}
}

func (t *Tracker) notifyFailureHandlers(ev types.FillFailureData) {
	t.handlerMu.RLock()
	handlers := make(map[string]FailureHandler, len(t.failureHandlers))
	for name, h := range t.failureHandlers {
		handlers[name] = h
	}
	t.handlerMu.RUnlock()

	for name, h := range handlers {
		safeInvoke(name, "failure", func() error { return h(ev) })
	}
}

func (t *Tracker) notifyCompetitionHandlers(comp *Competition) {
	t.handlerMu.RLock()
	handlers := make(map[string]CompetitionHandler, len(t.competitionHandlers))
	for name, h := range t.competitionHandlers {
		handlers[name] = h
	}
	t.handlerMu.RUnlock()

	for name, h := range handlers {
		// each handler gets its own snapshot so one observer cannot
		// mutate what another one sees
		snap := comp.snapshot()
		safeInvoke(name, "competition", func() error { return h(snap) })
	}
}

// safeInvoke isolates a single observer: an error or panic in one handler is
// logged and must not prevent other handlers or the tracker's bookkeeping
// from proceeding.
func safeInvoke(name, kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "fill_tracker").
				Str("handler", name).
				Str("handler_kind", kind).
				Str("panic", fmt.Sprint(r)).
				Msg("handler panicked")
		}
	}()

	if err := fn(); err != nil {
		log.Error().
			Err(err).
			Str("component", "fill_tracker").
			Str("handler", name).
			Str("handler_kind", kind).
			Msg("handler returned error")
	}
}
