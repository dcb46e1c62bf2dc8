package agent

import (
	"strings"
	"sync"
	"time"
)

// DefaultFinalizeDelay is the debounce window after a final transcript event.
// Keep conservative to avoid cutting the user mid-sentence.
const DefaultFinalizeDelay = 1 * time.Second

// DefaultSafetyDelay finalizes from interim-only streams after a longer pause,
// guarding against recognizers that never flag a final result for a genuine
// stop in speech.
const DefaultSafetyDelay = 2 * time.Second

// Finalizer turns a stream of transcript events into discrete utterances. It
// keeps at most one pending timer; every event replaces the buffered text and
// restarts the timer for its class. The onReady callback receives trimmed,
// non-empty text exactly once per utterance. Overlap with an in-flight
// utterance is not the Finalizer's concern; the orchestrator rejects those.
type Finalizer struct {
	finalizeDelay time.Duration
	safetyDelay   time.Duration
	onReady       func(text string)

	mu      sync.Mutex
	pending string
	// resettable single-slot timer; starting a new window always cancels the prior one
	timer *time.Timer
}

// NewFinalizer constructs a Finalizer. Non-positive delays fall back to the
// defaults.
func NewFinalizer(finalizeDelay, safetyDelay time.Duration, onReady func(string)) *Finalizer {
	if finalizeDelay <= 0 {
		finalizeDelay = DefaultFinalizeDelay
	}
	if safetyDelay <= 0 {
		safetyDelay = DefaultSafetyDelay
	}
	return &Finalizer{finalizeDelay: finalizeDelay, safetyDelay: safetyDelay, onReady: onReady}
}

// OnTranscript feeds one capture event. The text supersedes anything buffered
// for the current utterance. Final events with non-empty text restart the
// short finalize window; everything else restarts the longer safety window
// that fires with the last seen text.
func (f *Finalizer) OnTranscript(text string, final bool) {
	f.mu.Lock()
	f.pending = text
	delay := f.safetyDelay
	if final && strings.TrimSpace(text) != "" {
		delay = f.finalizeDelay
	}
	if f.timer == nil {
		f.timer = time.AfterFunc(delay, f.fire)
	} else {
		_ = f.timer.Stop()
		f.timer.Reset(delay)
	}
	f.mu.Unlock()
}

// Cancel drops any buffered text and stops the pending window.
func (f *Finalizer) Cancel() {
	f.mu.Lock()
	f.pending = ""
	if f.timer != nil {
		_ = f.timer.Stop()
	}
	f.mu.Unlock()
}

func (f *Finalizer) fire() {
	f.mu.Lock()
	text := strings.TrimSpace(f.pending)
	f.pending = ""
	f.mu.Unlock()
	if text == "" {
		return
	}
	f.onReady(text)
}
