// Package agent contains the conversation engine: the utterance finalizer and
// the orchestrator that drives capture, reply generation, persistence and
// speech playback around a single visible activity state.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

// DefaultContextWindow caps how many recent messages are sent to the
// generator per reply.
const DefaultContextWindow = 10

// DefaultSummarizeAfter is the transcript length past which the session
// summary is refreshed.
const DefaultSummarizeAfter = 20

// ErrNotStarted is returned by operations invoked before Start.
var ErrNotStarted = errors.New("orchestrator not started")

// EventType tags notifications delivered to observers.
type EventType string

const (
	EventState        EventType = "state"
	EventPartial      EventType = "partial"
	EventMessage      EventType = "message"
	EventError        EventType = "error"
	EventErrorCleared EventType = "error_cleared"
)

// Event is one observer notification. The payload field matching Type is set;
// the rest are zero.
type Event struct {
	Type    EventType
	State   convo.ActivityState
	Text    string
	Message *convo.Message
	Err     *convo.Error
}

// Config wires an orchestrator's collaborators. Store, Generator and Speaker
// are required; the rest are optional.
type Config struct {
	Store      convo.Store
	Generator  convo.Generator
	Speaker    convo.Speaker
	Capture    convo.CaptureSource
	Continuity convo.Continuity
	Summarizer convo.Summarizer

	// DeviceID is the caller-retained continuity token. When set together
	// with Continuity, the previous session for this device is resumed.
	DeviceID string
	// LoadHistory eagerly loads the session's persisted messages into the
	// in-memory transcript during Start.
	LoadHistory bool

	ContextWindow  int
	SummarizeAfter int
	FinalizeDelay  time.Duration
	SafetyDelay    time.Duration
}

// Orchestrator is the conversation state machine. It owns the activity state
// and the in-memory transcript; collaborators never mutate either directly.
// At most one utterance pipeline is in flight at a time, and every state
// transition happens under one mutex so callbacks are logically atomic.
type Orchestrator struct {
	store      convo.Store
	gen        convo.Generator
	speaker    convo.Speaker
	capture    convo.CaptureSource
	continuity convo.Continuity
	summarizer convo.Summarizer
	finalizer  *Finalizer

	contextWindow  int
	summarizeAfter int
	deviceID       string
	loadHistory    bool

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	started          bool
	sessionID        string
	listening        bool
	processing       bool
	speaking         bool
	lastErr          *convo.Error
	transcript       []convo.Message
	lastSummaryCount int
	voice            convo.VoiceSettings

	events chan Event
}

// New constructs an Orchestrator from cfg. Call Start before use.
func New(cfg Config) *Orchestrator {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.SummarizeAfter <= 0 {
		cfg.SummarizeAfter = DefaultSummarizeAfter
	}
	o := &Orchestrator{
		store:          cfg.Store,
		gen:            cfg.Generator,
		speaker:        cfg.Speaker,
		capture:        cfg.Capture,
		continuity:     cfg.Continuity,
		summarizer:     cfg.Summarizer,
		contextWindow:  cfg.ContextWindow,
		summarizeAfter: cfg.SummarizeAfter,
		deviceID:       cfg.DeviceID,
		loadHistory:    cfg.LoadHistory,
		voice:          convo.DefaultVoiceSettings(),
		events:         make(chan Event, 64),
	}
	o.finalizer = NewFinalizer(cfg.FinalizeDelay, cfg.SafetyDelay, o.onUtterance)
	return o
}

// Start resolves the session, optionally loads its history, and begins
// consuming speaker and capture events. It is safe to call once.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.started = true
	o.mu.Unlock()

	sessionID := o.resolveSession(o.ctx)
	o.mu.Lock()
	o.sessionID = sessionID
	o.mu.Unlock()

	if o.loadHistory {
		msgs, err := o.store.ListMessages(o.ctx, sessionID)
		if err != nil {
			o.setError(convo.NewError(convo.KindStorageError, err))
		} else {
			o.mu.Lock()
			o.transcript = msgs
			o.mu.Unlock()
		}
	}

	go o.consumeSpeech()
	if o.capture != nil {
		go o.consumeCapture()
	}
	return nil
}

// Close stops capture, cancels any pending finalization and in-progress
// speech, and releases the event loops.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	started := o.started
	o.listening = false
	o.mu.Unlock()
	if !started {
		return
	}
	o.finalizer.Cancel()
	if o.capture != nil {
		o.capture.Stop()
	}
	o.speaker.Cancel()
	if o.cancel != nil {
		o.cancel()
	}
}

// resolveSession reuses the device's previous session when a continuity store
// knows one, otherwise mints a fresh identifier. Continuity failures are not
// fatal; the conversation proceeds under a new session.
func (o *Orchestrator) resolveSession(ctx context.Context) string {
	if o.continuity == nil || o.deviceID == "" {
		return uuid.NewString()
	}
	id, err := o.continuity.LoadSessionID(ctx, o.deviceID)
	if err != nil {
		log.Printf("continuity load failed: %v", err)
	}
	if id != "" {
		return id
	}
	id = uuid.NewString()
	if err := o.continuity.SaveSessionID(ctx, o.deviceID, id); err != nil {
		log.Printf("continuity save failed: %v", err)
	}
	return id
}

// Events exposes observer notifications. The channel is never closed; slow
// consumers miss events rather than stall the engine.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// SessionID returns the active session identifier.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// State derives the visible activity state from the current flags. Speaking
// wins over thinking, thinking over listening.
func (o *Orchestrator) State() convo.ActivityState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

func (o *Orchestrator) stateLocked() convo.ActivityState {
	switch {
	case o.speaking:
		return convo.StateSpeaking
	case o.processing:
		return convo.StateThinking
	case o.listening:
		return convo.StateListening
	default:
		return convo.StateIdle
	}
}

// CurrentError returns the last surfaced error, or nil after ClearError.
func (o *Orchestrator) CurrentError() *convo.Error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Transcript returns a copy of the in-memory transcript.
func (o *Orchestrator) Transcript() []convo.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]convo.Message, len(o.transcript))
	copy(out, o.transcript)
	return out
}

// VoiceSettings returns the current speech tuning snapshot.
func (o *Orchestrator) VoiceSettings() convo.VoiceSettings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.voice
}

// SetVoiceSettings clamps and applies a new speech tuning snapshot. The
// speaker receives it immediately when it supports per-session voices.
func (o *Orchestrator) SetVoiceSettings(vs convo.VoiceSettings) {
	vs = convo.NewVoiceSettings(vs.Voice, vs.Rate, vs.Pitch)
	o.mu.Lock()
	o.voice = vs
	o.mu.Unlock()
	if vc, ok := o.speaker.(convo.VoiceConfigurable); ok {
		vc.SetVoice(vs)
	}
}

// StartListening activates speech capture. It fails when no capture source is
// available and is a no-op when already listening.
func (o *Orchestrator) StartListening() error {
	if o.capture == nil || !o.capture.Supported() {
		cerr := convo.NewError(convo.KindCaptureUnsupported, errors.New("no capture source available"))
		o.setError(cerr)
		return cerr
	}
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrNotStarted
	}
	if o.listening {
		o.mu.Unlock()
		return nil
	}
	o.listening = true
	o.mu.Unlock()
	if err := o.capture.Start(); err != nil {
		o.mu.Lock()
		o.listening = false
		o.mu.Unlock()
		cerr := convo.NewError(convo.KindCaptureError, err)
		o.setError(cerr)
		o.emitState()
		return cerr
	}
	o.emitState()
	return nil
}

// StopListening deactivates capture. While thinking or speaking only the mic
// flag changes; the visible state keeps its precedence.
func (o *Orchestrator) StopListening() {
	o.mu.Lock()
	was := o.listening
	o.listening = false
	o.mu.Unlock()
	if was && o.capture != nil {
		o.capture.Stop()
	}
	o.emitState()
}

// StopSpeaking requests immediate cancellation of in-progress playback. The
// speaker's ended event performs the state transition.
func (o *Orchestrator) StopSpeaking() {
	o.mu.Lock()
	speaking := o.speaking
	o.mu.Unlock()
	if !speaking {
		return
	}
	o.speaker.Cancel()
}

// ClearError acknowledges the current error without affecting activity state.
func (o *Orchestrator) ClearError() {
	o.mu.Lock()
	o.lastErr = nil
	o.mu.Unlock()
	o.emit(Event{Type: EventErrorCleared})
}

// onUtterance receives finalized utterances from the Finalizer.
func (o *Orchestrator) onUtterance(text string) {
	if err := o.SubmitUtterance(text); err != nil {
		log.Printf("utterance dropped: %v", err)
	}
}

// SubmitUtterance runs the reply pipeline for one utterance: persist the user
// message, generate a reply in context, persist it, then speak it. The call
// returns once the utterance is accepted; pipeline failures surface through
// CurrentError and events. Submissions while a prior utterance is anywhere in
// its pipeline, speech included, are rejected with ErrBusy and have no other
// effect.
func (o *Orchestrator) SubmitUtterance(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return convo.ErrEmptyUtterance
	}
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrNotStarted
	}
	if o.processing || o.speaking {
		o.mu.Unlock()
		return convo.ErrBusy
	}
	o.processing = true
	o.listening = false
	sessionID := o.sessionID
	o.mu.Unlock()

	o.finalizer.Cancel()
	if o.capture != nil {
		o.capture.Stop()
	}
	o.emitState()

	go o.runPipeline(sessionID, text)
	return nil
}

func (o *Orchestrator) runPipeline(sessionID, text string) {
	ctx := o.ctx

	userMsg, err := o.store.AppendMessage(ctx, convo.Message{
		SessionID: sessionID,
		Role:      convo.RoleUser,
		Content:   text,
	})
	if err != nil {
		o.abortPipeline(convo.NewError(convo.KindStorageError, err))
		return
	}

	summary := ""
	if s, err := o.store.GetSummary(ctx, sessionID); err != nil {
		log.Printf("summary fetch failed: %v", err)
	} else if s != nil {
		summary = s.Summary
	}

	reply, err := o.gen.Generate(ctx, o.contextFor(userMsg), summary)
	if err != nil {
		o.abortPipeline(convo.NewError(convo.KindGenerationError, err))
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		o.abortPipeline(convo.NewError(convo.KindGenerationError, errors.New("generator returned empty reply")))
		return
	}

	assistantMsg, err := o.store.AppendMessage(ctx, convo.Message{
		SessionID: sessionID,
		Role:      convo.RoleAssistant,
		Content:   reply,
	})
	if err != nil {
		o.abortPipeline(convo.NewError(convo.KindStorageError, err))
		return
	}

	o.mu.Lock()
	o.transcript = append(o.transcript, userMsg, assistantMsg)
	count := len(o.transcript)
	o.mu.Unlock()
	o.emit(Event{Type: EventMessage, Message: &userMsg})
	o.emit(Event{Type: EventMessage, Message: &assistantMsg})

	// The thinking flag stays up until the speaker reports playback start, so
	// no second utterance can slip in between persistence and speech.
	if err := o.speaker.Speak(ctx, reply); err != nil {
		o.abortPipeline(convo.NewError(convo.KindSynthesisError, err))
	}

	o.maybeSummarize(sessionID, count)
}

// contextFor windows the transcript plus the just-stored user message down to
// the most recent messages, oldest first.
func (o *Orchestrator) contextFor(latest convo.Message) []convo.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	all := make([]convo.Message, 0, len(o.transcript)+1)
	all = append(all, o.transcript...)
	all = append(all, latest)
	if len(all) > o.contextWindow {
		all = all[len(all)-o.contextWindow:]
	}
	return all
}

// abortPipeline surfaces the failure and lands on a stable state, never stuck
// in thinking or speaking.
func (o *Orchestrator) abortPipeline(cerr *convo.Error) {
	o.mu.Lock()
	o.processing = false
	o.speaking = false
	o.mu.Unlock()
	o.setError(cerr)
	o.emitState()
}

// maybeSummarize refreshes the session summary once the transcript grows past
// the threshold, at most once per transcript length. The refresh runs detached
// from the pipeline; its failure never affects conversation state.
func (o *Orchestrator) maybeSummarize(sessionID string, count int) {
	o.mu.Lock()
	trigger := count > o.summarizeAfter && count != o.lastSummaryCount
	if trigger {
		o.lastSummaryCount = count
	}
	o.mu.Unlock()
	if !trigger {
		return
	}
	go o.refreshSummary(sessionID, count)
}

func (o *Orchestrator) refreshSummary(sessionID string, count int) {
	text := ""
	if o.summarizer != nil {
		o.mu.Lock()
		n := len(o.transcript) - o.contextWindow
		if n < 0 {
			n = 0
		}
		older := make([]convo.Message, n)
		copy(older, o.transcript[:n])
		o.mu.Unlock()
		if len(older) > 0 {
			s, err := o.summarizer.Summarize(o.ctx, older)
			if err != nil {
				log.Printf("summarize failed, using fallback text: %v", err)
			} else {
				text = strings.TrimSpace(s)
			}
		}
	}
	if text == "" {
		text = stubSummary(count)
	}
	err := o.store.PutSummary(o.ctx, convo.Summary{
		SessionID:    sessionID,
		Summary:      text,
		MessageCount: count,
		UpdatedAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Printf("summary update failed: %v", err)
	}
}

// consumeSpeech applies the speaker's playback lifecycle to the state machine.
func (o *Orchestrator) consumeSpeech() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case ev, ok := <-o.speaker.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case convo.SpeechStarted:
				o.mu.Lock()
				o.speaking = true
				o.processing = false
				o.mu.Unlock()
				o.emitState()
			case convo.SpeechEnded:
				o.mu.Lock()
				o.speaking = false
				o.processing = false
				resume := o.listening
				o.mu.Unlock()
				if ev.Reason == convo.SpeechFailed {
					o.setError(convo.NewError(convo.KindSynthesisError, errors.New("speech playback failed")))
				}
				if resume && o.capture != nil {
					if err := o.capture.Start(); err != nil {
						o.handleCaptureFailure(err)
						continue
					}
				}
				o.emitState()
			}
		}
	}
}

// consumeCapture forwards live transcripts into the finalizer while the mic
// flag is up and surfaces capture failures.
func (o *Orchestrator) consumeCapture() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case ev, ok := <-o.capture.Transcripts():
			if !ok {
				return
			}
			o.mu.Lock()
			active := o.listening
			o.mu.Unlock()
			if !active || ev.Text == "" {
				continue
			}
			o.emit(Event{Type: EventPartial, Text: ev.Text})
			o.finalizer.OnTranscript(ev.Text, ev.Final)
		case err, ok := <-o.capture.Errors():
			if !ok {
				return
			}
			o.handleCaptureFailure(err)
		}
	}
}

func (o *Orchestrator) handleCaptureFailure(err error) {
	o.mu.Lock()
	was := o.listening
	o.listening = false
	o.mu.Unlock()
	if was && o.capture != nil {
		o.capture.Stop()
	}
	o.setError(convo.NewError(convo.KindCaptureError, err))
	o.emitState()
}

func (o *Orchestrator) setError(cerr *convo.Error) {
	o.mu.Lock()
	o.lastErr = cerr
	o.mu.Unlock()
	log.Printf("conversation error: %v", cerr)
	o.emit(Event{Type: EventError, Err: cerr})
}

func (o *Orchestrator) emitState() {
	o.mu.Lock()
	st := o.stateLocked()
	o.mu.Unlock()
	o.emit(Event{Type: EventState, State: st})
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
	}
}

// stubSummary is the placeholder written when no summarizer is configured or
// summarization fails; the trigger bookkeeping must not depend on generation
// health.
func stubSummary(count int) string {
	return fmt.Sprintf("Conversation with %d messages. Recent topics discussed.", count)
}
