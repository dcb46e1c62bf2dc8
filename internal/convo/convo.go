// Package convo defines the conversation domain: messages, summaries, voice
// settings, the visible activity state, and the contracts the orchestration
// engine consumes.
package convo

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable conversation entry. ID and CreatedAt are assigned
// by the persistence gateway when the message is appended.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Summary is the compacted form of a session's older history. At most one
// exists per session; writers overwrite it wholesale.
type Summary struct {
	SessionID    string    `json:"session_id"`
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// VoiceSettings is a snapshot of speech output tuning. Rate and pitch are
// clamped to [0.5, 2.0].
type VoiceSettings struct {
	Voice string  `json:"voice"`
	Rate  float64 `json:"rate"`
	Pitch float64 `json:"pitch"`
}

// NewVoiceSettings builds settings with rate and pitch clamped into range.
func NewVoiceSettings(voice string, rate, pitch float64) VoiceSettings {
	return VoiceSettings{Voice: voice, Rate: clampVoiceParam(rate), Pitch: clampVoiceParam(pitch)}
}

// DefaultVoiceSettings is the neutral voice used before the caller tunes one.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{Rate: 1.0, Pitch: 1.0}
}

func clampVoiceParam(v float64) float64 {
	if v < 0.5 {
		return 0.5
	}
	if v > 2.0 {
		return 2.0
	}
	return v
}

// ActivityState is the single visible phase of the conversation pipeline.
// Exactly one value holds at any instant; it is owned by the orchestrator.
type ActivityState int

const (
	StateIdle ActivityState = iota
	StateListening
	StateThinking
	StateSpeaking
)

func (s ActivityState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "idle"
	}
}

// TranscriptEvent is one report from a capture source. Final marks text the
// recognizer considers a finished fragment rather than a revision in progress.
type TranscriptEvent struct {
	Text  string
	Final bool
}

// SpeechEventKind distinguishes playback lifecycle notifications.
type SpeechEventKind string

const (
	SpeechStarted SpeechEventKind = "started"
	SpeechEnded   SpeechEventKind = "ended"
)

// SpeechEndReason explains why playback stopped.
type SpeechEndReason string

const (
	SpeechCompleted SpeechEndReason = "completed"
	SpeechCancelled SpeechEndReason = "cancelled"
	SpeechFailed    SpeechEndReason = "error"
)

// SpeechEvent reports playback lifecycle from a speech output sink. Every
// accepted Speak call produces at most one started event followed by exactly
// one ended event.
type SpeechEvent struct {
	Kind   SpeechEventKind
	Reason SpeechEndReason // set on ended events only
}
