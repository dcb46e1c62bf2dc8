package convo

import "context"

// CaptureSource produces live transcript events from user speech. Start and
// Stop may be called repeatedly; the Transcripts and Errors channels stay open
// for the life of the source so consumers can span capture cycles.
type CaptureSource interface {
	Supported() bool
	Start() error
	Stop()
	Transcripts() <-chan TranscriptEvent
	Errors() <-chan error
}

// Generator produces one assistant reply for the given context. History is
// ordered oldest first and already windowed by the caller. Implementations
// serialize concurrent calls internally so callers observe queue semantics.
type Generator interface {
	Generate(ctx context.Context, history []Message, summary string) (string, error)
}

// Summarizer compacts a window of messages into a short summary text.
type Summarizer interface {
	Summarize(ctx context.Context, history []Message) (string, error)
}

// Speaker converts reply text into audible speech. Speak returns once
// synthesis is accepted; progress is reported on Events. Cancel requests
// immediate stop and still produces an ended event with a cancelled reason.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Cancel()
	Events() <-chan SpeechEvent
}

// VoiceConfigurable is implemented by speakers that honor per-session voice
// settings. The snapshot applies to subsequent Speak calls.
type VoiceConfigurable interface {
	SetVoice(VoiceSettings)
}

// Store is the persistence gateway for messages, summaries and voice
// preferences. Absent summaries and preferences are reported as nil values,
// not errors.
type Store interface {
	AppendMessage(ctx context.Context, m Message) (Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	GetSummary(ctx context.Context, sessionID string) (*Summary, error)
	PutSummary(ctx context.Context, s Summary) error
	GetVoiceSettings(ctx context.Context, sessionID string) (*VoiceSettings, error)
	PutVoiceSettings(ctx context.Context, sessionID string, vs VoiceSettings) error
}

// Continuity maps a caller-retained device token to its session so a
// conversation survives restarts. An unknown device yields an empty id.
type Continuity interface {
	LoadSessionID(ctx context.Context, deviceID string) (string, error)
	SaveSessionID(ctx context.Context, deviceID, sessionID string) error
}
