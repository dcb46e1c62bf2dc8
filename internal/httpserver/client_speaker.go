package httpserver

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

// clientSpeaker delegates synthesis and playback to the connected client. A
// speak frame carries the reply text plus the voice tuning; the client answers
// with speech_started and speech_ended frames, which feed the engine's
// playback lifecycle.
type clientSpeaker struct {
	send   func([]byte) error
	events chan convo.SpeechEvent

	mu     sync.Mutex
	voice  convo.VoiceSettings
	active bool
}

func newClientSpeaker(send func([]byte) error) *clientSpeaker {
	return &clientSpeaker{
		send:   send,
		events: make(chan convo.SpeechEvent, 8),
		voice:  convo.DefaultVoiceSettings(),
	}
}

func (c *clientSpeaker) Events() <-chan convo.SpeechEvent { return c.events }

func (c *clientSpeaker) SetVoice(vs convo.VoiceSettings) {
	c.mu.Lock()
	c.voice = vs
	c.mu.Unlock()
}

func (c *clientSpeaker) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to speak")
	}
	c.mu.Lock()
	v := c.voice
	c.active = true
	c.mu.Unlock()
	return c.send(mustEnvelope("speak", speakPayload{Text: text, Voice: v.Voice, Rate: v.Rate, Pitch: v.Pitch}))
}

func (c *clientSpeaker) Cancel() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}
	_ = c.send(mustEnvelope("cancel_speech", nil))
}

// PlaybackStarted relays the client's acknowledgment that audio is audible.
// Acks with no speak in flight are discarded.
func (c *clientSpeaker) PlaybackStarted() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}
	c.emit(convo.SpeechEvent{Kind: convo.SpeechStarted})
}

// PlaybackEnded relays the client's report that playback stopped. Unknown
// reasons count as completed so a sloppy client cannot wedge the engine.
func (c *clientSpeaker) PlaybackEnded(reason string) {
	c.mu.Lock()
	active := c.active
	c.active = false
	c.mu.Unlock()
	if !active {
		return
	}
	r := convo.SpeechEndReason(reason)
	switch r {
	case convo.SpeechCompleted, convo.SpeechCancelled, convo.SpeechFailed:
	default:
		r = convo.SpeechCompleted
	}
	c.emit(convo.SpeechEvent{Kind: convo.SpeechEnded, Reason: r})
}

func (c *clientSpeaker) emit(ev convo.SpeechEvent) {
	select {
	case c.events <- ev:
	default:
		log.Printf("client speaker event dropped: %v", ev.Kind)
	}
}
