package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

// ElevenLabsSpeaker synthesizes replies through the ElevenLabs HTTP streaming
// endpoint. The request is issued synchronously so provider rejections surface
// as Speak errors; audio then streams to the sink in the background.
type ElevenLabsSpeaker struct {
	apiKey     string
	voiceID    string
	httpClient *http.Client
	baseURL    string
	sink       PCMSink

	events chan convo.SpeechEvent

	mu     sync.Mutex
	cancel context.CancelFunc
	voice  convo.VoiceSettings
}

// NewElevenLabsSpeaker builds a speaker writing 48kHz PCM to sink.
func NewElevenLabsSpeaker(apiKey, voiceID string, sink PCMSink) *ElevenLabsSpeaker {
	if sink == nil {
		sink = NopSink{}
	}
	return &ElevenLabsSpeaker{
		apiKey:     apiKey,
		voiceID:    voiceID,
		httpClient: &http.Client{Timeout: 0},
		baseURL:    "https://api.elevenlabs.io",
		sink:       sink,
		events:     make(chan convo.SpeechEvent, 8),
		voice:      convo.DefaultVoiceSettings(),
	}
}

// Events reports playback lifecycle transitions.
func (e *ElevenLabsSpeaker) Events() <-chan convo.SpeechEvent { return e.events }

// SetVoice applies session voice tuning. The voice name overrides the voice
// id; rate maps onto the provider's speed control.
func (e *ElevenLabsSpeaker) SetVoice(vs convo.VoiceSettings) {
	e.mu.Lock()
	e.voice = vs
	e.mu.Unlock()
}

// Cancel interrupts in-progress playback.
func (e *ElevenLabsSpeaker) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Speak requests synthesis for text. Connection and provider errors are
// returned directly; once the stream is open, progress is reported through
// Events.
func (e *ElevenLabsSpeaker) Speak(ctx context.Context, text string) error {
	if e.apiKey == "" || e.voiceID == "" {
		return fmt.Errorf("elevenlabs: api key or voice id missing")
	}
	if text == "" {
		return fmt.Errorf("elevenlabs: empty text")
	}

	e.mu.Lock()
	voiceID := e.voiceID
	if e.voice.Voice != "" {
		voiceID = e.voice.Voice
	}
	speed := e.voice.Rate
	e.mu.Unlock()

	u, err := url.Parse(e.baseURL)
	if err != nil {
		return fmt.Errorf("elevenlabs: bad base url: %w", err)
	}
	u.Path = "/v1/text-to-speech/" + voiceID + "/stream"
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
			"speed":             speed,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{80, 120, 160, 200},
		},
	}
	buf, _ := json.Marshal(body)

	runCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(runCtx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("elevenlabs http stream error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()
		return fmt.Errorf("elevenlabs http status=%d body=%s", resp.StatusCode, string(b))
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.mu.Unlock()

	go e.stream(runCtx, resp.Body)
	return nil
}

func (e *ElevenLabsSpeaker) stream(ctx context.Context, body io.ReadCloser) {
	defer body.Close()

	started := false
	chunk := make([]byte, 4096)
	for {
		n, rerr := body.Read(chunk)
		if n > 0 {
			if !started {
				started = true
				e.emit(convo.SpeechEvent{Kind: convo.SpeechStarted})
			}
			out := make([]byte, n)
			copy(out, chunk[:n])
			if err := e.sink.Write(out); err != nil {
				log.Printf("elevenlabs: sink write: %v", err)
			}
		}
		if rerr != nil {
			switch {
			case rerr == io.EOF:
				e.finish(convo.SpeechCompleted)
			case ctx.Err() != nil:
				e.sink.Reset()
				e.finish(convo.SpeechCancelled)
			default:
				log.Printf("elevenlabs http read error: %v", rerr)
				e.finish(convo.SpeechFailed)
			}
			return
		}
	}
}

func (e *ElevenLabsSpeaker) finish(reason convo.SpeechEndReason) {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()
	e.emit(convo.SpeechEvent{Kind: convo.SpeechEnded, Reason: reason})
}

func (e *ElevenLabsSpeaker) emit(ev convo.SpeechEvent) {
	select {
	case e.events <- ev:
	default:
		log.Printf("elevenlabs: dropping speech event %s", ev.Kind)
	}
}
