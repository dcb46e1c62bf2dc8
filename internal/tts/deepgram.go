package tts

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

// DeepgramSpeaker synthesizes replies through the Deepgram speak WebSocket and
// plays them into a PCMSink. The speech started event fires on the first audio
// chunk, not on request submission.
type DeepgramSpeaker struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	sink       PCMSink

	events chan convo.SpeechEvent

	mu     sync.Mutex
	cancel context.CancelFunc
	voice  convo.VoiceSettings
}

// NewDeepgramSpeaker builds a speaker writing 48kHz linear16 audio to sink.
func NewDeepgramSpeaker(apiKey, model string, sink PCMSink) *DeepgramSpeaker {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &DeepgramSpeaker{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 48000,
		encoding:   "linear16",
		sink:       sink,
		events:     make(chan convo.SpeechEvent, 8),
		voice:      convo.DefaultVoiceSettings(),
	}
}

// Events reports playback lifecycle transitions.
func (d *DeepgramSpeaker) Events() <-chan convo.SpeechEvent { return d.events }

// SetVoice applies session voice tuning. The voice name selects the aura
// model; rate and pitch travel with the audio for client-side playback.
func (d *DeepgramSpeaker) SetVoice(vs convo.VoiceSettings) {
	d.mu.Lock()
	d.voice = vs
	d.mu.Unlock()
}

// Cancel interrupts in-progress synthesis. The ended event is emitted by the
// synthesis loop once it winds down.
func (d *DeepgramSpeaker) Cancel() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Speak starts synthesizing text. It returns immediately; progress is
// reported through Events. A missing key or empty text fails synchronously.
func (d *DeepgramSpeaker) Speak(ctx context.Context, text string) error {
	if d.apiKey == "" {
		return fmt.Errorf("deepgram: API key missing")
	}
	if text == "" {
		return fmt.Errorf("deepgram: empty text")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = cancel
	model := d.model
	if d.voice.Voice != "" {
		model = d.voice.Voice
	}
	d.mu.Unlock()

	go d.run(runCtx, cancel, model, text)
	return nil
}

func (d *DeepgramSpeaker) run(ctx context.Context, cancel context.CancelFunc, model, text string) {
	defer cancel()

	options := &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var lastRecvUnix int64
	var seenAudio int32

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		if atomic.CompareAndSwapInt32(&seenAudio, 0, 1) {
			d.emit(convo.SpeechEvent{Kind: convo.SpeechStarted})
		}
		b := make([]byte, len(data))
		copy(b, data)
		if err := d.sink.Write(b); err != nil {
			log.Printf("deepgram: sink write: %v", err)
		}
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		log.Printf("deepgram: create ws client: %v", err)
		d.finish(convo.SpeechFailed)
		return
	}

	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		log.Printf("deepgram: connect failed")
		d.finish(convo.SpeechFailed)
		return
	}

	if err := dg.SpeakWithText(text); err != nil {
		log.Printf("deepgram: speak text: %v", err)
		d.finish(convo.SpeechFailed)
		return
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	// Audio is done once the stream has been idle past the window. The
	// deadline bounds a stream that never produces audio at all.
	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
	for {
		select {
		case <-ctx.Done():
			stopClient()
			d.sink.Reset()
			d.finish(convo.SpeechCancelled)
			return
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					stopClient()
					d.finish(convo.SpeechCompleted)
					return
				}
			}
			if time.Now().After(deadline) {
				stopClient()
				if atomic.LoadInt32(&seenAudio) == 1 {
					d.finish(convo.SpeechCompleted)
				} else {
					d.finish(convo.SpeechFailed)
				}
				return
			}
		}
	}
}

func (d *DeepgramSpeaker) finish(reason convo.SpeechEndReason) {
	d.mu.Lock()
	d.cancel = nil
	d.mu.Unlock()
	d.emit(convo.SpeechEvent{Kind: convo.SpeechEnded, Reason: reason})
}

func (d *DeepgramSpeaker) emit(ev convo.SpeechEvent) {
	select {
	case d.events <- ev:
	default:
		log.Printf("deepgram: dropping speech event %s", ev.Kind)
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
