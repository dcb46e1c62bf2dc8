package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

func newTestElevenLabs(t *testing.T, handler http.HandlerFunc, sink PCMSink) *ElevenLabsSpeaker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e := NewElevenLabsSpeaker("key", "voice-1", sink)
	e.baseURL = srv.URL
	return e
}

func TestElevenLabsSpeaker_NoKeyFailsSynchronously(t *testing.T) {
	e := NewElevenLabsSpeaker("", "", nil)
	if err := e.Speak(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}

func TestElevenLabsSpeaker_ProviderRejectionIsSynchronous(t *testing.T) {
	e := newTestElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"bad key"}`))
	}, nil)

	err := e.Speak(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("expected provider rejection, got %v", err)
	}
	select {
	case ev := <-e.Events():
		t.Fatalf("no events expected after synchronous failure, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestElevenLabsSpeaker_StreamsAudioAndReportsLifecycle(t *testing.T) {
	var gotPath, gotKey, gotFormat string
	sink := &collectSink{}
	e := newTestElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotFormat = r.URL.Query().Get("output_format")
		_, _ = w.Write([]byte("pcm-chunk-1"))
		_, _ = w.Write([]byte("pcm-chunk-2"))
	}, sink)

	if err := e.Speak(context.Background(), "hello there"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	waitSpeechEvent(t, e.Events(), convo.SpeechStarted)
	ev := waitSpeechEvent(t, e.Events(), convo.SpeechEnded)
	if ev.Reason != convo.SpeechCompleted {
		t.Fatalf("end reason = %s, want completed", ev.Reason)
	}
	if string(sink.bytes()) != "pcm-chunk-1pcm-chunk-2" {
		t.Fatalf("sink bytes = %q", sink.bytes())
	}
	if gotPath != "/v1/text-to-speech/voice-1/stream" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "key" || gotFormat != "pcm_48000" {
		t.Fatalf("request not shaped: key=%q format=%q", gotKey, gotFormat)
	}
}

func TestElevenLabsSpeaker_CancelMidStreamResetsSink(t *testing.T) {
	sink := &collectSink{}
	e := newTestElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, sink)

	if err := e.Speak(context.Background(), "long reply"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	waitSpeechEvent(t, e.Events(), convo.SpeechStarted)
	e.Cancel()
	ev := waitSpeechEvent(t, e.Events(), convo.SpeechEnded)
	if ev.Reason != convo.SpeechCancelled {
		t.Fatalf("end reason = %s, want cancelled", ev.Reason)
	}
	if sink.resetCount() != 1 {
		t.Fatalf("sink reset %d times, want 1", sink.resetCount())
	}
}

func TestElevenLabsSpeaker_VoiceOverridesRoute(t *testing.T) {
	var gotPath string
	e := newTestElevenLabs(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}, nil)
	e.SetVoice(convo.VoiceSettings{Voice: "voice-9", Rate: 1.3, Pitch: 1.0})

	if err := e.Speak(context.Background(), "hi"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	waitSpeechEvent(t, e.Events(), convo.SpeechEnded)
	if gotPath != "/v1/text-to-speech/voice-9/stream" {
		t.Fatalf("voice override not routed: %q", gotPath)
	}
}
