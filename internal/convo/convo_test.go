package convo

import (
	"errors"
	"testing"
)

func TestNewVoiceSettings_ClampsRateAndPitch(t *testing.T) {
	cases := []struct {
		name                string
		rate, pitch         float64
		wantRate, wantPitch float64
	}{
		{"in_range", 1.2, 0.8, 1.2, 0.8},
		{"below_min", 0.1, -3, 0.5, 0.5},
		{"above_max", 5, 2.5, 2.0, 2.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vs := NewVoiceSettings("nova", tc.rate, tc.pitch)
			if vs.Rate != tc.wantRate || vs.Pitch != tc.wantPitch {
				t.Fatalf("got rate=%v pitch=%v, want rate=%v pitch=%v", vs.Rate, vs.Pitch, tc.wantRate, tc.wantPitch)
			}
			if vs.Voice != "nova" {
				t.Fatalf("voice name mangled: %q", vs.Voice)
			}
		})
	}
}

func TestActivityState_String(t *testing.T) {
	want := map[ActivityState]string{
		StateIdle:      "idle",
		StateListening: "listening",
		StateThinking:  "thinking",
		StateSpeaking:  "speaking",
	}
	for st, s := range want {
		if st.String() != s {
			t.Fatalf("state %d: got %q want %q", st, st.String(), s)
		}
	}
}

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	e := NewError(KindStorageError, cause)
	if !errors.Is(e, cause) {
		t.Fatalf("expected errors.Is to find the cause")
	}
	if e.Error() != "storage_error: disk full" {
		t.Fatalf("unexpected error text: %q", e.Error())
	}
	if e.Message() == "" {
		t.Fatalf("expected a user-facing message")
	}
}
