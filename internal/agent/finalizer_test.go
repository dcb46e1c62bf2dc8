package agent

import (
	"testing"
	"time"
)

const (
	testFinalizeDelay = 30 * time.Millisecond
	testSafetyDelay   = 80 * time.Millisecond
)

func collectingFinalizer() (*Finalizer, chan string) {
	got := make(chan string, 8)
	f := NewFinalizer(testFinalizeDelay, testSafetyDelay, func(s string) { got <- s })
	return f, got
}

func expectUtterance(t *testing.T, got chan string, want string, within time.Duration) {
	t.Helper()
	select {
	case s := <-got:
		if s != want {
			t.Fatalf("got utterance %q, want %q", s, want)
		}
	case <-time.After(within):
		t.Fatalf("timed out waiting for utterance %q", want)
	}
}

func expectSilence(t *testing.T, got chan string, during time.Duration) {
	t.Helper()
	select {
	case s := <-got:
		t.Fatalf("unexpected utterance %q", s)
	case <-time.After(during):
	}
}

func TestFinalizer_EmitsOnceAfterFinalEvent(t *testing.T) {
	f, got := collectingFinalizer()
	f.OnTranscript("yo", false)
	f.OnTranscript("yo what's", false)
	f.OnTranscript("yo what's good", true)
	expectUtterance(t, got, "yo what's good", 10*testFinalizeDelay)
	expectSilence(t, got, 3*testSafetyDelay)
}

func TestFinalizer_SafetyTimerUsesLastInterimText(t *testing.T) {
	f, got := collectingFinalizer()
	f.OnTranscript("hold", false)
	f.OnTranscript("hold on a", false)
	f.OnTranscript("hold on a sec", false)
	expectUtterance(t, got, "hold on a sec", 10*testSafetyDelay)
	expectSilence(t, got, 3*testSafetyDelay)
}

func TestFinalizer_LaterEventSupersedesBufferedText(t *testing.T) {
	f, got := collectingFinalizer()
	f.OnTranscript("first thought", true)
	f.OnTranscript("second thought", true)
	expectUtterance(t, got, "second thought", 10*testFinalizeDelay)
	expectSilence(t, got, 3*testSafetyDelay)
}

func TestFinalizer_CancelDropsPendingUtterance(t *testing.T) {
	f, got := collectingFinalizer()
	f.OnTranscript("never mind", true)
	f.Cancel()
	expectSilence(t, got, 3*testSafetyDelay)
}

func TestFinalizer_IgnoresWhitespaceOnlyText(t *testing.T) {
	f, got := collectingFinalizer()
	f.OnTranscript("   ", true)
	f.OnTranscript("", false)
	expectSilence(t, got, 3*testSafetyDelay)
}

func TestFinalizer_TrimsEmittedText(t *testing.T) {
	f, got := collectingFinalizer()
	f.OnTranscript("  hello there  ", true)
	expectUtterance(t, got, "hello there", 10*testFinalizeDelay)
}

func TestFinalizer_ReusableAfterFiring(t *testing.T) {
	f, got := collectingFinalizer()
	f.OnTranscript("one", true)
	expectUtterance(t, got, "one", 10*testFinalizeDelay)
	f.OnTranscript("two", true)
	expectUtterance(t, got, "two", 10*testFinalizeDelay)
}
