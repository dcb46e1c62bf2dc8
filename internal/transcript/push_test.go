package transcript

import (
	"errors"
	"testing"
	"time"
)

func TestPushSource_UnsupportedUntilDeclared(t *testing.T) {
	p := NewPushSource()
	if p.Supported() {
		t.Fatalf("fresh source should be unsupported")
	}
	if err := p.Start(); err == nil {
		t.Fatalf("expected start error while unsupported")
	}
	p.SetSupported(true)
	if !p.Supported() {
		t.Fatalf("capability not recorded")
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestPushSource_ForwardsWhileArmed(t *testing.T) {
	p := NewPushSource()
	p.SetSupported(true)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	p.Push("hello th", false)
	p.Push("hello there", true)

	select {
	case ev := <-p.Transcripts():
		if ev.Text != "hello th" || ev.Final {
			t.Fatalf("first event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("interim never delivered")
	}
	select {
	case ev := <-p.Transcripts():
		if ev.Text != "hello there" || !ev.Final {
			t.Fatalf("second event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("final never delivered")
	}
}

func TestPushSource_DropsWhileDisarmed(t *testing.T) {
	p := NewPushSource()
	p.SetSupported(true)
	p.Push("ignored", true)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Stop()
	p.Push("also ignored", true)

	select {
	case ev := <-p.Transcripts():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPushSource_FailSurfacesAndDisarms(t *testing.T) {
	p := NewPushSource()
	p.SetSupported(true)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Fail(errors.New("mic permission revoked"))

	select {
	case err := <-p.Errors():
		if err == nil {
			t.Fatalf("nil error delivered")
		}
	case <-time.After(time.Second):
		t.Fatalf("failure never surfaced")
	}
	p.Push("after failure", true)
	select {
	case ev := <-p.Transcripts():
		t.Fatalf("unexpected event after failure: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
