package transcript

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

// PushSource is a capture source fed by a remote recognizer, typically the
// browser's speech recognition relayed over the conversation socket. The
// remote end declares up front whether it can capture at all.
type PushSource struct {
	mu        sync.Mutex
	supported bool
	running   bool

	transcripts chan convo.TranscriptEvent
	errs        chan error
}

// NewPushSource creates a source that reports unsupported until the remote
// end declares capture capability.
func NewPushSource() *PushSource {
	return &PushSource{
		transcripts: make(chan convo.TranscriptEvent, 100),
		errs:        make(chan error, 4),
	}
}

// SetSupported records the remote capture capability.
func (p *PushSource) SetSupported(ok bool) {
	p.mu.Lock()
	p.supported = ok
	p.mu.Unlock()
}

// Supported reports whether the remote end can capture.
func (p *PushSource) Supported() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.supported
}

// Start arms the source. Pushed transcripts are only forwarded while armed.
func (p *PushSource) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.supported {
		return fmt.Errorf("remote capture not supported")
	}
	p.running = true
	return nil
}

// Stop disarms the source. The channels stay open for the next Start.
func (p *PushSource) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// Push feeds one transcript fragment from the remote recognizer. Fragments
// arriving while the source is disarmed are dropped; final fragments are
// otherwise delivered without loss.
func (p *PushSource) Push(text string, final bool) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running || text == "" {
		return
	}
	ev := convo.TranscriptEvent{Text: text, Final: final}
	if final {
		select {
		case p.transcripts <- ev:
		case <-time.After(200 * time.Millisecond):
			log.Printf("push source: timed out delivering final transcript")
		}
		return
	}
	select {
	case p.transcripts <- ev:
	default:
	}
}

// Fail surfaces a capture failure reported by the remote end and disarms the
// source.
func (p *PushSource) Fail(err error) {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	select {
	case p.errs <- err:
	default:
	}
}

// Transcripts returns the transcript feed.
func (p *PushSource) Transcripts() <-chan convo.TranscriptEvent { return p.transcripts }

// Errors surfaces capture failures.
func (p *PushSource) Errors() <-chan error { return p.errs }
