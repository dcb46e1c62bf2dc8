// Package tts turns assistant replies into audio. Speakers synthesize through
// a provider, push PCM to a sink for playback, and report the playback
// lifecycle through speech events.
package tts

// PCMSink receives synthesized audio chunks in the order they should play.
// Reset drops anything buffered; speakers call it when playback is cancelled.
type PCMSink interface {
	Write(pcm []byte) error
	Reset()
}

// NopSink discards audio. Useful for headless runs and tests that only care
// about the speech lifecycle.
type NopSink struct{}

func (NopSink) Write([]byte) error { return nil }
func (NopSink) Reset()             {}
