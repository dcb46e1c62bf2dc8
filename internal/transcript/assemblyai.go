// Package transcript provides capture sources: live speech-to-text feeds that
// report interim and final transcript fragments to the conversation engine.
package transcript

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

// DefaultStreamingEndpoint is the AssemblyAI v3 realtime endpoint.
const DefaultStreamingEndpoint = "wss://streaming.assemblyai.com/v3/ws"

// AssemblyAISource streams microphone PCM to AssemblyAI and reports turn
// transcripts. Final fragments are delivered reliably; interim revisions may
// be dropped under backpressure.
type AssemblyAISource struct {
	apiKey   string
	endpoint string

	transcripts chan convo.TranscriptEvent
	errs        chan error

	mu        sync.RWMutex
	conn      *websocket.Conn
	running   bool
	stopCh    chan struct{}
	audioData chan []byte
}

// AssemblyAI message types
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
	EndOfTurn     bool   `json:"end_of_turn"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewAssemblyAISource creates a capture source. The source is unsupported
// until an API key is configured.
func NewAssemblyAISource(apiKey string) *AssemblyAISource {
	return &AssemblyAISource{
		apiKey:      apiKey,
		endpoint:    DefaultStreamingEndpoint,
		transcripts: make(chan convo.TranscriptEvent, 100),
		errs:        make(chan error, 4),
	}
}

// Supported reports whether the source can capture at all.
func (s *AssemblyAISource) Supported() bool { return s.apiKey != "" }

// Transcripts returns the live transcript feed. The channel stays open across
// Start/Stop cycles.
func (s *AssemblyAISource) Transcripts() <-chan convo.TranscriptEvent { return s.transcripts }

// Errors surfaces capture failures.
func (s *AssemblyAISource) Errors() <-chan error { return s.errs }

// Start connects to the streaming endpoint. It is a no-op while already
// running.
func (s *AssemblyAISource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("assemblyai api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "true")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("%s?%s", s.endpoint, params.Encode())

	headers := map[string][]string{
		"Authorization": {s.apiKey},
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai connection failed with status: %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}

	s.conn = conn
	s.running = true
	s.stopCh = make(chan struct{})
	s.audioData = make(chan []byte, 1000)

	go s.handleMessages(conn, s.stopCh)
	go s.sendAudioData(conn, s.stopCh, s.audioData)

	log.Println("connected to AssemblyAI streaming service")
	return nil
}

// Stop terminates the streaming session. Transcript and error channels stay
// open so the source can be started again.
func (s *AssemblyAISource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	if s.conn != nil {
		terminateMsg := map[string]string{"type": "Terminate"}
		_ = s.conn.WriteJSON(terminateMsg)
		_ = s.conn.Close()
	}
	s.conn = nil
	s.running = false
	log.Println("AssemblyAI connection closed")
}

// SendPCM16KLE queues 16kHz little-endian PCM for transcription. Audio is
// dropped when the source is stopped or the buffer is full.
func (s *AssemblyAISource) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return fmt.Errorf("not connected to AssemblyAI")
	}
	select {
	case s.audioData <- pcm:
		return nil
	default:
		log.Println("audio buffer full, dropping packet")
		return nil
	}
}

func (s *AssemblyAISource) handleMessages(conn *websocket.Conn, stopCh chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopCh:
			default:
				s.failSession(fmt.Errorf("assemblyai read error: %w", err))
			}
			return
		}
		s.processMessage(message, stopCh)
	}
}

func (s *AssemblyAISource) processMessage(message []byte, stopCh chan struct{}) {
	var baseMsg map[string]interface{}
	if err := json.Unmarshal(message, &baseMsg); err != nil {
		log.Printf("error unmarshaling message: %v", err)
		return
	}
	msgType, ok := baseMsg["type"].(string)
	if !ok {
		log.Printf("message missing type field")
		return
	}
	switch msgType {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("error unmarshaling Begin message: %v", err)
			return
		}
		expires := time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339)
		log.Printf("AssemblyAI session began: ID=%s, ExpiresAt=%s", msg.ID, expires)
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("error unmarshaling Turn message: %v", err)
			return
		}
		if msg.Transcript == "" {
			return
		}
		ev := convo.TranscriptEvent{Text: msg.Transcript, Final: msg.EndOfTurn}
		if ev.Final {
			// final fragments must reach the engine; only shutdown skips them
			select {
			case s.transcripts <- ev:
			case <-stopCh:
			}
			return
		}
		select {
		case s.transcripts <- ev:
		default:
		}
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("error unmarshaling Termination message: %v", err)
			return
		}
		log.Printf("AssemblyAI session terminated: AudioDuration=%.2fs, SessionDuration=%.2fs", msg.AudioDurationSeconds, msg.SessionDurationSeconds)
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("error unmarshaling Error message: %v", err)
			return
		}
		s.failSession(fmt.Errorf("assemblyai error: %s", msg.Error))
	default:
		log.Printf("unknown message type: %s", msgType)
	}
}

// failSession tears the session down and surfaces the cause. The engine
// decides whether to restart capture.
func (s *AssemblyAISource) failSession(err error) {
	s.mu.Lock()
	if s.running {
		close(s.stopCh)
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.conn = nil
		s.running = false
	}
	s.mu.Unlock()
	select {
	case s.errs <- err:
	default:
		log.Printf("dropping capture error: %v", err)
	}
}

func (s *AssemblyAISource) sendAudioData(conn *websocket.Conn, stopCh chan struct{}, audioData chan []byte) {
	for {
		select {
		case <-stopCh:
			return
		case pcm := <-audioData:
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				select {
				case <-stopCh:
				default:
					log.Printf("error sending audio data: %v", err)
				}
				return
			}
		}
	}
}
