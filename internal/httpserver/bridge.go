package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/agent"
	"github.com/aiandbotsgalore/snugglesLIVE/internal/config"
	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
	"github.com/aiandbotsgalore/snugglesLIVE/internal/transcript"
	"github.com/aiandbotsgalore/snugglesLIVE/internal/tts"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// Envelope frames every JSON message on the conversation socket. Binary
// frames carry PCM audio: inbound microphone audio in stream capture mode,
// outbound synthesized speech with a server-side speaker.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type helloPayload struct {
	DeviceID         string `json:"device_id"`
	CaptureSupported bool   `json:"capture_supported"`
}

type transcriptPayload struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type textPayload struct {
	Text string `json:"text"`
}

type controlPayload struct {
	Action string `json:"action"`
}

type voicePayload struct {
	Voice string  `json:"voice"`
	Rate  float64 `json:"rate"`
	Pitch float64 `json:"pitch"`
}

type speakPayload struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Rate  float64 `json:"rate"`
	Pitch float64 `json:"pitch"`
}

type speechEndedPayload struct {
	Reason string `json:"reason"`
}

type captureErrorPayload struct {
	Error string `json:"error"`
}

type sessionPayload struct {
	SessionID string `json:"session_id"`
}

type historyPayload struct {
	Messages []convo.Message `json:"messages"`
}

type messagePayload struct {
	Message convo.Message `json:"message"`
}

type statePayload struct {
	State string `json:"state"`
}

type partialPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type rejectedPayload struct {
	Reason string `json:"reason"`
}

type outFrame struct {
	binary bool
	data   []byte
}

// conversationConn is one client's session on the socket: its engine, its
// capture source and speaker, and the single writer feeding the connection.
type conversationConn struct {
	conn   *websocket.Conn
	sendCh chan outFrame
	ctx    context.Context
	cancel context.CancelFunc

	store  convo.Store
	engine *agent.Orchestrator
	stream *transcript.AssemblyAISource
	push   *transcript.PushSource
	client *clientSpeaker
}

// serveConversation upgrades the request and runs the session until the
// client leaves or the connection drops.
func (s *Server) serveConversation(w http.ResponseWriter, r *http.Request) error {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	hello, err := readHello(conn)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, mustEnvelope("error", errorPayload{Kind: "protocol", Message: err.Error()}))
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cc := &conversationConn{
		conn:   conn,
		sendCh: make(chan outFrame, 512),
		ctx:    ctx,
		cancel: cancel,
		store:  s.deps.Store,
	}

	var capture convo.CaptureSource
	switch s.deps.Config.STTMode {
	case config.STTModeStream:
		src := transcript.NewAssemblyAISource(s.deps.Config.AssemblyAIKey)
		cc.stream = src
		capture = src
	default:
		src := transcript.NewPushSource()
		src.SetSupported(hello.CaptureSupported)
		cc.push = src
		capture = src
	}

	var speaker convo.Speaker
	switch s.deps.Config.TTSProvider {
	case config.TTSProviderDeepgram:
		speaker = tts.NewDeepgramSpeaker(s.deps.Config.DeepgramKey, s.deps.Config.DeepgramTTSModel, wsSink{cc: cc})
	case config.TTSProviderElevenLabs:
		speaker = tts.NewElevenLabsSpeaker(s.deps.Config.ElevenLabsKey, s.deps.Config.ElevenLabsVoiceID, wsSink{cc: cc})
	default:
		cs := newClientSpeaker(cc.enqueueJSON)
		cc.client = cs
		speaker = cs
	}

	engine := agent.New(agent.Config{
		Store:         s.deps.Store,
		Generator:     s.deps.Generator,
		Speaker:       speaker,
		Capture:       capture,
		Continuity:    s.deps.Continuity,
		Summarizer:    s.deps.Summarizer,
		DeviceID:      hello.DeviceID,
		LoadHistory:   true,
		FinalizeDelay: s.deps.FinalizeDelay,
		SafetyDelay:   s.deps.SafetyDelay,
	})
	cc.engine = engine
	if err := engine.Start(ctx); err != nil {
		log.Printf("engine start failed: %v", err)
		return nil
	}
	defer engine.Close()

	go cc.writePump()
	go cc.eventPump()

	cc.sendGreeting()
	cc.readLoop()
	return nil
}

// readHello waits for the client's opening frame, which declares the device
// identity and whether it can capture speech.
func readHello(conn *websocket.Conn) (helloPayload, error) {
	var hello helloPayload
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("hello never arrived: %w", err)
	}
	if mt != websocket.TextMessage {
		return hello, fmt.Errorf("hello must be a text frame")
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "hello" {
		return hello, fmt.Errorf("first frame must be hello")
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &hello); err != nil {
			return hello, fmt.Errorf("bad hello payload: %w", err)
		}
	}
	return hello, nil
}

// sendGreeting pushes session identity, persisted voice tuning, history and
// the current state so the client can render immediately.
func (cc *conversationConn) sendGreeting() {
	_ = cc.enqueueJSON(mustEnvelope("session", sessionPayload{SessionID: cc.engine.SessionID()}))

	if vs, err := cc.store.GetVoiceSettings(cc.ctx, cc.engine.SessionID()); err != nil {
		log.Printf("voice settings load failed: %v", err)
	} else if vs != nil {
		cc.engine.SetVoiceSettings(*vs)
	}
	v := cc.engine.VoiceSettings()
	_ = cc.enqueueJSON(mustEnvelope("voice", voicePayload{Voice: v.Voice, Rate: v.Rate, Pitch: v.Pitch}))

	msgs := cc.engine.Transcript()
	if msgs == nil {
		msgs = []convo.Message{}
	}
	_ = cc.enqueueJSON(mustEnvelope("history", historyPayload{Messages: msgs}))
	_ = cc.enqueueJSON(mustEnvelope("state", statePayload{State: cc.engine.State().String()}))
}

// writePump is the single goroutine allowed to write to the connection.
func (cc *conversationConn) writePump() {
	for {
		select {
		case <-cc.ctx.Done():
			return
		case f := <-cc.sendCh:
			mt := websocket.TextMessage
			if f.binary {
				mt = websocket.BinaryMessage
			}
			if err := cc.conn.WriteMessage(mt, f.data); err != nil {
				cc.cancel()
				return
			}
		}
	}
}

// eventPump translates engine events into socket frames.
func (cc *conversationConn) eventPump() {
	for {
		select {
		case <-cc.ctx.Done():
			return
		case ev := <-cc.engine.Events():
			switch ev.Type {
			case agent.EventState:
				_ = cc.enqueueJSON(mustEnvelope("state", statePayload{State: ev.State.String()}))
			case agent.EventPartial:
				_ = cc.enqueueJSON(mustEnvelope("partial", partialPayload{Text: ev.Text}))
			case agent.EventMessage:
				if ev.Message != nil {
					_ = cc.enqueueJSON(mustEnvelope("message", messagePayload{Message: *ev.Message}))
				}
			case agent.EventError:
				if ev.Err != nil {
					_ = cc.enqueueJSON(mustEnvelope("error", errorPayload{Kind: string(ev.Err.Kind), Message: ev.Err.Message()}))
				}
			case agent.EventErrorCleared:
				_ = cc.enqueueJSON(mustEnvelope("error_cleared", nil))
			}
		}
	}
}

func (cc *conversationConn) readLoop() {
	for {
		mt, data, err := cc.conn.ReadMessage()
		if err != nil {
			cc.cancel()
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if cc.stream != nil {
				_ = cc.stream.SendPCM16KLE(data)
			}
		case websocket.TextMessage:
			if bye := cc.handleEnvelope(data); bye {
				cc.cancel()
				return
			}
		}
	}
}

func (cc *conversationConn) handleEnvelope(data []byte) bool {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("bad frame: %v", err)
		return false
	}
	switch env.Type {
	case "transcript":
		var p transcriptPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		if cc.push != nil {
			cc.push.Push(p.Text, p.Final)
		}
	case "capture_error":
		var p captureErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		if cc.push != nil {
			cc.push.Fail(errors.New(p.Error))
		}
	case "text":
		var p textPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		cc.submitText(p.Text)
	case "control":
		var p controlPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		cc.applyControl(p.Action)
	case "voice":
		var p voicePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		cc.engine.SetVoiceSettings(convo.NewVoiceSettings(p.Voice, p.Rate, p.Pitch))
		applied := cc.engine.VoiceSettings()
		if err := cc.store.PutVoiceSettings(cc.ctx, cc.engine.SessionID(), applied); err != nil {
			log.Printf("voice settings save failed: %v", err)
		}
		_ = cc.enqueueJSON(mustEnvelope("voice", voicePayload{Voice: applied.Voice, Rate: applied.Rate, Pitch: applied.Pitch}))
	case "speech_started":
		if cc.client != nil {
			cc.client.PlaybackStarted()
		}
	case "speech_ended":
		var p speechEndedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false
		}
		if cc.client != nil {
			cc.client.PlaybackEnded(p.Reason)
		}
	case "bye":
		return true
	default:
		log.Printf("unknown frame type: %s", env.Type)
	}
	return false
}

func (cc *conversationConn) submitText(text string) {
	err := cc.engine.SubmitUtterance(text)
	switch {
	case err == nil:
	case errors.Is(err, convo.ErrBusy):
		_ = cc.enqueueJSON(mustEnvelope("rejected", rejectedPayload{Reason: "busy"}))
	case errors.Is(err, convo.ErrEmptyUtterance):
		_ = cc.enqueueJSON(mustEnvelope("rejected", rejectedPayload{Reason: "empty"}))
	default:
		log.Printf("submit failed: %v", err)
	}
}

func (cc *conversationConn) applyControl(action string) {
	switch action {
	case "start_listening":
		if err := cc.engine.StartListening(); err != nil {
			log.Printf("start listening: %v", err)
		}
	case "stop_listening":
		cc.engine.StopListening()
	case "stop_speaking":
		cc.engine.StopSpeaking()
	case "clear_error":
		cc.engine.ClearError()
	default:
		log.Printf("unknown control action: %s", action)
	}
}

func (cc *conversationConn) enqueueJSON(frame []byte) error {
	select {
	case cc.sendCh <- outFrame{data: frame}:
		return nil
	case <-cc.ctx.Done():
		return fmt.Errorf("conversation socket closed")
	default:
		log.Printf("send queue full, dropping frame")
		return fmt.Errorf("send queue full")
	}
}

func (cc *conversationConn) enqueueBinary(pcm []byte) error {
	select {
	case cc.sendCh <- outFrame{binary: true, data: pcm}:
		return nil
	case <-cc.ctx.Done():
		return fmt.Errorf("conversation socket closed")
	default:
		// audio frames are droppable under backpressure
		return nil
	}
}

// wsSink relays server-synthesized audio to the client as binary frames. A
// reset tells the client to flush whatever it has buffered.
type wsSink struct{ cc *conversationConn }

func (s wsSink) Write(pcm []byte) error { return s.cc.enqueueBinary(pcm) }
func (s wsSink) Reset()                 { _ = s.cc.enqueueJSON(mustEnvelope("audio_reset", nil)) }

func mustEnvelope(msgType string, payload any) []byte {
	env := Envelope{Type: msgType}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Printf("envelope marshal failed: %v", err)
		} else {
			env.Payload = b
		}
	}
	b, _ := json.Marshal(env)
	return b
}
