package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
)

// SpeechConfig holds speech provider settings.
type SpeechConfig struct {
	BaseURL   string        `yaml:"base_url"`   // https endpoint for synthesis
	StreamURL string        `yaml:"stream_url"` // wss endpoint for recognition
	APIKey    string        `yaml:"api_key"`
	Language  string        `yaml:"language"`
	Voice     string        `yaml:"voice"`
	Timeout   time.Duration `yaml:"timeout"`
}

// WSSpeechClient implements SpeechClient: recognition over a WebSocket push
// stream, synthesis over HTTP.
type WSSpeechClient struct {
	cfg    SpeechConfig
	hc     *http.Client
	dialer *websocket.Dialer
	guard  *Guard
}

// NewWSSpeechClient creates the speech client.
func NewWSSpeechClient(cfg SpeechConfig, guard *Guard) *WSSpeechClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	return &WSSpeechClient{
		cfg: cfg,
		hc:  newHTTPClient(cfg.Timeout),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Timeout,
		},
		guard: guard,
	}
}

// OpenRecognitionStream dials the provider's recognition socket for one
// session. The dial goes through the guard; a breaker-open speech
// dependency fails fast here.
func (c *WSSpeechClient) OpenRecognitionStream(ctx context.Context, sessionID string) (RecognitionStream, error) {
	u, err := url.Parse(c.cfg.StreamURL + "/recognize")
	if err != nil {
		return nil, &domain.FatalError{Provider: DepSpeech, Err: err}
	}
	q := u.Query()
	q.Set("session", sessionID)
	q.Set("language", c.cfg.Language)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	var conn *websocket.Conn
	err = c.guard.Do(ctx, func(ctx context.Context) error {
		wsConn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
		if err != nil {
			if resp != nil {
				return classifyStatus(DepSpeech, resp, nil)
			}
			return &domain.RetryableError{Provider: DepSpeech, Err: err}
		}
		conn = wsConn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s := &wsRecognitionStream{
		conn:   conn,
		guard:  c.guard,
		events: make(chan domain.RecognizedSpeech, 32),
		errs:   make(chan error, 4),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Synthesize converts text to audio bytes.
func (c *WSSpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var audio []byte
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		req := map[string]string{
			"text":     text,
			"voice":    c.cfg.Voice,
			"language": c.cfg.Language,
		}
		data, err := json.Marshal(req)
		if err != nil {
			return &domain.FatalError{Provider: DepSpeech, Err: err}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/synthesize", bytes.NewReader(data))
		if err != nil {
			return &domain.FatalError{Provider: DepSpeech, Err: err}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.hc.Do(httpReq)
		if err != nil {
			return &domain.RetryableError{Provider: DepSpeech, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &domain.RetryableError{Provider: DepSpeech, Err: fmt.Errorf("read audio: %w", err)}
		}
		if err := classifyStatus(DepSpeech, resp, nil); err != nil {
			return err
		}
		audio = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// wsRecognitionStream carries one session's audio to the provider and its
// recognized text back.
type wsRecognitionStream struct {
	conn  *websocket.Conn
	guard *Guard

	events chan domain.RecognizedSpeech
	errs   chan error

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// PushAudio sends one raw audio chunk. Pushes run under the breaker but are
// never retried: replaying audio frames would corrupt recognition order.
func (s *wsRecognitionStream) PushAudio(ctx context.Context, chunk []byte) error {
	return s.guard.Once(ctx, func(ctx context.Context) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if deadline, ok := ctx.Deadline(); ok {
			s.conn.SetWriteDeadline(deadline)
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return &domain.RetryableError{Provider: DepSpeech, Err: fmt.Errorf("push audio: %w", err)}
		}
		return nil
	})
}

// Events yields recognized utterances until the stream closes.
func (s *wsRecognitionStream) Events() <-chan domain.RecognizedSpeech { return s.events }

// Errs yields stream-level failures (socket drop, malformed frames).
func (s *wsRecognitionStream) Errs() <-chan error { return s.errs }

// Close tears the socket down. Safe to call more than once.
func (s *wsRecognitionStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

type recognitionFrame struct {
	Text       string  `json:"text"`
	OffsetMs   int64   `json:"offset_ms"`
	DurationMs int64   `json:"duration_ms"`
	Confidence float64 `json:"confidence"`
}

func (s *wsRecognitionStream) readLoop() {
	defer close(s.events)
	defer close(s.errs)

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.errs <- &domain.RetryableError{Provider: DepSpeech, Err: fmt.Errorf("recognition stream: %w", err)}:
			case <-s.done: // closed by us, not a failure
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var frame recognitionFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			select {
			case s.errs <- &domain.RetryableError{Provider: DepSpeech, Err: fmt.Errorf("parse recognition frame: %w", err)}:
			case <-s.done:
				return
			}
			continue
		}
		if frame.Text == "" {
			continue
		}
		// The consumer may stop draining once its session goes terminal;
		// Close must still unblock this send.
		select {
		case s.events <- domain.RecognizedSpeech{
			Text:       frame.Text,
			OffsetMs:   frame.OffsetMs,
			DurationMs: frame.DurationMs,
			Confidence: frame.Confidence,
		}:
		case <-s.done:
			return
		}
	}
}
