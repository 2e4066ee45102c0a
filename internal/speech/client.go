// Package speech implements the client side of the real-time recognition
// service: a websocket session that streams raw audio up and delivers
// typed transcript/translation messages down, in arrival order.
package speech

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snarg/lt-engine/internal/metrics"
)

// Config is the recognition session configuration. A reconnected session
// reuses the exact same Config so transcription resumes unchanged.
type Config struct {
	Language        string
	OperatingPoint  string
	MaxDelay        float64
	TargetLanguages []string // empty disables translation
	SampleRate      int
}

// Conn abstracts the websocket for tests.
type Conn interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens recognition transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type websocketDialer struct{}

func (websocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configures a Client.
type Options struct {
	URL    string // base realtime endpoint, e.g. wss://eu2.rt.example.com/v2
	Dialer Dialer

	// OnMessage receives every decoded message, in arrival order, from a
	// single goroutine.
	OnMessage func(Message)

	// OnClosed fires once when the session ends. err is nil for a manual
	// Stop; anything else is a transport loss the caller may want to
	// recover from.
	OnClosed func(err error)

	Log zerolog.Logger
}

// Client is one recognition session over a websocket. A Client is used for
// a single Start/Stop cycle; reconnecting means a fresh Client with the
// same Config.
type Client struct {
	opts Options
	log  zerolog.Logger

	writeMu sync.Mutex
	conn    Conn

	mu      sync.Mutex
	started bool
	stopped bool
	seqNo   int
}

// NewClient creates an unstarted client.
func NewClient(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocketDialer{}
	}
	return &Client{
		opts: opts,
		log:  opts.Log.With().Str("component", "speech").Logger(),
	}
}

// Start dials the service with a temporary access token and opens the
// recognition session. The audio format is fixed: raw pcm_f32le.
func (c *Client) Start(ctx context.Context, token string, cfg Config) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("speech: session already started")
	}
	c.started = true
	c.mu.Unlock()

	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return fmt.Errorf("speech: parse url: %w", err)
	}
	q := u.Query()
	q.Set("jwt", token)
	u.RawQuery = q.Encode()

	conn, err := c.opts.Dialer.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("speech: dial: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 48000
	}
	operatingPoint := cfg.OperatingPoint
	if operatingPoint == "" {
		operatingPoint = "enhanced"
	}

	start := StartRecognition{
		Message: msgStartRecognition,
		AudioFormat: AudioFormat{
			Type:       "raw",
			Encoding:   "pcm_f32le",
			SampleRate: sampleRate,
		},
		TranscriptionConfig: TranscriptionConfig{
			Language:               cfg.Language,
			OperatingPoint:         operatingPoint,
			EnablePartials:         true,
			EnableEntities:         true,
			MaxDelay:               cfg.MaxDelay,
			SpeakerDiarization:     "speaker",
			DiarizationMaxSpeakers: 10,
		},
	}
	if len(cfg.TargetLanguages) > 0 {
		start.TranslationConfig = &TranslationConfig{
			TargetLanguages: cfg.TargetLanguages,
			EnablePartials:  true,
		}
	}

	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return fmt.Errorf("speech: send StartRecognition: %w", err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	c.log.Info().Str("language", cfg.Language).Str("operating_point", operatingPoint).
		Strs("translation", cfg.TargetLanguages).Msg("recognition session started")

	go c.readLoop(conn)
	return nil
}

// SendAudio streams one raw audio frame. Frames ride as binary messages;
// the service acknowledges them with AudioAdded.
func (c *Client) SendAudio(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("speech: session not started")
	}
	c.mu.Lock()
	c.seqNo++
	c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Stop ends the session cleanly: EndOfStream is sent so the service
// flushes the transcript tail, then the transport closes. OnClosed fires
// with a nil error.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	lastSeq := c.seqNo
	c.mu.Unlock()

	c.writeMu.Lock()
	conn := c.conn
	if conn != nil {
		if err := conn.WriteJSON(EndOfStream{Message: msgEndOfStream, LastSeqNo: lastSeq}); err != nil {
			c.log.Debug().Err(err).Msg("EndOfStream write failed")
		}
	}
	c.writeMu.Unlock()

	if conn != nil {
		// Give the service a moment to flush EndOfTranscript through the
		// read loop before tearing the transport down.
		time.AfterFunc(2*time.Second, func() { conn.Close() })
	}
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		msg, err := Decode(data)
		if err != nil {
			// Expected noise from upstream; drop and move on.
			metrics.SpeechDroppedTotal.Inc()
			c.log.Debug().Err(err).Msg("undecodable message dropped")
			continue
		}

		metrics.SpeechMessagesTotal.WithLabelValues(msg.Message).Inc()
		if msg.Message == MsgEndOfTranscript {
			c.log.Info().Msg("end of transcript")
			if c.opts.OnMessage != nil {
				c.opts.OnMessage(msg)
			}
			c.finish(nil)
			return
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(msg)
		}
	}
}

// finish closes the transport and reports the session end exactly once.
// A loss after Stop was requested is reported as clean.
func (c *Client) finish(err error) {
	c.mu.Lock()
	wasStopped := c.stopped
	c.stopped = true
	c.mu.Unlock()

	c.writeMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	} else {
		c.writeMu.Unlock()
		return // already finished
	}
	c.writeMu.Unlock()

	if wasStopped {
		err = nil
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("recognition transport lost")
	}
	if c.opts.OnClosed != nil {
		c.opts.OnClosed(err)
	}
}
