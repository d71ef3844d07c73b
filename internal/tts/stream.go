package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-feedcast/internal/apperr"
	"github.com/loqalabs/loqa-feedcast/internal/feed"
)

// State is the lifecycle position of a stream session.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateConfigSent
	StateStreaming
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateConfigSent:
		return "config_sent"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StreamConfig describes the websocket synthesis endpoint.
type StreamConfig struct {
	Endpoint      string
	APIKey        string
	SampleRate    int
	ChannelType   string
	Format        string
	MaxChunkChars int
	HeaderBytes   int
	StallTimeout  time.Duration
	DialTimeout   time.Duration
}

// StreamClient synthesizes jobs over one websocket session per job.
type StreamClient struct {
	cfg     StreamConfig
	url     string
	dialer  *websocket.Dialer
	tracer  trace.Tracer
	logger  *slog.Logger
	observe func(contextID string, s State)
}

type voiceConfigMessage struct {
	VoiceConfig feed.VoiceConfig `json:"voice_config"`
	ContextID   string           `json:"context_id,omitempty"`
}

type textMessage struct {
	Text string `json:"text"`
	End  bool   `json:"end"`
}

type audioMessage struct {
	Audio string `json:"audio,omitempty"`
	Final bool   `json:"final,omitempty"`
}

// NewStreamClient validates the endpoint and prepares a dialer.
func NewStreamClient(cfg StreamConfig, logger *slog.Logger) (*StreamClient, error) {
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = DefaultChunkSize
	}
	if cfg.HeaderBytes < 0 {
		cfg.HeaderBytes = 0
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse tts endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("tts endpoint must use ws or wss, got %q", u.Scheme)
	}
	q := u.Query()
	q.Set("api-key", cfg.APIKey)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channel_type", cfg.ChannelType)
	q.Set("format", cfg.Format)
	u.RawQuery = q.Encode()

	return &StreamClient{
		cfg:    cfg,
		url:    u.String(),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: websocket.DefaultDialer.Proxy},
		tracer: otel.Tracer("github.com/loqalabs/loqa-feedcast/internal/tts"),
		logger: logger.With(slog.String("component", "tts-stream")),
	}, nil
}

// Synthesize runs the job on a dedicated worker goroutine.
func (c *StreamClient) Synthesize(ctx context.Context, job Job) (<-chan Segment, <-chan error) {
	if err := job.Validate(); err != nil {
		return failed(err)
	}
	segments := make(chan Segment)
	errs := make(chan error, 1)
	go func() {
		defer close(segments)
		defer close(errs)
		s := &session{client: c, job: job, out: segments, state: StateIdle}
		if err := s.run(ctx); err != nil {
			errs <- err
		}
	}()
	return segments, errs
}

type session struct {
	client *StreamClient
	job    Job
	out    chan<- Segment
	conn   *websocket.Conn
	state  State
	seq    int
	bytes  int
}

func (s *session) transition(next State) {
	s.state = next
	if s.client.observe != nil {
		s.client.observe(s.job.ContextID, next)
	}
}

func (s *session) run(ctx context.Context) (err error) {
	c := s.client
	chunks := Chunk(s.job.Text, c.cfg.MaxChunkChars)

	ctx, span := c.tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("tts.context_id", s.job.ContextID),
		attribute.Int("tts.chunks", len(chunks)),
	))
	defer func() {
		span.SetAttributes(attribute.Int("tts.bytes", s.bytes))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	defer func() {
		if err != nil {
			if s.conn != nil {
				_ = s.conn.Close()
			}
			s.transition(StateFailed)
		}
	}()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Wrap(err, apperr.Transport, "dial synthesis endpoint")
	}
	s.conn = conn
	s.transition(StateConnected)

	// Closing the connection unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(voiceConfigMessage{VoiceConfig: s.job.Voice, ContextID: s.job.ContextID}); err != nil {
		return s.ioError(ctx, "send voice config", err)
	}
	s.transition(StateConfigSent)

	for i, chunk := range chunks {
		last := i == len(chunks)-1
		if s.state != StateStreaming {
			s.transition(StateStreaming)
		}
		if err := conn.WriteJSON(textMessage{Text: chunk, End: last}); err != nil {
			return s.ioError(ctx, "send text chunk", err)
		}
		if last {
			s.transition(StateDraining)
		}
		if err := s.readUntilFinal(ctx, i); err != nil {
			return err
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	_ = conn.Close()
	s.transition(StateClosed)
	c.logger.Debug("synthesis complete",
		slog.String("context_id", s.job.ContextID),
		slog.Int("chunks", len(chunks)),
		slog.Int("bytes", s.bytes))
	return nil
}

func (s *session) readUntilFinal(ctx context.Context, chunk int) error {
	c := s.client
	first := true
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(c.cfg.StallTimeout)); err != nil {
			return s.ioError(ctx, "set read deadline", err)
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return s.ioError(ctx, "read audio", err)
		}
		var msg audioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return apperr.Wrap(err, apperr.Transport, "decode audio message")
		}
		if msg.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return apperr.Wrap(err, apperr.Transport, "decode audio payload")
			}
			if chunk == 0 && first && len(audio) > c.cfg.HeaderBytes {
				audio = audio[c.cfg.HeaderBytes:]
			}
			first = false
			if err := emit(ctx, s.out, Segment{
				ContextID: s.job.ContextID,
				Chunk:     chunk,
				Sequence:  s.seq,
				Data:      audio,
				Final:     msg.Final,
			}); err != nil {
				return err
			}
			s.seq++
			s.bytes += len(audio)
		}
		if msg.Final {
			return nil
		}
	}
}

func (s *session) ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	kind := apperr.Transport
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = apperr.Timeout
	}
	return apperr.Wrap(err, kind, op).
		WithMetadata("state", s.state.String()).
		WithMetadata("context_id", s.job.ContextID)
}
