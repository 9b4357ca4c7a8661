package mma

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
)

// Compile-time check
var (
	_ adapter.ProgressSource = (*Source)(nil)
	_ adapter.ProgressSource = (*SSESource)(nil)
	_ adapter.ProgressSource = (*WebSocketSource)(nil)
	_ adapter.Subscription   = (*subscription)(nil)
)

const maxFrameBytes = 1 << 20

// Source picks the transport from the descriptor scheme: ws/wss go over a
// WebSocket, everything else is read as server-sent events.
type Source struct {
	SSE *SSESource
	WS  *WebSocketSource
}

func NewSource(c *Client, logger *zerolog.Logger) *Source {
	return &Source{
		SSE: NewSSESource(c, logger),
		WS:  NewWebSocketSource(c.authHeader(), logger),
	}
}

func (s *Source) Subscribe(ctx context.Context, url string) (adapter.Subscription, error) {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://") {
		return s.WS.Subscribe(ctx, url)
	}
	return s.SSE.Subscribe(ctx, url)
}

// SSESource reads text/event-stream responses.
type SSESource struct {
	client *Client
	log    *zerolog.Logger
}

func NewSSESource(c *Client, logger *zerolog.Logger) *SSESource {
	return &SSESource{client: c, log: logging.Component(logger, "sse")}
}

func (s *SSESource) Subscribe(ctx context.Context, url string) (adapter.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := s.client.openStream(ctx, url)
	if err != nil {
		cancel()
		return nil, err
	}
	body := resp.Body
	sub := newSubscription(ctx, func() error {
		cancel()
		return body.Close()
	})
	go sub.run(func(emit func(adapter.ProgressFrame) bool) error {
		return ReadEvents(body, emit)
	})
	s.log.Debug().Str("url", logging.RedactURL(url, false)).Msg("stream opened")
	return sub, nil
}

// ReadEvents parses an event stream and calls emit for every dispatched
// event until r is exhausted or emit returns false. Comment lines, id and
// retry fields are ignored; multi-line data is joined with "\n".
func ReadEvents(r io.Reader, emit func(adapter.ProgressFrame) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	var (
		event string
		data  []string
		has   bool
	)
	dispatch := func() bool {
		if !has {
			event = ""
			return true
		}
		f := adapter.ProgressFrame{Event: event, Data: strings.Join(data, "\n")}
		event, data, has = "", nil, false
		return emit(f)
	}

	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			if !dispatch() {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			event = strings.TrimSpace(value)
		case "data":
			data = append(data, value)
			has = true
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	// a final event without a trailing blank line still counts.
	dispatch()
	return nil
}

// WebSocketSource reads progress messages pushed over a WebSocket. Each text
// message is one frame; an {"event":..,"data":..} envelope is unwrapped.
type WebSocketSource struct {
	header http.Header
	dialer *websocket.Dialer
	log    *zerolog.Logger
}

func NewWebSocketSource(header http.Header, logger *zerolog.Logger) *WebSocketSource {
	return &WebSocketSource{
		header: header,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    logging.Component(logger, "ws"),
	}
}

func (s *WebSocketSource) Subscribe(ctx context.Context, url string) (adapter.Subscription, error) {
	conn, resp, err := s.dialer.DialContext(ctx, url, s.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	sub := newSubscription(ctx, func() error {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	})
	go sub.run(func(emit func(adapter.ProgressFrame) bool) error {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return err
			}
			if mt != websocket.TextMessage {
				continue
			}
			if !emit(decodeEnvelope(msg)) {
				return nil
			}
		}
	})
	s.log.Debug().Str("url", logging.RedactURL(url, false)).Msg("websocket opened")
	return sub, nil
}

func decodeEnvelope(msg []byte) adapter.ProgressFrame {
	var env struct {
		Event string          `json:"event"`
		Type  string          `json:"type"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil || len(env.Data) == 0 {
		return adapter.ProgressFrame{Data: string(msg)}
	}
	name := env.Event
	if name == "" {
		name = env.Type
	}
	data := string(env.Data)
	var s string
	if json.Unmarshal(env.Data, &s) == nil {
		data = s
	}
	return adapter.ProgressFrame{Event: name, Data: data}
}

// subscription is the transport-independent half of a push channel: one
// reader goroutine feeding a channel, closed exactly once.
type subscription struct {
	frames  chan adapter.ProgressFrame
	stop    chan struct{}
	done    chan struct{}
	closeFn func() error

	once    sync.Once
	closeMu sync.Mutex
	closed  bool
	err     error
}

func newSubscription(ctx context.Context, closeFn func() error) *subscription {
	s := &subscription{
		frames:  make(chan adapter.ProgressFrame, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s
}

func (s *subscription) run(read func(emit func(adapter.ProgressFrame) bool) error) {
	defer close(s.done)
	defer close(s.frames)
	err := read(func(f adapter.ProgressFrame) bool {
		select {
		case s.frames <- f:
			return true
		case <-s.stop:
			return false
		}
	})
	s.closeMu.Lock()
	if !s.closed {
		s.err = err
	}
	s.closeMu.Unlock()
}

func (s *subscription) Frames() <-chan adapter.ProgressFrame { return s.frames }

// Err reports why the channel ended. A channel closed by Close ended cleanly.
func (s *subscription) Err() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.err = nil
		s.closeMu.Unlock()
		close(s.stop)
		err = s.closeFn()
		<-s.done
	})
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
