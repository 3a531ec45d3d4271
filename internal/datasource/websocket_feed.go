package datasource

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	websocketDialTimeout   = 10 * time.Second
	websocketMinRetryDelay = 250 * time.Millisecond
	websocketMaxRetryDelay = 30 * time.Second
	websocketReadLimit     = 1 << 20
)

// subscribeFrame is sent once per connection so the server can scope what it pushes.
type subscribeFrame struct {
	Type   string                `json:"type"`
	Kinds  []leadsync.EntityKind `json:"kinds,omitempty"`
	Filter *leadsync.Filter      `json:"filter,omitempty"`
}

// WebSocketFeed reads ChangeEvent JSON frames from a realtime gateway and
// redials with backoff when the connection drops.
type WebSocketFeed struct {
	url string
	log zerolog.Logger

	minDelay time.Duration
	maxDelay time.Duration
}

func NewWebSocketFeed(dsn string, opts Options) (*WebSocketFeed, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, leadsync.ErrInvalidInput
	}
	return &WebSocketFeed{
		url:      dsn,
		log:      opts.logger("websocket_feed"),
		minDelay: websocketMinRetryDelay,
		maxDelay: websocketMaxRetryDelay,
	}, nil
}

func (f *WebSocketFeed) Subscribe(ctx context.Context, req leadsync.SubscribeRequest) (leadsync.Subscription, error) {
	conn, err := f.dial(ctx, req)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(req, cancel)
	go f.follow(runCtx, conn, sub)
	return sub, nil
}

func (f *WebSocketFeed) dial(ctx context.Context, req leadsync.SubscribeRequest) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, websocketDialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, f.url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(websocketReadLimit)
	frame := subscribeFrame{Type: "subscribe", Kinds: req.Kinds, Filter: req.Filter}
	if err := wsjson.Write(dialCtx, conn, frame); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, err
	}
	return conn, nil
}

func (f *WebSocketFeed) follow(ctx context.Context, conn *websocket.Conn, sub *subscription) {
	defer sub.drop()
	for {
		err := f.readPump(ctx, conn, sub)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		f.log.Warn().Err(err).Msg("change stream dropped, redialing")
		conn = f.redial(ctx, sub.req)
		if conn == nil {
			return
		}
		sub.signalReconnect()
	}
}

func (f *WebSocketFeed) readPump(ctx context.Context, conn *websocket.Conn, sub *subscription) error {
	for {
		var event leadsync.ChangeEvent
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			return err
		}
		if !event.EntityKind.Valid() {
			f.log.Debug().Str("entity_kind", string(event.EntityKind)).Msg("ignoring frame")
			continue
		}
		sub.deliver(event)
	}
}

// redial retries until it connects or ctx ends, in which case it returns nil.
func (f *WebSocketFeed) redial(ctx context.Context, req leadsync.SubscribeRequest) *websocket.Conn {
	delay := f.minDelay
	for {
		if !waitWithContext(ctx, delay) {
			return nil
		}
		conn, err := f.dial(ctx, req)
		if err == nil {
			f.log.Info().Msg("change stream reconnected")
			return conn
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		f.log.Debug().Err(err).Dur("retry_in", delay).Msg("redial failed")
		delay *= 2
		if delay > f.maxDelay {
			delay = f.maxDelay
		}
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
