package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// streamFrame is pushed to /v1/stream clients. Snapshot and Metrics ride along
// with every store and freshness update so a client never has to re-query.
type streamFrame struct {
	Type      string                    `json:"type"`
	At        time.Time                 `json:"at"`
	Change    *leadsync.Change          `json:"change,omitempty"`
	Notice    *leadsync.Notice          `json:"notice,omitempty"`
	Snapshot  *leadsync.Snapshot        `json:"snapshot,omitempty"`
	Metrics   *leadsync.MetricsSnapshot `json:"metrics,omitempty"`
	Freshness *leadsync.FreshnessReport `json:"freshness,omitempty"`
	LeadID    string                    `json:"leadId,omitempty"`
	Messages  []leadsync.Message        `json:"messages,omitempty"`
}

func (s *Server) snapshotFrame(kind string) streamFrame {
	snap := s.engine.Store.Snapshot()
	rollup := s.engine.Rollup.Snapshot()
	report := s.engine.Freshness.Last()
	frame := streamFrame{Type: kind, At: s.now().UTC(), Snapshot: &snap, Metrics: &rollup}
	if !report.At.IsZero() {
		frame.Freshness = &report
	}
	return frame
}

func (s *Server) conversationFrame(view *leadsync.ConversationView) streamFrame {
	return streamFrame{Type: "conversation", At: s.now().UTC(), LeadID: view.LeadID(), Messages: view.Messages()}
}

// handleStream pushes engine updates. With ?leadId= the stream also keeps a
// conversation view open for that lead, so its new messages take the fast path
// and arrive as "conversation" frames.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	leadID := strings.TrimSpace(r.URL.Query().Get("leadId"))
	if leadID != "" {
		if _, ok := s.engine.Store.Lead(leadID); !ok {
			writeEngineError(w, r, leadsync.ErrNotFound)
			return
		}
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("stream upgrade failed")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	updates, cancel := s.engine.Subscribe()
	defer cancel()

	var view *leadsync.ConversationView
	var viewChanged <-chan struct{}
	if leadID != "" {
		view = s.engine.Listener.OpenConversation(leadID)
		defer view.Close()
		viewChanged = view.Changed()
	}

	// Clients only listen; CloseRead handles their control frames and ends ctx
	// when they go away.
	ctx := conn.CloseRead(r.Context())
	log := s.log.With().Str("correlation_id", getCorrelationID(r)).Logger()
	log.Debug().Msg("stream client connected")

	if err := s.writeFrame(ctx, conn, s.snapshotFrame("snapshot")); err != nil {
		return
	}
	if view != nil {
		if err := s.writeFrame(ctx, conn, s.conversationFrame(view)); err != nil {
			return
		}
	}
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("stream client disconnected")
			return
		case <-ping.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				return
			}
		case <-viewChanged:
			if err := s.writeFrame(ctx, conn, s.conversationFrame(view)); err != nil {
				log.Debug().Err(err).Msg("stream write failed")
				return
			}
		case update, ok := <-updates:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "engine stopped")
				return
			}
			var frame streamFrame
			switch update.Kind {
			case leadsync.UpdateNotice:
				frame = streamFrame{Type: string(update.Kind), At: s.now().UTC(), Notice: update.Notice}
			default:
				frame = s.snapshotFrame(string(update.Kind))
				frame.Change = update.Change
				if update.Report != nil {
					frame.Freshness = update.Report
				}
			}
			if err := s.writeFrame(ctx, conn, frame); err != nil {
				log.Debug().Err(err).Msg("stream write failed")
				return
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, frame streamFrame) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, frame)
}
