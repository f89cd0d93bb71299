package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ent0n29/voicepipeline/internal/protocol"
	"github.com/ent0n29/voicepipeline/internal/turn"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}
	if s.sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "session manager not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	outbound := make(chan turn.Event, 64)
	sess := s.sessions.Create(sessionID, outbound)
	logger := s.logger.With(zap.String("session_id", sessionID), zap.String("session_key", sess.Key()))
	s.metrics.ObserveSessionEvent("ws_connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, sess.Close, outbound, logger)
	}()

	conn.SetReadLimit(int64(s.cfg.WSReadLimitBytes))
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	var limiter *rate.Limiter
	if s.cfg.WSMessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.WSMessagesPerSecond), s.cfg.WSMessageBurst)
	}

	ctx := r.Context()
	disconnected := false
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", zap.Error(err))
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.ObserveWSMessage("inbound", "invalid")
			if sess.Reject(ctx, err) != nil {
				break
			}
			continue
		}
		s.metrics.ObserveWSMessage("inbound", string(parsed.Type))
		if err := sess.Dispatch(ctx, parsed); err != nil {
			break
		}
		if parsed.Type == protocol.TypeDisconnect {
			disconnected = true
			break
		}
	}

	if disconnected {
		// Let the session flush its final mode change.
		select {
		case <-sess.Done():
		case <-time.After(wsWriteTimeout):
		}
	}
	sess.Close()
	<-sess.Done()
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

// writeLoop is the only writer on conn. It returns once outbound is closed
// or a write fails, in which case stop ends the session.
func (s *Server) writeLoop(conn *websocket.Conn, stop func(), outbound <-chan turn.Event, logger *zap.Logger) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-outbound:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(time.Second))
				return
			}
			msg, ok := protocol.ServerMessageFor(ev)
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				s.metrics.ObserveSessionEvent("ws_write_failed")
				stop()
				return
			}
			s.metrics.ObserveWSMessage("outbound", outboundType(msg))
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				stop()
				return
			}
		}
	}
}

func outboundType(v any) string {
	switch m := v.(type) {
	case protocol.ModeChange:
		return string(m.Type)
	case protocol.TextMessage:
		return string(m.Type)
	case protocol.AgentAudio:
		return string(m.Type)
	case protocol.ErrorMessage:
		return string(m.Type)
	default:
		return "unknown"
	}
}
