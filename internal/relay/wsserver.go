package relay

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avpeers/groupplay/internal/config"
	"github.com/avpeers/groupplay/internal/metrics"
	"github.com/avpeers/groupplay/internal/ratelimit"
)

const wsWriteWait = 10 * time.Second

// WSServer upgrades /ws requests and runs one session per connection.
type WSServer struct {
	log      *slog.Logger
	cfg      config.Config
	registry *Registry
	router   *Router
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewWSServer(log *slog.Logger, cfg config.Config, registry *Registry, router *Router, m *metrics.Metrics) *WSServer {
	if log == nil {
		log = slog.Default()
	}
	s := &WSServer{
		log:      log.With("component", "ws"),
		cfg:      cfg,
		registry: registry,
		router:   router,
		metrics:  m,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin admits browser pages from the configured origins. With no
// allowlist configured, every origin (and non-browser clients, which
// send none) is admitted; the relay carries no secrets.
func (s *WSServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := NewSession()
	s.metrics.Inc(metrics.SessionOpened)
	s.log.Info("session opened", "session", sess.ID, "remote", r.RemoteAddr)

	go s.writePump(conn, sess)
	s.readPump(conn, sess)

	s.router.HandleClose(sess)
	sess.Close()
	_ = conn.Close()
	s.metrics.Inc(metrics.SessionClosed)
	s.log.Info("session closed", "session", sess.ID)
}

func (s *WSServer) readPump(conn *websocket.Conn, sess *Session) {
	conn.SetReadLimit(s.cfg.MaxSignalMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.WSPongTimeout))
	})

	limiter := ratelimit.NewTokenBucket(
		ratelimit.RealClock{},
		int64(s.cfg.MaxSignalMessagesPerSecond),
		int64(s.cfg.MaxSignalMessagesPerSecond),
	)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read error", "session", sess.ID, "error", err)
			}
			return
		}
		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			s.log.Warn("rate limit exceeded, dropping message", "session", sess.ID)
			continue
		}
		s.router.HandleMessage(sess, raw)
	}
}

func (s *WSServer) writePump(conn *websocket.Conn, sess *Session) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer ticker.Stop()
	// Closing the connection here unblocks the read pump if the write
	// side is the one that failed.
	defer conn.Close()

	for {
		select {
		case frame := <-sess.Out():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				sess.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}
		case <-sess.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
