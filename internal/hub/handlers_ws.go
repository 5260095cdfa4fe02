package hub

import (
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gobwas/ws"

	"github.com/dishpatch/realtime/internal/monitoring"
)

// HandleUpgrade is the /ws endpoint: admission control, WebSocket
// upgrade, then one read pump and one write pump per connection.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIP(r)

	if atomic.LoadInt32(&h.shuttingDown) == 1 {
		monitoring.ConnectionsRejected.WithLabelValues("shutdown").Inc()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if h.opts.ConnLimiter != nil && !h.opts.ConnLimiter.Allow(clientIP) {
		monitoring.ConnectionsRejected.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if h.guard != nil {
		if accept, reason := h.guard.ShouldAccept(); !accept {
			h.logger.Warn().
				Str("client_ip", clientIP).
				Str("reason", reason).
				Int64("connections", atomic.LoadInt64(&h.currentConns)).
				Msg("Connection rejected by resource guard")
			monitoring.ConnectionsRejected.WithLabelValues(reason).Inc()
			http.Error(w, "Server overloaded", http.StatusServiceUnavailable)
			return
		}
	}

	select {
	case h.connSem <- struct{}{}:
	default:
		monitoring.ConnectionsRejected.WithLabelValues("max_connections").Inc()
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-h.connSem
		monitoring.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		h.logger.Error().Err(err).Str("client_ip", clientIP).Msg("WebSocket upgrade failed")
		return
	}

	c := h.newConn()
	c.conn = conn
	h.conns.Store(c.id, c)
	count := atomic.AddInt64(&h.currentConns, 1)
	monitoring.ConnectionsTotal.Inc()
	monitoring.ConnectionsActive.Inc()

	h.logger.Info().
		Int64("conn_id", c.id).
		Str("client_ip", clientIP).
		Int64("connections", count).
		Msg("Connection accepted")

	h.wg.Add(2)
	go h.writePump(c)
	go h.readPump(c)
}

// clientIP prefers X-Forwarded-For (set by the load balancer), falling
// back to the socket address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
