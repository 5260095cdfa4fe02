package hub

import (
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dishpatch/realtime/internal/monitoring"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 30 * time.Second

	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// readPump reads envelopes from the connection and dispatches them
// until the peer goes away. Its exit drives the disconnect cleanup, so
// presence, occupancy and call state are released even on transport
// failure.
func (h *Hub) readPump(c *Conn) {
	defer h.wg.Done()
	defer monitoring.RecoverPanic(h.logger, "readPump")
	defer h.disconnect(c, "read_closed")

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			monitoring.MessagesReceived.Inc()

			// One noisy client must not starve the rest. Over-limit
			// messages are dropped, the connection survives.
			if !c.limiter.Allow() {
				monitoring.RateLimitedMessages.Inc()
				h.logger.Warn().Int64("conn_id", c.id).Msg("Client rate limited, message dropped")
				continue
			}

			h.dispatch(c, msg)

		case ws.OpClose:
			return

		case ws.OpPing:
			// gobwas/wsutil replies to pings for us.
		}
	}
}
