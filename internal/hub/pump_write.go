package hub

import (
	"bufio"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dishpatch/realtime/internal/monitoring"
)

// writePump drains the connection's send channel, batching queued
// messages through one buffered writer to cut syscalls, and keeps the
// connection alive with periodic pings.
func (h *Hub) writePump(c *Conn) {
	defer h.wg.Done()
	defer monitoring.RecoverPanic(h.logger, "writePump")

	writer := bufio.NewWriter(c.conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeOnce.Do(func() { c.conn.Close() })
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
				h.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("Write failed")
				return
			}
			monitoring.MessagesSent.Inc()

			// Batch whatever else is already queued.
			n := len(c.send)
			for i := 0; i < n; i++ {
				message = <-c.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
					h.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("Write failed")
					return
				}
				monitoring.MessagesSent.Inc()
			}

			if err := writer.Flush(); err != nil {
				h.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("Flush failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				h.logger.Debug().Err(err).Int64("conn_id", c.id).Msg("Ping failed")
				return
			}

		case <-c.done:
			wsutil.WriteServerMessage(c.conn, ws.OpClose, []byte{})
			return

		case <-h.ctx.Done():
			return
		}
	}
}
