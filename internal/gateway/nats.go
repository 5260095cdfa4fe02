package gateway

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Bridge is the NATS side of the gateway: one wildcard subscription
// over the platform namespace, forwarding every mappable subject into
// the router.
type Bridge struct {
	gw   *Gateway
	conn *nats.Conn
	sub  *nats.Subscription
}

// ConnectBridge dials NATS and starts forwarding. Reconnection is
// handled by the client; events published while disconnected are
// simply lost, which the at-most-once contract already allows.
func ConnectBridge(url string, gw *Gateway) (*Bridge, error) {
	b := &Bridge{gw: gw}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.PingInterval(20 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				gw.logger.Warn().Err(err).Msg("Event bus disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			gw.logger.Info().Str("url", nc.ConnectedUrl()).Msg("Event bus reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			gw.logger.Error().Err(err).Msg("Event bus error")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect event bus: %w", err)
	}
	b.conn = conn

	sub, err := conn.Subscribe(SubjectPrefix+".>", b.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s.>: %w", SubjectPrefix, err)
	}
	b.sub = sub

	gw.logger.Info().Str("url", url).Msg("Event bus bridge started")
	return b, nil
}

func (b *Bridge) handle(msg *nats.Msg) {
	topic, event, ok := MapSubject(msg.Subject)
	if !ok {
		b.gw.logger.Warn().Str("subject", msg.Subject).Msg("Unmappable event subject, dropped")
		return
	}
	delivered := b.gw.publish("bus", topic, event, msg.Data)
	b.gw.logger.Debug().
		Str("subject", msg.Subject).
		Str("topic", topic).
		Str("event", event).
		Int("delivered", delivered).
		Msg("Business event fanned out")
}

// Close drains the subscription and closes the connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
