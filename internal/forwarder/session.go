package forwarder

import (
	"context"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-packet-multiplexer/internal/gwmp"
	"github.com/brocaar/lora-packet-multiplexer/internal/listener"
	"github.com/brocaar/lora-packet-multiplexer/internal/metrics"
	"github.com/brocaar/lora-packet-multiplexer/internal/tracing"
)

// session is one ephemeral outbound UDP socket dedicated to a single
// (server, gateway) pair, plus the token state needed to correlate a
// downlink delivery report (TX_ACK) back to the PULL_RESP that triggered
// it.
type session struct {
	conn      *net.UDPConn
	gatewayID gwmp.GatewayId

	mu            sync.Mutex
	lastUplink    time.Time
	pushDataToken *gwmp.RandomToken
	pullDataToken *gwmp.RandomToken
	pullRespToken *gwmp.RandomToken

	closeOnce sync.Once
}

// close releases the session's socket. Closing the socket unblocks the
// receiver goroutine's pending Read, which is what stops it; there is no
// separate cancellation signal.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

// runSessionReceiver reads downlinks from the server on this session's
// socket until the socket is closed (eviction) or a read error occurs.
func (srv *Server) runSessionReceiver(sess *session) {
	buf := make([]byte, 65535)

	for {
		n, err := sess.conn.Read(buf)
		if err != nil {
			log.WithFields(log.Fields{
				"server":     srv.Host,
				"gateway_id": sess.gatewayID,
			}).WithError(err).Debug("forwarder: session receiver stopped")
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		srv.handleDownlinkDatagram(sess, data)
	}
}

func (srv *Server) handleDownlinkDatagram(sess *session, data []byte) {
	log := log.WithFields(log.Fields{
		"server":     srv.Host,
		"gateway_id": sess.gatewayID,
	})

	if len(data) < 4 {
		log.WithField("size", len(data)).Warn("forwarder: at least 4 bytes are expected")
		return
	}

	pt, err := gwmp.ParsePacketType(data)
	if err != nil {
		log.WithError(err).Error("forwarder: parse packet-type error")
		return
	}

	token, err := gwmp.ParseRandomToken(data)
	if err != nil {
		log.WithError(err).Error("forwarder: parse random token error")
		return
	}

	metrics.IncServerUDPReceived(srv.Host, pt)
	log.WithFields(log.Fields{"type": pt, "token": token}).Debug("forwarder: received udp packet from server")

	switch pt {
	case gwmp.PullResp:
		if srv.UplinkOnly {
			log.Warn("forwarder: dropping downlink, server is configured as uplink-only")
			return
		}

		sess.mu.Lock()
		sess.pullRespToken = &token
		sess.mu.Unlock()

		span, _ := tracing.StartSpanFromContext(context.Background(), "forwarder.handle_downlink_datagram")
		carrier, err := tracing.InjectSpanContextIntoBinaryCarrier(tracing.Tracer, span)
		if err != nil {
			log.WithError(err).Debug("forwarder: inject span context error")
		}
		span.Finish()

		srv.downlinkTx <- listener.Frame{
			GatewayID: sess.gatewayID,
			Data:      data,
			Carrier:   carrier,
		}
	case gwmp.PullAck:
		log.WithField("token", token).Info("forwarder: PULL_DATA acknowledged")
	case gwmp.PushAck:
		log.WithField("token", token).Info("forwarder: PUSH_DATA acknowledged")
	}
}
