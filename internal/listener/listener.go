// Package listener owns the single UDP socket shared by every gateway: it
// demultiplexes inbound datagrams by gateway id, acknowledges protocol
// frames at the UDP layer, and relays downlinks back to their originating
// gateway. Adapted from the teacher's backend/semtechudp.Backend read/send
// loop pair, generalized to the plain GWMP relay semantics of this module
// (no packet-forwarder config push, no protobuf uplink frames).
package listener

import (
	"context"
	"encoding/base64"
	"net"
	"sync"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-packet-multiplexer/internal/gateway"
	"github.com/brocaar/lora-packet-multiplexer/internal/gwmp"
	"github.com/brocaar/lora-packet-multiplexer/internal/metrics"
	"github.com/brocaar/lora-packet-multiplexer/internal/tracing"
)

// janitorInterval is how often the gateway table is swept for idle entries.
var janitorInterval = 60 * time.Second

// chanBuffer bounds the listener <-> forwarder channels. The wire contract
// does not depend on this value; it trades memory for how much bursting
// the relay can absorb before a slow consumer applies backpressure.
const chanBuffer = 4096

// Frame is a gateway-identified raw GWMP datagram as it travels between the
// listener and the forwarder. Carrier optionally holds a binary-encoded
// span context, letting the receiving side continue the trace started by
// whichever side produced the frame.
type Frame struct {
	GatewayID gwmp.GatewayId
	Data      []byte
	Carrier   []byte
}

// Listener owns the bound UDP socket and the gateway return-address table.
type Listener struct {
	conn     *net.UDPConn
	gateways *gateway.Table

	uplinkChan   chan Frame
	downlinkChan chan Frame

	stop      chan struct{}
	closeOnce sync.Once
}

// Setup binds the listener's UDP socket and starts the uplink reader,
// downlink writer and gateway janitor goroutines. It returns the send end
// of the downlink channel (for the forwarder to deliver downlinks on) and
// the receive end of the uplink channel (for the forwarder to consume
// gateway-originated frames from).
func Setup(bind string) (chan<- Frame, <-chan Frame, *Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "listener: resolve udp addr error")
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "listener: listen udp error")
	}

	log.WithField("bind", bind).Info("listener: starting gateway udp listener")

	l := &Listener{
		conn:         conn,
		gateways:     gateway.NewTable(),
		uplinkChan:   make(chan Frame, chanBuffer),
		downlinkChan: make(chan Frame, chanBuffer),
		stop:         make(chan struct{}),
	}

	go l.readUplink()
	go l.writeDownlink()
	go l.gateways.RunJanitor(janitorInterval, l.stop)

	return l.downlinkChan, l.uplinkChan, l, nil
}

// Close releases the UDP socket and stops the janitor and the downlink
// writer. It does not close the downlink channel, and neither does the
// forwarder.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.stop)
	})
	return l.conn.Close()
}

// GatewayTable exposes the gateway return-address table, mainly for tests.
func (l *Listener) GatewayTable() *gateway.Table {
	return l.gateways
}

// readUplink is the single reader for the bound socket. Datagrams are
// handled synchronously, one at a time, so frames from a given gateway
// reach uplinkChan in the order they were received.
func (l *Listener) readUplink() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.stop:
				return
			default:
			}
			log.WithError(err).Error("listener: read from udp error")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		l.handleUplinkDatagram(addr, data)
	}
}

func (l *Listener) handleUplinkDatagram(addr *net.UDPAddr, data []byte) {
	span, ctx := tracing.StartSpanFromContext(context.Background(), "listener.handle_uplink_datagram")
	defer span.Finish()
	span.SetTag("addr", addr.String())

	log := log.WithField("addr", addr)

	if len(data) < 4 {
		log.WithField("size", len(data)).Warn("listener: at least 4 bytes are expected")
		return
	}

	pt, err := gwmp.ParsePacketType(data)
	if err != nil {
		log.WithError(err).Error("listener: parse packet-type error")
		return
	}

	gatewayID, err := gwmp.ParseGatewayId(data)
	if err != nil {
		log.WithError(err).Error("listener: parse gateway id error")
		return
	}
	log = log.WithField("gateway_id", gatewayID)

	if _, err := gwmp.ParseRandomToken(data); err != nil {
		log.WithError(err).Error("listener: parse random token error")
		return
	}

	metrics.IncGatewayUDPReceived(gatewayID, pt)
	log.WithField("type", pt).Debug("listener: received udp packet from gateway")

	carrier, err := tracing.InjectSpanContextIntoBinaryCarrier(tracing.Tracer, span)
	if err != nil {
		log.WithError(err).Debug("listener: inject span context error")
	}

	switch pt {
	case gwmp.PushData:
		l.handlePushData(ctx, addr, gatewayID, data, carrier)
	case gwmp.PullData:
		l.handlePullData(ctx, addr, gatewayID, data, carrier)
	case gwmp.TXAck:
		l.enqueueUplink(Frame{GatewayID: gatewayID, Data: data, Carrier: carrier})
	default:
		log.WithField("type", pt).Warn("listener: unexpected packet-type")
	}
}

func (l *Listener) handlePushData(ctx context.Context, addr *net.UDPAddr, gatewayID gwmp.GatewayId, data, carrier []byte) {
	if len(data) < 12 {
		log.WithField("addr", addr).Error("listener: at least 12 bytes are expected for PUSH_DATA")
		return
	}

	l.sendAck(addr, gatewayID, data, gwmp.PushAck)
	l.enqueueUplink(Frame{GatewayID: gatewayID, Data: data, Carrier: carrier})
}

func (l *Listener) handlePullData(ctx context.Context, addr *net.UDPAddr, gatewayID gwmp.GatewayId, data, carrier []byte) {
	if len(data) < 12 {
		log.WithField("addr", addr).Error("listener: at least 12 bytes are expected for PULL_DATA")
		return
	}

	l.gateways.Set(gatewayID, addr)
	l.sendAck(addr, gatewayID, data, gwmp.PullAck)
	l.enqueueUplink(Frame{GatewayID: gatewayID, Data: data, Carrier: carrier})
}

func (l *Listener) sendAck(addr *net.UDPAddr, gatewayID gwmp.GatewayId, data []byte, ackType gwmp.PacketType) {
	ack, err := gwmp.BuildAck(data, ackType)
	if err != nil {
		log.WithError(err).Error("listener: build ack error")
		return
	}

	if _, err := l.conn.WriteToUDP(ack, addr); err != nil {
		log.WithFields(log.Fields{"addr": addr, "type": ackType}).WithError(err).Error("listener: write ack error")
		return
	}
	metrics.IncGatewayUDPSent(gatewayID, ackType)
}

func (l *Listener) enqueueUplink(f Frame) {
	l.uplinkChan <- f
}

func (l *Listener) writeDownlink() {
	for {
		select {
		case f, ok := <-l.downlinkChan:
			if !ok {
				return
			}
			l.handleDownlinkFrame(f)
		case <-l.stop:
			return
		}
	}
}

func (l *Listener) handleDownlinkFrame(f Frame) {
	span := l.startDownlinkSpan(f)
	defer span.Finish()

	entry, ok := l.gateways.Get(f.GatewayID)
	if !ok {
		log.WithField("gateway_id", f.GatewayID).WithField(
			"data_base64", base64.StdEncoding.EncodeToString(f.Data),
		).Warn("listener: unknown gateway id, dropping downlink")
		return
	}

	pt, err := gwmp.ParsePacketType(f.Data)
	if err != nil {
		log.WithError(err).Error("listener: parse packet-type error")
		return
	}

	if _, err := l.conn.WriteToUDP(f.Data, entry.Addr); err != nil {
		log.WithFields(log.Fields{
			"gateway_id": f.GatewayID,
			"addr":       entry.Addr,
			"type":       pt,
		}).WithError(err).Error("listener: write downlink error")
		return
	}

	metrics.IncGatewayUDPSent(f.GatewayID, pt)
	log.WithFields(log.Fields{
		"gateway_id": f.GatewayID,
		"addr":       entry.Addr,
		"type":       pt,
	}).Debug("listener: sent udp packet to gateway")
}

// startDownlinkSpan continues the trace carried on f, if any, falling back
// to a fresh root span when the frame carries no carrier (e.g. in tests
// that construct a Frame directly).
func (l *Listener) startDownlinkSpan(f Frame) opentracing.Span {
	if len(f.Carrier) == 0 {
		span, _ := tracing.StartSpanFromContext(context.Background(), "listener.handle_downlink_frame")
		return span
	}

	parent, err := tracing.ExtractSpanContextFromBinaryCarrier(tracing.Tracer, f.Carrier)
	if err != nil {
		span, _ := tracing.StartSpanFromContext(context.Background(), "listener.handle_downlink_frame")
		return span
	}

	return tracing.Tracer.StartSpan("listener.handle_downlink_frame", opentracing.ChildOf(parent))
}
