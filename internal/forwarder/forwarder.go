// Package forwarder maintains the mesh of per-(server, gateway) UDP
// sessions, applies filter and direction policy, correlates downlink
// responses with outstanding uplinks by token, and garbage-collects idle
// sessions. Adapted from the teacher's internal/forwarder package: the
// shape (a Setup function spawning long-running loops over the backend's
// channels) is kept, but what is forwarded to is generalized from "the one
// configured integration" to "every matching upstream server".
package forwarder

import (
	"context"
	"net"
	"sync"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-packet-multiplexer/internal/config"
	"github.com/brocaar/lora-packet-multiplexer/internal/gwmp"
	"github.com/brocaar/lora-packet-multiplexer/internal/listener"
	"github.com/brocaar/lora-packet-multiplexer/internal/metrics"
	"github.com/brocaar/lora-packet-multiplexer/internal/tracing"
)

// SessionTTL is the idle duration after which a session is evicted.
var SessionTTL = 60 * time.Second

// JanitorInterval is how often sessions are swept for idleness.
var JanitorInterval = 60 * time.Second

// Forwarder owns the configured server registry and the uplink dispatcher.
type Forwarder struct {
	// mu guards the servers slice itself (structural changes only, per
	// the single-writer invariant on the registry). Session maps inside
	// each Server are guarded independently by that Server's own mutex,
	// per the fine-grained-lock alternative the design explicitly
	// permits over holding the registry write lock across socket I/O.
	mu      sync.RWMutex
	servers []*Server

	uplinkRx   <-chan listener.Frame
	downlinkTx chan<- listener.Frame

	stop chan struct{}
}

// Server is one configured upstream network server and its live sessions.
type Server struct {
	Host       string
	UplinkOnly bool
	Prefixes   []gwmp.EuiPrefix

	downlinkTx chan<- listener.Frame

	mu       sync.Mutex
	sessions map[gwmp.GatewayId]*session
}

// Setup builds the server registry from conf, wires it to the listener's
// channels, and starts the uplink dispatcher and session janitor.
func Setup(downlinkTx chan<- listener.Frame, uplinkRx <-chan listener.Frame, servers []config.Server) (*Forwarder, error) {
	log.Info("forwarder: setting up forwarder")

	f := &Forwarder{
		uplinkRx:   uplinkRx,
		downlinkTx: downlinkTx,
		stop:       make(chan struct{}),
	}

	for _, s := range servers {
		if err := f.AddServer(s); err != nil {
			return nil, errors.Wrap(err, "forwarder: add server error")
		}
	}

	go f.dispatchUplink()
	go f.runJanitor()

	return f, nil
}

// AddServer appends a new upstream server to the registry. It is the only
// structural mutator of the registry besides Setup itself.
func (f *Forwarder) AddServer(s config.Server) error {
	prefixes := make([]gwmp.EuiPrefix, 0, len(s.GatewayIDPrefixes))
	for _, raw := range s.GatewayIDPrefixes {
		p, err := gwmp.ParseEuiPrefix(raw)
		if err != nil {
			return errors.Wrapf(err, "forwarder: parse gateway_id_prefixes entry %q error", raw)
		}
		prefixes = append(prefixes, p)
	}

	log.WithFields(log.Fields{
		"host":                s.Server,
		"uplink_only":         s.UplinkOnly,
		"gateway_id_prefixes": s.GatewayIDPrefixes,
	}).Info("forwarder: adding server")

	srv := &Server{
		Host:       s.Server,
		UplinkOnly: s.UplinkOnly,
		Prefixes:   prefixes,
		downlinkTx: f.downlinkTx,
		sessions:   make(map[gwmp.GatewayId]*session),
	}

	f.mu.Lock()
	f.servers = append(f.servers, srv)
	f.mu.Unlock()

	return nil
}

// Close evicts every session across every server, releasing their sockets.
func (f *Forwarder) Close() {
	close(f.stop)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, srv := range f.servers {
		srv.closeAllSessions()
	}
}

func (f *Forwarder) dispatchUplink() {
	for frame := range f.uplinkRx {
		f.handleUplinkFrame(frame)
	}
}

func (f *Forwarder) handleUplinkFrame(frame listener.Frame) {
	span := startUplinkSpan(frame)
	defer span.Finish()

	pt, err := gwmp.ParsePacketType(frame.Data)
	if err != nil {
		log.WithError(err).Error("forwarder: parse packet-type error")
		return
	}

	token, err := gwmp.ParseRandomToken(frame.Data)
	if err != nil {
		log.WithError(err).Error("forwarder: parse random token error")
		return
	}

	f.mu.RLock()
	servers := f.servers
	f.mu.RUnlock()

	for _, srv := range servers {
		if !gwmp.MatchAny(srv.Prefixes, frame.GatewayID) {
			continue
		}

		sess, err := srv.getOrCreateSession(frame.GatewayID)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"server":     srv.Host,
				"gateway_id": frame.GatewayID,
			}).Error("forwarder: get or create session error")
			continue
		}

		sess.mu.Lock()
		sess.lastUplink = time.Now()

		switch pt {
		case gwmp.PushData:
			sess.pushDataToken = &token
			srv.sendOnSession(sess, frame.Data, pt)
		case gwmp.PullData:
			sess.pullDataToken = &token
			srv.sendOnSession(sess, frame.Data, pt)
		case gwmp.TXAck:
			if sess.pullRespToken != nil && *sess.pullRespToken == token {
				sess.pullRespToken = nil
				srv.sendOnSession(sess, frame.Data, pt)
			}
		}
		sess.mu.Unlock()
	}
}

// sendOnSession writes data to the session's connected socket. Called with
// sess.mu held.
func (srv *Server) sendOnSession(sess *session, data []byte, pt gwmp.PacketType) {
	if _, err := sess.conn.Write(data); err != nil {
		log.WithFields(log.Fields{
			"server":     srv.Host,
			"gateway_id": sess.gatewayID,
			"type":       pt,
		}).WithError(err).Error("forwarder: send udp packet error")
		return
	}
	metrics.IncServerUDPSent(srv.Host, pt)
}

func (srv *Server) getOrCreateSession(gatewayID gwmp.GatewayId) (*session, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if sess, ok := srv.sessions[gatewayID]; ok {
		return sess, nil
	}

	log.WithFields(log.Fields{
		"server":     srv.Host,
		"gateway_id": gatewayID,
	}).Info("forwarder: initializing session to server")

	raddr, err := net.ResolveUDPAddr("udp", srv.Host)
	if err != nil {
		return nil, errors.Wrap(err, "resolve server addr error")
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "dial server udp socket error")
	}

	sess := &session{
		conn:       conn,
		gatewayID:  gatewayID,
		lastUplink: time.Now(),
	}

	srv.sessions[gatewayID] = sess
	go srv.runSessionReceiver(sess)

	return sess, nil
}

func (srv *Server) closeAllSessions() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for id, sess := range srv.sessions {
		sess.close()
		delete(srv.sessions, id)
	}
}

func (f *Forwarder) runJanitor() {
	ticker := time.NewTicker(JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.cleanupSessions()
		case <-f.stop:
			return
		}
	}
}

func (f *Forwarder) cleanupSessions() {
	f.mu.RLock()
	servers := f.servers
	f.mu.RUnlock()

	for _, srv := range servers {
		srv.evictIdleSessions()
	}
}

func (srv *Server) evictIdleSessions() {
	now := time.Now()

	srv.mu.Lock()
	defer srv.mu.Unlock()

	for id, sess := range srv.sessions {
		sess.mu.Lock()
		age := now.Sub(sess.lastUplink)
		sess.mu.Unlock()

		if age >= SessionTTL || age < 0 {
			log.WithFields(log.Fields{
				"server":     srv.Host,
				"gateway_id": id,
			}).Info("forwarder: evicting idle session")
			sess.close()
			delete(srv.sessions, id)
		}
	}
}

// startUplinkSpan continues the trace started by the listener, if frame
// carries one, otherwise starts a fresh root span.
func startUplinkSpan(frame listener.Frame) opentracing.Span {
	if len(frame.Carrier) == 0 {
		span, _ := tracing.StartSpanFromContext(context.Background(), "forwarder.handle_uplink_frame")
		return span
	}

	parent, err := tracing.ExtractSpanContextFromBinaryCarrier(tracing.Tracer, frame.Carrier)
	if err != nil {
		span, _ := tracing.StartSpanFromContext(context.Background(), "forwarder.handle_uplink_frame")
		return span
	}

	return tracing.Tracer.StartSpan("forwarder.handle_uplink_frame", opentracing.ChildOf(parent))
}
