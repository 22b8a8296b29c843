package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brocaar/lora-packet-multiplexer/internal/gwmp"
)

var (
	gatewayUDPReceivedCount func(string, string)
	gatewayUDPSentCount     func(string, string)
	serverUDPReceivedCount  func(string, string)
	serverUDPSentCount      func(string, string)
)

func init() {
	grc := MustRegisterNewCounter(
		"gateway_udp_received_count",
		"Number of UDP datagrams received from the gateway.",
		[]string{"gateway_id", "type"},
	)
	gsc := MustRegisterNewCounter(
		"gateway_udp_sent_count",
		"Number of UDP datagrams sent to the gateway.",
		[]string{"gateway_id", "type"},
	)
	src := MustRegisterNewCounter(
		"server_udp_received_count",
		"Number of UDP datagrams received from the server.",
		[]string{"server", "type"},
	)
	ssc := MustRegisterNewCounter(
		"server_udp_sent_count",
		"Number of UDP datagrams sent to the server.",
		[]string{"server", "type"},
	)

	gatewayUDPReceivedCount = func(gatewayID, pType string) {
		grc(prometheus.Labels{"gateway_id": gatewayID, "type": pType})
	}
	gatewayUDPSentCount = func(gatewayID, pType string) {
		gsc(prometheus.Labels{"gateway_id": gatewayID, "type": pType})
	}
	serverUDPReceivedCount = func(server, pType string) {
		src(prometheus.Labels{"server": server, "type": pType})
	}
	serverUDPSentCount = func(server, pType string) {
		ssc(prometheus.Labels{"server": server, "type": pType})
	}
}

// IncGatewayUDPReceived increments gateway_udp_received_count{gateway_id,type}.
func IncGatewayUDPReceived(id gwmp.GatewayId, t gwmp.PacketType) {
	gatewayUDPReceivedCount(id.String(), t.String())
}

// IncGatewayUDPSent increments gateway_udp_sent_count{gateway_id,type}.
func IncGatewayUDPSent(id gwmp.GatewayId, t gwmp.PacketType) {
	gatewayUDPSentCount(id.String(), t.String())
}

// IncServerUDPReceived increments server_udp_received_count{server,type}.
func IncServerUDPReceived(server string, t gwmp.PacketType) {
	serverUDPReceivedCount(server, t.String())
}

// IncServerUDPSent increments server_udp_sent_count{server,type}.
func IncServerUDPSent(server string, t gwmp.PacketType) {
	serverUDPSentCount(server, t.String())
}
