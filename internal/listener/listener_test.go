package listener

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/lora-packet-multiplexer/internal/gwmp"
)

func dialGateway(t *testing.T, bind string) *net.UDPConn {
	t.Helper()
	raddr, err := net.ResolveUDPAddr("udp", bind)
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestListenerAcksWithoutServers(t *testing.T) {
	downlinkTx, uplinkRx, l, err := Setup("127.0.0.1:17010")
	require.NoError(t, err)
	defer l.Close()
	_ = downlinkTx
	_ = uplinkRx

	gw := dialGateway(t, "127.0.0.1:17010")

	pushData := []byte{0x02, 0x01, 0x02, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x7b, 0x7d}
	_, err = gw.Write(pushData)
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, gw.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := gw.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x02, 0x01}, buf[:n])

	pullData := []byte{0x02, 0x01, 0x02, 0x02, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	_, err = gw.Write(pullData)
	require.NoError(t, err)

	require.NoError(t, gw.SetReadDeadline(time.Now().Add(time.Second)))
	n, err = gw.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x02, 0x04}, buf[:n])
}

func TestListenerForwardsUplinkFramesOnChannel(t *testing.T) {
	_, uplinkRx, l, err := Setup("127.0.0.1:17011")
	require.NoError(t, err)
	defer l.Close()

	gw := dialGateway(t, "127.0.0.1:17011")
	pushData := []byte{0x02, 0x01, 0x02, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x7b, 0x7d}
	_, err = gw.Write(pushData)
	require.NoError(t, err)

	select {
	case f := <-uplinkRx:
		assert.Equal(t, gwmp.GatewayId{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, f.GatewayID)
		assert.Equal(t, pushData, f.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for uplink frame")
	}
}

func TestListenerDeliversDownlinkToKnownGateway(t *testing.T) {
	downlinkTx, _, l, err := Setup("127.0.0.1:17012")
	require.NoError(t, err)
	defer l.Close()

	gw := dialGateway(t, "127.0.0.1:17012")

	// PULL_DATA registers the gateway's return address.
	pullData := []byte{0x02, 0xaa, 0xbb, 0x02, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	_, err = gw.Write(pullData)
	require.NoError(t, err)
	buf := make([]byte, 64)
	require.NoError(t, gw.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = gw.Read(buf) // drain PULL_ACK
	require.NoError(t, err)

	pullResp := []byte{0x02, 0xaa, 0xbb, 0x03, 0x7b, 0x7d}
	downlinkTx <- Frame{
		GatewayID: gwmp.GatewayId{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		Data:      pullResp,
	}

	require.NoError(t, gw.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := gw.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, pullResp, buf[:n])
}

func TestListenerDropsDownlinkForUnknownGateway(t *testing.T) {
	downlinkTx, _, l, err := Setup("127.0.0.1:17013")
	require.NoError(t, err)
	defer l.Close()

	downlinkTx <- Frame{
		GatewayID: gwmp.GatewayId{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Data:      []byte{0x02, 0xaa, 0xbb, 0x03, 0x7b, 0x7d},
	}

	// Nothing should blow up; give the writer goroutine a moment to process.
	time.Sleep(50 * time.Millisecond)
}
