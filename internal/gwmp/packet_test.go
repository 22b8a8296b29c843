package gwmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePacketType(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    PacketType
		wantErr bool
	}{
		{"push_data", []byte{0x02, 0x01, 0x02, 0x00}, PushData, false},
		{"pull_resp", []byte{0x02, 0x01, 0x02, 0x03}, PullResp, false},
		{"too_short", []byte{0x02, 0x01, 0x02}, 0, true},
		{"unknown_type", []byte{0x02, 0x01, 0x02, 0xff}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePacketType(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseGatewayId(t *testing.T) {
	data := []byte{0x02, 0x01, 0x02, 0x02, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	id, err := ParseGatewayId(data)
	require.NoError(t, err)
	assert.Equal(t, GatewayId{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, id)

	_, err = ParseGatewayId(data[:11])
	assert.Error(t, err)
}

func TestParseRandomToken(t *testing.T) {
	data := []byte{0x02, 0xaa, 0xbb, 0x03}
	tok, err := ParseRandomToken(data)
	require.NoError(t, err)
	assert.Equal(t, RandomToken(0xaabb), tok)
}

func TestBuildAck(t *testing.T) {
	pushData := []byte{0x02, 0x01, 0x02, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x7b, 0x7d}
	ack, err := BuildAck(pushData, PushAck)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x02, 0x01}, ack)

	pullData := []byte{0x02, 0x01, 0x02, 0x02, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	ack, err = BuildAck(pullData, PullAck)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x02, 0x04}, ack)
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "PUSH_DATA", PushData.String())
	assert.Equal(t, "TX_ACK", TXAck.String())
}
