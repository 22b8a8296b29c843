package gwmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEuiPrefix(t *testing.T) {
	p, err := ParseEuiPrefix("0101000000000000/16")
	require.NoError(t, err)
	assert.Equal(t, uint8(16), p.MaskBits)
	assert.Equal(t, "0101000000000000/16", p.String())

	_, err = ParseEuiPrefix("not-a-prefix")
	assert.Error(t, err)

	_, err = ParseEuiPrefix("0101000000000000/65")
	assert.Error(t, err)

	_, err = ParseEuiPrefix("0101/16")
	assert.Error(t, err)
}

func TestEuiPrefixMatch(t *testing.T) {
	// Gateway id 0102030405060708 (BE on the wire) has LE view 0807060504030201.
	id := GatewayId{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	p, err := ParseEuiPrefix("0101000000000000/16")
	require.NoError(t, err)
	assert.False(t, p.Match(id))

	p, err = ParseEuiPrefix("0807000000000000/16")
	require.NoError(t, err)
	assert.True(t, p.Match(id))

	p, err = ParseEuiPrefix("0807060504030201/64")
	require.NoError(t, err)
	assert.True(t, p.Match(id))

	// Non-byte-aligned mask.
	p, err = ParseEuiPrefix("0800000000000000/5")
	require.NoError(t, err)
	assert.True(t, p.Match(id))
}

func TestMatchAnyEmptyMatchesEverything(t *testing.T) {
	id := GatewayId{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	assert.True(t, MatchAny(nil, id))
}
