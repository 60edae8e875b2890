package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeNBNSName(t *testing.T) {
	buf := make([]byte, NBNSEncodedNameLen)
	n, err := EncodeNBNSName("PRINTER", buf)
	require.NoError(t, err)
	assert.Equal(t, NBNSEncodedNameLen, n, "encoded NetBIOS names are exactly 34 octets")

	assert.Equal(t, byte(32), buf[0])
	assert.Equal(t, byte(0), buf[33])

	// 'P' is 0x50: high nibble 5 → 'F', low nibble 0 → 'A'.
	assert.Equal(t, byte('F'), buf[1])
	assert.Equal(t, byte('A'), buf[2])

	// Padding is encoded spaces: 0x20 → "CA".
	assert.Equal(t, byte('C'), buf[15])
	assert.Equal(t, byte('A'), buf[16])
}

func TestNBNSNameRoundTrip(t *testing.T) {
	for _, name := range []string{"A", "PRINTER", "FIFTEENCHARSXYZ"} {
		buf := make([]byte, NBNSEncodedNameLen)
		n, err := EncodeNBNSName(name, buf)
		require.NoError(t, err, name)
		require.Equal(t, NBNSEncodedNameLen, n)

		decoded, next, err := ParseNBNSName(buf, 0)
		require.NoError(t, err, name)
		assert.Equal(t, name, decoded)
		assert.Equal(t, NBNSEncodedNameLen, next)
	}
}

func TestEncodeNBNSNameUppercases(t *testing.T) {
	a := make([]byte, NBNSEncodedNameLen)
	b := make([]byte, NBNSEncodedNameLen)
	_, err := EncodeNBNSName("printer", a)
	require.NoError(t, err)
	_, err = EncodeNBNSName("PRINTER", b)
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestEncodeNBNSNameBounds(t *testing.T) {
	buf := make([]byte, NBNSEncodedNameLen)
	_, err := EncodeNBNSName("", buf)
	assert.Error(t, err)
	_, err = EncodeNBNSName("SIXTEENCHARACTER", buf)
	assert.Error(t, err)
}

func TestCompareNBNSName(t *testing.T) {
	buf := make([]byte, NBNSEncodedNameLen)
	_, err := EncodeNBNSName("PRINTER", buf)
	require.NoError(t, err)

	assert.True(t, CompareNBNSName(buf, 0, "printer"))
	assert.True(t, CompareNBNSName(buf, 0, "PRINTER"))
	assert.False(t, CompareNBNSName(buf, 0, "SCANNER"))
	assert.False(t, CompareNBNSName(buf, 0, "PRINT"))
}

func TestParseNBNSNameRejectsBadNibbles(t *testing.T) {
	buf := make([]byte, NBNSEncodedNameLen)
	_, err := EncodeNBNSName("PRINTER", buf)
	require.NoError(t, err)

	buf[1] = 'Z' // outside 'A'..'P'
	_, _, err = ParseNBNSName(buf, 0)
	assert.Error(t, err)
}
