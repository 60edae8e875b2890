package prng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicForSameSeedAndIV(t *testing.T) {
	seed := [10]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	eui := [8]byte{0x02, 0x11, 0x22, 0xFF, 0xFE, 0x33, 0x44, 0x55}

	a := New(seed, eui)
	b := New(seed, eui)

	for i := 0; i < 16; i++ {
		assert.Equal(t, a.Uint32(), b.Uint32())
	}
}

func TestReseedChangesStream(t *testing.T) {
	seed := [10]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	eui := [8]byte{0x02, 0x11, 0x22, 0xFF, 0xFE, 0x33, 0x44, 0x55}

	a := New(seed, eui)
	first := make([]uint32, 8)
	for i := range first {
		first[i] = a.Uint32()
	}

	// The invocation counter feeds the IV, so a reseed with the same
	// hardware address still yields a new stream.
	a.Reseed(eui)
	same := true
	for i := range first {
		if a.Uint32() != first[i] {
			same = false
		}
	}
	assert.False(t, same)
}

func TestStreamIsNotConstant(t *testing.T) {
	st := New([10]byte{0xAA}, [8]byte{0x01})

	seen := make(map[uint32]bool)
	for i := 0; i < 32; i++ {
		seen[st.Uint32()] = true
	}
	assert.Greater(t, len(seen), 16, "keystream should not repeat trivially")
}

func TestRange(t *testing.T) {
	st := New([10]byte{7}, [8]byte{9})

	for i := 0; i < 1000; i++ {
		v := st.Range(49152, 65535)
		assert.GreaterOrEqual(t, v, 49152)
		assert.LessOrEqual(t, v, 65535)
	}

	assert.Equal(t, 5, st.Range(5, 5))
	assert.Equal(t, 5, st.Range(5, 3))
}

func TestEntropyPerturbsOutput(t *testing.T) {
	seed := [10]byte{1}
	eui := [8]byte{2}

	a := New(seed, eui)
	b := New(seed, eui)
	b.AddEntropy(12345)

	assert.Equal(t, a.Uint32()+12345, b.Uint32())
}
