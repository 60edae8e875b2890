package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lantern "github.com/joshuafuller/lantern"
	"github.com/joshuafuller/lantern/internal/protocol"
)

func TestBuilderQuestionAndRecord(t *testing.T) {
	b := NewBuilder(protocol.MDNSMessageMaxSize, false)
	b.SetID(0x1234)

	require.NoError(t, b.AppendQuestion("dev", "", ".local", protocol.TypeANY, protocol.ClassIN|protocol.QUBit))
	require.NoError(t, b.AppendRecord(SectionAuthority, "dev", "", ".local",
		protocol.TypeA, protocol.ClassIN, 120, []byte{192, 0, 2, 10}))

	msg := b.Bytes()
	assert.Equal(t, uint16(0x1234), ID(msg))
	assert.False(t, IsResponse(msg))
	assert.Equal(t, 1, QDCount(msg))
	assert.Equal(t, 0, ANCount(msg))
	assert.Equal(t, 1, NSCount(msg))

	q, err := ParseQuestion(msg, protocol.HeaderSize)
	require.NoError(t, err)
	assert.Equal(t, uint16(protocol.TypeANY), q.Type)
	assert.Equal(t, uint16(protocol.ClassIN|protocol.QUBit), q.Class)

	res, err := CompareServiceName(msg, q.NameOff, "dev", "", ".local")
	require.NoError(t, err)
	assert.Equal(t, 0, res)

	rec, err := ParseRecord(msg, q.End)
	require.NoError(t, err)
	assert.Equal(t, uint16(protocol.TypeA), rec.Type)
}

func TestBuilderResponseFlags(t *testing.T) {
	b := NewBuilder(protocol.MDNSMessageMaxSize, true)
	msg := b.Bytes()
	assert.True(t, IsResponse(msg))
	assert.NotZero(t, Flags(msg)&protocol.FlagAA)
	assert.Equal(t, uint8(protocol.RCodeNoError), RCode(msg))
}

func TestBuilderContainsRecord(t *testing.T) {
	b := NewBuilder(protocol.MDNSMessageMaxSize, true)
	require.NoError(t, b.AppendRecord(SectionAnswer, "dev", "", ".local",
		protocol.TypeA, protocol.ClassIN, 120, []byte{192, 0, 2, 10}))

	assert.True(t, b.ContainsRecord("dev", "", ".local", protocol.TypeA))
	assert.True(t, b.ContainsRecord("DEV", "", ".local", protocol.TypeA))
	assert.False(t, b.ContainsRecord("dev", "", ".local", protocol.TypeAAAA))
	assert.False(t, b.ContainsRecord("other", "", ".local", protocol.TypeA))
}

func TestBuilderRemoveAnswer(t *testing.T) {
	b := NewBuilder(protocol.MDNSMessageMaxSize, true)
	require.NoError(t, b.AppendRecord(SectionAnswer, "one", "", ".local",
		protocol.TypeA, protocol.ClassIN, 120, []byte{192, 0, 2, 1}))
	require.NoError(t, b.AppendRecord(SectionAnswer, "two", "", ".local",
		protocol.TypeA, protocol.ClassIN, 120, []byte{192, 0, 2, 2}))

	rec, err := ParseRecord(b.Bytes(), protocol.HeaderSize)
	require.NoError(t, err)
	b.RemoveAnswer(rec.NameOff, rec.End)

	assert.Equal(t, 1, ANCount(b.Bytes()))
	remaining, err := ParseRecord(b.Bytes(), protocol.HeaderSize)
	require.NoError(t, err)
	res, err := CompareServiceName(b.Bytes(), remaining.NameOff, "two", "", ".local")
	require.NoError(t, err)
	assert.Equal(t, 0, res)
}

func TestBuilderPromoteAnswers(t *testing.T) {
	b := NewBuilder(protocol.MDNSMessageMaxSize, true)
	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, b.AppendRecord(SectionAnswer, name, "", ".local",
			protocol.TypeA, protocol.ClassIN, 120, []byte{192, 0, 2, 1}))
	}

	b.PromoteAnswers(1)
	assert.Equal(t, 1, ANCount(b.Bytes()))
	assert.Equal(t, 2, ARCount(b.Bytes()))

	// Promoting with nothing to move is a no-op.
	b.PromoteAnswers(5)
	assert.Equal(t, 1, ANCount(b.Bytes()))
}

func TestBuilderBounded(t *testing.T) {
	b := NewBuilder(64, false)
	require.NoError(t, b.AppendQuestion("0123456789012345678901234567890123456789", "", "",
		protocol.TypeA, protocol.ClassIN))

	err := b.AppendQuestion("0123456789012345678901234567890123456789", "", "",
		protocol.TypeA, protocol.ClassIN)
	assert.ErrorIs(t, err, lantern.ErrMessageTooLong)
}
