package bzseek

import (
	"encoding/binary"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTableRoundTrip(t *testing.T) {
	t.Parallel()

	table := &BlockTable{
		Level:     '9',
		FooterBit: 123456,
		Blocks: []BlockSpec{
			{BitPos: 32, DecompSize: 900_000},
			{BitPos: 54321, DecompSize: 123},
		},
	}

	p, err := table.MarshalBinary()
	require.NoError(t, err)

	got := &BlockTable{}
	require.NoError(t, got.UnmarshalBinary(p))
	assert.Equal(t, table, got)
}

func TestBlockTableCorruption(t *testing.T) {
	t.Parallel()

	table := &BlockTable{Level: '1', FooterBit: 99, Blocks: []BlockSpec{{BitPos: 32, DecompSize: 7}}}
	p, err := table.MarshalBinary()
	require.NoError(t, err)

	t.Run("bitflip", func(t *testing.T) {
		bad := append([]byte{}, p...)
		bad[tableHeaderSize] ^= 0xFF
		assert.ErrorIs(t, (&BlockTable{}).UnmarshalBinary(bad), ErrCorruptIndex)
	})

	t.Run("truncated", func(t *testing.T) {
		assert.ErrorIs(t, (&BlockTable{}).UnmarshalBinary(p[:len(p)-1]), ErrCorruptIndex)
		assert.ErrorIs(t, (&BlockTable{}).UnmarshalBinary(nil), ErrCorruptIndex)
	})

	t.Run("version", func(t *testing.T) {
		bad := append([]byte{}, p...)
		bad[4] = 0xFE
		// Re-seal the checksum so the version check, not the checksum, rejects it.
		binary.LittleEndian.PutUint64(bad[len(bad)-checksumSize:], xxhash.Sum64(bad[:len(bad)-checksumSize]))
		assert.ErrorIs(t, (&BlockTable{}).UnmarshalBinary(bad), ErrCorruptIndex)
	})
}
