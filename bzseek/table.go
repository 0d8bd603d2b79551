package bzseek

/*
## Sidecar format

The block table is persisted next to the archive so that subsequent opens skip
the full-stream measurement pass.  The layout is little-endian:

|`Magic`  |`Version`|`Level`|`Pad`|`Number_Of_Blocks`|`Footer_Bit`|`[Block_Entries]`|`Checksum`|
|---------|---------|-------|-----|------------------|------------|-----------------|----------|
| 4 bytes | 2 bytes | 1 byte|1 b  | 4 bytes          | 8 bytes    | 12 bytes each   | 8 bytes  |

Each block entry is the bit position of the block magic inside the compressed
stream (8 bytes) followed by the decompressed size of the block (4 bytes).
`Checksum` is the XXH64 digest of everything before it; a mismatch marks the
sidecar as corrupt and forces a rebuild.
*/

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap/zapcore"
)

const (
	tableMagic   = 0x58495A42 // "BZIX"
	tableVersion = 1

	tableHeaderSize = 20
	blockSpecSize   = 12
	checksumSize    = 8
)

// ErrCorruptIndex marks an unreadable or version-mismatched sidecar.
var ErrCorruptIndex = errors.New("bzseek: corrupt block index")

// BlockSpec is the persisted description of one compressed block.
type BlockSpec struct {
	// BitPos is the bit position of the block magic in the compressed stream.
	BitPos uint64
	// DecompSize is the size of the data contained in the block.
	DecompSize uint32
}

// BlockTable is the complete offset table of a stream, as stored in the sidecar.
type BlockTable struct {
	// Level is the stream block-size digit ('1'..'9') from the stream header.
	Level byte
	// FooterBit is the bit position of the stream footer magic, terminating the last block.
	FooterBit uint64
	Blocks    []BlockSpec
}

func (t *BlockTable) MarshalBinary() ([]byte, error) {
	dst := make([]byte, tableHeaderSize+blockSpecSize*len(t.Blocks)+checksumSize)
	binary.LittleEndian.PutUint32(dst[0:], tableMagic)
	binary.LittleEndian.PutUint16(dst[4:], tableVersion)
	dst[6] = t.Level
	binary.LittleEndian.PutUint32(dst[8:], uint32(len(t.Blocks)))
	binary.LittleEndian.PutUint64(dst[12:], t.FooterBit)
	for i, b := range t.Blocks {
		off := tableHeaderSize + i*blockSpecSize
		binary.LittleEndian.PutUint64(dst[off:], b.BitPos)
		binary.LittleEndian.PutUint32(dst[off+8:], b.DecompSize)
	}
	sum := xxhash.Sum64(dst[:len(dst)-checksumSize])
	binary.LittleEndian.PutUint64(dst[len(dst)-checksumSize:], sum)
	return dst, nil
}

func (t *BlockTable) UnmarshalBinary(p []byte) error {
	if len(p) < tableHeaderSize+checksumSize {
		return fmt.Errorf("%w: table too small: %d", ErrCorruptIndex, len(p))
	}
	sum := binary.LittleEndian.Uint64(p[len(p)-checksumSize:])
	if sum != xxhash.Sum64(p[:len(p)-checksumSize]) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptIndex)
	}
	if magic := binary.LittleEndian.Uint32(p[0:]); magic != tableMagic {
		return fmt.Errorf("%w: magic mismatch %d vs %d", ErrCorruptIndex, magic, tableMagic)
	}
	if version := binary.LittleEndian.Uint16(p[4:]); version != tableVersion {
		return fmt.Errorf("%w: version mismatch %d vs %d", ErrCorruptIndex, version, tableVersion)
	}
	t.Level = p[6]
	if t.Level < '1' || t.Level > '9' {
		return fmt.Errorf("%w: bad level %q", ErrCorruptIndex, t.Level)
	}
	numBlocks := binary.LittleEndian.Uint32(p[8:])
	t.FooterBit = binary.LittleEndian.Uint64(p[12:])
	if expected := tableHeaderSize + int(numBlocks)*blockSpecSize + checksumSize; len(p) != expected {
		return fmt.Errorf("%w: table length mismatch %d vs %d", ErrCorruptIndex, len(p), expected)
	}
	t.Blocks = make([]BlockSpec, numBlocks)
	for i := range t.Blocks {
		off := tableHeaderSize + i*blockSpecSize
		t.Blocks[i].BitPos = binary.LittleEndian.Uint64(p[off:])
		t.Blocks[i].DecompSize = binary.LittleEndian.Uint32(p[off+8:])
	}
	return nil
}

// BlockOffsetEntry is the post-processed view of a BlockSpec suitable for indexing.
type BlockOffsetEntry struct {
	// ID is the sequence number of the block in the stream.
	ID int64

	// BitPos is the bit position of the block magic in the compressed stream.
	BitPos uint64
	// EndBit is the bit position one past the block payload (the next block
	// magic, or the stream footer magic for the last block).
	EndBit uint64
	// DecompOffset is the offset of the block within the decompressed stream.
	DecompOffset uint64
	// DecompSize is the size of the decompressed block.
	DecompSize uint32
}

func (o *BlockOffsetEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("ID", o.ID)
	enc.AddUint64("BitPos", o.BitPos)
	enc.AddUint64("EndBit", o.EndBit)
	enc.AddUint64("DecompOffset", o.DecompOffset)
	enc.AddUint32("DecompSize", o.DecompSize)
	return nil
}

func entryLess(a, b *BlockOffsetEntry) bool {
	return a.DecompOffset < b.DecompOffset
}
