package bzseek

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/google/btree"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type cachedBlock struct {
	m sync.Mutex

	offset uint64
	data   []byte
}

func (c *cachedBlock) replace(offset uint64, data []byte) {
	c.m.Lock()
	defer c.m.Unlock()

	c.offset = offset
	c.data = data
}

func (c *cachedBlock) get() (uint64, []byte) {
	c.m.Lock()
	defer c.m.Unlock()

	return c.offset, c.data
}

// Reader provides random access to the decompressed content of a bzip2 stream
// through a pre-built block-offset table.
type Reader interface {
	// ReadAt implements io.ReaderAt over the decompressed stream.
	// This method is goroutine-safe and can be called concurrently.
	ReadAt(p []byte, off int64) (n int, err error)

	// Size returns the size of the decompressed stream.
	Size() int64

	// NumBlocks returns the number of compressed blocks in the stream.
	NumBlocks() int64

	// Close releases the underlying source.
	Close() error
}

type readerImpl struct {
	src   SourceFile
	index *btree.BTreeG[*BlockOffsetEntry]

	level     byte
	endOffset int64
	numBlocks int64

	o readerOptions

	closed atomic.Bool

	// readMu serialises ReadAt calls.
	readMu sync.Mutex

	cachedBlock cachedBlock
}

var _ io.ReaderAt = (*readerImpl)(nil)

// NewReader scans or restores the block-offset table of src and returns a
// random-access view of its decompressed content.
func NewReader(src SourceFile, opts ...Option) (Reader, error) {
	sr := readerImpl{src: src}

	sr.o.setDefault()
	for _, o := range opts {
		if err := o(&sr.o); err != nil {
			return nil, err
		}
	}

	table, err := sr.openTable()
	if err != nil {
		return nil, err
	}
	if err := sr.installTable(table); err != nil {
		return nil, err
	}
	return &sr, nil
}

// openTable restores the sidecar table when possible and measures the stream
// otherwise.  Sidecar write failures are not fatal: the table is kept in
// memory and rebuilt on the next open.
func (r *readerImpl) openTable() (*BlockTable, error) {
	path := r.o.sidecarPath
	if path != "" {
		p, err := os.ReadFile(path)
		switch {
		case err == nil:
			table := &BlockTable{}
			uerr := table.UnmarshalBinary(p)
			if uerr == nil {
				r.o.logger.Debug("restored block index", zap.String("path", path),
					zap.Int("blocks", len(table.Blocks)))
				return table, nil
			}
			r.o.logger.Warn("rebuilding corrupt block index", zap.String("path", path), zap.Error(uerr))
			_ = os.Remove(path)
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read block index %q: %w", path, err)
		}
	}

	table, err := r.buildTable()
	if err != nil {
		return nil, err
	}

	if path != "" {
		p, merr := table.MarshalBinary()
		if merr == nil {
			merr = os.WriteFile(path, p, 0o644)
		}
		if merr != nil {
			r.o.logger.Warn("failed to persist block index", zap.String("path", path), zap.Error(merr))
		}
	}
	return table, nil
}

// buildTable scans the compressed stream for block boundaries and measures
// every block by decompressing it once, in parallel.
func (r *readerImpl) buildTable() (*BlockTable, error) {
	level, positions, footerBit, err := scanStream(r.src)
	if err != nil {
		return nil, err
	}
	r.o.logger.Debug("scanned stream",
		zap.Int("blocks", len(positions)), zap.Uint64("footerBit", footerBit))

	specs := make([]BlockSpec, len(positions))

	var g errgroup.Group
	g.SetLimit(r.o.parallelism)
	for i := range positions {
		i := i
		g.Go(func() error {
			end := footerBit
			if i+1 < len(positions) {
				end = positions[i+1]
			}
			stream, err := buildBlockStream(r.src, level, positions[i], end)
			if err != nil {
				return err
			}
			data, err := r.o.dec.DecodeStream(stream)
			if err != nil {
				return fmt.Errorf("failed to measure block %d at bit %d: %w", i, positions[i], err)
			}
			if len(data) > math.MaxUint32 {
				return fmt.Errorf("block %d too large: %d", i, len(data))
			}
			specs[i] = BlockSpec{BitPos: positions[i], DecompSize: uint32(len(data))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &BlockTable{Level: level, FooterBit: footerBit, Blocks: specs}, nil
}

func (r *readerImpl) installTable(t *BlockTable) error {
	index := btree.NewG(8, entryLess)

	var decompOffset uint64
	for i, b := range t.Blocks {
		end := t.FooterBit
		if i+1 < len(t.Blocks) {
			end = t.Blocks[i+1].BitPos
		}
		if end <= b.BitPos {
			return fmt.Errorf("%w: block %d bounds [%d, %d)", ErrCorruptIndex, i, b.BitPos, end)
		}
		index.ReplaceOrInsert(&BlockOffsetEntry{
			ID:           int64(i),
			BitPos:       b.BitPos,
			EndBit:       end,
			DecompOffset: decompOffset,
			DecompSize:   b.DecompSize,
		})
		decompOffset += uint64(b.DecompSize)
	}

	r.index = index
	r.level = t.Level
	r.endOffset = int64(decompOffset)
	r.numBlocks = int64(len(t.Blocks))
	return nil
}

func (r *readerImpl) Size() int64 { return r.endOffset }

func (r *readerImpl) NumBlocks() int64 { return r.numBlocks }

func (r *readerImpl) ReadAt(p []byte, off int64) (n int, err error) {
	r.readMu.Lock()
	defer r.readMu.Unlock()

	for m := 0; n < len(p) && err == nil; n += m {
		m, err = r.read(p[n:], off+int64(n))
	}
	return
}

func (r *readerImpl) read(dst []byte, off int64) (int, error) {
	if r.closed.Load() {
		return 0, fmt.Errorf("reader is closed")
	}

	if off >= r.endOffset {
		return 0, io.EOF
	}
	if off < 0 {
		return 0, fmt.Errorf("offset before the start of the stream: %d", off)
	}

	entry := r.blockAt(uint64(off))
	if entry == nil {
		return 0, fmt.Errorf("failed to get block by offset: %d", off)
	}

	var decompressed []byte

	cachedOffset, cachedData := r.cachedBlock.get()
	if cachedOffset == entry.DecompOffset && cachedData != nil {
		// fastpath
		decompressed = cachedData
	} else {
		// slowpath
		stream, err := buildBlockStream(r.src, r.level, entry.BitPos, entry.EndBit)
		if err != nil {
			return 0, err
		}
		decompressed, err = r.o.dec.DecodeStream(stream)
		if err != nil {
			return 0, fmt.Errorf("failed to decompress block at bit %d: %w", entry.BitPos, err)
		}
		if len(decompressed) != int(entry.DecompSize) {
			return 0, fmt.Errorf("%w: block %d length %d, expected %d",
				ErrCorruptIndex, entry.ID, len(decompressed), entry.DecompSize)
		}
		r.cachedBlock.replace(entry.DecompOffset, decompressed)
	}

	offsetWithinBlock := uint64(off) - entry.DecompOffset

	size := uint64(len(decompressed)) - offsetWithinBlock
	if size > uint64(len(dst)) {
		size = uint64(len(dst))
	}

	r.o.logger.Debug("decompressed", zap.Uint64("offsetWithinBlock", offsetWithinBlock),
		zap.Uint64("size", size), zap.Object("block", entry))
	copy(dst, decompressed[offsetWithinBlock:offsetWithinBlock+size])

	return int(size), nil
}

func (r *readerImpl) blockAt(off uint64) (found *BlockOffsetEntry) {
	if off >= uint64(r.endOffset) {
		return nil
	}

	r.index.DescendLessOrEqual(&BlockOffsetEntry{DecompOffset: off}, func(e *BlockOffsetEntry) bool {
		found = e
		return false
	})
	return
}

func (r *readerImpl) Close() (err error) {
	if r.closed.CAS(false, true) {
		r.cachedBlock.replace(math.MaxUint64, nil)
		r.index = nil
		err = multierr.Append(err, r.src.Close())
	}
	return
}
