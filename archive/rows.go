package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

const (
	// readChunkSize is how much decompressed data one streaming read pulls.
	readChunkSize = 512 << 10
	// lineQueueDepth bounds the producer queue; the consumer pulls at its
	// own pace and the producer blocks when it runs ahead.
	lineQueueDepth = 8192
)

var lineSep = []byte("\r\n")

// Line is one complete `<row …/>` record and its byte offset, measured from
// the start position handed to Lines.
type Line struct {
	Offset int64
	Data   []byte
}

// LineIter streams lines from a background producer.  Call Next until it
// reports false, then Err for the terminal state.
type LineIter struct {
	ch     chan Line
	cancel context.CancelFunc

	err  error
	done chan struct{}
}

// Lines streams every `\r\n`-terminated row line from start onward.  Offsets
// are relative to start, which is what a resuming caller passes back.  The
// producer holds one pool slot for the duration of the pass.
func (r *Reader) Lines(ctx context.Context, start int64) *LineIter {
	ctx, cancel := context.WithCancel(ctx)
	it := &LineIter{
		ch:     make(chan Line, lineQueueDepth),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go it.produce(ctx, r, start)
	return it
}

func (it *LineIter) produce(ctx context.Context, r *Reader, start int64) {
	defer close(it.done)
	defer close(it.ch)

	if err := r.o.pool.Acquire(ctx); err != nil {
		it.err = err
		return
	}
	defer r.o.pool.Release()

	var (
		carry []byte
		pos   = start
		rel   int64
		chunk = make([]byte, r.o.chunkSize)
	)
	if pos < 0 {
		pos = 0
	}

	for {
		n, rerr := r.src.ReadAt(chunk, pos)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			it.err = fmt.Errorf("failed to read %q at %d: %w", r.name, pos, rerr)
			return
		}
		pos += int64(n)

		buf := append(carry, chunk[:n]...)
		for {
			idx := bytes.Index(buf, lineSep)
			if idx < 0 {
				break
			}
			seg := buf[:idx]
			if len(seg) > 0 && seg[len(seg)-1] == '>' {
				line := make([]byte, idx+len(lineSep))
				copy(line, buf[:idx+len(lineSep)])
				select {
				case it.ch <- Line{Offset: rel, Data: line}:
				case <-ctx.Done():
					it.err = ctx.Err()
					return
				}
			} else {
				r.o.logger.Debug("skipping malformed line",
					zap.String("archive", r.name), zap.Int64("offset", rel))
			}
			rel += int64(idx + len(lineSep))
			buf = buf[idx+len(lineSep):]
		}
		carry = append(carry[:0], buf...)

		if errors.Is(rerr, io.EOF) || n == 0 {
			if len(carry) > 0 {
				r.o.logger.Debug("dropping unterminated trailing bytes",
					zap.String("archive", r.name), zap.Int("len", len(carry)))
			}
			return
		}
	}
}

// Next returns the next line, blocking on the producer.  It reports false
// once the stream is exhausted or failed.
func (it *LineIter) Next() (Line, bool) {
	l, ok := <-it.ch
	return l, ok
}

// Err returns the terminal error of the pass, nil on clean end-of-stream.
func (it *LineIter) Err() error {
	<-it.done
	return it.err
}

// Stop cancels the producer; pending queued lines are discarded.
func (it *LineIter) Stop() {
	it.cancel()
	for range it.ch {
	}
}
