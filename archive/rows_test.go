package archive

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoRows = "<row Id=\"1\" Score=\"3\"/>\r\n<row Id=\"2\" Score=\"4\"/>\r\n"

func collect(t *testing.T, it *LineIter) []Line {
	t.Helper()
	var lines []Line
	for {
		l, ok := it.Next()
		if !ok {
			break
		}
		lines = append(lines, l)
	}
	require.NoError(t, it.Err())
	return lines
}

func memReader(t *testing.T, data string, opts ...Option) *Reader {
	t.Helper()
	r, err := NewMemory("fixture.7z", []byte(data), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestLinesRoundTrip(t *testing.T) {
	t.Parallel()

	r := memReader(t, twoRows)
	lines := collect(t, r.Lines(context.Background(), 0))

	require.Len(t, lines, 2)
	first := "<row Id=\"1\" Score=\"3\"/>\r\n"
	assert.Equal(t, int64(0), lines[0].Offset)
	assert.Equal(t, []byte(first), lines[0].Data)
	assert.Equal(t, int64(len(first)), lines[1].Offset)
	assert.Equal(t, []byte("<row Id=\"2\" Score=\"4\"/>\r\n"), lines[1].Data)

	// Reconcatenation reproduces the input.
	assert.Equal(t, []byte(twoRows), append(append([]byte{}, lines[0].Data...), lines[1].Data...))
}

func TestLinesPartialCarry(t *testing.T) {
	t.Parallel()

	// Any chunk size — including splits mid-tag, mid-attribute and
	// mid-terminator — must yield the same output.
	want := collect(t, memReader(t, twoRows).Lines(context.Background(), 0))
	for chunk := 1; chunk <= len(twoRows)+1; chunk++ {
		r := memReader(t, twoRows, WithChunkSize(chunk))
		got := collect(t, r.Lines(context.Background(), 0))
		require.Equal(t, want, got, "chunk=%d", chunk)
	}
}

func TestLinesOffsetInvariant(t *testing.T) {
	t.Parallel()

	data := "<posts>\r\n<row Id=\"10\" Body=\"x\"/>\r\n<row Id=\"11\"/>\r\n</posts>\r\n"
	r := memReader(t, data, WithChunkSize(7))
	for _, l := range collect(t, r.Lines(context.Background(), 0)) {
		assert.Equal(t, []byte(data)[l.Offset:l.Offset+int64(len(l.Data))], l.Data)
	}
}

func TestLinesResumeOffsetsAreRelative(t *testing.T) {
	t.Parallel()

	first := "<row Id=\"1\" Score=\"3\"/>\r\n"
	r := memReader(t, twoRows)
	lines := collect(t, r.Lines(context.Background(), int64(len(first))))

	require.Len(t, lines, 1)
	assert.Equal(t, int64(0), lines[0].Offset)
	assert.Equal(t, []byte("<row Id=\"2\" Score=\"4\"/>\r\n"), lines[0].Data)
}

func TestLinesSkipsSegmentsWithoutTerminator(t *testing.T) {
	t.Parallel()

	data := "garbage without close\r\n<row Id=\"1\"/>\r\ntrailing partial"
	r := memReader(t, data)
	lines := collect(t, r.Lines(context.Background(), 0))

	require.Len(t, lines, 1)
	assert.Equal(t, []byte("<row Id=\"1\"/>\r\n"), lines[0].Data)
	assert.Equal(t, int64(len("garbage without close\r\n")), lines[0].Offset)
}

func TestLinesStop(t *testing.T) {
	t.Parallel()

	var big bytes.Buffer
	for i := 0; i < 50_000; i++ {
		big.WriteString("<row Id=\"1\"/>\r\n")
	}
	r := memReader(t, big.String())

	it := r.Lines(context.Background(), 0)
	_, ok := it.Next()
	require.True(t, ok)
	it.Stop()
	// The producer unblocks and the pool slot is released: another pass
	// over the same reader completes.
	lines := collect(t, r.Lines(context.Background(), 0))
	assert.Len(t, lines, 50_000)
}

func TestLinesCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := memReader(t, twoRows)
	it := r.Lines(ctx, 0)
	for {
		if _, ok := it.Next(); !ok {
			break
		}
	}
	assert.ErrorIs(t, it.Err(), context.Canceled)
}

func FuzzLinesChunking(f *testing.F) {
	f.Add(twoRows, 1)
	f.Add(twoRows, 3)
	f.Add("<row A=\"1\"/>\r\nnope\r\n<row B=\"2\"/>\r\n", 5)
	f.Fuzz(func(t *testing.T, data string, chunk int) {
		if chunk < 1 || chunk > len(data)+1 || len(data) > 1<<16 {
			t.Skip()
		}
		ref, err := NewMemory("f.7z", []byte(data))
		require.NoError(t, err)
		defer ref.Close()
		want := collect(t, ref.Lines(context.Background(), 0))

		r, err := NewMemory("f.7z", []byte(data), WithChunkSize(chunk))
		require.NoError(t, err)
		defer r.Close()
		got := collect(t, r.Lines(context.Background(), 0))

		require.Equal(t, want, got)
	})
}
