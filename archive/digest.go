package archive

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// digestSampleSize is how much of the head and the tail of an archive
// contributes to its content digest.
const digestSampleSize = 512 << 10

// DigestFile returns a stable content identifier for the archive file itself
// (not its decompressed content).  Multi-gigabyte dumps make whole-file
// hashing impractical, so only the first 512 KiB and the 512 KiB starting
// 4×512 KiB before end-of-file are sampled.  This detects a file replacement
// but not a mid-file modification.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %q: %w", path, err)
	}

	head, err := readSample(f, 0)
	if err != nil {
		return "", fmt.Errorf("failed to sample head of %q: %w", path, err)
	}
	tail, err := readSample(f, tailSampleStart(st.Size()))
	if err != nil {
		return "", fmt.Errorf("failed to sample tail of %q: %w", path, err)
	}
	return digestChunks(head, tail), nil
}

func digestBytes(p []byte) string {
	head := p
	if len(head) > digestSampleSize {
		head = head[:digestSampleSize]
	}
	tail := p[tailSampleStart(int64(len(p))):]
	if len(tail) > digestSampleSize {
		tail = tail[:digestSampleSize]
	}
	return digestChunks(head, tail)
}

func tailSampleStart(size int64) int64 {
	start := size - 4*digestSampleSize
	if start < 0 {
		start = 0
	}
	return start
}

func readSample(r io.ReaderAt, off int64) ([]byte, error) {
	p := make([]byte, digestSampleSize)
	n, err := r.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return p[:n], nil
}

func digestChunks(head, tail []byte) string {
	return fmt.Sprintf("%016x%016x", xxhash.Sum64(head), xxhash.Sum64(tail))
}
