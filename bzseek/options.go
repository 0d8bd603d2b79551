package bzseek

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

type Option func(*readerOptions) error

type readerOptions struct {
	logger      *zap.Logger
	dec         Decoder
	parallelism int
	sidecarPath string
}

func (o *readerOptions) setDefault() {
	*o = readerOptions{
		logger:      zap.NewNop(),
		dec:         DSNetDecoder{},
		parallelism: runtime.NumCPU(),
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *readerOptions) error { o.logger = l; return nil }
}

func WithDecoder(dec Decoder) Option {
	return func(o *readerOptions) error { o.dec = dec; return nil }
}

// WithParallelism bounds the number of blocks measured concurrently while the
// offset table is being built.
func WithParallelism(n int) Option {
	return func(o *readerOptions) error {
		if n < 1 {
			return fmt.Errorf("parallelism must be positive: %d", n)
		}
		o.parallelism = n
		return nil
	}
}

// WithSidecar persists the block table at path and restores it on reopen.
// A corrupt sidecar is deleted and rebuilt.
func WithSidecar(path string) Option {
	return func(o *readerOptions) error { o.sidecarPath = path; return nil }
}
