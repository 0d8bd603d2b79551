package archive

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

type Option func(*options) error

type options struct {
	logger      *zap.Logger
	pool        *Pool
	parallelism int
	chunkSize   int
}

func (o *options) setDefault() {
	*o = options{
		logger:      zap.NewNop(),
		pool:        NewPool(defaultPoolSize()),
		parallelism: runtime.NumCPU(),
		chunkSize:   readChunkSize,
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) error { o.logger = l; return nil }
}

// WithPool shares one blocking-read pool across readers.
func WithPool(p *Pool) Option {
	return func(o *options) error { o.pool = p; return nil }
}

// WithParallelism bounds block-index construction for bzip2-backed archives.
func WithParallelism(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("parallelism must be positive: %d", n)
		}
		o.parallelism = n
		return nil
	}
}

// WithChunkSize overrides the streaming read chunk; tests shrink it to
// exercise partial-line carry.
func WithChunkSize(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("chunk size must be positive: %d", n)
		}
		o.chunkSize = n
		return nil
	}
}
