package indexer

import (
	"go.uber.org/zap"
)

type Option func(*options) error

type options struct {
	logger   *zap.Logger
	progress func(indexed, lastID int64)
}

func (o *options) setDefault() {
	*o = options{
		logger:   zap.NewNop(),
		progress: func(int64, int64) {},
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) error { o.logger = l; return nil }
}

// WithProgress is called after every committed batch with the number of
// classified rows so far and the id of the last row in the dump.
func WithProgress(fn func(indexed, lastID int64)) Option {
	return func(o *options) error { o.progress = fn; return nil }
}
