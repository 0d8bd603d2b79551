package bzseek

import (
	"bytes"
	"io"

	"github.com/dsnet/compress/bzip2"
	"go.uber.org/multierr"
)

// Decoder decompresses one standalone bzip2 stream, as produced by the block
// rematerialiser.  Implementations must be safe for concurrent use; the
// default creates a fresh decompressor per call.
// Tested with github.com/dsnet/compress/bzip2.
type Decoder interface {
	DecodeStream(src []byte) ([]byte, error)
}

// DSNetDecoder decodes via github.com/dsnet/compress/bzip2.
type DSNetDecoder struct{}

var _ Decoder = DSNetDecoder{}

func (DSNetDecoder) DecodeStream(src []byte) ([]byte, error) {
	zr, err := bzip2.NewReader(bytes.NewReader(src), nil)
	if err != nil {
		return nil, err
	}
	p, err := io.ReadAll(zr)
	err = multierr.Append(err, zr.Close())
	if err != nil {
		return nil, err
	}
	return p, nil
}
