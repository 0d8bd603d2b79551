package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sedump/sedump/bzseek"
)

const (
	// PostsMember and TagsMember are the row files a dump archive carries.
	PostsMember = "Posts.xml"
	TagsMember  = "Tags.xml"
)

var (
	ErrNotAnArchive  = errors.New("archive: not a 7z archive")
	ErrMissingMember = errors.New("archive: member not found")
	ErrOutOfBounds   = errors.New("archive: read out of bounds")
)

var sevenZipSignature = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}

// byteSource is the seekable decompressed view a Reader serves from: either
// an indexed-bzip2 stream or an extracted member held in memory.
type byteSource interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// Reader is a uniform random-access byte stream over one row file of a dump
// archive, plus a streaming line iterator with byte offsets.
type Reader struct {
	name   string
	member string
	digest string

	src byteSource

	o      options
	closed atomic.Bool
}

// OpenFile opens one row file of the archive at path.  Archives whose
// basename carries a `-Posts`/`-Tags` suffix embed the row file as a raw
// bzip2 stream behind the container header and are served through the
// block-indexed reader; anything else is a regular container whose member is
// extracted into memory.
func OpenFile(path, member string, opts ...Option) (*Reader, error) {
	var o options
	o.setDefault()
	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return nil, err
		}
	}

	digest, err := DigestFile(path)
	if err != nil {
		return nil, err
	}

	var src byteSource
	if IsSolidBzip2(path) {
		src, err = openIndexedBzip2(path, &o)
	} else {
		src, err = extractMember(path, member)
	}
	if err != nil {
		return nil, err
	}

	r := &Reader{
		name:   filepath.Base(path),
		member: member,
		digest: digest,
		src:    src,
		o:      o,
	}
	o.logger.Info("opened archive",
		zap.String("name", r.name), zap.String("member", member), zap.Int64("size", r.Size()))
	return r, nil
}

// NewMemory serves rows from an in-memory byte slice.  This is the backend
// the extracted-member path uses, exported for fixtures and tooling.
func NewMemory(name string, data []byte, opts ...Option) (*Reader, error) {
	var o options
	o.setDefault()
	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return nil, err
		}
	}
	return &Reader{
		name:   name,
		digest: digestBytes(data),
		src:    bzseek.NewBytesSource(data),
		o:      o,
	}, nil
}

// IsSolidBzip2 reports whether the archive embeds its row file as a raw bzip2
// stream rather than as a listed container member.
func IsSolidBzip2(path string) bool {
	base := filepath.Base(path)
	return strings.Contains(base, "-Posts") || strings.Contains(base, "-Tags")
}

func openIndexedBzip2(path string, o *options) (byteSource, error) {
	if err := checkSevenZipSignature(path); err != nil {
		return nil, err
	}
	mf, err := bzseek.OpenMagicOffset(path)
	if err != nil {
		return nil, err
	}
	src, err := bzseek.NewReader(mf,
		bzseek.WithLogger(o.logger),
		bzseek.WithParallelism(o.parallelism),
		bzseek.WithSidecar(path+"-index.dat"),
	)
	if err != nil {
		err = multierr.Append(err, mf.Close())
		return nil, err
	}
	return src, nil
}

func checkSevenZipSignature(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	sig := make([]byte, len(sevenZipSignature))
	if _, err := io.ReadFull(f, sig); err != nil || !bytes.Equal(sig, sevenZipSignature) {
		return fmt.Errorf("%w: %q", ErrNotAnArchive, path)
	}
	return nil
}

func extractMember(path, member string) (byteSource, error) {
	rc, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrNotAnArchive, path, err)
	}
	defer rc.Close()

	for _, f := range rc.File {
		if f.Name != member {
			continue
		}
		fr, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open member %q of %q: %w", member, path, err)
		}
		data, err := io.ReadAll(fr)
		err = multierr.Append(err, fr.Close())
		if err != nil {
			return nil, fmt.Errorf("failed to extract member %q of %q: %w", member, path, err)
		}
		return bzseek.NewBytesSource(data), nil
	}
	return nil, fmt.Errorf("%w: %q in %q", ErrMissingMember, member, path)
}

// MemberNames lists the members of a container archive.
func MemberNames(path string) ([]string, error) {
	rc, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrNotAnArchive, path, err)
	}
	defer rc.Close()

	names := make([]string, 0, len(rc.File))
	for _, f := range rc.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// Name returns the archive basename the reader was opened from.
func (r *Reader) Name() string { return r.name }

// Digest returns the sampled content digest of the source archive file.
func (r *Reader) Digest() string { return r.digest }

// Size returns the total decompressed byte length of the row file.
func (r *Reader) Size() int64 { return r.src.Size() }

// ReadAt returns exactly length bytes of the decompressed stream starting at
// start.  The blocking read runs on the shared pool; it is safe for
// concurrent callers.
func (r *Reader) ReadAt(ctx context.Context, start, length int64) ([]byte, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("reader %q is closed", r.name)
	}
	if start < 0 || length < 0 || start+length > r.Size() {
		return nil, fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfBounds, start, start+length, r.Size())
	}

	if err := r.o.pool.Acquire(ctx); err != nil {
		return nil, err
	}
	defer r.o.pool.Release()

	p := make([]byte, length)
	n, err := r.src.ReadAt(p, start)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
		return nil, fmt.Errorf("failed to read %q at %d: %w", r.name, start, err)
	}
	return p, nil
}

func (r *Reader) Close() (err error) {
	if r.closed.CAS(false, true) {
		err = multierr.Append(err, r.src.Close())
	}
	return
}
