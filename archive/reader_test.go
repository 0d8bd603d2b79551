package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReadAt(t *testing.T) {
	t.Parallel()

	r := memReader(t, twoRows)
	ctx := context.Background()

	assert.Equal(t, int64(len(twoRows)), r.Size())

	p, err := r.ReadAt(ctx, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("<row"), p)

	p, err = r.ReadAt(ctx, r.Size()-1, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("\n"), p)

	_, err = r.ReadAt(ctx, r.Size(), 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = r.ReadAt(ctx, -1, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = r.ReadAt(ctx, 0, r.Size()+1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestReaderClosed(t *testing.T) {
	t.Parallel()

	r, err := NewMemory("x.7z", []byte(twoRows))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.ReadAt(context.Background(), 0, 1)
	assert.Error(t, err)
}

func TestReaderDigestStable(t *testing.T) {
	t.Parallel()

	a, err := NewMemory("x.7z", []byte(twoRows))
	require.NoError(t, err)
	defer a.Close()
	b, err := NewMemory("y.7z", []byte(twoRows))
	require.NoError(t, err)
	defer b.Close()
	c, err := NewMemory("z.7z", []byte(twoRows+"more"))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), c.Digest())
}

func TestIsSolidBzip2(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSolidBzip2("/data/stackoverflow.com-Posts.7z"))
	assert.True(t, IsSolidBzip2("/data/stackoverflow.com-Tags.7z"))
	assert.False(t, IsSolidBzip2("/data/worldbuilding.stackexchange.com.7z"))
}

func TestOpenFileNotAnArchive(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, []byte("definitely not a container"))
	_, err := OpenFile(path, PostsMember)
	assert.ErrorIs(t, err, ErrNotAnArchive)
}
