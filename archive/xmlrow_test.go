package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRow(t *testing.T) {
	t.Parallel()

	attrs, err := ParseRow([]byte("<row Id=\"10\" PostTypeId=\"1\" Title=\"a &amp; b\"/>\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "10", attrs["Id"])
	assert.Equal(t, "1", attrs["PostTypeId"])
	assert.Equal(t, "a & b", attrs["Title"])
	_, ok := attrs["Score"]
	assert.False(t, ok)
}

func TestParseRowNotRow(t *testing.T) {
	t.Parallel()

	_, err := ParseRow([]byte("<posts>\r\n"))
	assert.ErrorIs(t, err, ErrNotRow)

	_, err = ParseRow([]byte("<?xml version=\"1.0\" encoding=\"utf-8\"?>\r\n"))
	assert.ErrorIs(t, err, ErrNotRow)
}

func TestParseRowMalformed(t *testing.T) {
	t.Parallel()

	_, err := ParseRow([]byte("<row Id=\"10\" truncated"))
	assert.Error(t, err)

	_, err = ParseRow([]byte("no xml at all"))
	assert.Error(t, err)
}
