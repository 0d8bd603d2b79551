package archive

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// ErrNotRow is returned for well-formed XML whose element is not `<row …/>`.
var ErrNotRow = errors.New("archive: not a row element")

// Attrs is the attribute set of one row element.  Values are forwarded
// verbatim; nothing is canonicalised.
type Attrs map[string]string

// ParseRow pulls the attributes off a single self-closing `<row …/>` line.
// It tokenises instead of building a document tree: attribute access on one
// element is all the callers need.
func ParseRow(p []byte) (Attrs, error) {
	dec := xml.NewDecoder(bytes.NewReader(p))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrNotRow
			}
			return nil, fmt.Errorf("failed to parse row: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "row" {
			return nil, ErrNotRow
		}
		attrs := make(Attrs, len(start.Attr))
		for _, a := range start.Attr {
			attrs[a.Name.Local] = a.Value
		}
		return attrs, nil
	}
}
