package importer

import (
	"fmt"
	"io"

	"github.com/zero-day-ai/stixgraph/stix"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

// ParseBundle decodes and validates a bundle. Any problem is reported as a
// malformed_bundle error.
func ParseBundle(r io.Reader) (*stix.Bundle, error) {
	const op = "importer.ParseBundle"

	b, err := stix.Decode(r)
	if err != nil {
		return nil, stixerr.NewMalformedBundleError(op, fmt.Errorf("%w: %v", stixerr.ErrMalformedBundle, err))
	}
	if err := b.Validate(); err != nil {
		return nil, stixerr.NewMalformedBundleError(op, fmt.Errorf("%w: %v", stixerr.ErrMalformedBundle, err))
	}
	return b, nil
}
