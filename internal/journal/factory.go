package journal

import (
	"fmt"
	"os"
	"path/filepath"

	"boulder/pkg/storage"
	"boulder/pkg/writerpool"
)

// Factory physically constructs journal writers from Metadata. It
// implements writerpool.Factory.
type Factory struct{}

var _ writerpool.Factory = Factory{}

// Construct opens the journal file named by meta using direct I/O, creating
// it and any parent directories if necessary.
func (Factory) Construct(meta writerpool.Metadata) (writerpool.Writer, error) {
	jm, ok := meta.(Metadata)
	if !ok {
		return nil, fmt.Errorf("journal: unexpected metadata type %T", meta)
	}

	if err := os.MkdirAll(filepath.Dir(jm.Path()), 0755); err != nil {
		return nil, fmt.Errorf("journal: failed to create directory for %q: %w", jm.Name(), err)
	}

	file, err := storage.NewWriter(jm.Path(), os.O_CREATE|os.O_RDWR|os.O_APPEND)
	if err != nil {
		return nil, fmt.Errorf("journal: failed to open %q: %w", jm.Name(), err)
	}

	return newWriter(jm.Name(), file), nil
}
