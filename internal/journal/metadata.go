// Package journal provides the pooled journal writer: the concrete Writer
// and Factory that boulder's writer pool constructs, caches, and hands out.
package journal

// Metadata identifies the journal a writer should be constructed for and
// carries the filesystem path the factory opens.
type Metadata struct {
	name string
	path string
}

// NewMetadata returns Metadata for the journal named name, backed by the
// file at path.
func NewMetadata(name, path string) Metadata {
	return Metadata{name: name, path: path}
}

// Name returns the journal's unique name, satisfying writerpool.Metadata.
func (m Metadata) Name() string {
	return m.name
}

// Path returns the filesystem path the factory should open for this
// journal.
func (m Metadata) Path() string {
	return m.path
}
