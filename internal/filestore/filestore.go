package filestore

import (
	"io"
)

// FileStore stores attachment content addressed by its hash.
type FileStore interface {
	// Save stores the file content and returns its content hash, which
	// becomes the attachment's FileID. Saving the same content twice is
	// idempotent and returns the same hash.
	Save(r io.Reader) (string, error)

	// Get retrieves the file content for the given hash.
	Get(hash string) (io.ReadCloser, error)
}
