package filestore

import (
	"io"
)

// FileStore holds image blobs addressed by their content hash. Metadata
// (mime type, owner, public ID) lives in the main storage; this is just
// the bytes.
type FileStore interface {
	// Save stores the content under the given hash. It is idempotent: if a
	// blob with the same hash already exists, it returns nil.
	Save(r io.Reader, hash string) error

	// Get retrieves the content for the given hash.
	Get(hash string) (io.ReadCloser, error)
}
