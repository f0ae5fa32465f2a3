package index

import "github.com/starford/munin/internal/models"

// DocIndex defines the interface for document cache operations.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with mocks.
type DocIndex interface {
	UpsertDocument(d DocRow, body string, edges []models.Edge) error
	DeleteDocument(path string) error
	GetDocument(path string) (*DocRow, error)
	GetChecksum(path string) (string, error)
	ListDocuments(limit, offset int, tag, sort string) ([]DocRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Backlinks(target string) ([]string, error)
	AllPaths() (map[string]struct{}, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies DocIndex at compile time.
var _ DocIndex = (*DB)(nil)
