// Package storage defines the memory-bank file-system abstraction.
package storage

import (
	"io/fs"

	"github.com/starford/munin/internal/models"
)

// Provider is the interface for bank file operations. Paths are relative
// to the bank root with forward slashes; implementations must reject
// anything that escapes the root.
type Provider interface {
	// List returns metadata for every .md file under dir (relative to
	// the bank root). Dot-directories, including the state directory
	// kept inside the bank, are skipped.
	List(dir string) ([]models.DocumentMeta, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Stat returns file info for path without reading it.
	Stat(path string) (fs.FileInfo, error)
	// Write atomically replaces the content of path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}
