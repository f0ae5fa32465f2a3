package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is checks across package boundaries. Surfaces map
// these to transport codes; core packages wrap them with context.
var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrAlreadyExists        = errors.New("already exists")
	ErrVersionNotFound      = errors.New("version not found")
	ErrSectionNotFound      = errors.New("section not found")
	ErrCircularTransclusion = errors.New("circular transclusion")
	ErrInvalidDirective     = errors.New("invalid directive")
	ErrCorruptedHistory     = errors.New("corrupted history")
)

// ConflictError reports an optimistic-concurrency failure: the caller's
// expected content hash no longer matches the file on disk.
type ConflictError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: expected hash %s, current hash %s", e.Path, short(e.Expected), short(e.Actual))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// VersionNotFoundError reports a request for a snapshot version that was
// never recorded for the path.
type VersionNotFoundError struct {
	Path    string
	Version int
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("version %d of %s not found", e.Version, e.Path)
}

func (e *VersionNotFoundError) Is(target error) bool {
	return target == ErrVersionNotFound || target == ErrNotFound
}

// SectionNotFoundError reports a transclusion directive naming a heading
// the target document does not contain.
type SectionNotFoundError struct {
	Path    string
	Section string
}

func (e *SectionNotFoundError) Error() string {
	return fmt.Sprintf("section %q not found in %s", e.Section, e.Path)
}

func (e *SectionNotFoundError) Is(target error) bool { return target == ErrSectionNotFound }

// CircularTransclusionError reports a transclusion cycle reachable from
// Path. Cycle lists the participating paths.
type CircularTransclusionError struct {
	Path  string
	Cycle []string
}

func (e *CircularTransclusionError) Error() string {
	return fmt.Sprintf("circular transclusion at %s: %s", e.Path, strings.Join(e.Cycle, " -> "))
}

func (e *CircularTransclusionError) Is(target error) bool { return target == ErrCircularTransclusion }

// DirectiveError reports a transclusion directive that cannot be honored:
// malformed parameters, an unknown key, or a missing target. Err carries
// the underlying cause when there is one.
type DirectiveError struct {
	Path      string
	Line      int
	Directive string
	Reason    string
	Err       error
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("%s:%d: invalid directive %q: %s", e.Path, e.Line, e.Directive, e.Reason)
}

func (e *DirectiveError) Is(target error) bool { return target == ErrInvalidDirective }

func (e *DirectiveError) Unwrap() error { return e.Err }

func short(hash string) string {
	if hash == "" {
		return `""`
	}
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
