// Package models defines the domain types for Munin.
package models

import "time"

// DocumentMeta is a lightweight representation returned by list operations.
type DocumentMeta struct {
	Path      string    `json:"path"`
	Title     string    `json:"title,omitempty"`
	Checksum  string    `json:"checksum"`
	Version   int       `json:"version,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkRef is a plain reference found in a document body: a [[wikilink]] or
// an inline Markdown link whose target stays inside the bank.
type LinkRef struct {
	Target string `json:"target"`
	Line   int    `json:"line"`
}

// Directive is one {{include: ...}} occurrence. Lines zero means no
// truncation; Recursive defaults to true. Err is set when the parameter
// list could not be honored (bad value, unknown key) and the directive
// must not be expanded.
type Directive struct {
	Target    string `json:"target"`
	Section   string `json:"section,omitempty"`
	Lines     int    `json:"lines,omitempty"`
	Recursive bool   `json:"recursive"`
	Raw       string `json:"raw"`
	Line      int    `json:"line"`
	Err       string `json:"err,omitempty"`
}

// EdgeKind distinguishes plain references from transclusions in the
// dependency graph.
type EdgeKind string

const (
	EdgeLink         EdgeKind = "link"
	EdgeTransclusion EdgeKind = "transclusion"
)

// Edge is a directed reference between two documents. Invalid edges are
// kept in the graph so validation can report them; they are never
// followed by the transclusion engine.
type Edge struct {
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Kind      EdgeKind `json:"kind"`
	Section   string   `json:"section,omitempty"`
	Lines     int      `json:"lines,omitempty"`
	Recursive bool     `json:"recursive,omitempty"`
	Line      int      `json:"line"`
	Invalid   bool     `json:"invalid,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// FileRecord is the metadata index entry for one live file.
type FileRecord struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Hash    string    `json:"hash"`
	ModTime time.Time `json:"mod_time"`
}

// CheckResult is the outcome of comparing a caller-supplied hash against
// the indexed one.
type CheckResult string

const (
	CheckMatch    CheckResult = "match"
	CheckMismatch CheckResult = "mismatch"
	CheckUnknown  CheckResult = "unknown"
)

// SnapshotInfo is version-history metadata; payloads stay in the log.
type SnapshotInfo struct {
	Path      string    `json:"path"`
	Version   int       `json:"version"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Note      string    `json:"note,omitempty"`
}

// Rollback outcomes, terminal per file per restore attempt.
const (
	OutcomePending         = "pending"
	OutcomeRestored        = "restored"
	OutcomeSkippedConflict = "skipped-conflict"
	OutcomeFailed          = "failed"
)

// RollbackFile is one captured path inside a rollback set.
type RollbackFile struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
	Hash    string `json:"hash"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// RollbackRecord is a captured rollback set and, after a restore attempt,
// its per-file outcomes. Files preserve capture order.
type RollbackRecord struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Files       []RollbackFile `json:"files"`
}
