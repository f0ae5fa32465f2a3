package index

import (
	"os"
	"testing"
	"time"

	"github.com/starford/munin/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "munin-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func linkTo(source, target string) models.Edge {
	return models.Edge{Source: source, Target: target, Kind: models.EdgeLink}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents`).Scan(&count); err != nil {
		t.Fatalf("documents table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM links`).Scan(&count); err != nil {
		t.Fatalf("links table missing: %v", err)
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	row := DocRow{
		Path:      "hello.md",
		Title:     "Hello World",
		Checksum:  "abc123",
		Tags:      []string{"go", "test"},
		UpdatedAt: time.Now(),
	}
	if err := db.UpsertDocument(row, "This is a hello world document.", []models.Edge{linkTo("hello.md", "other.md")}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	cs, err := db.GetChecksum("hello.md")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}
}

func TestBacklinks(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocRow{Path: "a.md", Checksum: "1", Tags: []string{}, UpdatedAt: time.Now()}, "body", []models.Edge{linkTo("a.md", "b.md")})
	_ = db.UpsertDocument(DocRow{Path: "c.md", Checksum: "2", Tags: []string{}, UpdatedAt: time.Now()}, "body", []models.Edge{linkTo("c.md", "b.md")})

	bl, err := db.Backlinks("b.md")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 2 {
		t.Fatalf("expected 2 backlinks, got %d", len(bl))
	}
}

func TestBacklinks_DistinctAcrossKinds(t *testing.T) {
	db := testDB(t)
	edges := []models.Edge{
		linkTo("a.md", "b.md"),
		{Source: "a.md", Target: "b.md", Kind: models.EdgeTransclusion},
	}
	_ = db.UpsertDocument(DocRow{Path: "a.md", Checksum: "1", Tags: []string{}, UpdatedAt: time.Now()}, "body", edges)

	bl, err := db.Backlinks("b.md")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 1 || bl[0] != "a.md" {
		t.Errorf("backlinks = %v, want [a.md]", bl)
	}
}

func TestEdgeColumnsPersisted(t *testing.T) {
	db := testDB(t)
	edges := []models.Edge{
		{Source: "src.md", Target: "tgt.md", Kind: models.EdgeTransclusion, Section: "Usage", Invalid: true},
	}
	if err := db.UpsertDocument(DocRow{Path: "src.md", Checksum: "1", Tags: []string{}, UpdatedAt: time.Now()}, "body", edges); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	var kind, section string
	var invalid int
	err := db.conn.QueryRow(`SELECT kind, section, invalid FROM links WHERE source = ? AND target = ?`, "src.md", "tgt.md").
		Scan(&kind, &section, &invalid)
	if err != nil {
		t.Fatalf("edge row missing: %v", err)
	}
	if kind != "transclusion" || section != "Usage" || invalid != 1 {
		t.Errorf("edge row = (%q, %q, %d), want (transclusion, Usage, 1)", kind, section, invalid)
	}
}

func TestDeleteDocument(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocRow{Path: "del.md", Checksum: "x", Tags: []string{}, UpdatedAt: time.Now()}, "body", []models.Edge{linkTo("del.md", "target.md")})

	if err := db.DeleteDocument("del.md"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	cs, _ := db.GetChecksum("del.md")
	if cs != "" {
		t.Errorf("deleted document still has checksum %q", cs)
	}
	bl, _ := db.Backlinks("target.md")
	if len(bl) != 0 {
		t.Errorf("expected 0 backlinks after delete, got %d", len(bl))
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertDocument(DocRow{Path: "up.md", Title: "Old", Checksum: "1", Tags: []string{}, UpdatedAt: now}, "old body", []models.Edge{linkTo("up.md", "x.md")})
	_ = db.UpsertDocument(DocRow{Path: "up.md", Title: "New", Checksum: "2", Tags: []string{"new"}, UpdatedAt: now}, "new body", []models.Edge{linkTo("up.md", "y.md")})

	cs, _ := db.GetChecksum("up.md")
	if cs != "2" {
		t.Errorf("checksum = %q, want %q", cs, "2")
	}
	bl, _ := db.Backlinks("x.md")
	if len(bl) != 0 {
		t.Error("old link should be removed on upsert")
	}
	bl, _ = db.Backlinks("y.md")
	if len(bl) != 1 {
		t.Error("new link should exist")
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestGetDocument(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocRow{Path: "doc.md", Title: "Doc", Checksum: "9", Tags: []string{"a", "b"}, UpdatedAt: time.Now()}, "body", nil)

	d, err := db.GetDocument("doc.md")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if d == nil {
		t.Fatal("expected a row")
	}
	if d.Title != "Doc" || d.Checksum != "9" || len(d.Tags) != 2 {
		t.Errorf("row = %+v", d)
	}

	missing, err := db.GetDocument("nope.md")
	if err != nil {
		t.Fatalf("GetDocument miss: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown path, got %+v", missing)
	}
}

func TestListDocuments_PagingAndSort(t *testing.T) {
	db := testDB(t)
	base := time.Now().Add(-time.Hour)
	_ = db.UpsertDocument(DocRow{Path: "c.md", Title: "Gamma", Checksum: "3", Tags: []string{"keep"}, UpdatedAt: base.Add(3 * time.Minute)}, "", nil)
	_ = db.UpsertDocument(DocRow{Path: "a.md", Title: "Alpha", Checksum: "1", Tags: []string{}, UpdatedAt: base.Add(1 * time.Minute)}, "", nil)
	_ = db.UpsertDocument(DocRow{Path: "b.md", Title: "Beta", Checksum: "2", Tags: []string{"keep"}, UpdatedAt: base.Add(2 * time.Minute)}, "", nil)

	rows, total, err := db.ListDocuments(2, 0, "", "path")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(rows) != 2 || rows[0].Path != "a.md" || rows[1].Path != "b.md" {
		t.Errorf("page = %+v, want [a.md b.md]", rows)
	}

	rows, _, err = db.ListDocuments(2, 2, "", "path")
	if err != nil {
		t.Fatalf("ListDocuments offset: %v", err)
	}
	if len(rows) != 1 || rows[0].Path != "c.md" {
		t.Errorf("second page = %+v, want [c.md]", rows)
	}

	rows, _, err = db.ListDocuments(10, 0, "", "updated")
	if err != nil {
		t.Fatalf("ListDocuments updated: %v", err)
	}
	if rows[0].Path != "c.md" {
		t.Errorf("newest first, got %q", rows[0].Path)
	}

	rows, total, err = db.ListDocuments(10, 0, "keep", "path")
	if err != nil {
		t.Fatalf("ListDocuments tag: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Errorf("tag filter: total=%d rows=%+v", total, rows)
	}
}

func TestListDocuments_UnknownSort(t *testing.T) {
	db := testDB(t)
	if _, _, err := db.ListDocuments(10, 0, "", "bogus"); err == nil {
		t.Error("expected error for unknown sort key")
	}
}

func TestAllChecksums(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocRow{Path: "one.md", Checksum: "c1", Tags: []string{}, UpdatedAt: time.Now()}, "", nil)
	_ = db.UpsertDocument(DocRow{Path: "two.md", Checksum: "c2", Tags: []string{}, UpdatedAt: time.Now()}, "", nil)

	m, err := db.AllChecksums()
	if err != nil {
		t.Fatalf("AllChecksums: %v", err)
	}
	if len(m) != 2 || m["one.md"] != "c1" || m["two.md"] != "c2" {
		t.Errorf("checksums = %v", m)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocRow{Path: "s.md", Title: "Search Me", Checksum: "1", Tags: []string{}, UpdatedAt: time.Now()}, "uniqueword appears here", nil)

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "s.md" {
		t.Errorf("search results = %+v, want 1 hit for s.md", results)
	}
}
