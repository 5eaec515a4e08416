package database

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrations_AreEmbeddedInPairs(t *testing.T) {
	files, err := fs.Glob(Migrations(), "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	ups, downs := 0, 0
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".up.sql"):
			ups++
		case strings.HasSuffix(f, ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Fatalf("expected matching up/down migrations, got %d up and %d down", ups, downs)
	}
}

func TestMigrations_SourceStartsAtVersionOne(t *testing.T) {
	src, err := sourceDriver()
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first version 1, got %d", first)
	}
}

func TestMigrations_TranscriptsTableHasDedupConstraint(t *testing.T) {
	b, err := fs.ReadFile(Migrations(), "migrations/0001_transcripts.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "UNIQUE (dedup_key)") {
		t.Fatalf("transcripts table must enforce unique dedup keys")
	}
}
