package storage

import (
	"errors"
	"testing"
)

func TestSplitRecordPath(t *testing.T) {
	collection, key, err := splitRecordPath("Tasks/alice/t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if collection != "Tasks/alice" || key != "t1" {
		t.Fatalf("expected Tasks/alice + t1, got %q + %q", collection, key)
	}

	collection, key, err = splitRecordPath("Users/alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if collection != "Users" || key != "alice" {
		t.Fatalf("expected Users + alice, got %q + %q", collection, key)
	}
}

func TestSplitRecordPathRejectsBlankKey(t *testing.T) {
	for _, path := range []string{"", "Tasks/alice/", "Tasks//t1", "/Tasks", "Users"} {
		if _, _, err := splitRecordPath(path); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("expected ErrInvalidPath for %q, got %v", path, err)
		}
	}
}
