package reqdoc

import (
	"errors"
	"testing"
)

func seedSource(t *testing.T) *FileSource {
	t.Helper()
	source := NewFileSource(t.TempDir())
	for _, requirement := range []Requirement{
		{ID: "REQ-002", Title: "Audit log", Status: "DRAFT", Content: "The system SHALL persist audit records."},
		{ID: "REQ-001", Title: "Login", Status: "IN_REVIEW", Content: "The system SHALL require authentication."},
	} {
		if _, err := source.Put(requirement); err != nil {
			t.Fatalf("Put(%s) error = %v", requirement.ID, err)
		}
	}
	return source
}

func TestGetMissingRequirement(t *testing.T) {
	source := NewFileSource(t.TempDir())
	_, err := source.Get("REQ-404")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestListSortedByID(t *testing.T) {
	source := seedSource(t)
	requirements, err := source.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(requirements) != 2 || requirements[0].ID != "REQ-001" || requirements[1].ID != "REQ-002" {
		t.Fatalf("List() = %+v, want REQ-001 then REQ-002", requirements)
	}
}

func TestSetStatusRewritesFingerprint(t *testing.T) {
	source := seedSource(t)
	before, err := source.Get("REQ-002")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	updated, err := source.SetStatus("REQ-002", "IN_REVIEW")
	if err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if updated.Status != "IN_REVIEW" {
		t.Fatalf("SetStatus() status = %q", updated.Status)
	}
	if updated.Content != before.Content {
		t.Fatal("SetStatus() must leave the body untouched")
	}
	if updated.Hash == before.Hash {
		t.Fatal("SetStatus() must recompute the fingerprint")
	}
	if updated.Hash != Fingerprint(updated.Title, updated.Status, updated.Content) {
		t.Fatal("stored fingerprint does not match Fingerprint()")
	}
}

func TestFingerprintSeparatesFields(t *testing.T) {
	// Field boundaries must matter: moving a character across the
	// title/status boundary changes the fingerprint.
	if Fingerprint("ab", "c", "x") == Fingerprint("a", "bc", "x") {
		t.Fatal("Fingerprint() must separate title and status")
	}
}
