package position

import (
	"fmt"
	"strings"
	"testing"

	"reviewhub/internal/review"
)

const anchorSentence = "The system SHALL persist audit records."

// reqDoc builds a 60-line document with the anchor sentence at line 42.
func reqDoc(extraAbove int) string {
	var lines []string
	for i := 1; i <= extraAbove; i++ {
		lines = append(lines, fmt.Sprintf("inserted preamble %d", i))
	}
	for i := 1; i <= 60; i++ {
		if i == 42 {
			lines = append(lines, anchorSentence)
			continue
		}
		lines = append(lines, fmt.Sprintf("requirement clause %02d", i))
	}
	return strings.Join(lines, "\n")
}

func linePos(doc string, line int) review.CommentPosition {
	return review.CommentPosition{
		Kind:    review.PositionLine,
		Line:    line,
		Anchor:  anchorSentence,
		DocHash: HashDocument(doc),
	}
}

func TestResolveUnchangedDocument(t *testing.T) {
	doc := reqDoc(0)
	got := Resolve(linePos(doc, 42), doc)
	if got.Confidence != review.ConfidenceExact {
		t.Fatalf("Resolve() confidence = %s, want %s", got.Confidence, review.ConfidenceExact)
	}
	if got.Line != 42 {
		t.Fatalf("Resolve() line = %d, want 42", got.Line)
	}
}

func TestResolveLinesInsertedAbove(t *testing.T) {
	original := reqDoc(0)
	edited := reqDoc(5)
	got := Resolve(linePos(original, 42), edited)
	if got.Confidence != review.ConfidenceExact {
		t.Fatalf("Resolve() confidence = %s, want %s", got.Confidence, review.ConfidenceExact)
	}
	if got.Line != 47 {
		t.Fatalf("Resolve() line = %d, want 47", got.Line)
	}
}

func TestResolveDuplicateAnchorPrefersRecordedLine(t *testing.T) {
	doc := "alpha\nneedle\nbeta\nneedle\ngamma"
	pos := review.CommentPosition{Kind: review.PositionLine, Line: 4, Anchor: "needle", DocHash: "stale"}
	got := Resolve(pos, doc)
	if got.Confidence != review.ConfidenceExact || got.Line != 4 {
		t.Fatalf("Resolve() = %+v, want EXACT at line 4", got)
	}
}

func TestResolveEditedAnchorUsesContext(t *testing.T) {
	original := reqDoc(0)
	pos := linePos(original, 42)
	pos.Before = "requirement clause 41\n"
	pos.After = "\nrequirement clause 43"

	// The anchor sentence itself was reworded; only the context survives.
	edited := strings.Replace(original, anchorSentence, "The system MUST retain review history.", 1)
	got := Resolve(pos, edited)
	if got.Confidence != review.ConfidenceHigh {
		t.Fatalf("Resolve() confidence = %s, want %s", got.Confidence, review.ConfidenceHigh)
	}
	if got.Line != 42 {
		t.Fatalf("Resolve() line = %d, want 42", got.Line)
	}
}

func TestResolveKeywordOccurrence(t *testing.T) {
	doc := "latency target is soft\nfiller\nlatency target is hard\nfiller"
	pos := review.CommentPosition{
		Kind:       review.PositionKeyword,
		Keyword:    "latency",
		Occurrence: 2,
		Line:       3,
		DocHash:    "stale",
	}
	got := Resolve(pos, doc)
	if got.Confidence != review.ConfidenceMedium || got.Line != 3 {
		t.Fatalf("Resolve() = %+v, want MEDIUM at line 3", got)
	}
}

func TestResolveWhitespaceDrift(t *testing.T) {
	// Every word is too short to act as a salient keyword, so resolution
	// has to fall through to the loose tier.
	doc := "hdr\nthe bus id  may\tbe nil\ntail"
	pos := review.CommentPosition{
		Kind:    review.PositionLine,
		Line:    2,
		Anchor:  "the bus id may be nil",
		DocHash: "stale",
	}
	got := Resolve(pos, doc)
	if got.Confidence != review.ConfidenceLow || got.Line != 2 {
		t.Fatalf("Resolve() = %+v, want LOW at line 2", got)
	}
}

func TestResolveFuzzyTypo(t *testing.T) {
	doc := "hdr\nthe bas id may be nil\ntail"
	pos := review.CommentPosition{
		Kind:    review.PositionLine,
		Line:    2,
		Anchor:  "the bus id may be nil",
		DocHash: "stale",
	}
	got := Resolve(pos, doc)
	if got.Confidence != review.ConfidenceLow || got.Line != 2 {
		t.Fatalf("Resolve() = %+v, want LOW at line 2", got)
	}
}

func TestResolveNeverErrors(t *testing.T) {
	cases := []struct {
		name string
		pos  review.CommentPosition
		doc  string
	}{
		{"empty document", linePos(reqDoc(0), 42), ""},
		{"empty position", review.CommentPosition{}, reqDoc(0)},
		{"anchor removed entirely", review.CommentPosition{
			Kind:    review.PositionLine,
			Line:    3,
			Anchor:  strings.Repeat("completely vanished paragraph ", 4),
			DocHash: "stale",
		}, "one\ntwo\nthree"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(tc.pos, tc.doc)
			if got.Confidence != review.ConfidenceFailed {
				t.Fatalf("Resolve() confidence = %s, want %s", got.Confidence, review.ConfidenceFailed)
			}
			if got.Line != 1 {
				t.Fatalf("Resolve() line = %d, want 1", got.Line)
			}
		})
	}
}

func TestCharRangeResolution(t *testing.T) {
	doc := "alpha\nbeta\ngamma"
	pos := review.CommentPosition{
		Kind:      review.PositionCharRange,
		StartChar: 6,
		EndChar:   11,
		Anchor:    "beta\n",
		DocHash:   HashDocument(doc),
	}
	got := Resolve(pos, doc)
	if got.Confidence != review.ConfidenceExact {
		t.Fatalf("Resolve() confidence = %s, want %s", got.Confidence, review.ConfidenceExact)
	}
	if got.Line != 2 {
		t.Fatalf("Resolve() line = %d, want 2", got.Line)
	}
}

func TestOffsetLineRoundTrip(t *testing.T) {
	doc := "alpha\nbeta\ngamma"
	if got := LineCount(doc); got != 3 {
		t.Fatalf("LineCount() = %d, want 3", got)
	}
	if got := OffsetToLine(doc, 6); got != 2 {
		t.Fatalf("OffsetToLine(6) = %d, want 2", got)
	}
	if got := LineToOffset(doc, 3); got != 11 {
		t.Fatalf("LineToOffset(3) = %d, want 11", got)
	}
	if got := OffsetToLine(doc, 999); got != 3 {
		t.Fatalf("OffsetToLine(past end) = %d, want 3", got)
	}
}

func TestLineRangeToCharRange(t *testing.T) {
	doc := "alpha\nbeta\ngamma"
	start, end := LineRangeToCharRange(doc, 2, 2)
	if doc[start:end] != "beta" {
		t.Fatalf("LineRangeToCharRange(2, 2) covers %q, want %q", doc[start:end], "beta")
	}
	startLine, endLine := CharRangeToLineRange(doc, start, end)
	if startLine != 2 || endLine != 2 {
		t.Fatalf("CharRangeToLineRange() = (%d, %d), want (2, 2)", startLine, endLine)
	}
}

func TestSalientKeyword(t *testing.T) {
	if got := SalientKeyword("The system SHALL persist audit records."); got != "persist" {
		t.Fatalf("SalientKeyword() = %q, want %q", got, "persist")
	}
	if got := SalientKeyword("it is so ok"); got != "" {
		t.Fatalf("SalientKeyword() = %q, want empty", got)
	}
}
