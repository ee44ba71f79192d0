package position

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Pure text-coordinate helpers shared by the match strategies. Lines are
// 1-based; character offsets are 0-based byte offsets into the document.

// HashDocument returns the hex SHA-256 fingerprint of a document body.
func HashDocument(doc string) string {
	sum := sha256.Sum256([]byte(doc))
	return hex.EncodeToString(sum[:])
}

// LineCount returns the total number of lines in doc. An empty document has
// one (empty) line.
func LineCount(doc string) int {
	return strings.Count(doc, "\n") + 1
}

// OffsetToLine converts a byte offset into a 1-based line number. Offsets
// past the end of the document clamp to the last line.
func OffsetToLine(doc string, offset int) int {
	if offset <= 0 {
		return 1
	}
	if offset > len(doc) {
		offset = len(doc)
	}
	return strings.Count(doc[:offset], "\n") + 1
}

// LineToOffset returns the byte offset of the start of the given 1-based
// line, clamping out-of-range lines to the document bounds.
func LineToOffset(doc string, line int) int {
	if line <= 1 {
		return 0
	}
	offset := 0
	for current := 1; current < line; current++ {
		next := strings.IndexByte(doc[offset:], '\n')
		if next < 0 {
			return len(doc)
		}
		offset += next + 1
	}
	return offset
}

// LineRangeToCharRange converts an inclusive 1-based line range into a
// [start, end) byte range covering those lines.
func LineRangeToCharRange(doc string, startLine, endLine int) (int, int) {
	if endLine < startLine {
		endLine = startLine
	}
	start := LineToOffset(doc, startLine)
	end := LineToOffset(doc, endLine+1)
	if end > start && end <= len(doc) && doc[end-1] == '\n' {
		end--
	}
	return start, end
}

// CharRangeToLineRange converts a [start, end) byte range into the inclusive
// 1-based line range it spans.
func CharRangeToLineRange(doc string, start, end int) (int, int) {
	if end < start {
		end = start
	}
	startLine := OffsetToLine(doc, start)
	endLine := startLine
	if end > start {
		endLine = OffsetToLine(doc, end-1)
	}
	return startLine, endLine
}
