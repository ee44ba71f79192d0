package app

import (
	"strings"

	"reviewhub/internal/position"
	"reviewhub/internal/review"
)

// contextWindow is how much surrounding text is captured with an anchor so
// the context fallback has something to search for after edits.
const contextWindow = 40

// capturePosition completes a client-supplied anchor against the document
// text in effect right now: document hash, anchor text, line hint, and
// context windows are filled in when the client left them empty.
func capturePosition(doc string, pos review.CommentPosition) review.CommentPosition {
	if pos.DocHash == "" {
		pos.DocHash = position.HashDocument(doc)
	}

	switch pos.Kind {
	case review.PositionLine:
		if pos.Anchor == "" && pos.Line >= 1 {
			pos.Anchor = lineText(doc, pos.Line)
		}
	case review.PositionCharRange:
		if pos.Anchor == "" && pos.StartChar >= 0 && pos.EndChar > pos.StartChar && pos.EndChar <= len(doc) {
			pos.Anchor = doc[pos.StartChar:pos.EndChar]
		}
		if pos.Line == 0 {
			pos.Line = position.OffsetToLine(doc, pos.StartChar)
		}
	case review.PositionKeyword:
		if pos.Occurrence < 1 {
			pos.Occurrence = 1
		}
		if pos.Anchor == "" {
			pos.Anchor = pos.Keyword
		}
	}

	offset := anchorOffset(doc, pos)
	if offset >= 0 {
		if pos.Line == 0 {
			pos.Line = position.OffsetToLine(doc, offset)
		}
		if pos.Before == "" && pos.After == "" && pos.Anchor != "" {
			start := offset - contextWindow
			if start < 0 {
				start = 0
			}
			end := offset + len(pos.Anchor) + contextWindow
			if end > len(doc) {
				end = len(doc)
			}
			pos.Before = doc[start:offset]
			pos.After = doc[offset+len(pos.Anchor) : end]
		}
	}
	if pos.Line == 0 {
		pos.Line = 1
	}
	return pos
}

func anchorOffset(doc string, pos review.CommentPosition) int {
	if pos.Anchor == "" {
		return -1
	}
	if pos.Kind == review.PositionCharRange && pos.StartChar >= 0 && pos.StartChar+len(pos.Anchor) <= len(doc) &&
		doc[pos.StartChar:pos.StartChar+len(pos.Anchor)] == pos.Anchor {
		return pos.StartChar
	}
	if pos.Line >= 1 {
		lineStart := position.LineToOffset(doc, pos.Line)
		if idx := strings.Index(doc[lineStart:], pos.Anchor); idx >= 0 {
			return lineStart + idx
		}
	}
	return strings.Index(doc, pos.Anchor)
}

func lineText(doc string, line int) string {
	start := position.LineToOffset(doc, line)
	rest := doc[start:]
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
