// Package position re-locates captured comment anchors in the current text
// of a document. Resolution is a total function: any anchor against any
// document yields a graded location, never an error.
package position

import (
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"

	"reviewhub/internal/review"
)

// MatchMain tolerates anchors up to this length; longer anchors skip the
// fuzzy tier (diffmatchpatch's bitap implementation is pattern-limited).
const maxFuzzyPattern = 32

// Resolve maps a captured anchor onto the current document body. The
// fallback chain runs exact, context-window, keyword-occurrence, then loose
// matching; when nothing matches the result is FAILED at line 1 so the
// thread stays visible.
func Resolve(pos review.CommentPosition, currentDoc string) review.ResolvedPosition {
	if resolved, ok := resolveExact(pos, currentDoc); ok {
		return resolved
	}
	if resolved, ok := resolveContext(pos, currentDoc); ok {
		return resolved
	}
	if resolved, ok := resolveKeyword(pos, currentDoc); ok {
		return resolved
	}
	if resolved, ok := resolveLoose(pos, currentDoc); ok {
		return resolved
	}
	return review.ResolvedPosition{Line: 1, Confidence: review.ConfidenceFailed}
}

// resolveExact succeeds when the document is unchanged since capture, or
// the exact anchor text is still present unambiguously (or at the recorded
// line when it appears more than once).
func resolveExact(pos review.CommentPosition, currentDoc string) (review.ResolvedPosition, bool) {
	if pos.DocHash != "" && HashDocument(currentDoc) == pos.DocHash {
		return atRecordedLocation(pos, currentDoc, review.ConfidenceExact), true
	}
	if pos.Anchor == "" {
		return review.ResolvedPosition{}, false
	}
	offsets := allOccurrences(currentDoc, pos.Anchor)
	switch len(offsets) {
	case 0:
		return review.ResolvedPosition{}, false
	case 1:
		return atOffset(pos, currentDoc, offsets[0], review.ConfidenceExact), true
	default:
		for _, offset := range offsets {
			if OffsetToLine(currentDoc, offset) == pos.Line {
				return atOffset(pos, currentDoc, offset, review.ConfidenceExact), true
			}
		}
		return review.ResolvedPosition{}, false
	}
}

// resolveContext searches for the captured before/after window around the
// anchor; exactly one match in the current document is required.
func resolveContext(pos review.CommentPosition, currentDoc string) (review.ResolvedPosition, bool) {
	if pos.Before == "" && pos.After == "" {
		return review.ResolvedPosition{}, false
	}
	window := pos.Before + pos.Anchor + pos.After
	if offsets := allOccurrences(currentDoc, window); len(offsets) == 1 {
		return atOffset(pos, currentDoc, offsets[0]+len(pos.Before), review.ConfidenceHigh), true
	}
	// The anchor itself may have been edited; a unique before-window still
	// identifies the spot.
	if pos.Before != "" {
		if offsets := allOccurrences(currentDoc, pos.Before); len(offsets) == 1 {
			return atOffset(pos, currentDoc, offsets[0]+len(pos.Before), review.ConfidenceHigh), true
		}
	}
	if pos.After != "" {
		if offsets := allOccurrences(currentDoc, pos.After); len(offsets) == 1 {
			return atOffset(pos, currentDoc, offsets[0], review.ConfidenceHigh), true
		}
	}
	return review.ResolvedPosition{}, false
}

// resolveKeyword finds the Nth occurrence of the recorded (or extracted)
// salient keyword.
func resolveKeyword(pos review.CommentPosition, currentDoc string) (review.ResolvedPosition, bool) {
	keyword := pos.Keyword
	occurrence := pos.Occurrence
	if keyword == "" {
		keyword = SalientKeyword(pos.Anchor)
		occurrence = 1
	}
	if keyword == "" || occurrence < 1 {
		return review.ResolvedPosition{}, false
	}
	offsets := allOccurrences(currentDoc, keyword)
	if len(offsets) < occurrence {
		return review.ResolvedPosition{}, false
	}
	offset := offsets[occurrence-1]
	line := OffsetToLine(currentDoc, offset)
	return review.ResolvedPosition{Line: line, EndLine: line, Confidence: review.ConfidenceMedium}, true
}

// resolveLoose takes the first whitespace-insensitive occurrence of the
// anchor, falling back to bitap fuzzy matching near the recorded line.
func resolveLoose(pos review.CommentPosition, currentDoc string) (review.ResolvedPosition, bool) {
	if pos.Anchor == "" {
		return review.ResolvedPosition{}, false
	}
	if offset, ok := looseIndex(currentDoc, pos.Anchor); ok {
		return atOffset(pos, currentDoc, offset, review.ConfidenceLow), true
	}
	if len(pos.Anchor) <= maxFuzzyPattern {
		dmp := diffmatchpatch.New()
		guess := LineToOffset(currentDoc, pos.Line)
		if offset := dmp.MatchMain(currentDoc, pos.Anchor, guess); offset >= 0 {
			return atOffset(pos, currentDoc, offset, review.ConfidenceLow), true
		}
	}
	return review.ResolvedPosition{}, false
}

func atRecordedLocation(pos review.CommentPosition, currentDoc string, confidence review.Confidence) review.ResolvedPosition {
	switch pos.Kind {
	case review.PositionCharRange:
		startLine, endLine := CharRangeToLineRange(currentDoc, pos.StartChar, pos.EndChar)
		return review.ResolvedPosition{Line: startLine, EndLine: endLine, Confidence: confidence}
	default:
		line := pos.Line
		if line < 1 {
			line = 1
		}
		endLine := line + strings.Count(pos.Anchor, "\n")
		return review.ResolvedPosition{Line: line, EndLine: endLine, Confidence: confidence}
	}
}

func atOffset(pos review.CommentPosition, currentDoc string, offset int, confidence review.Confidence) review.ResolvedPosition {
	line := OffsetToLine(currentDoc, offset)
	endLine := line + strings.Count(pos.Anchor, "\n")
	total := LineCount(currentDoc)
	if endLine > total {
		endLine = total
	}
	return review.ResolvedPosition{Line: line, EndLine: endLine, Confidence: confidence}
}

func allOccurrences(doc, needle string) []int {
	if needle == "" {
		return nil
	}
	var offsets []int
	from := 0
	for {
		idx := strings.Index(doc[from:], needle)
		if idx < 0 {
			return offsets
		}
		offsets = append(offsets, from+idx)
		from += idx + 1
	}
}

// looseIndex finds needle in doc ignoring whitespace differences, returning
// the offset of the match start in the original document.
func looseIndex(doc, needle string) (int, bool) {
	normDoc, mapping := normalizeWithMap(doc)
	normNeedle, _ := normalizeWithMap(needle)
	if normNeedle == "" {
		return 0, false
	}
	idx := strings.Index(normDoc, normNeedle)
	if idx < 0 {
		return 0, false
	}
	return mapping[idx], true
}

// normalizeWithMap collapses whitespace runs to single spaces and trims the
// ends, recording for each normalized byte its offset in the original text.
func normalizeWithMap(s string) (string, []int) {
	var builder strings.Builder
	var mapping []int
	inSpace := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && builder.Len() > 0 {
			builder.WriteByte(' ')
			mapping = append(mapping, i)
		}
		inSpace = false
		start := builder.Len()
		builder.WriteRune(r)
		for n := 0; n < builder.Len()-start; n++ {
			mapping = append(mapping, i)
		}
	}
	return builder.String(), mapping
}

// SalientKeyword extracts the longest word of an anchor as its search
// keyword; ties go to the earlier word.
func SalientKeyword(anchor string) string {
	best := ""
	for _, field := range strings.FieldsFunc(anchor, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(field) > len(best) {
			best = field
		}
	}
	if len(best) < 4 {
		return ""
	}
	return best
}
