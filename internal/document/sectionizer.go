// Package document turns opaque editor document trees into ordered
// chapter lists with stable content identity.
package document

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"inkwell/internal/logging"
)

const untitledChapter = "无标题"

// Sectionize scans the block forest in order and produces the chapter
// list. A level-2 heading starts a new chapter; content before the
// first one is discarded. A nil or empty tree yields an empty list.
func Sectionize(doc *Tree) []Chapter {
	if doc == nil || len(doc.Content) == 0 {
		return nil
	}

	now := time.Now()
	var chapters []Chapter
	var title string
	var buffer []string
	open := false

	flush := func() {
		if !open {
			return
		}
		text := strings.Join(buffer, "\n")
		t := title
		if t == "" {
			t = untitledChapter
		}
		chapters = append(chapters, Chapter{
			ID:          fmt.Sprintf("chapter_%d", len(chapters)+1),
			Title:       t,
			Text:        text,
			WordCount:   CountWords(text),
			ContentHash: Hash(text),
			UpdatedAt:   now,
			Status:      StatusDormant,
		})
	}

	for _, node := range doc.Content {
		if node.Type == "heading" && node.Attrs != nil && node.Attrs.Level == 2 {
			flush()
			title = flattenText(node)
			buffer = buffer[:0]
			open = true
			continue
		}
		if !open {
			// Preamble before the first H2 is never a chapter.
			continue
		}
		if t := flattenText(node); strings.TrimSpace(t) != "" {
			buffer = append(buffer, t)
		}
	}
	flush()

	logging.DocumentDebug("sectionized %d blocks into %d chapters", len(doc.Content), len(chapters))
	return chapters
}

// flattenText concatenates the text leaves of a block depth-first.
func flattenText(b Block) string {
	if len(b.Content) == 0 {
		return b.Text
	}
	var sb strings.Builder
	sb.WriteString(b.Text)
	for _, child := range b.Content {
		sb.WriteString(flattenText(child))
	}
	return sb.String()
}

// CountWords counts mixed-script text: ideographic characters count one
// each, alphanumeric runs in other scripts count as single words.
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			count++
			inWord = false
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			if !inWord {
				count++
				inWord = true
			}
			continue
		}
		inWord = false
	}
	return count
}

// Hash computes the djb2 32-bit rolling hash of the text, hex encoded.
// Used only for change detection, never for security.
func Hash(text string) string {
	var h uint32 = 5381
	for i := 0; i < len(text); i++ {
		h = h*33 + uint32(text[i])
	}
	return fmt.Sprintf("%x", h)
}
