package textproc

import (
	"strings"
	"unicode"
)

// Segmentation splits text into sentences that are definitely complete and a
// trailing remainder the streaming source may still extend. Segmentation is
// deterministic: the same input always yields the same split.
type Segmentation struct {
	Complete  []string
	Remainder string
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

// Segment walks the text and closes a sentence at a terminator run followed
// by whitespace or end of input. A terminator followed directly by more text
// (decimals, versions, URLs) does not split.
func Segment(text string) Segmentation {
	runes := []rune(text)
	var complete []string
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		end := i
		for end+1 < len(runes) && (isTerminator(runes[end+1]) || isClosing(runes[end+1])) {
			end++
		}
		if end+1 < len(runes) && !unicode.IsSpace(runes[end+1]) {
			i = end
			continue
		}
		sentence := strings.TrimSpace(string(runes[start : end+1]))
		if sentence != "" {
			complete = append(complete, sentence)
		}
		i = end
		start = end + 1
	}

	return Segmentation{
		Complete:  complete,
		Remainder: strings.TrimSpace(string(runes[start:])),
	}
}
