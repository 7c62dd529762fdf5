package textproc

import (
	"regexp"
	"strings"
)

// Agent replies carry protocol-internal markup that must never reach the
// screen or the speaker: reasoning tag blocks, tool call/result blocks, and
// speech directives. Filter strips those; FilterForTTS additionally strips
// Markdown constructs that read badly aloud. Both are idempotent.

var reasoningTags = []string{"think", "thinking", "reasoning", "reflection"}

var (
	reasoningPairRes  []*regexp.Regexp
	reasoningOpenRes  []*regexp.Regexp
	toolBlockRe       = regexp.MustCompile(`(?is)<tool_(?:call|result)\b[^>]*>.*?</tool_(?:call|result)>`)
	speechDirectiveRe = regexp.MustCompile(`(?i)\[(?:voice|speech|pause|spell)(?:=[^\]]*)?\]`)

	codeFenceRe     = regexp.MustCompile("(?s)```.*?```")
	openCodeFenceRe = regexp.MustCompile("(?s)```.*$")
	inlineCodeRe    = regexp.MustCompile("`[^`\n]*`")
	imageRe         = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkRe          = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	headingRe       = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	emphasisRe      = regexp.MustCompile(`(\*{1,3}|_{1,3})(\S(?:[^*_]*?\S)?)(\*{1,3}|_{1,3})`)
	rawTagRe        = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	blankLinesRe    = regexp.MustCompile(`\n{3,}`)
)

func init() {
	for _, tag := range reasoningTags {
		reasoningPairRes = append(reasoningPairRes,
			regexp.MustCompile(`(?is)<`+tag+`\b[^>]*>.*?</`+tag+`>`))
		// An unterminated trailing tag happens mid-stream; drop everything
		// from the opening tag onward.
		reasoningOpenRes = append(reasoningOpenRes,
			regexp.MustCompile(`(?is)<`+tag+`\b[^>]*>.*$`))
	}
}

// Filter removes protocol-internal markup for display use.
func Filter(text string) string {
	for _, re := range reasoningPairRes {
		text = re.ReplaceAllString(text, "")
	}
	for _, re := range reasoningOpenRes {
		text = re.ReplaceAllString(text, "")
	}
	text = toolBlockRe.ReplaceAllString(text, "")
	text = speechDirectiveRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// FilterForTTS applies Filter and then strips Markdown not suitable for
// speech: code is dropped, links collapse to their label, and formatting
// markers disappear.
func FilterForTTS(text string) string {
	text = Filter(text)
	text = codeFenceRe.ReplaceAllString(text, "")
	text = openCodeFenceRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "")
	text = imageRe.ReplaceAllString(text, "")
	text = linkRe.ReplaceAllString(text, "$1")
	text = headingRe.ReplaceAllString(text, "")
	text = emphasisRe.ReplaceAllString(text, "$2")
	text = rawTagRe.ReplaceAllString(text, "")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
