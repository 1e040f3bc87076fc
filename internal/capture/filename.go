package capture

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// noisePatterns match lines that are UI chrome rather than post content:
// engagement counts, relative and absolute dates, handle-only lines, brand
// names, and reply/translate/author labels. Ordered, declarative, and
// platform-agnostic so they can be extended without touching control flow.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)and \d+ others`),
	regexp.MustCompile(`(?i)^@[a-z0-9._]+$`),
	regexp.MustCompile(`(?i)^[a-z0-9._]{2,30}$`),
	regexp.MustCompile(`(?i)^(facebook|instagram|threads)$`),
	regexp.MustCompile(`(?i)hours? ago|days? ago|minutes? ago`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b`),
	regexp.MustCompile(`\b\d{4}[-/]\d{1,2}[-/]\d{1,2}\b`),
	regexp.MustCompile(`\b\d{1,2}:\d{2}\b`),
	regexp.MustCompile(`今天|昨天|小時前|天前|分鐘前|剛剛`),
	regexp.MustCompile(`(?i)讚|留言|likes?|comments?|views?`),
	regexp.MustCompile(`(?i)author|translate`),
	regexp.MustCompile(`(?i)回覆|replies|最相關|most relevant`),
}

var identifierChars = regexp.MustCompile(`[A-Za-z0-9._]`)

var reservedFileChars = strings.NewReplacer(
	`\`, "", `/`, "", `:`, "", `*`, "", `?`, "", `"`, "", `<`, "", `>`, "", `|`, "",
)

// BuildImageFilename derives a screenshot filename from the post's content
// text. It picks the first content-looking line, strips whitespace and
// terminal punctuation, keeps the first 8 runes, and falls back to
// post-{index+1} when nothing usable remains. Pure and deterministic: the
// result depends only on the inputs, never on execution order across items.
func BuildImageFilename(contentText string, index int) string {
	line := pickContentLine(contentText)
	normalized := normalizeLine(line)

	runes := []rune(normalized)
	if len(runes) > 8 {
		runes = runes[:8]
	}
	firstEight := string(runes)
	if firstEight == "" {
		firstEight = fmt.Sprintf("post-%d", index+1)
	}
	return sanitizeFileName(firstEight) + ".png"
}

// pickContentLine scans lines in order for the first one that is not noise,
// not dominated by ASCII identifier characters, and long enough to carry
// meaning. Falls back to the first non-empty line.
func pickContentLine(contentText string) string {
	var lines []string
	for _, raw := range strings.Split(contentText, "\n") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) == 0 {
		return ""
	}

	for _, line := range lines {
		if isNoiseLine(line) {
			continue
		}
		plain := strings.TrimSpace(strings.NewReplacer("@", "", "#", "").Replace(line))
		if countNonSpace(plain) < 4 {
			continue
		}
		total := len([]rune(plain))
		ascii := len(identifierChars.FindAllString(plain, -1))
		if total > 0 && float64(ascii)/float64(total) > 0.65 {
			continue
		}
		return line
	}
	return lines[0]
}

func isNoiseLine(line string) bool {
	for _, pattern := range noisePatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// normalizeLine drops all whitespace and terminal punctuation so the derived
// name is compact and filesystem friendly.
func normalizeLine(line string) string {
	var b strings.Builder
	for _, r := range line {
		if unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '。', '！', '？', '!', '?':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sanitizeFileName(value string) string {
	cleaned := strings.TrimSpace(reservedFileChars.Replace(value))
	if cleaned == "" {
		return "post"
	}
	return cleaned
}
