// Package canonical normalizes text before hashing and embedding.
//
// The pipeline is deterministic: Unicode NFC composition, markdown
// stripping, code-block collapsing, whitespace collapsing, low-signal
// filtering, and truncation to a fixed number of code points. Running the
// pipeline twice yields the same output as running it once.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxEmbedChars is the maximum number of code points kept after
// canonicalization.
const MaxEmbedChars = 2000

// codeHeadLines and codeTailLines bound how much of a long fenced code
// block survives collapsing.
const (
	codeHeadLines      = 20
	codeTailLines      = 10
	codeInlineMaxLines = codeHeadLines + codeTailLines
)

// lowSignalContent is filtered out entirely when it is the whole message.
var lowSignalContent = []string{
	"ok",
	"done",
	"done.",
	"got it",
	"got it.",
	"understood",
	"understood.",
	"sure",
	"sure.",
	"yes",
	"no",
	"thanks",
	"thanks.",
	"thank you",
	"thank you.",
	"lgtm",
	"👍",
	"✓",
}

// Canonicalize applies the full preprocessing pipeline.
//
// One pass can expose new markup (removing "_" or a list marker can leave
// a heading or another marker in front) or end a truncated string on a
// space, so the pass repeats until its output no longer changes.
func Canonicalize(text string) string {
	out := text
	for {
		normalized := norm.NFC.String(out)
		stripped := stripMarkdownAndCode(normalized)
		collapsed := normalizeWhitespace(stripped)
		filtered := filterLowSignal(collapsed)
		next := truncateToChars(filtered, MaxEmbedChars)
		if next == out {
			return next
		}
		out = next
	}
}

// ContentHash computes the SHA-256 of the canonicalized text.
func ContentHash(text string) [32]byte {
	return sha256.Sum256([]byte(Canonicalize(text)))
}

// ContentHashHex returns ContentHash as a lowercase hex string.
func ContentHashHex(text string) string {
	h := ContentHash(text)
	return hex.EncodeToString(h[:])
}

func stripMarkdownAndCode(text string) string {
	var result strings.Builder
	result.Grow(len(text))

	inCodeBlock := false
	codeBlockLang := ""
	var codeLines []string

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "```"):
			if inCodeBlock {
				result.WriteString(collapseCodeBlock(codeBlockLang, codeLines))
				result.WriteByte('\n')
				codeLines = codeLines[:0]
				codeBlockLang = ""
				inCodeBlock = false
			} else {
				inCodeBlock = true
				codeBlockLang = strings.TrimSpace(strings.TrimLeft(line, "`"))
			}
		case inCodeBlock:
			codeLines = append(codeLines, line)
		default:
			stripped := stripMarkdownLine(line)
			if stripped != "" {
				result.WriteString(stripped)
				result.WriteByte('\n')
			}
		}
	}

	// Unclosed code block at end of input.
	if inCodeBlock && len(codeLines) > 0 {
		result.WriteString(collapseCodeBlock(codeBlockLang, codeLines))
		result.WriteByte('\n')
	}

	return result.String()
}

func collapseCodeBlock(lang string, lines []string) string {
	label := "code"
	if lang != "" {
		label = "code: " + lang
	}

	if len(lines) <= codeInlineMaxLines {
		return "[" + label + "] " + strings.Join(lines, " ")
	}

	head := strings.Join(lines[:codeHeadLines], " ")
	tail := strings.Join(lines[len(lines)-codeTailLines:], " ")
	omitted := len(lines) - codeHeadLines - codeTailLines
	return "[" + label + "] " + head + " [..." + strconv.Itoa(omitted) + " lines...] " + tail
}

func stripMarkdownLine(line string) string {
	s := line
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.ReplaceAll(s, "*", "")
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "`", "")

	s = stripMarkdownLinks(s)

	s = strings.TrimLeft(s, "#")
	s = strings.TrimLeft(s, " \t")
	s = strings.TrimLeft(s, ">")
	s = strings.TrimLeft(s, " \t")

	return stripListMarker(s)
}

// stripMarkdownLinks rewrites [text](url) to text, leaving bare brackets
// untouched.
func stripMarkdownLinks(text string) string {
	var result strings.Builder
	result.Grow(len(text))

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '[' {
			result.WriteRune(runes[i])
			continue
		}

		closeIdx := -1
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == ']' {
				closeIdx = j
				break
			}
		}

		if closeIdx >= 0 && closeIdx+1 < len(runes) && runes[closeIdx+1] == '(' {
			depth := 1
			end := -1
			for j := closeIdx + 2; j < len(runes); j++ {
				switch runes[j] {
				case '(':
					depth++
				case ')':
					depth--
					if depth == 0 {
						end = j
					}
				}
				if end >= 0 {
					break
				}
			}
			result.WriteString(string(runes[i+1 : closeIdx]))
			if end >= 0 {
				i = end
			} else {
				i = len(runes) - 1
			}
		} else {
			// Not a link, keep the brackets.
			if closeIdx >= 0 {
				result.WriteString(string(runes[i : closeIdx+1]))
				i = closeIdx
			} else {
				result.WriteString(string(runes[i:]))
				i = len(runes) - 1
			}
		}
	}

	return result.String()
}

func stripListMarker(line string) string {
	trimmed := strings.TrimLeft(line, " \t")

	for _, marker := range []string{"- ", "* ", "+ "} {
		if strings.HasPrefix(trimmed, marker) {
			return trimmed[len(marker):]
		}
	}

	// Ordered list markers: 1. item
	if dot := strings.IndexByte(trimmed, '.'); dot > 0 {
		allDigits := true
		for _, c := range trimmed[:dot] {
			if c < '0' || c > '9' {
				allDigits = false
				break
			}
		}
		if allDigits && dot+1 < len(trimmed) && trimmed[dot+1] == ' ' {
			return trimmed[dot+2:]
		}
	}

	return line
}

func normalizeWhitespace(text string) string {
	var result strings.Builder
	result.Grow(len(text))

	prevWhitespace := true // trims leading whitespace
	for _, c := range text {
		if unicode.IsSpace(c) {
			if !prevWhitespace {
				result.WriteByte(' ')
				prevWhitespace = true
			}
		} else {
			result.WriteRune(c)
			prevWhitespace = false
		}
	}

	return strings.TrimRight(result.String(), " ")
}

func filterLowSignal(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, pattern := range lowSignalContent {
		if lower == pattern {
			return ""
		}
	}
	return text
}

func truncateToChars(text string, maxChars int) string {
	count := 0
	for i := range text {
		if count == maxChars {
			return text[:i]
		}
		count++
	}
	return text
}
