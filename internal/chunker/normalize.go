package chunker

import (
	"strings"
	"unicode"
)

// Normalize prepares raw document text for splitting. Line endings are
// unified, page markers such as "=== Sayfa 12 ===" are removed, every line
// is trimmed, runs of blank lines collapse to one and the result is trimmed.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if isPageMarker(line) {
			continue
		}

		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}

		out = append(out, line)
		blank = false
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

// isPageMarker matches "=== Sayfa N ===" and "=== Page N ===".
func isPageMarker(line string) bool {
	inner, ok := strings.CutPrefix(line, "===")
	if !ok {
		return false
	}
	inner, ok = strings.CutSuffix(inner, "===")
	if !ok {
		return false
	}

	fields := strings.Fields(inner)
	if len(fields) != 2 || (fields[0] != "Sayfa" && fields[0] != "Page") {
		return false
	}
	return isDigits(fields[1])
}

// SectionToken reports whether line starts with a hierarchical clause number
// such as "4.2.28" or "4.2.28.A" and returns the normalized token. The first
// whitespace-delimited token, stripped of trailing punctuation, must have at
// least three dot-separated segments. The first three are all digits and any
// further segments are alphanumeric.
func SectionToken(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}

	token := strings.TrimRight(fields[0], ":;,.)")
	parts := strings.Split(token, ".")
	if len(parts) < 3 {
		return "", false
	}

	for _, p := range parts[:3] {
		if !isDigits(p) {
			return "", false
		}
	}
	for _, p := range parts[3:] {
		if !isAlnum(p) {
			return "", false
		}
	}
	return token, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// lower lowercases text, mapping the Turkish dotted capital I to a plain i.
func lower(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "İ", "i"))
}
