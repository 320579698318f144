package session

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	invalidRuns = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	repeatedSep = regexp.MustCompile(`_+`)
)

// SanitizeToolName normalizes a human tool name into an RPC-safe binding
// name: ASCII-fold, replace non-[A-Za-z0-9_-] runs with a single separator,
// collapse repeats, trim leading and trailing separators.
func SanitizeToolName(name string) string {
	folded := asciiFold(name)
	folded = invalidRuns.ReplaceAllString(folded, "_")
	folded = repeatedSep.ReplaceAllString(folded, "_")
	return strings.Trim(folded, "_-")
}

// asciiFold strips diacritics and drops any remaining non-ASCII runes.
func asciiFold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < 128:
			b.WriteRune(r)
		default:
			// Decompose the common Latin-1 range; anything else is dropped,
			// matching NFKD + ascii-ignore.
			if folded, ok := latinFold[r]; ok {
				b.WriteString(folded)
			}
		}
	}
	return b.String()
}

var latinFold = buildLatinFold()

func buildLatinFold() map[rune]string {
	m := make(map[rune]string)
	add := func(runes string, to string) {
		for _, r := range runes {
			m[r] = to
			m[unicode.ToUpper(r)] = strings.ToUpper(to)
		}
	}
	add("àáâãäå", "a")
	add("ç", "c")
	add("èéêë", "e")
	add("ìíîï", "i")
	add("ñ", "n")
	add("òóôõö", "o")
	add("ùúûü", "u")
	add("ý", "y")
	m['ß'] = "ss"
	m['æ'] = "ae"
	m['Æ'] = "AE"
	m['ø'] = "o"
	m['Ø'] = "O"
	return m
}
