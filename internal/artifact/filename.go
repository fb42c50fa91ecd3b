package artifact

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	fallbackName  = "download"
	maxNameLength = 120
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// DownloadName builds an ASCII attachment filename from a job title and the
// extension of the stored file.
func DownloadName(title, ext string) string {
	base := asciiSlug(title)
	if base == "" {
		base = fallbackName
	}
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if !alnum(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	return base + ext
}

func asciiSlug(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	lastSep := true
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastSep = false
		case r == '-' || r == '_' || r == '.':
			if !lastSep {
				b.WriteRune(r)
				lastSep = true
			}
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSep {
				b.WriteRune(' ')
				lastSep = true
			}
		}
		if b.Len() >= maxNameLength {
			break
		}
	}
	return strings.Trim(b.String(), " -_.")
}

func alnum(s string) bool {
	for _, r := range s {
		if r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func extOf(name string) string {
	return strings.ToLower(path.Ext(name))
}
