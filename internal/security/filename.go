// Package security holds small sanitizers for untrusted input and for
// secrets that must not leak into responses or logs.
package security

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameLength caps cleaned filenames, in runes
const MaxFilenameLength = 255

// CleanFilename reduces a client supplied filename to a bare name: no
// directory components, no control characters, bounded length. It returns
// "" when nothing usable is left.
func CleanFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "." || name == ".." {
		return ""
	}

	if utf8.RuneCountInString(name) > MaxFilenameLength {
		runes := []rune(name)
		name = string(runes[:MaxFilenameLength])
	}
	return name
}
