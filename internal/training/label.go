package training

import (
	"strings"
	"unicode"
)

// SanitizeLabel converts a client label into a single safe path segment.
// Whitespace runs become one underscore and path separators or other
// punctuation are replaced. Returns "" when nothing usable remains.
func SanitizeLabel(label string) string {
	label = strings.Join(strings.Fields(label), "_")
	label = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, label)
	label = strings.ReplaceAll(label, "..", "_")
	label = strings.Trim(label, ".")

	if strings.Trim(label, "_") == "" {
		return ""
	}
	return label
}

// safeExtension returns the lowercased extension of a client filename when it
// is short and alphanumeric, otherwise "".
func safeExtension(filename string) string {
	// Clients may send Windows paths
	filename = filename[strings.LastIndexAny(filename, `/\`)+1:]
	idx := strings.LastIndex(filename, ".")
	if idx <= 0 || idx == len(filename)-1 {
		return ""
	}
	ext := strings.ToLower(filename[idx:])
	if len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}
