package sqldb

import (
	"strings"
	"unicode"
)

// execOnly are leading keywords of statements that never produce rows
// unless they carry a RETURNING or OUTPUT clause.
var execOnly = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"MERGE":    true,
	"CREATE":   true,
	"ALTER":    true,
	"DROP":     true,
	"TRUNCATE": true,
	"GRANT":    true,
	"REVOKE":   true,
	"COMMENT":  true,
	"RENAME":   true,
}

// ReturnsRows reports whether stmt should be run as a query. Unknown
// statements are treated as queries; drivers return an empty result for
// them.
func ReturnsRows(stmt string) bool {
	s := stripLeadingComments(stmt)
	word := leadingWord(s)
	if !execOnly[word] {
		return true
	}
	for _, w := range strings.FieldsFunc(strings.ToUpper(s), notIdentRune) {
		if w == "RETURNING" || w == "OUTPUT" {
			return true
		}
	}
	return false
}

func notIdentRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

func leadingWord(s string) string {
	s = strings.TrimLeft(s, "( \t\r\n")
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if end == -1 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl == -1 {
				return ""
			}
			s = s[nl+1:]
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end == -1 {
				return ""
			}
			s = s[end+2:]
		default:
			return s
		}
	}
}
