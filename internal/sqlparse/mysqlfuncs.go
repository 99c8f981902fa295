package sqlparse

import (
	"regexp"
	"strings"
)

// LikeToRegex converts a MySQL LIKE pattern into an anchored Go regular
// expression: % becomes .*, _ becomes ., and the escapes \% and \_ stand for
// the literal characters. Everything else is quoted.
func LikeToRegex(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	escaped := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '\\':
			if escaped {
				b.WriteString(`\\`)
				escaped = false
			} else {
				escaped = true
			}
		case '_':
			if escaped {
				b.WriteByte('_')
			} else {
				b.WriteByte('.')
			}
			escaped = false
		case '%':
			if escaped {
				b.WriteByte('%')
			} else {
				b.WriteString(".*")
			}
			escaped = false
		default:
			escaped = false
			switch c {
			case '.', ',', '?', '*', '[', ']', '|', '^', '$', '+', '(', ')', '{', '}':
				b.WriteByte('\\')
				b.WriteByte(c)
			default:
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('$')
	return b.String()
}

// likeMatch reports whether value matches the MySQL LIKE pattern. An empty
// pattern matches nothing, mirroring the server. LIKE comparisons are
// case-insensitive under the default collation.
func likeMatch(value, pattern string) bool {
	if pattern == "" {
		return false
	}
	re, err := regexp.Compile("(?i)" + LikeToRegex(pattern))
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// tautologyPattern reports whether a LIKE pattern matches every string, e.g.
// "%" or "%%".
func tautologyPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '%' {
			return false
		}
	}
	return true
}

var soundexClasses = [26]byte{
	//  a    b    c    d    e    f    g    h    i    j    k    l    m
	0, '1', '2', '3', 0, '1', '2', 0, 0, '2', '2', '4', '5',
	//  n    o    p    q    r    s    t    u    v    w    x    y    z
	'5', 0, '1', '2', '6', '2', '3', 0, '1', 0, '2', 0, '2',
}

// Soundex implements MySQL's SOUNDEX(): retain the first letter, drop
// a/e/h/i/o/u/w/y elsewhere, map the rest to digit classes, collapse codes
// that were adjacent in the original word (h and w do not break adjacency),
// and pad with zeroes to at least four characters.
func Soundex(word string) string {
	// Keep letters only.
	letters := make([]byte, 0, len(word))
	for i := 0; i < len(word); i++ {
		c := word[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c >= 'a' && c <= 'z' {
			letters = append(letters, c)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	first := letters[0] - 'a' + 'A'
	firstCode := soundexClasses[letters[0]-'a']

	var out []byte
	out = append(out, first)
	lastCode := firstCode
	for _, c := range letters[1:] {
		// h and w are transparent: they neither emit a code nor reset
		// adjacency, so identical codes across them still collapse.
		if c == 'h' || c == 'w' {
			continue
		}
		code := soundexClasses[c-'a']
		if code == 0 {
			// Vowels emit nothing but do break adjacency.
			lastCode = 0
			continue
		}
		if code != lastCode {
			out = append(out, code)
		}
		lastCode = code
	}

	for len(out) < 4 {
		out = append(out, '0')
	}
	return string(out)
}
