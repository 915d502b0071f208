// Package gnu compares version strings the way dpkg and GNU sort -V do.
package gnu

// Compare returns -1, 0 or 1 as version a sorts before, equal to or after
// version b. Digit runs compare numerically; other characters compare with
// letters before punctuation and '~' before everything, even the end of the
// string, so that "1.0~rc1" < "1.0".
func Compare(a, b string) int {
	for a != "" || b != "" {
		var sa, sb string
		sa, a = cut(a, false)
		sb, b = cut(b, false)
		if c := compareText(sa, sb); c != 0 {
			return c
		}
		sa, a = cut(a, true)
		sb, b = cut(b, true)
		if c := compareNumber(sa, sb); c != 0 {
			return c
		}
	}
	return 0
}

// cut splits the leading run of digits (or non-digits) off s.
func cut(s string, digits bool) (run, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) == digits {
		i++
	}
	return s[:i], s[i:]
}

func compareText(a, b string) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		oa, ob := weight(a, i), weight(b, i)
		if oa != ob {
			return sign(oa - ob)
		}
	}
	return 0
}

// weight orders the byte at s[i]; the end of s weighs zero.
func weight(s string, i int) int {
	if i >= len(s) {
		return 0
	}
	switch c := s[i]; {
	case c == '~':
		return -1
	case isAlpha(c):
		return int(c)
	default:
		return int(c) + 256
	}
}

func compareNumber(a, b string) int {
	a, b = trimZeros(a), trimZeros(b)
	if len(a) != len(b) {
		return sign(len(a) - len(b))
	}
	for i := range len(a) {
		if a[i] != b[i] {
			return sign(int(a[i]) - int(b[i]))
		}
	}
	return 0
}

func trimZeros(s string) string {
	for s != "" && s[0] == '0' {
		s = s[1:]
	}
	return s
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
