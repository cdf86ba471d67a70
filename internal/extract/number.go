package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var shortNumberRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([KkMmBb])?$`)

// ParseNumber parses shorthand magnitudes such as "15.4K", "1.2M" or "1,200".
// Commas and whitespace are stripped first; anything else that does not have
// the exact shape digits[.digits][K|M|B] yields ok=false.
func ParseNumber(token string) (int64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, token)

	m := shortNumberRe.FindStringSubmatch(cleaned)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}

	switch strings.ToUpper(m[2]) {
	case "K":
		value *= 1_000
	case "M":
		value *= 1_000_000
	case "B":
		value *= 1_000_000_000
	}
	value = math.Round(value)
	if value > math.MaxInt64 {
		return 0, false
	}
	return int64(value), true
}
