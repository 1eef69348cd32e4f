// Package numutil formats numbers for the terminal report.
package numutil

import (
	"fmt"
	"math"
	"strconv"
)

// Integer is any signed or unsigned integer type.
type Integer interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64
}

// WithCommas returns a string representation of an integer with commas.
//
// Example:
//
//	12345 -> "12,345"
func WithCommas[T Integer](i T) string {
	s := strconv.FormatInt(int64(i), 10)
	if i > 0 && uint64(i) > math.MaxInt64 {
		s = strconv.FormatUint(uint64(i), 10)
	}

	sign := ""
	if s[0] == '-' {
		sign, s = "-", s[1:]
	}

	out := make([]byte, 0, len(s)+len(s)/3)
	for idx := range len(s) {
		if idx > 0 && (len(s)-idx)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[idx])
	}
	return sign + string(out)
}

// Rate formats a per second rate with commas and one decimal.
//
// Example:
//
//	12345.67 -> "12,345.7/s"
func Rate(perSecond float64) string {
	if math.IsNaN(perSecond) || math.IsInf(perSecond, 0) {
		return "n/a"
	}
	tenths := int64(math.Round(perSecond * 10))
	whole, frac := tenths/10, tenths%10
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%s.%d/s", WithCommas(whole), frac)
}
