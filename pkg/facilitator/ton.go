package facilitator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// nanosPerTon is the number of nanotons in one TON.
const nanosPerTon = 1_000_000_000

// maxWholeTon is the largest whole-TON part an int64 nanoton amount can
// carry.
const maxWholeTon = math.MaxInt64 / nanosPerTon

// FormatTON renders a nanoton amount as the decimal TON string used on
// the facilitator wire, without a trailing zero fraction.
func FormatTON(amountNano int64) string {
	whole := amountNano / nanosPerTon
	frac := amountNano % nanosPerTon
	if frac < 0 {
		frac = -frac
	}
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	s := fmt.Sprintf("%d.%09d", whole, frac)
	return strings.TrimRight(s, "0")
}

// ParseTON parses a decimal TON string into nanotons. More than nine
// fractional digits is malformed: the chain cannot represent it.
func ParseTON(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	wholePart, fracPart, hasFrac := strings.Cut(s, ".")
	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed amount %q: %w", s, err)
	}
	var frac int64
	if hasFrac {
		if fracPart == "" || len(fracPart) > 9 {
			return 0, fmt.Errorf("malformed amount %q: fractional part must be 1-9 digits", s)
		}
		padded := fracPart + strings.Repeat("0", 9-len(fracPart))
		frac, err = strconv.ParseInt(padded, 10, 64)
		if err != nil || frac < 0 {
			return 0, fmt.Errorf("malformed amount %q: bad fraction", s)
		}
	}
	if whole < 0 || strings.HasPrefix(wholePart, "-") {
		return 0, fmt.Errorf("malformed amount %q: negative", s)
	}
	if whole > maxWholeTon || whole*nanosPerTon > math.MaxInt64-frac {
		return 0, fmt.Errorf("malformed amount %q: exceeds the representable nanoton range", s)
	}
	return whole*nanosPerTon + frac, nil
}
