package timectrl

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Time is a point in simulated time, counted in nanoseconds since the
// start of the run. It is also used for simulated durations.
type Time int64

const (
	NanoSecond  Time = 1
	MicroSecond      = 1000 * NanoSecond
	MilliSecond      = 1000 * MicroSecond
	Second           = 1000 * MilliSecond

	ZeroTime    Time = 0
	EpsilonTime Time = 1

	// InfiniteTime means "never". Arithmetic does not saturate at it, so
	// callers must compare against it before adding offsets.
	InfiniteTime Time = math.MaxInt64
)

// ErrParse is returned when a textual duration cannot be converted.
var ErrParse = errors.New("invalid time value")

// doubleEpsilon matches DBL_EPSILON.
var doubleEpsilon = math.Nextafter(1, 2) - 1

// infiniteSecsCutoff sits just below the float64 image of InfiniteTime so
// that rounding cannot push a finite input past the int64 range.
var infiniteSecsCutoff = (float64(InfiniteTime) / float64(Second)) -
	(doubleEpsilon * (float64(InfiniteTime) / float64(Second)))

// Seconds converts t to floating point seconds.
func (t Time) Seconds() float64 {
	return float64(t) / float64(Second)
}

// FromSeconds converts floating point seconds to the nearest nanosecond,
// clamping to InfiniteTime near the top of the range.
func FromSeconds(secs float64) Time {
	if secs > infiniteSecsCutoff {
		return InfiniteTime
	}
	return Time(math.Floor(secs*float64(Second) + 0.5))
}

// Duration returns t as a time.Duration. Both count nanoseconds.
func (t Time) Duration() time.Duration {
	return time.Duration(t)
}

// FromDuration converts a time.Duration.
func FromDuration(d time.Duration) Time {
	return Time(d)
}

// DivideRoundUp returns ceil(x / y). y must be positive.
func DivideRoundUp(x, y Time) Time {
	return (x + y - 1) / y
}

// FormatSeconds renders t as seconds with exactly nine fractional digits,
// e.g. "1.500000000". t must not be negative.
func FormatSeconds(t Time) string {
	if t < ZeroTime {
		panic(fmt.Sprintf("timectrl: FormatSeconds called with negative time %d", int64(t)))
	}
	return fmt.Sprintf("%d.%09d", int64(t/Second), int64(t%Second))
}

// String is safe to use in logs for any value.
func (t Time) String() string {
	switch {
	case t == InfiniteTime:
		return "infinite"
	case t < ZeroTime:
		return fmt.Sprintf("%dns", int64(t))
	default:
		return FormatSeconds(t)
	}
}

var unitSuffixes = []struct {
	suffix string
	unit   Time
}{
	// Longer suffixes first so "ms" is not read as "s".
	{"hours", 3600 * Second},
	{"hour", 3600 * Second},
	{"days", 86400 * Second},
	{"day", 86400 * Second},
	{"mins", 60 * Second},
	{"min", 60 * Second},
	{"secs", Second},
	{"sec", Second},
	{"ns", NanoSecond},
	{"us", MicroSecond},
	{"ms", MilliSecond},
	{"h", 3600 * Second},
	{"d", 86400 * Second},
	{"m", 60 * Second},
	{"s", Second},
}

var maxTimeDecimal = decimal.NewFromInt(int64(InfiniteTime))

// ParseDuration converts text such as "1.5sec", "100ms", "20us" or "3" (seconds)
// to a Time. "inf" and "infinite" map to InfiniteTime.
func ParseDuration(text string) (Time, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrParse)
	}
	if s == "inf" || s == "infinite" || s == "infinity" {
		return InfiniteTime, nil
	}

	unit := Second
	number := s
	for _, u := range unitSuffixes {
		if strings.HasSuffix(s, u.suffix) {
			unit = u.unit
			number = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}
	if number == "" {
		return 0, fmt.Errorf("%w: %q has no numeric part", ErrParse, text)
	}

	value, err := decimal.NewFromString(number)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrParse, text, err)
	}
	if value.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrParse, text)
	}

	nanos := value.Mul(decimal.NewFromInt(int64(unit))).Round(0)
	if nanos.GreaterThan(maxTimeDecimal) {
		return 0, fmt.Errorf("%w: %q is out of range", ErrParse, text)
	}
	return Time(nanos.IntPart()), nil
}

// TryParseDuration is ParseDuration reporting failure as a flag.
func TryParseDuration(text string) (Time, bool) {
	t, err := ParseDuration(text)
	if err != nil {
		return 0, false
	}
	return t, true
}
