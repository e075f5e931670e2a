// Package duration parses the human-readable durations used in habitat
// configuration and resolves how long each build phase may run.
package duration

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultPhaseTimeout applies when neither a phase-specific nor a
// per-phase timeout is configured.
const DefaultPhaseTimeout = 120000 * time.Millisecond

// PerPhaseKey is the timeout key that applies to every phase without a
// phase-specific entry.
const PerPhaseKey = "per-phase"

var (
	// ErrInvalidFormat is returned for empty input or input that does not
	// match <number><unit>.
	ErrInvalidFormat = errors.New("invalid duration format")

	// ErrNegativeDuration is returned when the numeric value is negative.
	ErrNegativeDuration = errors.New("negative duration")

	// ErrOutOfRange is returned when the value does not fit in a
	// time.Duration.
	ErrOutOfRange = errors.New("duration out of range")
)

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// Pre-compiled patterns (compiled once at package init)
var (
	unitPattern   = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)(ms|s|m|h|d)$`)
	numberPattern = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
)

var unitScale = map[string]float64{
	"ms": 1,
	"s":  1000,
	"m":  60 * 1000,
	"h":  60 * 60 * 1000,
	"d":  24 * 60 * 60 * 1000,
}

// Config is the timeout section of a habitat configuration. Keys are
// phase names or PerPhaseKey; values are anything Parse accepts.
type Config map[string]string

// Parse converts input into a duration with millisecond precision.
//
// Accepted forms:
//   - a bare number, interpreted as milliseconds ("500", "1500.5")
//   - <number><unit> with unit one of ms, s, m, h, d ("30s", "1.5m")
//   - whitespace separated segments as produced by Format ("1h 1m 1s")
func Parse(input string) (time.Duration, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidFormat)
	}

	segments := strings.Fields(trimmed)
	var totalMillis float64
	for _, segment := range segments {
		millis, err := parseSegment(segment, len(segments) == 1)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", err, input)
		}
		totalMillis += millis
	}

	rounded := math.Round(totalMillis)
	if rounded > float64(maxMillis) {
		return 0, fmt.Errorf("%w: %q", ErrOutOfRange, input)
	}
	return time.Duration(rounded) * time.Millisecond, nil
}

// parseSegment returns the millisecond value of one segment. Bare
// numbers are only valid when they are the whole input.
func parseSegment(segment string, alone bool) (float64, error) {
	if numberPattern.MatchString(segment) {
		if !alone {
			return 0, ErrInvalidFormat
		}
		value, err := strconv.ParseFloat(segment, 64)
		if err != nil {
			return 0, ErrInvalidFormat
		}
		if value < 0 {
			return 0, ErrNegativeDuration
		}
		return value, nil
	}

	match := unitPattern.FindStringSubmatch(segment)
	if match == nil {
		return 0, ErrInvalidFormat
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, ErrInvalidFormat
	}
	if value < 0 {
		return 0, ErrNegativeDuration
	}
	return value * unitScale[match[2]], nil
}

// PhaseTimeout resolves the timeout for phaseName.
// Priority:
// 1. cfg[phaseName]
// 2. cfg["per-phase"]
// 3. DefaultPhaseTimeout
//
// A nil or empty config is not an error. An error is only returned when
// the selected value does not parse.
func PhaseTimeout(cfg Config, phaseName string) (time.Duration, error) {
	if raw, ok := cfg[phaseName]; ok {
		timeout, err := Parse(raw)
		if err != nil {
			return 0, fmt.Errorf("timeout.%s: %w", phaseName, err)
		}
		return timeout, nil
	}
	if raw, ok := cfg[PerPhaseKey]; ok {
		timeout, err := Parse(raw)
		if err != nil {
			return 0, fmt.Errorf("timeout.%s: %w", PerPhaseKey, err)
		}
		return timeout, nil
	}
	return DefaultPhaseTimeout, nil
}

// Format renders d compactly, e.g. 3661s -> "1h 1m 1s". A millisecond
// remainder is appended as "<n>ms". Used for diagnostics only.
func Format(d time.Duration) string {
	millis := d.Milliseconds()
	if millis <= 0 {
		return "0ms"
	}

	hours := millis / int64(time.Hour/time.Millisecond)
	millis %= int64(time.Hour / time.Millisecond)
	minutes := millis / int64(time.Minute/time.Millisecond)
	millis %= int64(time.Minute / time.Millisecond)
	seconds := millis / int64(time.Second/time.Millisecond)
	millis %= int64(time.Second / time.Millisecond)

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	if millis > 0 {
		parts = append(parts, fmt.Sprintf("%dms", millis))
	}
	return strings.Join(parts, " ")
}

// Validate checks every entry of cfg. Returns one human-readable
// message per offending key, sorted by key. An empty list means the
// section is valid.
func Validate(cfg Config) []string {
	keys := make([]string, 0, len(cfg))
	for key := range cfg {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var issues []string
	for _, key := range keys {
		if _, err := Parse(cfg[key]); err != nil {
			issues = append(issues, fmt.Sprintf("timeout.%s: %v", key, err))
		}
	}
	return issues
}
