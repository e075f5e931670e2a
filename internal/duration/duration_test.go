package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"500", 500 * time.Millisecond},
		{"0", 0},
		{"500ms", 500 * time.Millisecond},
		{"30s", 30 * time.Second},
		{"2m", 2 * time.Minute},
		{"1.5m", 90 * time.Second},
		{"1h", time.Hour},
		{"1d", 24 * time.Hour},
		{" 10s ", 10 * time.Second},
		{"1h 1m 1s", time.Hour + time.Minute + time.Second},
		{"1s 500ms", 1500 * time.Millisecond},
		{"106751d", 106751 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"", ErrInvalidFormat},
		{"   ", ErrInvalidFormat},
		{"abc", ErrInvalidFormat},
		{"10x", ErrInvalidFormat},
		{"m5", ErrInvalidFormat},
		{"1h 500", ErrInvalidFormat},
		{"-5", ErrNegativeDuration},
		{"-5s", ErrNegativeDuration},
		{"-1.5m", ErrNegativeDuration},
		{"200000d", ErrOutOfRange},
		{"9999999999999999d", ErrOutOfRange},
		{"106751d 106751d", ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{3661000 * time.Millisecond, "1h 1m 1s"},
		{90 * time.Second, "1m 30s"},
		{2 * time.Minute, "2m"},
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1s 500ms"},
		{24 * time.Hour, "24h"},
		{0, "0ms"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	inputs := []string{"30s", "2m", "1h", "500ms", "10m", "3d", "45s", "7200000"}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			first, err := Parse(input)
			require.NoError(t, err)
			second, err := Parse(Format(first))
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestPhaseTimeout_Precedence(t *testing.T) {
	t.Run("phase specific wins", func(t *testing.T) {
		cfg := Config{"repos": "10m", PerPhaseKey: "5m"}
		got, err := PhaseTimeout(cfg, "repos")
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, got)
	})

	t.Run("per-phase when no phase entry", func(t *testing.T) {
		cfg := Config{"repos": "10m", PerPhaseKey: "5m"}
		got, err := PhaseTimeout(cfg, "files")
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, got)
	})

	t.Run("system default", func(t *testing.T) {
		got, err := PhaseTimeout(Config{"repos": "10m"}, "files")
		require.NoError(t, err)
		assert.Equal(t, 120000*time.Millisecond, got)
	})

	t.Run("nil config", func(t *testing.T) {
		got, err := PhaseTimeout(nil, "base")
		require.NoError(t, err)
		assert.Equal(t, DefaultPhaseTimeout, got)
	})

	t.Run("invalid selected value", func(t *testing.T) {
		_, err := PhaseTimeout(Config{"base": "soon"}, "base")
		require.ErrorIs(t, err, ErrInvalidFormat)
	})
}

func TestValidate(t *testing.T) {
	issues := Validate(Config{
		"base":      "2m",
		"repos":     "forever",
		PerPhaseKey: "-1s",
	})

	require.Len(t, issues, 2)
	assert.Contains(t, issues[0], "timeout.per-phase")
	assert.Contains(t, issues[1], "timeout.repos")

	assert.Empty(t, Validate(nil))

	issues = Validate(Config{"tools": "200000d"})
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "timeout.tools: duration out of range")
}
