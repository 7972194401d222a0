package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLevelParsing(t *testing.T) {
	cases := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel}, // unknown falls back to info
	}
	for _, tc := range cases {
		log := New(tc.level, "json")
		if got := log.GetLevel(); got != tc.want {
			t.Errorf("New(%q): level = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestNewFormats(t *testing.T) {
	// Both formats must produce a usable logger.
	for _, format := range []string{"json", "text"} {
		log := New("info", format)
		log.Debug().Msg("suppressed at info level")
		if log.GetLevel() != zerolog.InfoLevel {
			t.Errorf("format %q: unexpected level %v", format, log.GetLevel())
		}
	}
}
