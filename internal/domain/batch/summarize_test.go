package batch

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSummarize(t *testing.T) {
	t.Run("short text kept whole", func(t *testing.T) {
		if got := summarize([]string{"primeira", "tudo certo"}); got != "tudo certo" {
			t.Errorf("summary = %q, want the latest text", got)
		}
	})

	t.Run("truncates on a rune boundary", func(t *testing.T) {
		// Byte 160 lands inside a two-byte rune, so a byte slice would
		// split it.
		long := "x" + strings.Repeat("ã", 120)

		got := summarize([]string{long})
		if len(got) > 160 {
			t.Errorf("summary is %d bytes, want at most 160", len(got))
		}
		if !utf8.ValidString(got) {
			t.Errorf("summary splits a rune: %q", got)
		}
		if !strings.HasPrefix(long, got) {
			t.Errorf("summary %q is not a prefix of the text", got)
		}
	})

	t.Run("clean boundary is kept exact", func(t *testing.T) {
		long := strings.Repeat("ab", 100)

		got := summarize([]string{long})
		if len(got) != 160 {
			t.Errorf("summary is %d bytes, want 160 when the cut is clean", len(got))
		}
	})
}
