package telegram

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitTextShortMessage(t *testing.T) {
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(text, 10, "")
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(got), got)
	}
	if got[0] != strings.Repeat("a", 6) || got[1] != strings.Repeat("b", 6) {
		t.Fatalf("unexpected chunks: %q", got)
	}
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	text := "xxxxxxx<code>yy</code>"
	got := splitText(text, 10, "HTML")
	if got[0] != "xxxxxxx" {
		t.Fatalf("first chunk cut inside a tag: %q", got)
	}
	if strings.Join(got, "") != text {
		t.Fatalf("chunks do not reassemble: %q", got)
	}
}

func TestSplitTextCoversAllRunes(t *testing.T) {
	text := strings.Repeat("ж", 25)
	got := splitText(text, 10, "")
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	if strings.Join(got, "") != text {
		t.Fatalf("chunks lost data")
	}
}

func TestSplitTextBalancesHTMLAcrossChunks(t *testing.T) {
	var b strings.Builder
	b.WriteString("Last 50 info log records:\n<code>")
	for i := range 50 {
		fmt.Fprintf(&b, `{"level":"info","loop":"check_devices","n":%d,"message":"nothing to report %s"}`+"\n", i, strings.Repeat("x", 60))
	}
	b.WriteString("</code>")

	got := splitText(b.String(), textLimit, "HTML")
	if len(got) < 2 {
		t.Fatalf("expected several chunks, got %d", len(got))
	}
	for i, c := range got {
		if n := len([]rune(c)); n > 4096 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if o, cl := strings.Count(c, "<code>"), strings.Count(c, "</code>"); o != 1 || cl != 1 {
			t.Fatalf("chunk %d unbalanced: %d open, %d close", i, o, cl)
		}
		if !strings.HasSuffix(c, "</code>") {
			t.Fatalf("chunk %d does not end with </code>: %q", i, c[max(0, len(c)-20):])
		}
	}
	if !strings.HasPrefix(got[1], "<code>") {
		t.Fatalf("second chunk should reopen <code>: %q", got[1][:20])
	}
}

func TestSplitTextKeepsEntitiesWhole(t *testing.T) {
	text := strings.Repeat("&amp;", 10)
	got := splitText(text, 12, "HTML")
	if strings.Join(got, "") != text {
		t.Fatalf("chunks do not reassemble: %q", got)
	}
	for _, c := range got {
		if strings.Count(c, "&") != strings.Count(c, "&amp;") {
			t.Fatalf("entity cut in chunk %q", c)
		}
	}
}

func TestSplitTextNestedTags(t *testing.T) {
	text := "<b>" + strings.Repeat("a", 8) + "<i>" + strings.Repeat("b", 20) + "</i></b>"
	got := splitText(text, 20, "HTML")
	for i, c := range got {
		for _, tag := range []string{"b", "i"} {
			if strings.Count(c, "<"+tag+">") != strings.Count(c, "</"+tag+">") {
				t.Fatalf("chunk %d unbalanced <%s>: %q", i, tag, c)
			}
		}
	}
}
