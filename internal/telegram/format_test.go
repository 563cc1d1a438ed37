package telegram

import (
	"strings"
	"testing"

	"github.com/danmuck/connectorctl/internal/testutil/testlog"
)

func TestRenderHTMLInline(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bold and code", "**bold** and `code`", "<b>bold</b> and <code>code</code>"},
		{"emphasis", "*soft* ~~gone~~", "<i>soft</i> <s>gone</s>"},
		{"escape", "a < b & c", "a &lt; b &amp; c"},
		{"heading", "# Title\n\nBody", "<b>Title</b>\n\nBody"},
		{"link", "[site](https://x.io/?a=1&b=2)", `<a href="https://x.io/?a=1&amp;b=2">site</a>`},
		{"paragraphs collapse", "one\n\n\n\ntwo", "one\n\ntwo"},
	}
	for _, tc := range cases {
		if got := RenderHTML(tc.in); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestRenderHTMLCodeBlockKeepsContentVerbatim(t *testing.T) {
	testlog.Start(t)
	got := RenderHTML("```go\nif a < b {\n}\n```")
	want := "<pre>if a &lt; b {\n}\n</pre>"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if strings.Contains(got, "<code") {
		t.Fatalf("code inside pre should be unwrapped: %q", got)
	}
}

func TestRenderHTMLTableAsPre(t *testing.T) {
	testlog.Start(t)
	got := RenderHTML("| a | bb |\n|---|---|\n| ccc | **d** |\n")
	want := "<pre>| a   | bb |\n|-----+----|\n| ccc | d  |</pre>"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRenderHTMLLists(t *testing.T) {
	testlog.Start(t)
	got := RenderHTML("- one\n- two\n\n1. first\n2. second")
	for _, want := range []string{"• one", "• two", "1. first", "2. second"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
}

func TestRenderHTMLDropsRawHTML(t *testing.T) {
	testlog.Start(t)
	got := RenderHTML("hello <script>alert(1)</script>")
	if strings.Contains(got, "<script>") {
		t.Fatalf("raw html leaked: %q", got)
	}
	if !strings.HasPrefix(got, "hello") {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestConvertHTMLAnchorWithoutHref(t *testing.T) {
	testlog.Start(t)
	got := convertHTML(strings.NewReader(`<p><a name="top">anchor</a> and <a href="https://x.io">link</a></p>`))
	want := `anchor and <a href="https://x.io">link</a>`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if strings.Count(got, "</a>") != strings.Count(got, "<a ") {
		t.Fatalf("unbalanced anchors in %q", got)
	}
}
