package telegram

import (
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))

	blankRuns  = regexp.MustCompile(`\n{3,}`)
	textEscape = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// RenderHTML converts Markdown into the tag subset Telegram accepts.
// Tables become aligned monospace blocks. Unsupported tags keep only their text.
func RenderHTML(src string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return textEscape.Replace(src)
	}
	return convertHTML(&buf)
}

// convertHTML maps rendered HTML onto Telegram's tag subset.
func convertHTML(r io.Reader) string {
	var c htmlConverter
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return c.result()
		case html.StartTagToken, html.SelfClosingTagToken:
			c.start(z.Token())
		case html.EndTagToken:
			c.end(z.Token().Data)
		case html.TextToken:
			c.text(z.Token().Data)
		}
	}
}

type list struct {
	ordered bool
	next    int
}

type htmlConverter struct {
	out   strings.Builder
	stack []string
	lists []list
	// links records per open <a> whether an opening tag was written.
	links []bool

	inTable bool
	inCell  bool
	rows    [][]string
	row     []string
	cell    strings.Builder
}

func (c *htmlConverter) inside(tag string) bool {
	for _, t := range c.stack {
		if t == tag {
			return true
		}
	}
	return false
}

func (c *htmlConverter) start(tok html.Token) {
	tag := tok.Data
	if tag != "br" && tag != "hr" && tag != "img" {
		c.stack = append(c.stack, tag)
	}
	if c.inTable {
		switch tag {
		case "tr":
			c.row = nil
		case "th", "td":
			c.inCell = true
			c.cell.Reset()
		}
		return
	}
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6", "strong", "b":
		c.out.WriteString("<b>")
	case "em", "i":
		c.out.WriteString("<i>")
	case "u":
		c.out.WriteString("<u>")
	case "s", "del", "strike":
		c.out.WriteString("<s>")
	case "code":
		if !c.inside("pre") {
			c.out.WriteString("<code>")
		}
	case "pre":
		c.out.WriteString("<pre>")
	case "a":
		for _, attr := range tok.Attr {
			if attr.Key == "href" {
				c.out.WriteString(`<a href="` + html.EscapeString(attr.Val) + `">`)
				c.links = append(c.links, true)
				return
			}
		}
		c.links = append(c.links, false)
	case "blockquote":
		c.out.WriteString("<blockquote>")
	case "br":
		c.out.WriteString("\n")
	case "ul":
		c.lists = append(c.lists, list{})
	case "ol":
		first := 1
		for _, attr := range tok.Attr {
			if attr.Key == "start" {
				if n, err := strconv.Atoi(attr.Val); err == nil {
					first = n
				}
			}
		}
		c.lists = append(c.lists, list{ordered: true, next: first})
	case "li":
		c.listItem()
	case "table":
		c.inTable = true
		c.rows = nil
	}
}

func (c *htmlConverter) listItem() {
	if len(c.lists) == 0 {
		c.out.WriteString("• ")
		return
	}
	c.out.WriteString(strings.Repeat("  ", len(c.lists)-1))
	l := &c.lists[len(c.lists)-1]
	if l.ordered {
		c.out.WriteString(strconv.Itoa(l.next) + ". ")
		l.next++
		return
	}
	c.out.WriteString("• ")
}

func (c *htmlConverter) end(tag string) {
	for i := len(c.stack) - 1; i >= 0; i-- {
		if c.stack[i] == tag {
			c.stack = c.stack[:i]
			break
		}
	}
	if c.inTable {
		switch tag {
		case "th", "td":
			c.row = append(c.row, strings.TrimSpace(c.cell.String()))
			c.inCell = false
		case "tr":
			c.rows = append(c.rows, c.row)
			c.row = nil
		case "table":
			c.inTable = false
			c.out.WriteString(renderTable(c.rows))
		}
		return
	}
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		c.out.WriteString("</b>\n\n")
	case "strong", "b":
		c.out.WriteString("</b>")
	case "em", "i":
		c.out.WriteString("</i>")
	case "u":
		c.out.WriteString("</u>")
	case "s", "del", "strike":
		c.out.WriteString("</s>")
	case "code":
		if !c.inside("pre") {
			c.out.WriteString("</code>")
		}
	case "pre":
		c.out.WriteString("</pre>\n")
	case "a":
		if n := len(c.links); n > 0 {
			opened := c.links[n-1]
			c.links = c.links[:n-1]
			if opened {
				c.out.WriteString("</a>")
			}
		}
	case "blockquote":
		c.out.WriteString("</blockquote>\n")
	case "p":
		c.out.WriteString("\n\n")
	case "ul", "ol":
		if len(c.lists) > 0 {
			c.lists = c.lists[:len(c.lists)-1]
		}
	}
}

func (c *htmlConverter) text(data string) {
	if c.inTable {
		if c.inCell {
			c.cell.WriteString(data)
		}
		return
	}
	c.out.WriteString(textEscape.Replace(data))
}

func (c *htmlConverter) result() string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(c.out.String(), "\n\n"))
}

func renderTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			w := utf8.RuneCountInString(cell)
			if i >= len(widths) {
				widths = append(widths, w)
			} else if w > widths[i] {
				widths[i] = w
			}
		}
	}
	lines := make([]string, 0, len(rows)+1)
	for ri, row := range rows {
		cells := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cells[i] = cell + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell))
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
		if ri == 0 {
			dashes := make([]string, len(widths))
			for i, w := range widths {
				dashes[i] = strings.Repeat("-", w)
			}
			lines = append(lines, "|-"+strings.Join(dashes, "-+-")+"-|")
		}
	}
	return "<pre>" + textEscape.Replace(strings.Join(lines, "\n")) + "</pre>\n\n"
}
