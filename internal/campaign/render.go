package campaign

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/osteele/liquid"
)

// envelope wraps the rendered body. The unsubscribe placeholder is left
// for the provider to fill at delivery time.
const envelope = `<!DOCTYPE html>
<html>
<body>
%s
<hr>
<p style="font-size:12px;color:#666">You are receiving this because you are on our outreach list.
<a href="{{unsubscribe_url}}">Unsubscribe</a></p>
</body>
</html>`

var (
	boldRe      = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe    = regexp.MustCompile(`\*([^*]+)\*`)
	underlineRe = regexp.MustCompile(`__([^_]+)__`)
)

// Renderer turns document text into the restricted HTML subset the
// providers accept: paragraphs, h1-h3, bold, italic, underline. Liquid
// bindings are applied before the envelope so the unsubscribe
// placeholder survives for the provider.
type Renderer struct {
	engine *liquid.Engine
}

// NewRenderer builds a renderer with a stock liquid engine.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Render converts and templatizes the document text. bindings may be nil.
func (r *Renderer) Render(docText string, bindings map[string]interface{}) (string, error) {
	body := toRestrictedHTML(docText)
	if bindings == nil {
		bindings = map[string]interface{}{}
	}
	rendered, err := r.engine.ParseAndRenderString(body, bindings)
	if err != nil {
		return "", fmt.Errorf("rendering body template: %w", err)
	}
	return fmt.Sprintf(envelope, rendered), nil
}

// toRestrictedHTML maps the document's light markup onto the allowed tag
// subset. Everything else is escaped.
func toRestrictedHTML(text string) string {
	var blocks []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		switch {
		case strings.HasPrefix(para, "### "):
			blocks = append(blocks, "<h3>"+inline(strings.TrimPrefix(para, "### "))+"</h3>")
		case strings.HasPrefix(para, "## "):
			blocks = append(blocks, "<h2>"+inline(strings.TrimPrefix(para, "## "))+"</h2>")
		case strings.HasPrefix(para, "# "):
			blocks = append(blocks, "<h1>"+inline(strings.TrimPrefix(para, "# "))+"</h1>")
		default:
			lines := strings.Split(para, "\n")
			for i, l := range lines {
				lines[i] = inline(l)
			}
			blocks = append(blocks, "<p>"+strings.Join(lines, "<br>")+"</p>")
		}
	}
	return strings.Join(blocks, "\n")
}

func inline(s string) string {
	// Escape first; the liquid braces must survive escaping, which only
	// touches &<>"' anyway.
	s = html.EscapeString(s)
	s = boldRe.ReplaceAllString(s, "<b>$1</b>")
	s = underlineRe.ReplaceAllString(s, "<u>$1</u>")
	s = italicRe.ReplaceAllString(s, "<i>$1</i>")
	return s
}
