package render

import (
	"bytes"
	"html"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdownHTML = goldmark.New(goldmark.WithExtensions(extension.GFM))

const htmlHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>`

const htmlStyle = `</title>
<style>
body{font-family:system-ui,sans-serif;max-width:860px;margin:2rem auto;padding:0 1rem;line-height:1.5}
table{border-collapse:collapse}th,td{border:1px solid #ccc;padding:.3rem .6rem}
blockquote{border-left:4px solid #888;margin-left:0;padding-left:1rem;color:#444}
</style>
</head>
<body>
`

// html renders the markdown export through goldmark. Raw HTML in
// section text is escaped, not passed through.
func (d *document) html() ([]byte, error) {
	var body bytes.Buffer
	if err := markdownHTML.Convert(d.markdown(), &body); err != nil {
		return nil, eris.Wrap(err, "render: convert markdown")
	}

	var out bytes.Buffer
	out.WriteString(htmlHead)
	out.WriteString(html.EscapeString("Validation Report " + d.scoreLine()))
	out.WriteString(htmlStyle)
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}
