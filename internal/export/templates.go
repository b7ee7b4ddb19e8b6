package export

import (
	"bytes"
	"html/template"
	"time"
)

var documentTemplate = template.Must(template.New("document").Parse(documentTemplateText))

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	Owner       string
	UpdatedAt   time.Time
	ContentHTML template.HTML
	Threads     []TemplateThread
}

// TemplateThread holds one discussion thread for the template. Anchor is
// empty for general document comments.
type TemplateThread struct {
	Anchor   string
	Comments []TemplateComment
}

// TemplateComment holds one rendered comment
type TemplateComment struct {
	Author  string
	Body    string
	IsReply bool
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentTemplateText = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    mark { border-radius: 2px; padding: 0 1px; }
    .thread { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .anchor { font-style: italic; color: #555; margin-bottom: 0.5rem; }
    .comment { margin: 0.5rem 0; }
    .reply { margin-left: 1.5rem; }
    .author { font-weight: bold; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Owner}} | {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML}}</div>
  {{if .Threads}}
  <h2>Discussion</h2>
  {{range .Threads}}
  <div class="thread">
    {{if .Anchor}}<div class="anchor">&ldquo;{{.Anchor}}&rdquo;</div>{{end}}
    {{range .Comments}}
    <div class="comment{{if .IsReply}} reply{{end}}"><span class="author">{{.Author}}:</span> {{.Body}}</div>
    {{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
