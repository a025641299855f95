package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var studyTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/study.html")
	if err != nil {
		studyTemplate = template.Must(template.New("study").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	studyTemplate = template.Must(template.New("study").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for the study summary template
type TemplateData struct {
	Title          string
	Description    string
	Status         string
	ExportedAt     time.Time
	Blocks         []TemplateBlock
	Sessions       []TemplateSession
	CompletedCount int
}

// TemplateBlock holds block data for the template
type TemplateBlock struct {
	Type  string
	Title string
}

// TemplateSession holds session data for the template
type TemplateSession struct {
	ID            string
	ParticipantID string
	Status        string
	CurrentStep   int
	StartedAt     string
	EndedAt       string
}

// RenderStudyHTML renders the study summary template with provided data
func RenderStudyHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := studyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <p>{{.CompletedCount}} of {{len .Sessions}} sessions completed</p>
</body>
</html>`
