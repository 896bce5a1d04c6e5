package project

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/p-blackswan/specforge/internal/models"
)

//go:embed templates/*.md
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"add":   func(a, b int) int { return a + b },
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}

var templates = template.Must(template.New("specs").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.md"))

type templateData struct {
	Name        string
	Description string
	Analysis
	Design designPattern
}

func newTemplateData(name, description string) templateData {
	a := Analyze(name + "\n" + description)
	return templateData{
		Name:        name,
		Description: description,
		Analysis:    a,
		Design:      patternFor(a.AppType),
	}
}

// renderTemplate returns the initial content of a document type.
func renderTemplate(docType models.DocType, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, string(docType)+".md", data); err != nil {
		return "", fmt.Errorf("rendering %s template: %w", docType, err)
	}
	return buf.String(), nil
}
