// Package output renders discovery results for people and for machines.
package output

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

//go:embed text.tmpl
var textTemplate string

var funcs = template.FuncMap{
	"join": strings.Join,
}

var defaultText = template.Must(template.New("text").Funcs(funcs).Parse(textTemplate))

// Formats lists the supported output formats.
func Formats() []string {
	return []string{FormatText, FormatJSON, FormatYAML}
}

// Render writes result to w in format.
func Render(w io.Writer, result *types.Result, format string) error {
	switch strings.ToLower(format) {
	case FormatText, "":
		return renderText(w, defaultText, result)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q (want one of %s)", format, strings.Join(Formats(), ", "))
	}
}

// RenderTemplateFile renders result with a user-supplied text template. The
// template sees the same view as the built-in text format, plus .Result.
func RenderTemplateFile(w io.Writer, result *types.Result, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template file: %w", err)
	}
	tmpl, err := template.New("custom").Funcs(funcs).Parse(string(content))
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	return renderText(w, tmpl, result)
}

func renderText(w io.Writer, tmpl *template.Template, result *types.Result) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newView(result)); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
