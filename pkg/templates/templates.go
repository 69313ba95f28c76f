package templates

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Template names
const (
	BuildFailed    = "build-failed"
	BuildRecovered = "build-recovered"
	BotAdded       = "bot-added"
)

//go:embed defaults/*.template
var defaults embed.FS

// BuildData feeds the build-failed and build-recovered templates.
type BuildData struct {
	Repository string
	Number     string
	Status     string
	Author     string
	ShortSHA   string
	Summary    string
	URL        string
}

// GreetingData feeds the bot-added template.
type GreetingData struct {
	SpaceName string
	BotName   string
}

// GetTemplatePaths returns the search paths for a template override.
// dir, when set, is searched first.
func GetTemplatePaths(dir, templateName string) []string {
	filename := templateName + ".template"
	var paths []string
	if dir != "" {
		paths = append(paths, filepath.Join(dir, filename))
	}
	return append(paths,
		filepath.Join(".", "templates", filename),
		filepath.Join(".", "config", "templates", filename),
		filepath.Join("/etc", "chatbot", "templates", filename),
	)
}

// GetTemplate returns the raw template content by name.
// Overrides are loaded from the filesystem in the following order:
// 1. <dir>/<name>.template
// 2. ./templates/<name>.template
// 3. ./config/templates/<name>.template
// 4. /etc/chatbot/templates/<name>.template
// The embedded default is used when no override exists.
func GetTemplate(dir, name string) (string, error) {
	if !ValidateTemplate(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	for _, path := range GetTemplatePaths(dir, name) {
		if content, err := os.ReadFile(path); err == nil {
			return string(content), nil
		}
	}

	content, err := defaults.ReadFile("defaults/" + name + ".template")
	if err != nil {
		return "", fmt.Errorf("template not found: %s: %w", name, err)
	}
	return string(content), nil
}

// Renderer renders chat messages with text/template.
type Renderer struct {
	dir string
}

// NewRenderer creates a renderer that looks for overrides in dir first.
// An empty dir uses only the standard locations.
func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: dir}
}

// Render executes the named template with data and trims surrounding
// whitespace from the result.
func (r *Renderer) Render(templateName string, data any) (string, error) {
	tmplContent, err := GetTemplate(r.dir, templateName)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(templateName).Option("missingkey=error").Parse(tmplContent)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// ListTemplates returns a list of all available template names.
func ListTemplates() []string {
	return []string{
		BuildFailed,
		BuildRecovered,
		BotAdded,
	}
}

// ValidateTemplate checks if a template name is valid.
func ValidateTemplate(name string) bool {
	for _, known := range ListTemplates() {
		if known == name {
			return true
		}
	}
	return false
}
