// Package prompty loads prompt templates made of a YAML front matter block
// and a role-sectioned body, and renders them into chat messages.
package prompty

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"product-bot/internal/domain"
)

const frontMatterDelim = "---"

// Template is a parsed prompt template.
type Template struct {
	Name        string
	Description string
	Model       ModelConfig
	Inputs      map[string]Input

	body *template.Template
}

// ModelConfig is the model block of the front matter.
type ModelConfig struct {
	API           string         `yaml:"api"`
	Configuration map[string]any `yaml:"configuration"`
	Parameters    map[string]any `yaml:"parameters"`
}

// Input documents one template variable.
type Input struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

type frontMatter struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Model       ModelConfig      `yaml:"model"`
	Inputs      map[string]Input `yaml:"inputs"`
}

// Load reads and parses the template at path.
func Load(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompty: read %s: %w", path, err)
	}
	return Parse(path, raw)
}

// Parse parses template source. name is used in error messages and as the
// template name.
func Parse(name string, src []byte) (*Template, error) {
	meta, body, err := splitFrontMatter(src)
	if err != nil {
		return nil, fmt.Errorf("prompty: %s: %w", name, err)
	}

	var fm frontMatter
	if len(bytes.TrimSpace(meta)) > 0 {
		if err := yaml.Unmarshal(meta, &fm); err != nil {
			return nil, fmt.Errorf("prompty: %s: decode front matter: %w", name, err)
		}
	}
	if fm.Model.API != "" && fm.Model.API != "chat" {
		return nil, fmt.Errorf("prompty: %s: unsupported model api %q", name, fm.Model.API)
	}

	tmpl, err := template.New(name).Option("missingkey=zero").Parse(string(body))
	if err != nil {
		return nil, fmt.Errorf("prompty: %s: parse body: %w", name, err)
	}

	return &Template{
		Name:        fm.Name,
		Description: fm.Description,
		Model:       fm.Model,
		Inputs:      fm.Inputs,
		body:        tmpl,
	}, nil
}

// Parameters returns a copy of the model invocation parameters.
func (t *Template) Parameters() map[string]any {
	out := make(map[string]any, len(t.Model.Parameters))
	for k, v := range t.Model.Parameters {
		out[k] = v
	}
	return out
}

// Render executes the body with data and splits the result into role
// messages.
func (t *Template) Render(data map[string]any) ([]domain.ChatMessage, error) {
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("prompty: render: %w", err)
	}
	return splitMessages(buf.String()), nil
}

func splitFrontMatter(src []byte) (meta, body []byte, err error) {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	text = strings.TrimLeft(text, "\ufeff \t\n")
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return nil, []byte(text), nil
	}
	rest := "\n" + text[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
	if end < 0 {
		if strings.HasSuffix(rest, "\n"+frontMatterDelim) {
			return []byte(rest[:len(rest)-len(frontMatterDelim)-1]), nil, nil
		}
		return nil, nil, errors.New("unterminated front matter")
	}
	return []byte(rest[:end]), []byte(rest[end+len(frontMatterDelim)+2:]), nil
}

// splitMessages turns "system:\n...\nuser:\n..." into messages. Text before
// the first role header is treated as a system message.
func splitMessages(rendered string) []domain.ChatMessage {
	var (
		messages []domain.ChatMessage
		role     = domain.RoleSystem
		lines    []string
	)
	flush := func() {
		content := strings.TrimSpace(strings.Join(lines, "\n"))
		if content != "" {
			messages = append(messages, domain.ChatMessage{Role: role, Content: content})
		}
		lines = lines[:0]
	}

	for _, line := range strings.Split(strings.ReplaceAll(rendered, "\r\n", "\n"), "\n") {
		if r, ok := roleHeader(line); ok {
			flush()
			role = r
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return messages
}

func roleHeader(line string) (string, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(line))
	switch trimmed {
	case domain.RoleSystem + ":", domain.RoleUser + ":", domain.RoleAssistant + ":":
		return strings.TrimSuffix(trimmed, ":"), true
	}
	return "", false
}
