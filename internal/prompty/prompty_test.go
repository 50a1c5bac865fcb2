package prompty

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"product-bot/internal/domain"
)

const sample = `---
name: Sample
description: test prompt
model:
  api: chat
  parameters:
    temperature: 0.5
    max_tokens: 100
---
system:
Answer using the documents.
{{range .documents}}- {{.ID}}: {{.Content}}
{{end}}
user:
{{with index .context "question"}}{{.}}{{end}}
`

func TestParse_FrontMatterAndParameters(t *testing.T) {
	tmpl, err := Parse("sample", []byte(sample))
	require.NoError(t, err)
	require.Equal(t, "Sample", tmpl.Name)
	require.Equal(t, "chat", tmpl.Model.API)

	params := tmpl.Parameters()
	require.Equal(t, 0.5, params["temperature"])
	require.Equal(t, 100, params["max_tokens"])

	params["temperature"] = 1.0
	require.Equal(t, 0.5, tmpl.Parameters()["temperature"], "Parameters must return a copy")
}

func TestRender_SplitsRoles(t *testing.T) {
	tmpl, err := Parse("sample", []byte(sample))
	require.NoError(t, err)

	msgs, err := tmpl.Render(map[string]any{
		"documents": []domain.Document{{ID: "1", Content: "TrailMaster X4 tent"}, {ID: "2", Content: "Trekker boots"}},
		"context":   map[string]any{"question": "Which tent?"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "- 1: TrailMaster X4 tent")
	require.Contains(t, msgs[0].Content, "- 2: Trekker boots")
	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "Which tent?"}, msgs[1])
}

func TestRender_EmptyInputs(t *testing.T) {
	tmpl, err := Parse("sample", []byte(sample))
	require.NoError(t, err)

	msgs, err := tmpl.Render(map[string]any{"documents": []domain.Document{}, "context": map[string]any{}})
	require.NoError(t, err)
	require.Len(t, msgs, 1, "empty user section is dropped")
	require.Equal(t, "Answer using the documents.", msgs[0].Content)
}

func TestParse_NoFrontMatter(t *testing.T) {
	tmpl, err := Parse("plain", []byte("Be brief.\nassistant:\nHello!"))
	require.NoError(t, err)
	require.Empty(t, tmpl.Parameters())

	msgs, err := tmpl.Render(nil)
	require.NoError(t, err)
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "Be brief."},
		{Role: domain.RoleAssistant, Content: "Hello!"},
	}, msgs)
}

func TestParse_CRLFAndEmptyFrontMatter(t *testing.T) {
	tmpl, err := Parse("crlf", []byte("---\r\n---\r\nsystem:\r\nHi\r\n"))
	require.NoError(t, err)
	msgs, err := tmpl.Render(nil)
	require.NoError(t, err)
	require.Equal(t, []domain.ChatMessage{{Role: domain.RoleSystem, Content: "Hi"}}, msgs)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("open", []byte("---\nname: x\nsystem:\nhi"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated")

	_, err = Parse("yaml", []byte("---\nname: [\n---\nsystem:\nhi"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "front matter")

	_, err = Parse("api", []byte("---\nmodel:\n  api: completion\n---\nhi"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported model api")

	_, err = Parse("body", []byte("system:\n{{range .documents}"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse body")
}

func TestRender_ExecError(t *testing.T) {
	tmpl, err := Parse("exec", []byte("system:\n{{.documents.Missing}}"))
	require.NoError(t, err)
	_, err = tmpl.Render(map[string]any{"documents": []domain.Document{}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "render")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.prompty"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read")
}

func TestLoad_GroundedChatAsset(t *testing.T) {
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	path := filepath.Join(filepath.Dir(file), "..", "..", "assets", "grounded_chat.prompty")
	_, err := os.Stat(path)
	require.NoError(t, err)

	tmpl, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.2, tmpl.Parameters()["temperature"])

	msgs, err := tmpl.Render(map[string]any{
		"documents": []domain.Document{{ID: "17", Title: "TrailWalker Hiking Shoes", Content: "Breathable trail shoes."}},
		"context":   map[string]any{"customer": "Jane"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "## Document 17: TrailWalker Hiking Shoes")
	require.Contains(t, msgs[0].Content, "Breathable trail shoes.")
	require.Contains(t, msgs[0].Content, "The customer you are talking to is Jane.")

	msgs, err = tmpl.Render(map[string]any{"documents": []domain.Document{}, "context": map[string]any{}})
	require.NoError(t, err)
	require.NotContains(t, msgs[0].Content, "customer you are talking to")
}
