package models_test

import (
	"strings"
	"testing"

	"github.com/dndchat/lmchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRequestPrompt(t *testing.T) {
	tests := []struct {
		name string
		req  models.SubmitRequest
		want string
	}{
		{
			name: "Text only",
			req:  models.SubmitRequest{ChatInput: "  roll for initiative \n"},
			want: "roll for initiative",
		},
		{
			name: "Text file inlined",
			req: models.SubmitRequest{
				ChatInput: "summarise this",
				FileUploads: []models.FileUpload{
					{Filename: "notes.txt", Type: "text/plain", Content: "goblins\n"},
				},
			},
			want: "summarise this\n\nFile notes.txt:\n```\ngoblins\n```",
		},
		{
			name: "Binary file named",
			req: models.SubmitRequest{
				FileUploads: []models.FileUpload{
					{Filename: "map.png", Type: "image/png", Content: "data:image/png;base64,iVBORw0KGgo="},
				},
			},
			want: "Attached file map.png (image/png, not shown)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Prompt())
		})
	}
}

func TestSubmitRequestEmpty(t *testing.T) {
	assert.True(t, models.SubmitRequest{ChatInput: "   "}.Empty())
	assert.False(t, models.SubmitRequest{ChatInput: "hi"}.Empty())
	assert.False(t, models.SubmitRequest{FileUploads: []models.FileUpload{{Filename: "a"}}}.Empty())
}

func TestEntryRole(t *testing.T) {
	assert.Equal(t, models.RoleAssistant, models.Entry{Sender: models.SenderLLM}.Role())
	assert.Equal(t, models.RoleUser, models.Entry{Sender: models.SenderUser}.Role())
}

func TestStaticPersonas(t *testing.T) {
	assert.True(t, models.IsStatic("System"))
	assert.True(t, models.IsStatic("Helper"))
	assert.False(t, models.IsStatic(models.DefaultPersonaName))
}

func TestRenderMarkdown(t *testing.T) {
	out, err := models.RenderMarkdown("**bold**\nline\n\n```go\nfmt.Println(1)\n```")
	require.NoError(t, err)

	assert.Contains(t, out, "<strong>bold</strong><br>")
	assert.Contains(t, out, "<pre")
	assert.True(t, strings.Contains(out, "Println"))
}

func TestRenderMarkdownDropsRawHTML(t *testing.T) {
	out, err := models.RenderMarkdown("<script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}
