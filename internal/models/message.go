package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FileUpload is a file attached to a chat turn. Content is plain text for text files and a data
// URL for anything else.
type FileUpload struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Content  string `json:"content"`
}

// SubmitRequest is the body of one chat turn.
type SubmitRequest struct {
	Model       string       `json:"model"`
	ChatInput   string       `json:"chat_input"`
	FileUploads []FileUpload `json:"file_upload,omitempty"`
}

// IsText reports whether the upload can be inlined into a prompt.
func (f FileUpload) IsText() bool {
	if strings.HasPrefix(f.Content, "data:") {
		return false
	}
	if strings.HasPrefix(f.Type, "text/") || f.Type == "application/json" {
		return true
	}
	return f.Type == "" && utf8.ValidString(f.Content)
}

// Prompt is the user message sent upstream: the typed input followed by the text of every text
// upload in a fenced block. Binary uploads are only named.
func (r SubmitRequest) Prompt() string {
	parts := make([]string, 0, 1+len(r.FileUploads))
	if in := strings.TrimSpace(r.ChatInput); in != "" {
		parts = append(parts, in)
	}
	for _, f := range r.FileUploads {
		if !f.IsText() {
			parts = append(parts, fmt.Sprintf("Attached file %s (%s, not shown)", f.Filename, f.Type))
			continue
		}
		parts = append(parts, fmt.Sprintf("File %s:\n```\n%s\n```", f.Filename, strings.TrimRight(f.Content, "\n")))
	}
	return strings.Join(parts, "\n\n")
}

// Empty reports whether the turn carries neither text nor files.
func (r SubmitRequest) Empty() bool {
	return strings.TrimSpace(r.ChatInput) == "" && len(r.FileUploads) == 0
}
