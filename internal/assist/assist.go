// Package assist answers free-form questions about a workspace's code using a
// hosted model. The collaboration core never depends on it.
package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured means no model credentials were supplied
var ErrNotConfigured = errors.New("assistant is not configured")

// Request carries the document snapshot and the user's question
type Request struct {
	Language string
	Code     string
	Question string
	Version  int64
}

// Response is the model's answer
type Response struct {
	Answer     string `json:"answer"`
	Snippet    string `json:"snippet,omitempty"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	LatencyMs  int64  `json:"latency_ms"`
	Version    int64  `json:"version"`
}

// Analyzer is a code assistant backend
type Analyzer interface {
	Name() string
	IsConfigured() bool
	Analyze(ctx context.Context, req Request) (*Response, error)
}

// maxPromptCode bounds how much of the document is sent to the model
const maxPromptCode = 32 * 1024

// BuildPrompt creates the prompt sent to the model
func BuildPrompt(req Request) string {
	language := req.Language
	if language == "" {
		language = "plaintext"
	}

	code := req.Code
	truncated := ""
	if len(code) > maxPromptCode {
		code = code[:maxPromptCode]
		truncated = "\n(The document was truncated.)"
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		question = "Review this code and point out bugs or risky constructs."
	}

	return fmt.Sprintf(`You are a senior engineer reviewing a shared %s document.

Rules:
1. Answer concisely and refer to concrete lines where possible
2. If you suggest a change, put the replacement in a single fenced code block
3. Do not invent APIs that are not visible in the document

Document (version %d):
%s
%s%s
%s

Question: %s

Answer:`, language, req.Version, "```"+language, code, truncated, "```", question)
}

// ExtractSnippet returns the first fenced code block in content, if any
func ExtractSnippet(content string) string {
	start := strings.Index(content, "```")
	if start == -1 {
		return ""
	}

	body := content[start+3:]
	// Skip the language tag on the fence line
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		body = body[nl+1:]
	}

	end := strings.Index(body, "```")
	if end == -1 {
		return ""
	}

	return strings.TrimSpace(body[:end])
}
