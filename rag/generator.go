package rag

import (
	"context"
	"fmt"
	"strings"
)

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// BuildPrompt places the retrieved chunks, numbered and labelled with their
// source, ahead of the question.
func BuildPrompt(question string, results []SearchResult) string {
	var sb strings.Builder

	sb.WriteString("Answer the question using only the context below.\n")
	sb.WriteString("Cite the context blocks you used by their number, e.g. [1].\n")
	sb.WriteString("If the context does not contain the answer, say that you don't know.\n\n")

	sb.WriteString("## Context\n")
	if len(results) == 0 {
		sb.WriteString("(no relevant context found)\n")
	}
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s", i+1, r.Chunk.Source)
		if r.Chunk.Page > 0 {
			fmt.Fprintf(&sb, ", page %d", r.Chunk.Page)
		}
		sb.WriteString("\n")
		sb.WriteString(r.Chunk.Content)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\n## Answer\n")
	return sb.String()
}
