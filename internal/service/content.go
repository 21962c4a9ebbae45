package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/xxxsen/kbingest/internal/model"
	appErr "github.com/xxxsen/kbingest/internal/pkg/errors"
)

func (s *IngestService) loadContent(ctx context.Context, src *model.KnowledgeSource) (string, error) {
	switch src.Type {
	case model.SourceTypeText:
		return src.Content, nil
	case model.SourceTypeFile:
		if s.files == nil {
			return "", fmt.Errorf("file store not configured: %w", appErr.ErrInvalid)
		}
		rc, err := s.files.Open(ctx, src.FilePath)
		if err != nil {
			return "", storageErr("open source file", err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, s.maxSourceBytes+1))
		if err != nil {
			return "", storageErr("read source file", err)
		}
		if int64(len(data)) > s.maxSourceBytes {
			return "", fmt.Errorf("source file exceeds %d bytes: %w", s.maxSourceBytes, appErr.ErrInvalid)
		}
		if isMarkdown(src.FilePath) {
			return markdownToText(data), nil
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown source type %q: %w", src.Type, appErr.ErrInvalid)
	}
}

func isMarkdown(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// markdownToText drops markdown syntax and keeps the readable text, one
// top level block per paragraph.
func markdownToText(source []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	var blocks []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if txt := blockText(node, source); txt != "" {
			blocks = append(blocks, txt)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func blockText(root ast.Node, source []byte) string {
	var buf bytes.Buffer
	newline := func() {
		if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node != root && node.Type() == ast.TypeBlock {
				newline()
			}
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Text:
			buf.Write(n.Segment.Value(source))
			if n.SoftLineBreak() || n.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.AutoLink:
			buf.Write(n.URL(source))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				buf.Write(line.Value(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}
