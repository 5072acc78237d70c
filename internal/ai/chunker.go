package ai

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
)

const (
	titlePrefix   = "the title is: "
	contentPrefix = "\nle contenu est: "
)

type LayoutParser interface {
	Parse(ctx context.Context, path string) ([]*model.LayoutNode, error)
}

type PageLoader interface {
	Load(ctx context.Context, path string) ([]*model.PageRecord, error)
}

type Chunker struct {
	parser      LayoutParser
	loader      PageLoader
	transcriber ITranscriber
}

func NewChunker(parser LayoutParser, loader PageLoader, transcriber ITranscriber) *Chunker {
	return &Chunker{parser: parser, loader: loader, transcriber: transcriber}
}

// Chunk emits one chunk per layout node, in parse order. Table nodes are
// rewritten by the transcriber, every other node is kept verbatim.
func (c *Chunker) Chunk(ctx context.Context, docPath string) ([]*model.Chunk, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("doc", docPath))
	nodes, err := c.parser.Parse(ctx, docPath)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	pages, err := c.loader.Load(ctx, docPath)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	logger.Info("starting pdf chunking", zap.Int("nodes", len(nodes)), zap.Int("pages", len(pages)))

	chunks := make([]*model.Chunk, 0, len(nodes))
	tables := 0
	for i, node := range nodes {
		if node.EndPage < 0 || node.EndPage >= len(pages) {
			return nil, fmt.Errorf("node %d references page %d of %d: %w", i, node.EndPage, len(pages), appErr.ErrPageOutOfRange)
		}
		page := pages[node.EndPage]
		body := composeChunkText(pageTitle(page.Content), node.Text)
		if node.IsTable() {
			tables++
			logger.Debug("table node detected, transcribing", zap.Int("node", i), zap.Int("page", node.EndPage))
			if c.transcriber == nil {
				return nil, fmt.Errorf("node %d: %w", i, ErrUnavailable)
			}
			body, err = c.transcriber.Transcribe(ctx, body)
			if err != nil {
				return nil, fmt.Errorf("node %d: %w", i, err)
			}
		}
		chunks = append(chunks, &model.Chunk{
			Body:     body,
			Metadata: maps.Clone(page.Metadata),
		})
	}
	logger.Info("chunking completed", zap.Int("total_chunks", len(chunks)), zap.Int("tables", tables))
	return chunks, nil
}

// pageTitle is the page text up to the first line break.
func pageTitle(content string) string {
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		return content[:idx]
	}
	return content
}

func composeChunkText(title, text string) string {
	return titlePrefix + title + contentPrefix + text
}
