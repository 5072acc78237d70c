package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
)

type stubParser struct {
	nodes []*model.LayoutNode
}

func (s *stubParser) Parse(ctx context.Context, path string) ([]*model.LayoutNode, error) {
	return s.nodes, nil
}

type stubLoader struct {
	pages []*model.PageRecord
}

func (s *stubLoader) Load(ctx context.Context, path string) ([]*model.PageRecord, error) {
	return s.pages, nil
}

type spyTranscriber struct {
	inputs []string
	reply  func(string) string
}

func (s *spyTranscriber) Transcribe(ctx context.Context, table string) (string, error) {
	s.inputs = append(s.inputs, table)
	if s.reply != nil {
		return s.reply(table), nil
	}
	return "transcribed", nil
}

func catalogPages() []*model.PageRecord {
	return []*model.PageRecord{
		{Content: "Catalogue\nLe produit coûte 10 euros.", Metadata: map[string]interface{}{"page": float64(0), "source": "doc.pdf"}},
		{Content: "Tarifs\nCouleur | Prix\nBleu | 10", Metadata: map[string]interface{}{"page": float64(1), "source": "doc.pdf"}},
	}
}

func TestChunkCatalogScenario(t *testing.T) {
	parser := &stubParser{nodes: []*model.LayoutNode{
		{StartPage: 0, EndPage: 0, Variants: []model.Variant{model.VariantText}, Text: "Le produit coûte 10 euros."},
		{StartPage: 1, EndPage: 1, Variants: []model.Variant{model.VariantTable}, Text: "Couleur | Prix\nBleu | 10"},
	}}
	spy := &spyTranscriber{reply: func(string) string {
		return "La couleur Bleu a un prix de 10."
	}}
	chunker := NewChunker(parser, &stubLoader{pages: catalogPages()}, spy)

	chunks, err := chunker.Chunk(context.Background(), "doc.pdf")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, "the title is: Catalogue\nle contenu est: Le produit coûte 10 euros.", chunks[0].Body)
	require.Equal(t, "La couleur Bleu a un prix de 10.", chunks[1].Body)
	require.Equal(t, []string{"the title is: Tarifs\nle contenu est: Couleur | Prix\nBleu | 10"}, spy.inputs)
	require.Equal(t, float64(0), chunks[0].Metadata["page"])
	require.Equal(t, float64(1), chunks[1].Metadata["page"])
}

func TestChunkPlainTextNeverTranscribes(t *testing.T) {
	parser := &stubParser{nodes: []*model.LayoutNode{
		{EndPage: 0, Variants: []model.Variant{model.VariantText}, Text: "a"},
		{EndPage: 1, Variants: []model.Variant{model.VariantText}, Text: "b"},
		{EndPage: 1, Variants: []model.Variant{model.VariantText, model.VariantTable}, Text: "c | d"},
	}}
	spy := &spyTranscriber{}
	chunks, err := NewChunker(parser, &stubLoader{pages: catalogPages()}, spy).Chunk(context.Background(), "doc.pdf")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.Empty(t, spy.inputs)
	require.Equal(t, "the title is: Tarifs\nle contenu est: c | d", chunks[2].Body)
}

func TestChunkTranscribesEachTableOnce(t *testing.T) {
	parser := &stubParser{nodes: []*model.LayoutNode{
		{EndPage: 1, Variants: []model.Variant{model.VariantTable}, Text: "x | y"},
		{EndPage: 0, Variants: []model.Variant{model.VariantText}, Text: "plain"},
		{EndPage: 1, Variants: []model.Variant{model.VariantTable}, Text: "x | y"},
	}}
	spy := &spyTranscriber{reply: func(in string) string { return "prose:" + in }}
	chunks, err := NewChunker(parser, &stubLoader{pages: catalogPages()}, spy).Chunk(context.Background(), "doc.pdf")
	require.NoError(t, err)
	require.Len(t, spy.inputs, 2)
	for _, in := range spy.inputs {
		require.Contains(t, in, "Tarifs")
		require.Contains(t, in, "x | y")
	}
	require.Equal(t, "prose:"+spy.inputs[0], chunks[0].Body)
	require.Equal(t, "the title is: Catalogue\nle contenu est: plain", chunks[1].Body)
}

func TestChunkPageOutOfRange(t *testing.T) {
	parser := &stubParser{nodes: []*model.LayoutNode{
		{EndPage: 0, Variants: []model.Variant{model.VariantText}, Text: "ok"},
		{EndPage: 5, Variants: []model.Variant{model.VariantText}, Text: "missing"},
	}}
	chunks, err := NewChunker(parser, &stubLoader{pages: catalogPages()}, &spyTranscriber{}).Chunk(context.Background(), "doc.pdf")
	require.Error(t, err)
	require.True(t, errors.Is(err, appErr.ErrPageOutOfRange))
	require.Nil(t, chunks)
}

func TestChunkCopiesPageMetadata(t *testing.T) {
	pages := catalogPages()
	parser := &stubParser{nodes: []*model.LayoutNode{
		{EndPage: 0, Variants: []model.Variant{model.VariantText}, Text: "one"},
		{EndPage: 0, Variants: []model.Variant{model.VariantText}, Text: "two"},
	}}
	chunks, err := NewChunker(parser, &stubLoader{pages: pages}, nil).Chunk(context.Background(), "doc.pdf")
	require.NoError(t, err)
	chunks[0].Metadata["extra"] = true
	require.NotContains(t, chunks[1].Metadata, "extra")
	require.NotContains(t, pages[0].Metadata, "extra")
}

func TestPageTitle(t *testing.T) {
	require.Equal(t, "Catalogue", pageTitle("Catalogue\nbody\nmore"))
	require.Equal(t, "single line", pageTitle("single line"))
	require.Equal(t, "", pageTitle("\nstarts with break"))
	require.Equal(t, "", pageTitle(""))
}
