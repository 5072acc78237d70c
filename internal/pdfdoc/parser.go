package pdfdoc

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/model"
)

const cellSeparator = " | "

type ParserOptions struct {
	// WordGap and CellGap are horizontal gaps, in multiples of the font size,
	// above which glyphs are split into words and into table cells.
	WordGap float64
	CellGap float64
	// LineGap is the baseline distance, in multiples of the font size, that
	// starts a new paragraph.
	LineGap float64
	// RowTolerance merges glyphs whose baselines differ by less than this
	// fraction of the font size into one line.
	RowTolerance float64
	// MinTableRows is the shortest run of multi-cell lines kept as a table.
	MinTableRows int
}

type Option func(*ParserOptions)

func WithMinTableRows(n int) Option {
	return func(o *ParserOptions) {
		o.MinTableRows = n
	}
}

func WithCellGap(ratio float64) Option {
	return func(o *ParserOptions) {
		o.CellGap = ratio
	}
}

func defaultOptions() ParserOptions {
	return ParserOptions{
		WordGap:      0.2,
		CellGap:      1.5,
		LineGap:      1.8,
		RowTolerance: 0.3,
		MinTableRows: 2,
	}
}

// Parser segments each page into text, table and mixed layout nodes.
// Nodes never span pages, so StartPage always equals EndPage.
type Parser struct {
	opts ParserOptions
}

func NewParser(opts ...Option) *Parser {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Parser{opts: o}
}

type glyph struct {
	x, y, w, size float64
	s             string
}

type line struct {
	y     float64
	size  float64
	cells []string
}

func (l line) tabular() bool {
	return len(l.cells) >= 2
}

func (l line) text() string {
	return strings.Join(l.cells, cellSeparator)
}

func (p *Parser) Parse(ctx context.Context, path string) ([]*model.LayoutNode, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("doc", path))
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	var nodes []*model.LayoutNode
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		glyphs, err := pageGlyphs(page)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i-1, err)
		}
		pageNodes := p.buildNodes(i-1, p.buildLines(glyphs))
		logger.Debug("page segmented", zap.Int("page", i-1), zap.Int("nodes", len(pageNodes)))
		nodes = append(nodes, pageNodes...)
	}
	logger.Info("pdf layout parsed", zap.Int("nodes", len(nodes)))
	return nodes, nil
}

func pageGlyphs(page pdf.Page) (out []glyph, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("decode page content: %v", r)
		}
	}()
	for _, t := range page.Content().Text {
		out = append(out, glyph{x: t.X, y: t.Y, w: t.W, size: t.FontSize, s: t.S})
	}
	return out, nil
}

// buildLines groups glyphs into top-to-bottom lines and splits every line
// into cells on wide horizontal gaps.
func (p *Parser) buildLines(glyphs []glyph) []line {
	if len(glyphs) == 0 {
		return nil
	}
	sorted := make([]glyph, len(glyphs))
	copy(sorted, glyphs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].y > sorted[j].y
	})

	var rows [][]glyph
	for _, g := range sorted {
		if n := len(rows); n > 0 {
			ref := rows[n-1][0]
			if math.Abs(ref.y-g.y) <= p.opts.RowTolerance*fontSize(ref, g) {
				rows[n-1] = append(rows[n-1], g)
				continue
			}
		}
		rows = append(rows, []glyph{g})
	}

	lines := make([]line, 0, len(rows))
	for _, row := range rows {
		if l, ok := p.splitCells(row); ok {
			lines = append(lines, l)
		}
	}
	return lines
}

func (p *Parser) splitCells(row []glyph) (line, bool) {
	sort.SliceStable(row, func(i, j int) bool {
		return row[i].x < row[j].x
	})
	var cells []string
	var current strings.Builder
	size := 0.0
	flush := func() {
		cell := strings.Join(strings.Fields(current.String()), " ")
		if cell != "" {
			cells = append(cells, cell)
		}
		current.Reset()
	}
	for i, g := range row {
		size = math.Max(size, g.size)
		if i > 0 {
			prev := row[i-1]
			gap := g.x - (prev.x + prev.w)
			fs := fontSize(prev, g)
			switch {
			case gap > p.opts.CellGap*fs:
				flush()
			case gap > p.opts.WordGap*fs:
				current.WriteByte(' ')
			}
		}
		current.WriteString(g.s)
	}
	flush()
	if len(cells) == 0 {
		return line{}, false
	}
	return line{y: row[0].y, size: size, cells: cells}, true
}

// buildNodes splits lines into paragraphs on large vertical gaps, then cuts
// every run of at least MinTableRows multi-cell lines out as a table node.
// Shorter multi-cell runs stay inside the surrounding text node, which is
// then tagged both text and table.
func (p *Parser) buildNodes(pageIdx int, lines []line) []*model.LayoutNode {
	var nodes []*model.LayoutNode
	for _, para := range p.paragraphs(lines) {
		var textRun []line
		emitText := func() {
			if len(textRun) == 0 {
				return
			}
			variants := []model.Variant{model.VariantText}
			for _, l := range textRun {
				if l.tabular() {
					variants = append(variants, model.VariantTable)
					break
				}
			}
			nodes = append(nodes, newNode(pageIdx, variants, textRun))
			textRun = nil
		}
		for i := 0; i < len(para); {
			if !para[i].tabular() {
				textRun = append(textRun, para[i])
				i++
				continue
			}
			j := i
			for j < len(para) && para[j].tabular() {
				j++
			}
			if j-i >= p.opts.MinTableRows {
				emitText()
				nodes = append(nodes, newNode(pageIdx, []model.Variant{model.VariantTable}, para[i:j]))
			} else {
				textRun = append(textRun, para[i:j]...)
			}
			i = j
		}
		emitText()
	}
	return nodes
}

func (p *Parser) paragraphs(lines []line) [][]line {
	var out [][]line
	var current []line
	for i, l := range lines {
		if i > 0 {
			prev := lines[i-1]
			if prev.y-l.y > p.opts.LineGap*math.Max(math.Max(prev.size, l.size), 1) {
				out = append(out, current)
				current = nil
			}
		}
		current = append(current, l)
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

func newNode(pageIdx int, variants []model.Variant, lines []line) *model.LayoutNode {
	texts := make([]string, 0, len(lines))
	for _, l := range lines {
		texts = append(texts, l.text())
	}
	return &model.LayoutNode{
		StartPage: pageIdx,
		EndPage:   pageIdx,
		Variants:  variants,
		Text:      strings.Join(texts, "\n"),
	}
}

func fontSize(a, b glyph) float64 {
	return math.Max(math.Max(a.size, b.size), 1)
}
