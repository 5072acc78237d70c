package pdfdoc

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ledongthuc/pdf"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/model"
)

var infoKeys = []struct {
	pdfKey  string
	metaKey string
}{
	{"Title", "title"},
	{"Author", "author"},
	{"Subject", "subject"},
	{"Keywords", "keywords"},
	{"Creator", "creator"},
	{"Producer", "producer"},
	{"CreationDate", "creationDate"},
	{"ModDate", "modDate"},
}

// Loader yields one page record per physical page, including blank pages,
// so that page indexes line up with the layout parser.
type Loader struct{}

func NewLoader() *Loader {
	return &Loader{}
}

func (l *Loader) Load(ctx context.Context, path string) ([]*model.PageRecord, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("doc", path))
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	total := reader.NumPage()
	docMeta := documentMetadata(reader, path, total)
	pages := make([]*model.PageRecord, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		meta := make(map[string]interface{}, len(docMeta)+1)
		for k, v := range docMeta {
			meta[k] = v
		}
		meta["page"] = float64(i - 1)

		page := reader.Page(i)
		content := ""
		if !page.V.IsNull() {
			content, err = page.GetPlainText(nil)
			if err != nil {
				logger.Warn("failed to extract page text", zap.Int("page", i-1), zap.Error(err))
				content = ""
			}
		}
		pages = append(pages, &model.PageRecord{Content: content, Metadata: meta})
	}
	logger.Info("pdf pages loaded", zap.Int("pages", len(pages)))
	return pages, nil
}

// documentMetadata holds JSON-native values only (numbers as float64), so
// chunk metadata reads back unchanged from the chunk file.
func documentMetadata(reader *pdf.Reader, path string, total int) map[string]interface{} {
	meta := map[string]interface{}{
		"source":      path,
		"file_path":   path,
		"file_name":   filepath.Base(path),
		"total_pages": float64(total),
	}
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return meta
	}
	for _, k := range infoKeys {
		if v := info.Key(k.pdfKey).Text(); v != "" {
			meta[k.metaKey] = v
		}
	}
	return meta
}
