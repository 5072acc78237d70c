package ai

import (
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	htmlTableTag = regexp.MustCompile(`(?i)<\s*/?\s*(table|thead|tbody|tr|td|th)\b`)
	gfm          = goldmark.New(goldmark.WithExtensions(extension.Table))
)

// ContainsTableMarkup reports whether s holds a GFM pipe table or HTML table tags.
func ContainsTableMarkup(s string) bool {
	if htmlTableTag.MatchString(s) {
		return true
	}
	source := []byte(s)
	doc := gfm.Parser().Parse(text.NewReader(source))
	found := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == east.KindTable {
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}
