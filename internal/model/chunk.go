package model

type Variant string

const (
	VariantText  Variant = "text"
	VariantTable Variant = "table"
)

type LayoutNode struct {
	StartPage int       `json:"start_page"`
	EndPage   int       `json:"end_page"`
	Variants  []Variant `json:"variants"`
	Text      string    `json:"text"`
}

// IsTable reports whether the node is tagged as a table and nothing else.
// Mixed nodes such as [text table] are not tables.
func (n *LayoutNode) IsTable() bool {
	return len(n.Variants) == 1 && n.Variants[0] == VariantTable
}

type PageRecord struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

type Chunk struct {
	Body     string                 `json:"body"`
	Metadata map[string]interface{} `json:"metadata"`
}
