package vectorstore

import "context"

// mapEmbedder returns a fixed vector per text and counts calls by task type.
type mapEmbedder struct {
	vectors map[string][]float32
	calls   map[string]int
	err     error
}

func newMapEmbedder(vectors map[string][]float32) *mapEmbedder {
	return &mapEmbedder{vectors: vectors, calls: map[string]int{}}
}

func (m *mapEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	m.calls[taskType]++
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0}, nil
}

func (m *mapEmbedder) ModelName() string {
	return "map"
}
