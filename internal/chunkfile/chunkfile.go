package chunkfile

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"

	"github.com/xxxsen/docrag/internal/model"
)

func lockPath(path string) string {
	return path + ".lock"
}

// Save writes chunks as line-delimited JSON, replacing any previous content.
// It is not transactional: if chunk k fails to serialize, the k chunks before
// it are already on disk when the error is returned.
func Save(chunks []*model.Chunk, path string) error {
	lock := flock.New(lockPath(path))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock chunk file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open chunk file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i, c := range chunks {
		raw, err := json.Marshal(c)
		if err != nil {
			if ferr := w.Flush(); ferr != nil {
				return fmt.Errorf("flush chunk file: %w", ferr)
			}
			return fmt.Errorf("encode chunk %d: %w", i, err)
		}
		if _, err := w.Write(raw); err != nil {
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush chunk file: %w", err)
	}
	return nil
}

func Load(path string) ([]*model.Chunk, error) {
	lock := flock.New(lockPath(path))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock chunk file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunk file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads line-delimited chunks from r. Blank lines are ignored.
func Decode(r io.Reader) ([]*model.Chunk, error) {
	dec := json.NewDecoder(r)
	var out []*model.Chunk
	for {
		c := &model.Chunk{}
		err := dec.Decode(c)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode chunk %d: %w", len(out), err)
		}
		out = append(out, c)
	}
}

// Split returns chunk bodies and metadata as two positionally paired slices.
func Split(chunks []*model.Chunk) ([]string, []map[string]interface{}) {
	texts := make([]string, 0, len(chunks))
	metadatas := make([]map[string]interface{}, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Body)
		metadatas = append(metadatas, c.Metadata)
	}
	return texts, metadatas
}
