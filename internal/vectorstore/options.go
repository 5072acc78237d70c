package vectorstore

import (
	"encoding/json"
	"fmt"
)

const defaultK = 4

// Namespace restricts matches to datapoints whose restrict namespace holds
// one of AllowList and none of DenyList.
type Namespace struct {
	Namespace string   `json:"namespace"`
	AllowList []string `json:"allow_list"`
	DenyList  []string `json:"deny_list"`
}

// Options is the decoded form of vertexai.data_store_kwargs. The document
// store fields are passed through to the datastore backend; K and Filter
// drive retrieval.
type Options struct {
	Project   string      `json:"project"`
	Database  string      `json:"database"`
	Namespace string      `json:"namespace"`
	Kind      string      `json:"kind"`
	K         int         `json:"k"`
	Filter    []Namespace `json:"filter"`
}

func DecodeOptions(args map[string]interface{}) (Options, error) {
	var opts Options
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil {
			return Options{}, fmt.Errorf("encode data_store_kwargs: %w", err)
		}
		if err := json.Unmarshal(raw, &opts); err != nil {
			return Options{}, fmt.Errorf("decode data_store_kwargs: %w", err)
		}
	}
	if opts.K < 0 {
		return Options{}, fmt.Errorf("data_store_kwargs.k must not be negative")
	}
	if opts.K == 0 {
		opts.K = defaultK
	}
	return opts, nil
}
