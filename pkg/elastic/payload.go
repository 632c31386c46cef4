package elastic

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Action is the metadata line preceding each document in a bulk payload.
type Action struct {
	Index ActionMeta `json:"index"`
}

type ActionMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// Entry is one document destined for a bulk payload.
type Entry struct {
	ID     string
	Source interface{}
}

// BuildPayload renders entries as bulk NDJSON: an index action line then the
// document line, each terminated by a newline.
func BuildPayload(index string, entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for _, e := range entries {
		if err := enc.Encode(Action{Index: ActionMeta{Index: index, ID: e.ID}}); err != nil {
			return nil, fmt.Errorf("encode action for %s: %w", e.ID, err)
		}
		if err := enc.Encode(e.Source); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// BulkResponse is the part of the _bulk answer the indexer reads.
type BulkResponse struct {
	Took   int                      `json:"took"`
	Errors bool                     `json:"errors"`
	Items  []map[string]BulkItemRes `json:"items"`
}

// BulkItemRes is the per-document result under its action name.
type BulkItemRes struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// ItemError is one document the cluster refused.
type ItemError struct {
	ID     string
	Status int
	Reason string
}

// Failed lists every item that carries an error, in response order.
func (r *BulkResponse) Failed() []ItemError {
	var out []ItemError
	for _, item := range r.Items {
		for _, res := range item {
			if len(res.Error) == 0 || string(res.Error) == "null" {
				continue
			}
			out = append(out, ItemError{ID: res.ID, Status: res.Status, Reason: string(res.Error)})
		}
	}
	return out
}
