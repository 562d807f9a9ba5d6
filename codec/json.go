package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec. Rows encode as an object keyed
// by feature id.
//
// JSON is portable and readable with external tools, at the cost of size.
type JSON struct{}

// Marshal encodes the row to JSON.
func (JSON) Marshal(r Row) ([]byte, error) { return json.Marshal(present(r)) }

// Unmarshal decodes a JSON row.
func (JSON) Unmarshal(data []byte) (Row, error) {
	var r Row
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }
