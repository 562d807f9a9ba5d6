package codec

import gojson "github.com/goccy/go-json"

// GoJSON is a JSON codec backed by github.com/goccy/go-json. Its output is
// interchangeable with JSON.
type GoJSON struct{}

// Marshal encodes the row to JSON.
func (GoJSON) Marshal(r Row) ([]byte, error) { return gojson.Marshal(present(r)) }

// Unmarshal decodes a JSON row.
func (GoJSON) Unmarshal(data []byte) (Row, error) {
	var r Row
	if err := gojson.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// Name returns the unique name of the codec ("go-json").
func (GoJSON) Name() string { return "go-json" }
