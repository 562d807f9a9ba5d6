// Package codec centralizes the encoding of stored rows.
//
// A row is a map from feature id to value. Missing (NaN) values are never
// encoded; decoding a row yields only the features that were present.
//
// Codec selection is a breaking-change boundary: stores record the codec
// name next to the data and reopen it with ByName.
package codec

import (
	"fmt"

	"github.com/hupe1980/featview/model"
)

// Row is the decoded form of one stored record.
type Row map[model.FeatureID]float64

// Codec encodes/decodes rows.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(r Row) ([]byte, error)
	Unmarshal(data []byte) (Row, error)
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "binary":
		return Binary{}, true
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for tests and seed tooling.
func MustMarshal(c Codec, r Row) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(r)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}

// present returns r without missing values.
func present(r Row) Row {
	out := make(Row, len(r))
	for fid, v := range r {
		if !model.IsMissing(v) {
			out[fid] = v
		}
	}
	return out
}

// Default is the codec used for newly created stores.
var Default Codec = Binary{}
