package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/featview/model"
)

// ErrCorrupt is returned when binary row data cannot be decoded.
var ErrCorrupt = errors.New("codec: corrupt row")

const cellSize = 4 + 8

// Binary is a compact fixed-width codec:
//
//	uvarint n | n x (int32 feature id BE | float64 bits BE)
//
// Cells are written in ascending feature id order.
type Binary struct{}

// Marshal encodes the row.
func (Binary) Marshal(r Row) ([]byte, error) {
	fids := make([]model.FeatureID, 0, len(r))
	for fid, v := range r {
		if !model.IsMissing(v) {
			fids = append(fids, fid)
		}
	}
	slices.Sort(fids)

	buf := make([]byte, 0, binary.MaxVarintLen64+len(fids)*cellSize)
	buf = binary.AppendUvarint(buf, uint64(len(fids)))
	for _, fid := range fids {
		buf = binary.BigEndian.AppendUint32(buf, uint32(fid))
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(r[fid]))
	}
	return buf, nil
}

// Unmarshal decodes the row. data is not retained.
func (Binary) Unmarshal(data []byte) (Row, error) {
	n, k := binary.Uvarint(data)
	if k <= 0 {
		return nil, fmt.Errorf("%w: bad cell count", ErrCorrupt)
	}
	data = data[k:]
	if uint64(len(data)) != n*cellSize {
		return nil, fmt.Errorf("%w: want %d cells, have %d bytes", ErrCorrupt, n, len(data))
	}

	r := make(Row, n)
	for i := uint64(0); i < n; i++ {
		off := i * cellSize
		fid := model.FeatureID(int32(binary.BigEndian.Uint32(data[off:])))
		r[fid] = math.Float64frombits(binary.BigEndian.Uint64(data[off+4:]))
	}
	return r, nil
}

// Name returns the unique name of the codec ("binary").
func (Binary) Name() string { return "binary" }
