package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethpandaops/kpt/pkg/frame"
	"github.com/klauspost/compress/zstd"
)

// ErrCorruptBlob is returned when a cached blob cannot be decoded
var ErrCorruptBlob = errors.New("corrupt cache blob")

//nolint:gochecknoglobals // EncodeAll and DecodeAll may be used concurrently
var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

type document struct {
	Index   []string         `json:"index"`
	Columns []columnDocument `json:"columns"`
}

type columnDocument struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Values []any  `json:"values"`
}

// Encode serializes a frame as zstd compressed columnar JSON. Mixed columns
// are stored as strings.
func Encode(f *frame.Frame) ([]byte, error) {
	f = f.StringifyMixed()

	doc := document{Index: f.Index()}

	for _, c := range f.Columns() {
		values := make([]any, len(c.Values))

		for i, v := range c.Values {
			switch t := v.(type) {
			case time.Time:
				values[i] = t.UTC().Format(time.RFC3339Nano)
			case float64:
				if math.IsNaN(t) || math.IsInf(t, 0) {
					continue
				}

				values[i] = t
			default:
				values[i] = v
			}
		}

		doc.Columns = append(doc.Columns, columnDocument{Name: c.Name, Kind: c.Kind.String(), Values: values})
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// Decode restores a frame written by Encode
func Decode(data []byte) (*frame.Frame, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}

	columns := make([]*frame.Column, 0, len(doc.Columns))

	for _, cd := range doc.Columns {
		kind := parseKind(cd.Kind)

		if kind == frame.KindTime {
			for i, v := range cd.Values {
				s, ok := v.(string)
				if !ok {
					cd.Values[i] = nil
					continue
				}

				t, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return nil, fmt.Errorf("%w: column %s: %w", ErrCorruptBlob, cd.Name, err)
				}

				cd.Values[i] = t
			}
		}

		columns = append(columns, frame.NewColumn(cd.Name, kind, cd.Values...))
	}

	f, err := frame.New(doc.Index, columns...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}

	return f, nil
}

func parseKind(name string) frame.Kind {
	for _, k := range []frame.Kind{frame.KindString, frame.KindFloat, frame.KindBool, frame.KindTime} {
		if k.String() == name {
			return k
		}
	}

	return frame.KindAny
}
