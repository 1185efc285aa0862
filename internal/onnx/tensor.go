package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Element type tags (TensorProto.DataType) used by the accessors below.
const (
	TypeFloat  int32 = 1
	TypeInt32  int32 = 6
	TypeInt64  int32 = 7
	TypeBool   int32 = 9
	TypeDouble int32 = 11
)

// NumElements returns the product of the tensor dims.
func (t *TensorProto) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// Float32s returns FLOAT data from float_data or raw_data.
func (t *TensorProto) Float32s() ([]float32, error) {
	if t.DataType != TypeFloat {
		return nil, fmt.Errorf("tensor %q is not FLOAT but type %d", t.Name, t.DataType)
	}
	if len(t.FloatData) > 0 {
		return append([]float32(nil), t.FloatData...), nil
	}
	raw, err := t.raw(4)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// Float64s returns DOUBLE data from double_data or raw_data.
func (t *TensorProto) Float64s() ([]float64, error) {
	if t.DataType != TypeDouble {
		return nil, fmt.Errorf("tensor %q is not DOUBLE but type %d", t.Name, t.DataType)
	}
	if len(t.DoubleData) > 0 {
		return append([]float64(nil), t.DoubleData...), nil
	}
	raw, err := t.raw(8)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

// Int64s returns INT64 or INT32 data widened to int64.
func (t *TensorProto) Int64s() ([]int64, error) {
	switch t.DataType {
	case TypeInt64:
		if len(t.Int64Data) > 0 {
			return append([]int64(nil), t.Int64Data...), nil
		}
		raw, err := t.raw(8)
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(raw)/8)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case TypeInt32:
		vals, err := t.Int32s()
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(vals))
		for i, v := range vals {
			out[i] = int64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("tensor %q is not INT64 or INT32 but type %d", t.Name, t.DataType)
}

// Int32s returns INT32 data from int32_data or raw_data.
func (t *TensorProto) Int32s() ([]int32, error) {
	if t.DataType != TypeInt32 {
		return nil, fmt.Errorf("tensor %q is not INT32 but type %d", t.Name, t.DataType)
	}
	if len(t.Int32Data) > 0 {
		return append([]int32(nil), t.Int32Data...), nil
	}
	raw, err := t.raw(4)
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(raw)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func (t *TensorProto) raw(width int) ([]byte, error) {
	if len(t.ExternalData) > 0 {
		return nil, fmt.Errorf("tensor %q: external data is not supported", t.Name)
	}
	if len(t.RawData)%width != 0 {
		return nil, fmt.Errorf("tensor %q: raw_data length %d is not a multiple of %d", t.Name, len(t.RawData), width)
	}
	return t.RawData, nil
}
