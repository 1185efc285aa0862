// Package dtype defines the element-type tag shared by placeholder manifests,
// fill operations and the exchange format. Values follow ONNX
// TensorProto.DataType numbering so type codes pass through unchanged.
package dtype

import (
	"fmt"
	"strings"
)

// DataType is a tensor element type.
type DataType int32

const (
	Undefined  DataType = 0
	Float      DataType = 1  // float32
	Uint8      DataType = 2  // uint8
	Int8       DataType = 3  // int8
	Uint16     DataType = 4  // uint16
	Int16      DataType = 5  // int16
	Int32      DataType = 6  // int32
	Int64      DataType = 7  // int64
	String     DataType = 8  // string
	Bool       DataType = 9  // bool
	Float16    DataType = 10 // float16
	Double     DataType = 11 // float64
	Uint32     DataType = 12 // uint32
	Uint64     DataType = 13 // uint64
	Complex64  DataType = 14 // complex64
	Complex128 DataType = 15 // complex128
	BFloat16   DataType = 16 // bfloat16
)

var names = map[DataType]string{
	Undefined:  "UNDEFINED",
	Float:      "FLOAT",
	Uint8:      "UINT8",
	Int8:       "INT8",
	Uint16:     "UINT16",
	Int16:      "INT16",
	Int32:      "INT32",
	Int64:      "INT64",
	String:     "STRING",
	Bool:       "BOOL",
	Float16:    "FLOAT16",
	Double:     "DOUBLE",
	Uint32:     "UINT32",
	Uint64:     "UINT64",
	Complex64:  "COMPLEX64",
	Complex128: "COMPLEX128",
	BFloat16:   "BFLOAT16",
}

var sizes = map[DataType]int{
	Float:      4,
	Uint8:      1,
	Int8:       1,
	Uint16:     2,
	Int16:      2,
	Int32:      4,
	Int64:      8,
	Bool:       1,
	Float16:    2,
	Double:     8,
	Uint32:     4,
	Uint64:     8,
	Complex64:  8,
	Complex128: 16,
	BFloat16:   2,
}

// Valid reports whether t is one of the recognized element types.
func (t DataType) Valid() bool {
	return t >= Float && t <= BFloat16
}

// Size returns the width of one element in bytes, or 0 when the type has no
// fixed width.
func (t DataType) Size() int {
	return sizes[t]
}

func (t DataType) String() string {
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int32(t))
}

// Parse resolves a type name such as "FLOAT" or "int64".
func Parse(name string) (DataType, error) {
	for t, n := range names {
		if strings.EqualFold(n, name) {
			if t == Undefined {
				break
			}
			return t, nil
		}
	}
	return Undefined, fmt.Errorf("unknown element type %q", name)
}
