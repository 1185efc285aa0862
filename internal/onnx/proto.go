// Package onnx holds the subset of the ONNX ModelProto schema siphon reads
// and writes. The codec runs the protobuf runtime over an embedded
// descriptor of that subset and maps messages to the plain structs below.
package onnx

// ModelProto is an ONNX model.
type ModelProto struct {
	IRVersion       int64
	OpsetImport     []OperatorSetID
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []StringStringEntry
}

// GraphProto is the computation graph of a model.
type GraphProto struct {
	Name        string
	Nodes       []*NodeProto
	Initializer []*TensorProto
	DocString   string
	Inputs      []*ValueInfoProto
	Outputs     []*ValueInfoProto
	ValueInfo   []*ValueInfoProto
}

// NodeProto is one operation of a graph.
type NodeProto struct {
	Inputs     []string
	Outputs    []string
	Name       string
	OpType     string
	Attributes []*AttributeProto
	DocString  string
	Domain     string
}

// TensorProto is a constant tensor, usually an initializer.
type TensorProto struct {
	Dims         []int64
	DataType     int32
	FloatData    []float32
	Int32Data    []int32
	Int64Data    []int64
	DoubleData   []float64
	Name         string
	RawData      []byte
	ExternalData []StringStringEntry
}

// ValueInfoProto names a graph value and its tensor type.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string
}

// TypeProto carries the tensor type of a value. Sequence and map types are
// not represented.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto is an element type plus an optional shape.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto lists the dimensions of a tensor type.
type TensorShapeProto struct {
	Dims []Dimension
}

// Dimension is either a fixed size or a symbolic parameter.
type Dimension struct {
	DimValue int64
	DimParam string
}

// AttributeProto is a named operation attribute.
type AttributeProto struct {
	Name    string
	Type    AttributeType
	F       float32
	I       int64
	S       []byte
	T       *TensorProto
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// OperatorSetID identifies the opset a model was written against.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry is a key/value pair.
type StringStringEntry struct {
	Key   string
	Value string
}

// AttributeType is AttributeProto.AttributeType.
type AttributeType int32

const (
	AttributeUndefined AttributeType = 0
	AttributeFloat     AttributeType = 1
	AttributeInt       AttributeType = 2
	AttributeString    AttributeType = 3
	AttributeTensor    AttributeType = 4
	AttributeGraph     AttributeType = 5
	AttributeFloats    AttributeType = 6
	AttributeInts      AttributeType = 7
	AttributeStrings   AttributeType = 8
)

// GetGraph returns the graph, or nil.
func (m *ModelProto) GetGraph() *GraphProto {
	if m == nil {
		return nil
	}
	return m.Graph
}

// Opset returns the version imported for the default domain, or 0.
func (m *ModelProto) Opset() int64 {
	if m == nil {
		return 0
	}
	for _, o := range m.OpsetImport {
		if o.Domain == "" || o.Domain == "ai.onnx" {
			return o.Version
		}
	}
	return 0
}

// InitializerNames returns the set of initializer names.
func (g *GraphProto) InitializerNames() map[string]bool {
	names := make(map[string]bool)
	if g == nil {
		return names
	}
	for _, t := range g.Initializer {
		names[t.Name] = true
	}
	return names
}

// ElemType returns the tensor element type, or 0 when the value is untyped.
func (v *ValueInfoProto) ElemType() int32 {
	if v == nil || v.Type == nil || v.Type.TensorType == nil {
		return 0
	}
	return v.Type.TensorType.ElemType
}

// HasShape reports whether the value declares a shape.
func (v *ValueInfoProto) HasShape() bool {
	return v != nil && v.Type != nil && v.Type.TensorType != nil && v.Type.TensorType.Shape != nil
}

// Dims returns the declared dims. Symbolic dims are reported as 0.
func (v *ValueInfoProto) Dims() []int64 {
	if !v.HasShape() {
		return nil
	}
	dims := v.Type.TensorType.Shape.Dims
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d.DimParam == "" {
			out[i] = d.DimValue
		}
	}
	return out
}

// NewValueInfo builds a tensor-typed value with fixed dims.
func NewValueInfo(name string, elemType int32, dims []int64) *ValueInfoProto {
	shape := &TensorShapeProto{Dims: make([]Dimension, len(dims))}
	for i, d := range dims {
		shape.Dims[i] = Dimension{DimValue: d}
	}
	return &ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{ElemType: elemType, Shape: shape}},
	}
}
