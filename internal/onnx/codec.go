package onnx

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ErrNoGraph is returned by Parse for a model without a graph.
var ErrNoGraph = errors.New("model has no graph")

//go:embed onnx.txtpb
var schemaText []byte

var modelDesc = loadSchema().Messages().ByName("ModelProto")

// loadSchema builds the ONNX file descriptor from its text form. A bad
// schema is a build defect, so it panics.
func loadSchema() protoreflect.FileDescriptor {
	fdp := &descriptorpb.FileDescriptorProto{}
	if err := prototext.Unmarshal(schemaText, fdp); err != nil {
		panic(fmt.Sprintf("onnx: invalid schema text: %v", err))
	}
	fd, err := protodesc.NewFile(fdp, nil)
	if err != nil {
		panic(fmt.Sprintf("onnx: invalid schema: %v", err))
	}
	return fd
}

// ParseFile reads and decodes an ONNX model file.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a serialized ModelProto. Fields outside the schema subset
// are dropped.
func Parse(data []byte) (*ModelProto, error) {
	msg := dynamicpb.NewMessage(modelDesc)
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	m := decodeModel(msg)
	if m.Graph == nil {
		return nil, fmt.Errorf("failed to parse model: %w", ErrNoGraph)
	}
	return m, nil
}

// Marshal encodes m in protobuf wire format. Output is deterministic and
// zero scalars are omitted.
func Marshal(m *ModelProto) ([]byte, error) {
	msg := dynamicpb.NewMessage(modelDesc)
	encodeModel(msg, m)
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	return b, nil
}

func fieldOf(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("onnx: %s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

// Encoding.

func setString(m protoreflect.Message, name protoreflect.Name, v string) {
	if v != "" {
		m.Set(fieldOf(m, name), protoreflect.ValueOfString(v))
	}
}

func setInt64(m protoreflect.Message, name protoreflect.Name, v int64) {
	if v != 0 {
		m.Set(fieldOf(m, name), protoreflect.ValueOfInt64(v))
	}
}

func setInt32(m protoreflect.Message, name protoreflect.Name, v int32) {
	if v != 0 {
		m.Set(fieldOf(m, name), protoreflect.ValueOfInt32(v))
	}
}

func setBytes(m protoreflect.Message, name protoreflect.Name, v []byte) {
	if len(v) > 0 {
		m.Set(fieldOf(m, name), protoreflect.ValueOfBytes(v))
	}
}

func appendList[T any](m protoreflect.Message, name protoreflect.Name, vals []T, of func(T) protoreflect.Value) {
	if len(vals) == 0 {
		return
	}
	l := m.Mutable(fieldOf(m, name)).List()
	for _, v := range vals {
		l.Append(of(v))
	}
}

func appendMessage(m protoreflect.Message, name protoreflect.Name) protoreflect.Message {
	return m.Mutable(fieldOf(m, name)).List().AppendMutable().Message()
}

func mutableMessage(m protoreflect.Message, name protoreflect.Name) protoreflect.Message {
	return m.Mutable(fieldOf(m, name)).Message()
}

func encodeModel(msg protoreflect.Message, m *ModelProto) {
	setInt64(msg, "ir_version", m.IRVersion)
	setString(msg, "producer_name", m.ProducerName)
	setString(msg, "producer_version", m.ProducerVersion)
	setString(msg, "domain", m.Domain)
	setInt64(msg, "model_version", m.ModelVersion)
	setString(msg, "doc_string", m.DocString)
	if m.Graph != nil {
		encodeGraph(mutableMessage(msg, "graph"), m.Graph)
	}
	for _, o := range m.OpsetImport {
		om := appendMessage(msg, "opset_import")
		setString(om, "domain", o.Domain)
		om.Set(fieldOf(om, "version"), protoreflect.ValueOfInt64(o.Version))
	}
	for _, e := range m.MetadataProps {
		encodeEntry(appendMessage(msg, "metadata_props"), e)
	}
}

func encodeGraph(msg protoreflect.Message, g *GraphProto) {
	for _, n := range g.Nodes {
		encodeNode(appendMessage(msg, "node"), n)
	}
	setString(msg, "name", g.Name)
	for _, t := range g.Initializer {
		encodeTensor(appendMessage(msg, "initializer"), t)
	}
	setString(msg, "doc_string", g.DocString)
	for _, v := range g.Inputs {
		encodeValueInfo(appendMessage(msg, "input"), v)
	}
	for _, v := range g.Outputs {
		encodeValueInfo(appendMessage(msg, "output"), v)
	}
	for _, v := range g.ValueInfo {
		encodeValueInfo(appendMessage(msg, "value_info"), v)
	}
}

func encodeNode(msg protoreflect.Message, n *NodeProto) {
	appendList(msg, "input", n.Inputs, protoreflect.ValueOfString)
	appendList(msg, "output", n.Outputs, protoreflect.ValueOfString)
	setString(msg, "name", n.Name)
	setString(msg, "op_type", n.OpType)
	for _, a := range n.Attributes {
		encodeAttribute(appendMessage(msg, "attribute"), a)
	}
	setString(msg, "doc_string", n.DocString)
	setString(msg, "domain", n.Domain)
}

func encodeTensor(msg protoreflect.Message, t *TensorProto) {
	appendList(msg, "dims", t.Dims, protoreflect.ValueOfInt64)
	setInt32(msg, "data_type", t.DataType)
	appendList(msg, "float_data", t.FloatData, protoreflect.ValueOfFloat32)
	appendList(msg, "int32_data", t.Int32Data, protoreflect.ValueOfInt32)
	appendList(msg, "int64_data", t.Int64Data, protoreflect.ValueOfInt64)
	setString(msg, "name", t.Name)
	setBytes(msg, "raw_data", t.RawData)
	appendList(msg, "double_data", t.DoubleData, protoreflect.ValueOfFloat64)
	for _, e := range t.ExternalData {
		encodeEntry(appendMessage(msg, "external_data"), e)
	}
}

func encodeValueInfo(msg protoreflect.Message, v *ValueInfoProto) {
	setString(msg, "name", v.Name)
	if v.Type != nil {
		tm := mutableMessage(msg, "type")
		if tt := v.Type.TensorType; tt != nil {
			ttm := mutableMessage(tm, "tensor_type")
			setInt32(ttm, "elem_type", tt.ElemType)
			if tt.Shape != nil {
				sm := mutableMessage(ttm, "shape")
				for _, d := range tt.Shape.Dims {
					dm := appendMessage(sm, "dim")
					if d.DimParam != "" {
						dm.Set(fieldOf(dm, "dim_param"), protoreflect.ValueOfString(d.DimParam))
					} else {
						dm.Set(fieldOf(dm, "dim_value"), protoreflect.ValueOfInt64(d.DimValue))
					}
				}
			}
		}
	}
	setString(msg, "doc_string", v.DocString)
}

func encodeAttribute(msg protoreflect.Message, a *AttributeProto) {
	setString(msg, "name", a.Name)
	switch a.Type {
	case AttributeFloat:
		msg.Set(fieldOf(msg, "f"), protoreflect.ValueOfFloat32(a.F))
	case AttributeInt:
		msg.Set(fieldOf(msg, "i"), protoreflect.ValueOfInt64(a.I))
	case AttributeString:
		msg.Set(fieldOf(msg, "s"), protoreflect.ValueOfBytes(a.S))
	case AttributeTensor:
		if a.T != nil {
			encodeTensor(mutableMessage(msg, "t"), a.T)
		}
	case AttributeFloats:
		appendList(msg, "floats", a.Floats, protoreflect.ValueOfFloat32)
	case AttributeInts:
		appendList(msg, "ints", a.Ints, protoreflect.ValueOfInt64)
	case AttributeStrings:
		appendList(msg, "strings", a.Strings, protoreflect.ValueOfBytes)
	}
	if a.Type != AttributeUndefined {
		msg.Set(fieldOf(msg, "type"), protoreflect.ValueOfEnum(protoreflect.EnumNumber(a.Type)))
	}
}

func encodeEntry(msg protoreflect.Message, e StringStringEntry) {
	setString(msg, "key", e.Key)
	setString(msg, "value", e.Value)
}

// Decoding. Unset scalars read as their zero value, empty lists as nil.

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(fieldOf(m, name)).String()
}

func getInt64(m protoreflect.Message, name protoreflect.Name) int64 {
	return m.Get(fieldOf(m, name)).Int()
}

func getBytes(m protoreflect.Message, name protoreflect.Name) []byte {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return nil
	}
	return append([]byte(nil), m.Get(fd).Bytes()...)
}

func getMessage(m protoreflect.Message, name protoreflect.Name) (protoreflect.Message, bool) {
	fd := fieldOf(m, name)
	if !m.Has(fd) {
		return nil, false
	}
	return m.Get(fd).Message(), true
}

func listOf[T any](m protoreflect.Message, name protoreflect.Name, conv func(protoreflect.Value) T) []T {
	l := m.Get(fieldOf(m, name)).List()
	if l.Len() == 0 {
		return nil
	}
	out := make([]T, l.Len())
	for i := range out {
		out[i] = conv(l.Get(i))
	}
	return out
}

func asString(v protoreflect.Value) string   { return v.String() }
func asInt64(v protoreflect.Value) int64     { return v.Int() }
func asInt32(v protoreflect.Value) int32     { return int32(v.Int()) }
func asFloat32(v protoreflect.Value) float32 { return float32(v.Float()) }
func asFloat64(v protoreflect.Value) float64 { return v.Float() }
func asBytes(v protoreflect.Value) []byte    { return append([]byte(nil), v.Bytes()...) }

func asMessage(v protoreflect.Value) protoreflect.Message { return v.Message() }

func decodeModel(msg protoreflect.Message) *ModelProto {
	m := &ModelProto{
		IRVersion:       getInt64(msg, "ir_version"),
		ProducerName:    getString(msg, "producer_name"),
		ProducerVersion: getString(msg, "producer_version"),
		Domain:          getString(msg, "domain"),
		ModelVersion:    getInt64(msg, "model_version"),
		DocString:       getString(msg, "doc_string"),
	}
	if gm, ok := getMessage(msg, "graph"); ok {
		m.Graph = decodeGraph(gm)
	}
	for _, om := range listOf(msg, "opset_import", asMessage) {
		m.OpsetImport = append(m.OpsetImport, OperatorSetID{
			Domain:  getString(om, "domain"),
			Version: getInt64(om, "version"),
		})
	}
	for _, em := range listOf(msg, "metadata_props", asMessage) {
		m.MetadataProps = append(m.MetadataProps, decodeEntry(em))
	}
	return m
}

func decodeGraph(msg protoreflect.Message) *GraphProto {
	g := &GraphProto{
		Name:      getString(msg, "name"),
		DocString: getString(msg, "doc_string"),
	}
	for _, nm := range listOf(msg, "node", asMessage) {
		g.Nodes = append(g.Nodes, decodeNode(nm))
	}
	for _, tm := range listOf(msg, "initializer", asMessage) {
		g.Initializer = append(g.Initializer, decodeTensor(tm))
	}
	for _, vm := range listOf(msg, "input", asMessage) {
		g.Inputs = append(g.Inputs, decodeValueInfo(vm))
	}
	for _, vm := range listOf(msg, "output", asMessage) {
		g.Outputs = append(g.Outputs, decodeValueInfo(vm))
	}
	for _, vm := range listOf(msg, "value_info", asMessage) {
		g.ValueInfo = append(g.ValueInfo, decodeValueInfo(vm))
	}
	return g
}

func decodeNode(msg protoreflect.Message) *NodeProto {
	n := &NodeProto{
		Inputs:    listOf(msg, "input", asString),
		Outputs:   listOf(msg, "output", asString),
		Name:      getString(msg, "name"),
		OpType:    getString(msg, "op_type"),
		DocString: getString(msg, "doc_string"),
		Domain:    getString(msg, "domain"),
	}
	for _, am := range listOf(msg, "attribute", asMessage) {
		n.Attributes = append(n.Attributes, decodeAttribute(am))
	}
	return n
}

func decodeTensor(msg protoreflect.Message) *TensorProto {
	t := &TensorProto{
		Dims:       listOf(msg, "dims", asInt64),
		DataType:   int32(getInt64(msg, "data_type")),
		FloatData:  listOf(msg, "float_data", asFloat32),
		Int32Data:  listOf(msg, "int32_data", asInt32),
		Int64Data:  listOf(msg, "int64_data", asInt64),
		Name:       getString(msg, "name"),
		RawData:    getBytes(msg, "raw_data"),
		DoubleData: listOf(msg, "double_data", asFloat64),
	}
	for _, em := range listOf(msg, "external_data", asMessage) {
		t.ExternalData = append(t.ExternalData, decodeEntry(em))
	}
	return t
}

func decodeValueInfo(msg protoreflect.Message) *ValueInfoProto {
	v := &ValueInfoProto{
		Name:      getString(msg, "name"),
		DocString: getString(msg, "doc_string"),
	}
	tm, ok := getMessage(msg, "type")
	if !ok {
		return v
	}
	v.Type = &TypeProto{}
	ttm, ok := getMessage(tm, "tensor_type")
	if !ok {
		return v
	}
	tt := &TensorTypeProto{ElemType: int32(getInt64(ttm, "elem_type"))}
	if sm, ok := getMessage(ttm, "shape"); ok {
		tt.Shape = &TensorShapeProto{}
		for _, dm := range listOf(sm, "dim", asMessage) {
			tt.Shape.Dims = append(tt.Shape.Dims, Dimension{
				DimValue: getInt64(dm, "dim_value"),
				DimParam: getString(dm, "dim_param"),
			})
		}
	}
	v.Type.TensorType = tt
	return v
}

func decodeAttribute(msg protoreflect.Message) *AttributeProto {
	return &AttributeProto{
		Name:    getString(msg, "name"),
		Type:    AttributeType(msg.Get(fieldOf(msg, "type")).Enum()),
		F:       float32(msg.Get(fieldOf(msg, "f")).Float()),
		I:       getInt64(msg, "i"),
		S:       getBytes(msg, "s"),
		T:       decodeAttributeTensor(msg),
		Floats:  listOf(msg, "floats", asFloat32),
		Ints:    listOf(msg, "ints", asInt64),
		Strings: listOf(msg, "strings", asBytes),
	}
}

func decodeAttributeTensor(msg protoreflect.Message) *TensorProto {
	if tm, ok := getMessage(msg, "t"); ok {
		return decodeTensor(tm)
	}
	return nil
}

func decodeEntry(msg protoreflect.Message) StringStringEntry {
	return StringStringEntry{Key: getString(msg, "key"), Value: getString(msg, "value")}
}
