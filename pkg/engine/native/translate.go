package native

import (
	"context"
	"fmt"
	"slices"

	"github.com/zerfoo/siphon/internal/onnx"
	"github.com/zerfoo/siphon/pkg/dtype"
	"github.com/zerfoo/siphon/pkg/engine"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/registry"
	_ "github.com/zerfoo/siphon/pkg/registry/layers"
)

// NetsToModel builds an exchange model. Every init op must be a literal fill;
// its outputs become initializers. Pred ops become nodes.
func (e *Engine) NetsToModel(_ context.Context, initBytes, predBytes []byte, inputs map[string]engine.TensorInfo) ([]byte, error) {
	initNet, err := netdef.Unmarshal(initBytes)
	if err != nil {
		return nil, fmt.Errorf("init net: %w", err)
	}
	predNet, err := netdef.Unmarshal(predBytes)
	if err != nil {
		return nil, fmt.Errorf("pred net: %w", err)
	}

	g := &onnx.GraphProto{Name: "pred"}
	typed := make(map[string]*onnx.TensorProto)
	for i, op := range initNet.Ops {
		l, err := netdef.ReadLiteral(op)
		if err != nil {
			return nil, fmt.Errorf("init op %d: %w", i, err)
		}
		for _, out := range op.Outputs {
			t := initializer(out, l)
			g.Initializer = append(g.Initializer, t)
			typed[out] = t
		}
	}

	for i, op := range predNet.Ops {
		node := &onnx.NodeProto{
			Name:    op.Name,
			OpType:  op.Type,
			Inputs:  slices.Clone(op.Inputs),
			Outputs: slices.Clone(op.Outputs),
		}
		for _, a := range op.Args {
			attr, err := toAttribute(a)
			if err != nil {
				return nil, fmt.Errorf("pred op %d (%s): %w", i, op.Type, err)
			}
			node.Attributes = append(node.Attributes, attr)
		}
		pre, err := registry.Export(node, op)
		if err != nil {
			return nil, fmt.Errorf("pred op %d (%s): %w", i, op.Type, err)
		}
		g.Nodes = append(g.Nodes, pre...)
		g.Nodes = append(g.Nodes, node)
	}

	for _, name := range predNet.ExternalInputs {
		if info, ok := inputs[name]; ok {
			g.Inputs = append(g.Inputs, onnx.NewValueInfo(name, info.ElemType, info.Dims))
			continue
		}
		if t, ok := typed[name]; ok {
			g.Inputs = append(g.Inputs, onnx.NewValueInfo(name, t.DataType, t.Dims))
			continue
		}
		e.logger.Warn("pred input has no type", "input", name)
		g.Inputs = append(g.Inputs, &onnx.ValueInfoProto{Name: name})
	}
	for _, name := range predNet.ExternalOutputs {
		g.Outputs = append(g.Outputs, &onnx.ValueInfoProto{Name: name})
	}

	m := &onnx.ModelProto{
		IRVersion:       IRVersion,
		ProducerName:    netdef.ProducerName,
		ProducerVersion: e.version,
		OpsetImport:     []onnx.OperatorSetID{{Version: e.opset}},
		Graph:           g,
	}
	e.logger.Debug("built model", "nodes", len(g.Nodes), "initializers", len(g.Initializer), "inputs", len(g.Inputs))
	return onnx.Marshal(m)
}

func initializer(name string, l netdef.Literal) *onnx.TensorProto {
	t := &onnx.TensorProto{Name: name, DataType: int32(l.Type), Dims: slices.Clone(l.Shape)}
	switch l.Type {
	case dtype.Float:
		t.FloatData = slices.Clone(l.Floats)
	case dtype.Double:
		t.DoubleData = make([]float64, len(l.Floats))
		for i, v := range l.Floats {
			t.DoubleData[i] = float64(v)
		}
	case dtype.Int32:
		t.Int32Data = make([]int32, len(l.Ints))
		for i, v := range l.Ints {
			t.Int32Data[i] = int32(v)
		}
	case dtype.Int64:
		t.Int64Data = slices.Clone(l.Ints)
	}
	return t
}

// ModelToNets splits an exchange model. Initializers become literal fills in
// the init net; nodes become pred ops, adjusted by the registered rules.
// Constant nodes become literal fills in the pred net.
func (e *Engine) ModelToNets(_ context.Context, model []byte, device string, opset int64) ([]byte, []byte, error) {
	m, err := onnx.Parse(model)
	if err != nil {
		return nil, nil, err
	}
	dev, err := netdef.ParseDevice(device)
	if err != nil {
		return nil, nil, err
	}
	if v := m.Opset(); opset > 0 && v > opset {
		e.logger.Warn("model opset is newer than requested", "model_opset", v, "opset", opset)
	}

	g := m.Graph
	initNet := &netdef.Net{Name: "init"}
	for _, t := range g.Initializer {
		op, err := literalFromTensor(t)
		if err != nil {
			return nil, nil, err
		}
		op.Device = &dev
		initNet.Ops = append(initNet.Ops, op)
		initNet.ExternalOutputs = append(initNet.ExternalOutputs, t.Name)
	}

	predNet := &netdef.Net{Name: "pred"}
	declared := make(map[string]bool)
	for _, in := range g.Inputs {
		predNet.ExternalInputs = append(predNet.ExternalInputs, in.Name)
		declared[in.Name] = true
	}
	for _, t := range g.Initializer {
		if !declared[t.Name] {
			predNet.ExternalInputs = append(predNet.ExternalInputs, t.Name)
		}
	}
	for _, out := range g.Outputs {
		predNet.ExternalOutputs = append(predNet.ExternalOutputs, out.Name)
	}
	rc := registry.NewConversionContext(g)
	for i, node := range g.Nodes {
		op, err := opFromNode(node, rc)
		if err != nil {
			return nil, nil, fmt.Errorf("node %d (%s): %w", i, node.OpType, err)
		}
		op.Device = &dev
		predNet.Ops = append(predNet.Ops, op)
	}

	initBytes, err := netdef.Marshal(initNet)
	if err != nil {
		return nil, nil, err
	}
	predBytes, err := netdef.Marshal(predNet)
	if err != nil {
		return nil, nil, err
	}
	return initBytes, predBytes, nil
}

func literalFromTensor(t *onnx.TensorProto) (*netdef.Op, error) {
	l := netdef.Literal{Type: dtype.DataType(t.DataType), Shape: slices.Clone(t.Dims)}
	var err error
	switch l.Type {
	case dtype.Float:
		l.Floats, err = t.Float32s()
	case dtype.Double:
		var vals []float64
		vals, err = t.Float64s()
		for _, v := range vals {
			l.Floats = append(l.Floats, float32(v))
		}
	case dtype.Int32, dtype.Int64:
		l.Ints, err = t.Int64s()
	default:
		return nil, fmt.Errorf("initializer %q: unsupported element type %s", t.Name, l.Type)
	}
	if err != nil {
		return nil, err
	}
	if l.Shape == nil {
		l.Shape = []int64{}
	}
	op, err := netdef.NewLiteralFill(t.Name, l)
	if err != nil {
		return nil, err
	}
	return op, nil
}

func opFromNode(node *onnx.NodeProto, rc *registry.ConversionContext) (*netdef.Op, error) {
	if node.OpType == "Constant" && len(node.Outputs) == 1 {
		for _, a := range node.Attributes {
			if a.Name == "value" && a.Type == onnx.AttributeTensor && a.T != nil {
				t := *a.T
				t.Name = node.Outputs[0]
				op, err := literalFromTensor(&t)
				if err != nil {
					return nil, err
				}
				op.Name = node.Name
				return op, nil
			}
		}
	}
	op := &netdef.Op{
		Type:    node.OpType,
		Name:    node.Name,
		Inputs:  slices.Clone(node.Inputs),
		Outputs: slices.Clone(node.Outputs),
	}
	for _, a := range node.Attributes {
		arg, err := toArg(a)
		if err != nil {
			return nil, err
		}
		op.Args = append(op.Args, arg)
	}
	if err := registry.Import(op, node, rc); err != nil {
		return nil, err
	}
	return op, nil
}
