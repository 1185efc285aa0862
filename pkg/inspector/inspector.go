// Package inspector prints human-readable summaries of exchange models,
// native nets and placeholder manifests.
package inspector

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/zerfoo/zmf"

	"github.com/zerfoo/siphon/internal/onnx"
	"github.com/zerfoo/siphon/pkg/dtype"
	"github.com/zerfoo/siphon/pkg/manifest"
	"github.com/zerfoo/siphon/pkg/netdef"
)

// Inspect picks the summary by file extension.
func Inspect(w io.Writer, inputFile string) error {
	switch ext := strings.ToLower(filepath.Ext(inputFile)); ext {
	case ".onnx":
		return InspectONNX(w, inputFile)
	case ".pb", ".pbtxt", ".prototxt":
		return InspectNative(w, inputFile)
	case ".json":
		return InspectManifest(w, inputFile)
	default:
		return fmt.Errorf("cannot inspect %s: unknown extension %q", inputFile, ext)
	}
}

// InspectONNX prints the header, inputs and outputs of an exchange model.
func InspectONNX(w io.Writer, inputFile string) error {
	fmt.Fprintf(w, "Inspecting ONNX model from: %s\n", inputFile)

	model, err := onnx.ParseFile(inputFile)
	if err != nil {
		return fmt.Errorf("failed to load ONNX model: %w", err)
	}
	g := model.Graph
	fmt.Fprintf(w, "Successfully loaded model with IR version: %d\n", model.IRVersion)
	if model.ProducerName != "" {
		fmt.Fprintf(w, "Producer: %s %s\n", model.ProducerName, model.ProducerVersion)
	}
	fmt.Fprintf(w, "Opset version: %d\n", model.Opset())
	fmt.Fprintf(w, "Graph has %d nodes.\n", len(g.Nodes))
	fmt.Fprintf(w, "Graph has %d initializers.\n", len(g.Initializer))

	initialized := g.InitializerNames()
	fmt.Fprintln(w, "\nInputs:")
	for _, in := range g.Inputs {
		if initialized[in.Name] {
			continue
		}
		fmt.Fprintf(w, "- %s: %s%v\n", in.Name, dtype.DataType(in.ElemType()), in.Dims())
	}
	fmt.Fprintln(w, "Outputs:")
	for _, out := range g.Outputs {
		fmt.Fprintf(w, "- %s\n", out.Name)
	}
	return nil
}

// InspectNative prints every op of a native net.
func InspectNative(w io.Writer, inputFile string) error {
	fmt.Fprintf(w, "Inspecting native net from: %s\n", inputFile)

	n, err := netdef.ReadFile(inputFile)
	if err != nil {
		return fmt.Errorf("failed to load native net: %w", err)
	}
	fmt.Fprintf(w, "Net %s has %d ops.\n", n.Name, len(n.Ops))
	fmt.Fprintf(w, "External inputs: %v\n", n.ExternalInputs)
	fmt.Fprintf(w, "External outputs: %v\n", n.ExternalOutputs)

	fmt.Fprintln(w, "\nOps:")
	for _, op := range n.Ops {
		fmt.Fprintf(w, "- Op: %s, Type: %s", op.Name, op.Type)
		if op.Device != nil {
			fmt.Fprintf(w, ", Device: %s", op.Device)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Inputs: %v\n", op.Inputs)
		fmt.Fprintf(w, "  Outputs: %v\n", op.Outputs)
		if len(op.Args) > 0 {
			fmt.Fprintln(w, "  Args:")
			for _, a := range op.Args {
				fmt.Fprintf(w, "    - %s: %s\n", a.Name, argValue(a))
			}
		}
	}
	return nil
}

// InspectManifest lists the placeholders of a manifest file.
func InspectManifest(w io.Writer, inputFile string) error {
	fmt.Fprintf(w, "Inspecting placeholder manifest from: %s\n", inputFile)
	m, err := manifest.ParseFile(inputFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d placeholders:\n", m.Len())
	fmt.Fprint(w, m.String("- "))
	return nil
}

// argValue shortens long value lists.
func argValue(a *netdef.Arg) string {
	const limit = 8
	v := a.Value
	switch v.GetValue().(type) {
	case *zmf.Attribute_F:
		return fmt.Sprint(v.GetF())
	case *zmf.Attribute_I:
		return fmt.Sprint(v.GetI())
	case *zmf.Attribute_S:
		return fmt.Sprintf("%q", v.GetS())
	case *zmf.Attribute_Floats:
		return shorten(v.GetFloats().GetVal(), limit)
	case *zmf.Attribute_Ints:
		return shorten(v.GetInts().GetVal(), limit)
	case *zmf.Attribute_Strings:
		return shorten(v.GetStrings().GetVal(), limit)
	}
	return "<unset>"
}

func shorten[T any](vals []T, limit int) string {
	if len(vals) <= limit {
		return fmt.Sprint(vals)
	}
	return fmt.Sprintf("%v ... (%d values)", vals[:limit], len(vals))
}
