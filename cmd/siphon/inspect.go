package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zerfoo/siphon/pkg/inspector"
)

func newInspectCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print a summary of an ONNX model, a native net or a placeholder manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			switch kind {
			case "":
				return inspector.Inspect(w, args[0])
			case "onnx":
				return inspector.InspectONNX(w, args[0])
			case "native":
				return inspector.InspectNative(w, args[0])
			case "manifest":
				return inspector.InspectManifest(w, args[0])
			default:
				return fmt.Errorf("unknown --type %q, want onnx, native or manifest", kind)
			}
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "file type (onnx, native, manifest); guessed from the extension when empty")
	return cmd
}
