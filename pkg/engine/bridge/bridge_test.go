package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/siphon/pkg/engine"
)

// TestHelperProcess is the fake bridge program. It only runs when started by
// the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("SIPHON_BRIDGE_HELPER") != "1" {
		return
	}
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintln(os.Stderr, "bad request:", err)
		os.Exit(2)
	}
	method := os.Args[len(os.Args)-1]
	var resp Response
	switch method {
	case "OptimizeGraph":
		resp = Response{OK: true, Net: append(req.Net, '!')}
	case "OptimizeInterference":
		resp = Response{OK: true, Net: fmt.Appendf(nil, "%s|%d", req.Net, len(req.Static))}
	case "ModelToNets":
		resp = Response{OK: true, Init: []byte("init:" + req.Device), Pred: fmt.Appendf(nil, "pred:%d", req.Opset)}
	case "NetsToModel":
		resp = Response{OK: true, Model: fmt.Appendf(nil, "%s+%s+%d", req.Init, req.Pred, req.Inputs["data"].ElemType)}
	case "CheckModel":
		resp = Response{OK: string(req.Model) == "good", Error: "checker rejected model"}
	default:
		fmt.Fprintln(os.Stderr, "unknown method", method)
		os.Exit(3)
	}
	_ = json.NewEncoder(os.Stdout).Encode(resp)
	os.Exit(0)
}

func helperEngine(t *testing.T) engine.Engine {
	t.Helper()
	t.Setenv("SIPHON_BRIDGE_HELPER", "1")
	e, err := Starter(os.Args[0], []string{"-test.run=^TestHelperProcess$", "--"}, nil)(context.Background())
	require.NoError(t, err)
	return e
}

func TestBridge_Methods(t *testing.T) {
	ctx := context.Background()
	e := helperEngine(t)
	defer e.Close()

	net, err := e.OptimizeGraph(ctx, []byte("net"))
	require.NoError(t, err)
	assert.Equal(t, "net!", string(net))

	net, err = e.OptimizeInterference(ctx, []byte("net"), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "net|2", string(net))

	initNet, predNet, err := e.ModelToNets(ctx, []byte("m"), "cpu", 8)
	require.NoError(t, err)
	assert.Equal(t, "init:cpu", string(initNet))
	assert.Equal(t, "pred:8", string(predNet))

	model, err := e.NetsToModel(ctx, []byte("i"), []byte("p"), map[string]engine.TensorInfo{"data": {ElemType: 1, Dims: []int64{1}}})
	require.NoError(t, err)
	assert.Equal(t, "i+p+1", string(model))

	require.NoError(t, e.CheckModel(ctx, []byte("good")))
}

func TestBridge_ErrorsCarryDiagnostics(t *testing.T) {
	ctx := context.Background()
	e := helperEngine(t)

	err := e.CheckModel(ctx, []byte("bad"))
	require.ErrorIs(t, err, ErrCallFailed)
	assert.ErrorContains(t, err, "checker rejected model")

	_, err = e.(*Engine).call(ctx, &Request{Method: "Unknown"})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Unknown", ce.Method)
	assert.Contains(t, ce.Output, "unknown method Unknown")
}

func TestStarter_MissingCommand(t *testing.T) {
	_, err := Starter("siphon-bridge-does-not-exist", nil, nil)(context.Background())
	assert.Error(t, err)
}
