// Package bridge runs the engine as an external program. Each boundary call
// starts the program once with the method name as its last argument, writes
// a JSON request to its stdin and reads a JSON response from its stdout.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/zerfoo/siphon/pkg/engine"
)

// ErrCallFailed is matched by every *CallError.
var ErrCallFailed = errors.New("bridge call failed")

// CallError reports a failed call together with the program's diagnostics.
type CallError struct {
	Method string
	Output string
	Err    error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("bridge %s: %v", e.Method, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *CallError) Unwrap() []error { return []error{ErrCallFailed, e.Err} }

// Request is the JSON document written to the program. Byte fields are
// base64 encoded.
type Request struct {
	Method string                       `json:"method"`
	Init   []byte                       `json:"init,omitempty"`
	Pred   []byte                       `json:"pred,omitempty"`
	Net    []byte                       `json:"net,omitempty"`
	Model  []byte                       `json:"model,omitempty"`
	Inputs map[string]engine.TensorInfo `json:"inputs,omitempty"`
	Static []string                     `json:"static,omitempty"`
	Device string                       `json:"device,omitempty"`
	Opset  int64                        `json:"opset,omitempty"`
}

// Response is the JSON document read back.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Init  []byte `json:"init,omitempty"`
	Pred  []byte `json:"pred,omitempty"`
	Net   []byte `json:"net,omitempty"`
	Model []byte `json:"model,omitempty"`
}

// Engine implements engine.Engine over a subprocess.
type Engine struct {
	command string
	args    []string
	logger  *slog.Logger
}

// Starter returns an engine.Starter that checks command is runnable.
func Starter(command string, args []string, logger *slog.Logger) engine.Starter {
	return func(context.Context) (engine.Engine, error) {
		if logger == nil {
			logger = slog.Default()
		}
		path, err := exec.LookPath(command)
		if err != nil {
			return nil, fmt.Errorf("bridge command %q: %w", command, err)
		}
		return &Engine{command: path, args: append([]string(nil), args...), logger: logger}, nil
	}
}

func (e *Engine) call(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", req.Method, err)
	}

	args := append(append([]string(nil), e.args...), req.Method)
	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("bridge call", "method", req.Method, "command", e.command)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &CallError{Method: req.Method, Output: strings.TrimSpace(stderr.String()), Err: err}
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, &CallError{Method: req.Method, Output: strings.TrimSpace(stderr.String()), Err: fmt.Errorf("malformed response: %w", err)}
	}
	if !resp.OK {
		return nil, &CallError{Method: req.Method, Output: strings.TrimSpace(stderr.String()), Err: errors.New(resp.Error)}
	}
	return &resp, nil
}

func (e *Engine) NetsToModel(ctx context.Context, init, pred []byte, inputs map[string]engine.TensorInfo) ([]byte, error) {
	resp, err := e.call(ctx, &Request{Method: "NetsToModel", Init: init, Pred: pred, Inputs: inputs})
	if err != nil {
		return nil, err
	}
	return resp.Model, nil
}

func (e *Engine) ModelToNets(ctx context.Context, model []byte, device string, opset int64) ([]byte, []byte, error) {
	resp, err := e.call(ctx, &Request{Method: "ModelToNets", Model: model, Device: device, Opset: opset})
	if err != nil {
		return nil, nil, err
	}
	return resp.Init, resp.Pred, nil
}

func (e *Engine) OptimizeGraph(ctx context.Context, net []byte) ([]byte, error) {
	resp, err := e.call(ctx, &Request{Method: "OptimizeGraph", Net: net})
	if err != nil {
		return nil, err
	}
	return resp.Net, nil
}

func (e *Engine) OptimizeInterference(ctx context.Context, net []byte, static []string) ([]byte, error) {
	resp, err := e.call(ctx, &Request{Method: "OptimizeInterference", Net: net, Static: static})
	if err != nil {
		return nil, err
	}
	return resp.Net, nil
}

func (e *Engine) CheckModel(ctx context.Context, model []byte) error {
	_, err := e.call(ctx, &Request{Method: "CheckModel", Model: model})
	return err
}

// Close is a no-op; each call owns its process.
func (e *Engine) Close() error { return nil }

var _ engine.Engine = (*Engine)(nil)
