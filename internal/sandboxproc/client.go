package sandboxproc

import (
	"encoding/json"
	"io"

	"github.com/cryguy/fledge-auction/internal/core"
)

// Client issues Compile/BatchExecute/Exit requests to a Sandboxee over rw.
// It is the process-boundary counterpart of a core.CompiledFunction: where
// the in-process backends (V8, QuickJS) invoke directly, a Client speaks
// the same request shape across the OS-level sandbox boundary instead.
type Client struct {
	rw io.ReadWriter
}

// NewClient wraps rw (a net.Conn in production, an in-memory pipe in
// tests) in a Client.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

// Compile sends an OpCompile request and waits for the response.
func (c *Client) Compile(source string, role core.FunctionRole, opts core.CompileOptions) error {
	payload, err := json.Marshal(compileRequest{Source: source, Role: role, Opts: opts})
	if err != nil {
		return core.Errorf(core.KindFailedPrecondition, "sandboxproc: encoding compile request: %v", err)
	}
	if err := writeFrame(c.rw, byte(OpCompile), payload); err != nil {
		return core.Errorf(core.KindInternal, "sandboxproc: sending compile request: %v", err)
	}
	_, err = readResponse(c.rw)
	return err
}

// BatchExecute sends an OpBatchExecute request carrying inputs, in order,
// and returns their outputs in the same order. Any per-input failure
// short-circuits the batch on the sandboxee side; the Client surfaces that
// failure with no partial outputs.
func (c *Client) BatchExecute(inputs []core.InvokeArgs) ([]json.RawMessage, error) {
	payload, err := json.Marshal(batchExecuteRequest{Inputs: inputs})
	if err != nil {
		return nil, core.Errorf(core.KindFailedPrecondition, "sandboxproc: encoding batch_execute request: %v", err)
	}
	if err := writeFrame(c.rw, byte(OpBatchExecute), payload); err != nil {
		return nil, core.Errorf(core.KindInternal, "sandboxproc: sending batch_execute request: %v", err)
	}

	body, err := readResponse(c.rw)
	if err != nil {
		return nil, err
	}

	var resp batchExecuteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, core.Errorf(core.KindFailedPrecondition, "sandboxproc: decoding batch_execute response: %v", err)
	}
	return resp.Outputs, nil
}

// Exit sends OpExit, asking the sandboxee to release its compiled function
// and stop serving. It does not wait for a response: Exit has none, per
// spec §6.
func (c *Client) Exit() error {
	return writeFrame(c.rw, byte(OpExit), nil)
}

// compiledFunction adapts a Client into a core.CompiledFunction, so a
// sandboxed compile can be dropped into a Repository snapshot exactly like
// an in-process one. Invoke issues a single-element BatchExecute.
type compiledFunction struct {
	client *Client
}

var _ core.CompiledFunction = (*compiledFunction)(nil)

// NewCompiledFunction wraps client as a core.CompiledFunction, assuming
// client has already completed a successful Compile call.
func NewCompiledFunction(client *Client) core.CompiledFunction {
	return &compiledFunction{client: client}
}

func (f *compiledFunction) Invoke(args core.InvokeArgs) (json.RawMessage, error) {
	outputs, err := f.client.BatchExecute([]core.InvokeArgs{args})
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, core.Errorf(core.KindInternal, "sandboxproc: expected exactly one output for one input, got %d", len(outputs))
	}
	return outputs[0], nil
}

// Close sends Exit. The underlying connection is closed by whoever
// constructed it (e.g. the process supervisor owns the net.Conn), not by
// compiledFunction, since Close here only means "I'm done with this
// function", not "tear down the transport".
func (f *compiledFunction) Close() {
	_ = f.client.Exit()
}
