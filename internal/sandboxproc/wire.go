package sandboxproc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cryguy/fledge-auction/internal/core"
)

// Op is one of the three request kinds spec §6 names for the sandbox IPC
// framing.
type Op uint8

const (
	// OpCompile carries a compileRequest payload.
	OpCompile Op = iota + 1
	// OpBatchExecute carries a batchExecuteRequest payload.
	OpBatchExecute
	// OpExit asks the sandboxee to shut down; it carries no payload and
	// gets no response.
	OpExit
)

// maxFrameBytes bounds a single frame's payload so a malformed or hostile
// peer can't make either side of the pipe allocate unbounded memory.
const maxFrameBytes = 32 * 1024 * 1024

// frameHeaderBytes is the size of a frame header: a 4-byte big-endian
// payload length followed by a 1-byte
// op/status tag, matching the "length-tagged messages carrying {op,
// payload}" framing spec §6 describes. Requests tag with Op; responses tag
// with a status byte (0 = ok, non-zero = one of core.Kind).
const frameHeaderBytes = 5

// writeFrame writes one length-prefixed frame: tag, then payload.
func writeFrame(w io.Writer, tag byte, payload []byte) error {
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("sandboxproc: payload of %d bytes exceeds %d byte limit", len(payload), maxFrameBytes)
	}
	header := make([]byte, frameHeaderBytes)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	header[4] = tag
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame and returns its tag and
// payload.
func readFrame(r io.Reader) (tag byte, payload []byte, err error) {
	header := make([]byte, frameHeaderBytes)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	if length > maxFrameBytes {
		return 0, nil, fmt.Errorf("sandboxproc: frame of %d bytes exceeds %d byte limit", length, maxFrameBytes)
	}
	tag = header[4]
	if length == 0 {
		return tag, nil, nil
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return tag, payload, nil
}

// statusTags maps a core.Kind to the single status byte carried by a
// response frame. 0 is reserved for "ok".
var statusTags = map[core.Kind]byte{
	core.KindInvalidArgument:    1,
	core.KindNotFound:           2,
	core.KindPermissionDenied:   3,
	core.KindUnavailable:        4,
	core.KindFailedPrecondition: 5,
	core.KindInternal:           6,
}

var tagStatuses = func() map[byte]core.Kind {
	m := make(map[byte]core.Kind, len(statusTags))
	for k, v := range statusTags {
		m[v] = k
	}
	return m
}()

const statusOK byte = 0

// writeResponse writes a response frame: statusOK with payload on success,
// or the error's Kind tag with its message as payload on failure.
func writeResponse(w io.Writer, payload []byte, err error) error {
	if err == nil {
		return writeFrame(w, statusOK, payload)
	}
	kind := core.KindOf(err)
	tag, ok := statusTags[kind]
	if !ok {
		tag = statusTags[core.KindInternal]
	}
	return writeFrame(w, tag, []byte(err.Error()))
}

// readResponse reads a response frame and reconstructs the *core.Error on
// failure.
func readResponse(r io.Reader) (payload []byte, err error) {
	tag, body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	if tag == statusOK {
		return body, nil
	}
	kind, ok := tagStatuses[tag]
	if !ok {
		kind = core.KindInternal
	}
	return nil, &core.Error{Kind: kind, Message: string(body)}
}

// compileRequest is OpCompile's JSON payload.
type compileRequest struct {
	Source string             `json:"source"`
	Role   core.FunctionRole  `json:"role"`
	Opts   core.CompileOptions `json:"opts"`
}

// batchExecuteRequest is OpBatchExecute's JSON payload: one InvokeArgs per
// input, processed sequentially with a short-circuit on the first failure,
// per spec §4.B batch_invoke.
type batchExecuteRequest struct {
	Inputs []core.InvokeArgs `json:"inputs"`
}

// batchExecuteResponse is OpBatchExecute's success payload.
type batchExecuteResponse struct {
	Outputs []json.RawMessage `json:"outputs"`
}
