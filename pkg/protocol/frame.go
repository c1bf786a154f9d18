package protocol

import (
	"encoding/json"
	"fmt"
)

// Opcodes select the meaning of a frame
const (
	OpDispatch       = 0 // server -> client, carries t + s + d
	OpHeartbeat      = 1 // bidirectional
	OpIdentify       = 2 // client -> server, carries token
	OpHeartbeatAck   = 3 // server -> client
	OpResume         = 4 // client -> server, carries sessionId + last seq
	OpReconnect      = 5 // server -> client: reconnect now
	OpInvalidSession = 6 // server -> client, carries resumable flag
	OpHello          = 7 // server -> client, carries heartbeat interval
)

// WebSocket close codes used by the gateway
const (
	CloseProtocolError  = 4002
	CloseAuthTimeout    = 4003
	CloseAuthRejected   = 4004
	CloseSessionTimeout = 4009
)

// Dispatch event names originated by the gateway itself. All other event
// names pass through from the publisher stream unchanged.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Frame is the JSON envelope exchanged on the socket.
// Format: {op: int, t: string|null, s: int|null, d: object|null}
type Frame struct {
	Op int             `json:"op"`
	T  *string         `json:"t"`
	S  *int64          `json:"s"`
	D  json.RawMessage `json:"d"`
}

// ProtocolError reports a malformed or unexpected frame. The connection is
// closed with CloseProtocolError when one is raised; no partial frames are
// forwarded.
type ProtocolError struct {
	Op     int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (op %d): %s", e.Op, e.Reason)
}

func protocolErr(op int, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IdentifyPayload is the d field of an Identify frame.
type IdentifyPayload struct {
	Token   string `json:"token"`
	Intents *int64 `json:"intents,omitempty"`
}

// ResumePayload is the d field of a Resume frame.
type ResumePayload struct {
	SessionID string `json:"sessionId"`
	Seq       int64  `json:"seq"`
}

// HelloPayload is the d field of a Hello frame.
type HelloPayload struct {
	HeartbeatIntervalMs int64 `json:"heartbeatIntervalMs"`
}

// ReadyPayload is the d field of the READY dispatch.
type ReadyPayload struct {
	SessionID string `json:"sessionId"`
}

// InvalidSessionPayload is the d field of an InvalidSession frame.
type InvalidSessionPayload struct {
	Resumable bool `json:"resumable"`
}

// ClientMessage is the decoded form of a client frame: a tagged variant
// keyed by opcode. Exactly one payload pointer is set for opcodes that
// carry one.
type ClientMessage struct {
	Op       int
	Identify *IdentifyPayload
	Resume   *ResumePayload
}

// DecodeClientFrame parses and validates a frame received from a client.
// Unknown opcodes, server-only opcodes and missing required fields all
// fail with a *ProtocolError.
func DecodeClientFrame(data []byte) (*ClientMessage, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ProtocolError{Op: -1, Reason: "malformed frame: " + err.Error()}
	}

	switch f.Op {
	case OpHeartbeat:
		return &ClientMessage{Op: OpHeartbeat}, nil

	case OpIdentify:
		if len(f.D) == 0 {
			return nil, protocolErr(f.Op, "identify requires d")
		}
		var p IdentifyPayload
		if err := json.Unmarshal(f.D, &p); err != nil {
			return nil, protocolErr(f.Op, "malformed identify payload: %v", err)
		}
		if p.Token == "" {
			return nil, protocolErr(f.Op, "identify requires token")
		}
		return &ClientMessage{Op: OpIdentify, Identify: &p}, nil

	case OpResume:
		if len(f.D) == 0 {
			return nil, protocolErr(f.Op, "resume requires d")
		}
		// Seq is required; decode through a pointer to distinguish a
		// missing field from an explicit 0.
		var raw struct {
			SessionID string `json:"sessionId"`
			Seq       *int64 `json:"seq"`
		}
		if err := json.Unmarshal(f.D, &raw); err != nil {
			return nil, protocolErr(f.Op, "malformed resume payload: %v", err)
		}
		if raw.SessionID == "" {
			return nil, protocolErr(f.Op, "resume requires sessionId")
		}
		if raw.Seq == nil || *raw.Seq < 0 {
			return nil, protocolErr(f.Op, "resume requires a non-negative seq")
		}
		return &ClientMessage{Op: OpResume, Resume: &ResumePayload{SessionID: raw.SessionID, Seq: *raw.Seq}}, nil

	case OpDispatch, OpHeartbeatAck, OpReconnect, OpInvalidSession, OpHello:
		return nil, protocolErr(f.Op, "server-only opcode from client")

	default:
		return nil, protocolErr(f.Op, "unknown opcode")
	}
}

// encodeFrame marshals a server frame. d may be nil for opcodes without a
// payload.
func encodeFrame(op int, t *string, s *int64, d interface{}) ([]byte, error) {
	f := Frame{Op: op, T: t, S: s}
	if d != nil {
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		f.D = raw
	}
	return json.Marshal(f)
}

// EncodeHello builds the Hello frame sent on accept.
func EncodeHello(heartbeatIntervalMs int64) ([]byte, error) {
	return encodeFrame(OpHello, nil, nil, HelloPayload{HeartbeatIntervalMs: heartbeatIntervalMs})
}

// EncodeDispatch builds a Dispatch frame carrying an event with its
// per-session sequence number.
func EncodeDispatch(eventType string, seq int64, payload json.RawMessage) ([]byte, error) {
	f := Frame{Op: OpDispatch, T: &eventType, S: &seq, D: payload}
	return json.Marshal(f)
}

// EncodeHeartbeatAck builds a HeartbeatAck frame.
func EncodeHeartbeatAck() ([]byte, error) {
	return encodeFrame(OpHeartbeatAck, nil, nil, nil)
}

// EncodeReconnect builds a Reconnect frame asking the client to reconnect
// now (sent during drain).
func EncodeReconnect() ([]byte, error) {
	return encodeFrame(OpReconnect, nil, nil, nil)
}

// EncodeInvalidSession builds an InvalidSession frame.
func EncodeInvalidSession(resumable bool) ([]byte, error) {
	return encodeFrame(OpInvalidSession, nil, nil, InvalidSessionPayload{Resumable: resumable})
}
