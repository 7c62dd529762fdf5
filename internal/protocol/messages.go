package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Request is an outbound RPC frame.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is an inbound reply frame correlated by request id.
type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Event is an inbound server-initiated frame.
type Event struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"

	EventChallenge = "connect.challenge"
	EventChat      = "chat"

	MethodConnect   = "connect"
	MethodChatSend  = "chat.send"
	MethodChatAbort = "chat.abort"

	HelloOK       = "hello-ok"
	CodeNotPaired = "NOT_PAIRED"

	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateError   = "error"
	ChatStateAborted = "aborted"
)

// DecodeFrame inspects the type discriminator and returns the concrete frame.
func DecodeFrame(data []byte) (any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch head.Type {
	case FrameResponse:
		var res Response
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode response frame: %w", err)
		}
		return res, nil
	case FrameEvent:
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode event frame: %w", err)
		}
		return evt, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", head.Type)
	}
}

// ChallengePayload carries the handshake nonce sent by the remote on open.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// ConnectParams is the authenticated connect request body.
type ConnectParams struct {
	Role   string     `json:"role"`
	Scopes []string   `json:"scopes"`
	Client ClientInfo `json:"client"`
	Device DeviceInfo `json:"device"`
	Auth   AuthInfo   `json:"auth"`
}

type ClientInfo struct {
	ID      string `json:"id"`
	Mode    string `json:"mode"`
	Version string `json:"version,omitempty"`
}

type DeviceInfo struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce"`
}

type AuthInfo struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloPayload is the successful connect response body.
type HelloPayload struct {
	Type string `json:"type"`
}

// ChatSendParams carries one user utterance. The idempotency key doubles as
// the run correlation token the remote echoes back on every event of the turn.
type ChatSendParams struct {
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type ChatAbortParams struct {
	RunID string `json:"runId"`
}

// ChatEvent is the payload of every chat-kind event frame.
type ChatEvent struct {
	State   string          `json:"state"`
	RunID   string          `json:"runId"`
	Seq     int             `json:"seq"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"errorMessage,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text extracts reply text from the event message, which is either a
// content-block array or a flat text object.
func (e ChatEvent) Text() string {
	if len(e.Message) == 0 {
		return ""
	}
	var blocks struct {
		Content []contentBlock `json:"content"`
	}
	if err := json.Unmarshal(e.Message, &blocks); err == nil && len(blocks.Content) > 0 {
		var b strings.Builder
		for _, block := range blocks.Content {
			if block.Type == "" || block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		return b.String()
	}
	var flat struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(e.Message, &flat); err == nil {
		return flat.Text
	}
	return ""
}

// SignaturePayload builds the canonical byte string the device signs during
// the handshake. Field order is part of the wire contract.
func SignaturePayload(deviceID, clientID, clientMode, role string, scopes []string, signedAtMs int64, token, nonce string) []byte {
	fields := []string{
		"v2",
		deviceID,
		clientID,
		clientMode,
		role,
		strings.Join(scopes, ","),
		strconv.FormatInt(signedAtMs, 10),
		token,
		nonce,
	}
	return []byte(strings.Join(fields, "|"))
}
