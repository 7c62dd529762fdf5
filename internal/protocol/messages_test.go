package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeFrame(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"res","id":"7","ok":false,"error":{"code":"NOT_PAIRED","message":"approve this device"}}`))
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	res, ok := frame.(Response)
	if !ok {
		t.Fatalf("expected Response, got %T", frame)
	}
	if res.ID != "7" || res.OK || res.Error == nil || res.Error.Code != CodeNotPaired {
		t.Fatalf("unexpected response: %+v", res)
	}

	frame, err = DecodeFrame([]byte(`{"type":"event","event":"connect.challenge","payload":{"nonce":"n1"}}`))
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	evt, ok := frame.(Event)
	if !ok {
		t.Fatalf("expected Event, got %T", frame)
	}
	var challenge ChallengePayload
	if err := json.Unmarshal(evt.Payload, &challenge); err != nil || challenge.Nonce != "n1" {
		t.Fatalf("unexpected challenge payload: %v %+v", err, challenge)
	}

	if _, err := DecodeFrame([]byte(`{"type":"bogus"}`)); err == nil {
		t.Fatal("expected error for unknown frame type")
	}
}

func TestChatEventText(t *testing.T) {
	cases := []struct {
		name    string
		message string
		want    string
	}{
		{"content blocks", `{"content":[{"type":"text","text":"Hello "},{"type":"text","text":"there."}]}`, "Hello there."},
		{"skips non-text blocks", `{"content":[{"type":"tool_use","text":"x"},{"type":"text","text":"ok"}]}`, "ok"},
		{"flat text", `{"text":"plain reply"}`, "plain reply"},
		{"empty", ``, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := ChatEvent{Message: json.RawMessage(tc.message)}
			if got := evt.Text(); got != tc.want {
				t.Fatalf("Text() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSignaturePayloadLayout(t *testing.T) {
	payload := SignaturePayload("dev1", "desktop", "assistant", "client", []string{"chat", "history"}, 1700000000123, "tok", "nonce9")
	want := "v2|dev1|desktop|assistant|client|chat,history|1700000000123|tok|nonce9"
	if string(payload) != want {
		t.Fatalf("payload = %q, want %q", payload, want)
	}
}
