package identity

import (
	"crypto/ed25519"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadOrCreatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "device.key")

	first, err := LoadOrCreate(path, newLogger())
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if first.DeviceID() == "" {
		t.Fatal("expected non-empty device id")
	}
	if len(first.DeviceID()) != 64 {
		t.Fatalf("device id should be a hex sha256 digest, got %q", first.DeviceID())
	}

	second, err := LoadOrCreate(path, newLogger())
	if err != nil {
		t.Fatalf("reload identity: %v", err)
	}
	if second.DeviceID() != first.DeviceID() {
		t.Fatalf("device id changed across reload: %s != %s", second.DeviceID(), first.DeviceID())
	}
}

func TestCorruptKeyFileRegenerates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.key")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	id, err := LoadOrCreate(path, newLogger())
	if err != nil {
		t.Fatalf("expected regeneration, got error: %v", err)
	}
	reloaded, err := LoadOrCreate(path, newLogger())
	if err != nil {
		t.Fatalf("reload after regeneration: %v", err)
	}
	if reloaded.DeviceID() != id.DeviceID() {
		t.Fatal("regenerated key was not persisted")
	}
}

func TestSignVerifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.key")
	id, err := LoadOrCreate(path, newLogger())
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	payload := []byte("v2|abc|client|assistant|client|chat|123|tok|nonce")
	sig, err := id.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !ed25519.Verify(id.PublicKey(), payload, sig) {
		t.Fatal("signature did not verify against the device public key")
	}
}
