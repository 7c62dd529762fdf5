package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const keyPEMType = "PRIVATE KEY"

// Identity is the device's persistent signing keypair. The device id is the
// hex SHA-256 digest of the raw public key, so it stays stable for as long as
// the key file survives. A missing or unreadable file produces a fresh
// keypair, which downstream shows up as a new, unpaired device.
type Identity struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	deviceID string
}

// LoadOrCreate reads the keypair at path, generating and persisting a new one
// if the file is absent or cannot be parsed.
func LoadOrCreate(path string, log *slog.Logger) (*Identity, error) {
	if id, err := load(path); err == nil {
		return id, nil
	} else if !os.IsNotExist(err) {
		log.Warn("device key unreadable, generating a new identity",
			slog.String("path", path), slog.String("error", err.Error()))
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	if err := persist(path, priv); err != nil {
		return nil, err
	}
	id := fromKey(priv, pub)
	log.Info("generated new device identity", slog.String("device_id", id.deviceID))
	return id, nil
}

func load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != keyPEMType {
		return nil, fmt.Errorf("no %s block in %s", keyPEMType, path)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse device key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("device key is not an ed25519 key")
	}
	return fromKey(priv, priv.Public().(ed25519.PublicKey)), nil
}

func persist(path string, priv ed25519.PrivateKey) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key dir: %w", err)
		}
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("encode device key: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: keyPEMType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write device key: %w", err)
	}
	return nil
}

func fromKey(priv ed25519.PrivateKey, pub ed25519.PublicKey) *Identity {
	digest := sha256.Sum256(pub)
	return &Identity{
		priv:     priv,
		pub:      pub,
		deviceID: hex.EncodeToString(digest[:]),
	}
}

// DeviceID returns the stable identity string derived from the public key.
func (i *Identity) DeviceID() string { return i.deviceID }

// PublicKey returns the raw public key bytes.
func (i *Identity) PublicKey() ed25519.PublicKey { return i.pub }

// Sign signs payload with the device key. A failure here aborts the current
// handshake attempt only; callers must not treat it as fatal to the process.
func (i *Identity) Sign(payload []byte) ([]byte, error) {
	if len(i.priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("device key not initialized")
	}
	return ed25519.Sign(i.priv, payload), nil
}
