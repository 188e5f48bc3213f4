package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Signer signs canonical entry bytes with an Ed25519 key. Signing is
// deterministic for a given key and message, which keeps golden trails
// reproducible under a fixed seed.
type Signer struct {
	priv ed25519.PrivateKey
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Signer{priv: priv}, nil
}

// NewSignerFromSeed derives a signer from a 32-byte seed.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// LoadOrCreateSigner reads a hex-encoded seed from path, generating and
// persisting a fresh one (mode 0600) when the file does not exist.
func LoadOrCreateSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, fmt.Errorf("decode signing seed %s: %w", path, decErr)
		}
		return NewSignerFromSeed(seed)
	case os.IsNotExist(err):
		seed := make([]byte, ed25519.SeedSize)
		if _, rErr := rand.Read(seed); rErr != nil {
			return nil, fmt.Errorf("generate signing seed: %w", rErr)
		}
		if wErr := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0o600); wErr != nil {
			return nil, fmt.Errorf("write signing seed %s: %w", path, wErr)
		}
		return NewSignerFromSeed(seed)
	default:
		return nil, fmt.Errorf("read signing seed %s: %w", path, err)
	}
}

// Sign returns the Ed25519 signature over data.
func (s *Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.priv, data)
}

// Public returns the signer's public key.
func (s *Signer) Public() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// PublicHex returns the public key hex-encoded, the form operators pass
// to offline verification.
func (s *Signer) PublicHex() string {
	return hex.EncodeToString(s.Public())
}

// ParsePublicKey decodes a hex-encoded Ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
