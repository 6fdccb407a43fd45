package plan

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// Canonical returns a deterministic CBOR encoding of the plan. Map keys
// are sorted, so two plans that decode to the same value encode to the
// same bytes regardless of source format or key order.
func (p *Plan) Canonical() ([]byte, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	data, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("CBOR encoding failed: %w", err)
	}
	return data, nil
}

// Digest returns "blake2b:<hex>" of the canonical encoding.
func (p *Plan) Digest() (string, error) {
	data, err := p.Canonical()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return fmt.Sprintf("blake2b:%x", sum), nil
}
