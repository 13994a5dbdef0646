package solana

import (
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	PublicKeyLength = 32
	SignatureLength = 64
)

// Well-known program ids.
const (
	SystemProgramID = "11111111111111111111111111111111"
	TokenProgramID  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ID     = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// ValidatePublicKey checks that s is a base58 encoded 32 byte key.
func ValidatePublicKey(s string) error {
	return validateBase58(s, PublicKeyLength, "public key")
}

// ValidateSignature checks that s is a base58 encoded 64 byte signature.
func ValidateSignature(s string) error {
	return validateBase58(s, SignatureLength, "signature")
}

func validateBase58(s string, size int, what string) error {
	if s == "" {
		return fmt.Errorf("empty %s", what)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", what, err)
	}
	if len(raw) != size {
		return fmt.Errorf("invalid %s: want %d bytes, got %d", what, size, len(raw))
	}
	return nil
}
