package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainCommand prefixes command fingerprints. The version suffix leaves
// room for a new algorithm.
const DomainCommand = "talon/command/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CommandFingerprint computes the identity of a logical command.
// Two commands with the same module, action, and params (after
// canonicalization) always share a fingerprint.
func CommandFingerprint(module, action string, params IRObject) (string, error) {
	if params == nil {
		params = IRObject{}
	}
	obj := IRObject{
		"module": IRString(module),
		"action": IRString(action),
		"params": params,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CommandFingerprint: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainCommand, canonical), nil
}

// MustCommandFingerprint is like CommandFingerprint but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCommandFingerprint(module, action string, params IRObject) string {
	id, err := CommandFingerprint(module, action, params)
	if err != nil {
		panic(err)
	}
	return id
}
