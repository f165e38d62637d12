package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandFingerprintDeterminism(t *testing.T) {
	params := IRObject{
		"key":   IRString("user:1"),
		"value": IRString("alice"),
	}

	id1, err := CommandFingerprint("kv", "set", params)
	require.NoError(t, err)

	id2, err := CommandFingerprint("kv", "set", params)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "CommandFingerprint must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestCommandFingerprintChangesWithInput(t *testing.T) {
	params := IRObject{"key": IRString("a")}

	id1 := MustCommandFingerprint("kv", "get", params)
	id2 := MustCommandFingerprint("kv", "delete", params) // Different action
	id3 := MustCommandFingerprint("mq", "get", params)    // Different module
	id4 := MustCommandFingerprint("kv", "get", IRObject{"key": IRString("b")})

	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.NotEqual(t, id1, id4)
}

func TestCommandFingerprintKeyOrderIndependent(t *testing.T) {
	a := IRObject{"collection": IRString("docs"), "k": IRInt(3)}
	b := NewIRObjectFromPairs(O("k", IRInt(3)), O("collection", IRString("docs")))

	assert.Equal(t,
		MustCommandFingerprint("vector", "search", a),
		MustCommandFingerprint("vector", "search", b))
}

func TestCommandFingerprintNilParamsEqualsEmpty(t *testing.T) {
	assert.Equal(t,
		MustCommandFingerprint("mq", "topics", nil),
		MustCommandFingerprint("mq", "topics", IRObject{}))
}

func TestCommandFingerprintKeepsNormalizationForms(t *testing.T) {
	// Composed and decomposed text are different KV keys.
	composed := IRObject{"key": IRString("caf\u00E9")}
	decomposed := IRObject{"key": IRString("cafe\u0301")}

	assert.NotEqual(t,
		MustCommandFingerprint("kv", "get", composed),
		MustCommandFingerprint("kv", "get", decomposed))
}

func TestCommandFingerprintRejectsNonFinite(t *testing.T) {
	_, err := CommandFingerprint("vector", "search", IRObject{"embedding": IRArray{IRFloat(nan())}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CommandFingerprint")
}

func TestHashWithDomainSeparator(t *testing.T) {
	data := []byte(`{"a":1}`)

	h := sha256.New()
	h.Write([]byte(DomainCommand))
	h.Write([]byte{0x00})
	h.Write(data)
	expected := hex.EncodeToString(h.Sum(nil))

	assert.Equal(t, expected, hashWithDomain(DomainCommand, data))
	assert.NotEqual(t, hashWithDomain(DomainCommand, data), hashWithDomain("talon/other/v1", data))
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
