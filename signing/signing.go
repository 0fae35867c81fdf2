// Package signing signs and verifies API requests with secp256k1 keys.
//
// A request is signed over sha256(METHOD "|" PATH "|" TIMESTAMP "|" BODY),
// where TIMESTAMP is the Unix time in seconds the client sends alongside the
// signature. The signature is the 65-byte recoverable form, hex encoded, and
// recovers to the 0x address the caller claims in X-Actor.
package signing

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// RequestPayload is the byte string a request signature covers.
func RequestPayload(method, path, timestamp string, body []byte) []byte {
	payload := make([]byte, 0, len(method)+len(path)+len(timestamp)+len(body)+3)
	payload = append(payload, strings.ToUpper(method)...)
	payload = append(payload, '|')
	payload = append(payload, path...)
	payload = append(payload, '|')
	payload = append(payload, timestamp...)
	payload = append(payload, '|')
	return append(payload, body...)
}

// Timestamp formats t the way RequestPayload expects it.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// ParseTimestamp reads a timestamp produced by Timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid signature timestamp: %w", err)
	}
	return time.Unix(secs, 0), nil
}

// Digest returns sha256(data). Verifiers key replay caches on it.
func Digest(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Sign signs sha256(data) and returns the hex signature.
func Sign(key *ecdsa.PrivateKey, data []byte) (string, error) {
	digest := Digest(data)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return "", fmt.Errorf("failed to sign data: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Recover returns the checksummed address that produced signature over data.
func Recover(signature string, data []byte) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil {
		return "", fmt.Errorf("could not decode signature: %w", err)
	}
	digest := Digest(data)
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return "", fmt.Errorf("could not recover pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// Verify reports whether signature over data recovers to address.
func Verify(address, signature string, data []byte) bool {
	recovered, err := Recover(signature, data)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered, strings.TrimSpace(address))
}

// Address returns the checksummed address of key.
func Address(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// GenerateKey creates a new secp256k1 key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}
