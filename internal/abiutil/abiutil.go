// Package abiutil loads ABI definitions and handles the small amount of
// bytes/crypto plumbing the CLI harness needs to get a signing key into
// memory. Grounded on the teacher's pkg/util: the original exposed these as
// free functions used directly by ContractClient callers and tests, which
// this package preserves.
package abiutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LoadABI reads a bare ABI JSON array from path.
func LoadABI(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("open abi %s: %w", path, err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	return parsed, nil
}

// hardhatArtifact is the subset of a Hardhat/Foundry build artifact this
// engine cares about.
type hardhatArtifact struct {
	ABI json.RawMessage `json:"abi"`
}

// LoadABIFromHardhatArtifact reads the "abi" field out of a Hardhat-style
// compiled-artifact JSON file, rather than a bare ABI array.
func LoadABIFromHardhatArtifact(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read artifact %s: %w", path, err)
	}

	var artifact hardhatArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("unmarshal artifact %s: %w", path, err)
	}
	if len(artifact.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("artifact %s has no abi field", path)
	}

	parsed, err := abi.JSON(bytesReader(artifact.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse artifact abi %s: %w", path, err)
	}
	return parsed, nil
}

func bytesReader(b []byte) io.Reader {
	return &rawReader{b: b}
}

// rawReader is a tiny io.Reader over a byte slice, used to avoid pulling in
// bytes.NewReader just for abi.JSON's io.Reader parameter.
type rawReader struct {
	b   []byte
	pos int
}

func (r *rawReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

// Hex2Bytes decodes a 0x-prefixed or bare hex string into bytes.
func Hex2Bytes(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// Decrypt recovers the raw private-key hex from an AES-GCM-encrypted blob,
// as cmd/rebalancer does at startup when PRIVATE_KEY_CIPHER_KEY is set (the
// ciphertext is then read from PRIVATE_KEY): the signing key never touches
// disk in plaintext, only the ciphertext does.
func Decrypt(key []byte, ciphertextHex string) (string, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return "", errors.New("abiutil: key must be 16, 24 or 32 bytes for AES")
	}
	data := Hex2Bytes(ciphertextHex)
	if data == nil {
		return "", errors.New("abiutil: ciphertext is not valid hex")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("abiutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("abiutil: new gcm: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("abiutil: ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("abiutil: decrypt: %w", err)
	}
	return string(plain), nil
}

// Encrypt is the inverse of Decrypt; it exists so operators can prepare the
// encrypted PRIVATE_KEY value offline with the same package that reads it back.
func Encrypt(key []byte, plaintext string) (string, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return "", errors.New("abiutil: key must be 16, 24 or 32 bytes for AES")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("abiutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("abiutil: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("abiutil: nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}
