// Package cipher declares the per-repo Cipher capability consumed by the
// engine and provides a grounded AES-256-CBC reference
// implementation, built on internal/crypto's streaming primitives
// (internal/crypto/streaming.go's CBCStreamingEncryptor/Decryptor and
// internal/crypto/encryption.go's pkcs7 padding and base64 helpers).
//
// The engine only ever depends on the Cipher interface; this file's
// AESCBCCipher is one concrete provider suitable for the reference
// RemoteApi/localfs wiring in cmd/vaultctl, not a cryptographic design
// proposal (explicitly scopes "cryptographic primitives" out).
package cipher

import ("context"
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"io"

	encryption "github.com/koofr/vault-core/internal/crypto")

// DecryptedName is a user-visible filename or path segment.
type DecryptedName string

// EncryptedName is the on-wire representation of the same segment.
type EncryptedName string

// Cipher is the per-repo capability: filename encrypt/decrypt, a
// streaming content reader wrapper in both directions, and a pure
// deterministic size-overhead function.
type Cipher interface {
	EncryptFilename(name DecryptedName) EncryptedName
	DecryptFilename(name EncryptedName) (DecryptedName, error)

	// EncryptReader wraps a plaintext stream into a ciphertext stream.
	EncryptReader(ctx context.Context, r io.Reader) (io.Reader, error)
	// DecryptReader wraps a ciphertext stream into a plaintext stream.
	DecryptReader(ctx context.Context, r io.Reader) (io.Reader, error)

	// EncryptedSize is pure and deterministic: given a plaintext length,
	// returns the ciphertext length EncryptReader will produce.
	EncryptedSize(n int64) int64
}

// Locker is implemented by a repo registry so RepoFiles/RepoFilesDetails
// can resolve a Cipher for a repo id and get ErrRepoLocked when the repo
// hasn't been unlocked.
type Locker interface {
	Cipher(repoID string) (Cipher, error)
}

// AESCBCCipher implements Cipher with AES-256-CBC streaming content
// encryption (CBC-chained across chunks, final-chunk-only PKCS7 padding)
// grounded on internal/crypto/streaming.go's CBCStreamingEncryptor /
// CBCStreamingDecryptor, and length-prefixed-name, random-IV CBC filename
// encryption grounded on internal/crypto/encryption.go's
// EncodeBase64/DecodeBase64 wire-safety convention.
type AESCBCCipher struct {
	key []byte
}

// NewAESCBCCipher builds a Cipher from a 32-byte repo content/name key.
func NewAESCBCCipher(key []byte) (*AESCBCCipher, error) {
	if len(key) != encryption.KeySize {
		return nil, fmt.Errorf("cipher: key must be %d bytes, got %d", encryption.KeySize, len(key))
	}
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	return &AESCBCCipher{key: keyCopy}, nil
}

// EncryptFilename encrypts a decrypted name into its on-wire form: a
// random IV, a length-prefixed plaintext, AES-256-CBC with PKCS7 padding,
// then base64 so the result is safe to use as a path segment.
func (c *AESCBCCipher) EncryptFilename(name DecryptedName) EncryptedName {
	iv, err := encryption.GenerateIV()
	if err != nil {
		// GenerateIV only fails if crypto/rand is broken; nothing a
		// caller could recover from locally.
		panic(fmt.Sprintf("cipher: generate iv: %v", err))
	}

	plain := []byte(name)
	framed := make([]byte, 4+len(plain))
	binary.BigEndian.PutUint32(framed, uint32(len(plain)))
	copy(framed[4:], plain)

	enc, err := newNameEncryptor(c.key, iv)
	if err != nil {
		panic(fmt.Sprintf("cipher: encrypt filename: %v", err))
	}
	ciphertext, err := enc.EncryptPart(framed, true)
	if err != nil {
		panic(fmt.Sprintf("cipher: encrypt filename: %v", err))
	}

	out := append(iv, ciphertext...)
	return EncryptedName(encryption.EncodeBase64(out))
}

// DecryptFilename reverses EncryptFilename.
func (c *AESCBCCipher) DecryptFilename(name EncryptedName) (DecryptedName, error) {
	raw, err := encryption.DecodeBase64(string(name))
	if err != nil {
		return "", fmt.Errorf("cipher: decode filename: %w", err)
	}
	if len(raw) < encryption.IVSize+aes.BlockSize {
		return "", fmt.Errorf("cipher: truncated filename payload")
	}
	iv := raw[:encryption.IVSize]
	ciphertext := raw[encryption.IVSize:]

	dec, err := encryption.NewCBCStreamingDecryptor(c.key, iv)
	if err != nil {
		return "", fmt.Errorf("cipher: decrypt filename: %w", err)
	}
	plain, err := dec.DecryptPart(ciphertext, true)
	if err != nil {
		return "", fmt.Errorf("cipher: decrypt filename: %w", err)
	}
	if len(plain) < 4 {
		return "", fmt.Errorf("cipher: corrupt filename frame")
	}
	n := binary.BigEndian.Uint32(plain)
	if int(n) > len(plain)-4 {
		return "", fmt.Errorf("cipher: corrupt filename length")
	}
	return DecryptedName(plain[4 : 4+n]), nil
}

// EncryptReader wraps r in a streaming AES-256-CBC encryptor. The first
// bytes emitted are the 16-byte IV, exactly mirroring how EncryptFilename
// prefixes its own IV, so a single remote object is self-describing.
func (c *AESCBCCipher) EncryptReader(ctx context.Context, r io.Reader) (io.Reader, error) {
	iv, err := encryption.GenerateIV()
	if err != nil {
		return nil, fmt.Errorf("cipher: generate iv: %w", err)
	}
	enc, err := encryption.NewCBCStreamingEncryptorWithKey(c.key, iv, iv)
	if err != nil {
		return nil, fmt.Errorf("cipher: new encryptor: %w", err)
	}
	return newEncryptingReader(ctx, r, enc), nil
}

// DecryptReader wraps r, reading the IV off the front the way
// EncryptReader wrote it.
func (c *AESCBCCipher) DecryptReader(ctx context.Context, r io.Reader) (io.Reader, error) {
	return newDecryptingReader(ctx, r, c.key), nil
}

// EncryptedSize mirrors CalculateEncryptedPartSize's block-rounding
// arithmetic plus the leading IV this cipher prefixes.
func (c *AESCBCCipher) EncryptedSize(n int64) int64 {
	return int64(encryption.IVSize) + encryption.CalculateEncryptedPartSize(n)
}

// newNameEncryptor is a thin constructor indirection so filename
// encryption and content encryption share the same CBCStreamingEncryptor
// type without exposing internal/crypto's "resume" constructor options to
// every call site.
func newNameEncryptor(key, iv []byte) (*encryption.CBCStreamingEncryptor, error) {
	zero := make([]byte, encryption.IVSize)
	copy(zero, iv)
	return encryption.NewCBCStreamingEncryptorWithKey(key, iv, zero)
}
