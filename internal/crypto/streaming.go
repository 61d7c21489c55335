// Package encryption provides the repo content cipher's cryptographic
// primitives. This file implements streaming AES-256-CBC encryption with
// IV chaining across parts, so a multipart upload can be encrypted one
// part at a time without buffering the whole file.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CBCStreamingEncryptor encrypts a file's parts under a single key and a
// chained IV: part N's IV is the last ciphertext block of part N-1, so the
// concatenation of ciphertexts is byte-identical to encrypting the whole
// file under AES-256-CBC in one pass. PKCS7 padding is applied only to the
// final part.
type CBCStreamingEncryptor struct {
	key       []byte // 32-byte AES-256 key
	initialIV []byte // 16-byte IV stored alongside the ciphertext
	currentIV []byte // IV the next EncryptPart call will chain from
	block     cipher.Block
}

// NewCBCStreamingEncryptor creates an encryptor with a freshly generated
// key and initial IV.
func NewCBCStreamingEncryptor() (*CBCStreamingEncryptor, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	iv, err := GenerateIV()
	if err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	return NewCBCStreamingEncryptorWithKey(key, iv, iv)
}

// NewCBCStreamingEncryptorWithKey builds an encryptor from an existing key,
// initial IV, and current IV, for resuming an in-progress encrypted upload.
func NewCBCStreamingEncryptorWithKey(key, initialIV, currentIV []byte) (*CBCStreamingEncryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(initialIV) != IVSize {
		return nil, fmt.Errorf("initial IV must be %d bytes, got %d", IVSize, len(initialIV))
	}
	if len(currentIV) != IVSize {
		return nil, fmt.Errorf("current IV must be %d bytes, got %d", IVSize, len(currentIV))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	keyCopy := make([]byte, KeySize)
	copy(keyCopy, key)

	initialIVCopy := make([]byte, IVSize)
	copy(initialIVCopy, initialIV)

	currentIVCopy := make([]byte, IVSize)
	copy(currentIVCopy, currentIV)

	return &CBCStreamingEncryptor{
		key:       keyCopy,
		initialIV: initialIVCopy,
		currentIV: currentIVCopy,
		block:     block,
	}, nil
}

// EncryptPart encrypts one part with the chained IV. Parts must be
// encrypted in order (0, 1, 2, ...) since each one depends on the
// ciphertext of the last.
func (e *CBCStreamingEncryptor) EncryptPart(plaintext []byte, isFinal bool) ([]byte, error) {
	var dataToEncrypt []byte

	if isFinal {
		dataToEncrypt = pkcs7Pad(plaintext, aes.BlockSize)
	} else {
		if len(plaintext)%aes.BlockSize != 0 {
			return nil, fmt.Errorf("non-final part must be multiple of %d bytes, got %d", aes.BlockSize, len(plaintext))
		}
		dataToEncrypt = plaintext
	}

	mode := cipher.NewCBCEncrypter(e.block, e.currentIV)

	ciphertext := make([]byte, len(dataToEncrypt))
	mode.CryptBlocks(ciphertext, dataToEncrypt)

	copy(e.currentIV, ciphertext[len(ciphertext)-aes.BlockSize:])

	return ciphertext, nil
}

// GetKey returns a copy of the encryption key.
func (e *CBCStreamingEncryptor) GetKey() []byte {
	result := make([]byte, KeySize)
	copy(result, e.key)
	return result
}

// GetInitialIV returns a copy of the initial IV, stored alongside the
// ciphertext so a decryptor can be reconstructed.
func (e *CBCStreamingEncryptor) GetInitialIV() []byte {
	result := make([]byte, IVSize)
	copy(result, e.initialIV)
	return result
}

// GetCurrentIV returns a copy of the IV the next part will chain from,
// for persisting mid-upload resume state.
func (e *CBCStreamingEncryptor) GetCurrentIV() []byte {
	result := make([]byte, IVSize)
	copy(result, e.currentIV)
	return result
}

// CBCStreamingDecryptor reverses CBCStreamingEncryptor: decrypts parts in
// order, chaining the IV the same way the encryptor did.
type CBCStreamingDecryptor struct {
	key       []byte
	currentIV []byte
	block     cipher.Block
}

// NewCBCStreamingDecryptor creates a decryptor for a file encrypted with
// CBCStreamingEncryptor, given its key and initial IV.
func NewCBCStreamingDecryptor(key, iv []byte) (*CBCStreamingDecryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("IV must be %d bytes, got %d", IVSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	keyCopy := make([]byte, KeySize)
	copy(keyCopy, key)

	ivCopy := make([]byte, IVSize)
	copy(ivCopy, iv)

	return &CBCStreamingDecryptor{
		key:       keyCopy,
		currentIV: ivCopy,
		block:     block,
	}, nil
}

// DecryptPart decrypts one part. Parts must be decrypted in the same
// order they were encrypted.
func (d *CBCStreamingDecryptor) DecryptPart(ciphertext []byte, isFinal bool) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext cannot be empty")
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length (%d) must be multiple of %d", len(ciphertext), aes.BlockSize)
	}

	lastBlock := make([]byte, aes.BlockSize)
	copy(lastBlock, ciphertext[len(ciphertext)-aes.BlockSize:])

	mode := cipher.NewCBCDecrypter(d.block, d.currentIV)
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	copy(d.currentIV, lastBlock)

	if isFinal {
		unpadded, err := pkcs7Unpad(plaintext)
		if err != nil {
			return nil, fmt.Errorf("failed to remove padding: %w", err)
		}
		return unpadded, nil
	}

	return plaintext, nil
}

// CalculateEncryptedPartSize returns the ciphertext size PKCS7 padding
// produces for a given plaintext size: always rounds up to the next block,
// adding a full padding block if the plaintext is already block-aligned.
func CalculateEncryptedPartSize(plaintextSize int64) int64 {
	padding := int64(aes.BlockSize) - (plaintextSize % int64(aes.BlockSize))
	return plaintextSize + padding
}
