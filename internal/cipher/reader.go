package cipher

import (
	"context"
	"crypto/aes"
	"fmt"
	"io"

	encryption "github.com/koofr/vault-core/internal/crypto"
)

// chunkSize is the plaintext unit the streaming encryptor/decryptor
// operates on between PKCS7-padded final chunks. It must be a multiple
// of aes.BlockSize; 1 MiB keeps per-chunk allocations modest while still
// being a multiple of internal/constants' 32MB ChunkSize constant's block
// alignment.
const chunkSize = 1 << 20

// readChunk fills buf with up to len(buf) bytes, returning how many bytes
// were read and whether the underlying reader is now exhausted (EOF hit
// during or immediately after this read). It never returns an error for a
// clean EOF — only for a genuine I/O failure.
func readChunk(ctx context.Context, r io.Reader, buf []byte) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return n, false, nil
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return n, true, nil
	default:
		return n, false, err
	}
}

// encryptingReader streams plaintext into AES-256-CBC ciphertext using a
// one-chunk lookahead to know which chunk is the true final one (PKCS7
// padding only applies there), grounded on
// internal/crypto/streaming.go's CBCStreamingEncryptor.
type encryptingReader struct {
	ctx context.Context
	src io.Reader
	enc *encryption.CBCStreamingEncryptor

	pending      []byte
	pendingFinal bool
	havePending  bool
	started      bool
	ivWritten    bool

	out    []byte
	outPos int
	done   bool
	err    error
}

func newEncryptingReader(ctx context.Context, src io.Reader, enc *encryption.CBCStreamingEncryptor) *encryptingReader {
	return &encryptingReader{ctx: ctx, src: src, enc: enc}
}

func (r *encryptingReader) Read(p []byte) (int, error) {
	for r.outPos >= len(r.out) && !r.done && r.err == nil {
		r.refill()
	}
	if r.outPos < len(r.out) {
		n := copy(p, r.out[r.outPos:])
		r.outPos += n
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	return 0, io.EOF
}

func (r *encryptingReader) refill() {
	if !r.started {
		r.started = true
		buf := make([]byte, chunkSize)
		n, eof, err := readChunk(r.ctx, r.src, buf)
		if err != nil {
			r.err = err
			return
		}
		r.pending = buf[:n]
		r.pendingFinal = eof
		r.havePending = true
	}

	if !r.havePending {
		r.done = true
		return
	}

	if r.pendingFinal {
		ciphertext, err := r.enc.EncryptPart(r.pending, true)
		if err != nil {
			r.err = fmt.Errorf("cipher: encrypt final chunk: %w", err)
			return
		}
		r.emit(ciphertext)
		r.havePending = false
		r.done = true
		return
	}

	buf := make([]byte, chunkSize)
	n, eof, err := readChunk(r.ctx, r.src, buf)
	if err != nil {
		r.err = err
		return
	}
	ciphertext, err := r.enc.EncryptPart(r.pending, false)
	if err != nil {
		r.err = fmt.Errorf("cipher: encrypt chunk: %w", err)
		return
	}
	r.emit(ciphertext)
	r.pending = buf[:n]
	r.pendingFinal = eof
}

func (r *encryptingReader) emit(ciphertext []byte) {
	if !r.ivWritten {
		r.out = append(append([]byte{}, r.enc.GetInitialIV()...), ciphertext...)
		r.ivWritten = true
	} else {
		r.out = ciphertext
	}
	r.outPos = 0
}

// decryptingReader reverses encryptingReader: it first reads off the
// leading 16-byte IV, then decrypts fixed-size ciphertext chunks with a
// one-chunk lookahead. Re-chunking at a boundary different from the
// encryptor's is safe here because CBC chaining is block-positional, not
// tied to logical chunk boundaries — only the true final chunk needs the
// isFinal=true flag for PKCS7 unpadding.
type decryptingReader struct {
	ctx context.Context
	src io.Reader
	key []byte
	dec *encryption.CBCStreamingDecryptor

	pending      []byte
	pendingFinal bool
	havePending  bool
	started      bool

	out    []byte
	outPos int
	done   bool
	err    error
}

func newDecryptingReader(ctx context.Context, src io.Reader, key []byte) *decryptingReader {
	return &decryptingReader{ctx: ctx, src: src, key: key}
}

func (r *decryptingReader) Read(p []byte) (int, error) {
	for r.outPos >= len(r.out) && !r.done && r.err == nil {
		r.refill()
	}
	if r.outPos < len(r.out) {
		n := copy(p, r.out[r.outPos:])
		r.outPos += n
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	return 0, io.EOF
}

func (r *decryptingReader) refill() {
	if !r.started {
		r.started = true
		iv := make([]byte, encryption.IVSize)
		if _, err := io.ReadFull(r.src, iv); err != nil {
			r.err = fmt.Errorf("cipher: read iv: %w", err)
			return
		}
		dec, err := encryption.NewCBCStreamingDecryptor(r.key, iv)
		if err != nil {
			r.err = fmt.Errorf("cipher: new decryptor: %w", err)
			return
		}
		r.dec = dec

		buf := make([]byte, chunkSize)
		n, eof, err := readChunk(r.ctx, r.src, buf)
		if err != nil {
			r.err = err
			return
		}
		r.pending = buf[:n]
		r.pendingFinal = eof
		r.havePending = true
	}

	if !r.havePending {
		r.done = true
		return
	}

	if r.pendingFinal {
		if len(r.pending)%aes.BlockSize != 0 {
			r.err = fmt.Errorf("cipher: ciphertext not block-aligned (%d bytes)", len(r.pending))
			return
		}
		plaintext, err := r.dec.DecryptPart(r.pending, true)
		if err != nil {
			r.err = fmt.Errorf("cipher: decrypt final chunk: %w", err)
			return
		}
		r.out = plaintext
		r.outPos = 0
		r.havePending = false
		r.done = true
		return
	}

	buf := make([]byte, chunkSize)
	n, eof, err := readChunk(r.ctx, r.src, buf)
	if err != nil {
		r.err = err
		return
	}
	plaintext, err := r.dec.DecryptPart(r.pending, false)
	if err != nil {
		r.err = fmt.Errorf("cipher: decrypt chunk: %w", err)
		return
	}
	r.out = plaintext
	r.outPos = 0
	r.pending = buf[:n]
	r.pendingFinal = eof
}
