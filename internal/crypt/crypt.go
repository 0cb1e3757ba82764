// Package crypt encrypts blobs at rest. Every file gets its own random IV and
// is processed as a stream (AES-256-CBC with PKCS#7 padding), so memory use is
// bounded by a small chunk buffer no matter how large the upload is.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the master key length required for AES-256.
	KeySize = 32
	// IVSize is the CBC initialization vector length (one AES block).
	IVSize = aes.BlockSize

	// chunkSize bounds how much ciphertext is transformed per call.
	chunkSize = 32 * 1024
)

var (
	ErrKeySize        = fmt.Errorf("crypt: key must be %d bytes", KeySize)
	ErrIVSize         = fmt.Errorf("crypt: iv must be %d bytes", IVSize)
	ErrInvalidPadding = errors.New("crypt: invalid padding")
)

// Engine holds the process-wide block cipher built from the master key.
type Engine struct {
	block cipher.Block
}

// NewEngine validates the key length and prepares the AES block cipher.
func NewEngine(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return &Engine{block: block}, nil
}

// NewIV returns a fresh random IV. IVs are stored next to the metadata in
// clear text; only the key is secret.
func NewIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("read iv: %w", err)
	}
	return iv, nil
}

// CiphertextSize returns the exact blob size for n plaintext bytes. PKCS#7
// always adds between 1 and 16 bytes of padding.
func CiphertextSize(n int64) int64 {
	return (n/aes.BlockSize + 1) * aes.BlockSize
}

// NewEncrypter wraps w so that bytes written are encrypted. Close must be
// called to emit the final padded block.
func (e *Engine) NewEncrypter(w io.Writer, iv []byte) (io.WriteCloser, error) {
	if len(iv) != IVSize {
		return nil, ErrIVSize
	}
	return &encrypter{
		w:    w,
		mode: cipher.NewCBCEncrypter(e.block, iv),
		buf:  make([]byte, 0, aes.BlockSize),
	}, nil
}

// NewDecrypter wraps r so that reads return plaintext. A record without an IV
// predates encryption, so an empty iv yields r unchanged.
func (e *Engine) NewDecrypter(r io.Reader, iv []byte) (io.Reader, error) {
	if len(iv) == 0 {
		return r, nil
	}
	if len(iv) != IVSize {
		return nil, ErrIVSize
	}
	return &decrypter{
		r:       r,
		mode:    cipher.NewCBCDecrypter(e.block, iv),
		readBuf: make([]byte, chunkSize),
	}, nil
}

// EncryptStream copies src to dst through the cipher and reports the number
// of plaintext bytes consumed.
func (e *Engine) EncryptStream(dst io.Writer, src io.Reader, iv []byte) (int64, error) {
	enc, err := e.NewEncrypter(dst, iv)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(enc, src)
	if err != nil {
		return n, fmt.Errorf("encrypt: %w", err)
	}
	if err := enc.Close(); err != nil {
		return n, fmt.Errorf("encrypt final block: %w", err)
	}
	return n, nil
}

// DecryptStream copies the plaintext of src into dst.
func (e *Engine) DecryptStream(dst io.Writer, src io.Reader, iv []byte) (int64, error) {
	dec, err := e.NewDecrypter(src, iv)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, dec)
	if err != nil {
		return n, fmt.Errorf("decrypt: %w", err)
	}
	return n, nil
}

// EncryptReader returns a reader producing the ciphertext of src, for blob
// backends that pull data instead of accepting writes. Closing the returned
// reader early stops the encrypting goroutine.
func (e *Engine) EncryptReader(src io.Reader, iv []byte) (io.ReadCloser, error) {
	if len(iv) != IVSize {
		return nil, ErrIVSize
	}
	pr, pw := io.Pipe()
	go func() {
		_, err := e.EncryptStream(pw, src, iv)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

type encrypter struct {
	w      io.Writer
	mode   cipher.BlockMode
	buf    []byte // pending bytes, always shorter than one block
	out    []byte
	closed bool
}

func (e *encrypter) Write(p []byte) (int, error) {
	if e.closed {
		return 0, errors.New("crypt: write after close")
	}
	n := len(p)
	if len(e.buf) > 0 {
		need := aes.BlockSize - len(e.buf)
		if len(p) < need {
			e.buf = append(e.buf, p...)
			return n, nil
		}
		e.buf = append(e.buf, p[:need]...)
		p = p[need:]
		if err := e.emit(e.buf); err != nil {
			return 0, err
		}
		e.buf = e.buf[:0]
	}
	full := len(p) - len(p)%aes.BlockSize
	for full > 0 {
		step := full
		if step > chunkSize {
			step = chunkSize
		}
		if err := e.emit(p[:step]); err != nil {
			return 0, err
		}
		p = p[step:]
		full -= step
	}
	e.buf = append(e.buf, p...)
	return n, nil
}

func (e *encrypter) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	pad := aes.BlockSize - len(e.buf)
	for i := 0; i < pad; i++ {
		e.buf = append(e.buf, byte(pad))
	}
	return e.emit(e.buf)
}

func (e *encrypter) emit(src []byte) error {
	if cap(e.out) < len(src) {
		e.out = make([]byte, len(src))
	}
	out := e.out[:len(src)]
	e.mode.CryptBlocks(out, src)
	_, err := e.w.Write(out)
	return err
}

// decrypter keeps the last decrypted block back until the source is drained,
// because only then is it known to carry the padding.
type decrypter struct {
	r       io.Reader
	mode    cipher.BlockMode
	readBuf []byte
	pending []byte // ciphertext not yet decrypted (partial block)
	held    []byte // last plaintext block
	out     []byte // plaintext ready for the caller
	err     error
}

func (d *decrypter) Read(p []byte) (int, error) {
	for len(d.out) == 0 {
		if d.err != nil {
			return 0, d.err
		}
		d.fill()
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

func (d *decrypter) fill() {
	n, err := d.r.Read(d.readBuf)
	d.pending = append(d.pending, d.readBuf[:n]...)
	if errors.Is(err, io.EOF) {
		d.finish()
		return
	}
	if err != nil {
		d.err = err
		return
	}
	complete := len(d.pending) - len(d.pending)%aes.BlockSize
	if complete == 0 {
		return
	}
	plain := d.decrypt(d.pending[:complete])
	d.pending = append(d.pending[:0], d.pending[complete:]...)

	last := len(plain) - aes.BlockSize
	out := make([]byte, 0, len(d.held)+last)
	out = append(out, d.held...)
	out = append(out, plain[:last]...)
	d.held = append(d.held[:0], plain[last:]...)
	d.out = out
}

func (d *decrypter) finish() {
	if len(d.pending)%aes.BlockSize != 0 {
		d.err = ErrInvalidPadding
		return
	}
	tail := append([]byte{}, d.held...)
	if len(d.pending) > 0 {
		tail = append(tail, d.decrypt(d.pending)...)
	}
	d.pending = nil
	d.held = nil
	if len(tail) == 0 {
		d.err = ErrInvalidPadding
		return
	}
	pad := int(tail[len(tail)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(tail) {
		d.err = ErrInvalidPadding
		return
	}
	for _, b := range tail[len(tail)-pad:] {
		if int(b) != pad {
			d.err = ErrInvalidPadding
			return
		}
	}
	d.out = tail[:len(tail)-pad]
	d.err = io.EOF
}

func (d *decrypter) decrypt(src []byte) []byte {
	dst := make([]byte, len(src))
	d.mode.CryptBlocks(dst, src)
	return dst
}
