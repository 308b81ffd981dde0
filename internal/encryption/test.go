package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"lessonlog/internal/backup"
)

// scrambledMagic starts every stream written by TestEncryptor.
var scrambledMagic = []byte("LLSCRAMBLE1\n")

// scrambleKey is XORed over the payload so a mirrored snapshot does not carry
// a readable SQLite header.
var scrambleKey = []byte("lessonlog-test-key")

// ErrWrongPassphrase is returned by TestEncryptor.Unlock when Setup was given
// a different passphrase.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// TestEncryptor stands in for AgeEncryptor in tests and in configs with
// encryption type "test". It needs no key files. Until Setup is called any
// passphrase unlocks it.
type TestEncryptor struct {
	passphrase *string
}

var _ backup.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

// Setup remembers passphrase; later Unlock calls must match it.
func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	e.passphrase = &passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(scrambledMagic); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(&scrambler{w: w}, r); err != nil {
		return fmt.Errorf("scrambling snapshot: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (backup.DecryptionContext, error) {
	if e.passphrase != nil && *e.passphrase != passphrase {
		return nil, ErrWrongPassphrase
	}
	return unscrambler{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

type unscrambler struct{}

func (unscrambler) Decrypt(r io.Reader, w io.Writer) error {
	magic := make([]byte, len(scrambledMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(magic, scrambledMagic) {
		return fmt.Errorf("not a scrambled snapshot")
	}
	if _, err := io.Copy(&scrambler{w: w}, r); err != nil {
		return fmt.Errorf("unscrambling snapshot: %w", err)
	}
	return nil
}

// scrambler XORs everything written through it with scrambleKey. The
// operation is its own inverse.
type scrambler struct {
	w   io.Writer
	off int
}

func (s *scrambler) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	for i, b := range p {
		buf[i] = b ^ scrambleKey[(s.off+i)%len(scrambleKey)]
	}
	n, err := s.w.Write(buf)
	s.off += n
	return n, err
}
