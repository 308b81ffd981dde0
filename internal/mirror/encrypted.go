package mirror

import (
	"context"
	"fmt"
	"io"

	"lessonlog/internal/backup"
)

// EncryptedSuffix is appended to the names of encrypted mirror objects.
const EncryptedSuffix = ".age"

// EncryptedMirror encrypts snapshots before handing them to another mirror.
// Only the public key is needed, so unattended snapshots can be encrypted
// without a passphrase.
type EncryptedMirror struct {
	inner backup.Mirror
	enc   backup.Encryptor
}

// NewEncryptedMirror wraps inner so every object is encrypted with enc.
func NewEncryptedMirror(inner backup.Mirror, enc backup.Encryptor) *EncryptedMirror {
	return &EncryptedMirror{inner: inner, enc: enc}
}

func (m *EncryptedMirror) Name() string {
	return "encrypted+" + m.inner.Name()
}

// Put streams r through the encryptor into the inner mirror as
// name+EncryptedSuffix. The ciphertext size is not known up front.
func (m *EncryptedMirror) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	pr, pw := io.Pipe()

	encErr := make(chan error, 1)
	go func() {
		err := m.enc.Encrypt(r, pw)
		pw.CloseWithError(err)
		encErr <- err
	}()

	putErr := m.inner.Put(ctx, name+EncryptedSuffix, pr, -1)
	// Unblocks the encryptor if the inner mirror stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)

	if err := <-encErr; err != nil && putErr == nil {
		return fmt.Errorf("encrypting %s: %w", name, err)
	}
	if putErr != nil {
		return putErr
	}
	return nil
}

// Close closes the inner mirror if it holds resources.
func (m *EncryptedMirror) Close() error {
	if c, ok := m.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Compile-time check that EncryptedMirror implements backup.Mirror interface
var _ backup.Mirror = (*EncryptedMirror)(nil)
