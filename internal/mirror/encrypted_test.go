package mirror

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"lessonlog/internal/encryption"
)

func TestEncryptedMirror_Put(t *testing.T) {
	inner := NewMemoryMirror()
	enc := encryption.NewTestEncryptor()
	m := NewEncryptedMirror(inner, enc)

	plaintext := []byte("SQLite format 3\x00 lesson rows")
	if err := m.Put(context.Background(), "snap.db", bytes.NewReader(plaintext), int64(len(plaintext))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, ok := inner.Get("snap.db"); ok {
		t.Error("plaintext object stored in inner mirror")
	}
	ciphertext, ok := inner.Get("snap.db" + EncryptedSuffix)
	if !ok {
		t.Fatalf("encrypted object not found, names = %v", inner.Names())
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("stored object equals plaintext")
	}

	dc, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var decrypted bytes.Buffer
	if err := dc.Decrypt(bytes.NewReader(ciphertext), &decrypted); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted.Bytes(), plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted.Bytes(), plaintext)
	}
}

func TestEncryptedMirror_InnerFailure(t *testing.T) {
	inner := NewMemoryMirror()
	unreachable := errors.New("target unreachable")
	inner.FailWith(unreachable)

	m := NewEncryptedMirror(inner, encryption.NewTestEncryptor())

	// A large input would block the encryptor forever if the pipe were not closed.
	data := strings.Repeat("x", 1<<20)
	err := m.Put(context.Background(), "snap.db", strings.NewReader(data), int64(len(data)))
	if !errors.Is(err, unreachable) {
		t.Fatalf("Put() error = %v, want %v", err, unreachable)
	}
}

func TestEncryptedMirror_Name(t *testing.T) {
	m := NewEncryptedMirror(NewDirectoryMirror("/mnt/usb"), encryption.NewTestEncryptor())
	if got, want := m.Name(), "encrypted+directory:/mnt/usb"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
}
