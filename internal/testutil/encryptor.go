package testutil

import (
	"lessonlog/internal/backup"
	"lessonlog/internal/encryption"
	"lessonlog/internal/mirror"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() backup.Encryptor {
	return encryption.NewTestEncryptor()
}

// NewTestMirror creates a new in-memory mirror for testing.
func NewTestMirror() *mirror.MemoryMirror {
	return mirror.NewMemoryMirror()
}
