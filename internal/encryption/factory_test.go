package encryption

import (
	"testing"

	"lessonlog/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     string
		paths   bool
		wantErr bool
	}{
		{name: "default is age", typ: "", paths: true},
		{name: "age", typ: "age", paths: true},
		{name: "age without key paths", typ: "age", wantErr: true},
		{name: "test", typ: "test"},
		{name: "unknown", typ: "rot13", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := configWithType(tt.typ, tt.paths)
			got, err := NewEncryptorFromConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewEncryptorFromConfig() returned nil encryptor")
			}
		})
	}
}

func configWithType(typ string, withPaths bool) config.EncryptionConfig {
	cfg := config.EncryptionConfig{Type: typ}
	if withPaths {
		cfg.PublicKeyPath = "/keys/lessonlog.pub"
		cfg.PrivateKeyPath = "/keys/lessonlog.key"
	}
	return cfg
}
