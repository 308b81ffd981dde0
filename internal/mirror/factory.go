package mirror

import (
	"context"
	"fmt"

	"lessonlog/internal/backup"
	"lessonlog/internal/config"
)

// NewMirrorFromConfig creates the Mirror described by cfg. An empty type means
// no mirror and returns (nil, nil). enc is only used when cfg.Encrypt is set.
func NewMirrorFromConfig(ctx context.Context, cfg config.MirrorConfig, enc backup.Encryptor) (backup.Mirror, error) {
	var m backup.Mirror
	switch cfg.Type {
	case "":
		return nil, nil
	case "memory":
		m = NewMemoryMirror()
	case "directory":
		if cfg.Path == "" {
			return nil, fmt.Errorf("directory mirror requires path to be set")
		}
		m = NewDirectoryMirror(cfg.Path)
	case "s3":
		s3m, err := NewS3Mirror(ctx, cfg)
		if err != nil {
			return nil, err
		}
		m = s3m
	case "gcs":
		gcsm, err := NewGCSMirror(ctx, cfg)
		if err != nil {
			return nil, err
		}
		m = gcsm
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}

	if !cfg.Encrypt {
		return m, nil
	}
	if enc == nil || !enc.IsConfigured() {
		return nil, fmt.Errorf("mirror encryption requested but no keys are configured (run 'lessonlog encryption setup')")
	}
	return NewEncryptedMirror(m, enc), nil
}
