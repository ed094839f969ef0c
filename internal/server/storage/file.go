package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/filex"
)

// FileStore keeps artifacts as <dir>/<token>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("export dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

func (s *FileStore) path(token string) (string, error) {
	if !common.IsHexToken(token) {
		return "", common.ErrorNotFound
	}
	return filepath.Join(s.dir, artifactName(token)), nil
}

func (s *FileStore) Put(_ context.Context, token string, data []byte) error {
	p, err := s.path(token)
	if err != nil {
		return fmt.Errorf("invalid artifact token")
	}
	return filex.WriteFileAtomic(p, data, 0o600)
}

func (s *FileStore) Open(_ context.Context, token string) (*Artifact, error) {
	p, err := s.path(token)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Artifact{Body: f, Size: fi.Size(), CreatedAt: fi.ModTime()}, nil
}

func (s *FileStore) Delete(_ context.Context, token string) error {
	p, err := s.path(token)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		token, ok := strings.CutSuffix(e.Name(), artifactExt)
		if !ok || e.IsDir() || !common.IsHexToken(token) {
			continue
		}

		fi, err := e.Info()
		if err != nil {
			continue
		}
		if !fi.ModTime().Before(cutoff) {
			continue
		}

		if err := s.Delete(ctx, token); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
