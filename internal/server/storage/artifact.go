// Package storage keeps export artifacts and releases avatar objects.
//
// An export artifact is a JSON document named by an opaque 64-hex token. It
// is not a database row: its age is the creation time reported by the
// backing store (file mtime or object LastModified).
package storage

import (
	"context"
	"io"
	"time"
)

// Artifact is an opened export artifact. The caller closes Body.
type Artifact struct {
	Body      io.ReadCloser
	Size      int64
	CreatedAt time.Time
}

// ArtifactStore persists export documents by token. Open returns
// common.ErrorNotFound for unknown tokens. Delete of a missing token is a no-op.
type ArtifactStore interface {
	Put(ctx context.Context, token string, data []byte) error
	Open(ctx context.Context, token string) (*Artifact, error)
	Delete(ctx context.Context, token string) error

	// DeleteCreatedBefore removes every artifact created before cutoff and
	// reports how many were removed.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

const artifactExt = ".json"

func artifactName(token string) string { return token + artifactExt }
