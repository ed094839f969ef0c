package storage

import (
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AvatarStore releases the avatar object a user owns.
type AvatarStore interface {
	// Release deletes the object behind ref, an avatar URL or object key.
	// An empty ref or an already missing object is not an error.
	Release(ctx context.Context, ref string) error
}

// S3AvatarStore deletes avatars from a bucket.
type S3AvatarStore struct {
	store *S3ArtifactStore
}

func NewS3AvatarStore(client *s3.Client, bucket string) *S3AvatarStore {
	return newS3AvatarStore(client, bucket)
}

func newS3AvatarStore(client s3API, bucket string) *S3AvatarStore {
	return &S3AvatarStore{store: newS3ArtifactStore(client, bucket, "")}
}

func (s *S3AvatarStore) Release(ctx context.Context, ref string) error {
	key := avatarKey(ref, s.store.bucket)
	if key == "" {
		return nil
	}
	return s.store.deleteKey(ctx, key)
}

// avatarKey extracts the object key from a path-style URL
// (http://host/<bucket>/<key>) or returns ref as a key.
func avatarKey(ref, bucket string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		ref = u.Path
	}
	ref = strings.TrimPrefix(ref, "/")
	if bucket != "" {
		ref = strings.TrimPrefix(ref, bucket+"/")
	}
	return ref
}

// NoopAvatarStore is used when no avatar bucket is configured.
type NoopAvatarStore struct{}

func (NoopAvatarStore) Release(context.Context, string) error { return nil }
