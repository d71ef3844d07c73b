package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// ObjectStoreSink writes artifacts into a JetStream object store bucket.
type ObjectStoreSink struct {
	bucket string
	store  nats.ObjectStore
	mu     sync.Mutex
}

// NewObjectStoreSink binds to bucket, creating it when it does not exist.
func NewObjectStoreSink(js nats.JetStreamContext, bucket string) (*ObjectStoreSink, error) {
	store, err := js.ObjectStore(bucket)
	if errors.Is(err, nats.ErrStreamNotFound) || errors.Is(err, nats.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "feedcast audio artifacts",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bind object store %s: %w", bucket, err)
	}
	return &ObjectStoreSink{bucket: bucket, store: store}, nil
}

// Put stores data under key. The returned reference is objectstore://bucket/key.
func (s *ObjectStoreSink) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := SanitizeKey(key)

	// the existence check and the write must not interleave with another Put
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.store.GetInfo(name); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, key)
	} else if !errors.Is(err, nats.ErrObjectNotFound) {
		return "", fmt.Errorf("stat object: %w", err)
	}
	if _, err := s.store.PutBytes(name, data); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("objectstore://%s/%s", s.bucket, name), nil
}

// Get reads an artifact back.
func (s *ObjectStoreSink) Get(key string) ([]byte, error) {
	return s.store.GetBytes(SanitizeKey(key))
}
