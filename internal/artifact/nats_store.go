package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsStore implements the core.ArtifactStore interface using a NATS
// JetStream object store bucket. Locations are object names.
type NatsStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
}

// NewNatsStore creates or binds to the named object store bucket.
func NewNatsStore(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsStore, error) {
	// Use a "create-first" approach.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Narration audio artifacts for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
			}
		} else {
			// For any other error, fail.
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            store,
	}, nil
}

// Put saves an artifact to the object store under key and returns the key
// as its location.
func (n *NatsStore) Put(_ context.Context, key string, data []byte) (string, error) {
	reader := bytes.NewReader(data)

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, reader)
	if err != nil {
		return "", fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return key, nil
}

// Get retrieves an artifact from the object store.
func (n *NatsStore) Get(_ context.Context, location string) ([]byte, error) {
	obj, err := n.store.Get(location)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", location, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", location, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", location, closeErr)
	}

	return data, nil
}

// Delete removes an artifact from the object store. A missing object is
// treated as already deleted.
func (n *NatsStore) Delete(_ context.Context, location string) error {
	err := n.store.Delete(location)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil
		}

		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", location, n.bucket, err)
	}

	return nil
}
