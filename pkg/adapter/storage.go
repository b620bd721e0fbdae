package adapter

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Storage reads snapshot objects from a bucket
type Storage interface {
	// Generation returns the current generation of the object. It changes
	// every time the object is overwritten.
	Generation(ctx context.Context, key string) (int64, error)

	// Get opens the given generation of the object for reading
	Get(ctx context.Context, key string, generation int64) (io.ReadCloser, error)
}

// ErrObjectNotFound is returned when the object does not exist yet
var ErrObjectNotFound = goerr.New("object not found")

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Generation(ctx context.Context, key string) (int64, error) {
	attrs, err := s.client.Bucket(s.bucketName).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return 0, goerr.Wrap(ErrObjectNotFound, "snapshot is not written yet",
			goerr.V("bucket", s.bucketName),
			goerr.V("key", key))
	}
	if err != nil {
		return 0, goerr.Wrap(err, "failed to get object attributes",
			goerr.V("bucket", s.bucketName),
			goerr.V("key", key))
	}
	return attrs.Generation, nil
}

func (s *storageClient) Get(ctx context.Context, key string, generation int64) (io.ReadCloser, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	if generation > 0 {
		obj = obj.Generation(generation)
	}

	reader, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		// overwritten between the attribute read and the download
		return nil, goerr.Wrap(ErrObjectNotFound, "snapshot generation is gone",
			goerr.V("key", key),
			goerr.V("generation", generation))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage",
			goerr.V("bucket", s.bucketName),
			goerr.V("key", key))
	}

	return reader, nil
}
