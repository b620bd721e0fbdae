package adapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
)

// FrameSource yields the latest encoded camera frame. Capturing is done by
// an external process that keeps overwriting a snapshot.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// ErrNoFrame is returned when the snapshot has not changed since the last call
var ErrNoFrame = goerr.New("no new frame")

// frameDedup drops a frame identical to the previous one
type frameDedup struct {
	last []byte
}

func (d *frameDedup) check(data []byte) ([]byte, error) {
	if len(data) == 0 || bytes.Equal(data, d.last) {
		return nil, ErrNoFrame
	}
	d.last = data
	return data, nil
}

// FileFrameSource reads a snapshot file from the local filesystem
type FileFrameSource struct {
	frameDedup
	path string
}

var _ FrameSource = (*FileFrameSource)(nil)

func NewFileFrameSource(path string) *FileFrameSource {
	return &FileFrameSource{path: path}
}

func (s *FileFrameSource) Next(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read frame", goerr.V("path", s.path))
	}
	return s.check(data)
}

// StorageFrameSource reads a snapshot object from a bucket. The object is
// downloaded only when its generation has changed.
type StorageFrameSource struct {
	frameDedup
	storage    Storage
	key        string
	generation int64
}

var _ FrameSource = (*StorageFrameSource)(nil)

func NewStorageFrameSource(storage Storage, key string) *StorageFrameSource {
	return &StorageFrameSource{storage: storage, key: key}
}

func (s *StorageFrameSource) Next(ctx context.Context) ([]byte, error) {
	gen, err := s.storage.Generation(ctx, s.key)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, ErrNoFrame
	}
	if err != nil {
		return nil, err
	}
	if gen == s.generation {
		return nil, ErrNoFrame
	}

	r, err := s.storage.Get(ctx, s.key, gen)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, ErrNoFrame
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read frame object", goerr.V("key", s.key))
	}
	s.generation = gen
	return s.check(data)
}
