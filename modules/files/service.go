package files

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	domain "github.com/example/chat-backend/domain/file"
)

// ErrNotFound is returned when no attachment matches the requested ID.
var ErrNotFound = errors.New("file not found")

// Service provides attachment upload and download.
type Service struct {
	store ObjectStore
}

// NewService creates a new file service.
func NewService(store ObjectStore) *Service {
	return &Service{store: store}
}

// Upload stores an attachment and returns its metadata. The returned ID is
// what download callers present; the original filename is preserved inside
// the storage name.
func (s *Service) Upload(ctx context.Context, name string, data []byte, contentType string) (*domain.Meta, error) {
	if name == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file data is empty")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	fileID := uuid.New().String()
	storageName := fmt.Sprintf("%s/%s", fileID, name)

	info, err := s.store.Put(ctx, storageName, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	return &domain.Meta{
		ID:          fileID,
		Name:        name,
		Size:        int64(info.Size),
		ContentType: contentType,
		CreatedAt:   info.ModTime,
	}, nil
}

// Get retrieves an attachment by ID.
func (s *Service) Get(ctx context.Context, id string) ([]byte, *domain.Meta, error) {
	if id == "" {
		return nil, nil, fmt.Errorf("file ID is required")
	}

	storageName, originalName, err := s.findByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	data, info, err := s.store.Get(ctx, storageName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get file: %w", err)
	}

	return data, &domain.Meta{
		ID:          id,
		Name:        originalName,
		Size:        int64(info.Size),
		ContentType: info.ContentType,
		CreatedAt:   info.ModTime,
	}, nil
}

// Delete removes an attachment by ID.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("file ID is required")
	}

	storageName, _, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, storageName); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// findByID scans the bucket for the object whose storage name carries the
// given ID prefix. Storage names have the form "uuid/filename".
func (s *Service) findByID(ctx context.Context, id string) (storageName, originalName string, err error) {
	objects, err := s.store.List(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to list objects: %w", err)
	}

	prefix := id + "/"
	for _, obj := range objects {
		if strings.HasPrefix(obj.Name, prefix) {
			return obj.Name, obj.Name[len(prefix):], nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, id)
}
