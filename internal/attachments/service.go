// Package attachments stores the files of log entries. File mentions point at attachments; the
// service answers whether a mentioned file still exists.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"logbook/api/internal/mentions"
	"logbook/api/internal/store"
	"logbook/api/internal/util"
)

var ErrInvalidAttachment = errors.New("invalid attachment")

// Objects holds attachment content.
type Objects interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// Records holds attachment metadata.
type Records interface {
	InsertAttachment(ctx context.Context, item store.Attachment) (store.Attachment, error)
	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)
	ListAttachments(ctx context.Context, entryID string) ([]store.Attachment, error)
}

type Upload struct {
	EntryID     string
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Service struct {
	records Records
	objects Objects
}

func NewService(records Records, objects Objects) *Service {
	return &Service{records: records, objects: objects}
}

// Upload stores the content first and records it second, so a recorded attachment always had its
// content written.
func (s *Service) Upload(ctx context.Context, up Upload) (store.Attachment, error) {
	name := cleanName(up.Name)
	if up.EntryID == "" || name == "" || up.Body == nil {
		return store.Attachment{}, fmt.Errorf("%w: entry and file name are required", ErrInvalidAttachment)
	}
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	item := store.Attachment{
		ID:          util.NewID("file"),
		EntryID:     up.EntryID,
		Name:        name,
		ContentType: contentType,
		SizeBytes:   up.Size,
	}
	item.ObjectKey = objectKey(item.EntryID, item.ID, name)

	if err := s.objects.Put(ctx, item.ObjectKey, up.Body, up.Size, contentType); err != nil {
		return store.Attachment{}, err
	}
	saved, err := s.records.InsertAttachment(ctx, item)
	if err != nil {
		return store.Attachment{}, err
	}
	return saved, nil
}

func (s *Service) List(ctx context.Context, entryID string) ([]store.Attachment, error) {
	return s.records.ListAttachments(ctx, entryID)
}

// Open returns an attachment with a reader over its content. The caller closes the reader.
func (s *Service) Open(ctx context.Context, attachmentID string) (store.Attachment, io.ReadCloser, error) {
	item, err := s.records.GetAttachment(ctx, attachmentID)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	body, err := s.objects.Get(ctx, item.ObjectKey)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	return item, body, nil
}

// CheckFile implements mentions.FileChecker. An unknown attachment has no owning entry; a known
// one is present when its content is still stored.
func (s *Service) CheckFile(ctx context.Context, fileID string) (mentions.FileState, error) {
	item, err := s.records.GetAttachment(ctx, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return mentions.FileState{}, nil
	}
	if err != nil {
		return mentions.FileState{}, err
	}
	present, err := s.objects.Exists(ctx, item.ObjectKey)
	if err != nil {
		return mentions.FileState{}, err
	}
	return mentions.FileState{EntryID: item.EntryID, Present: present}, nil
}

func objectKey(entryID, attachmentID, name string) string {
	return path.Join(entryID, attachmentID, name)
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(path.Clean("/" + name))
	if name == "/" || name == "." {
		return ""
	}
	return strings.TrimSpace(name)
}
