// Package drive uploads finished reports to a Google Drive folder.
// Optional: with no credentials configured the service runs without it.
package drive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"nsecli/internal/config"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Uploader pushes report files into a named Drive folder, creating the
// folder on first use.
type Uploader struct {
	service    *drive.Service
	folderName string
	logger     *slog.Logger

	mu       sync.Mutex
	folderID string
}

// NewUploader builds an Uploader from configuration using
// service-account credentials. Returns (nil, nil) when no credentials
// are configured, which callers treat as "upload disabled".
func NewUploader(ctx context.Context, cfg config.DriveConfig, logger *slog.Logger) (*Uploader, error) {
	if cfg.CredentialsFile == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	service, err := drive.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(drive.DriveFileScope))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Uploader{
		service:    service,
		folderName: cfg.FolderName,
		logger:     logger,
	}, nil
}

// Upload stores a file in the configured folder and returns its Drive
// file ID.
func (u *Uploader) Upload(ctx context.Context, name string, data []byte, mimeType string) (string, error) {
	folderID, err := u.ensureFolder(ctx)
	if err != nil {
		return "", err
	}

	file := &drive.File{
		Name:    name,
		Parents: []string{folderID},
	}
	created, err := u.service.Files.Create(file).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive upload of %s failed: %w", name, err)
	}

	u.logger.InfoContext(ctx, "report uploaded to drive",
		slog.String("name", name),
		slog.String("file_id", created.Id),
		slog.String("folder", u.folderName))
	return created.Id, nil
}

// ensureFolder finds or creates the target folder and caches its ID.
func (u *Uploader) ensureFolder(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.folderID != "" {
		return u.folderID, nil
	}

	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", u.folderName, folderMimeType)
	list, err := u.service.Files.List().
		Q(query).
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive folder lookup failed: %w", err)
	}

	if len(list.Files) > 0 {
		u.folderID = list.Files[0].Id
		return u.folderID, nil
	}

	folder, err := u.service.Files.Create(&drive.File{
		Name:     u.folderName,
		MimeType: folderMimeType,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive folder creation failed: %w", err)
	}

	u.logger.InfoContext(ctx, "created drive folder",
		slog.String("folder", u.folderName),
		slog.String("folder_id", folder.Id))
	u.folderID = folder.Id
	return u.folderID, nil
}
