package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bikaxh01/toothsi-bot/internal/client"
	"github.com/bikaxh01/toothsi-bot/internal/model"
	"github.com/bikaxh01/toothsi-bot/internal/viewstate"
)

// MaxUploadSize is the largest spreadsheet accepted.
const MaxUploadSize = 50 << 20

var (
	ErrInvalidFile    = errors.New("invalid file")
	ErrMissingBatchID = errors.New("remote service returned no batch id")
)

var spreadsheetTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
}

// UploadService registers new batches from uploaded spreadsheets
type UploadService struct {
	remote  client.RemoteBatchService
	storage client.StorageClient
	store   *viewstate.Store
	batches *BatchService
	log     logrus.FieldLogger
}

// NewUploadService creates an upload service. storage may be nil, in which
// case uploads are not archived.
func NewUploadService(remote client.RemoteBatchService, storage client.StorageClient, store *viewstate.Store, batches *BatchService, log logrus.FieldLogger) *UploadService {
	return &UploadService{
		remote:  remote,
		storage: storage,
		store:   store,
		batches: batches,
		log:     log,
	}
}

// ValidateFile checks name and size before anything is sent.
func ValidateFile(fileName string, size int64) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if _, ok := spreadsheetTypes[ext]; !ok {
		return fmt.Errorf("%w: only Excel files (.xlsx, .xls) are allowed", ErrInvalidFile)
	}
	if size == 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidFile)
	}
	if size > MaxUploadSize {
		return fmt.Errorf("%w: file exceeds %d MB", ErrInvalidFile, MaxUploadSize>>20)
	}
	return nil
}

// Upload forwards a spreadsheet to the remote service and starts polling
// the batch it creates. size may be -1 when unknown.
func (s *UploadService) Upload(ctx context.Context, fileName string, body io.Reader, size int64) (*model.UploadResult, error) {
	if size >= 0 {
		if err := ValidateFile(fileName, size); err != nil {
			return nil, err
		}
	}

	data, err := io.ReadAll(io.LimitReader(body, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := ValidateFile(fileName, int64(len(data))); err != nil {
		return nil, err
	}

	log := s.log.WithField("file_name", fileName)
	s.store.SetUpload(model.UploadUploading, fileName, "")

	archiveKey, archiveURL := s.archive(ctx, fileName, data)

	resp, err := s.remote.Upload(ctx, fileName, bytes.NewReader(data))
	if err == nil && resp.ResolveBatchID() == "" {
		err = ErrMissingBatchID
	}
	if err != nil {
		log.WithError(err).Warn("Upload failed")
		s.store.SetUpload(model.UploadError, fileName, err.Error())
		s.batches.Stop()
		s.discardArchive(archiveKey)
		return nil, fmt.Errorf("failed to upload %s: %w", fileName, err)
	}

	batchID := resp.ResolveBatchID()
	s.store.SetUpload(model.UploadSuccess, fileName, resp.Message)
	if _, err := s.batches.Select(batchID); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"batch_id": batchID, "calls": len(resp.Calls)}).Info("Batch registered")

	total := resp.TotalUsers
	if total == 0 {
		total = len(resp.Calls)
	}
	return &model.UploadResult{
		BatchID:    batchID,
		FileName:   fileName,
		TotalCalls: total,
		ArchiveURL: archiveURL,
		UploadedAt: time.Now(),
	}, nil
}

// archive stores the raw spreadsheet. Failures are logged only.
func (s *UploadService) archive(ctx context.Context, fileName string, data []byte) (string, string) {
	if s.storage == nil {
		return "", ""
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	key := fmt.Sprintf("uploads/%s%s", uuid.New().String(), ext)

	url, err := s.storage.Upload(ctx, key, bytes.NewReader(data), spreadsheetTypes[ext])
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Failed to archive upload")
		return "", ""
	}
	return key, url
}

func (s *UploadService) discardArchive(key string) {
	if key == "" {
		return
	}
	if err := s.storage.Delete(context.Background(), key); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Failed to delete archived upload")
	}
}
