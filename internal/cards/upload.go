package cards

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/avvvet/tcg-companion/internal/models"
	log "github.com/sirupsen/logrus"
)

// File is one photograph to add to the collection.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// OrphanRecorder remembers stored objects that never got a card record.
type OrphanRecorder interface {
	RecordOrphan(ctx context.Context, o models.OrphanedUpload) error
}

// ValidateImage accepts only non-empty image/* files.
func ValidateImage(f File) error {
	if !strings.HasPrefix(strings.ToLower(f.ContentType), "image/") {
		return fmt.Errorf("%w: %q", ErrNotImage, f.ContentType)
	}
	if f.Body == nil || f.Size == 0 {
		return ErrEmptyFile
	}
	return nil
}

type Uploader struct {
	client  *Client
	orphans OrphanRecorder
}

// NewUploader runs the handshake against client. orphans may be nil.
func NewUploader(client *Client, orphans OrphanRecorder) *Uploader {
	return &Uploader{client: client, orphans: orphans}
}

// Upload adds f to the collection of userID in three steps: obtain a signed
// upload target, write the bytes to it, register the card. Each step aborts
// the rest on failure. The returned card is nil when the backend delivers the
// new record through sync only.
func (u *Uploader) Upload(ctx context.Context, f File, userID string) (*models.Card, error) {
	if err := ValidateImage(f); err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{"file": f.Name, "user": userID})

	target, err := u.client.RequestUploadURL(ctx, f.Name, f.ContentType)
	if err != nil {
		logger.WithField("step", "upload-url").Errorf("upload aborted: %s", err)
		return nil, err
	}
	logger = logger.WithField("image_path", target.ImagePath)

	if err := u.client.PutObject(ctx, target.UploadURL, f.Body, f.Size, f.ContentType); err != nil {
		logger.WithField("step", "put-object").Errorf("upload aborted: %s", err)
		return nil, err
	}

	card, err := u.client.CreateCard(ctx, target.ImagePath)
	if err != nil {
		logger.WithField("step", "create-card").Errorf("upload aborted: %s", err)
		u.recordOrphan(ctx, target.ImagePath, userID, err)
		return nil, err
	}

	logger.Info("card uploaded")
	return card, nil
}

func (u *Uploader) recordOrphan(ctx context.Context, imagePath, userID string, cause error) {
	if u.orphans == nil {
		return
	}
	// recorded even when ctx is already cancelled
	err := u.orphans.RecordOrphan(context.WithoutCancel(ctx), models.OrphanedUpload{
		ImagePath: imagePath,
		UserID:    userID,
		Reason:    cause.Error(),
	})
	if err != nil {
		log.Errorf("unable to record orphaned upload %s: %s", imagePath, err)
	}
}
