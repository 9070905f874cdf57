package models

import "time"

// UploadTarget is the signed write location handed out by the backend.
type UploadTarget struct {
	UploadURL string `json:"upload_url"`
	ImagePath string `json:"image_path"`
}

// OrphanedUpload is a stored object whose card record was never created.
type OrphanedUpload struct {
	ID        int64      `json:"id"`
	ImagePath string     `json:"image_path"`
	UserID    string     `json:"user_id"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
