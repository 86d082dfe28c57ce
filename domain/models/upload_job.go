package models

import "time"

type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusCompleted UploadStatus = "completed"
	UploadStatusFailed    UploadStatus = "failed"
)

// UploadJob is one routed file waiting to be mirrored to the remote store.
type UploadJob struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	PhotoID int64 `gorm:"not null;index"`

	// Absolute path of the routed local file
	LocalPath string `gorm:"not null"`

	// Destination path relative to the remote root, e.g. "People/Alice/Solo/000042.jpg"
	RemotePath string `gorm:"not null;index"`

	Status       UploadStatus `gorm:"default:'pending';index;check:status IN ('pending','uploading','completed','failed')"`
	RetryCount   int          `gorm:"default:0"`
	ErrorMessage string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	UploadedAt *time.Time

	// Relations
	Photo Photo `gorm:"foreignKey:PhotoID;constraint:OnDelete:CASCADE"`
}

func (UploadJob) TableName() string {
	return "upload_queue"
}
