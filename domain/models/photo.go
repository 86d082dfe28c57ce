package models

import "time"

type PhotoStatus string

const (
	PhotoStatusPending    PhotoStatus = "pending"
	PhotoStatusProcessing PhotoStatus = "processing"
	PhotoStatusCompleted  PhotoStatus = "completed"
	PhotoStatusError      PhotoStatus = "error"
	PhotoStatusNoFaces    PhotoStatus = "no_faces"
)

type Photo struct {
	ID int64 `gorm:"primaryKey;autoIncrement"`

	// Absolute path of the file as dropped into Incoming
	OriginalPath string `gorm:"not null"`

	// SHA-256 of the original bytes, dedup key
	FileHash string `gorm:"uniqueIndex;not null"`

	Status PhotoStatus `gorm:"default:'pending';index;check:status IN ('pending','processing','completed','error','no_faces')"`

	// Outputs of the processing pipeline
	ProcessedPath string // Normalized JPEG under Processed/
	ThumbnailPath string // Square thumbnail sibling
	ErrorMessage  string
	FaceCount     int `gorm:"default:0"`

	CreatedAt   time.Time
	ProcessedAt *time.Time

	// Relations
	Faces []Face `gorm:"foreignKey:PhotoID;constraint:OnDelete:CASCADE"`
}

func (Photo) TableName() string {
	return "photos"
}
