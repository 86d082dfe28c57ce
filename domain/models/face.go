package models

import "time"

type Face struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	PhotoID int64 `gorm:"not null;index"`

	// L2-normalized embedding, little-endian float32 blob (512 dims for InsightFace)
	Embedding []byte `gorm:"type:blob;not null"`

	// Bounding box in normalized-image pixel coordinates
	BboxX      int `gorm:"not null"`
	BboxY      int `gorm:"not null"`
	BboxWidth  int `gorm:"not null"`
	BboxHeight int `gorm:"not null"`

	// Detection confidence (0-1)
	Confidence float64 `gorm:"not null"`

	// Cluster assignment, set by the clusterer
	PersonID *int64 `gorm:"index"`

	CreatedAt time.Time

	// Relations
	Photo  Photo   `gorm:"foreignKey:PhotoID;constraint:OnDelete:CASCADE"`
	Person *Person `gorm:"foreignKey:PersonID"`
}

func (Face) TableName() string {
	return "faces"
}
