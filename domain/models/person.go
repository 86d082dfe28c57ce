package models

import "time"

type Person struct {
	ID int64 `gorm:"primaryKey;autoIncrement"`

	// Person_NNN until enrollment renames it
	Name string `gorm:"uniqueIndex;not null"`

	// Running weighted mean of member embeddings, unit length,
	// little-endian float32 blob
	Centroid []byte `gorm:"type:blob;not null"`

	// Number of faces folded into the centroid
	FaceCount int `gorm:"default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relations
	Faces []Face `gorm:"foreignKey:PersonID"`
}

func (Person) TableName() string {
	return "persons"
}
