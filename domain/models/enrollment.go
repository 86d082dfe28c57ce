package models

import "time"

// Enrollment binds a guest identity to a clustered person. One per person.
type Enrollment struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	PersonID int64 `gorm:"uniqueIndex;not null"`

	UserName     string `gorm:"not null"`
	Email        string
	Phone        string
	ConsentGiven bool
	SelfiePath   string

	// 1 - cosine distance of the selfie's best face to the matched centroid
	MatchConfidence float64

	CreatedAt time.Time

	// Relations
	Person Person `gorm:"foreignKey:PersonID;constraint:OnDelete:CASCADE"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}
