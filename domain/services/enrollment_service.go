package services

import (
	"context"
	"errors"
	"fmt"
)

// Custom errors for enrollment
var (
	ErrNoFaceInSelfie  = errors.New("no face detected in the selfie")
	ErrNoMatch         = errors.New("no person matched the selfie")
	ErrAlreadyEnrolled = errors.New("person is already enrolled")
)

// NoMatchError carries the best confidence seen when no cluster cleared
// the match threshold, so the caller can tell the guest how close the
// nearest candidate was. Unwraps to ErrNoMatch.
type NoMatchError struct {
	BestConfidence float64
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no person matched the selfie (best confidence %.2f)", e.BestConfidence)
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatch }

// EnrollmentRequest is a guest's self-identification with a selfie.
type EnrollmentRequest struct {
	UserName     string `json:"user_name" validate:"required,min=1,max=100"`
	Email        string `json:"email" validate:"omitempty,email"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	ConsentGiven bool   `json:"consent_given"`
	SelfiePath   string `json:"selfie_path" validate:"required"`
}

// EnrollmentResult describes a successful enrollment.
type EnrollmentResult struct {
	PersonID        int64   `json:"person_id"`
	FolderName      string  `json:"folder_name"`
	SoloFolder      string  `json:"solo_folder"`
	GroupFolder     string  `json:"group_folder"`
	MatchConfidence float64 `json:"match_confidence"`
	PhotoCount      int     `json:"photo_count"`
}

// EnrollmentStatus summarizes enrollment progress for the admin surface.
type EnrollmentStatus struct {
	TotalPersons    int64 `json:"total_persons"`
	EnrolledPersons int64 `json:"enrolled_persons"`
}

// EnrollmentService matches guest selfies to clustered persons and renames
// the person's folders to the guest's name.
type EnrollmentService interface {
	// Enroll runs the full flow: detect the best face in the selfie,
	// match it to the nearest centroid, rename the person and its
	// folders, rewrite queued upload paths, and save the reference
	// selfie. Fails with ErrNoFaceInSelfie, ErrNoMatch, or
	// ErrAlreadyEnrolled.
	Enroll(ctx context.Context, req *EnrollmentRequest) (*EnrollmentResult, error)

	// Status returns enrollment progress counts.
	Status(ctx context.Context) (*EnrollmentStatus, error)
}
