package serviceimpl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"faceflow/domain/models"
	"faceflow/domain/services"
	"faceflow/infrastructure/imaging"
	"faceflow/infrastructure/store"
	"faceflow/pkg/config"
	"faceflow/pkg/logger"
	"faceflow/pkg/vecmath"
)

const (
	referenceSelfieName = "00_REFERENCE_SELFIE.jpg"
	selfieMaxEdge       = 800
	folderNameMaxLen    = 50
)

var folderUnsafe = regexp.MustCompile(`[^\w \-]`)

type EnrollmentServiceImpl struct {
	store     *store.Store
	analyzer  services.FaceAnalyzer
	remote    services.RemoteStore
	processor *imaging.Processor
	cfg       *config.Config
	threshold float64
	validate  *validator.Validate
}

func NewEnrollmentService(
	st *store.Store,
	analyzer services.FaceAnalyzer,
	remote services.RemoteStore,
	processor *imaging.Processor,
	cfg *config.Config,
) services.EnrollmentService {
	return &EnrollmentServiceImpl{
		store:     st,
		analyzer:  analyzer,
		remote:    remote,
		processor: processor,
		cfg:       cfg,
		threshold: cfg.Processing.ClusterThreshold,
		validate:  validator.New(),
	}
}

// Enroll matches a guest selfie to the nearest clustered person and claims
// that cluster: the person and its folders take the guest's name, queued
// uploads are rewritten to the new paths, and the selfie is kept in the
// folder as a reference.
func (s *EnrollmentServiceImpl) Enroll(ctx context.Context, req *services.EnrollmentRequest) (*services.EnrollmentResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid enrollment request: %w", err)
	}

	// Best face wins: largest box, confidence as the tie-breaker.
	faces, err := s.analyzer.DetectAndEmbed(ctx, req.SelfiePath)
	if err != nil {
		return nil, fmt.Errorf("selfie analysis failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, services.ErrNoFaceInSelfie
	}
	best := faces[0]
	bestArea := best.BboxWidth * best.BboxHeight
	for _, f := range faces[1:] {
		area := f.BboxWidth * f.BboxHeight
		if area > bestArea || (area == bestArea && f.Confidence > best.Confidence) {
			best = f
			bestArea = area
		}
	}

	embedding := vecmath.Normalize(best.Embedding)

	persons, err := s.store.AllPersons(ctx)
	if err != nil {
		return nil, err
	}
	var match *models.Person
	matchDistance := 2.0
	for i := range persons {
		centroid, err := store.UnmarshalEmbedding(persons[i].Centroid)
		if err != nil {
			return nil, err
		}
		d := vecmath.CosineDistance(embedding, centroid)
		if d < matchDistance {
			matchDistance = d
			match = &persons[i]
		}
	}
	// A distance at the threshold is already too far.
	if match == nil || matchDistance >= s.threshold {
		confidence := 0.0
		if match != nil {
			confidence = 1 - matchDistance
		}
		return nil, &services.NoMatchError{BestConfidence: confidence}
	}

	enrolled, err := s.store.IsEnrolled(ctx, match.ID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, services.ErrAlreadyEnrolled
	}

	oldName := match.Name
	newName, err := s.uniqueFolderName(ctx, req.UserName, match.ID)
	if err != nil {
		return nil, err
	}

	// Local folder first: if the disk rename fails nothing else moved.
	oldDir := filepath.Join(s.cfg.PeopleDir(), oldName)
	newDir := filepath.Join(s.cfg.PeopleDir(), newName)
	if _, err := os.Stat(oldDir); err == nil {
		if err := os.Rename(oldDir, newDir); err != nil {
			return nil, fmt.Errorf("failed to rename person folder: %w", err)
		}
	} else if err := os.MkdirAll(newDir, 0o755); err != nil {
		return nil, err
	}

	if err := s.store.RenamePerson(ctx, match.ID, newName); err != nil {
		// Roll the disk back so names stay consistent.
		_ = os.Rename(newDir, oldDir)
		return nil, err
	}

	matchConfidence := 1 - matchDistance
	if err := s.store.CreateEnrollment(ctx, &models.Enrollment{
		PersonID:        match.ID,
		UserName:        req.UserName,
		Email:           req.Email,
		Phone:           req.Phone,
		ConsentGiven:    req.ConsentGiven,
		SelfiePath:      filepath.Join(newDir, referenceSelfieName),
		MatchConfidence: matchConfidence,
	}); err != nil {
		return nil, err
	}

	// Queued uploads still point at the old folder name.
	rewritten, err := s.store.RewriteUploadPaths(ctx, oldName, newName)
	if err != nil {
		logger.EnrollError("rewrite_uploads", "Failed to rewrite queued upload paths", err, map[string]interface{}{
			"old": oldName,
			"new": newName,
		})
	}

	// Remote rename is best effort; uploads ensure their parents anyway.
	if s.remote.Enabled() && !s.cfg.App.DryRun {
		go func() {
			renamed, err := s.remote.RenameFolder(context.Background(), "People", oldName, newName)
			if err != nil {
				logger.EnrollError("remote_rename", "Remote folder rename failed", err, map[string]interface{}{
					"old": oldName,
					"new": newName,
				})
				return
			}
			if !renamed {
				logger.Enroll("remote_rename", "Remote folder not present yet, skipping rename", map[string]interface{}{
					"old": oldName,
				})
			}
		}()
	}

	if err := s.processor.ProcessSelfie(req.SelfiePath, filepath.Join(newDir, referenceSelfieName), selfieMaxEdge); err != nil {
		logger.EnrollError("reference_selfie", "Failed to save reference selfie", err, map[string]interface{}{
			"person_id": match.ID,
		})
	}

	photoCount, err := s.store.CountFacesOfPerson(ctx, match.ID)
	if err != nil {
		return nil, err
	}

	logger.Enroll("enrolled", "Guest enrolled", map[string]interface{}{
		"person_id":         match.ID,
		"user_name":         req.UserName,
		"folder":            newName,
		"match_confidence":  matchConfidence,
		"uploads_rewritten": rewritten,
	})

	return &services.EnrollmentResult{
		PersonID:        match.ID,
		FolderName:      newName,
		SoloFolder:      filepath.Join(newDir, "Solo"),
		GroupFolder:     filepath.Join(newDir, "Group"),
		MatchConfidence: matchConfidence,
		PhotoCount:      int(photoCount),
	}, nil
}

func (s *EnrollmentServiceImpl) Status(ctx context.Context) (*services.EnrollmentStatus, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return &services.EnrollmentStatus{
		TotalPersons:    stats.TotalPersons,
		EnrolledPersons: stats.Enrollments,
	}, nil
}

// uniqueFolderName sanitizes the guest name for the filesystem and
// disambiguates with the person ID when another person already holds it.
func (s *EnrollmentServiceImpl) uniqueFolderName(ctx context.Context, userName string, personID int64) (string, error) {
	base := sanitizeFolderName(userName)

	existing, err := s.store.GetPersonByName(ctx, base)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return base, nil
		}
		return "", err
	}
	if existing.ID == personID {
		return base, nil
	}
	return fmt.Sprintf("%s_%d", base, personID), nil
}

// sanitizeFolderName strips characters that are unsafe in folder names,
// collapses spaces to underscores, and caps the length.
func sanitizeFolderName(name string) string {
	cleaned := folderUnsafe.ReplaceAllString(name, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), "_")
	if len(cleaned) > folderNameMaxLen {
		cleaned = cleaned[:folderNameMaxLen]
	}
	if cleaned == "" {
		return "Unknown"
	}
	return cleaned
}
