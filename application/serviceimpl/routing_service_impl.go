package serviceimpl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"faceflow/domain/models"
	"faceflow/domain/services"
	"faceflow/infrastructure/store"
	"faceflow/pkg/config"
	"faceflow/pkg/logger"
)

type RoutingServiceImpl struct {
	store        *store.Store
	remote       services.RemoteStore
	cfg          *config.Config
	useHardlinks bool
	dryRun       bool

	// Tracks which person folders already got an async remote ensure,
	// so each one is spawned at most once per process.
	ensuredMu sync.Mutex
	ensured   map[string]bool
}

func NewRoutingService(st *store.Store, remote services.RemoteStore, cfg *config.Config) services.RoutingService {
	return &RoutingServiceImpl{
		store:        st,
		remote:       remote,
		cfg:          cfg,
		useHardlinks: cfg.Processing.UseHardlinks,
		dryRun:       cfg.App.DryRun,
		ensured:      make(map[string]bool),
	}
}

// RoutePhoto fans a processed photo out to its persons' folders. One
// assigned person lands in Solo, two or more in each person's Group
// folder, none in Admin/NoFaces. The call succeeds when at least one
// destination was written; per-destination failures are logged.
func (s *RoutingServiceImpl) RoutePhoto(ctx context.Context, photo *models.Photo) ([]services.RoutedFile, error) {
	personIDs, err := s.store.DistinctPersonsOfPhoto(ctx, photo.ID)
	if err != nil {
		return nil, err
	}

	fileName := fmt.Sprintf("%06d.jpg", photo.ID)
	thumbName := fmt.Sprintf("%06d_thumb.jpg", photo.ID)

	if len(personIDs) == 0 {
		// No one to link against, so the processed file moves out of
		// Processed entirely instead of fanning out.
		dest := filepath.Join(s.cfg.NoFacesDir(), fileName)
		if s.dryRun {
			logger.Router("dry_run", "Would move file", map[string]interface{}{
				"src":  photo.ProcessedPath,
				"dest": dest,
			})
		} else if err := moveFile(photo.ProcessedPath, dest); err != nil {
			return nil, err
		}
		routed := []services.RoutedFile{{
			LocalPath:  dest,
			RemotePath: path.Join("Admin", "NoFaces", fileName),
		}}
		logger.Router("no_faces", "Photo routed to NoFaces", map[string]interface{}{
			"photo_id": photo.ID,
		})
		return routed, nil
	}

	subFolder := "Solo"
	if len(personIDs) > 1 {
		subFolder = "Group"
	}

	var routed []services.RoutedFile
	var lastErr error
	for _, personID := range personIDs {
		person, err := s.store.GetPerson(ctx, personID)
		if err != nil {
			lastErr = err
			logger.RouterError("person_lookup", "Failed to load person for routing", err, map[string]interface{}{
				"photo_id":  photo.ID,
				"person_id": personID,
			})
			continue
		}

		localDir := filepath.Join(s.cfg.PeopleDir(), person.Name, subFolder)
		dest := filepath.Join(localDir, fileName)
		if err := s.place(photo.ProcessedPath, dest); err != nil {
			lastErr = err
			logger.RouterError("place", "Failed to place photo", err, map[string]interface{}{
				"photo_id": photo.ID,
				"dest":     dest,
			})
			continue
		}
		routed = append(routed, services.RoutedFile{
			LocalPath:  dest,
			RemotePath: path.Join("People", person.Name, subFolder, fileName),
		})

		// Thumbnail rides along; failures here never fail the photo.
		if photo.ThumbnailPath != "" {
			thumbDest := filepath.Join(localDir, thumbName)
			if err := s.place(photo.ThumbnailPath, thumbDest); err == nil {
				routed = append(routed, services.RoutedFile{
					LocalPath:  thumbDest,
					RemotePath: path.Join("People", person.Name, subFolder, thumbName),
				})
			}
		}

		s.ensureRemoteFolders(person.Name)
	}

	if len(routed) == 0 {
		return nil, fmt.Errorf("all destinations failed for photo %d: %w", photo.ID, lastErr)
	}

	logger.Router("routed", "Photo routed", map[string]interface{}{
		"photo_id":     photo.ID,
		"persons":      len(personIDs),
		"destinations": len(routed),
		"folder":       subFolder,
	})
	return routed, nil
}

// ensureRemoteFolders creates the person's Solo and Group folders remotely
// on a background goroutine, once per person per process. Failures are
// harmless; uploads re-ensure their parents anyway.
func (s *RoutingServiceImpl) ensureRemoteFolders(personName string) {
	if s.dryRun || !s.remote.Enabled() {
		return
	}

	s.ensuredMu.Lock()
	if s.ensured[personName] {
		s.ensuredMu.Unlock()
		return
	}
	s.ensured[personName] = true
	s.ensuredMu.Unlock()

	go func() {
		ctx := context.Background()
		for _, sub := range []string{"Solo", "Group"} {
			if _, err := s.remote.EnsureFolderPath(ctx, "People", personName, sub); err != nil {
				logger.RouterError("remote_ensure", "Failed to pre-create remote folder", err, map[string]interface{}{
					"person": personName,
					"sub":    sub,
				})
			}
		}
	}()
}

// place hardlinks src to dest, falling back to a copy when the link fails
// (cross-device, unsupported FS). An existing dest means the photo was
// already routed there and counts as success.
func (s *RoutingServiceImpl) place(src, dest string) error {
	if s.dryRun {
		logger.Router("dry_run", "Would place file", map[string]interface{}{
			"src":  src,
			"dest": dest,
		})
		return nil
	}

	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	if s.useHardlinks {
		if err := os.Link(src, dest); err == nil {
			return nil
		}
	}
	return copyFile(src, dest)
}

// RouteToErrors moves a failed original into Admin/Errors, suffixing the
// name when a file with the same name is already there.
func (s *RoutingServiceImpl) RouteToErrors(ctx context.Context, originalPath string) (string, error) {
	if s.dryRun {
		logger.Router("dry_run", "Would move to Errors", map[string]interface{}{"src": originalPath})
		return "", nil
	}

	errorsDir := s.cfg.ErrorsDir()
	if err := os.MkdirAll(errorsDir, 0o755); err != nil {
		return "", err
	}

	base := filepath.Base(originalPath)
	dest := filepath.Join(errorsDir, base)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = filepath.Join(errorsDir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}

	if err := os.Rename(originalPath, dest); err != nil {
		// Cross-device moves need copy plus remove.
		if err := copyFile(originalPath, dest); err != nil {
			return "", err
		}
		if err := os.Remove(originalPath); err != nil {
			logger.RouterError("cleanup", "Failed to remove original after copy", err, map[string]interface{}{
				"src": originalPath,
			})
		}
	}

	logger.Router("errors", "Original moved to Errors", map[string]interface{}{
		"src":  originalPath,
		"dest": dest,
	})
	return dest, nil
}

// Summary counts solo and group files per person from the local tree.
func (s *RoutingServiceImpl) Summary(ctx context.Context) ([]services.PersonRouting, error) {
	persons, err := s.store.AllPersons(ctx)
	if err != nil {
		return nil, err
	}

	summary := make([]services.PersonRouting, 0, len(persons))
	for _, p := range persons {
		enrolled, err := s.store.IsEnrolled(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		summary = append(summary, services.PersonRouting{
			PersonID:   p.ID,
			Name:       p.Name,
			Enrolled:   enrolled,
			SoloCount:  countJPEGs(filepath.Join(s.cfg.PeopleDir(), p.Name, "Solo")),
			GroupCount: countJPEGs(filepath.Join(s.cfg.PeopleDir(), p.Name, "Group")),
		})
	}
	return summary, nil
}

func countJPEGs(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && filepath.Ext(name) == ".jpg" && !isThumb(name) {
			n++
		}
	}
	return n
}

func isThumb(name string) bool {
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	return len(stem) > 6 && stem[len(stem)-6:] == "_thumb"
}

// moveFile renames src to dest, copying plus removing when the rename
// crosses devices. A dest already in place with no src left counts as
// already moved.
func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if _, err := os.Stat(src); os.IsNotExist(err) {
		if _, err := os.Stat(dest); err == nil {
			return nil
		}
	}
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
