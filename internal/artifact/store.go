package artifact

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Ref points at a persisted artifact
type Ref struct {
	RunID     string    `json:"runId"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists screenshots and other run artifacts on disk
type Store struct {
	refs      sync.Map // runID/name -> *Ref
	storePath string   // Base path for run directories
	mu        sync.Mutex
}

// NewStore creates a new artifact store rooted at storePath
func NewStore(storePath string) (*Store, error) {
	// Create storage directory if it doesn't exist
	if err := os.MkdirAll(storePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	return &Store{
		storePath: storePath,
	}, nil
}

// Save writes data under the run's directory and records a Ref for it
func (s *Store) Save(runID, name string, data []byte) (*Ref, error) {
	if runID == "" || name == "" {
		return nil, fmt.Errorf("runId and name are required")
	}
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}

	dir := s.runDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}

	ref := &Ref{
		RunID:     runID,
		Name:      name,
		Path:      path,
		Size:      int64(len(data)),
		CreatedAt: time.Now(),
	}
	s.refs.Store(key(runID, name), ref)

	return ref, nil
}

// Get retrieves an artifact ref
func (s *Store) Get(runID, name string) (*Ref, error) {
	value, ok := s.refs.Load(key(runID, name))
	if !ok {
		return nil, fmt.Errorf("artifact not found")
	}
	return value.(*Ref), nil
}

// List returns the run's artifacts sorted by name
func (s *Store) List(runID string) []*Ref {
	var refs []*Ref
	s.refs.Range(func(_, value any) bool {
		ref := value.(*Ref)
		if ref.RunID == runID {
			refs = append(refs, ref)
		}
		return true
	})
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs
}

// Delete removes a run's artifacts and archive
func (s *Store) Delete(runID string) error {
	for _, ref := range s.List(runID) {
		s.refs.Delete(key(runID, ref.Name))
	}
	if err := os.RemoveAll(s.runDir(runID)); err != nil {
		return fmt.Errorf("failed to delete run artifacts: %w", err)
	}
	if err := os.Remove(s.archivePath(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete run archive: %w", err)
	}
	return nil
}

// Archive compresses a run's artifact directory into <storePath>/<runID>.tar.gz
func (s *Store) Archive(runID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source := s.runDir(runID)
	if _, err := os.Stat(source); err != nil {
		return "", fmt.Errorf("run has no artifacts: %w", err)
	}

	target := s.archivePath(runID)
	if err := compressDirectory(source, target); err != nil {
		return "", fmt.Errorf("failed to compress run artifacts: %w", err)
	}
	return target, nil
}

// Run binds the store to one run for scenario bodies
func (s *Store) Run(runID string) *RunArtifacts {
	return &RunArtifacts{store: s, runID: runID}
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.storePath, runID)
}

func (s *Store) archivePath(runID string) string {
	return filepath.Join(s.storePath, fmt.Sprintf("%s.tar.gz", runID))
}

func key(runID, name string) string {
	return runID + "/" + name
}

// RunArtifacts saves artifacts for a single run
type RunArtifacts struct {
	store *Store
	runID string
}

// Save persists data and returns the artifact path
func (r *RunArtifacts) Save(name string, data []byte) (string, error) {
	ref, err := r.store.Save(r.runID, name, data)
	if err != nil {
		return "", err
	}
	return ref.Path, nil
}

// compressDirectory creates a tar.gz archive of a directory. A partial
// archive is removed on failure.
func compressDirectory(source, target string) error {
	file, err := os.Create(target)
	if err != nil {
		return err
	}

	err = multierr.Append(writeArchive(file, source), file.Close())
	if err != nil {
		os.Remove(target)
	}
	return err
}

// writeArchive streams source as a gzipped tarball into w. The tar writer is
// closed before the gzip writer so both trailers are flushed.
func writeArchive(w io.Writer, source string) error {
	gzWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzWriter)

	err := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}

		// Update name to be relative to source
		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		header.Name = relPath

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if !info.IsDir() {
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			_, err = io.Copy(tarWriter, file)
			return err
		}

		return nil
	})

	err = multierr.Append(err, tarWriter.Close())
	return multierr.Append(err, gzWriter.Close())
}
