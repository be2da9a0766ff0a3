package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultArtifactDir is where captured frames land, relative to the working directory.
const DefaultArtifactDir = "data/captured"

// artifactLayout names files by capture time; the microseconds follow it.
const artifactLayout = "20060102_150405"

// ErrNoArtifacts is returned by Latest when nothing has been captured yet.
var ErrNoArtifacts = errors.New("no captured artifacts")

// Artifact is a persisted frame on disk.
type Artifact struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// ArtifactStore persists frames as JPEG files in a single directory.
type ArtifactStore struct {
	dir string
	now func() time.Time
}

// NewArtifactStore returns a store rooted at dir. The directory is created on
// first save.
func NewArtifactStore(dir string) *ArtifactStore {
	if dir == "" {
		dir = DefaultArtifactDir
	}
	return &ArtifactStore{dir: dir, now: time.Now}
}

// WithClock overrides the clock used for file names.
func (s *ArtifactStore) WithClock(now func() time.Time) *ArtifactStore {
	s.now = now
	return s
}

// Dir returns the artifact directory.
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Save writes data under a timestamped name and returns its path.
// An existing file is never overwritten; a numeric suffix is added instead.
func (s *ArtifactStore) Save(data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	now := s.now()
	base := fmt.Sprintf("%s_%06d", now.Format(artifactLayout), now.Nanosecond()/int(time.Microsecond))
	for i := 0; i < 1000; i++ {
		name := base + ".jpg"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.jpg", base, i)
		}
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create artifact: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write artifact: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("close artifact: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("create artifact: too many files named %s", base)
}

// Latest returns the most recently modified artifact.
func (s *ArtifactStore) Latest() (Artifact, error) {
	all, err := s.List()
	if err != nil {
		return Artifact{}, err
	}
	if len(all) == 0 {
		return Artifact{}, ErrNoArtifacts
	}
	latest := all[0]
	for _, a := range all[1:] {
		if a.ModTime.After(latest.ModTime) ||
			(a.ModTime.Equal(latest.ModTime) && a.Path > latest.Path) {
			latest = a
		}
	}
	return latest, nil
}

// List returns every artifact in directory order.
func (s *ArtifactStore) List() ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	var out []Artifact
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Artifact{
			Path:    filepath.Join(s.dir, e.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return out, nil
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
