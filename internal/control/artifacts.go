package control

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vietddude/narrator/internal/core/domain"
)

// ArtifactSink writes produced audio under dir/<run>/<index>.wav.
type ArtifactSink struct {
	dir string
}

// NewArtifactSink creates a sink rooted at dir.
func NewArtifactSink(dir string) *ArtifactSink {
	return &ArtifactSink{dir: dir}
}

// Write stores an artifact and returns its path.
func (s *ArtifactSink) Write(runID string, index int, a *domain.Artifact) (string, error) {
	if a == nil {
		return "", fmt.Errorf("no artifact for item %d", index)
	}
	runDir := filepath.Join(s.dir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	path := filepath.Join(runDir, strconv.Itoa(index)+".wav")
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}
