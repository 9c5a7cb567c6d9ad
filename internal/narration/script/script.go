// Package script reads narration scripts.
package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vietddude/narrator/internal/core/domain"
)

// ErrNoLines is returned for a script without any line.
var ErrNoLines = errors.New("script has no lines")

// Parse decodes a JSON array of {"timestamp", "text"} objects.
func Parse(r io.Reader) ([]domain.ScriptLine, error) {
	var lines []domain.ScriptLine
	if err := json.NewDecoder(r).Decode(&lines); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	return lines, nil
}

// Load reads a script file.
func Load(path string) ([]domain.ScriptLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
