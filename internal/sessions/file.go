package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File is the on-disk credentials document.
type File struct {
	Sessions []string `json:"sessions"`
}

// ReadFile returns the sessions stored at path. A missing file yields no
// sessions and no error.
func ReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Merge(nil, f.Sessions), nil
}

// WriteFile replaces path atomically (temp file + rename).
func WriteFile(path string, sessions []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(File{Sessions: Merge(nil, sessions)}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sessions-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Merge appends the non-empty values of add to base, trimmed, dropping
// duplicates and keeping first-seen order.
func Merge(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Load combines inline credentials with those of the credentials file.
func Load(inline []string, path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return Merge(nil, inline), nil
	}
	fromFile, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Merge(inline, fromFile), nil
}
