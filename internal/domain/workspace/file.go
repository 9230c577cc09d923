// Package workspace defines the local side of a sync session: file entries,
// pending file operations, derived sync status and persisted tab state.
package workspace

import (
	"fmt"
	"path"
	"strings"

	"github.com/Strob0t/DocSync/internal/domain"
)

// Origin records where a file entry came from.
type Origin string

const (
	OriginRemote   Origin = "remote"
	OriginLocalNew Origin = "local-new"
)

// FileEntry is the in-memory record of one file. BlobSHA is nil for files
// that do not exist remotely yet.
type FileEntry struct {
	Path    string  `json:"path"`
	BlobSHA *string `json:"blob_sha"`
	Content string  `json:"content"`
	IsDirty bool    `json:"is_dirty"`
	Origin  Origin  `json:"origin"`
}

// SHA returns the blob SHA or "" when the file is not yet remote.
func (f *FileEntry) SHA() string {
	if f.BlobSHA == nil {
		return ""
	}
	return *f.BlobSHA
}

const maxPathLength = 1024

// ValidatePath checks that p is a clean, relative, repository path.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: path is required", domain.ErrValidation)
	}
	if len(p) > maxPathLength {
		return fmt.Errorf("%w: path too long (max %d chars)", domain.ErrValidation, maxPathLength)
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return fmt.Errorf("%w: path %q must be relative and use forward slashes", domain.ErrValidation, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: path %q contains an invalid segment", domain.ErrValidation, p)
		}
	}
	if path.Clean(p) != p {
		return fmt.Errorf("%w: path %q is not clean", domain.ErrValidation, p)
	}
	return nil
}
