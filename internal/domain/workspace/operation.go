package workspace

import (
	"fmt"
	"sort"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
)

// OpKind tags a pending file operation.
type OpKind string

const (
	OpCreate    OpKind = "create"
	OpDelete    OpKind = "delete"
	OpRename    OpKind = "rename"
	OpMove      OpKind = "move"
	OpDuplicate OpKind = "duplicate"
)

// Operation is a queued file-management action not yet reflected remotely.
// Which fields are meaningful depends on Kind:
//
//	create:    Path, Content
//	delete:    Path, SHA
//	rename:    Path (old), NewPath, SHA, Content
//	move:      Path (old), NewPath, SHA, Content
//	duplicate: NewPath, Content
type Operation struct {
	Kind    OpKind `json:"kind"`
	Path    string `json:"path,omitempty"`
	NewPath string `json:"new_path,omitempty"`
	SHA     string `json:"sha,omitempty"`
	Content string `json:"content,omitempty"`
}

func Create(path, content string) Operation {
	return Operation{Kind: OpCreate, Path: path, Content: content}
}

func Delete(path, sha string) Operation {
	return Operation{Kind: OpDelete, Path: path, SHA: sha}
}

func Rename(oldPath, newPath, sha, content string) Operation {
	return Operation{Kind: OpRename, Path: oldPath, NewPath: newPath, SHA: sha, Content: content}
}

func Move(oldPath, newPath, sha, content string) Operation {
	return Operation{Kind: OpMove, Path: oldPath, NewPath: newPath, SHA: sha, Content: content}
}

func Duplicate(newPath, content string) Operation {
	return Operation{Kind: OpDuplicate, NewPath: newPath, Content: content}
}

// Validate checks that the fields required by Kind are present and well formed.
func (o Operation) Validate() error {
	switch o.Kind {
	case OpCreate, OpDelete:
		return ValidatePath(o.Path)
	case OpRename, OpMove:
		if err := ValidatePath(o.Path); err != nil {
			return err
		}
		if err := ValidatePath(o.NewPath); err != nil {
			return err
		}
		if o.Path == o.NewPath {
			return fmt.Errorf("%w: %s source and destination are both %q", domain.ErrValidation, o.Kind, o.Path)
		}
		return nil
	case OpDuplicate:
		return ValidatePath(o.NewPath)
	default:
		return fmt.Errorf("%w: unknown operation kind %q", domain.ErrValidation, o.Kind)
	}
}

// Target returns the path the operation leaves content at, or "" for deletes.
func (o Operation) Target() string {
	switch o.Kind {
	case OpCreate:
		return o.Path
	case OpRename, OpMove, OpDuplicate:
		return o.NewPath
	}
	return ""
}

// Resolve replays ops in queue order against one shared base path set and
// overlays the dirty contents, producing the change list for a single
// tree-build pass. A delete of a path absent from base (created and removed
// within the same queue) produces no change.
func Resolve(base map[string]bool, ops []Operation, dirty map[string]string) []repo.FileChange {
	state := make(map[string]*string)
	set := func(p, content string) { state[p] = &content }

	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			set(op.Path, op.Content)
		case OpDelete:
			state[op.Path] = nil
		case OpRename, OpMove:
			state[op.Path] = nil
			set(op.NewPath, op.Content)
		case OpDuplicate:
			set(op.NewPath, op.Content)
		}
	}
	for p, content := range dirty {
		set(p, content)
	}

	paths := make([]string, 0, len(state))
	for p := range state {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	changes := make([]repo.FileChange, 0, len(paths))
	for _, p := range paths {
		content := state[p]
		if content == nil && !base[p] {
			continue
		}
		changes = append(changes, repo.FileChange{Path: p, Content: content})
	}
	return changes
}
