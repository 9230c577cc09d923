// Package event defines the sync events broadcast on a repository channel.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of sync event.
type Type string

const (
	TypeSyncStatus     Type = "sync:status"
	TypeFileChanged    Type = "file:changed"
	TypeBranchSwitched Type = "branch:switched"
	TypePRDetected     Type = "pr:detected"
	TypeCommentAdded   Type = "comment:added"
)

// Event is one discrete, typed message on the channel keyed "owner/repo".
type Event struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Channel     string          `json:"channel"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	Time        time.Time       `json:"time"`
	Payload     json.RawMessage `json:"payload"`
}

// SyncStatus is the payload of TypeSyncStatus.
type SyncStatus struct {
	Branch     string   `json:"branch"`
	Status     string   `json:"status"`
	HeadSHA    string   `json:"head_sha,omitempty"`
	DirtyFiles []string `json:"dirty_files"`
	PendingOps int      `json:"pending_ops"`
	Error      string   `json:"error,omitempty"`
	Conflicts  []string `json:"conflicts,omitempty"`
}

// FileChanged is the payload of TypeFileChanged.
type FileChanged struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	SHA    string `json:"sha,omitempty"`
	Source string `json:"source"` // "local", "remote" or "commit"
	Delete bool   `json:"delete,omitempty"`
	// Patch is the textual delta of a local edit, when the merge engine produced one.
	Patch  string `json:"patch,omitempty"`
	PeerID string `json:"peer_id,omitempty"`
}

// BranchSwitched is the payload of TypeBranchSwitched.
type BranchSwitched struct {
	From    string `json:"from"`
	To      string `json:"to"`
	HeadSHA string `json:"head_sha"`
}

// PRDetected is the payload of TypePRDetected.
type PRDetected struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Head   string `json:"head"`
	Base   string `json:"base"`
	URL    string `json:"url,omitempty"`
}

// CommentAdded is the payload of TypeCommentAdded.
type CommentAdded struct {
	PullRequest int    `json:"pull_request"`
	ThreadID    string `json:"thread_id"`
	CommentID   string `json:"comment_id"`
	Path        string `json:"path,omitempty"`
	Author      string `json:"author"`
	Body        string `json:"body"`
}

// New marshals payload into an Event. A payload that cannot be marshaled
// yields an Event with a null payload and the marshal error.
func New(typ Type, channel, workspaceID string, payload any) (Event, error) {
	ev := Event{
		Type:        typ,
		Channel:     channel,
		WorkspaceID: workspaceID,
		Time:        time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		ev.Payload = json.RawMessage("null")
		return ev, err
	}
	ev.Payload = data
	return ev, nil
}
