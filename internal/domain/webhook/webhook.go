// Package webhook defines the normalized inbound VCS webhook events.
package webhook

import "time"

// VCSEventType classifies the VCS webhook event.
type VCSEventType string

const (
	VCSEventPush        VCSEventType = "push"
	VCSEventPullRequest VCSEventType = "pull_request"
	VCSEventPing        VCSEventType = "ping"
)

// VCSEvent is the part every normalized event shares.
type VCSEvent struct {
	Type       VCSEventType `json:"type"`
	Provider   string       `json:"provider"`
	Repository string       `json:"repository"` // "owner/name"
	Branch     string       `json:"branch"`
	Sender     string       `json:"sender"`
	CommitHash string       `json:"commit_hash,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
}

// VCSPushEvent is a branch update.
type VCSPushEvent struct {
	VCSEvent
	Before  string      `json:"before"`
	After   string      `json:"after"`
	Forced  bool        `json:"forced"`
	Deleted bool        `json:"deleted"`
	Commits []VCSCommit `json:"commits"`
	// Paths is the union of added, modified and removed paths.
	Paths []string `json:"paths"`
	// Notified counts the workspaces that were told about the push.
	Notified int `json:"notified"`
}

// VCSCommit is one commit of a push.
type VCSCommit struct {
	Hash     string   `json:"hash"`
	Message  string   `json:"message"`
	Author   string   `json:"author"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// VCSPullRequestEvent is a pull request state change.
type VCSPullRequestEvent struct {
	VCSEvent
	Action     string `json:"action"` // "opened", "reopened", "synchronize", "closed", ...
	PRNumber   int    `json:"pr_number"`
	Title      string `json:"title"`
	URL        string `json:"url,omitempty"`
	BaseBranch string `json:"base_branch"`
	HeadBranch string `json:"head_branch"`
	Draft      bool   `json:"draft"`
	Merged     bool   `json:"merged"`
}
