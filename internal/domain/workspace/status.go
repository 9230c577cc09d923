package workspace

import (
	"fmt"
	"time"

	"github.com/Strob0t/DocSync/internal/domain"
)

// Status is the single derived sync status of a workspace.
type Status string

const (
	StatusSynced        Status = "synced"
	StatusLocalChanges  Status = "local-changes"
	StatusRemoteChanges Status = "remote-changes"
	StatusConflict      Status = "conflict"
	StatusSyncing       Status = "syncing"
	StatusError         Status = "error"
)

// StatusInputs are the facts a status is derived from.
type StatusInputs struct {
	DirtyFiles  int
	PendingOps  int
	InFlight    bool
	LastError   string
	RemoteAhead bool
	Conflicts   int
}

// DeriveStatus computes the status. There is no setter: callers change the
// inputs and derive again.
func DeriveStatus(in StatusInputs) Status {
	switch {
	case in.InFlight:
		return StatusSyncing
	case in.Conflicts > 0:
		return StatusConflict
	case in.LastError != "":
		return StatusError
	case in.RemoteAhead:
		return StatusRemoteChanges
	case in.DirtyFiles > 0 || in.PendingOps > 0:
		return StatusLocalChanges
	default:
		return StatusSynced
	}
}

// Strategy selects where auto-saves are committed.
type Strategy string

const (
	// StrategyDirect commits straight to the active branch.
	StrategyDirect Strategy = "direct"
	// StrategyAutoBranch lazily creates one session branch and commits there.
	StrategyAutoBranch Strategy = "auto-branch"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyDirect, StrategyAutoBranch:
		return Strategy(s), nil
	case "":
		return StrategyDirect, nil
	}
	return "", fmt.Errorf("%w: unknown save strategy %q", domain.ErrValidation, s)
}

// Tabs is the persisted open-tab state of one repository.
type Tabs struct {
	Owner      string    `json:"owner"`
	Repo       string    `json:"repo"`
	OpenTabs   []string  `json:"open_tabs"`
	ActivePath string    `json:"active_path"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key is the persistence key of the tab state.
func (t *Tabs) Key() string { return t.Owner + "/" + t.Repo }
