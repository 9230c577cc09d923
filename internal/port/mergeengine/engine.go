// Package mergeengine defines the contract of the collaborative text engine.
//
// The sync coordinator treats a Document as "get current text", "set text"
// and "is anyone else here". It never assumes anything about the merge
// algorithm behind it.
package mergeengine

import "time"

// Peer is one participant editing a document.
type Peer struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color,omitempty"`
	Cursor      int       `json:"cursor"`
	SelectionTo int       `json:"selection_to,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// Change describes one applied edit. Patch is a textual delta from the
// previous version; it is empty when the engine does not produce deltas.
type Change struct {
	Text    string `json:"-"`
	Patch   string `json:"patch,omitempty"`
	PeerID  string `json:"peer_id,omitempty"`
	Version int    `json:"version"`
}

// Document is one shared, concurrently editable text buffer.
type Document interface {
	// Text snapshots the current buffer content.
	Text() string

	// SetText overwrites the buffer wholesale. Used when remote content is pulled.
	SetText(text string)

	// ActivePeers lists peers heard from within the liveness timeout.
	ActivePeers() []Peer

	// OnChange registers fn to be called after every change, in order.
	// The returned function unregisters it.
	OnChange(fn func(Change)) (cancel func())
}

// Presence is implemented by documents that track peers themselves.
type Presence interface {
	Join(p Peer)
	Heartbeat(peerID string, cursor, selectionTo int) bool
	Leave(peerID string)
}

// Patcher is implemented by documents that accept concurrent textual deltas.
type Patcher interface {
	ApplyPatch(peerID, patch string) (Change, error)
}

// Engine resolves document identities to shared buffers.
type Engine interface {
	// Document returns the buffer for (workspaceID, fileID), creating it
	// with initial content if it does not exist yet.
	Document(workspaceID, fileID, initial string) Document

	// Close releases the buffer. Closing an unknown document is a no-op.
	Close(workspaceID, fileID string)
}
