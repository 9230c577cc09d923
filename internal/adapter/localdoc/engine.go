// Package localdoc is a single-process merge engine. Concurrent edits arrive
// as diff-match-patch deltas and are applied fuzzily onto the current text,
// so two peers typing in different regions of a document both land.
package localdoc

import (
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/port/mergeengine"
)

// DefaultPresenceTimeout is how long a silent peer stays in the presence list.
const DefaultPresenceTimeout = 30 * time.Second

// Engine is a registry of documents keyed by (workspaceID, fileID).
type Engine struct {
	clock   clock.Clock
	timeout time.Duration

	mu   sync.Mutex
	docs map[docKey]*Document
}

type docKey struct{ workspace, file string }

var _ mergeengine.Engine = (*Engine)(nil)

// New creates an engine. A non-positive timeout selects DefaultPresenceTimeout.
func New(clk clock.Clock, presenceTimeout time.Duration) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if presenceTimeout <= 0 {
		presenceTimeout = DefaultPresenceTimeout
	}
	return &Engine{clock: clk, timeout: presenceTimeout, docs: make(map[docKey]*Document)}
}

func (e *Engine) Document(workspaceID, fileID, initial string) mergeengine.Document {
	return e.open(workspaceID, fileID, initial)
}

func (e *Engine) open(workspaceID, fileID, initial string) *Document {
	k := docKey{workspaceID, fileID}
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.docs[k]; ok {
		return d
	}
	d := newDocument(e.clock, e.timeout, initial)
	e.docs[k] = d
	return d
}

func (e *Engine) Close(workspaceID, fileID string) {
	e.mu.Lock()
	d, ok := e.docs[docKey{workspaceID, fileID}]
	delete(e.docs, docKey{workspaceID, fileID})
	e.mu.Unlock()
	if ok {
		d.close()
	}
}

// Open lists the file IDs with a live document in workspaceID.
func (e *Engine) Open(workspaceID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for k := range e.docs {
		if k.workspace == workspaceID {
			ids = append(ids, k.file)
		}
	}
	sort.Strings(ids)
	return ids
}
