package localdoc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Strob0t/DocSync/internal/clock"
	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/port/mergeengine"
)

// ErrPatchRejected is returned when none of a delta's hunks apply.
var ErrPatchRejected = errors.New("patch rejected")

// diffCleanupThreshold is the diff count above which semantic cleanup runs.
const diffCleanupThreshold = 2

// Document is one shared buffer. Listeners run in change order; they must
// not call back into the same document.
type Document struct {
	clock   clock.Clock
	timeout time.Duration
	dmp     *diffmatchpatch.DiffMatchPatch

	// notify serializes mutation plus delivery so listeners see versions in order.
	notify sync.Mutex

	mu        sync.Mutex
	text      string
	version   int
	peers     map[string]mergeengine.Peer
	listeners map[int]func(mergeengine.Change)
	nextID    int
	closed    bool
}

var (
	_ mergeengine.Document = (*Document)(nil)
	_ mergeengine.Presence = (*Document)(nil)
	_ mergeengine.Patcher  = (*Document)(nil)
)

func newDocument(clk clock.Clock, timeout time.Duration, initial string) *Document {
	return &Document{
		clock:     clk,
		timeout:   timeout,
		dmp:       diffmatchpatch.New(),
		text:      initial,
		peers:     make(map[string]mergeengine.Peer),
		listeners: make(map[int]func(mergeengine.Change)),
	}
}

func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// Version counts applied changes.
func (d *Document) Version() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

func (d *Document) SetText(text string) {
	d.notify.Lock()
	defer d.notify.Unlock()

	d.mu.Lock()
	if d.closed || text == d.text {
		d.mu.Unlock()
		return
	}
	change := d.commitLocked(text, d.patchText(d.text, text), "")
	fns := d.listenersLocked()
	d.mu.Unlock()

	deliver(fns, change)
}

// ApplyPatch merges a delta produced by peerID against any earlier version
// of the text. Hunks whose context no longer matches are dropped; if none
// apply the text is left unchanged and ErrPatchRejected is returned.
func (d *Document) ApplyPatch(peerID, patch string) (mergeengine.Change, error) {
	patches, err := d.dmp.PatchFromText(patch)
	if err != nil {
		return mergeengine.Change{}, fmt.Errorf("%w: parse patch: %w", domain.ErrValidation, err)
	}

	d.notify.Lock()
	defer d.notify.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return mergeengine.Change{}, fmt.Errorf("%w: document closed", domain.ErrNotFound)
	}
	merged, applied := d.dmp.PatchApply(patches, d.text)
	ok := len(applied) == 0
	for _, a := range applied {
		ok = ok || a
	}
	if !ok {
		d.mu.Unlock()
		return mergeengine.Change{}, ErrPatchRejected
	}
	d.touchLocked(peerID)
	if merged == d.text {
		change := mergeengine.Change{Text: d.text, PeerID: peerID, Version: d.version}
		d.mu.Unlock()
		return change, nil
	}
	change := d.commitLocked(merged, d.patchText(d.text, merged), peerID)
	fns := d.listenersLocked()
	d.mu.Unlock()

	deliver(fns, change)
	return change, nil
}

func (d *Document) patchText(from, to string) string {
	diffs := d.dmp.DiffMain(from, to, true)
	if len(diffs) > diffCleanupThreshold {
		diffs = d.dmp.DiffCleanupSemantic(diffs)
		diffs = d.dmp.DiffCleanupEfficiency(diffs)
	}
	return d.dmp.PatchToText(d.dmp.PatchMake(from, diffs))
}

func (d *Document) commitLocked(text, patch, peerID string) mergeengine.Change {
	d.text = text
	d.version++
	return mergeengine.Change{Text: text, Patch: patch, PeerID: peerID, Version: d.version}
}

func (d *Document) listenersLocked() []func(mergeengine.Change) {
	ids := make([]int, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(mergeengine.Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, d.listeners[id])
	}
	return fns
}

func deliver(fns []func(mergeengine.Change), c mergeengine.Change) {
	for _, fn := range fns {
		fn(c)
	}
}

func (d *Document) OnChange(fn func(mergeengine.Change)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

// --- presence ---

func (d *Document) Join(p mergeengine.Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p.LastSeen = d.clock.Now()
	d.peers[p.ID] = p
}

// Heartbeat refreshes a peer's cursor. It reports false for unknown peers,
// who must Join again.
func (d *Document) Heartbeat(peerID string, cursor, selectionTo int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.peers[peerID]
	if !ok {
		return false
	}
	p.Cursor, p.SelectionTo = cursor, selectionTo
	p.LastSeen = d.clock.Now()
	d.peers[peerID] = p
	return true
}

func (d *Document) Leave(peerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, peerID)
}

func (d *Document) touchLocked(peerID string) {
	if p, ok := d.peers[peerID]; ok {
		p.LastSeen = d.clock.Now()
		d.peers[peerID] = p
	}
}

// ActivePeers returns live peers sorted by ID and forgets expired ones.
func (d *Document) ActivePeers() []mergeengine.Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.clock.Now().Add(-d.timeout)
	out := make([]mergeengine.Peer, 0, len(d.peers))
	for id, p := range d.peers {
		if p.LastSeen.Before(cutoff) {
			delete(d.peers, id)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Document) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.listeners = make(map[int]func(mergeengine.Change))
	d.peers = make(map[string]mergeengine.Peer)
}
