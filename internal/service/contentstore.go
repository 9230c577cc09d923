package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/domain/workspace"
)

// ChangeKind tags a content store notification.
type ChangeKind string

const (
	ChangeEdit    ChangeKind = "edit"
	ChangeDirty   ChangeKind = "dirty"
	ChangeClean   ChangeKind = "clean"
	ChangeOp      ChangeKind = "op"
	ChangeQueue   ChangeKind = "queue-cleared"
	ChangeCommit  ChangeKind = "commit"
	ChangeRemote  ChangeKind = "remote"
	ChangeDiscard ChangeKind = "discard"
	ChangeOpen    ChangeKind = "open"
	ChangeClose   ChangeKind = "close"
)

// StoreChange is delivered to subscribers after every mutation.
type StoreChange struct {
	Kind  ChangeKind
	Paths []string
	// Local reports whether the store now holds unpushed changes.
	Local bool
}

type fileState struct {
	entry   workspace.FileEntry
	base    string // last-synced content
	version int
	deleted bool // a queued operation removes this path
	phantom bool // tracked only to carry a delete of an unopened file
}

// ContentStore is the in-process record of open files, their dirty status
// and the pending operation queue of one workspace. All reads reflect the
// latest mutation immediately.
type ContentStore struct {
	strict bool

	mu      sync.Mutex
	files   map[string]*fileState
	ops     []queuedOp
	opSeq   uint64
	head    string
	index   map[string]string // remote path -> blob SHA at head
	subs    map[int]func(StoreChange)
	nextSub int
}

type queuedOp struct {
	seq uint64
	op  workspace.Operation
}

// NewContentStore creates an empty store. In strict mode programming errors
// (unknown paths, malformed operations) panic instead of returning.
func NewContentStore(strict bool) *ContentStore {
	return &ContentStore{
		strict: strict,
		files:  make(map[string]*fileState),
		index:  make(map[string]string),
		subs:   make(map[int]func(StoreChange)),
	}
}

func (s *ContentStore) fail(err error) error {
	if s.strict {
		panic(err)
	}
	return err
}

// Subscribe registers fn for change notifications. fn runs after the store
// lock is released and may read the store.
func (s *ContentStore) Subscribe(fn func(StoreChange)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// unlockAndNotify releases the lock and then delivers one notification.
func (s *ContentStore) unlockAndNotify(kind ChangeKind, paths ...string) {
	change := StoreChange{Kind: kind, Paths: paths, Local: s.hasLocalLocked()}
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(StoreChange), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func (s *ContentStore) hasLocalLocked() bool {
	if len(s.ops) > 0 {
		return true
	}
	for _, f := range s.files {
		if f.entry.IsDirty {
			return true
		}
	}
	return false
}

func (s *ContentStore) live(path string) (*fileState, bool) {
	f, ok := s.files[path]
	if !ok || f.deleted {
		return nil, false
	}
	return f, true
}

// --- remote baseline ---

// Reset replaces the whole store with the tree at head, clearing every
// dirty mark and queued operation. Open files present at head are reloaded
// from contents; open files absent from head are dropped. It returns the
// dropped paths.
func (s *ContentStore) Reset(head string, index map[string]string, contents map[string]string) []string {
	s.mu.Lock()
	s.head = head
	s.index = copyIndex(index)
	s.ops = nil
	var dropped []string
	for p, f := range s.files {
		sha, ok := index[p]
		content, have := contents[p]
		if !ok || !have {
			delete(s.files, p)
			dropped = append(dropped, p)
			continue
		}
		s.files[p] = &fileState{
			entry:   workspace.FileEntry{Path: p, BlobSHA: strPtr(sha), Content: content, Origin: workspace.OriginRemote},
			base:    content,
			version: f.version + 1,
		}
	}
	sort.Strings(dropped)
	s.unlockAndNotify(ChangeDiscard, dropped...)
	return dropped
}

// Head returns the remote head SHA the store is based on.
func (s *ContentStore) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Index returns a copy of the remote path -> blob SHA map at Head.
func (s *ContentStore) Index() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIndex(s.index)
}

// Open records a file read from the remote. Opening an already open path
// is a no-op so local edits are never overwritten.
func (s *ContentStore) Open(path, sha, content string) (workspace.FileEntry, error) {
	if err := workspace.ValidatePath(path); err != nil {
		return workspace.FileEntry{}, s.fail(err)
	}
	s.mu.Lock()
	if f, ok := s.files[path]; ok {
		e := f.entry
		s.mu.Unlock()
		return e, nil
	}
	f := &fileState{
		entry: workspace.FileEntry{Path: path, BlobSHA: strPtr(sha), Content: content, Origin: workspace.OriginRemote},
		base:  content,
	}
	s.files[path] = f
	e := f.entry
	s.unlockAndNotify(ChangeOpen, path)
	return e, nil
}

// Close forgets a clean file. Dirty files and files referenced by a queued
// operation stay so nothing unpushed is lost; Close reports whether the
// entry was removed.
func (s *ContentStore) Close(path string) bool {
	s.mu.Lock()
	f, ok := s.files[path]
	if !ok || f.entry.IsDirty || f.deleted || f.entry.BlobSHA == nil {
		s.mu.Unlock()
		return false
	}
	delete(s.files, path)
	s.unlockAndNotify(ChangeClose, path)
	return true
}

// --- local edits ---

// Edit replaces the content of an open file. The file is dirty iff the new
// content differs from the last-synced content.
func (s *ContentStore) Edit(path, content string) error {
	s.mu.Lock()
	f, ok := s.live(path)
	if !ok {
		s.mu.Unlock()
		return s.fail(fmt.Errorf("%w: edit of unopened file %q", domain.ErrNotFound, path))
	}
	if f.entry.Content == content {
		s.mu.Unlock()
		return nil
	}
	f.entry.Content = content
	f.entry.IsDirty = content != f.base
	f.version++
	s.unlockAndNotify(ChangeEdit, path)
	return nil
}

// MarkDirty flags an open file for inclusion in the next push even if its
// content matches the last-synced snapshot.
func (s *ContentStore) MarkDirty(path string) error {
	s.mu.Lock()
	f, ok := s.live(path)
	if !ok {
		s.mu.Unlock()
		return s.fail(fmt.Errorf("%w: mark dirty of unopened file %q", domain.ErrNotFound, path))
	}
	f.entry.IsDirty = true
	f.version++
	s.unlockAndNotify(ChangeDirty, path)
	return nil
}

// MarkClean records that path now matches the remote at blob newSHA.
func (s *ContentStore) MarkClean(path, newSHA string) error {
	s.mu.Lock()
	f, ok := s.live(path)
	if !ok {
		s.mu.Unlock()
		return s.fail(fmt.Errorf("%w: mark clean of unopened file %q", domain.ErrNotFound, path))
	}
	f.base = f.entry.Content
	f.entry.IsDirty = false
	f.entry.BlobSHA = strPtr(newSHA)
	f.entry.Origin = workspace.OriginRemote
	s.index[path] = newSHA
	s.unlockAndNotify(ChangeClean, path)
	return nil
}

// EnqueueOp appends a file operation. Deleting a dirty file first discards
// its local edits so a path is never both dirty and pending deletion.
// Rename and move carry the source's current content when op.Content is
// empty.
func (s *ContentStore) EnqueueOp(op workspace.Operation) (workspace.Operation, error) {
	if err := op.Validate(); err != nil {
		return op, s.fail(err)
	}

	s.mu.Lock()
	switch op.Kind {
	case workspace.OpCreate, workspace.OpDuplicate:
		target := op.Target()
		if _, exists := s.live(target); exists || s.existsRemoteLocked(target) {
			s.mu.Unlock()
			return op, s.fail(fmt.Errorf("%w: %s target %q already exists", domain.ErrValidation, op.Kind, target))
		}
		s.addLocalLocked(target, op.Content)

	case workspace.OpDelete:
		f, ok := s.live(op.Path)
		if !ok {
			if _, remote := s.index[op.Path]; !remote {
				s.mu.Unlock()
				return op, s.fail(fmt.Errorf("%w: delete of unknown path %q", domain.ErrNotFound, op.Path))
			}
			f = &fileState{
				entry:   workspace.FileEntry{Path: op.Path, BlobSHA: strPtr(s.index[op.Path]), Origin: workspace.OriginRemote},
				phantom: true,
			}
			s.files[op.Path] = f
		}
		if op.SHA == "" {
			op.SHA = f.entry.SHA()
		}
		f.entry.Content = f.base
		f.entry.IsDirty = false
		f.deleted = true
		f.version++

	case workspace.OpRename, workspace.OpMove:
		if _, exists := s.live(op.NewPath); exists || s.existsRemoteLocked(op.NewPath) {
			s.mu.Unlock()
			return op, s.fail(fmt.Errorf("%w: %s target %q already exists", domain.ErrValidation, op.Kind, op.NewPath))
		}
		f, ok := s.live(op.Path)
		if !ok {
			s.mu.Unlock()
			return op, s.fail(fmt.Errorf("%w: %s of unopened file %q", domain.ErrNotFound, op.Kind, op.Path))
		}
		if op.Content == "" {
			op.Content = f.entry.Content
		}
		if op.SHA == "" {
			op.SHA = f.entry.SHA()
		}
		f.entry.Content = f.base
		f.entry.IsDirty = false
		f.deleted = true
		f.version++
		s.addLocalLocked(op.NewPath, op.Content)
	}

	s.opSeq++
	s.ops = append(s.ops, queuedOp{seq: s.opSeq, op: op})
	paths := []string{op.Path}
	if t := op.Target(); t != "" && t != op.Path {
		paths = append(paths, t)
	}
	if op.Path == "" {
		paths = paths[1:]
	}
	s.unlockAndNotify(ChangeOp, paths...)
	return op, nil
}

func (s *ContentStore) existsRemoteLocked(path string) bool {
	if _, ok := s.index[path]; !ok {
		return false
	}
	f, tracked := s.files[path]
	return !tracked || !f.deleted
}

func (s *ContentStore) addLocalLocked(path, content string) {
	prev := 0
	if f, ok := s.files[path]; ok {
		prev = f.version
	}
	s.files[path] = &fileState{
		entry:   workspace.FileEntry{Path: path, Content: content, Origin: workspace.OriginLocalNew},
		base:    content,
		version: prev + 1,
	}
}

// ClearQueue drops every queued operation and undoes their local effects.
func (s *ContentStore) ClearQueue() {
	s.mu.Lock()
	s.ops = nil
	for p, f := range s.files {
		if f.entry.Origin == workspace.OriginLocalNew || f.phantom {
			delete(s.files, p)
			continue
		}
		f.deleted = false
	}
	s.unlockAndNotify(ChangeQueue)
}

// Discard reverts every dirty file to its last-synced content and clears
// the queue. It returns the paths whose visible content changed.
func (s *ContentStore) Discard() []string {
	s.mu.Lock()
	var reverted []string
	s.ops = nil
	for p, f := range s.files {
		switch {
		case f.phantom:
			delete(s.files, p)
		case f.entry.Origin == workspace.OriginLocalNew:
			delete(s.files, p)
			reverted = append(reverted, p)
		case f.entry.IsDirty || f.deleted:
			f.entry.Content = f.base
			f.entry.IsDirty = false
			f.deleted = false
			f.version++
			reverted = append(reverted, p)
		}
	}
	sort.Strings(reverted)
	s.unlockAndNotify(ChangeDiscard, reverted...)
	return reverted
}

// --- queries ---

// DirtyFiles returns the sorted set of dirty paths.
func (s *ContentStore) DirtyFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyLocked()
}

func (s *ContentStore) dirtyLocked() []string {
	out := []string{}
	for p, f := range s.files {
		if f.entry.IsDirty && !f.deleted {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// PendingOps returns a copy of the queue in order.
func (s *ContentStore) PendingOps() []workspace.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]workspace.Operation, len(s.ops))
	for i, q := range s.ops {
		out[i] = q.op
	}
	return out
}

// HasLocalChanges reports whether anything is waiting to be pushed.
func (s *ContentStore) HasLocalChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLocalLocked()
}

// Entry returns the entry for path. Entries pending deletion are hidden.
func (s *ContentStore) Entry(path string) (workspace.FileEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.live(path)
	if !ok {
		return workspace.FileEntry{}, false
	}
	return f.entry, true
}

// Entries lists visible entries sorted by path.
func (s *ContentStore) Entries() []workspace.FileEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]workspace.FileEntry, 0, len(s.files))
	for _, f := range s.files {
		if !f.deleted {
			out = append(out, f.entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// --- push ---

// Snapshot is the frozen set of local changes a push works on.
type Snapshot struct {
	Head     string
	Ops      []workspace.Operation
	Dirty    map[string]string
	base     map[string]bool
	versions map[string]int
	lastSeq  uint64
}

// Empty reports whether there is nothing to push.
func (s *Snapshot) Empty() bool { return len(s.Ops) == 0 && len(s.Dirty) == 0 }

// Changes resolves the snapshot into the file list of one tree-build pass.
func (s *Snapshot) Changes() []repo.FileChange {
	return workspace.Resolve(s.base, s.Ops, s.Dirty)
}

// Paths lists every path the snapshot touches, including rename sources.
func (s *Snapshot) Paths() []string {
	seen := make(map[string]bool)
	for p := range s.Dirty {
		seen[p] = true
	}
	for _, op := range s.Ops {
		if op.Path != "" {
			seen[op.Path] = true
		}
		if t := op.Target(); t != "" {
			seen[t] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Snapshot captures the current dirty contents and queue.
func (s *ContentStore) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{
		Head:     s.head,
		Dirty:    make(map[string]string),
		base:     make(map[string]bool, len(s.index)),
		versions: make(map[string]int),
	}
	for p := range s.index {
		snap.base[p] = true
	}
	for p, f := range s.files {
		if f.entry.IsDirty && !f.deleted {
			snap.Dirty[p] = f.entry.Content
			snap.versions[p] = f.version
		}
	}
	for _, q := range s.ops {
		snap.Ops = append(snap.Ops, q.op)
		snap.lastSeq = q.seq
	}
	return snap
}

// ApplyCommit records a successful push of snap. Only what the snapshot
// captured is cleared: queued operations added later stay queued and files
// edited while the push was in flight stay dirty against the new base.
func (s *ContentStore) ApplyCommit(snap *Snapshot, res repo.CommitResult) {
	s.mu.Lock()
	s.head = res.SHA

	for _, ch := range snap.Changes() {
		if ch.IsDelete() {
			delete(s.index, ch.Path)
			if f, ok := s.files[ch.Path]; ok && f.deleted {
				delete(s.files, ch.Path)
			}
			continue
		}
		sha := res.Blobs[ch.Path]
		s.index[ch.Path] = sha
		f, ok := s.files[ch.Path]
		if !ok || f.deleted {
			continue
		}
		f.base = *ch.Content
		f.entry.BlobSHA = strPtr(sha)
		f.entry.Origin = workspace.OriginRemote
		v, captured := snap.versions[ch.Path]
		switch {
		case captured && f.version == v:
			f.entry.IsDirty = false
		case captured:
			// Touched while the push was in flight: keep it for the next one.
			f.entry.IsDirty = f.entry.IsDirty || f.entry.Content != f.base
		default:
			f.entry.IsDirty = f.entry.Content != f.base
		}
	}
	// Deletes of paths created and removed inside the same queue never reach
	// the remote; drop their tombstones too.
	for p, f := range s.files {
		if f.deleted && f.entry.BlobSHA == nil {
			delete(s.files, p)
		}
	}

	kept := s.ops[:0]
	for _, q := range s.ops {
		if q.seq > snap.lastSeq {
			kept = append(kept, q)
		}
	}
	s.ops = kept

	paths := snap.Paths()
	s.unlockAndNotify(ChangeCommit, paths...)
}

// --- pull ---

// PullPlan lists what a pull must fetch and what it must leave alone.
type PullPlan struct {
	Fetch     []string
	Conflicts []string
}

type pullAction int

const (
	pullSkip pullAction = iota
	pullFetch
	pullRemove
	pullConflict
)

// classifyLocked decides what moving f to the remote index means for it.
func classifyLocked(f *fileState, index map[string]string) pullAction {
	remote, ok := index[f.entry.Path]
	switch {
	case f.entry.BlobSHA == nil && !ok:
		return pullSkip
	case f.entry.BlobSHA == nil:
		// Created locally and remotely under the same path.
		return pullConflict
	case ok && remote == *f.entry.BlobSHA:
		return pullSkip
	case f.entry.IsDirty || f.deleted:
		return pullConflict
	case !ok:
		return pullRemove
	default:
		return pullFetch
	}
}

// PlanPull compares the open files with the remote index at a new head.
func (s *ContentStore) PlanPull(index map[string]string) PullPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	var plan PullPlan
	for p, f := range s.files {
		switch classifyLocked(f, index) {
		case pullFetch:
			plan.Fetch = append(plan.Fetch, p)
		case pullConflict:
			plan.Conflicts = append(plan.Conflicts, p)
		}
	}
	sort.Strings(plan.Fetch)
	sort.Strings(plan.Conflicts)
	return plan
}

// PullResult is what ApplyRemote changed.
type PullResult struct {
	Updated   []string
	Removed   []string
	Conflicts []string
}

// ApplyRemote moves the store to head. Clean open files take the fetched
// remote content or disappear with their remote path. Dirty files and paths
// touched by queued operations are never overwritten; when the remote
// changed them they are reported as conflicts.
func (s *ContentStore) ApplyRemote(head string, index map[string]string, contents map[string]string) PullResult {
	s.mu.Lock()
	var res PullResult
	for p, f := range s.files {
		switch classifyLocked(f, index) {
		case pullConflict:
			res.Conflicts = append(res.Conflicts, p)
		case pullRemove:
			delete(s.files, p)
			res.Removed = append(res.Removed, p)
		case pullFetch:
			content, have := contents[p]
			if !have {
				// Not fetched; it stays on its old blob and the next pull retries it.
				continue
			}
			f.entry.Content = content
			f.entry.BlobSHA = strPtr(index[p])
			f.base = content
			f.version++
			res.Updated = append(res.Updated, p)
		}
	}
	for _, q := range s.ops {
		if q.op.SHA == "" || q.op.Path == "" {
			continue
		}
		if index[q.op.Path] != q.op.SHA {
			res.Conflicts = append(res.Conflicts, q.op.Path)
		}
	}
	res.Conflicts = dedupe(res.Conflicts)
	sort.Strings(res.Updated)
	sort.Strings(res.Removed)

	s.head = head
	s.index = copyIndex(index)
	paths := append(append([]string{}, res.Updated...), res.Removed...)
	s.unlockAndNotify(ChangeRemote, paths...)
	return res
}

// Rebase adopts the remote version of a conflicted file as its new base
// while keeping the local content, so the next push overwrites the remote.
// An empty remoteSHA means the remote removed the path: a queued delete of
// it is satisfied and kept content is re-created as a new file.
func (s *ContentStore) Rebase(path, remoteSHA, remoteContent string) error {
	s.mu.Lock()
	f, ok := s.files[path]
	if !ok {
		s.mu.Unlock()
		return s.fail(fmt.Errorf("%w: rebase of unknown file %q", domain.ErrNotFound, path))
	}
	if remoteSHA == "" {
		delete(s.index, path)
		kept := s.ops[:0]
		for _, q := range s.ops {
			if q.op.Path == path {
				if q.op.Kind == workspace.OpDelete {
					continue
				}
				q.op.SHA = ""
			}
			kept = append(kept, q)
		}
		s.ops = kept
		if f.deleted {
			delete(s.files, path)
		} else {
			f.entry.BlobSHA = nil
			f.entry.Origin = workspace.OriginLocalNew
			f.base = ""
			f.entry.IsDirty = true
			f.version++
		}
		s.unlockAndNotify(ChangeDirty, path)
		return nil
	}
	f.entry.BlobSHA = strPtr(remoteSHA)
	f.entry.Origin = workspace.OriginRemote
	f.base = remoteContent
	f.entry.IsDirty = !f.deleted && f.entry.Content != remoteContent
	f.version++
	s.index[path] = remoteSHA
	for i := range s.ops {
		if s.ops[i].op.Path == path && s.ops[i].op.SHA != "" {
			s.ops[i].op.SHA = remoteSHA
		}
	}
	s.unlockAndNotify(ChangeDirty, path)
	return nil
}

// Overwrite replaces a file with remote content, dropping its local edits
// and any queued operation on it.
func (s *ContentStore) Overwrite(path, sha, content string) {
	s.mu.Lock()
	kept := s.ops[:0]
	for _, q := range s.ops {
		if q.op.Path == path {
			if t := q.op.Target(); t != "" && t != path {
				delete(s.files, t)
			}
			continue
		}
		kept = append(kept, q)
	}
	s.ops = kept
	prev := 0
	if f, ok := s.files[path]; ok {
		prev = f.version
	}
	if sha == "" {
		delete(s.files, path)
	} else {
		s.files[path] = &fileState{
			entry:   workspace.FileEntry{Path: path, BlobSHA: strPtr(sha), Content: content, Origin: workspace.OriginRemote},
			base:    content,
			version: prev + 1,
		}
	}
	s.unlockAndNotify(ChangeRemote, path)
}

func strPtr(s string) *string { return &s }

func copyIndex(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
