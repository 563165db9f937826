// Package causaldoc is a local-first collaborative document engine: a
// document's state is a deterministic replay of an append-only, causal
// log of changes, and supports forking, merging, and time travel across
// peers.
package causaldoc

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cshekharsharma/causaldoc/arena"
	"github.com/cshekharsharma/causaldoc/container"
	"github.com/cshekharsharma/causaldoc/id"
	"github.com/cshekharsharma/causaldoc/internal/logging"
	"github.com/cshekharsharma/causaldoc/op"
	"github.com/cshekharsharma/causaldoc/oplog"
	"github.com/cshekharsharma/causaldoc/undo"
)

// DocOptions configures a Document via functional options, the pattern
// used throughout the teacher's own constructors for optional
// parameters layered over a mandatory nodeID/peer argument.
type DocOptions struct {
	peerID           id.PeerID
	log              *logrus.Logger
	blockTargetBytes int
	undoCapacity     int
}

// DocOption mutates a DocOptions in place.
type DocOption func(*DocOptions)

// WithPeerID fixes the document's peer identity instead of generating a
// random one.
func WithPeerID(p id.PeerID) DocOption {
	return func(o *DocOptions) { o.peerID = p }
}

// WithLogger overrides the default logger.
func WithLogger(l *logrus.Logger) DocOption {
	return func(o *DocOptions) { o.log = l }
}

// WithBlockTargetBytes overrides the change store's target block size.
func WithBlockTargetBytes(n int) DocOption {
	return func(o *DocOptions) { o.blockTargetBytes = n }
}

// WithUndoCapacity bounds the undo/redo history retained; 0 means
// unbounded.
func WithUndoCapacity(n int) DocOption {
	return func(o *DocOptions) { o.undoCapacity = n }
}

func defaultOptions() DocOptions {
	return DocOptions{peerID: randomPeerID(), log: logging.New(), blockTargetBytes: 4096}
}

func randomPeerID() id.PeerID {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return id.PeerID(binary.LittleEndian.Uint64(b[:]))
}

// Document owns every subsystem named in §2: the arena, the change
// store, the app dag, the pending buffer, the typed containers, and the
// undo manager. Per §5, three locks are always acquired in the order
// state -> oplog -> arena when more than one is needed; stateMu guards
// the container map and each container's own internal state, oplogMu
// guards changes/dag/pending, and the arena has its own interior lock.
type Document struct {
	peer id.PeerID
	log  *logrus.Entry

	stateMu sync.RWMutex
	texts   map[op.ContainerIdx]*container.Text
	lists   map[op.ContainerIdx]*container.List
	mlists  map[op.ContainerIdx]*container.MovableList
	maps    map[op.ContainerIdx]*container.Map
	trees   map[op.ContainerIdx]*container.Tree
	counts  map[op.ContainerIdx]*container.Counter

	oplogMu sync.Mutex
	changes *oplog.ChangeStore
	dag     *oplog.AppDag
	pending *oplog.PendingBuffer

	arena *arena.Arena
	undo  *undo.Manager

	localCounter id.Counter
	localLamport id.Lamport
	curChange    *op.Change

	// deleteSpans records, for a delete op authored by this replica, the
	// target id spans it resolved against the live sequence at the
	// moment of deletion. Checkout consults it to reverse a delete
	// precisely; a delete op with no entry here (received from another
	// peer, or from a change older than this process) is skipped by
	// checkout: it is neither undone nor re-applied.
	deleteSpans map[id.ID]id.IDSpanVector

	// checkoutFrontiers is nil when the materialised state is at the
	// oplog's current head; otherwise it names the frontiers Checkout
	// last moved to, which is what StateFrontiers reports instead of
	// OplogFrontiers.
	checkoutFrontiers id.Frontiers

	// shallowSinceVV is nil until this replica has imported a
	// ShallowSnapshot; once set, it is the boundary below which no
	// further Updates import is honored, per §4.2's ShallowSnapshot
	// semantics: an update that targets a version this replica has
	// already trimmed away can never be integrated, so Import rejects
	// it with ErrImportUpdatesOutdated instead of silently dropping it
	// into the pending buffer forever.
	shallowSinceVV id.VersionVector

	// poisoned is set once a mutating operation panics partway through
	// holding stateMu/oplogMu, the Go analogue of Rust's
	// std::sync::Mutex poisoning: a panic mid-mutation can leave
	// containers, the dag, and the oplog's invariants out of sync with
	// each other, so every subsequent mutating call fails fast with
	// ErrLock instead of silently operating on state no one can vouch
	// for anymore.
	poisoned atomic.Bool

	subscribers []func(changes []*op.Change)
}

// checkPoisoned returns ErrLock if a prior panic has poisoned the
// document; callers check this before taking any lock-protected action.
func (d *Document) checkPoisoned() error {
	if d.poisoned.Load() {
		return ErrLock("document poisoned by a panic during a prior mutation")
	}
	return nil
}

// recoverPoison is deferred by every top-level mutating entry point. On
// panic it marks the document poisoned, logs the recovered value, and
// assigns *errOut so the panic never unwinds past the API boundary.
func (d *Document) recoverPoison(errOut *error) {
	if r := recover(); r != nil {
		d.poisoned.Store(true)
		d.log.WithField("panic", r).Error("document poisoned by panic during mutation")
		*errOut = ErrLock(fmt.Sprintf("recovered panic: %v", r))
	}
}

// New returns a document with a freshly generated random peer id.
func New(opts ...DocOption) *Document {
	return NewWithOptions(opts...)
}

// NewWithPeerID returns a document whose peer id is fixed to p.
func NewWithPeerID(p id.PeerID, opts ...DocOption) *Document {
	return NewWithOptions(append([]DocOption{WithPeerID(p)}, opts...)...)
}

// NewWithOptions builds a document applying every option in order.
func NewWithOptions(opts ...DocOption) *Document {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Document{
		peer:    o.peerID,
		log:     o.log.WithField("peer", o.peerID),
		texts:   make(map[op.ContainerIdx]*container.Text),
		lists:   make(map[op.ContainerIdx]*container.List),
		mlists:  make(map[op.ContainerIdx]*container.MovableList),
		maps:    make(map[op.ContainerIdx]*container.Map),
		trees:   make(map[op.ContainerIdx]*container.Tree),
		counts:  make(map[op.ContainerIdx]*container.Counter),
		changes: oplog.NewChangeStore(o.blockTargetBytes, o.log.WithField("peer", o.peerID)),
		dag:     oplog.NewAppDag(),
		pending: oplog.NewPendingBuffer(),
		arena:       arena.New(),
		undo:        undo.NewManager(o.undoCapacity),
		deleteSpans: make(map[id.ID]id.IDSpanVector),
	}
	return d
}

// PeerID returns this replica's identity.
func (d *Document) PeerID() id.PeerID { return d.peer }

// IsEmpty reports whether the document has no committed changes at all.
func (d *Document) IsEmpty() bool {
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()
	return len(d.changes.AllChanges()) == 0
}

// Subscribe registers a callback invoked, after every commit or import,
// with the changes just applied, in commit order, per §5's "subscriber
// callbacks are emitted after the lock is released and in the order the
// changes were committed".
func (d *Document) Subscribe(f func(changes []*op.Change)) {
	d.stateMu.Lock()
	d.subscribers = append(d.subscribers, f)
	d.stateMu.Unlock()
}

func (d *Document) notify(changes []*op.Change) {
	if len(changes) == 0 {
		return
	}
	d.stateMu.RLock()
	subs := append([]func([]*op.Change){}, d.subscribers...)
	d.stateMu.RUnlock()
	for _, f := range subs {
		f(changes)
	}
}

// getOrRegister returns the container registration for name/typ,
// assigning a fresh ContainerIdx and root entry the first time it is
// seen, per Arena.RegisterContainer's idempotent contract.
func (d *Document) getOrRegister(name string, typ op.ContainerType) op.ContainerIdx {
	cid := arena.RootContainerID(name, typ)
	return d.arena.RegisterContainer(cid)
}

// GetText returns the named Text container, creating it on first use.
func (d *Document) GetText(name string) *container.Text {
	idx := d.getOrRegister(name, op.ContainerText)
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	t, ok := d.texts[idx]
	if !ok {
		t = container.NewText()
		d.texts[idx] = t
	}
	return t
}

// TextMarkValue is one currently-visible rich-text mark over a named
// text container, with Value resolved out of the arena rather than left
// as a raw index.
type TextMarkValue struct {
	Key   string
	Value any
}

// ActiveTextMarks returns every currently-visible mark on the named text
// container, resolving each mark's arena-interned value.
func (d *Document) ActiveTextMarks(name string) []TextMarkValue {
	t := d.GetText(name)
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	marks := t.ActiveMarks()
	out := make([]TextMarkValue, 0, len(marks))
	for _, m := range marks {
		var v any
		if m.Value != nil {
			v, _ = d.arena.Value(*m.Value)
		}
		out = append(out, TextMarkValue{Key: m.Key, Value: v})
	}
	return out
}

// GetList returns the named List container, creating it on first use.
func (d *Document) GetList(name string) *container.List {
	idx := d.getOrRegister(name, op.ContainerList)
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	l, ok := d.lists[idx]
	if !ok {
		l = container.NewList()
		d.lists[idx] = l
	}
	return l
}

// GetMovableList returns the named MovableList container, creating it on
// first use.
func (d *Document) GetMovableList(name string) *container.MovableList {
	idx := d.getOrRegister(name, op.ContainerMovableList)
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	m, ok := d.mlists[idx]
	if !ok {
		m = container.NewMovableList()
		d.mlists[idx] = m
	}
	return m
}

// GetMap returns the named Map container, creating it on first use.
func (d *Document) GetMap(name string) *container.Map {
	idx := d.getOrRegister(name, op.ContainerMap)
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	m, ok := d.maps[idx]
	if !ok {
		m = container.NewMap()
		d.maps[idx] = m
	}
	return m
}

// GetTree returns the named Tree container, creating it on first use.
func (d *Document) GetTree(name string) *container.Tree {
	idx := d.getOrRegister(name, op.ContainerTree)
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	t, ok := d.trees[idx]
	if !ok {
		t = container.NewTree()
		d.trees[idx] = t
	}
	return t
}

// GetCounter returns the named Counter container, creating it on first
// use.
func (d *Document) GetCounter(name string) *container.Counter {
	idx := d.getOrRegister(name, op.ContainerCounter)
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	c, ok := d.counts[idx]
	if !ok {
		c = container.NewCounter()
		d.counts[idx] = c
	}
	return c
}

// StateFrontiers returns the frontiers of the currently checked-out
// state, which may differ from OplogFrontiers after a time-travel
// Checkout.
func (d *Document) StateFrontiers() id.Frontiers {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	if d.checkoutFrontiers != nil {
		return d.checkoutFrontiers.Clone()
	}
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()
	return d.dag.Frontiers()
}

// OplogFrontiers returns the frontiers of the full causal log, ignoring
// any in-progress checkout.
func (d *Document) OplogFrontiers() id.Frontiers {
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()
	return d.dag.Frontiers()
}

// ShallowSinceVV returns the version vector below which this replica
// will refuse further Updates imports, or nil if it has never imported
// a ShallowSnapshot.
func (d *Document) ShallowSinceVV() id.VersionVector {
	d.oplogMu.Lock()
	defer d.oplogMu.Unlock()
	if d.shallowSinceVV == nil {
		return nil
	}
	return d.shallowSinceVV.Clone()
}
