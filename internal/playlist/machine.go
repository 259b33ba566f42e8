package playlist

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/logger"
)

// ErrClosed is returned by operations on a machine that was shut down.
var ErrClosed = errors.New("playlist closed")

// Store is the remote mirror of one or more queues.
type Store interface {
	IsAvailable() bool
	GetMetadata(ctx context.Context, queueID string) (*domain.QueueMetadata, bool)

	SubscribeQueue(ctx context.Context, queueID string, fn func([]domain.Entry)) func()
	SubscribeCurrent(ctx context.Context, queueID string, fn func(*domain.Entry)) func()
	SubscribeHistory(ctx context.Context, queueID string, fn func([]domain.Entry)) func()

	ReadQueue(ctx context.Context, queueID string) ([]domain.Entry, error)
	ReadCurrent(ctx context.Context, queueID string) (*domain.Entry, error)
	ReadHistory(ctx context.Context, queueID string) ([]domain.Entry, error)

	AddToQueue(ctx context.Context, queueID string, entry domain.Entry) error
	RemoveFromQueue(ctx context.Context, queueID, entryID string) error
	ClearQueue(ctx context.Context, queueID string) error
	UpdateCurrentItem(ctx context.Context, queueID string, entry *domain.Entry) error
	AddToHistory(ctx context.Context, queueID string, entry domain.Entry) error
	RemoveFromHistory(ctx context.Context, queueID, entryID string) error
}

// MetadataFetcher resolves display info for a video ref. It never fails.
type MetadataFetcher interface {
	Fetch(ctx context.Context, videoRef string) domain.VideoInfo
}

// Option customises a Machine.
type Option func(*Machine)

// WithClock overrides the time source used for addedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithIDGenerator overrides how entry ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(m *Machine) { m.newID = newID }
}

// Machine owns the playlist state of one queue.
//
// Local operations change memory first and return; the matching remote
// writes are queued on a serial worker. The snapshots delivered while
// subscribing replace local state directly. After that a change notice only
// queues a re-read of the collection on the same worker, behind the writes
// already queued, and the result is applied once no write to that
// collection is pending. Entries submitted here and not yet mirrored are
// kept, as is local state whose remote write failed.
//
// Whenever pending is non-empty and nothing is current the machine advances.
type Machine struct {
	queueID string
	store   Store
	fetcher MetadataFetcher
	logger  logger.Logger
	now     func() time.Time
	newID   func() string
	synced  bool

	ctx       context.Context
	cancel    context.CancelFunc
	mirrorCtx context.Context
	mirrors   *mirrorQueue
	fetches   sync.WaitGroup

	mu          sync.Mutex
	meta        *domain.QueueMetadata
	pending     []domain.Entry
	current     *domain.Entry
	history     []domain.Entry
	unconfirmed map[string]struct{}
	inflight    map[slot]int
	touched     map[slot]bool
	refreshing  map[slot]bool
	hydrating   bool
	unsubs      []func()
	version     uint64
	started     bool
	closed      bool

	// local state kept over remote reads after a failed write
	dropped       map[string]struct{}
	droppedPlayed map[string]struct{}
	keptPlayed    map[string]domain.Entry
	holdCurrent   bool

	notifyMu     sync.Mutex
	listeners    map[int]*listener
	nextListener int
}

type listener struct {
	fn   func(Snapshot)
	seen uint64
}

// New creates a machine for queueID. Call Start to hydrate it from the store.
func New(ctx context.Context, queueID string, store Store, fetcher MetadataFetcher, log logger.Logger, opts ...Option) *Machine {
	ctx, cancel := context.WithCancel(ctx)
	m := &Machine{
		queueID:     queueID,
		store:       store,
		fetcher:     fetcher,
		logger:      log.With(logger.String("queue_id", queueID)),
		now:         time.Now,
		newID:       domain.NewID,
		synced:      store.IsAvailable(),
		ctx:         ctx,
		cancel:      cancel,
		mirrorCtx:   context.WithoutCancel(ctx),
		mirrors:     newMirrorQueue(),
		unconfirmed: make(map[string]struct{}),
		inflight:    make(map[slot]int),
		touched:     make(map[slot]bool),
		refreshing:  make(map[slot]bool),
		listeners:   make(map[int]*listener),

		dropped:       make(map[string]struct{}),
		droppedPlayed: make(map[string]struct{}),
		keptPlayed:    make(map[string]domain.Entry),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.mirrors.run(m.execMirror)
	return m
}

// QueueID returns the queue this machine serves.
func (m *Machine) QueueID() string { return m.queueID }

// Done is closed once the machine is closed or its parent context ends.
func (m *Machine) Done() <-chan struct{} { return m.ctx.Done() }

// Start loads metadata and subscribes to the remote collections. Current and
// history are subscribed before the queue so that the first queue snapshot
// sees the real current item and does not advance over it.
func (m *Machine) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.hydrating = true
	m.mu.Unlock()

	if meta, ok := m.store.GetMetadata(m.ctx, m.queueID); ok {
		m.mu.Lock()
		m.meta = meta
		m.mu.Unlock()
	}

	unsubs := []func(){
		m.store.SubscribeCurrent(m.ctx, m.queueID, m.onRemoteCurrent),
		m.store.SubscribeHistory(m.ctx, m.queueID, m.onRemoteHistory),
		m.store.SubscribeQueue(m.ctx, m.queueID, m.onRemoteQueue),
	}

	m.mu.Lock()
	m.hydrating = false
	if m.closed {
		m.mu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}
		return
	}
	m.unsubs = unsubs
	m.mu.Unlock()

	m.logger.Debug("playlist started", logger.Bool("synced", m.synced))
}

// Close releases subscriptions, lets queued mirror writes finish and stops
// the machine. Safe to call more than once.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	m.cancel()
	m.fetches.Wait()
	m.mirrors.close()

	m.logger.Debug("playlist closed")
}

// Wait blocks until metadata lookups and mirror writes issued so far are done.
func (m *Machine) Wait() {
	m.fetches.Wait()
	m.mirrors.wait()
}

// Submit validates rawURL and appends a provisional entry to the pending
// list. Metadata is looked up in the background and patched in place.
func (m *Machine) Submit(rawURL string) (domain.Entry, error) {
	videoRef, ok := domain.ResolveVideoRef(rawURL)
	if !ok {
		return domain.Entry{}, domain.ErrInvalidURL
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.Entry{}, ErrClosed
	}
	entry := m.appendLocked(rawURL, videoRef)
	snap := m.settleLocked()
	m.mu.Unlock()

	m.notify(snap)
	m.fetchMetadata(entry)

	m.logger.Info("entry submitted",
		logger.String("entry_id", entry.ID),
		logger.String("video_ref", videoRef))
	return entry, nil
}

// Advance moves current to played and promotes the pending head.
func (m *Machine) Advance() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if !m.advanceLocked() {
		m.mu.Unlock()
		return
	}
	snap := m.settleLocked()
	m.mu.Unlock()

	m.notify(snap)
}

// Finished advances only if entryID is still the current item, so several
// viewers reporting the end of the same video advance once.
func (m *Machine) Finished(entryID string) bool {
	m.mu.Lock()
	if m.closed || !m.isCurrentLocked(entryID) {
		m.mu.Unlock()
		return false
	}
	m.advanceLocked()
	snap := m.settleLocked()
	m.mu.Unlock()

	m.notify(snap)
	return true
}

// Remove deletes an entry from pending or played. Removing from played also
// drops pending entries of the same video. The current item is never touched.
func (m *Machine) Remove(entryID string, kind domain.ListKind) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	var found bool
	switch kind {
	case domain.ListPending:
		found = m.removePendingLocked(entryID)
	case domain.ListPlayed:
		found = m.removePlayedLocked(entryID, "")
	}
	if !found {
		m.mu.Unlock()
		return domain.ErrEntryNotFound
	}
	snap := m.settleLocked()
	m.mu.Unlock()

	m.notify(snap)
	return nil
}

// Requeue submits a played entry's source URL again as a new entry and
// removes the played one. The new entry survives the played-removal sweep.
func (m *Machine) Requeue(entryID string) (domain.Entry, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.Entry{}, ErrClosed
	}

	idx := indexOf(m.history, entryID)
	if idx < 0 || m.isCurrentLocked(entryID) {
		m.mu.Unlock()
		return domain.Entry{}, domain.ErrEntryNotFound
	}
	played := m.history[idx]

	sourceURL := played.SourceURL
	videoRef, ok := domain.ResolveVideoRef(sourceURL)
	if !ok {
		if played.VideoRef == "" {
			m.mu.Unlock()
			return domain.Entry{}, domain.ErrInvalidURL
		}
		sourceURL, videoRef = played.WatchURL(), played.VideoRef
	}
	entry := m.appendLocked(sourceURL, videoRef)
	m.removePlayedLocked(entryID, entry.ID)
	snap := m.settleLocked()
	m.mu.Unlock()

	m.notify(snap)
	m.fetchMetadata(entry)

	m.logger.Info("entry requeued",
		logger.String("entry_id", entry.ID),
		logger.String("played_id", entryID))
	return entry, nil
}

// UpdateCurrentTitle replaces the current item's title with the one the
// player reports. Empty titles and an empty current slot are ignored.
func (m *Machine) UpdateCurrentTitle(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}

	m.mu.Lock()
	if m.closed || m.current == nil {
		m.mu.Unlock()
		return false
	}
	if m.current.Title == title {
		m.mu.Unlock()
		return true
	}
	m.current.Title = title
	m.mirrorCurrentLocked(m.current)
	snap := m.settleLocked()
	m.mu.Unlock()

	m.notify(snap)
	return true
}

// ClearQueue empties the pending list.
func (m *Machine) ClearQueue() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	cleared := make([]string, len(m.pending))
	for i, e := range m.pending {
		cleared[i] = e.ID
	}
	m.pending = nil
	clear(m.unconfirmed)
	m.mirrorLocked("clear_queue", slotQueue, func(ctx context.Context) error {
		return m.store.ClearQueue(ctx, m.queueID)
	}, nil, func() {
		for _, id := range cleared {
			m.dropped[id] = struct{}{}
		}
	})
	snap := m.settleLocked()
	m.mu.Unlock()

	m.notify(snap)
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe calls fn with the current snapshot and then after every change.
// fn must not block and must not call back into the machine.
func (m *Machine) Subscribe(fn func(Snapshot)) func() {
	m.notifyMu.Lock()
	snap := m.Snapshot()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = &listener{fn: fn, seen: snap.Version}
	fn(snap)
	m.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.notifyMu.Lock()
			delete(m.listeners, id)
			m.notifyMu.Unlock()
		})
	}
}

// Viewers returns how many listeners are attached.
func (m *Machine) Viewers() int {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	return len(m.listeners)
}

// ─────────────────────────────
// Remote snapshots
// ─────────────────────────────

func (m *Machine) onRemoteQueue(items []domain.Entry) {
	m.remote(slotQueue, func() { m.applyQueueLocked(items) })
}

func (m *Machine) onRemoteCurrent(entry *domain.Entry) {
	m.remote(slotCurrent, func() { m.applyCurrentLocked(entry) })
}

func (m *Machine) onRemoteHistory(items []domain.Entry) {
	m.remote(slotHistory, func() { m.applyHistoryLocked(items) })
}

// remote applies a snapshot delivered while subscribing. Any later delivery
// may have been read before a local write landed, so it only queues a
// re-read.
func (m *Machine) remote(s slot, apply func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if !m.hydrating || m.touched[s] {
		m.refreshLocked(s)
		m.mu.Unlock()
		return
	}
	apply()
	snap := m.settleLocked()
	m.mu.Unlock()

	m.notify(snap)
}

// refreshLocked queues a re-read of s unless one is already waiting.
func (m *Machine) refreshLocked(s slot) {
	if !m.synced || m.refreshing[s] {
		return
	}
	if m.mirrors.push(mirrorJob{op: "refresh", slot: s}) {
		m.refreshing[s] = true
	}
}

// reread loads s from the store and applies it. It runs on the mirror
// worker, so every write queued before it has landed. Writes queued after
// it are not in the result yet, in which case it reads again behind them.
func (m *Machine) reread(s slot) {
	m.mu.Lock()
	m.refreshing[s] = false
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	var (
		apply func()
		err   error
	)
	switch s {
	case slotQueue:
		var items []domain.Entry
		items, err = m.store.ReadQueue(m.ctx, m.queueID)
		apply = func() { m.applyQueueLocked(items) }
	case slotCurrent:
		var entry *domain.Entry
		entry, err = m.store.ReadCurrent(m.ctx, m.queueID)
		apply = func() { m.applyCurrentLocked(entry) }
	case slotHistory:
		var items []domain.Entry
		items, err = m.store.ReadHistory(m.ctx, m.queueID)
		apply = func() { m.applyHistoryLocked(items) }
	default:
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("remote read failed, keeping local state",
			logger.String("slot", s.String()),
			logger.Error(err))
		return
	}
	if m.inflight[s] > 0 {
		m.refreshLocked(s)
		m.mu.Unlock()
		return
	}
	apply()
	snap := m.settleLocked()
	m.mu.Unlock()

	m.notify(snap)
}

// applyQueueLocked replaces pending with the remote list. Unmirrored local
// submissions are appended and entries whose remote removal failed stay out.
func (m *Machine) applyQueueLocked(items []domain.Entry) {
	remote := make(map[string]struct{}, len(items))
	merged := make([]domain.Entry, 0, len(items)+len(m.unconfirmed))
	for _, e := range items {
		remote[e.ID] = struct{}{}
		delete(m.unconfirmed, e.ID)
		if _, gone := m.dropped[e.ID]; gone {
			continue
		}
		merged = append(merged, e)
	}
	for id := range m.dropped {
		if _, ok := remote[id]; !ok {
			delete(m.dropped, id)
		}
	}
	for _, e := range m.pending {
		if _, mine := m.unconfirmed[e.ID]; !mine {
			continue
		}
		if _, seen := remote[e.ID]; !seen {
			merged = append(merged, e)
		}
	}
	m.pending = merged
}

// applyCurrentLocked is a no-op while the last current write failed.
func (m *Machine) applyCurrentLocked(entry *domain.Entry) {
	if m.holdCurrent {
		return
	}
	if entry == nil {
		m.current = nil
		return
	}
	c := *entry
	m.current = &c
}

// applyHistoryLocked replaces played with the remote list, keeping played
// entries whose remote write failed and leaving out failed removals.
func (m *Machine) applyHistoryLocked(items []domain.Entry) {
	remote := make(map[string]struct{}, len(items))
	history := make([]domain.Entry, 0, len(items)+len(m.keptPlayed))
	for _, e := range items {
		remote[e.ID] = struct{}{}
		delete(m.keptPlayed, e.ID)
		if _, gone := m.droppedPlayed[e.ID]; gone {
			continue
		}
		history = append(history, e)
	}
	for id := range m.droppedPlayed {
		if _, ok := remote[id]; !ok {
			delete(m.droppedPlayed, id)
		}
	}
	if len(m.keptPlayed) > 0 {
		for _, e := range m.keptPlayed {
			history = append(history, e)
		}
		sort.SliceStable(history, func(i, j int) bool {
			if history[i].AddedAt != history[j].AddedAt {
				return history[i].AddedAt > history[j].AddedAt
			}
			return history[i].ID < history[j].ID
		})
	}
	m.history = history
}

// ─────────────────────────────
// Mirroring
// ─────────────────────────────

// mirrorLocked queues a remote write. Nothing is queued when the store is
// not available. onSuccess and onFailure run on the worker with m.mu held.
func (m *Machine) mirrorLocked(op string, s slot, write func(ctx context.Context) error, onSuccess, onFailure func()) {
	if !m.synced {
		return
	}
	job := mirrorJob{op: op, slot: s, write: write, onSuccess: onSuccess, onFailure: onFailure}
	if !m.mirrors.push(job) {
		return
	}
	m.inflight[s]++
	m.touched[s] = true
}

func (m *Machine) mirrorCurrentLocked(entry *domain.Entry) {
	var current *domain.Entry
	if entry != nil {
		c := *entry
		current = &c
	}
	m.mirrorLocked("update_current", slotCurrent, func(ctx context.Context) error {
		return m.store.UpdateCurrentItem(ctx, m.queueID, current)
	}, func() {
		m.holdCurrent = false
	}, func() {
		m.holdCurrent = true
	})
}

func (m *Machine) mirrorPlayedLocked(played domain.Entry) {
	m.mirrorLocked("add_to_history", slotHistory, func(ctx context.Context) error {
		return m.store.AddToHistory(ctx, m.queueID, played)
	}, func() {
		delete(m.keptPlayed, played.ID)
	}, func() {
		if indexOf(m.history, played.ID) >= 0 {
			m.keptPlayed[played.ID] = played
		}
	})
}

func (m *Machine) mirrorRemoveLocked(entryID string) {
	m.mirrorLocked("remove_from_queue", slotQueue, func(ctx context.Context) error {
		return m.store.RemoveFromQueue(ctx, m.queueID, entryID)
	}, nil, func() {
		m.dropped[entryID] = struct{}{}
	})
}

// execMirror runs one queued job. A failed write keeps local state and
// queues a re-read so remote changes made meanwhile still arrive.
func (m *Machine) execMirror(job mirrorJob) {
	if job.write == nil {
		m.reread(job.slot)
		return
	}
	err := job.write(m.mirrorCtx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight[job.slot]--
	if err == nil {
		if job.onSuccess != nil {
			job.onSuccess()
		}
		return
	}

	m.logger.Warn("mirror write failed, keeping local state",
		logger.String("op", job.op),
		logger.String("slot", job.slot.String()),
		logger.Error(err))
	if job.onFailure != nil {
		job.onFailure()
	}
	m.refreshLocked(job.slot)
}

// ─────────────────────────────
// Metadata
// ─────────────────────────────

func (m *Machine) fetchMetadata(entry domain.Entry) {
	m.fetches.Add(1)
	go func() {
		defer m.fetches.Done()
		info := m.fetcher.Fetch(m.ctx, entry.VideoRef)
		m.applyInfo(entry.ID, info)
	}()
}

// applyInfo patches the entry wherever it now lives and mirrors the result.
// The title is only replaced while it is still the loading placeholder.
func (m *Machine) applyInfo(entryID string, info domain.VideoInfo) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	target, where := m.locateLocked(entryID)
	if target == nil {
		m.mu.Unlock()
		return
	}
	if info.Title != "" && target.HasPlaceholderTitle() {
		target.Title = info.Title
	}
	if info.ThumbnailURL != "" {
		target.ThumbnailURL = info.ThumbnailURL
	}
	patched := *target

	switch where {
	case slotQueue:
		m.mirrorLocked("add_to_queue", slotQueue, func(ctx context.Context) error {
			return m.store.AddToQueue(ctx, m.queueID, patched)
		}, func() {
			delete(m.unconfirmed, patched.ID)
		}, nil)
	case slotCurrent:
		m.mirrorCurrentLocked(&patched)
	case slotHistory:
		m.mirrorPlayedLocked(patched)
	}
	snap := m.settleLocked()
	m.mu.Unlock()

	m.notify(snap)
}

// ─────────────────────────────
// State transitions (m.mu held)
// ─────────────────────────────

func (m *Machine) appendLocked(sourceURL, videoRef string) domain.Entry {
	entry := domain.NewEntry(m.newID(), sourceURL, videoRef, m.now())
	m.pending = append(m.pending, entry)
	if m.synced {
		m.unconfirmed[entry.ID] = struct{}{}
	}
	return entry
}

// advanceLocked reports whether anything changed.
func (m *Machine) advanceLocked() bool {
	if m.current == nil && len(m.pending) == 0 {
		return false
	}

	if m.current != nil {
		played := *m.current
		played.AddedAt = domain.Millis(m.now())
		m.history = append([]domain.Entry{played}, without(m.history, played.ID)...)
		m.mirrorPlayedLocked(played)
		m.sweepPendingLocked(played.VideoRef, "")
	}

	if len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = append([]domain.Entry(nil), m.pending[1:]...)
		delete(m.unconfirmed, next.ID)
		m.current = &next
		m.mirrorCurrentLocked(&next)
		m.mirrorRemoveLocked(next.ID)
	} else {
		m.current = nil
		m.mirrorCurrentLocked(nil)
	}
	return true
}

func (m *Machine) removePendingLocked(entryID string) bool {
	idx := indexOf(m.pending, entryID)
	if idx < 0 {
		return false
	}
	m.pending = without(m.pending, entryID)
	delete(m.unconfirmed, entryID)
	m.mirrorRemoveLocked(entryID)
	return true
}

// removePlayedLocked removes a played entry and the pending entries of the
// same video, except keepID.
func (m *Machine) removePlayedLocked(entryID, keepID string) bool {
	idx := indexOf(m.history, entryID)
	if idx < 0 || m.isCurrentLocked(entryID) {
		return false
	}
	videoRef := m.history[idx].VideoRef
	m.history = without(m.history, entryID)
	delete(m.keptPlayed, entryID)
	m.mirrorLocked("remove_from_history", slotHistory, func(ctx context.Context) error {
		return m.store.RemoveFromHistory(ctx, m.queueID, entryID)
	}, nil, func() {
		m.droppedPlayed[entryID] = struct{}{}
	})
	m.sweepPendingLocked(videoRef, keepID)
	return true
}

// sweepPendingLocked drops pending entries playing videoRef, except keepID.
func (m *Machine) sweepPendingLocked(videoRef, keepID string) {
	kept := make([]domain.Entry, 0, len(m.pending))
	for _, e := range m.pending {
		if e.VideoRef != videoRef || e.ID == keepID {
			kept = append(kept, e)
			continue
		}
		delete(m.unconfirmed, e.ID)
		m.mirrorRemoveLocked(e.ID)
	}
	m.pending = kept
}

// normalizeLocked keeps ids unique across collections. Priority is current,
// then played, then pending. A played entry that is also current stays in
// m.history, since another client's advance writes played before current,
// and is hidden by visibleHistoryLocked instead.
func (m *Machine) normalizeLocked() {
	seen := make(map[string]struct{}, len(m.pending)+len(m.history)+1)

	history := make([]domain.Entry, 0, len(m.history))
	for _, e := range m.history {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		history = append(history, e)
	}
	m.history = history
	if m.current != nil {
		seen[m.current.ID] = struct{}{}
	}

	pending := make([]domain.Entry, 0, len(m.pending))
	for _, e := range m.pending {
		if _, dup := seen[e.ID]; dup {
			delete(m.unconfirmed, e.ID)
			continue
		}
		seen[e.ID] = struct{}{}
		pending = append(pending, e)
	}
	m.pending = pending
}

// settleLocked normalizes, auto-advances when needed and returns the
// snapshot to publish.
func (m *Machine) settleLocked() Snapshot {
	m.normalizeLocked()
	if m.current == nil && len(m.pending) > 0 {
		m.advanceLocked()
	}
	m.version++
	return m.snapshotLocked()
}

func (m *Machine) visibleHistoryLocked() []domain.Entry {
	if m.current == nil {
		return append([]domain.Entry{}, m.history...)
	}
	return without(m.history, m.current.ID)
}

func (m *Machine) isCurrentLocked(entryID string) bool {
	return m.current != nil && m.current.ID == entryID
}

func (m *Machine) locateLocked(entryID string) (*domain.Entry, slot) {
	if m.current != nil && m.current.ID == entryID {
		return m.current, slotCurrent
	}
	if idx := indexOf(m.pending, entryID); idx >= 0 {
		return &m.pending[idx], slotQueue
	}
	if idx := indexOf(m.history, entryID); idx >= 0 {
		return &m.history[idx], slotHistory
	}
	return nil, 0
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		QueueID: m.queueID,
		Version: m.version,
		Meta:    domain.DisplayMetadata(m.meta),
		Pending: append([]domain.Entry{}, m.pending...),
		History: m.visibleHistoryLocked(),
		Synced:  m.synced,
	}
	if m.current != nil {
		c := *m.current
		snap.Current = &c
	}
	n := min(len(snap.History), domain.RecentHistorySize)
	snap.RecentHistory = append([]domain.Entry{}, snap.History[:n]...)
	return snap
}

// notify delivers snap to each listener that has not seen a newer one.
func (m *Machine) notify(snap Snapshot) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	for _, l := range m.listeners {
		if snap.Version <= l.seen {
			continue
		}
		l.seen = snap.Version
		l.fn(snap)
	}
}

func indexOf(entries []domain.Entry, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func without(entries []domain.Entry, id string) []domain.Entry {
	out := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}
