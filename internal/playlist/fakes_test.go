package playlist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/katsuma/jukeboxx/internal/domain"
)

var errBoom = errors.New("boom")

// memStore is an in-memory Store. Snapshots reach subscribers right after
// each mutation, or, in async mode, are held until deliver is called.
type memStore struct {
	mu        sync.Mutex
	available bool
	failing   bool
	failOps   map[string]bool
	gates     map[string]chan struct{}
	async     bool
	notices   []func()
	meta      map[string]*domain.QueueMetadata
	queues    map[string][]domain.Entry
	current   map[string]*domain.Entry
	history   map[string]map[string]domain.Entry
	ops       []string

	queueSubs   map[string][]func([]domain.Entry)
	currentSubs map[string][]func(*domain.Entry)
	historySubs map[string][]func([]domain.Entry)
}

func newMemStore() *memStore {
	return &memStore{
		available:   true,
		failOps:     make(map[string]bool),
		gates:       make(map[string]chan struct{}),
		meta:        make(map[string]*domain.QueueMetadata),
		queues:      make(map[string][]domain.Entry),
		current:     make(map[string]*domain.Entry),
		history:     make(map[string]map[string]domain.Entry),
		queueSubs:   make(map[string][]func([]domain.Entry)),
		currentSubs: make(map[string][]func(*domain.Entry)),
		historySubs: make(map[string][]func([]domain.Entry)),
	}
}

// unavailableStore behaves like a store that was never configured.
func unavailableStore() *memStore {
	s := newMemStore()
	s.available = false
	return s
}

// failingStore is connected but every write fails.
func failingStore() *memStore {
	s := newMemStore()
	s.failing = true
	return s
}

func (s *memStore) IsAvailable() bool { return s.available }

func (s *memStore) GetMetadata(_ context.Context, queueID string) (*domain.QueueMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.meta[queueID]
	return meta, ok
}

func (s *memStore) SubscribeQueue(_ context.Context, queueID string, fn func([]domain.Entry)) func() {
	if !s.available {
		fn(nil)
		return func() {}
	}
	var stopped atomic.Bool
	s.mu.Lock()
	s.queueSubs[queueID] = append(s.queueSubs[queueID], func(v []domain.Entry) {
		if !stopped.Load() {
			fn(v)
		}
	})
	items := s.queueLocked(queueID)
	s.mu.Unlock()
	fn(items)
	return func() { stopped.Store(true) }
}

func (s *memStore) SubscribeCurrent(_ context.Context, queueID string, fn func(*domain.Entry)) func() {
	if !s.available {
		fn(nil)
		return func() {}
	}
	var stopped atomic.Bool
	s.mu.Lock()
	s.currentSubs[queueID] = append(s.currentSubs[queueID], func(v *domain.Entry) {
		if !stopped.Load() {
			fn(v)
		}
	})
	cur := s.currentLocked(queueID)
	s.mu.Unlock()
	fn(cur)
	return func() { stopped.Store(true) }
}

func (s *memStore) SubscribeHistory(_ context.Context, queueID string, fn func([]domain.Entry)) func() {
	if !s.available {
		fn(nil)
		return func() {}
	}
	var stopped atomic.Bool
	s.mu.Lock()
	s.historySubs[queueID] = append(s.historySubs[queueID], func(v []domain.Entry) {
		if !stopped.Load() {
			fn(v)
		}
	})
	items := s.historyLocked(queueID)
	s.mu.Unlock()
	fn(items)
	return func() { stopped.Store(true) }
}

// asyncStore holds change notices until deliver is called, like a pub/sub
// feed that lags behind the writes.
func asyncStore() *memStore {
	s := newMemStore()
	s.async = true
	return s
}

// hold blocks writes of op until the returned release is called.
func (s *memStore) hold(op string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[op] = gate
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (s *memStore) failOn(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps[op] = true
}

func (s *memStore) ReadQueue(_ context.Context, queueID string) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return nil, errors.New("read_queue: store unavailable")
	}
	return s.queueLocked(queueID), nil
}

func (s *memStore) ReadCurrent(_ context.Context, queueID string) (*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return nil, errors.New("read_current: store unavailable")
	}
	return s.currentLocked(queueID), nil
}

func (s *memStore) ReadHistory(_ context.Context, queueID string) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return nil, errors.New("read_history: store unavailable")
	}
	return s.historyLocked(queueID), nil
}

func (s *memStore) write(op, queueID string, mutate func()) error {
	s.mu.Lock()
	gate := s.gates[op]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	s.ops = append(s.ops, op)
	if !s.available {
		s.mu.Unlock()
		return fmt.Errorf("%s: store unavailable", op)
	}
	if s.failing || s.failOps[op] {
		s.mu.Unlock()
		return errBoom
	}
	mutate()
	s.mu.Unlock()
	return nil
}

func (s *memStore) AddToQueue(_ context.Context, queueID string, entry domain.Entry) error {
	err := s.write("add_to_queue", queueID, func() {
		s.queues[queueID] = append(s.queues[queueID], entry)
	})
	if err == nil {
		s.publishQueue(queueID)
	}
	return err
}

func (s *memStore) RemoveFromQueue(_ context.Context, queueID, entryID string) error {
	err := s.write("remove_from_queue", queueID, func() {
		s.queues[queueID] = without(s.queues[queueID], entryID)
	})
	if err == nil {
		s.publishQueue(queueID)
	}
	return err
}

func (s *memStore) ClearQueue(_ context.Context, queueID string) error {
	err := s.write("clear_queue", queueID, func() {
		s.queues[queueID] = nil
	})
	if err == nil {
		s.publishQueue(queueID)
	}
	return err
}

func (s *memStore) UpdateCurrentItem(_ context.Context, queueID string, entry *domain.Entry) error {
	err := s.write("update_current", queueID, func() {
		if entry == nil {
			delete(s.current, queueID)
			return
		}
		e := *entry
		s.current[queueID] = &e
	})
	if err == nil {
		s.publishCurrent(queueID)
	}
	return err
}

func (s *memStore) AddToHistory(_ context.Context, queueID string, entry domain.Entry) error {
	err := s.write("add_to_history", queueID, func() {
		if s.history[queueID] == nil {
			s.history[queueID] = make(map[string]domain.Entry)
		}
		s.history[queueID][entry.ID] = entry
	})
	if err == nil {
		s.publishHistory(queueID)
	}
	return err
}

func (s *memStore) RemoveFromHistory(_ context.Context, queueID, entryID string) error {
	err := s.write("remove_from_history", queueID, func() {
		delete(s.history[queueID], entryID)
	})
	if err == nil {
		s.publishHistory(queueID)
	}
	return err
}

// seed writes state directly, without notifying subscribers.
func (s *memStore) seed(queueID string, queue []domain.Entry, current *domain.Entry, history []domain.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queueID] = append([]domain.Entry(nil), queue...)
	if current != nil {
		c := *current
		s.current[queueID] = &c
	}
	s.history[queueID] = make(map[string]domain.Entry)
	for _, e := range history {
		s.history[queueID][e.ID] = e
	}
}

// publish* read the slot at write time. In async mode the notice, with
// that payload, waits in s.notices.
func (s *memStore) publishQueue(queueID string) {
	s.mu.Lock()
	items := s.queueLocked(queueID)
	s.mu.Unlock()
	s.dispatch(func() { s.emitQueue(queueID, items) })
}

func (s *memStore) publishCurrent(queueID string) {
	s.mu.Lock()
	cur := s.currentLocked(queueID)
	s.mu.Unlock()
	s.dispatch(func() { s.emitCurrent(queueID, cur) })
}

func (s *memStore) publishHistory(queueID string) {
	s.mu.Lock()
	items := s.historyLocked(queueID)
	s.mu.Unlock()
	s.dispatch(func() { s.emitHistory(queueID, items) })
}

func (s *memStore) dispatch(notice func()) {
	s.mu.Lock()
	if s.async {
		s.notices = append(s.notices, notice)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	notice()
}

// deliver runs the held notices in order.
func (s *memStore) deliver() {
	s.mu.Lock()
	notices := s.notices
	s.notices = nil
	s.mu.Unlock()
	for _, notice := range notices {
		notice()
	}
}

// emit* hand subscribers an arbitrary payload, such as a read that was
// taken before the latest write.
func (s *memStore) emitQueue(queueID string, items []domain.Entry) {
	s.mu.Lock()
	subs := append([]func([]domain.Entry){}, s.queueSubs[queueID]...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(append([]domain.Entry(nil), items...))
	}
}

func (s *memStore) emitCurrent(queueID string, entry *domain.Entry) {
	s.mu.Lock()
	subs := append([]func(*domain.Entry){}, s.currentSubs[queueID]...)
	s.mu.Unlock()
	for _, fn := range subs {
		var cur *domain.Entry
		if entry != nil {
			c := *entry
			cur = &c
		}
		fn(cur)
	}
}

func (s *memStore) emitHistory(queueID string, items []domain.Entry) {
	s.mu.Lock()
	subs := append([]func([]domain.Entry){}, s.historySubs[queueID]...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(append([]domain.Entry(nil), items...))
	}
}

func (s *memStore) queueLocked(queueID string) []domain.Entry {
	return append([]domain.Entry{}, s.queues[queueID]...)
}

func (s *memStore) currentLocked(queueID string) *domain.Entry {
	cur, ok := s.current[queueID]
	if !ok {
		return nil
	}
	c := *cur
	return &c
}

func (s *memStore) historyLocked(queueID string) []domain.Entry {
	items := make([]domain.Entry, 0, len(s.history[queueID]))
	for _, e := range s.history[queueID] {
		items = append(items, e)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].AddedAt != items[j].AddedAt {
			return items[i].AddedAt > items[j].AddedAt
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func (s *memStore) opCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

func (s *memStore) remoteCurrent(queueID string) *domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(queueID)
}

func (s *memStore) remoteQueue(queueID string) []domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueLocked(queueID)
}

func (s *memStore) remoteHistory(queueID string) []domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked(queueID)
}

// stubFetcher resolves every ref to "Title {ref}", optionally holding
// lookups until release is closed.
type stubFetcher struct {
	release chan struct{}
	fail    bool

	mu    sync.Mutex
	calls []string
}

func (f *stubFetcher) Fetch(ctx context.Context, videoRef string) domain.VideoInfo {
	f.mu.Lock()
	f.calls = append(f.calls, videoRef)
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.FallbackInfo(videoRef)
		}
	}
	if f.fail {
		return domain.FallbackInfo(videoRef)
	}
	return domain.VideoInfo{
		Title:        "Title " + videoRef,
		ThumbnailURL: "https://i.ytimg.com/vi/" + videoRef + "/mqdefault.jpg",
	}
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// stepClock advances one second per call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// seqIDs mints e1, e2, ...
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("e%d", g.n)
}
