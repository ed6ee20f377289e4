package calendar

import "sync"

// MonthTracker records which months have been fetched from the backend and
// which are being fetched. A month moves unloaded -> loading -> loaded and
// is never in both sets at once.
//
// The tracker is safe for concurrent use. BeginLoading is unconditional;
// callers that may race must use TryBeginLoading, which performs the
// check-then-set atomically.
type MonthTracker struct {
	mu      sync.Mutex
	loaded  map[MonthKey]struct{}
	loading map[MonthKey]struct{}
}

// NewMonthTracker returns an empty tracker.
func NewMonthTracker() *MonthTracker {
	return &MonthTracker{
		loaded:  make(map[MonthKey]struct{}),
		loading: make(map[MonthKey]struct{}),
	}
}

func (t *MonthTracker) IsLoaded(m MonthKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.loaded[m]
	return ok
}

func (t *MonthTracker) IsLoading(m MonthKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.loading[m]
	return ok
}

// BeginLoading puts m in the loading set.
func (t *MonthTracker) BeginLoading(m MonthKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.loaded, m)
	t.loading[m] = struct{}{}
}

// TryBeginLoading puts m in the loading set unless it is already there.
// It returns false when another fetch for m is in flight.
func (t *MonthTracker) TryBeginLoading(m MonthKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.loading[m]; busy {
		return false
	}
	delete(t.loaded, m)
	t.loading[m] = struct{}{}
	return true
}

// EndLoading removes m from the loading set without marking it loaded.
func (t *MonthTracker) EndLoading(m MonthKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.loading, m)
}

// MarkLoaded moves m into the loaded set.
func (t *MonthTracker) MarkLoaded(m MonthKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.loading, m)
	t.loaded[m] = struct{}{}
}

// Invalidate forgets that m was loaded so the next load fetches again.
// Cached content for m is kept.
func (t *MonthTracker) Invalidate(m MonthKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.loaded, m)
}
