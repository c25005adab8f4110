package session

import "sync"

// Workspace is the scratch state of one tab. Values set in one tab's
// workspace are invisible to every other tab.
type Workspace struct {
	sid string

	// notifyMu serializes mutations with their notifications so onChange
	// observes snapshots in the order the mutations happened.
	notifyMu sync.Mutex

	mu       sync.RWMutex
	values   map[string]string
	onChange func(sid string, snapshot map[string]string)
}

// NewWorkspace returns an empty workspace for sid. onChange, when non-nil,
// runs after every mutation with a snapshot of the new state. It must not
// mutate the same workspace.
func NewWorkspace(sid string, onChange func(sid string, snapshot map[string]string)) *Workspace {
	return &Workspace{
		sid:      sid,
		values:   make(map[string]string),
		onChange: onChange,
	}
}

func (w *Workspace) SID() string { return w.sid }

func (w *Workspace) Get(key string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.values[key]
	return v, ok
}

func (w *Workspace) Set(key, value string) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	w.values[key] = value
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)
}

// Delete removes key and reports whether it was present.
func (w *Workspace) Delete(key string) bool {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	_, ok := w.values[key]
	if !ok {
		w.mu.Unlock()
		return false
	}
	delete(w.values, key)
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)
	return true
}

// Snapshot returns a copy of all values.
func (w *Workspace) Snapshot() map[string]string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshotLocked()
}

func (w *Workspace) snapshotLocked() map[string]string {
	out := make(map[string]string, len(w.values))
	for k, v := range w.values {
		out[k] = v
	}
	return out
}

func (w *Workspace) notify(snap map[string]string) {
	if w.onChange != nil {
		w.onChange(w.sid, snap)
	}
}
