// Package sessions tracks the window sessions attached to the gateway.
//
// Each open page registers itself as a window session. The lifecycle
// controller claims all sessions when a new worker version activates, and the
// notification click handler either refocuses an existing window or opens a
// new one.
package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// KindWindow is the only session kind the registry tracks. Other kinds
// (dedicated workers, shared workers) never attach to the gateway.
const KindWindow = "window"

// Window is one attached window session.
type Window struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	// Origin and Path locate the page the window is showing.
	Origin string `json:"origin"`
	Path   string `json:"path"`
	// Controller is the name of the store version controlling this window,
	// or empty if no worker has claimed it yet.
	Controller string    `json:"controller,omitempty"`
	OpenedAt   time.Time `json:"openedAt"`
	FocusedAt  time.Time `json:"focusedAt"`
}

// Registry is the live set of window sessions.
// All methods are safe for concurrent use.
type Registry struct {
	mutex   sync.RWMutex
	windows map[string]*Window
	// order holds window ids, most recently focused first
	order []string
	// controller is stamped onto new windows once Claim has been called
	controller string
}

func NewRegistry() *Registry {
	return &Registry{
		windows: make(map[string]*Window),
	}
}

// Register adds a new window session showing the given path and returns it.
// A newly opened window starts out focused.
func (r *Registry) Register(origin, path string) Window {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	now := time.Now()
	w := &Window{
		ID:         uuid.NewString(),
		Kind:       KindWindow,
		Origin:     origin,
		Path:       path,
		Controller: r.controller,
		OpenedAt:   now,
		FocusedAt:  now,
	}
	r.windows[w.ID] = w
	r.order = append([]string{w.ID}, r.order...)
	return *w
}

// OpenWindow opens a new window session on behalf of the worker, for example
// from a notification click when no window is attached.
func (r *Registry) OpenWindow(origin, path string) Window {
	return r.Register(origin, path)
}

// Unregister removes the window session with the given id.
// It reports whether the session existed.
func (r *Registry) Unregister(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.windows[id]; !ok {
		return false
	}
	delete(r.windows, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Windows returns all window sessions, most recently focused first.
func (r *Registry) Windows() []Window {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	windows := make([]Window, 0, len(r.order))
	for _, id := range r.order {
		windows = append(windows, *r.windows[id])
	}
	return windows
}

// Focus marks the window session with the given id as the focused one.
func (r *Registry) Focus(id string) (Window, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	w, ok := r.windows[id]
	if !ok {
		return Window{}, false
	}
	w.FocusedAt = time.Now()
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.order = append([]string{id}, r.order...)
	return *w, true
}

// Claim sets the controller of every attached session to the given store
// name and returns the number of sessions claimed. Windows registered after
// the claim are stamped with the same controller.
func (r *Registry) Claim(controller string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.controller = controller
	for _, w := range r.windows {
		w.Controller = controller
	}
	return len(r.windows)
}
