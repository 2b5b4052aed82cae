package manifest

import "sync"

// Location is the optional path to a scan's AndroidManifest.xml.
// It may start empty and be filled in once; after that it never changes.
type Location struct {
	mu   sync.RWMutex
	path string
}

// NewLocation creates a location, possibly empty.
func NewLocation(path string) *Location {
	return &Location{path: path}
}

// Get returns the current path, or "" if unset.
func (l *Location) Get() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

// IsSet reports whether a path has been assigned.
func (l *Location) IsSet() bool {
	return l.Get() != ""
}

// SetOnce assigns path if the location is still empty.
// It returns false, leaving the location untouched, when a path is already
// set or path is empty.
func (l *Location) SetOnce(path string) bool {
	if path == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path != "" {
		return false
	}
	l.path = path
	return true
}
