package listener

import (
	"slices"
	"sync"
)

// Registry holds the registered listeners per category. It may be mutated
// while a loop is running; the router works from a Snapshot taken at the
// start of each dispatch cycle, so changes apply from the next batch on.
type Registry struct {
	mu          sync.RWMutex
	room        []*RoomListener
	im          []*IMListener
	wallPost    []*WallPostListener
	suppression []*SuppressionListener
	connection  []*ConnectionListener
	elements    []*ElementsListener
}

// Snapshot is an immutable view of the registry. Slices are never written
// after the snapshot is taken.
type Snapshot struct {
	Room        []*RoomListener
	IM          []*IMListener
	WallPost    []*WallPostListener
	Suppression []*SuppressionListener
	Connection  []*ConnectionListener
	Elements    []*ElementsListener
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) AddRoomListener(l *RoomListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room = appendCopy(r.room, l)
}

func (r *Registry) AddIMListener(l *IMListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.im = appendCopy(r.im, l)
}

func (r *Registry) AddWallPostListener(l *WallPostListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallPost = appendCopy(r.wallPost, l)
}

func (r *Registry) AddSuppressionListener(l *SuppressionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppression = appendCopy(r.suppression, l)
}

func (r *Registry) AddConnectionListener(l *ConnectionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connection = appendCopy(r.connection, l)
}

func (r *Registry) AddElementsListener(l *ElementsListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elements = appendCopy(r.elements, l)
}

func (r *Registry) RemoveRoomListener(l *RoomListener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.room, ok = removeCopy(r.room, l)
	return ok
}

func (r *Registry) RemoveIMListener(l *IMListener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.im, ok = removeCopy(r.im, l)
	return ok
}

func (r *Registry) RemoveWallPostListener(l *WallPostListener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.wallPost, ok = removeCopy(r.wallPost, l)
	return ok
}

func (r *Registry) RemoveSuppressionListener(l *SuppressionListener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.suppression, ok = removeCopy(r.suppression, l)
	return ok
}

func (r *Registry) RemoveConnectionListener(l *ConnectionListener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.connection, ok = removeCopy(r.connection, l)
	return ok
}

func (r *Registry) RemoveElementsListener(l *ElementsListener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.elements, ok = removeCopy(r.elements, l)
	return ok
}

// Snapshot returns the current listener set. Mutations always replace the
// backing slices, so handing out the headers is safe.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Room:        r.room,
		IM:          r.im,
		WallPost:    r.wallPost,
		Suppression: r.suppression,
		Connection:  r.connection,
		Elements:    r.elements,
	}
}

// Len is the total number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.room) + len(r.im) + len(r.wallPost) + len(r.suppression) + len(r.connection) + len(r.elements)
}

func appendCopy[L any](list []L, l L) []L {
	return append(slices.Clip(list), l)
}

func removeCopy[L comparable](list []L, l L) ([]L, bool) {
	idx := slices.Index(list, l)
	if idx < 0 {
		return list, false
	}
	out := make([]L, 0, len(list)-1)
	out = append(out, list[:idx]...)
	out = append(out, list[idx+1:]...)
	return out, true
}
