package host

// recentIDs remembers the last n command IDs in arrival order.
type recentIDs struct {
	ring []string
	next int
	seen map[string]struct{}
}

func newRecentIDs(n int) *recentIDs {
	if n < 1 {
		n = 1
	}
	return &recentIDs{ring: make([]string, n), seen: make(map[string]struct{}, n)}
}

// add records id and reports whether it was not already remembered. An
// empty id is never a duplicate.
func (r *recentIDs) add(id string) bool {
	if id == "" {
		return true
	}
	if _, dup := r.seen[id]; dup {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.seen, old)
	}
	r.ring[r.next] = id
	r.next = (r.next + 1) % len(r.ring)
	r.seen[id] = struct{}{}
	return true
}
