/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

// Roster keeps participants in the order they were first seen. It is not
// safe for concurrent use.
type Roster struct {
	capacity int
	hostID   string
	order    []string
	byID     map[string]Participant
}

func NewRoster(capacity int) *Roster {
	return &Roster{
		capacity: capacity,
		byID:     make(map[string]Participant),
	}
}

// SetCapacity caps the output of List. Zero means no cap.
func (r *Roster) SetCapacity(n int) {
	if n < 0 {
		n = 0
	}
	r.capacity = n
}

func (r *Roster) Capacity() int {
	return r.capacity
}

// SetHost marks id as host in addition to any participant carrying the
// host flag itself.
func (r *Roster) SetHost(id string) {
	r.hostID = id
}

// Replace swaps the whole roster for a snapshot. Duplicates keep their first
// position and their last flags.
func (r *Roster) Replace(ps []Participant) {
	r.order = r.order[:0]
	clear(r.byID)

	for _, p := range ps {
		r.put(p)
	}
}

// Add inserts p, or updates its flags in place when already present.
func (r *Roster) Add(p Participant) bool {
	_, existed := r.byID[p.ID]
	r.put(p)
	return !existed
}

func (r *Roster) Remove(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)

	dst := r.order[:0]
	for _, pid := range r.order {
		if pid != id {
			dst = append(dst, pid)
		}
	}
	r.order = dst

	return true
}

func (r *Roster) put(p Participant) {
	if p.ID == "" {
		return
	}
	if _, ok := r.byID[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.byID[p.ID] = p
}

func (r *Roster) Get(id string) (Participant, bool) {
	p, ok := r.byID[id]
	return p, ok
}

func (r *Roster) Len() int {
	return len(r.List())
}

// List returns the ordered roster, capped at capacity.
func (r *Roster) List() []Participant {
	n := len(r.order)
	if r.capacity > 0 && n > r.capacity {
		n = r.capacity
	}

	out := make([]Participant, 0, n)
	for _, id := range r.order[:n] {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Roster) isHost(p Participant) bool {
	return p.Host || (r.hostID != "" && p.ID == r.hostID)
}

// AllReady is true when every non-host participant is ready. A single-seat
// room held by its host is always ready.
func (r *Roster) AllReady() bool {
	list := r.List()

	if r.capacity == 1 && len(list) == 1 && r.isHost(list[0]) {
		return true
	}

	for _, p := range list {
		if r.isHost(p) {
			continue
		}
		if !p.Ready {
			return false
		}
	}
	return true
}
