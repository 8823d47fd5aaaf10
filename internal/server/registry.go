package server

// registry tracks which connections are joined to which conversation rooms.
// It is owned by the ChatServer run loop and must not be touched from any
// other goroutine.
type registry struct {
	rooms       map[string]map[*Client]struct{}
	memberships map[*Client]map[string]struct{}
}

func newRegistry() *registry {
	return &registry{
		rooms:       make(map[string]map[*Client]struct{}),
		memberships: make(map[*Client]map[string]struct{}),
	}
}

// join adds c to room and reports whether the room was empty before.
func (r *registry) join(c *Client, room string) (created bool) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
		created = true
	}
	members[c] = struct{}{}

	joined, ok := r.memberships[c]
	if !ok {
		joined = make(map[string]struct{})
		r.memberships[c] = joined
	}
	joined[room] = struct{}{}

	return created
}

// leave removes c from room and reports whether the room is now empty and
// was removed. Leaving a room that was never joined is a no-op.
func (r *registry) leave(c *Client, room string) (removed bool) {
	if joined, ok := r.memberships[c]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.memberships, c)
		}
	}

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}

	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
		return true
	}
	return false
}

// leaveAll removes every membership of c and returns the number of rooms
// that became empty.
func (r *registry) leaveAll(c *Client) int {
	removed := 0
	for room := range r.memberships[c] {
		if r.leave(c, room) {
			removed++
		}
	}
	delete(r.memberships, c)
	return removed
}

func (r *registry) isMember(c *Client, room string) bool {
	_, ok := r.rooms[room][c]
	return ok
}

func (r *registry) members(room string) []*Client {
	out := make([]*Client, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		out = append(out, c)
	}
	return out
}

func (r *registry) size(room string) int {
	return len(r.rooms[room])
}

func (r *registry) roomsOf(c *Client) []string {
	out := make([]string, 0, len(r.memberships[c]))
	for room := range r.memberships[c] {
		out = append(out, room)
	}
	return out
}

func (r *registry) roomCount() int {
	return len(r.rooms)
}
