package chathub

import "sort"

// PresenceAdd records one live connection of userID in conversationID.
// A user may hold several connections to the same room; each needs its own PresenceRemove.
func (r *Registry) PresenceAdd(conversationID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.presence[conversationID]
	if !ok {
		users = make(map[string]int)
		r.presence[conversationID] = users
	}
	users[userID]++
}

// PresenceRemove releases one connection recorded by PresenceAdd.
func (r *Registry) PresenceRemove(conversationID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.presence[conversationID]
	if !ok {
		return
	}
	if users[userID] <= 1 {
		delete(users, userID)
	} else {
		users[userID]--
	}
	if len(users) == 0 {
		delete(r.presence, conversationID)
	}
}

// PresenceOf returns the users connected to conversationID, sorted. Unknown rooms yield an empty slice.
func (r *Registry) PresenceOf(conversationID string) []string {
	r.mu.RLock()
	users := r.presence[conversationID]
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// RoomsOf returns the conversations userID is connected to on this process, sorted.
func (r *Registry) RoomsOf(userID string) []string {
	var rooms []string
	r.mu.RLock()
	for id, users := range r.presence {
		if _, ok := users[userID]; ok {
			rooms = append(rooms, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(rooms)
	return rooms
}

// IsOnline reports whether userID has a live connection in any room.
func (r *Registry) IsOnline(userID string) bool {
	return len(r.RoomsOf(userID)) > 0
}
