package modconcierge

import "sync"

// WhisperRegistry caches which user owns which open whisper thread, per
// guild, so the open command doesn't need a database round trip to find
// an existing thread. The store is the source of truth: entries are only
// added or removed after the corresponding store write succeeds, and
// [WhisperRegistry.Rebuild] replaces the whole cache from the store.
type WhisperRegistry struct {
	mu      sync.RWMutex
	threads map[string]map[string]string
}

func NewWhisperRegistry() *WhisperRegistry {
	return &WhisperRegistry{threads: map[string]map[string]string{}}
}

// Lookup returns the user's open thread in the guild, if one is cached
func (r *WhisperRegistry) Lookup(guildID, userID string) (threadID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users, exists := r.threads[guildID]
	if !exists {
		return "", false
	}
	threadID, ok = users[userID]
	return threadID, ok
}

// RecordOpen caches threadID as the user's open thread. Only call this
// after the open record has been persisted.
func (r *WhisperRegistry) RecordOpen(guildID, userID, threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, exists := r.threads[guildID]
	if !exists {
		users = map[string]string{}
		r.threads[guildID] = users
	}
	users[userID] = threadID
}

// RecordClosed drops the user's cached thread. Only call this after the
// record has been marked closed.
func (r *WhisperRegistry) RecordClosed(guildID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, exists := r.threads[guildID]
	if !exists {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.threads, guildID)
	}
}

// Rebuild clears the cache and repopulates it from records. Closed
// records are skipped.
func (r *WhisperRegistry) Rebuild(records []WhisperThread) {
	threads := make(map[string]map[string]string)
	for _, rec := range records {
		if !rec.IsOpen {
			continue
		}
		users, exists := threads[rec.GuildID]
		if !exists {
			users = map[string]string{}
			threads[rec.GuildID] = users
		}
		users[rec.UserID] = rec.ThreadID
	}

	r.mu.Lock()
	r.threads = threads
	r.mu.Unlock()
}

// Len returns the number of cached open threads across all guilds
func (r *WhisperRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, users := range r.threads {
		n += len(users)
	}
	return n
}

// GuildLen returns the number of cached open threads in the guild
func (r *WhisperRegistry) GuildLen(guildID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads[guildID])
}
