// Package cache provides the audio artifact cache index.
//
// The index maps narration fingerprints to artifact metadata and enforces two
// independent expiry policies over a bounded store: a byte budget with
// least-recently-used eviction, and a time-to-live measured from creation.
// The underlying bytes live in a core.ArtifactStore; the index exclusively
// owns the metadata and the size accounting.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/grimfeed/narration-service/internal/core"
)

// Entry holds the metadata for one cached artifact.
type Entry struct {
	Fingerprint string
	Location    string
	Size        int64
	CreatedAt   time.Time
	LastAccess  time.Time
	VoiceStyle  string
}

// Index is the in-memory cache index. All methods are safe for concurrent
// use. The mutex is never held across artifact store I/O: metadata is
// mutated under the lock, blob reads, writes and deletes happen outside it.
type Index struct {
	mu       sync.Mutex
	elements map[string]*list.Element
	order    *list.List // front = most recently used
	total    int64

	budget  int64
	ttl     time.Duration
	store   core.ArtifactStore
	journal *Journal
	log     *logger.Logger
	now     func() time.Time
}

// NewIndex creates a cache index over the given artifact store. The journal
// may be nil, in which case the index is purely in-memory and starts empty
// after every restart. With a journal, previously recorded entries are
// restored; entries whose blobs no longer exist degrade to read-failure
// misses and are pruned lazily.
func NewIndex(
	store core.ArtifactStore,
	budgetBytes int64,
	ttl time.Duration,
	journal *Journal,
	log *logger.Logger,
) (*Index, error) {
	idx := &Index{
		mu:       sync.Mutex{},
		elements: make(map[string]*list.Element),
		order:    list.New(),
		total:    0,
		budget:   budgetBytes,
		ttl:      ttl,
		store:    store,
		journal:  journal,
		log:      log,
		now:      time.Now,
	}

	if journal != nil {
		err := idx.restore()
		if err != nil {
			return nil, fmt.Errorf("failed to restore cache index from journal: %w", err)
		}
	}

	return idx, nil
}

// Lookup returns the artifact bytes and location for fingerprint, updating
// the entry's last-access time. An entry past its TTL is treated as a miss
// and removed (lazy expiry). A blob read failure is treated as a miss so the
// caller falls through to regeneration instead of receiving the error.
func (idx *Index) Lookup(ctx context.Context, fingerprint string) ([]byte, string, bool) {
	idx.mu.Lock()

	elem, ok := idx.elements[fingerprint]
	if !ok {
		idx.mu.Unlock()

		return nil, "", false
	}

	entry := elem.Value.(*Entry)
	if idx.expiredLocked(entry) {
		location := entry.Location
		idx.removeLocked(fingerprint)
		idx.mu.Unlock()

		idx.journalRemove(fingerprint)
		idx.deleteBlob(ctx, location)

		return nil, "", false
	}

	location := entry.Location
	idx.mu.Unlock()

	data, err := idx.store.Get(ctx, location)
	if err != nil {
		idx.log.Warn("Cache read failed for fingerprint %s at '%s', treating as miss: %v",
			fingerprint, location, err)

		idx.mu.Lock()
		if current, still := idx.elements[fingerprint]; still && current.Value.(*Entry).Location == location {
			idx.removeLocked(fingerprint)
		}
		idx.mu.Unlock()

		idx.journalRemove(fingerprint)

		return nil, "", false
	}

	touched := idx.now()

	idx.mu.Lock()
	if current, still := idx.elements[fingerprint]; still {
		current.Value.(*Entry).LastAccess = touched
		idx.order.MoveToFront(current)
	}
	idx.mu.Unlock()

	idx.journalTouch(fingerprint, touched)

	return data, location, true
}

// Insert writes the artifact bytes to the store, commits a cache entry, and
// evicts least-recently-used entries until the total size fits the budget.
// Metadata is committed only after the bytes are durably written, so a write
// failure never leaves an entry referencing missing bytes. An artifact
// larger than the whole budget is accepted and becomes the sole occupant.
func (idx *Index) Insert(
	ctx context.Context,
	fingerprint string,
	data []byte,
	voiceStyle string,
) (string, error) {
	location, err := idx.store.Put(ctx, fingerprint, data)
	if err != nil {
		return "", fmt.Errorf("failed to store artifact for fingerprint %s: %w", fingerprint, err)
	}

	now := idx.now()
	entry := &Entry{
		Fingerprint: fingerprint,
		Location:    location,
		Size:        int64(len(data)),
		CreatedAt:   now,
		LastAccess:  now,
		VoiceStyle:  voiceStyle,
	}

	var staleBlobs []string

	idx.mu.Lock()

	if prev, ok := idx.elements[fingerprint]; ok {
		prevEntry := prev.Value.(*Entry)
		if prevEntry.Location != location {
			staleBlobs = append(staleBlobs, prevEntry.Location)
		}

		idx.removeLocked(fingerprint)
	}

	elem := idx.order.PushFront(entry)
	idx.elements[fingerprint] = elem
	idx.total += entry.Size

	evicted := idx.evictOverBudgetLocked()
	idx.mu.Unlock()

	idx.journalUpsert(entry)

	for _, victim := range evicted {
		idx.journalRemove(victim.Fingerprint)
		staleBlobs = append(staleBlobs, victim.Location)
	}

	for _, blob := range staleBlobs {
		idx.deleteBlob(ctx, blob)
	}

	return location, nil
}

// EvictExpired removes every entry older than the TTL regardless of size
// pressure and returns the number removed. Safe to call concurrently with
// lookups and inserts.
func (idx *Index) EvictExpired(ctx context.Context) int {
	idx.mu.Lock()

	var expired []*Entry

	for fingerprint, elem := range idx.elements {
		entry := elem.Value.(*Entry)
		if idx.expiredLocked(entry) {
			expired = append(expired, entry)
			idx.removeLocked(fingerprint)
		}
	}

	idx.mu.Unlock()

	for _, entry := range expired {
		idx.journalRemove(entry.Fingerprint)
		idx.deleteBlob(ctx, entry.Location)
	}

	return len(expired)
}

// Stats reports the current entry count and total occupied bytes.
func (idx *Index) Stats() (int, int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return len(idx.elements), idx.total
}

// expiredLocked reports whether entry has outlived the TTL.
func (idx *Index) expiredLocked(entry *Entry) bool {
	return idx.ttl > 0 && idx.now().Sub(entry.CreatedAt) > idx.ttl
}

// evictOverBudgetLocked evicts from the back of the recency list until the
// total fits the budget, always sparing the last remaining entry so an
// oversized artifact can occupy the cache alone. The list preserves
// insertion order for equal last-access times, so ties evict the
// oldest-created entry first.
func (idx *Index) evictOverBudgetLocked() []*Entry {
	var evicted []*Entry

	for idx.total > idx.budget && idx.order.Len() > 1 {
		back := idx.order.Back()
		entry := back.Value.(*Entry)
		evicted = append(evicted, entry)
		idx.removeLocked(entry.Fingerprint)
	}

	return evicted
}

// removeLocked drops the metadata entry and its size accounting. A failure
// to delete the underlying blob later is acceptable; a stale index entry
// claiming bytes that do not exist is not, so metadata always goes first.
func (idx *Index) removeLocked(fingerprint string) {
	elem, ok := idx.elements[fingerprint]
	if !ok {
		return
	}

	entry := elem.Value.(*Entry)
	idx.total -= entry.Size
	idx.order.Remove(elem)
	delete(idx.elements, fingerprint)
}

func (idx *Index) deleteBlob(ctx context.Context, location string) {
	err := idx.store.Delete(ctx, location)
	if err != nil {
		idx.log.Warn("Failed to delete evicted artifact '%s', leaving orphaned blob: %v", location, err)
	}
}

func (idx *Index) restore() error {
	entries, err := idx.journal.Load()
	if err != nil {
		return err
	}

	// Load returns entries ordered by last access, oldest first; pushing
	// each to the front leaves the most recently used at the front.
	for i := range entries {
		entry := entries[i]
		elem := idx.order.PushFront(&entry)
		idx.elements[entry.Fingerprint] = elem
		idx.total += entry.Size
	}

	return nil
}

func (idx *Index) journalUpsert(entry *Entry) {
	if idx.journal == nil {
		return
	}

	err := idx.journal.Upsert(entry)
	if err != nil {
		idx.log.Warn("Failed to journal cache insert for %s: %v", entry.Fingerprint, err)
	}
}

func (idx *Index) journalTouch(fingerprint string, lastAccess time.Time) {
	if idx.journal == nil {
		return
	}

	err := idx.journal.Touch(fingerprint, lastAccess)
	if err != nil {
		idx.log.Warn("Failed to journal cache touch for %s: %v", fingerprint, err)
	}
}

func (idx *Index) journalRemove(fingerprint string) {
	if idx.journal == nil {
		return
	}

	err := idx.journal.Remove(fingerprint)
	if err != nil {
		idx.log.Warn("Failed to journal cache removal for %s: %v", fingerprint, err)
	}
}
