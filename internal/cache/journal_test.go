package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRoundTrip(t *testing.T) {
	t.Parallel()

	journal, err := OpenJournal(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)

	defer func() {
		require.NoError(t, journal.Close())
	}()

	created := time.Unix(1700000000, 0)

	err = journal.Upsert(&Entry{
		Fingerprint: "fp-1",
		Location:    "fp-1.mp3",
		Size:        2048,
		CreatedAt:   created,
		LastAccess:  created,
		VoiceStyle:  "ancient_entity",
	})
	require.NoError(t, err)

	err = journal.Touch("fp-1", created.Add(time.Minute))
	require.NoError(t, err)

	entries, err := journal.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "fp-1", entries[0].Fingerprint)
	assert.Equal(t, "fp-1.mp3", entries[0].Location)
	assert.Equal(t, int64(2048), entries[0].Size)
	assert.Equal(t, "ancient_entity", entries[0].VoiceStyle)
	assert.True(t, entries[0].CreatedAt.Equal(created))
	assert.True(t, entries[0].LastAccess.Equal(created.Add(time.Minute)))

	err = journal.Remove("fp-1")
	require.NoError(t, err)

	entries, err = journal.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIndexRestoresFromJournal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	journalPath := filepath.Join(dir, "index.db")
	store := newMemStore()
	ctx := context.Background()

	log, err := logger.New(dir, "journal-test.log")
	require.NoError(t, err)

	journal, err := OpenJournal(journalPath)
	require.NoError(t, err)

	idx, err := NewIndex(store, 10000, 0, journal, log)
	require.NoError(t, err)

	_, err = idx.Insert(ctx, "persisted", payload(256), "eerie_narrator")
	require.NoError(t, err)

	require.NoError(t, journal.Close())

	// Simulate a restart: a fresh index over the same journal and store.
	reopened, err := OpenJournal(journalPath)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, reopened.Close())
	}()

	restored, err := NewIndex(store, 10000, 0, reopened, log)
	require.NoError(t, err)

	count, total := restored.Stats()
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(256), total)

	data, location, ok := restored.Lookup(ctx, "persisted")
	require.True(t, ok)
	assert.Equal(t, "persisted", location)
	assert.Equal(t, payload(256), data)
}

func TestRestoredEntryWithMissingBlobDegradesToMiss(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	journalPath := filepath.Join(dir, "index.db")
	store := newMemStore()
	ctx := context.Background()

	log, err := logger.New(dir, "journal-test.log")
	require.NoError(t, err)

	journal, err := OpenJournal(journalPath)
	require.NoError(t, err)

	idx, err := NewIndex(store, 10000, 0, journal, log)
	require.NoError(t, err)

	_, err = idx.Insert(ctx, "vanishing", payload(128), "eerie_narrator")
	require.NoError(t, err)

	// The blob disappears between restarts; the metadata survives.
	delete(store.objects, "vanishing")

	restored, err := NewIndex(store, 10000, 0, journal, log)
	require.NoError(t, err)

	_, _, ok := restored.Lookup(ctx, "vanishing")
	assert.False(t, ok)

	count, _ := restored.Stats()
	assert.Equal(t, 0, count, "the stale entry must be pruned on first lookup")
}
