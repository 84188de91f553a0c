package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"peer_chat/internal/domain"
	apperrors "peer_chat/pkg/errors"
)

type repositoryFactory func(t *testing.T, clock Clock) ChatRepository

// stepClock returns start, start+step, start+2*step, ...
func stepClock(start time.Time, step time.Duration) Clock {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

// sequenceClock returns the given times in order, then repeats the last one.
func sequenceClock(times ...time.Time) Clock {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at := times[i]
		if i < len(times)-1 {
			i++
		}
		return at
	}
}

func fixedClock(at time.Time) Clock {
	return func() time.Time { return at }
}

var epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func runChatRepositoryContract(t *testing.T, newRepo repositoryFactory) {
	t.Run("append assigns id and timestamp", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		repo := newRepo(t, stepClock(epoch, time.Second))

		first, err := repo.Append(ctx, "alice", "bob", "hi")
		req.NoError(err)
		second, err := repo.Append(ctx, "bob", "alice", "")
		req.NoError(err)

		req.Greater(second.ID, first.ID)
		req.True(first.Timestamp.Equal(epoch))
		req.True(second.Timestamp.Equal(epoch.Add(time.Second)))
		req.False(first.Archived)
		req.Equal("", second.Content)
	})

	t.Run("round trip", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		repo := newRepo(t, stepClock(epoch, time.Second))

		_, err := repo.Append(ctx, "alice", "bob", "hi")
		req.NoError(err)

		messages, err := repo.MessagesBetween(ctx, "alice", "bob")
		req.NoError(err)
		req.Len(messages, 1)
		req.Equal("hi", messages[0].Content)
		req.Equal("alice", messages[0].SenderID)
		req.Equal("bob", messages[0].RecipientID)
	})

	t.Run("messages between are bidirectional and ordered", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		// Given every message shares one timestamp, so only the id breaks ties
		repo := newRepo(t, fixedClock(epoch))

		for _, m := range []struct{ from, to, content string }{
			{"alice", "bob", "1"},
			{"bob", "alice", "2"},
			{"alice", "carol", "x"},
			{"alice", "bob", "3"},
		} {
			_, err := repo.Append(ctx, m.from, m.to, m.content)
			req.NoError(err)
		}

		messages, err := repo.MessagesBetween(ctx, "bob", "alice")
		req.NoError(err)
		req.Len(messages, 3)
		req.Equal([]string{"1", "2", "3"}, contents(messages))
		for i := 1; i < len(messages); i++ {
			req.True(messages[i-1].Before(messages[i]))
		}
	})

	t.Run("messages involving a user", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		repo := newRepo(t, stepClock(epoch, time.Second))

		for _, m := range []struct{ from, to, content string }{
			{"alice", "bob", "1"},
			{"carol", "alice", "2"},
			{"bob", "carol", "not alice"},
			{"alice", "alice", "self"},
		} {
			_, err := repo.Append(ctx, m.from, m.to, m.content)
			req.NoError(err)
		}

		messages, err := repo.MessagesInvolving(ctx, "alice")
		req.NoError(err)
		req.Equal([]string{"1", "2", "self"}, contents(messages))
	})

	t.Run("clock stepping back keeps submission order", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		// Given a wall clock that jumps one second back between two sends
		repo := newRepo(t, sequenceClock(epoch.Add(time.Second), epoch, epoch.Add(-time.Hour)))

		first, err := repo.Append(ctx, "alice", "bob", "first")
		req.NoError(err)
		second, err := repo.Append(ctx, "bob", "alice", "second")
		req.NoError(err)
		third, err := repo.Append(ctx, "alice", "bob", "third")
		req.NoError(err)

		// Then later messages never carry an earlier timestamp
		req.False(second.Timestamp.Before(first.Timestamp))
		req.False(third.Timestamp.Before(second.Timestamp))

		messages, err := repo.MessagesBetween(ctx, "alice", "bob")
		req.NoError(err)
		req.Equal([]string{"first", "second", "third"}, contents(messages))
	})

	t.Run("get by id", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		repo := newRepo(t, stepClock(epoch, time.Second))

		stored, err := repo.Append(ctx, "alice", "bob", "hi")
		req.NoError(err)

		found, err := repo.GetByID(ctx, stored.ID)
		req.NoError(err)
		req.Equal(stored.Content, found.Content)
		req.True(stored.Timestamp.Equal(found.Timestamp))

		_, err = repo.GetByID(ctx, stored.ID+1000)
		req.True(errors.Is(err, apperrors.ErrNotFound))
	})

	t.Run("delete between is idempotent and scoped to the pair", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		repo := newRepo(t, stepClock(epoch, time.Second))

		_, err := repo.Append(ctx, "alice", "bob", "1")
		req.NoError(err)
		_, err = repo.Append(ctx, "bob", "alice", "2")
		req.NoError(err)
		kept, err := repo.Append(ctx, "alice", "carol", "3")
		req.NoError(err)

		deleted, err := repo.DeleteBetween(ctx, "bob", "alice")
		req.NoError(err)
		req.EqualValues(2, deleted)

		// When the same pair is cleared again
		deleted, err = repo.DeleteBetween(ctx, "alice", "bob")
		req.NoError(err)
		req.EqualValues(0, deleted)

		messages, err := repo.MessagesBetween(ctx, "alice", "bob")
		req.NoError(err)
		req.Empty(messages)

		involving, err := repo.MessagesInvolving(ctx, "alice")
		req.NoError(err)
		req.Len(involving, 1)
		req.Equal(kept.ID, involving[0].ID)
	})

	t.Run("cleared messages are gone by id and new ones are visible", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		repo := newRepo(t, stepClock(epoch, time.Second))

		old, err := repo.Append(ctx, "alice", "bob", "old")
		req.NoError(err)
		_, err = repo.ArchiveBetween(ctx, "alice", "bob")
		req.NoError(err)
		_, err = repo.DeleteBetween(ctx, "alice", "bob")
		req.NoError(err)

		_, err = repo.GetByID(ctx, old.ID)
		req.ErrorIs(err, apperrors.ErrNotFound)

		fresh, err := repo.Append(ctx, "bob", "alice", "fresh")
		req.NoError(err)

		messages, err := repo.MessagesBetween(ctx, "alice", "bob")
		req.NoError(err)
		req.Equal([]int64{fresh.ID}, ids(messages))
		req.False(messages[0].Archived)

		found, err := repo.GetByID(ctx, fresh.ID)
		req.NoError(err)
		req.False(found.Archived)
	})

	t.Run("archive keeps messages", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		repo := newRepo(t, stepClock(epoch, time.Second))

		_, err := repo.Append(ctx, "alice", "bob", "1")
		req.NoError(err)
		_, err = repo.Append(ctx, "bob", "alice", "2")
		req.NoError(err)
		other, err := repo.Append(ctx, "alice", "carol", "3")
		req.NoError(err)

		before, err := repo.MessagesBetween(ctx, "alice", "bob")
		req.NoError(err)

		archived, err := repo.ArchiveBetween(ctx, "alice", "bob")
		req.NoError(err)
		req.EqualValues(2, archived)
		archived, err = repo.ArchiveBetween(ctx, "alice", "bob")
		req.NoError(err)
		req.EqualValues(2, archived)

		after, err := repo.MessagesBetween(ctx, "alice", "bob")
		req.NoError(err)
		req.Equal(ids(before), ids(after))
		for _, m := range after {
			req.True(m.Archived)
		}

		untouched, err := repo.GetByID(ctx, other.ID)
		req.NoError(err)
		req.False(untouched.Archived)
	})

	t.Run("concurrent append and delete never leave a partial delete", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		repo := newRepo(t, stepClock(epoch, time.Millisecond))

		// Given a conversation that already holds messages
		original := make(map[int64]bool)
		for i := 0; i < 20; i++ {
			m, err := repo.Append(ctx, "alice", "bob", "old")
			req.NoError(err)
			original[m.ID] = true
		}

		// When appends race with a clear of the same pair
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			appended []int64
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					m, err := repo.Append(ctx, "bob", "alice", "new")
					if err != nil {
						t.Error(err)
						return
					}
					mu.Lock()
					appended = append(appended, m.ID)
					mu.Unlock()
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DeleteBetween(ctx, "alice", "bob"); err != nil {
				t.Error(err)
			}
		}()
		wg.Wait()

		// Then no pre-existing message survives
		remaining, err := repo.MessagesBetween(ctx, "alice", "bob")
		req.NoError(err)
		for _, m := range remaining {
			req.False(original[m.ID], "message %d survived the delete", m.ID)
		}

		// And every append that happened after the delete is fully present
		if len(remaining) > 0 {
			present := make(map[int64]bool)
			cutoff := remaining[0].ID
			for _, m := range remaining {
				present[m.ID] = true
				if m.ID < cutoff {
					cutoff = m.ID
				}
			}
			for _, id := range appended {
				if id >= cutoff {
					req.True(present[id], "message %d appended after the delete is missing", id)
				}
			}
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		req := require.New(t)
		repo := newRepo(t, stepClock(epoch, time.Second))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := repo.Append(ctx, "alice", "bob", "hi")
		req.Error(err)
	})
}

func contents(messages []*domain.ChatMessage) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Content)
	}
	return out
}

func ids(messages []*domain.ChatMessage) []int64 {
	out := make([]int64, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
