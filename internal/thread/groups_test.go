package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interflow/internal/model"
)

func TestGroupByDate(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 2, 0, 10, 0, 0, time.UTC)
	entries := buildEntries([]model.Message{
		msg("m1", "c1", "a", d1),
		msg("m2", "c1", "b", d1.Add(5*time.Minute)),
		msg("m3", "c1", "c", d2),
	}, nil)

	groups := GroupByDate(entries)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Entries, 2)
	assert.Len(t, groups[1].Entries, 1)
	assert.NotEqual(t, groups[0].Date, groups[1].Date)
}

func TestGroupByDateOptimisticAfterPersisted(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := buildEntries(
		[]model.Message{msg("m1", "c1", "a", base)},
		[]model.OptimisticMessage{draft("tmp-1", "c1", "pending", base.Add(time.Second))},
	)

	groups := GroupByDate(entries)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Entries, 2)
	assert.Equal(t, "tmp-1", groups[0].Entries[1].ID)
	assert.True(t, groups[0].Entries[1].Optimistic)
}

func TestGroupByChat(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := buildEntries([]model.Message{
		msg("m1", "old-chat", "a", base),
		msg("m2", "old-chat", "b", base.Add(time.Minute)),
		msg("m3", "active-chat", "c", base.Add(2*time.Minute)),
	}, nil)

	blocks := GroupByChat(entries, "active-chat")
	require.Len(t, blocks, 2)
	assert.Equal(t, "old-chat", blocks[0].ChatID)
	assert.False(t, blocks[0].Active)
	assert.Equal(t, "active-chat", blocks[1].ChatID)
	assert.True(t, blocks[1].Active)
	require.Len(t, blocks[0].Groups, 1)
	assert.Len(t, blocks[0].Groups[0].Entries, 2)
}
