package thread

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(store *fakeStore, chatID string, n int, start time.Time) {
	for i := 0; i < n; i++ {
		store.addMessage(msg(fmt.Sprintf("m%03d", i), chatID, fmt.Sprintf("msg %d", i), start.Add(time.Duration(i)*time.Minute)))
	}
}

func TestPaginatorLoadPageChronological(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedStore(store, "c1", 45, base)
	p := NewPaginator(store, 20)

	page, hasMore, err := p.LoadPage(context.Background(), "c1", 1, PageModeInitial, 0)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, page, 20)
	assert.Equal(t, "m025", page[0].ID)
	assert.Equal(t, "m044", page[19].ID)
	for i := 1; i < len(page); i++ {
		assert.True(t, page[i].CreatedAt.After(page[i-1].CreatedAt))
	}
}

func TestPaginatorLiveInsertOffsetCorrection(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedStore(store, "c1", 45, base)
	p := NewPaginator(store, 20)

	_, _, err := p.LoadPage(context.Background(), "c1", 2, PageModeOlder, 3)
	require.NoError(t, err)
	require.Len(t, store.offsets, 1)
	assert.Equal(t, 23, store.offsets[0])

	// Ресинк считает смещение с нуля, поправка игнорируется.
	_, _, err = p.LoadPage(context.Background(), "c1", 1, PageModeResync, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, store.offsets[1])
}

func TestPaginatorLastPage(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedStore(store, "c1", 25, base)
	p := NewPaginator(store, 20)

	page, hasMore, err := p.LoadPage(context.Background(), "c1", 2, PageModeOlder, 0)
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Len(t, page, 5)
}

func TestPaginatorLoadSpecificMessage(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedStore(store, "c1", 60, base)
	p := NewPaginator(store, 20)

	page, _, err := p.LoadSpecificMessage(context.Background(), "c1", "m030")
	require.NoError(t, err)
	found := false
	for _, m := range page {
		if m.ID == "m030" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPaginatorLoadSpecificMessageMissing(t *testing.T) {
	store := newFakeStore()
	p := NewPaginator(store, 20)

	_, _, err := p.LoadSpecificMessage(context.Background(), "c1", "absent")
	assert.Error(t, err)
}
