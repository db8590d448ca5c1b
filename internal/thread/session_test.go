package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interflow/internal/actions"
	"github.com/interflow/internal/mirror/memory"
	"github.com/interflow/internal/model"
	"github.com/interflow/internal/realtime"
)

type sessionEnv struct {
	store    *fakeStore
	feed     *fakeFeed
	viewport *fakeViewport
	notifier *fakeNotifier
	sink     *fakeSink
	action   *fakeAction
	clock    *fakeClock
	mirror   *memory.Client
	session  *Session
}

func newSessionEnv(t *testing.T, chatID string) *sessionEnv {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := &sessionEnv{
		store:    newFakeStore(),
		feed:     &fakeFeed{},
		viewport: &fakeViewport{},
		notifier: &fakeNotifier{},
		sink:     &fakeSink{},
		action:   &fakeAction{},
		clock:    newFakeClock(base),
		mirror:   memory.New(),
	}
	env.store.chats[chatID] = &model.Chat{
		ID:     chatID,
		Status: model.ChatStatusInProgress,
		ChannelDetails: &model.ChannelDetails{
			ID: "ch1", Type: model.ChannelWhatsAppWApi, Name: "support", IsConnected: true,
		},
	}
	env.session = NewSession(chatID, Deps{
		Store:    env.store,
		Chats:    chatStoreFunc(env.store.GetChat),
		Agents:   agentStoreFunc(env.store.GetAgent),
		Action:   env.action,
		Feed:     env.feed,
		Viewport: env.viewport,
		Notifier: env.notifier,
		Sink:     env.sink,
		Mirror:   env.mirror,
		Clock:    env.clock,
	})
	return env
}

func (e *sessionEnv) seed(chatID string, n int, start time.Time) {
	for i := 0; i < n; i++ {
		e.store.addMessage(msg(fmt.Sprintf("m%03d", i), chatID, fmt.Sprintf("msg %d", i), start.Add(time.Duration(i)*time.Minute)))
	}
}

func (e *sessionEnv) emitInsert(t *testing.T, m model.Message) {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	e.feed.emit("messages", realtime.EventInsert, nil, raw)
}

func (e *sessionEnv) emitUpdate(t *testing.T, m model.Message) {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	e.feed.emit("messages", realtime.EventUpdate, nil, raw)
}

func (e *sessionEnv) emitDelete(t *testing.T, id string) {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"id": id})
	require.NoError(t, err)
	e.feed.emit("messages", realtime.EventDelete, raw, nil)
}

func entryIDs(snap Snapshot) []string {
	var ids []string
	for _, g := range snap.Groups {
		for _, e := range g.Entries {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func TestSessionActivateLoadsFirstPage(t *testing.T) {
	env := newSessionEnv(t, "c1")
	env.seed("c1", 30, env.clock.Now().Add(-time.Hour))
	require.NoError(t, env.session.Activate(context.Background()))

	snap := env.sink.snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.True(t, snap.HasMore)
	ids := entryIDs(snap)
	require.Len(t, ids, 20)
	// Последние 20 по created_at, в хронологическом порядке.
	assert.Equal(t, "m010", ids[0])
	assert.Equal(t, "m029", ids[19])
	assert.True(t, snap.Window.CanSendMessage)
	assert.True(t, snap.Features.CanDeleteMessage)
}

func TestSessionInsertIsIdempotent(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))

	m := msg("m1", "c1", "hello", env.clock.Now())
	env.emitInsert(t, m)
	env.emitInsert(t, m)

	assert.Len(t, entryIDs(env.sink.snapshot()), 1)
}

func TestSessionInsertOutOfOrderSortsByCreatedAt(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	base := env.clock.Now()

	env.emitInsert(t, msg("m1", "c1", "first", base))
	env.emitInsert(t, msg("m3", "c1", "third", base.Add(2*time.Second)))
	env.emitInsert(t, msg("m2", "c1", "second", base.Add(time.Second)))

	assert.Equal(t, []string{"m1", "m2", "m3"}, entryIDs(env.sink.snapshot()))
}

func TestSessionSendConfirmRetiresOptimistic(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	ctx := context.Background()

	tempID := env.session.Send(ctx, "hello there", nil, nil)
	require.Len(t, env.action.sends, 1)
	assert.Equal(t, tempID, env.action.sends[0].TempID)

	snap := env.sink.snapshot()
	ids := entryIDs(snap)
	require.Equal(t, []string{tempID}, ids)
	assert.True(t, snap.Groups[0].Entries[0].Optimistic)

	// Подтверждение с тем же tempId в metadata гасит оптимистичную запись.
	confirmed := msg("m-real", "c1", "hello there", env.clock.Now())
	confirmed.SenderType = model.SenderTypeAgent
	confirmed.Metadata = map[string]any{"tempId": tempID}
	env.emitInsert(t, confirmed)

	snap = env.sink.snapshot()
	require.Equal(t, []string{"m-real"}, entryIDs(snap))
	assert.False(t, snap.Groups[0].Entries[0].Optimistic)
}

func TestSessionSendFailureThenRetryKeepsTempID(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	ctx := context.Background()

	env.action.sendErr = &actions.BackendError{StatusCode: 422, Message: "Окно ответа закрыто"}
	tempID := env.session.Send(ctx, "late reply", nil, nil)

	snap := env.sink.snapshot()
	require.Len(t, snap.Groups, 1)
	entry := snap.Groups[0].Entries[0]
	assert.Equal(t, string(model.OptimisticFailed), entry.Status)
	assert.True(t, entry.CanRetry)
	// Текст ошибки бэкенда показывается как есть.
	assert.Equal(t, "Окно ответа закрыто", entry.ErrorMessage)
	assert.Contains(t, env.notifier.banners, "Окно ответа закрыто")

	env.action.sendErr = nil
	require.NoError(t, env.session.Retry(ctx, tempID))
	require.Len(t, env.action.sends, 2)
	// Повтор уходит с тем же tempId: любое из подтверждений погасит запись.
	assert.Equal(t, tempID, env.action.sends[1].TempID)
	assert.Equal(t, string(model.OptimisticPending), env.sink.snapshot().Groups[0].Entries[0].Status)
}

func TestSessionUpdateFailedStatusMarksOptimistic(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	tempID := env.session.Send(context.Background(), "undeliverable", nil, nil)

	// Отказ доставки пришёл UPDATE-ом по строке, которой нет в буфере.
	failed := msg("m-fail", "c1", "undeliverable", env.clock.Now())
	failed.Status = model.MessageStatusFailed
	failed.Metadata = map[string]any{"tempId": tempID}
	env.emitUpdate(t, failed)

	snap := env.sink.snapshot()
	require.Len(t, snap.Groups, 1)
	entry := snap.Groups[0].Entries[0]
	assert.Equal(t, tempID, entry.ID)
	assert.Equal(t, string(model.OptimisticFailed), entry.Status)
}

func TestSessionDeleteRemovesAndNotifies(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	env.emitInsert(t, msg("wamid.DEF987654", "c1", "bye", env.clock.Now()))

	env.emitDelete(t, "DEF987654")

	assert.Empty(t, entryIDs(env.sink.snapshot()))
	assert.Contains(t, env.notifier.notices, "Сообщение удалено")
}

func TestSessionDeleteUnknownIDIsNoop(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	env.emitInsert(t, msg("m1", "c1", "keep", env.clock.Now()))
	updates := env.sink.updates

	env.emitDelete(t, "nothing-here")

	assert.Equal(t, updates, env.sink.updates)
	assert.Len(t, entryIDs(env.sink.snapshot()), 1)
}

func TestSessionLoadOlderAdjustsOffsetForLiveInserts(t *testing.T) {
	env := newSessionEnv(t, "c1")
	env.seed("c1", 40, env.clock.Now().Add(-2*time.Hour))
	require.NoError(t, env.session.Activate(context.Background()))

	// Три живые вставки после активации.
	base := env.clock.Now()
	for i := 0; i < 3; i++ {
		env.emitInsert(t, msg(fmt.Sprintf("live%d", i), "c1", "live", base.Add(time.Duration(i)*time.Second)))
	}
	env.viewport.firstVisible = "m020"

	require.NoError(t, env.session.LoadOlder(context.Background()))

	// Активация: offset 0. Страница 2: (2-1)*20 + 3 живые вставки.
	require.Len(t, env.store.offsets, 2)
	assert.Equal(t, 0, env.store.offsets[0])
	assert.Equal(t, 23, env.store.offsets[1])
}

func TestSessionLoadOlderPreservesAnchor(t *testing.T) {
	env := newSessionEnv(t, "c1")
	env.seed("c1", 40, env.clock.Now().Add(-2*time.Hour))
	require.NoError(t, env.session.Activate(context.Background()))

	env.viewport.firstVisible = "m020"
	env.viewport.metricsFn = func(call int, anchorID string) (ViewportMetrics, error) {
		if call == 1 {
			// Снятие якоря до prepend.
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 50, ScrollTop: 10, ScrollHeight: 1000}, nil
		}
		// После prepend якорь уехал вниз на 600px.
		return ViewportMetrics{AnchorFound: true, AnchorOffset: 650, ScrollTop: 10, ScrollHeight: 1600}, nil
	}

	require.NoError(t, env.session.LoadOlder(context.Background()))

	require.Len(t, env.viewport.scrollTops, 1)
	assert.Equal(t, 610.0, env.viewport.scrollTops[0])
	// Старая страница встала перед текущей.
	assert.Equal(t, "m000", entryIDs(env.sink.snapshot())[0])
}

func TestSessionUnreadCountsWhenScrolledUp(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	// Агент высоко в истории: до низа далеко.
	env.viewport.metrics = ViewportMetrics{BottomGap: 1500}

	env.emitInsert(t, msg("m1", "c1", "new from customer", env.clock.Now()))

	snap := env.sink.snapshot()
	assert.Equal(t, 1, snap.Unread)
	assert.Zero(t, env.viewport.bottomScrolls)

	env.session.MarkRead()
	assert.Zero(t, env.sink.snapshot().Unread)
}

func TestSessionAutoscrollsNearBottom(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	env.viewport.metrics = ViewportMetrics{BottomGap: 100}

	env.emitInsert(t, msg("m1", "c1", "new", env.clock.Now()))

	assert.Zero(t, env.sink.snapshot().Unread)
	assert.Equal(t, 1, env.viewport.bottomScrolls)
}

func TestSessionResyncAfterStaleFeed(t *testing.T) {
	env := newSessionEnv(t, "c1")
	env.seed("c1", 5, env.clock.Now().Add(-time.Hour))
	require.NoError(t, env.session.Activate(context.Background()))

	// Пока вкладка была в фоне, в хранилище добавилось сообщение,
	// а лента молчала дольше порога.
	env.store.addMessage(msg("m-missed", "c1", "missed", env.clock.Now()))
	env.feed.setLastActivity(env.clock.Now().Add(-31 * time.Second))

	env.session.HandleVisible()
	require.Eventually(t, func() bool {
		ids := entryIDs(env.sink.snapshot())
		return len(ids) > 0 && ids[len(ids)-1] == "m-missed"
	}, time.Second, 10*time.Millisecond)
}

func TestSessionNoResyncWhenFeedFresh(t *testing.T) {
	env := newSessionEnv(t, "c1")
	env.seed("c1", 5, env.clock.Now().Add(-time.Hour))
	require.NoError(t, env.session.Activate(context.Background()))
	env.feed.setLastActivity(env.clock.Now().Add(-20 * time.Second))
	loads := len(env.store.offsets)

	env.session.HandleVisible()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, loads, len(env.store.offsets))
}

func TestSessionResyncClearsOptimisticAndFailed(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	ctx := context.Background()

	env.session.Send(ctx, "ещё в полёте", nil, nil)
	env.action.sendErr = &actions.BackendError{StatusCode: 500, Message: "внутренняя ошибка"}
	env.session.Send(ctx, "не ушло", nil, nil)

	require.NoError(t, env.session.ForceResync(ctx))

	// Полный сброс: pending и failed уходят из ленты, durable-слот пуст.
	assert.Empty(t, entryIDs(env.sink.snapshot()))
	entries, err := env.mirror.LoadFailed(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSessionRepeatedSendStillDispatches(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	ctx := context.Background()

	first := env.session.Send(ctx, "ок", nil, nil)
	confirmed := msg("m-real", "c1", "ок", env.clock.Now())
	confirmed.SenderType = model.SenderTypeAgent
	confirmed.Metadata = map[string]any{"tempId": first}
	env.emitInsert(t, confirmed)

	env.clock.Advance(2 * time.Second)
	second := env.session.Send(ctx, "ок", nil, nil)

	// Защита от дубликатов подавила вторую оптимистичную запись,
	// но сама отправка ушла в бэкенд.
	require.Len(t, env.action.sends, 2)
	assert.Equal(t, second, env.action.sends[1].TempID)
	assert.Equal(t, []string{"m-real"}, entryIDs(env.sink.snapshot()))
}

func TestSessionCollaboratorInsertDoesNotYankViewport(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	// Агент читает историю высоко над нижним краем.
	env.viewport.metrics = ViewportMetrics{BottomGap: 1500}

	m := msg("m-collab", "c1", "ответ коллеги", env.clock.Now())
	m.SenderType = model.SenderTypeAgent
	env.emitInsert(t, m)

	assert.Zero(t, env.viewport.bottomScrolls)
	assert.Equal(t, 1, env.sink.snapshot().Unread)
}

func TestSessionActivateRetiresConfirmedFromPage(t *testing.T) {
	env := newSessionEnv(t, "c1")
	ctx := context.Background()

	// Отправка ушла в прошлой сессии: в durable-слоте висит failed-запись,
	// а в хранилище уже лежит подтверждение с её tempId.
	stale := model.OptimisticMessage{
		ID:        "tmp-stale",
		ChatID:    "c1",
		Content:   "переотправка",
		Status:    model.OptimisticFailed,
		CreatedAt: env.clock.Now().Add(-time.Hour),
	}
	require.NoError(t, env.mirror.SaveFailed(ctx, "c1", []model.OptimisticMessage{stale}))
	confirmed := msg("m-conf", "c1", "переотправка", env.clock.Now().Add(-30*time.Minute))
	confirmed.SenderType = model.SenderTypeAgent
	confirmed.Metadata = map[string]any{"tempId": "tmp-stale"}
	env.store.addMessage(confirmed)

	require.NoError(t, env.session.Activate(ctx))

	assert.NotContains(t, entryIDs(env.sink.snapshot()), "tmp-stale")
	entries, err := env.mirror.LoadFailed(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSessionCustomerHistoryLoadsOlderPages(t *testing.T) {
	env := newSessionEnv(t, "c1")
	cust := "cust-1"
	base := env.clock.Now().Add(-2 * time.Hour)
	for i := 0; i < 25; i++ {
		chatID := "c1"
		if i < 10 {
			chatID = "c0"
		}
		m := msg(fmt.Sprintf("h%03d", i), chatID, fmt.Sprintf("история %d", i), base.Add(time.Duration(i)*time.Minute))
		m.SenderCustomerID = &cust
		env.store.addMessage(m)
	}
	ctx := context.Background()
	require.NoError(t, env.session.ActivateCustomerHistory(ctx, cust, "ch1"))
	require.True(t, env.sink.snapshot().HasMore)

	env.viewport.firstVisible = "h005"
	require.NoError(t, env.session.LoadOlder(ctx))

	// Вторая кросс-чатовая страница доливает остаток переписки клиента.
	snap := env.sink.snapshot()
	assert.False(t, snap.HasMore)
	var total int
	for _, b := range snap.Blocks {
		for _, g := range b.Groups {
			total += len(g.Entries)
		}
	}
	assert.Equal(t, 25, total)
}

func TestSessionInsertDuringActivateFetchIsKept(t *testing.T) {
	env := newSessionEnv(t, "c1")
	env.seed("c1", 25, env.clock.Now().Add(-time.Hour))
	live := msg("m-live", "c1", "пока грузились", env.clock.Now())
	env.store.pageHook = func() {
		raw, err := json.Marshal(live)
		require.NoError(t, err)
		env.feed.emit("messages", realtime.EventInsert, nil, raw)
	}

	require.NoError(t, env.session.Activate(context.Background()))

	// Подписки подняты до запроса страницы: вставка не потерялась.
	assert.Contains(t, entryIDs(env.sink.snapshot()), "m-live")

	env.viewport.firstVisible = "m010"
	require.NoError(t, env.session.LoadOlder(context.Background()))
	// Страница 2 сдвинута на одну живую вставку.
	require.Len(t, env.store.offsets, 2)
	assert.Equal(t, 21, env.store.offsets[1])
}

func TestSessionActivateWithMessageScrollsAndHighlights(t *testing.T) {
	env := newSessionEnv(t, "c1")
	env.seed("c1", 60, env.clock.Now().Add(-3*time.Hour))
	require.NoError(t, env.session.ActivateWithMessage(context.Background(), "m010"))

	assert.Contains(t, entryIDs(env.sink.snapshot()), "m010")
	assert.Equal(t, []string{"m010"}, env.viewport.scrolledTo)
}

func TestSessionActivateWithMissingMessageFallsBack(t *testing.T) {
	env := newSessionEnv(t, "c1")
	env.seed("c1", 5, env.clock.Now().Add(-time.Hour))
	require.NoError(t, env.session.ActivateWithMessage(context.Background(), "gone"))

	assert.Len(t, entryIDs(env.sink.snapshot()), 5)
	assert.NotEmpty(t, env.notifier.notices)
	assert.Empty(t, env.viewport.scrolledTo)
}

func TestSessionChatUpdateRefreshesWindow(t *testing.T) {
	env := newSessionEnv(t, "c1")
	env.store.chats["c1"].ChannelDetails.Type = model.ChannelWhatsAppOfficial
	require.NoError(t, env.session.Activate(context.Background()))
	assert.True(t, env.sink.snapshot().Window.IsMessageWindowClosed)

	// Клиент написал: окно открылось.
	now := env.clock.Now()
	env.store.chats["c1"].LastCustomerMessageAt = &now
	env.feed.emit("chats", realtime.EventUpdate, nil, []byte(`{"id":"c1"}`))

	snap := env.sink.snapshot()
	assert.True(t, snap.Window.CanSendMessage)
	assert.False(t, snap.Window.IsMessageWindowClosed)
}

func TestSessionCloseStopsSubscriptions(t *testing.T) {
	env := newSessionEnv(t, "c1")
	require.NoError(t, env.session.Activate(context.Background()))
	require.NotEmpty(t, env.feed.subs)

	env.session.Close(context.Background())
	for _, sub := range env.feed.subs {
		assert.True(t, sub.closed)
	}
}
