package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/interflow/internal/actions"
	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/mirror"
	"github.com/interflow/internal/model"
	"github.com/interflow/internal/realtime"
	"github.com/interflow/internal/telemetry"
)

// Deps — зависимости сессии треда.
type Deps struct {
	Store    MessageStore
	Chats    ChatStore
	Agents   AgentStore
	Action   ActionClient
	Feed     Feed
	Viewport Viewport
	Notifier Notifier
	Sink     UpdateSink
	Mirror   mirror.FailedStore
	Clock    Clock
	Config   Config
}

// Session — одна активная сессия треда агента. Все мутации буферов проходят
// под одним мьютексом; сетевые вызовы (страницы, обогащение, viewport RPC)
// выполняются вне его. Обработчики ленты вызываются последовательно из
// читающей горутины клиента, поэтому порядок событий внутри подписки
// сохраняется и здесь.
type Session struct {
	deps Deps
	cfg  Config

	paginator *Paginator
	scroll    *ScrollPreserver
	vis       *visibilityMonitor

	mu      sync.Mutex
	chatID  string
	chat    *model.Chat
	state   State
	buffer  *Buffer
	tracker *Tracker
	page    int
	hasMore bool
	// liveInserts — вставки ленты с начала сессии, поправка смещения пагинации.
	liveInserts int
	unread      int
	subs        []Canceler
	closed      bool

	// Режим «все чаты клиента»: буфер держит сообщения нескольких чатов,
	// снапшот группируется по чатам вместо дат.
	customerMode bool
	customerID   string
	channelID    string

	agentCache map[string]*model.AgentProfile
}

func NewSession(chatID string, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	cfg := deps.Config.withDefaults()
	s := &Session{
		deps:       deps,
		cfg:        cfg,
		paginator:  NewPaginator(deps.Store, cfg.PageSize),
		scroll:     NewScrollPreserver(deps.Viewport, cfg.WebViewScrollRetries),
		chatID:     chatID,
		state:      StateIdle,
		buffer:     NewBuffer(),
		tracker:    NewTracker(chatID, deps.Mirror, deps.Clock, cfg),
		page:       1,
		agentCache: make(map[string]*model.AgentProfile),
	}
	s.vis = newVisibilityMonitor(deps.Feed, deps.Clock, cfg.ResyncGap)
	return s
}

// Activate загружает первую страницу, поднимает подписки ленты и восстанавливает
// failed-записи из durable-зеркала.
func (s *Session) Activate(ctx context.Context) error {
	defer logger.DeferLogDuration("thread.Activate", time.Now())()
	s.setState(StateLoading)

	// Подписки поднимаются до запроса страницы: вставка, пришедшая во время
	// запроса, сразу попадает в буфер, а слияние страницы идемпотентно.
	s.mu.Lock()
	s.subscribeLocked()
	s.mu.Unlock()

	page, hasMore, err := s.paginator.LoadPage(ctx, s.chatID, 1, PageModeInitial, 0)
	if err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("thread.Activate: %w", err)
	}
	chat, err := s.deps.Chats.GetByID(ctx, s.chatID)
	if err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("thread.Activate chat: %w", err)
	}
	s.enrichPage(ctx, page)

	s.mu.Lock()
	s.chat = chat
	s.mergePageLocked(page)
	s.hasMore = hasMore
	s.page = 1
	s.tracker.RestoreFailedSnapshot(ctx)
	s.retireFromPageLocked(ctx, page)
	s.state = StateReady
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deps.Sink.ThreadUpdated(snap)
	return nil
}

// mergePageLocked вливает страницу в буфер и пересчитывает поправку смещения:
// живыми считаются только сообщения буфера, которых нет в снимке страницы.
func (s *Session) mergePageLocked(page []model.Message) {
	inPage := make(map[string]struct{}, len(page))
	for _, m := range page {
		inPage[m.ID] = struct{}{}
		s.buffer.Append(m)
	}
	live := 0
	for _, m := range s.buffer.All() {
		if _, ok := inPage[m.ID]; !ok {
			live++
		}
	}
	s.liveInserts = live
}

// retireFromPageLocked гасит оптимистичные записи, чей tempId подтверждён
// сообщением из загруженной страницы, — корреляция работает и через fetch,
// не только через событие ленты.
func (s *Session) retireFromPageLocked(ctx context.Context, page []model.Message) {
	retired := false
	for i := range page {
		tempID := page[i].TempID()
		if tempID == "" {
			continue
		}
		if s.tracker.Retire(tempID) {
			telemetry.Retirements.WithLabelValues("temp_id").Inc()
			retired = true
		}
	}
	if retired {
		s.tracker.PersistFailedSnapshot(ctx)
	}
}

// ActivateWithMessage — активация по deep-link: страница контекста вокруг
// конкретного сообщения, прокрутка к нему и подсветка. Если сообщение
// недоступно, сессия деградирует до обычной первой страницы с уведомлением.
func (s *Session) ActivateWithMessage(ctx context.Context, messageID string) error {
	defer logger.DeferLogDuration("thread.ActivateWithMessage", time.Now())()
	s.setState(StateLoading)

	s.mu.Lock()
	s.subscribeLocked()
	s.mu.Unlock()

	page, hasMore, err := s.paginator.LoadSpecificMessage(ctx, s.chatID, messageID)
	if err != nil {
		logger.Errorf("thread.ActivateWithMessage: %v", err)
		s.deps.Notifier.Notice("Сообщение недоступно, показана последняя страница")
		return s.Activate(ctx)
	}
	chat, err := s.deps.Chats.GetByID(ctx, s.chatID)
	if err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("thread.ActivateWithMessage chat: %w", err)
	}
	s.enrichPage(ctx, page)

	s.mu.Lock()
	s.chat = chat
	s.mergePageLocked(page)
	s.hasMore = hasMore
	s.page = 1
	s.tracker.RestoreFailedSnapshot(ctx)
	s.retireFromPageLocked(ctx, page)
	s.state = StateReady
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deps.Sink.ThreadUpdated(snap)
	if err := s.deps.Viewport.ScrollToMessage(ctx, messageID, s.cfg.HighlightDuration); err != nil {
		logger.Errorf("thread.ActivateWithMessage scroll: %v", err)
	}
	return nil
}

// ActivateCustomerHistory — режим «все чаты клиента»: единая лента всех
// сообщений клиента на канале, сгруппированная по чатам.
func (s *Session) ActivateCustomerHistory(ctx context.Context, customerID, channelID string) error {
	defer logger.DeferLogDuration("thread.ActivateCustomerHistory", time.Now())()
	s.setState(StateLoading)

	page, hasMore, err := s.paginator.LoadCustomerPage(ctx, customerID, channelID, 1)
	if err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("thread.ActivateCustomerHistory: %w", err)
	}
	s.enrichPage(ctx, page)

	s.mu.Lock()
	s.customerMode = true
	s.customerID = customerID
	s.channelID = channelID
	s.buffer.Clear()
	for _, m := range page {
		s.buffer.Append(m)
	}
	s.hasMore = hasMore
	s.page = 1
	s.state = StateReady
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deps.Sink.ThreadUpdated(snap)
	return nil
}

// Close снимает подписки и сохраняет failed-подмножество в durable-зеркало.
func (s *Session) Close(ctx context.Context) {
	s.vis.stop()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.tracker.PersistFailedSnapshot(ctx)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// subscribeLocked поднимает четыре подписки ленты. Удаления слушаются по всей
// таблице: сервис ленты не заполняет chat_id в old-строке DELETE, фильтр по
// чату отрезал бы их.
func (s *Session) subscribeLocked() {
	if len(s.subs) > 0 {
		return
	}
	chatFilter := &realtime.Filter{Column: "chat_id", Value: s.chatID}
	s.subs = []Canceler{
		s.deps.Feed.Subscribe("messages",
			[]realtime.EventType{realtime.EventInsert, realtime.EventUpdate},
			chatFilter, s.handleMessageEvent),
		s.deps.Feed.Subscribe("messages",
			[]realtime.EventType{realtime.EventDelete},
			nil, s.handleMessageEvent),
		s.deps.Feed.Subscribe("chat_collaborators",
			[]realtime.EventType{realtime.EventInsert, realtime.EventUpdate},
			chatFilter, s.handleChatSideEvent),
		s.deps.Feed.Subscribe("chats",
			[]realtime.EventType{realtime.EventUpdate},
			&realtime.Filter{Column: "id", Value: s.chatID}, s.handleChatSideEvent),
	}
}

// --- Обработчики ленты ---

func (s *Session) handleMessageEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventInsert:
		var m model.Message
		if err := json.Unmarshal(ev.New, &m); err != nil {
			logger.Errorf("thread.insert decode: %v", err)
			return
		}
		s.applyInsert(context.Background(), m)
	case realtime.EventUpdate:
		var m model.Message
		if err := json.Unmarshal(ev.New, &m); err != nil {
			logger.Errorf("thread.update decode: %v", err)
			return
		}
		s.applyUpdate(context.Background(), m)
	case realtime.EventDelete:
		var old struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Old, &old); err != nil || old.ID == "" {
			logger.Errorf("thread.delete decode: %v", err)
			return
		}
		s.applyDelete(context.Background(), old.ID)
	}
}

// handleChatSideEvent — изменения чата или состава участников: перечитываем
// чат целиком, от него зависят окно отправки и шапка треда.
func (s *Session) handleChatSideEvent(realtime.Event) {
	ctx := context.Background()
	chat, err := s.deps.Chats.GetByID(ctx, s.chatID)
	if err != nil {
		logger.Errorf("thread.refetch chat %s: %v", s.chatID, err)
		return
	}
	s.mu.Lock()
	s.chat = chat
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.deps.Sink.ThreadUpdated(snap)
}

// applyInsert — вставка из ленты. Идемпотентна: повтор события или сообщение,
// уже попавшее в буфер со страницы, отбрасываются. Совпавшая оптимистичная
// запись гасится по tempId, при его отсутствии — по содержимому и недавности.
func (s *Session) applyInsert(ctx context.Context, m model.Message) {
	s.enrich(ctx, &m)
	nearBottom := NearBottom(ctx, s.deps.Viewport, s.cfg.NearBottomPx)

	s.mu.Lock()
	if s.closed || !s.buffer.Append(m) {
		s.mu.Unlock()
		return
	}
	s.liveInserts++
	if tempID := m.TempID(); tempID != "" {
		if s.tracker.Retire(tempID) {
			telemetry.Retirements.WithLabelValues("temp_id").Inc()
		}
	} else if m.SenderType == model.SenderTypeAgent {
		if s.tracker.RetireByContent(m.TrimmedContent(), s.deps.Clock.Now()) {
			telemetry.Retirements.WithLabelValues("content").Inc()
		}
	}
	// Автопрокрутка только у нижнего края: сообщение коллеги не должно срывать
	// чтение истории. Собственные отправки прокручиваются в Send.
	autoscroll := nearBottom
	if !autoscroll {
		s.unread++
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deps.Sink.ThreadUpdated(snap)
	if autoscroll {
		if err := s.deps.Viewport.ScrollToBottom(ctx); err != nil {
			logger.Errorf("thread.applyInsert scroll: %v", err)
		}
	}
}

// applyUpdate — обновление строки. Сообщения нет в буфере и статус failed:
// это отказ доставки нашей же отправки, прилетевший раньше (или вместо)
// вставки — оптимистичную запись переводим в failed, а не гасим.
func (s *Session) applyUpdate(ctx context.Context, m model.Message) {
	s.enrich(ctx, &m)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.buffer.Contains(m.ID) {
		if m.Status == model.MessageStatusFailed {
			if tempID := m.TempID(); tempID != "" && s.tracker.MarkStatus(tempID, model.OptimisticFailed, "Сообщение не доставлено") {
				s.tracker.PersistFailedSnapshot(ctx)
				snap := s.snapshotLocked()
				s.mu.Unlock()
				s.deps.Sink.ThreadUpdated(snap)
				return
			}
		}
		s.mu.Unlock()
		return
	}
	s.buffer.Replace(m)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.deps.Sink.ThreadUpdated(snap)
}

// applyDelete снимает сообщение из буфера и трекера. Сопоставление id —
// нестрогое (подстрока не короче шести символов): каналы переписывают
// идентификаторы при подтверждении доставки.
func (s *Session) applyDelete(ctx context.Context, deletedID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	removed := s.buffer.RemoveMatching(deletedID)
	removed = append(removed, s.tracker.RemoveMatching(deletedID)...)
	if len(removed) == 0 {
		s.mu.Unlock()
		return
	}
	s.tracker.PersistFailedSnapshot(ctx)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	telemetry.DeleteMatches.Add(float64(len(removed)))
	s.deps.Sink.ThreadUpdated(snap)
	for range removed {
		s.deps.Notifier.Notice("Сообщение удалено")
	}
}

// --- Действия агента ---

// Send создаёт оптимистичную запись и отправляет сообщение через бэкенд.
// Анти-дубликатная защита трекера подавляет только повторную оптимистичную
// запись — сама отправка уходит в любом случае: агент вправе послать «ок»
// дважды подряд. Отказ переводит запись в failed с текстом ошибки бэкенда
// как есть; запись остаётся в ленте для повтора.
func (s *Session) Send(ctx context.Context, content string, attachments []model.Attachment, replyTo *string) string {
	tempID := "tmp-" + uuid.NewString()
	draft := model.OptimisticMessage{
		ID:               tempID,
		ChatID:           s.chatID,
		Content:          content,
		Attachments:      attachments,
		ReplyToMessageID: replyTo,
		Status:           model.OptimisticPending,
		CreatedAt:        s.deps.Clock.Now(),
	}

	s.mu.Lock()
	added := s.tracker.Add(draft, s.buffer)
	var snap Snapshot
	if added {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()
	if added {
		s.deps.Sink.ThreadUpdated(snap)
		if err := s.deps.Viewport.ScrollToBottom(ctx); err != nil {
			logger.Errorf("thread.Send scroll: %v", err)
		}
	}

	s.dispatchSend(ctx, draft)
	return tempID
}

// Retry повторяет отправку failed-записи с тем же tempId: подтверждение
// любой из попыток погасит ту же запись.
func (s *Session) Retry(ctx context.Context, tempID string) error {
	s.mu.Lock()
	entry, ok := s.tracker.Get(tempID)
	if !ok || entry.Status != model.OptimisticFailed {
		s.mu.Unlock()
		return fmt.Errorf("thread.Retry: no failed entry %s", tempID)
	}
	draft := *entry
	s.tracker.MarkStatus(tempID, model.OptimisticPending, "")
	s.tracker.PersistFailedSnapshot(ctx)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deps.Sink.ThreadUpdated(snap)
	s.dispatchSend(ctx, draft)
	return nil
}

func (s *Session) dispatchSend(ctx context.Context, draft model.OptimisticMessage) {
	req := actions.SendMessageRequest{
		ChatID:  draft.ChatID,
		Content: draft.Content,
		TempID:  draft.ID,
	}
	if draft.ReplyToMessageID != nil {
		req.ReplyToMessageID = *draft.ReplyToMessageID
	}
	if err := s.deps.Action.SendMessage(ctx, req); err != nil {
		logger.Errorf("thread.Send %s: %v", draft.ID, err)
		msg := "Не удалось отправить сообщение"
		var berr *actions.BackendError
		if errors.As(err, &berr) && berr.Message != "" {
			msg = berr.Message
		}
		s.mu.Lock()
		s.tracker.MarkStatus(draft.ID, model.OptimisticFailed, msg)
		s.tracker.PersistFailedSnapshot(ctx)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.deps.Sink.ThreadUpdated(snap)
		s.deps.Notifier.ErrorBanner(msg)
		telemetry.SendFailures.Inc()
	}
}

// DiscardLocal удаляет оптимистичную запись (отказ от повтора failed-отправки).
func (s *Session) DiscardLocal(ctx context.Context, tempID string) {
	s.mu.Lock()
	if !s.tracker.Remove(tempID) {
		s.mu.Unlock()
		return
	}
	s.tracker.PersistFailedSnapshot(ctx)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.deps.Sink.ThreadUpdated(snap)
}

// DeleteMessage запрашивает удаление подтверждённого сообщения. Из буфера оно
// уйдёт через DELETE-событие ленты, не здесь.
func (s *Session) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.deps.Action.DeleteMessage(ctx, messageID); err != nil {
		logger.Errorf("thread.DeleteMessage %s: %v", messageID, err)
		msg := "Не удалось удалить сообщение"
		var berr *actions.BackendError
		if errors.As(err, &berr) && berr.Message != "" {
			msg = berr.Message
		}
		s.deps.Notifier.ErrorBanner(msg)
		return err
	}
	return nil
}

// MarkRead сбрасывает счётчик непрочитанных (агент доскроллил до низа).
func (s *Session) MarkRead() {
	s.mu.Lock()
	if s.unread == 0 {
		s.mu.Unlock()
		return
	}
	s.unread = 0
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.deps.Sink.ThreadUpdated(snap)
}

// LoadOlder догружает следующую страницу истории с сохранением позиции чтения.
// В режиме «все чаты клиента» догружается кросс-чатовая страница.
func (s *Session) LoadOlder(ctx context.Context) error {
	defer logger.DeferLogDuration("thread.LoadOlder", time.Now())()
	s.mu.Lock()
	if !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	customerMode := s.customerMode
	customerID, channelID := s.customerID, s.channelID
	nextPage := s.page + 1
	liveInserts := s.liveInserts
	s.mu.Unlock()

	telemetry.HistoryLoads.Inc()
	anchor, err := s.scroll.Capture(ctx)
	if err != nil {
		logger.Errorf("thread.LoadOlder anchor: %v", err)
	}
	var page []model.Message
	var hasMore bool
	if customerMode {
		page, hasMore, err = s.paginator.LoadCustomerPage(ctx, customerID, channelID, nextPage)
	} else {
		page, hasMore, err = s.paginator.LoadPage(ctx, s.chatID, nextPage, PageModeOlder, liveInserts)
	}
	if errors.Is(err, ErrInFlight) {
		return nil
	}
	if err != nil {
		s.deps.Notifier.ErrorBanner("Не удалось загрузить историю")
		return err
	}
	s.enrichPage(ctx, page)

	s.mu.Lock()
	s.buffer.MergeOlder(page)
	s.page = nextPage
	s.hasMore = hasMore
	s.retireFromPageLocked(ctx, page)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deps.Sink.ThreadUpdated(snap)
	s.scroll.Restore(ctx, anchor)
	return nil
}

// HandleVisible — событие visibilitychange консоли. Полный ресинк запускается
// только при устаревшей ленте (тишина дольше порога).
func (s *Session) HandleVisible() {
	s.vis.OnVisible(func() {
		if err := s.ForceResync(context.Background()); err != nil {
			logger.Errorf("thread.HandleVisible: %v", err)
		}
	})
}

// ForceResync — полный сброс состояния: подтверждённый буфер, оптимистичный
// буфер вместе с failed-подмножеством и его durable-слотом, курсор пагинации.
// Первая страница и чат перечитываются с нуля.
func (s *Session) ForceResync(ctx context.Context) error {
	defer logger.DeferLogDuration("thread.ForceResync", time.Now())()
	telemetry.Resyncs.Inc()
	s.setState(StateLoading)

	page, hasMore, err := s.paginator.LoadPage(ctx, s.chatID, 1, PageModeResync, 0)
	if err != nil {
		s.setState(StateReady)
		s.deps.Notifier.ErrorBanner("Не удалось обновить чат")
		return fmt.Errorf("thread.ForceResync: %w", err)
	}
	chat, err := s.deps.Chats.GetByID(ctx, s.chatID)
	if err != nil {
		logger.Errorf("thread.ForceResync chat: %v", err)
		chat = nil
	}
	s.enrichPage(ctx, page)

	s.mu.Lock()
	s.buffer.Clear()
	s.tracker.Clear()
	s.tracker.PersistFailedSnapshot(ctx)
	for _, m := range page {
		s.buffer.Append(m)
	}
	if chat != nil {
		s.chat = chat
	}
	s.page = 1
	s.liveInserts = 0
	s.unread = 0
	s.hasMore = hasMore
	s.state = StateReady
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deps.Sink.ThreadUpdated(snap)
	return nil
}

// --- Обогащение и снапшот ---

// enrich дотягивает профиль агента-отправителя и цитируемое сообщение.
// Best-effort: отказ обогащения не блокирует доставку самого сообщения.
func (s *Session) enrich(ctx context.Context, m *model.Message) {
	if m.SenderAgentID != nil && m.SenderAgent == nil {
		m.SenderAgent = s.agentProfile(ctx, *m.SenderAgentID)
	}
	if m.ResponseMessageID != nil && m.ResponseTo == nil {
		parent, err := s.deps.Store.GetByID(ctx, *m.ResponseMessageID)
		if err != nil {
			logger.Errorf("thread.enrich response %s: %v", *m.ResponseMessageID, err)
		} else {
			m.ResponseTo = parent
		}
	}
}

func (s *Session) enrichPage(ctx context.Context, page []model.Message) {
	for i := range page {
		s.enrich(ctx, &page[i])
	}
}

func (s *Session) agentProfile(ctx context.Context, agentID string) *model.AgentProfile {
	s.mu.Lock()
	cached, ok := s.agentCache[agentID]
	s.mu.Unlock()
	if ok {
		return cached
	}
	profile, err := s.deps.Agents.GetByID(ctx, agentID)
	if err != nil {
		logger.Errorf("thread.agentProfile %s: %v", agentID, err)
		return nil
	}
	s.mu.Lock()
	s.agentCache[agentID] = profile
	s.mu.Unlock()
	return profile
}

// snapshotLocked собирает модель рендера. Вызывается под мьютексом.
func (s *Session) snapshotLocked() Snapshot {
	entries := buildEntries(s.buffer.All(), s.tracker.Visible(s.buffer))
	snap := Snapshot{
		ChatID:  s.chatID,
		State:   s.state,
		HasMore: s.hasMore,
		Unread:  s.unread,
	}
	if s.customerMode {
		snap.Blocks = GroupByChat(entries, s.chatID)
	} else {
		snap.Groups = GroupByDate(entries)
	}
	if s.chat != nil {
		snap.Window = model.WindowStateAt(s.chat, s.deps.Clock.Now())
		snap.Features = model.FeaturesFor(s.chat.ChannelType())
	}
	return snap
}
