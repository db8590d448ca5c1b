package thread

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/interflow/internal/actions"
	"github.com/interflow/internal/model"
	"github.com/interflow/internal/realtime"
	"github.com/interflow/internal/repository"
)

// fakeClock — управляемые часы.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeStore держит сообщения в памяти и отдаёт страницы новыми вперёд,
// как настоящий репозиторий.
type fakeStore struct {
	mu       sync.Mutex
	messages []model.Message
	chats    map[string]*model.Chat
	agents   map[string]*model.AgentProfile
	pageErr  error
	// offsets — аргументы offset всех вызовов PageByChat, в порядке вызова.
	offsets []int
	// pageHook выполняется один раз в начале следующего PageByChat — имитация
	// события ленты, пришедшего во время запроса страницы.
	pageHook func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:  make(map[string]*model.Chat),
		agents: make(map[string]*model.AgentProfile),
	}
}

func (s *fakeStore) addMessage(m model.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

func (s *fakeStore) descending(filter func(model.Message) bool) []model.Message {
	var out []model.Message
	for _, m := range s.messages {
		if filter == nil || filter(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func pageOf(all []model.Message, limit, offset int) []model.Message {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]model.Message(nil), all[offset:end]...)
}

func (s *fakeStore) PageByChat(_ context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	if s.pageHook != nil {
		hook := s.pageHook
		s.pageHook = nil
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, offset)
	if s.pageErr != nil {
		return nil, s.pageErr
	}
	return pageOf(s.descending(func(m model.Message) bool { return m.ChatID == chatID }), limit, offset), nil
}

func (s *fakeStore) PageByChatBefore(_ context.Context, chatID string, before time.Time, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.descending(func(m model.Message) bool {
		return m.ChatID == chatID && !m.CreatedAt.After(before)
	})
	return pageOf(all, limit, 0), nil
}

func (s *fakeStore) PageByCustomer(_ context.Context, customerID, channelID string, limit, offset int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.descending(func(m model.Message) bool {
		return m.SenderCustomerID != nil && *m.SenderCustomerID == customerID
	})
	return pageOf(all, limit, offset), nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			m := s.messages[i]
			return &m, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) GetChat(_ context.Context, id string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) GetAgent(_ context.Context, id string) (*model.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

type chatStoreFunc func(ctx context.Context, id string) (*model.Chat, error)

func (f chatStoreFunc) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	return f(ctx, id)
}

type agentStoreFunc func(ctx context.Context, id string) (*model.AgentProfile, error)

func (f agentStoreFunc) GetByID(ctx context.Context, id string) (*model.AgentProfile, error) {
	return f(ctx, id)
}

// fakeFeed записывает подписки и позволяет эмитить события в обработчики.
type fakeFeed struct {
	mu           sync.Mutex
	subs         []*fakeSub
	lastActivity time.Time
}

type fakeSub struct {
	feed    *fakeFeed
	table   string
	events  []realtime.EventType
	filter  *realtime.Filter
	handler realtime.Handler
	closed  bool
}

func (s *fakeSub) Close() {
	s.feed.mu.Lock()
	s.closed = true
	s.feed.mu.Unlock()
}

func (f *fakeFeed) Subscribe(table string, events []realtime.EventType, filter *realtime.Filter, h realtime.Handler) Canceler {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSub{feed: f, table: table, events: events, filter: filter, handler: h}
	f.subs = append(f.subs, sub)
	return sub
}

func (f *fakeFeed) LastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastActivity
}

func (f *fakeFeed) setLastActivity(t time.Time) {
	f.mu.Lock()
	f.lastActivity = t
	f.mu.Unlock()
}

// emit доставляет событие во все подходящие подписки, как это делает клиент
// ленты: последовательно, с учётом таблицы, типа и фильтра.
func (f *fakeFeed) emit(table string, typ realtime.EventType, oldJSON, newJSON []byte) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()
	for _, sub := range subs {
		if sub.closed || sub.table != table {
			continue
		}
		match := false
		for _, e := range sub.events {
			if e == typ {
				match = true
			}
		}
		if !match {
			continue
		}
		sub.handler(realtime.Event{Table: table, Type: typ, Old: oldJSON, New: newJSON})
	}
}

// fakeViewport — геометрия списка без браузера.
type fakeViewport struct {
	mu            sync.Mutex
	metrics       ViewportMetrics
	firstVisible  string
	embedded      bool
	metricsCalls  int
	scrolledTo    []string
	bottomScrolls int
	scrollTops    []float64
	reflows       int
	metricsFn     func(call int, anchorID string) (ViewportMetrics, error)
}

func (v *fakeViewport) Metrics(_ context.Context, anchorID string) (ViewportMetrics, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.metricsCalls++
	if v.metricsFn != nil {
		return v.metricsFn(v.metricsCalls, anchorID)
	}
	return v.metrics, nil
}

func (v *fakeViewport) FirstVisibleMessage(_ context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.firstVisible == "" {
		return "", fmt.Errorf("empty viewport")
	}
	return v.firstVisible, nil
}

func (v *fakeViewport) SetScrollTop(_ context.Context, top float64) error {
	v.mu.Lock()
	v.scrollTops = append(v.scrollTops, top)
	v.mu.Unlock()
	return nil
}

func (v *fakeViewport) ScrollToBottom(_ context.Context) error {
	v.mu.Lock()
	v.bottomScrolls++
	v.mu.Unlock()
	return nil
}

func (v *fakeViewport) ScrollToMessage(_ context.Context, messageID string, _ time.Duration) error {
	v.mu.Lock()
	v.scrolledTo = append(v.scrolledTo, messageID)
	v.mu.Unlock()
	return nil
}

func (v *fakeViewport) ForceReflow(_ context.Context) error {
	v.mu.Lock()
	v.reflows++
	v.mu.Unlock()
	return nil
}

func (v *fakeViewport) IsEmbeddedWebView() bool { return v.embedded }

// fakeNotifier копит уведомления.
type fakeNotifier struct {
	mu      sync.Mutex
	notices []string
	banners []string
}

func (n *fakeNotifier) Notice(text string) {
	n.mu.Lock()
	n.notices = append(n.notices, text)
	n.mu.Unlock()
}

func (n *fakeNotifier) ErrorBanner(text string) {
	n.mu.Lock()
	n.banners = append(n.banners, text)
	n.mu.Unlock()
}

// fakeSink хранит последний снапшот.
type fakeSink struct {
	mu      sync.Mutex
	last    Snapshot
	updates int
}

func (s *fakeSink) ThreadUpdated(snap Snapshot) {
	s.mu.Lock()
	s.last = snap
	s.updates++
	s.mu.Unlock()
}

func (s *fakeSink) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// fakeAction записывает отправки; err возвращается из SendMessage.
type fakeAction struct {
	mu      sync.Mutex
	sends   []actions.SendMessageRequest
	deletes []string
	sendErr error
}

func (a *fakeAction) SendMessage(_ context.Context, req actions.SendMessageRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, req)
	return a.sendErr
}

func (a *fakeAction) DeleteMessage(_ context.Context, id string) error {
	a.mu.Lock()
	a.deletes = append(a.deletes, id)
	a.mu.Unlock()
	return nil
}
