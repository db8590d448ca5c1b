package thread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/model"
)

// PageMode различает запросы пагинации для ключа дедупликации и поправки смещения.
type PageMode string

const (
	// PageModeInitial — первая страница при активации чата.
	PageModeInitial PageMode = "initial"
	// PageModeOlder — догрузка истории при прокрутке вверх.
	PageModeOlder PageMode = "older"
	// PageModeResync — принудительная перезагрузка: поправка на живые вставки
	// игнорируется, смещение считается с нуля.
	PageModeResync PageMode = "resync"
	// PageModeCustomer — кросс-чатовая страница режима «все чаты клиента».
	PageModeCustomer PageMode = "customer"
)

// Paginator драйвит загрузку страниц. Страница фиксированного размера читается
// новыми вперёд и разворачивается в хронологический порядок до слияния. Смещение
// сдвигается на число живых вставок, замеченных с начала сессии, — иначе страница N
// повторит сообщения, которые лента уже доставила.
type Paginator struct {
	store    MessageStore
	pageSize int

	// inflight защищает от дублирующихся запросов с теми же параметрами:
	// повторный запрос той же страницы — no-op, не очередь.
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewPaginator(store MessageStore, pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Paginator{store: store, pageSize: pageSize, inflight: make(map[string]struct{})}
}

func (p *Paginator) PageSize() int { return p.pageSize }

func (p *Paginator) acquire(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[key]; busy {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Paginator) release(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

// ErrInFlight возвращается, когда страница с теми же параметрами уже грузится.
var ErrInFlight = errInFlight{}

type errInFlight struct{}

func (errInFlight) Error() string { return "page load already in flight" }

// LoadPage загружает страницу pageNumber (с 1) чата. liveInserts — число живых
// вставок с начала сессии; в PageModeResync поправка игнорируется.
// Возвращает страницу в хронологическом порядке и признак наличия более старых.
func (p *Paginator) LoadPage(ctx context.Context, chatID string, pageNumber int, mode PageMode, liveInserts int) ([]model.Message, bool, error) {
	defer logger.DeferLogDuration("thread.LoadPage", time.Now())()
	key := fmt.Sprintf("%s|%d|%s", chatID, pageNumber, mode)
	if !p.acquire(key) {
		return nil, false, ErrInFlight
	}
	defer p.release(key)

	offset := (pageNumber - 1) * p.pageSize
	if mode != PageModeResync {
		offset += liveInserts
	}
	page, err := p.store.PageByChat(ctx, chatID, p.pageSize, offset)
	if err != nil {
		return nil, false, fmt.Errorf("load page %d: %w", pageNumber, err)
	}
	hasMore := len(page) == p.pageSize
	reverse(page)
	return page, hasMore, nil
}

// LoadSpecificMessage загружает контекст вокруг конкретного сообщения
// (deep-link из поиска или уведомления). Сначала берётся само сообщение ради
// метки времени, затем страница контекста; если цели в ней нет — страница
// с created_at <= цели (шаг назад). Ошибка любого шага — откат на обычную
// первую страницу силами вызывающего.
func (p *Paginator) LoadSpecificMessage(ctx context.Context, chatID, messageID string) ([]model.Message, bool, error) {
	defer logger.DeferLogDuration("thread.LoadSpecificMessage", time.Now())()
	target, err := p.store.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, fmt.Errorf("load target %s: %w", messageID, err)
	}
	// Секунда сверху покрывает усечение меток времени при сериализации.
	page, err := p.store.PageByChatBefore(ctx, chatID, target.CreatedAt.Add(time.Second), p.pageSize)
	if err != nil {
		return nil, false, fmt.Errorf("load context %s: %w", messageID, err)
	}
	found := false
	for i := range page {
		if page[i].ID == messageID {
			found = true
			break
		}
	}
	if !found {
		page, err = p.store.PageByChatBefore(ctx, chatID, target.CreatedAt, p.pageSize)
		if err != nil {
			return nil, false, fmt.Errorf("walk back %s: %w", messageID, err)
		}
	}
	hasMore := len(page) == p.pageSize
	reverse(page)
	return page, hasMore, nil
}

// LoadCustomerPage — кросс-чатовая страница: все сообщения клиента на канале.
func (p *Paginator) LoadCustomerPage(ctx context.Context, customerID, channelID string, pageNumber int) ([]model.Message, bool, error) {
	defer logger.DeferLogDuration("thread.LoadCustomerPage", time.Now())()
	key := fmt.Sprintf("%s|%s|%d|%s", customerID, channelID, pageNumber, PageModeCustomer)
	if !p.acquire(key) {
		return nil, false, ErrInFlight
	}
	defer p.release(key)

	offset := (pageNumber - 1) * p.pageSize
	page, err := p.store.PageByCustomer(ctx, customerID, channelID, p.pageSize, offset)
	if err != nil {
		return nil, false, fmt.Errorf("load customer page %d: %w", pageNumber, err)
	}
	hasMore := len(page) == p.pageSize
	reverse(page)
	return page, hasMore, nil
}

func reverse(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
