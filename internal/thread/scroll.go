package thread

import (
	"context"
	"math"
	"time"

	"github.com/interflow/internal/logger"
)

// scrollSettleTolerance — допустимое расхождение между выставленным и
// фактическим scrollTop при контрольном замере, px.
const scrollSettleTolerance = 2.0

// ViewportMetrics — снимок геометрии списка сообщений на стороне агента.
type ViewportMetrics struct {
	AnchorFound  bool
	AnchorOffset float64
	ScrollTop    float64
	ScrollHeight float64
	BottomGap    float64
}

// Viewport — управление прокруткой в браузере агента. Реализуется RPC поверх
// вебсокета; в тестах — фейком. Все вызовы best-effort: консоль агента могла
// отвалиться между снятием якоря и восстановлением.
type Viewport interface {
	Metrics(ctx context.Context, anchorID string) (ViewportMetrics, error)
	FirstVisibleMessage(ctx context.Context) (string, error)
	SetScrollTop(ctx context.Context, top float64) error
	ScrollToBottom(ctx context.Context) error
	ScrollToMessage(ctx context.Context, messageID string, highlight time.Duration) error
	ForceReflow(ctx context.Context) error
	IsEmbeddedWebView() bool
}

// ScrollAnchor — сохранённая позиция перед догрузкой истории.
type ScrollAnchor struct {
	MessageID    string
	Offset       float64
	ScrollTop    float64
	ScrollHeight float64
}

// ScrollPreserver удерживает позицию чтения при prepend старой истории.
// Основной путь — якорь по первому видимому сообщению; запасной — сдвиг
// на прирост scrollHeight, когда якорь не нашёлся после рендера.
type ScrollPreserver struct {
	vp        Viewport
	retries   int
	baseDelay time.Duration
}

func NewScrollPreserver(vp Viewport, retries int) *ScrollPreserver {
	if retries <= 0 {
		retries = 5
	}
	return &ScrollPreserver{vp: vp, retries: retries, baseDelay: 100 * time.Millisecond}
}

// Capture снимает якорь до мутации буфера. Ошибка означает, что восстановить
// будет нечего; вызывающий продолжает без якоря.
func (s *ScrollPreserver) Capture(ctx context.Context) (ScrollAnchor, error) {
	id, err := s.vp.FirstVisibleMessage(ctx)
	if err != nil {
		return ScrollAnchor{}, err
	}
	m, err := s.vp.Metrics(ctx, id)
	if err != nil {
		return ScrollAnchor{}, err
	}
	return ScrollAnchor{MessageID: id, Offset: m.AnchorOffset, ScrollTop: m.ScrollTop, ScrollHeight: m.ScrollHeight}, nil
}

// Restore возвращает вьюпорт к якорю после prepend. Во встроенном вебвью рендер
// может запоздать, поэтому восстановление повторяется с растущей задержкой
// (100ms, 200ms, ...) и принудительным reflow между попытками; выходим раньше,
// как только позиция стабилизировалась.
func (s *ScrollPreserver) Restore(ctx context.Context, anchor ScrollAnchor) {
	if anchor.MessageID == "" {
		return
	}
	attempts := 1
	if s.vp.IsEmbeddedWebView() {
		attempts = s.retries
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(i) * s.baseDelay):
			}
			if err := s.vp.ForceReflow(ctx); err != nil {
				logger.Errorf("thread.Restore: reflow: %v", err)
			}
		}
		if s.restoreOnce(ctx, anchor) {
			return
		}
	}
}

// restoreOnce — одна попытка; true, когда позиция применена и удержалась.
func (s *ScrollPreserver) restoreOnce(ctx context.Context, anchor ScrollAnchor) bool {
	m, err := s.vp.Metrics(ctx, anchor.MessageID)
	if err != nil {
		logger.Errorf("thread.Restore: metrics: %v", err)
		return false
	}
	var target float64
	if m.AnchorFound {
		target = m.ScrollTop + (m.AnchorOffset - anchor.Offset)
	} else {
		// Якорь не отрендерился: компенсируем прирост высоты документа.
		growth := m.ScrollHeight - anchor.ScrollHeight
		if growth <= 0 {
			return false
		}
		target = anchor.ScrollTop + growth
	}
	if err := s.vp.SetScrollTop(ctx, target); err != nil {
		logger.Errorf("thread.Restore: set scroll: %v", err)
		return false
	}
	// Контрольный замер: вебвью может пересчитать раскладку уже после установки
	// и снести позицию — тогда попытка повторяется с пересчётом цели.
	check, err := s.vp.Metrics(ctx, anchor.MessageID)
	if err != nil {
		return true
	}
	return math.Abs(check.ScrollTop-target) <= scrollSettleTolerance
}

// NearBottom сообщает, находится ли агент у нижнего края (в пределах px).
// Ошибка трактуется как «не у края»: лучше показать счётчик непрочитанных,
// чем сорвать чтение автопрокруткой.
func NearBottom(ctx context.Context, vp Viewport, px float64) bool {
	m, err := vp.Metrics(ctx, "")
	if err != nil {
		return false
	}
	return m.BottomGap <= px
}
