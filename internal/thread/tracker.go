package thread

import (
	"context"
	"strings"
	"time"

	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/mirror"
	"github.com/interflow/internal/model"
)

// Tracker держит сообщения, авторённые консолью и ещё не подтверждённые
// хранилищем. "failed" — статус записи, а не отдельный список; отдельно живёт
// только durable-зеркало failed-подмножества (переживает перезагрузку).
// Не потокобезопасен: им владеет сессия под своим мьютексом.
type Tracker struct {
	chatID  string
	entries []model.OptimisticMessage
	store   mirror.FailedStore
	clock   Clock

	pendingWindow time.Duration
	failedWindow  time.Duration
}

func NewTracker(chatID string, store mirror.FailedStore, clock Clock, cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		chatID:        chatID,
		store:         store,
		clock:         clock,
		pendingWindow: cfg.PendingDedupWindow,
		failedWindow:  cfg.FailedDedupWindow,
	}
}

// Add регистрирует оптимистичную запись. No-op, если запись с таким id уже есть,
// если подтверждённое сообщение с таким id уже в буфере, или если подтверждённое
// сообщение с идентичным trimmed-контентом создано за последние 5 секунд
// (гонка с быстрым round-trip). Возвращает true, если запись добавлена.
func (t *Tracker) Add(draft model.OptimisticMessage, persisted *Buffer) bool {
	for i := range t.entries {
		if t.entries[i].ID == draft.ID {
			return false
		}
	}
	if persisted != nil {
		if persisted.Contains(draft.ID) {
			return false
		}
		if persisted.HasRecentContent(draft.Content, t.clock.Now(), t.pendingWindow) {
			return false
		}
	}
	if draft.Status == "" {
		draft.Status = model.OptimisticPending
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = t.clock.Now()
	}
	draft.ChatID = t.chatID
	t.entries = append(t.entries, draft)
	return true
}

// MarkStatus обновляет статус записи на месте. Запись не перемещается между
// списками — меняется только статус и текст ошибки.
func (t *Tracker) MarkStatus(id string, status model.OptimisticStatus, errMsg string) bool {
	for i := range t.entries {
		if t.entries[i].ID == id {
			t.entries[i].Status = status
			t.entries[i].ErrorMessage = errMsg
			return true
		}
	}
	return false
}

// Get возвращает запись по точному id.
func (t *Tracker) Get(id string) (*model.OptimisticMessage, bool) {
	for i := range t.entries {
		if t.entries[i].ID == id {
			return &t.entries[i], true
		}
	}
	return nil, false
}

// Retire удаляет запись по точному id; если его нет — пробует вхождение
// подстроки против всех текущих id (усечённые корреляционные id), после чего
// молча сдаётся: запись уже примирена другим путём.
func (t *Tracker) Retire(id string) bool {
	for i := range t.entries {
		if t.entries[i].ID == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	for i := range t.entries {
		if idMatches(t.entries[i].ID, id) {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// RetireByContent — последний рубеж корреляции: подтверждённое сообщение с тем же
// trimmed-контентом, созданное в окне недавности, вытесняет оптимистичную запись
// даже без совпадения tempId.
func (t *Tracker) RetireByContent(content string, now time.Time) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	for i := range t.entries {
		if t.entries[i].TrimmedContent() != content {
			continue
		}
		if now.Sub(t.entries[i].CreatedAt) > t.pendingWindow {
			continue
		}
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
		return true
	}
	return false
}

// RemoveMatching удаляет записи с id, совпадающим с deletedID точно или по
// подстроке (обработка DELETE-событий). Возвращает id удалённых.
func (t *Tracker) RemoveMatching(deletedID string) []string {
	var removed []string
	kept := t.entries[:0]
	for _, e := range t.entries {
		if idMatches(e.ID, deletedID) {
			removed = append(removed, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	if len(removed) == 0 {
		return nil
	}
	t.entries = kept
	return removed
}

// Clear сбрасывает все записи, включая failed (полный ресинк).
func (t *Tracker) Clear() { t.entries = nil }

// Remove удаляет запись локально (агент убрал неотправленное сообщение).
func (t *Tracker) Remove(id string) bool {
	for i := range t.entries {
		if t.entries[i].ID == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Entries возвращает все записи в порядке добавления.
func (t *Tracker) Entries() []model.OptimisticMessage { return t.entries }

// Failed возвращает failed-подмножество.
func (t *Tracker) Failed() []model.OptimisticMessage {
	var failed []model.OptimisticMessage
	for _, e := range t.entries {
		if e.Status == model.OptimisticFailed {
			failed = append(failed, e)
		}
	}
	return failed
}

// Visible возвращает записи для рендера: исключаются записи, чей tempId уже
// виден в подтверждённом буфере, и записи с контентом, совпадающим со свежим
// подтверждённым сообщением (5с для pending, 10с для failed) — это убирает
// мерцание в окне передачи.
func (t *Tracker) Visible(persisted *Buffer) []model.OptimisticMessage {
	now := t.clock.Now()
	var visible []model.OptimisticMessage
	for _, e := range t.entries {
		if persisted != nil {
			if persisted.ContainsTempID(e.ID) || persisted.Contains(e.ID) {
				continue
			}
			window := t.pendingWindow
			if e.Status == model.OptimisticFailed {
				window = t.failedWindow
			}
			if persisted.HasRecentContent(e.Content, now, window) {
				continue
			}
		}
		visible = append(visible, e)
	}
	return visible
}

// PersistFailedSnapshot сериализует failed-подмножество в durable-слот чата.
// Вызывается после каждой мутации подмножества; ошибка не фатальна — ретраи
// просто не переживут перезагрузку.
func (t *Tracker) PersistFailedSnapshot(ctx context.Context) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveFailed(ctx, t.chatID, t.Failed()); err != nil {
		logger.Errorf("tracker persist failed chat=%s: %v", t.chatID, err)
	}
}

// RestoreFailedSnapshot читает durable-слот; вызывается один раз при смене
// активного чата.
func (t *Tracker) RestoreFailedSnapshot(ctx context.Context) {
	if t.store == nil {
		return
	}
	entries, err := t.store.LoadFailed(ctx, t.chatID)
	if err != nil {
		logger.Errorf("tracker restore failed chat=%s: %v", t.chatID, err)
		return
	}
	for _, e := range entries {
		e.Status = model.OptimisticFailed
		t.Add(e, nil)
	}
}
