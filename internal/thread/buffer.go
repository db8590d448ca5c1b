package thread

import (
	"sort"
	"strings"
	"time"

	"github.com/interflow/internal/model"
)

// minIDMatchLen — минимум значимых символов для substring-сопоставления id.
// Короче — слишком высок риск ложного совпадения на усечённых id.
const minIDMatchLen = 6

// normalizeID приводит id к виду для сопоставления: без пробелов, в нижнем регистре.
func normalizeID(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// idMatches — точное совпадение или вхождение подстроки в любую сторону
// (id события удаления может быть усечён, локальный — тоже).
func idMatches(a, b string) bool {
	na, nb := normalizeID(a), normalizeID(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if len(na) < minIDMatchLen || len(nb) < minIDMatchLen {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// Buffer — буфер подтверждённых сообщений одного треда, всегда в хронологическом
// порядке (created_at по возрастанию, при равенстве — порядок поступления).
// Не потокобезопасен: им владеет сессия под своим мьютексом.
type Buffer struct {
	msgs  []model.Message
	index map[string]int
}

func NewBuffer() *Buffer {
	return &Buffer{index: make(map[string]int)}
}

func (b *Buffer) Len() int { return len(b.msgs) }

// All возвращает сообщения по возрастанию created_at. Срез принадлежит буферу —
// вызывающий не мутирует.
func (b *Buffer) All() []model.Message { return b.msgs }

func (b *Buffer) Contains(id string) bool {
	_, ok := b.index[id]
	return ok
}

func (b *Buffer) ByID(id string) (*model.Message, bool) {
	i, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return &b.msgs[i], true
}

// Append добавляет сообщение, сохраняя порядок. Дубликат id игнорируется
// (идемпотентность INSERT). Возвращает true, если сообщение добавлено.
func (b *Buffer) Append(m model.Message) bool {
	if _, ok := b.index[m.ID]; ok {
		return false
	}
	// Обычный случай: событие новее хвоста, просто добавляем.
	if n := len(b.msgs); n == 0 || !m.CreatedAt.Before(b.msgs[n-1].CreatedAt) {
		b.index[m.ID] = len(b.msgs)
		b.msgs = append(b.msgs, m)
		return true
	}
	// Событие пришло с прошлым created_at (догнавший UPDATE-призрак, рассинхрон
	// часов) — вставляем по месту, стабильно относительно равных меток.
	pos := sort.Search(len(b.msgs), func(i int) bool {
		return b.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	b.msgs = append(b.msgs, model.Message{})
	copy(b.msgs[pos+1:], b.msgs[pos:])
	b.msgs[pos] = m
	b.reindex()
	return true
}

// Replace заменяет сообщение с тем же id на месте, без переупорядочивания.
func (b *Buffer) Replace(m model.Message) bool {
	i, ok := b.index[m.ID]
	if !ok {
		return false
	}
	b.msgs[i] = m
	return true
}

// MergeOlder вливает страницу истории (уже в хронологическом порядке) перед
// текущим содержимым, пропуская уже известные id. Возвращает число добавленных.
func (b *Buffer) MergeOlder(page []model.Message) int {
	fresh := make([]model.Message, 0, len(page))
	for _, m := range page {
		if _, ok := b.index[m.ID]; ok {
			continue
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return 0
	}
	b.msgs = append(fresh, b.msgs...)
	b.reindex()
	return len(fresh)
}

// Remove удаляет сообщение по точному id.
func (b *Buffer) Remove(id string) bool {
	i, ok := b.index[id]
	if !ok {
		return false
	}
	b.msgs = append(b.msgs[:i], b.msgs[i+1:]...)
	b.reindex()
	return true
}

// RemoveMatching удаляет все сообщения, чей id совпадает с deletedID точно или
// по вхождению подстроки (в обе стороны, с нормализацией). Возвращает id удалённых.
func (b *Buffer) RemoveMatching(deletedID string) []string {
	var removed []string
	kept := b.msgs[:0]
	for _, m := range b.msgs {
		if idMatches(m.ID, deletedID) {
			removed = append(removed, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	if len(removed) == 0 {
		return nil
	}
	b.msgs = kept
	b.reindex()
	return removed
}

// HasRecentContent сообщает, есть ли подтверждённое сообщение с тем же
// trimmed-контентом, созданное не раньше now-window (анти-дубликат при гонке
// оптимистичной записи с быстрым round-trip).
func (b *Buffer) HasRecentContent(content string, now time.Time, window time.Duration) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	cutoff := now.Add(-window)
	// Свежие сообщения в хвосте — идём с конца и выходим на первом старом.
	for i := len(b.msgs) - 1; i >= 0; i-- {
		if b.msgs[i].CreatedAt.Before(cutoff) {
			break
		}
		if b.msgs[i].TrimmedContent() == content {
			return true
		}
	}
	return false
}

// ContainsTempID сообщает, есть ли подтверждённое сообщение с данным tempId
// в metadata (оптимистичная запись с таким tempId исключается из рендера).
func (b *Buffer) ContainsTempID(tempID string) bool {
	if tempID == "" {
		return false
	}
	for i := range b.msgs {
		if b.msgs[i].TempID() == tempID {
			return true
		}
	}
	return false
}

func (b *Buffer) Clear() {
	b.msgs = nil
	b.index = make(map[string]int)
}

func (b *Buffer) reindex() {
	b.index = make(map[string]int, len(b.msgs))
	for i := range b.msgs {
		b.index[b.msgs[i].ID] = i
	}
}
