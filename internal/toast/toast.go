// Package toast реализует очередь временных уведомлений пользователя.
package toast

import (
	"sync"
	"time"

	"github.com/mmeshcher/calcio-domains/internal/model"
)

// DefaultDuration - время показа уведомления по умолчанию.
const DefaultDuration = 4 * time.Second

const subscriberBuffer = 16

// Notifier хранит уведомления одной сессии. Идентификаторы монотонно
// возрастают и не повторяются в пределах Notifier.
type Notifier struct {
	mu     sync.Mutex
	nextID int64
	toasts []model.Toast
	timers map[int64]*time.Timer
	subs   map[int]chan model.Toast
	subSeq int
	now    func() time.Time
}

// NewNotifier создаёт пустую очередь уведомлений.
func NewNotifier() *Notifier {
	return &Notifier{
		timers: make(map[int64]*time.Timer),
		subs:   make(map[int]chan model.Toast),
		now:    time.Now,
	}
}

// Show добавляет уведомление и возвращает его идентификатор. При duration > 0
// уведомление удаляется автоматически по истечении этого времени.
func (n *Notifier) Show(message string, severity model.Severity, duration time.Duration) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	t := model.Toast{
		ID:        id,
		Message:   message,
		Severity:  severity,
		Duration:  duration,
		CreatedAt: n.now(),
	}
	n.toasts = append(n.toasts, t)

	if duration > 0 {
		n.timers[id] = time.AfterFunc(duration, func() { n.Remove(id) })
	}

	for _, ch := range n.subs {
		select {
		case ch <- t:
		default:
			// медленный подписчик пропускает уведомление
		}
	}

	return id
}

// Remove удаляет уведомление. Повторное удаление и неизвестный id ничего не меняют.
func (n *Notifier) Remove(id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if timer, ok := n.timers[id]; ok {
		timer.Stop()
		delete(n.timers, id)
	}

	for i, t := range n.toasts {
		if t.ID == id {
			n.toasts = append(n.toasts[:i], n.toasts[i+1:]...)
			return
		}
	}
}

// List возвращает копию текущих уведомлений в порядке появления.
func (n *Notifier) List() []model.Toast {
	n.mu.Lock()
	defer n.mu.Unlock()

	res := make([]model.Toast, len(n.toasts))
	copy(res, n.toasts)
	return res
}

// Clear удаляет все уведомления и останавливает таймеры.
func (n *Notifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, timer := range n.timers {
		timer.Stop()
		delete(n.timers, id)
	}
	n.toasts = nil
}

// Subscribe возвращает канал новых уведомлений и функцию отписки.
func (n *Notifier) Subscribe() (<-chan model.Toast, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.subSeq
	n.subSeq++
	ch := make(chan model.Toast, subscriberBuffer)
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Success показывает уведомление об успешном действии.
func (n *Notifier) Success(message string, duration time.Duration) int64 {
	return n.Show(message, model.SeveritySuccess, duration)
}

// Error показывает уведомление об ошибке.
func (n *Notifier) Error(message string, duration time.Duration) int64 {
	return n.Show(message, model.SeverityError, duration)
}

// Warning показывает предупреждение.
func (n *Notifier) Warning(message string, duration time.Duration) int64 {
	return n.Show(message, model.SeverityWarning, duration)
}

// Info показывает информационное уведомление.
func (n *Notifier) Info(message string, duration time.Duration) int64 {
	return n.Show(message, model.SeverityInfo, duration)
}
