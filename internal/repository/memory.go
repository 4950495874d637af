package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/calcio-domains/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется, когда
// база данных не настроена, и в тестах.
type MemoryRepository struct {
	mu        sync.RWMutex
	adminMode map[string]bool
	orders    map[string]model.Order
	now       func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		adminMode: make(map[string]bool),
		orders:    make(map[string]model.Order),
		now:       time.Now,
	}
}

// Close ничего не делает и нужен для совместимости с PostgresRepository.
func (m *MemoryRepository) Close() error { return nil }

// AdminMode возвращает сохранённый режим администратора.
func (m *MemoryRepository) AdminMode(_ context.Context, subject string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adminMode[subject], nil
}

// SetAdminMode сохраняет режим администратора.
func (m *MemoryRepository) SetAdminMode(_ context.Context, subject string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminMode[subject] = enabled
	return nil
}

// ClearAdminMode удаляет сохранённый режим администратора.
func (m *MemoryRepository) ClearAdminMode(_ context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adminMode, subject)
	return nil
}

// RecordOrder сохраняет заказ в журнале.
func (m *MemoryRepository) RecordOrder(_ context.Context, o model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now()
	}
	o.Domains = append([]string(nil), o.Domains...)
	m.orders[o.ID] = o
	return nil
}

// OrdersByUser возвращает заказы пользователя, новые первыми.
func (m *MemoryRepository) OrdersByUser(_ context.Context, userRowID string) ([]model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []model.Order
	for _, o := range m.orders {
		if o.UserRowID == userRowID {
			res = append(res, o)
		}
	}
	sortNewestFirst(res)
	return res, nil
}

// RecentOrders возвращает последние заказы всех пользователей.
func (m *MemoryRepository) RecentOrders(_ context.Context, limit int) ([]model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]model.Order, 0, len(m.orders))
	for _, o := range m.orders {
		res = append(res, o)
	}
	sortNewestFirst(res)
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func sortNewestFirst(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
