// Package user реализует хранилище данных пользователя на время сессии.
//
// Данные загружаются один раз при входе и далее меняются только локально
// после действий, уже подтверждённых бэкендом.
package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/calcio-domains/internal/catalyst"
	"github.com/mmeshcher/calcio-domains/internal/model"
)

var (
	// ErrIdentityResolution возвращается, если не удалось определить строку пользователя в бэкенде.
	ErrIdentityResolution = errors.New("identity resolution failed")
	// ErrNotInitialized возвращается для операций, требующих загруженного пользователя.
	ErrNotInitialized = errors.New("user session not initialized")
	// ErrInitializationSuperseded возвращается, если сессия была очищена во время загрузки.
	ErrInitializationSuperseded = errors.New("user session cleared during initialization")
)

// Backend описывает функции бэкенда, используемые хранилищем.
type Backend interface {
	GetUserData(ctx context.Context, rowID string) (*catalyst.UserData, error)
	GetUserCoupons(ctx context.Context, rowID string) ([]model.Coupon, error)
	UpdateUser(ctx context.Context, upd catalyst.ProfileUpdate) (string, error)
}

// Resolver определяет идентификатор строки пользователя по данным провайдера.
type Resolver interface {
	ResolveRowID(ctx context.Context, a model.Assertion) (string, error)
}

// Preferences хранит режим администратора независимо от сессии.
type Preferences interface {
	AdminMode(ctx context.Context, subject string) (bool, error)
	SetAdminMode(ctx context.Context, subject string, enabled bool) error
	ClearAdminMode(ctx context.Context, subject string) error
}

const initializeKey = "initialize"

// Store хранит данные пользователя одной сессии.
type Store struct {
	backend  Backend
	resolver Resolver
	prefs    Preferences
	logger   *zap.Logger

	group singleflight.Group

	mu           sync.RWMutex
	gen          uint64
	subject      string
	state        model.User
	initializing int
}

// NewStore создаёт пустое хранилище пользователя.
func NewStore(backend Backend, resolver Resolver, prefs Preferences, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:  backend,
		resolver: resolver,
		prefs:    prefs,
		logger:   logger,
	}
}

// Initialize загружает данные пользователя, если они ещё не загружены.
// Параллельные вызовы ожидают одну и ту же загрузку и получают её результат.
func (s *Store) Initialize(ctx context.Context, a model.Assertion) error {
	if s.IsInitialized() {
		return nil
	}

	ch := s.group.DoChan(initializeKey, func() (interface{}, error) {
		return nil, s.load(context.WithoutCancel(ctx), a)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (s *Store) load(ctx context.Context, a model.Assertion) error {
	s.mu.Lock()
	if s.state.Initialized {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	s.initializing++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.initializing--
		}
		s.mu.Unlock()
	}()

	s.logger.Info("initializing user session", zap.String("subject", a.Subject))

	rowID, err := s.resolver.ResolveRowID(ctx, a)
	if err != nil {
		s.logger.Error("resolve backend row id", zap.String("subject", a.Subject), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrIdentityResolution, err)
	}

	var (
		data    *catalyst.UserData
		coupons []model.Coupon
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data, err = s.backend.GetUserData(gctx, rowID)
		if err != nil {
			return fmt.Errorf("get user data: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		coupons, err = s.backend.GetUserCoupons(gctx, rowID)
		if err != nil {
			return fmt.Errorf("get user coupons: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("load user session", zap.String("row_id", rowID), zap.Error(err))
		return err
	}

	adminMode := false
	if s.prefs != nil && bool(data.IsAdmin) {
		if adminMode, err = s.prefs.AdminMode(ctx, a.Subject); err != nil {
			s.logger.Warn("read admin mode preference", zap.Error(err))
			adminMode = false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return ErrInitializationSuperseded
	}

	s.subject = a.Subject
	s.state = model.User{
		RowID:            rowID,
		Email:            data.Email,
		Name:             data.Name,
		Nickname:         data.Nickname,
		StripeCustomerID: data.StripeCustomerID,
		Credits:          data.Credits,
		Avatar:           string(data.AvatarFileID),
		FirstBonusUsed:   bool(data.FirstRechargeBonusClaimed),
		IsAdmin:          bool(data.IsAdmin),
		AdminMode:        adminMode,
		Coupons:          coupons,
		Initialized:      true,
	}

	s.logger.Info("user session initialized",
		zap.String("row_id", rowID),
		zap.String("credits", data.Credits.StringFixed(2)),
	)
	return nil
}

// ForceReload сбрасывает признак загрузки и загружает данные заново.
// Идущая в этот момент загрузка не переиспользуется.
func (s *Store) ForceReload(ctx context.Context, a model.Assertion) error {
	s.mu.Lock()
	s.state.Initialized = false
	s.mu.Unlock()
	s.group.Forget(initializeKey)

	return s.Initialize(ctx, a)
}

// ClearAll сбрасывает все данные пользователя, включая сохранённый режим администратора.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	subject := s.subject
	s.gen++
	s.subject = ""
	s.state = model.User{}
	s.initializing = 0
	s.mu.Unlock()
	// загрузка прежнего пользователя завершится с ErrInitializationSuperseded
	s.group.Forget(initializeKey)

	s.logger.Info("user session cleared")

	if s.prefs == nil || subject == "" {
		return nil
	}
	if err := s.prefs.ClearAdminMode(ctx, subject); err != nil {
		return fmt.Errorf("clear admin mode: %w", err)
	}
	return nil
}

// UpdateCredits заменяет локальный баланс значением, уже сохранённым бэкендом.
func (s *Store) UpdateCredits(amount decimal.Decimal) {
	s.mu.Lock()
	old := s.state.Credits
	s.state.Credits = amount
	s.mu.Unlock()

	s.logger.Info("credits updated",
		zap.String("from", old.StringFixed(2)),
		zap.String("to", amount.StringFixed(2)),
	)
}

// UpdateAvatar заменяет локальный идентификатор аватара.
func (s *Store) UpdateAvatar(fileID string) {
	s.mu.Lock()
	s.state.Avatar = fileID
	s.mu.Unlock()
}

// UpdateNickname заменяет локальный никнейм.
func (s *Store) UpdateNickname(nickname string) {
	s.mu.Lock()
	s.state.Nickname = nickname
	s.mu.Unlock()
}

// AddCoupon добавляет купон в начало списка. Получение купона означает,
// что бонус за первое пополнение уже использован.
func (s *Store) AddCoupon(c model.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Coupons = append([]model.Coupon{c}, s.state.Coupons...)
	s.state.FirstBonusUsed = true
}

// RefreshCoupons перечитывает купоны пользователя из бэкенда.
func (s *Store) RefreshCoupons(ctx context.Context) error {
	rowID := s.RowID()
	if rowID == "" {
		return ErrNotInitialized
	}

	coupons, err := s.backend.GetUserCoupons(ctx, rowID)
	if err != nil {
		return fmt.Errorf("refresh coupons: %w", err)
	}

	s.mu.Lock()
	if s.state.RowID == rowID {
		s.state.Coupons = coupons
	}
	s.mu.Unlock()
	return nil
}

// SaveProfile сохраняет никнейм и аватар в бэкенде и после успеха обновляет локальные данные.
func (s *Store) SaveProfile(ctx context.Context, nickname string, avatar io.Reader, avatarName string) error {
	rowID := s.RowID()
	if rowID == "" {
		return ErrNotInitialized
	}

	fileID, err := s.backend.UpdateUser(ctx, catalyst.ProfileUpdate{
		RowID:      rowID,
		Nickname:   nickname,
		Avatar:     avatar,
		AvatarName: avatarName,
	})
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	if nickname != "" {
		s.UpdateNickname(nickname)
	}
	if fileID != "" {
		s.UpdateAvatar(fileID)
	}
	return nil
}

// EnableAdminMode включает режим администратора. Для обычного пользователя ничего не делает.
func (s *Store) EnableAdminMode(ctx context.Context) (bool, error) {
	return s.setAdminMode(ctx, func(bool) bool { return true })
}

// DisableAdminMode выключает режим администратора.
func (s *Store) DisableAdminMode(ctx context.Context) (bool, error) {
	return s.setAdminMode(ctx, func(bool) bool { return false })
}

// ToggleAdminMode переключает режим администратора.
func (s *Store) ToggleAdminMode(ctx context.Context) (bool, error) {
	return s.setAdminMode(ctx, func(cur bool) bool { return !cur })
}

func (s *Store) setAdminMode(ctx context.Context, next func(bool) bool) (bool, error) {
	s.mu.Lock()
	if !s.state.IsAdmin {
		s.mu.Unlock()
		s.logger.Warn("admin mode change ignored for non-admin user")
		return false, nil
	}
	enabled := next(s.state.AdminMode)
	s.state.AdminMode = enabled
	subject := s.subject
	s.mu.Unlock()

	if s.prefs != nil && subject != "" {
		if err := s.prefs.SetAdminMode(ctx, subject, enabled); err != nil {
			return enabled, fmt.Errorf("persist admin mode: %w", err)
		}
	}
	return enabled, nil
}

// Snapshot возвращает копию всех данных пользователя.
func (s *Store) Snapshot() model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.state
	u.Initializing = s.initializing > 0
	u.Coupons = make([]model.Coupon, len(s.state.Coupons))
	copy(u.Coupons, s.state.Coupons)
	return u
}

// RowID возвращает идентификатор строки пользователя или пустую строку до загрузки.
func (s *Store) RowID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RowID
}

// IsInitialized сообщает, загружены ли данные пользователя.
func (s *Store) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Initialized
}

// IsInitializing сообщает, идёт ли загрузка.
func (s *Store) IsInitializing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initializing > 0
}

// IsAdmin сообщает, является ли пользователь администратором.
func (s *Store) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsAdmin
}

// Credits возвращает текущий баланс.
func (s *Store) Credits() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Credits
}
