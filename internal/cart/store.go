// Package cart реализует корзину пользователя одной сессии.
//
// Бэкенд является источником истины. Локальный список после добавления,
// удаления или очистки считается предварительным до следующей перезагрузки,
// которая полностью заменяет его ответом get-cart.
package cart

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/calcio-domains/internal/catalyst"
	"github.com/mmeshcher/calcio-domains/internal/metrics"
	"github.com/mmeshcher/calcio-domains/internal/model"
	"github.com/mmeshcher/calcio-domains/internal/toast"
)

// NotAuthenticated - текст ошибки результата для неавторизованного пользователя.
const NotAuthenticated = "Not authenticated"

// Сообщения пользователю.
const (
	msgLoginRequired     = "Devi effettuare il login per aggiungere domini al carrello."
	msgLoginToOpenCart   = "Devi effettuare il login per aprire il carrello."
	msgAdded             = "%s aggiunto al carrello"
	msgDuplicate         = "%s è già nel tuo carrello"
	msgReserved          = "%s è stato appena riservato da un altro utente"
	msgRemoved           = "%s rimosso dal carrello"
	msgCleared           = "Carrello svuotato"
	msgGenericRetry      = "Si è verificato un errore. Riprova tra qualche istante."
	msgInsufficientFunds = "Crediti insufficienti per completare l'acquisto"
	msgEmptyCart         = "Il carrello è vuoto"
	msgOrderCompleted    = "Ordine completato con successo!"
)

var (
	// ErrNotInitialized возвращается, если идентификатор пользователя ещё не известен.
	ErrNotInitialized = errors.New("user row id not resolved")
	// ErrEmptyCart возвращается при попытке оплатить пустую корзину.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCouponUnavailable возвращается при выборе купона, которого нет среди доступных.
	ErrCouponUnavailable = errors.New("coupon not available")
)

// Backend описывает функции бэкенда, используемые корзиной.
type Backend interface {
	AddToCart(ctx context.Context, req catalyst.AddToCartRequest) (string, error)
	GetCart(ctx context.Context, userID string) ([]model.CartItem, error)
	DeleteFromCart(ctx context.Context, userID string, domainNames []string) (*catalyst.DeleteResult, error)
	GetUserCoupons(ctx context.Context, rowID string) ([]model.Coupon, error)
	CreateCheckout(ctx context.Context, req catalyst.CheckoutRequest) (*catalyst.CheckoutResult, error)
	PayWithCredits(ctx context.Context, req catalyst.CreditsRequest) (*catalyst.CreditsResult, error)
}

// UserStore - часть хранилища пользователя, нужная корзине.
type UserStore interface {
	RowID() string
	Credits() decimal.Decimal
	UpdateCredits(amount decimal.Decimal)
}

// Notifier показывает уведомления пользователю.
type Notifier interface {
	Success(message string, duration time.Duration) int64
	Error(message string, duration time.Duration) int64
	Warning(message string, duration time.Duration) int64
}

// OrderLog сохраняет завершённые заказы.
type OrderLog interface {
	RecordOrder(ctx context.Context, o model.Order) error
}

// Result описывает итог пользовательского действия с корзиной.
type Result struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

func failed(err string) Result {
	return Result{Success: false, Error: err}
}

// State - снимок корзины для отображения.
type State struct {
	Items            []model.CartItem `json:"items"`
	Coupons          []model.Coupon   `json:"coupons"`
	SelectedCouponID string           `json:"selected_coupon_id,omitempty"`
	ConvertRest      bool             `json:"convert_rest"`
	ModalOpen        bool             `json:"modal_open"`
	Totals           Totals           `json:"totals"`
}

// Store хранит корзину одной сессии.
type Store struct {
	backend       Backend
	user          UserStore
	notifier      Notifier
	orders        OrderLog
	authenticated func() bool
	logger        *zap.Logger

	mu          sync.Mutex
	items       []model.CartItem
	coupons     []model.Coupon
	selectedID  string
	convertRest bool
	modalOpen   bool
}

// NewStore создаёт пустую корзину. authenticated сообщает, вошёл ли пользователь.
func NewStore(backend Backend, user UserStore, notifier Notifier, orders OrderLog, authenticated func() bool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:       backend,
		user:          user,
		notifier:      notifier,
		orders:        orders,
		authenticated: authenticated,
		logger:        logger,
	}
}

func (s *Store) isAuthenticated() bool {
	return s.authenticated != nil && s.authenticated()
}

// AddToCart добавляет домен в корзину. Неавторизованный пользователь
// получает предупреждение, запрос в бэкенд не выполняется.
func (s *Store) AddToCart(ctx context.Context, d model.Domain) Result {
	if !s.isAuthenticated() {
		s.notifier.Warning(msgLoginRequired, toast.DefaultDuration)
		return failed(NotAuthenticated)
	}
	rowID := s.user.RowID()
	if rowID == "" {
		return failed(ErrNotInitialized.Error())
	}

	id, err := s.backend.AddToCart(ctx, catalyst.AddToCartRequest{
		UserID:     rowID,
		DomainName: d.Name,
		Price:      d.Price.InexactFloat64(),
		Category:   d.Category,
	})
	if err != nil {
		s.logger.Warn("add to cart failed", zap.String("domain", d.Name), zap.Error(err))
		switch catalyst.KindOf(err) {
		case catalyst.KindDuplicateItem:
			s.notifier.Warning(fmt.Sprintf(msgDuplicate, d.Name), toast.DefaultDuration)
		case catalyst.KindReservationConflict:
			s.notifier.Error(fmt.Sprintf(msgReserved, d.Name), toast.DefaultDuration)
		default:
			s.notifier.Error(msgGenericRetry, toast.DefaultDuration)
		}
		return failed(err.Error())
	}

	s.mu.Lock()
	if !containsDomain(s.items, d.Name) {
		s.items = append(s.items, model.CartItem{
			ID:         id,
			DomainName: d.Name,
			Price:      d.Price,
			Category:   d.Category,
		})
	}
	s.mu.Unlock()

	s.logger.Info("domain added to cart", zap.String("domain", d.Name), zap.String("item_id", id))
	s.notifier.Success(fmt.Sprintf(msgAdded, d.Name), toast.DefaultDuration)
	return Result{Success: true}
}

// RemoveFromCart удаляет домен в бэкенде и затем перезагружает корзину
// независимо от результата удаления.
func (s *Store) RemoveFromCart(ctx context.Context, domainName string) Result {
	rowID := s.user.RowID()
	if !s.isAuthenticated() || rowID == "" {
		return failed(NotAuthenticated)
	}

	_, err := s.backend.DeleteFromCart(ctx, rowID, []string{domainName})
	s.reloadItems(ctx, rowID)

	if err != nil {
		s.logger.Warn("remove from cart failed", zap.String("domain", domainName), zap.Error(err))
		s.notifier.Error(msgGenericRetry, toast.DefaultDuration)
		return failed(err.Error())
	}

	s.notifier.Success(fmt.Sprintf(msgRemoved, domainName), toast.DefaultDuration)
	return Result{Success: true}
}

// LoadCart перечитывает корзину и купоны. Ошибки только логируются.
func (s *Store) LoadCart(ctx context.Context) {
	rowID := s.user.RowID()
	if !s.isAuthenticated() || rowID == "" {
		return
	}

	s.reloadItems(ctx, rowID)
	s.LoadCoupons(ctx)
}

func (s *Store) reloadItems(ctx context.Context, rowID string) {
	items, err := s.backend.GetCart(ctx, rowID)
	if err != nil {
		s.logger.Warn("load cart failed", zap.String("row_id", rowID), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

// LoadCoupons перечитывает купоны пользователя и оставляет только доступные.
func (s *Store) LoadCoupons(ctx context.Context) {
	rowID := s.user.RowID()
	if rowID == "" {
		return
	}

	all, err := s.backend.GetUserCoupons(ctx, rowID)
	if err != nil {
		s.logger.Warn("load coupons failed", zap.String("row_id", rowID), zap.Error(err))
		return
	}

	available := make([]model.Coupon, 0, len(all))
	for _, c := range all {
		if c.Available() {
			available = append(available, c)
		}
	}

	s.mu.Lock()
	s.coupons = available
	if _, ok := findCoupon(available, s.selectedID); !ok {
		s.selectedID = ""
	}
	s.mu.Unlock()
}

// ClearCart удаляет все домены одним запросом и перезагружает корзину.
// Пустая корзина только перезагружается.
func (s *Store) ClearCart(ctx context.Context) Result {
	rowID := s.user.RowID()
	if !s.isAuthenticated() || rowID == "" {
		return failed(NotAuthenticated)
	}

	names := s.domainNames()
	if len(names) == 0 {
		s.reloadItems(ctx, rowID)
		return Result{Success: true}
	}

	_, err := s.backend.DeleteFromCart(ctx, rowID, names)
	s.reloadItems(ctx, rowID)

	if err != nil {
		s.logger.Warn("clear cart failed", zap.Int("items", len(names)), zap.Error(err))
		s.notifier.Error(msgGenericRetry, toast.DefaultDuration)
		return failed(err.Error())
	}

	s.notifier.Success(msgCleared, toast.DefaultDuration)
	return Result{Success: true}
}

// PayWithCredits оплачивает корзину кредитами. При ошибке локальное
// состояние корзины, купонов и баланса не меняется.
func (s *Store) PayWithCredits(ctx context.Context) Result {
	rowID := s.user.RowID()
	if rowID == "" {
		return failed(ErrNotInitialized.Error())
	}

	items, couponID, convertRest, totals := s.checkoutInput()
	if len(items) == 0 {
		s.notifier.Warning(msgEmptyCart, toast.DefaultDuration)
		return failed(ErrEmptyCart.Error())
	}

	res, err := s.backend.PayWithCredits(ctx, catalyst.CreditsRequest{
		UserID:      rowID,
		Items:       catalyst.OrderItems(items),
		Total:       totals.Total.InexactFloat64(),
		CouponID:    couponID,
		ConvertRest: convertRest,
	})
	metrics.ObserveCheckout(string(model.OrderTypeCredits), err == nil)
	if err != nil {
		s.logger.Error("pay with credits failed", zap.String("row_id", rowID), zap.Error(err))
		if catalyst.KindOf(err) == catalyst.KindInsufficientCredits {
			s.notifier.Error(msgInsufficientFunds, toast.DefaultDuration)
		} else {
			s.notifier.Error(msgGenericRetry, toast.DefaultDuration)
		}
		return failed(err.Error())
	}

	s.user.UpdateCredits(res.NewCreditBalance)
	return s.completeOrder(ctx, model.Order{
		ID:          string(res.OrderID),
		UserRowID:   rowID,
		Type:        model.OrderTypeCredits,
		Total:       totals.FinalTotal,
		CreditBonus: res.CreditBonus,
		Domains:     domainNamesOf(items),
	})
}

// PayWithStripe создаёт сессию оплаты. Если купон полностью покрывает
// заказ, бэкенд закрывает его сразу и возвращает free=true.
func (s *Store) PayWithStripe(ctx context.Context) Result {
	rowID := s.user.RowID()
	if rowID == "" {
		return failed(ErrNotInitialized.Error())
	}

	items, couponID, convertRest, _ := s.checkoutInput()
	if len(items) == 0 {
		s.notifier.Warning(msgEmptyCart, toast.DefaultDuration)
		return failed(ErrEmptyCart.Error())
	}

	res, err := s.backend.CreateCheckout(ctx, catalyst.CheckoutRequest{
		UserID:      rowID,
		Items:       catalyst.OrderItems(items),
		CouponID:    couponID,
		ConvertRest: convertRest,
	})
	metrics.ObserveCheckout(string(model.OrderTypeStripe), err == nil)
	if err != nil {
		s.logger.Error("create checkout failed", zap.String("row_id", rowID), zap.Error(err))
		s.notifier.Error(msgGenericRetry, toast.DefaultDuration)
		return failed(err.Error())
	}

	if res.Free {
		// бонус уже зачислен бэкендом, новый баланс в ответе не приходит
		if res.CreditBonus.IsPositive() {
			s.user.UpdateCredits(s.user.Credits().Add(res.CreditBonus))
		}
		return s.completeOrder(ctx, model.Order{
			ID:          string(res.OrderID),
			UserRowID:   rowID,
			Type:        model.OrderTypeFree,
			CreditBonus: res.CreditBonus,
			Domains:     domainNamesOf(items),
		})
	}

	s.mu.Lock()
	s.modalOpen = false
	s.mu.Unlock()

	s.logger.Info("stripe checkout created", zap.String("row_id", rowID), zap.String("session_id", res.SessionID))
	return Result{Success: true, Redirect: res.CheckoutURL}
}

func (s *Store) completeOrder(ctx context.Context, o model.Order) Result {
	s.mu.Lock()
	s.items = nil
	s.selectedID = ""
	s.convertRest = false
	s.modalOpen = false
	s.mu.Unlock()

	s.LoadCoupons(ctx)

	if s.orders != nil && o.ID != "" {
		if err := s.orders.RecordOrder(ctx, o); err != nil {
			s.logger.Warn("record order failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	s.logger.Info("order completed",
		zap.String("order_id", o.ID),
		zap.String("type", string(o.Type)),
		zap.String("credit_bonus", o.CreditBonus.StringFixed(2)),
	)
	s.notifier.Success(msgOrderCompleted, toast.DefaultDuration)
	return Result{Success: true, Redirect: SuccessRedirect(o.ID, o.Type, o.CreditBonus)}
}

// SuccessRedirect строит адрес страницы успешного заказа.
func SuccessRedirect(orderID string, t model.OrderType, creditBonus decimal.Decimal) string {
	u := "/success?order_id=" + url.QueryEscape(orderID) + "&type=" + url.QueryEscape(string(t))
	if creditBonus.IsPositive() {
		u += "&credit_bonus=" + creditBonus.StringFixed(2)
	}
	return u
}

// ToggleCartModal открывает или закрывает корзину. Открытие требует входа,
// закрытие доступно всегда. Возвращает новое состояние.
func (s *Store) ToggleCartModal() bool {
	s.mu.Lock()
	open := s.modalOpen
	s.mu.Unlock()

	if !open && !s.isAuthenticated() {
		s.notifier.Warning(msgLoginToOpenCart, toast.DefaultDuration)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.modalOpen = !s.modalOpen
	return s.modalOpen
}

// SelectCoupon выбирает купон для оплаты. Пустой id снимает выбор.
func (s *Store) SelectCoupon(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		s.selectedID = ""
		return nil
	}
	if _, ok := findCoupon(s.coupons, id); !ok {
		return fmt.Errorf("%w: %s", ErrCouponUnavailable, id)
	}
	s.selectedID = id
	return nil
}

// SetConvertRest задаёт, переводить ли остаток купона в кредиты.
func (s *Store) SetConvertRest(convert bool) {
	s.mu.Lock()
	s.convertRest = convert
	s.mu.Unlock()
}

// Totals возвращает производные значения корзины.
func (s *Store) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalsLocked()
}

func (s *Store) totalsLocked() Totals {
	amount := decimal.Zero
	if c, ok := findCoupon(s.coupons, s.selectedID); ok {
		amount = c.Amount
	}
	return ComputeTotals(s.items, amount, s.convertRest)
}

// Snapshot возвращает копию состояния корзины.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Items:            append(make([]model.CartItem, 0, len(s.items)), s.items...),
		Coupons:          append(make([]model.Coupon, 0, len(s.coupons)), s.coupons...),
		SelectedCouponID: s.selectedID,
		ConvertRest:      s.convertRest,
		ModalOpen:        s.modalOpen,
		Totals:           s.totalsLocked(),
	}
}

// Reset очищает локальное состояние без обращения к бэкенду.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	s.coupons = nil
	s.selectedID = ""
	s.convertRest = false
	s.modalOpen = false
}

func (s *Store) checkoutInput() ([]model.CartItem, string, bool, Totals) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := append([]model.CartItem(nil), s.items...)
	return items, s.selectedID, s.convertRest, s.totalsLocked()
}

func (s *Store) domainNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domainNamesOf(s.items)
}

func domainNamesOf(items []model.CartItem) []string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.DomainName)
	}
	return names
}

func containsDomain(items []model.CartItem, name string) bool {
	for _, it := range items {
		if it.DomainName == name {
			return true
		}
	}
	return false
}

func findCoupon(coupons []model.Coupon, id string) (model.Coupon, bool) {
	if id == "" {
		return model.Coupon{}, false
	}
	for _, c := range coupons {
		if c.ID == id {
			return c, true
		}
	}
	return model.Coupon{}, false
}
