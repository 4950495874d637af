package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/calcio-domains/internal/catalyst"
	"github.com/mmeshcher/calcio-domains/internal/model"
	"github.com/mmeshcher/calcio-domains/internal/repository"
	"github.com/mmeshcher/calcio-domains/internal/toast"
)

// stubBackend хранит корзину как настоящий бэкенд: по одному домену на имя.
type stubBackend struct {
	mu sync.Mutex

	calls   map[string]int
	items   []model.CartItem
	coupons []model.Coupon
	nextID  int

	addErr      error
	deleteErr   error
	creditsErr  error
	checkoutErr error

	creditsReq  catalyst.CreditsRequest
	checkoutReq catalyst.CheckoutRequest
	checkoutRes catalyst.CheckoutResult
	creditsRes  catalyst.CreditsResult
}

func newStubBackend() *stubBackend {
	return &stubBackend{calls: make(map[string]int)}
}

func (b *stubBackend) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *stubBackend) AddToCart(ctx context.Context, req catalyst.AddToCartRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[catalyst.EndpointAddToCart]++
	if b.addErr != nil {
		return "", b.addErr
	}
	b.nextID++
	id := "item-" + string(rune('0'+b.nextID))
	b.items = append(b.items, model.CartItem{
		ID:         id,
		DomainName: req.DomainName,
		Price:      decimal.NewFromFloat(req.Price),
		Category:   req.Category,
	})
	return id, nil
}

func (b *stubBackend) GetCart(ctx context.Context, userID string) ([]model.CartItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[catalyst.EndpointGetCart]++
	return append([]model.CartItem(nil), b.items...), nil
}

func (b *stubBackend) DeleteFromCart(ctx context.Context, userID string, names []string) (*catalyst.DeleteResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[catalyst.EndpointDeleteFromCart]++
	if b.deleteErr != nil {
		return nil, b.deleteErr
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var kept []model.CartItem
	var deleted []string
	for _, it := range b.items {
		if drop[it.DomainName] {
			deleted = append(deleted, it.DomainName)
			continue
		}
		kept = append(kept, it)
	}
	b.items = kept
	return &catalyst.DeleteResult{DeletedCount: len(deleted), DeletedDomains: deleted}, nil
}

func (b *stubBackend) GetUserCoupons(ctx context.Context, rowID string) ([]model.Coupon, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[catalyst.EndpointGetUserCoupons]++
	return append([]model.Coupon(nil), b.coupons...), nil
}

func (b *stubBackend) CreateCheckout(ctx context.Context, req catalyst.CheckoutRequest) (*catalyst.CheckoutResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[catalyst.EndpointCreateCheckout]++
	b.checkoutReq = req
	if b.checkoutErr != nil {
		return nil, b.checkoutErr
	}
	res := b.checkoutRes
	return &res, nil
}

func (b *stubBackend) PayWithCredits(ctx context.Context, req catalyst.CreditsRequest) (*catalyst.CreditsResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[catalyst.EndpointPayWithCredits]++
	b.creditsReq = req
	if b.creditsErr != nil {
		return nil, b.creditsErr
	}
	res := b.creditsRes
	return &res, nil
}

type stubUser struct {
	mu      sync.Mutex
	rowID   string
	credits decimal.Decimal
}

func (u *stubUser) RowID() string { return u.rowID }

func (u *stubUser) Credits() decimal.Decimal {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.credits
}

func (u *stubUser) UpdateCredits(amount decimal.Decimal) {
	u.mu.Lock()
	u.credits = amount
	u.mu.Unlock()
}

type fixture struct {
	backend  *stubBackend
	user     *stubUser
	notifier *toast.Notifier
	orders   *repository.MemoryRepository
	authed   bool
	store    *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend:  newStubBackend(),
		user:     &stubUser{rowID: "row-1", credits: decimal.NewFromInt(100)},
		notifier: toast.NewNotifier(),
		orders:   repository.NewMemoryRepository(),
		authed:   true,
	}
	f.store = NewStore(f.backend, f.user, f.notifier, f.orders, func() bool { return f.authed }, nil)
	t.Cleanup(f.notifier.Clear)
	return f
}

func (f *fixture) lastToast(t *testing.T) model.Toast {
	t.Helper()
	list := f.notifier.List()
	require.NotEmpty(t, list)
	return list[len(list)-1]
}

func domain(name, price string) model.Domain {
	return model.Domain{Name: name, Price: decimal.RequireFromString(price), Category: "premium"}
}

func backendErr(kind catalyst.Kind, msg string) error {
	return &catalyst.Error{Endpoint: "test", Status: 400, Kind: kind, Message: msg}
}

func TestAddToCart_NotAuthenticated(t *testing.T) {
	f := newFixture(t)
	f.authed = false

	res := f.store.AddToCart(context.Background(), domain("roma.calcio", "10"))

	assert.Equal(t, Result{Success: false, Error: NotAuthenticated}, res)
	assert.Equal(t, 0, f.backend.count(catalyst.EndpointAddToCart))
	assert.Empty(t, f.store.Snapshot().Items)
	assert.Equal(t, model.SeverityWarning, f.lastToast(t).Severity)
}

func TestAddToCart_Success(t *testing.T) {
	f := newFixture(t)

	res := f.store.AddToCart(context.Background(), domain("roma.calcio", "10.50"))

	assert.True(t, res.Success)
	items := f.store.Snapshot().Items
	require.Len(t, items, 1)
	assert.Equal(t, "roma.calcio", items[0].DomainName)
	assert.Equal(t, "item-1", items[0].ID)
	assert.Equal(t, model.SeveritySuccess, f.lastToast(t).Severity)
}

func TestAddToCart_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantMsg  string
		severity model.Severity
	}{
		{
			name:     "duplicate",
			err:      backendErr(catalyst.KindDuplicateItem, "Domain already in cart"),
			wantMsg:  "milan.calcio è già nel tuo carrello",
			severity: model.SeverityWarning,
		},
		{
			name:     "reserved",
			err:      backendErr(catalyst.KindReservationConflict, "Domain reserved by another user"),
			wantMsg:  "milan.calcio è stato appena riservato da un altro utente",
			severity: model.SeverityError,
		},
		{
			name:     "other",
			err:      errors.New("connection reset"),
			wantMsg:  msgGenericRetry,
			severity: model.SeverityError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.AddToCart(context.Background(), domain("inter.calcio", "5"))
			f.backend.addErr = tt.err

			res := f.store.AddToCart(context.Background(), domain("milan.calcio", "5"))

			assert.False(t, res.Success)
			assert.Equal(t, tt.err.Error(), res.Error)
			items := f.store.Snapshot().Items
			require.Len(t, items, 1)
			assert.Equal(t, "inter.calcio", items[0].DomainName)

			last := f.lastToast(t)
			assert.Equal(t, tt.wantMsg, last.Message)
			assert.Equal(t, tt.severity, last.Severity)
		})
	}
}

func TestAddRemove_LocalMatchesBackendAfterReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, n := range []string{"a.calcio", "b.calcio", "c.calcio"} {
		require.True(t, f.store.AddToCart(ctx, domain(n, "1")).Success)
	}
	require.True(t, f.store.RemoveFromCart(ctx, "b.calcio").Success)

	// другой клиент добавил домен напрямую в бэкенд
	f.backend.mu.Lock()
	f.backend.items = append(f.backend.items, model.CartItem{ID: "x", DomainName: "d.calcio", Price: decimal.NewFromInt(2)})
	f.backend.mu.Unlock()

	f.store.LoadCart(ctx)

	var got []string
	for _, it := range f.store.Snapshot().Items {
		got = append(got, it.DomainName)
	}
	assert.ElementsMatch(t, []string{"a.calcio", "c.calcio", "d.calcio"}, got)
}

func TestRemoveFromCart_ReloadsEvenOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.store.AddToCart(ctx, domain("a.calcio", "1")).Success)
	f.backend.deleteErr = errors.New("boom")

	res := f.store.RemoveFromCart(ctx, "a.calcio")

	assert.False(t, res.Success)
	assert.Equal(t, 1, f.backend.count(catalyst.EndpointGetCart))
	assert.Len(t, f.store.Snapshot().Items, 1)
}

func TestLoadCart_SkippedWhenNotAuthenticated(t *testing.T) {
	f := newFixture(t)
	f.authed = false

	f.store.LoadCart(context.Background())

	assert.Equal(t, 0, f.backend.count(catalyst.EndpointGetCart))
	assert.Equal(t, 0, f.backend.count(catalyst.EndpointGetUserCoupons))
}

func TestLoadCoupons_KeepsOnlyAvailable(t *testing.T) {
	f := newFixture(t)
	f.backend.coupons = []model.Coupon{
		{ID: "c1", Amount: decimal.NewFromInt(10), Status: model.CouponStatusAvailable},
		{ID: "c2", Amount: decimal.NewFromInt(20), Status: "used"},
	}

	f.store.LoadCart(context.Background())

	coupons := f.store.Snapshot().Coupons
	require.Len(t, coupons, 1)
	assert.Equal(t, "c1", coupons[0].ID)
	assert.ErrorIs(t, f.store.SelectCoupon("c2"), ErrCouponUnavailable)
	assert.NoError(t, f.store.SelectCoupon("c1"))
}

func TestClearCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.store.ClearCart(ctx).Success)
	assert.Equal(t, 0, f.backend.count(catalyst.EndpointDeleteFromCart))
	assert.Equal(t, 1, f.backend.count(catalyst.EndpointGetCart))

	f.store.AddToCart(ctx, domain("a.calcio", "1"))
	f.store.AddToCart(ctx, domain("b.calcio", "1"))
	require.True(t, f.store.ClearCart(ctx).Success)

	assert.Equal(t, 1, f.backend.count(catalyst.EndpointDeleteFromCart))
	assert.Empty(t, f.store.Snapshot().Items)
}

func TestComputeTotals(t *testing.T) {
	items := []model.CartItem{{Price: decimal.RequireFromString("25.00")}}
	tests := []struct {
		name     string
		coupon   string
		convert  bool
		discount string
		excess   string
		bonus    string
		final    string
	}{
		{"no coupon", "0", false, "0.00", "0.00", "0.00", "25.00"},
		{"smaller coupon", "10", true, "10.00", "0.00", "0.00", "15.00"},
		{"equal coupon", "25", true, "25.00", "0.00", "0.00", "0.00"},
		{"larger coupon kept", "30", false, "25.00", "5.00", "0.00", "0.00"},
		{"larger coupon converted", "30", true, "25.00", "5.00", "5.00", "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(items, decimal.RequireFromString(tt.coupon), tt.convert)
			assert.Equal(t, 1, got.Count)
			assert.Equal(t, "25.00", got.Total.StringFixed(2))
			assert.Equal(t, tt.discount, got.Discount.StringFixed(2))
			assert.Equal(t, tt.excess, got.Excess.StringFixed(2))
			assert.Equal(t, tt.bonus, got.CreditBonus.StringFixed(2))
			assert.Equal(t, tt.final, got.FinalTotal.StringFixed(2))
		})
	}
}

func TestTotals_MarshalJSON(t *testing.T) {
	got, err := ComputeTotals([]model.CartItem{{Price: decimal.RequireFromString("3.5")}}, decimal.Zero, false).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":1,"total":"3.50","discount":"0.00","excess":"0.00","credit_bonus":"0.00","final_total":"3.50"}`, string(got))
}

func TestPayWithStripe_FreeOrderWithCreditBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.coupons = []model.Coupon{{ID: "c30", Amount: decimal.NewFromInt(30), Status: model.CouponStatusAvailable}}
	f.backend.checkoutRes = catalyst.CheckoutResult{Free: true, OrderID: "o-1", CreditBonus: decimal.RequireFromString("5.00")}

	require.True(t, f.store.AddToCart(ctx, domain("juve.calcio", "25.00")).Success)
	f.store.LoadCoupons(ctx)
	require.NoError(t, f.store.SelectCoupon("c30"))
	f.store.SetConvertRest(true)

	totals := f.store.Totals()
	assert.Equal(t, "25.00", totals.Discount.StringFixed(2))
	assert.Equal(t, "5.00", totals.Excess.StringFixed(2))
	assert.Equal(t, "5.00", totals.CreditBonus.StringFixed(2))
	assert.Equal(t, "0.00", totals.FinalTotal.StringFixed(2))

	res := f.store.PayWithStripe(ctx)

	assert.True(t, res.Success)
	assert.Equal(t, "/success?order_id=o-1&type=free&credit_bonus=5.00", res.Redirect)
	assert.Equal(t, "c30", f.backend.checkoutReq.CouponID)
	assert.True(t, f.backend.checkoutReq.ConvertRest)

	snap := f.store.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.SelectedCouponID)
	assert.False(t, snap.ModalOpen)
	assert.Equal(t, "105.00", f.user.Credits().StringFixed(2))

	orders, err := f.orders.OrdersByUser(ctx, "row-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, model.OrderTypeFree, orders[0].Type)
}

func TestPayWithStripe_RedirectsToCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.checkoutRes = catalyst.CheckoutResult{CheckoutURL: "https://checkout.stripe.com/c/pay/cs_1", SessionID: "cs_1"}

	require.True(t, f.store.AddToCart(ctx, domain("lazio.calcio", "12")).Success)
	require.True(t, f.store.ToggleCartModal())

	res := f.store.PayWithStripe(ctx)

	assert.Equal(t, Result{Success: true, Redirect: "https://checkout.stripe.com/c/pay/cs_1"}, res)
	snap := f.store.Snapshot()
	assert.False(t, snap.ModalOpen)
	assert.Len(t, snap.Items, 1)
}

func TestPayWithCredits_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.creditsRes = catalyst.CreditsResult{OrderID: "o-7", NewCreditBalance: decimal.RequireFromString("88.00")}

	require.True(t, f.store.AddToCart(ctx, domain("roma.calcio", "12.00")).Success)

	res := f.store.PayWithCredits(ctx)

	assert.True(t, res.Success)
	assert.Equal(t, "/success?order_id=o-7&type=credits", res.Redirect)
	assert.Equal(t, 12.0, f.backend.creditsReq.Total)
	assert.Equal(t, "88.00", f.user.Credits().StringFixed(2))
	assert.Empty(t, f.store.Snapshot().Items)
}

func TestPayWithCredits_InsufficientCreditsLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.coupons = []model.Coupon{{ID: "c5", Amount: decimal.NewFromInt(5), Status: model.CouponStatusAvailable}}
	f.backend.creditsErr = backendErr(catalyst.KindInsufficientCredits, "Insufficient credits")

	require.True(t, f.store.AddToCart(ctx, domain("roma.calcio", "300")).Success)
	f.store.LoadCoupons(ctx)
	require.NoError(t, f.store.SelectCoupon("c5"))
	before := f.store.Snapshot()

	res := f.store.PayWithCredits(ctx)

	assert.False(t, res.Success)
	assert.Equal(t, before, f.store.Snapshot())
	assert.Equal(t, "100.00", f.user.Credits().StringFixed(2))
	assert.Equal(t, msgInsufficientFunds, f.lastToast(t).Message)
}

func TestPayWithCredits_EmptyCart(t *testing.T) {
	f := newFixture(t)

	res := f.store.PayWithCredits(context.Background())

	assert.False(t, res.Success)
	assert.Equal(t, 0, f.backend.count(catalyst.EndpointPayWithCredits))
}

func TestToggleCartModal(t *testing.T) {
	f := newFixture(t)
	f.authed = false
	assert.False(t, f.store.ToggleCartModal())

	f.authed = true
	assert.True(t, f.store.ToggleCartModal())

	f.authed = false
	assert.False(t, f.store.ToggleCartModal(), "closing never requires authentication")
}

func TestSuccessRedirect(t *testing.T) {
	assert.Equal(t, "/success?order_id=a+b&type=credits", SuccessRedirect("a b", model.OrderTypeCredits, decimal.Zero))
	assert.Equal(t, "/success?order_id=1&type=free&credit_bonus=2.50", SuccessRedirect("1", model.OrderTypeFree, decimal.RequireFromString("2.5")))
}
