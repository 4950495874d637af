package session

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/calcio-domains/internal/catalyst"
	"github.com/mmeshcher/calcio-domains/internal/cart"
	"github.com/mmeshcher/calcio-domains/internal/model"
	"github.com/mmeshcher/calcio-domains/internal/repository"
)

type stubBackend struct {
	cart []model.CartItem
}

func (b *stubBackend) GetUserData(ctx context.Context, rowID string) (*catalyst.UserData, error) {
	return &catalyst.UserData{Email: "a@b.c", Credits: decimal.NewFromInt(5)}, nil
}

func (b *stubBackend) GetUserCoupons(ctx context.Context, rowID string) ([]model.Coupon, error) {
	return nil, nil
}

func (b *stubBackend) UpdateUser(ctx context.Context, upd catalyst.ProfileUpdate) (string, error) {
	return "", nil
}

func (b *stubBackend) AddToCart(ctx context.Context, req catalyst.AddToCartRequest) (string, error) {
	b.cart = append(b.cart, model.CartItem{ID: "1", DomainName: req.DomainName})
	return "1", nil
}

func (b *stubBackend) GetCart(ctx context.Context, userID string) ([]model.CartItem, error) {
	return b.cart, nil
}

func (b *stubBackend) DeleteFromCart(ctx context.Context, userID string, names []string) (*catalyst.DeleteResult, error) {
	return &catalyst.DeleteResult{}, nil
}

func (b *stubBackend) CreateCheckout(ctx context.Context, req catalyst.CheckoutRequest) (*catalyst.CheckoutResult, error) {
	return &catalyst.CheckoutResult{}, nil
}

func (b *stubBackend) PayWithCredits(ctx context.Context, req catalyst.CreditsRequest) (*catalyst.CreditsResult, error) {
	return &catalyst.CreditsResult{}, nil
}

type stubResolver struct{}

func (stubResolver) ResolveRowID(ctx context.Context, a model.Assertion) (string, error) {
	return "row-" + a.Subject, nil
}

func newTestRegistry(ttl time.Duration) *Registry {
	repo := repository.NewMemoryRepository()
	return NewRegistry(Deps{
		Backend:  &stubBackend{},
		Resolver: stubResolver{},
		Prefs:    repo,
		Orders:   repo,
	}, ttl)
}

func TestRegistry_CreateGetDelete(t *testing.T) {
	r := newTestRegistry(time.Hour)

	s := r.Create()
	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	other := r.Create()
	assert.NotEqual(t, s.ID, other.ID)
	assert.NotSame(t, s.Cart, other.Cart)

	r.Delete(s.ID)
	_, ok = r.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_EvictIdle(t *testing.T) {
	r := newTestRegistry(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	stale := r.Create()
	now = now.Add(50 * time.Second)
	fresh := r.Create()
	now = now.Add(30 * time.Second)

	assert.Equal(t, 1, r.evictIdle())

	_, ok := r.Get(stale.ID)
	assert.False(t, ok)
	_, ok = r.Get(fresh.ID)
	assert.True(t, ok)
}

func TestStartJanitor_StopsOnContextDone(t *testing.T) {
	r := newTestRegistry(time.Millisecond)
	r.Create()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSession_CartRequiresAssertion(t *testing.T) {
	r := newTestRegistry(time.Hour)
	s := r.Create()
	ctx := context.Background()

	res := s.Cart.AddToCart(ctx, model.Domain{Name: "roma.calcio", Price: decimal.NewFromInt(1)})
	assert.Equal(t, cart.NotAuthenticated, res.Error)
	require.Len(t, s.Toasts.List(), 1)

	a := model.Assertion{Subject: "auth0|1", AccessToken: "tok"}
	s.SetAssertion(a)
	require.NoError(t, s.User.Initialize(ctx, a))

	res = s.Cart.AddToCart(ctx, model.Domain{Name: "roma.calcio", Price: decimal.NewFromInt(1)})
	assert.True(t, res.Success)

	require.NoError(t, s.Logout(ctx))
	assert.False(t, s.Authenticated())
	assert.False(t, s.User.IsInitialized())
	assert.Empty(t, s.Cart.Snapshot().Items)
}
