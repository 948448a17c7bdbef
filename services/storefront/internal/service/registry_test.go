package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
	"github.com/utafrali/storefront/services/storefront/internal/identity"
)

const testSecret = "registry-test-secret-0123456789abcdef"

func newTestRegistry(backend *mockBackend, ttl time.Duration) (*Registry, *identity.Verifier) {
	verifier := identity.NewVerifier(testSecret)
	deps := Deps{
		Carts:   backend,
		Placer:  backend,
		Targets: backend,
		Prices:  backend,
		Logger:  newTestLogger(),
	}
	return NewRegistry(deps, verifier, ttl), verifier
}

func mustCreate(t *testing.T, r *Registry) *Handle {
	t.Helper()
	h, err := r.Create(context.Background())
	require.NoError(t, err)
	return h
}

func TestRegistry_CreateGetDelete(t *testing.T) {
	r, _ := newTestRegistry(new(mockBackend), time.Hour)

	h := mustCreate(t, r)
	require.NotNil(t, h)
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(h.Session.ID())
	require.NoError(t, err)
	assert.Same(t, h, got)

	r.Delete(h.Session.ID())
	_, err = r.Get(h.Session.ID())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	r.Delete("unknown")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SessionsAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(new(mockBackend), time.Hour)
	a := mustCreate(t, r)
	b := mustCreate(t, r)

	_, err := a.Session.AddLine(context.Background(), coffee, 1, "")
	require.NoError(t, err)

	assert.Len(t, a.Session.Snapshot().Lines, 1)
	assert.Empty(t, b.Session.Snapshot().Lines)
}

func TestRegistry_SignInDrivesAuthenticate(t *testing.T) {
	backend := new(mockBackend)
	r, verifier := newTestRegistry(backend, time.Hour)
	h := mustCreate(t, r)

	backend.On("GetOrCreateCart", mock.Anything, "user-1").Return(&domain.CartRecord{ID: "cart-1", UserID: "user-1"}, nil).Once()

	token, err := verifier.Issue("user-1", "", time.Minute)
	require.NoError(t, err)
	_, err = h.Identity.SignIn(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.StateBuildingAuthenticated, h.Session.State())

	require.NoError(t, h.Identity.SignOut(context.Background()))
	assert.Equal(t, domain.StateEmpty, h.Session.State())
	assert.False(t, h.Session.Snapshot().Owner.IsAuthenticated())
}

func TestRegistry_SignOutWhilePlacingCanBeRetried(t *testing.T) {
	backend := new(mockBackend)
	r, verifier := newTestRegistry(backend, time.Hour)
	h := mustCreate(t, r)
	ctx := context.Background()

	backend.On("GetOrCreateCart", mock.Anything, "user-1").Return(&domain.CartRecord{
		ID: "cart-1", UserID: "user-1",
		Lines: []domain.Line{{ProductID: 42, UnitPrice: 1250, Quantity: 1}},
	}, nil).Once()
	token, err := verifier.Issue("user-1", "", time.Minute)
	require.NoError(t, err)
	_, err = h.Identity.SignIn(ctx, token)
	require.NoError(t, err)

	backend.On("ResolveTarget", mock.Anything, "user-1", "S1").Return(domain.TargetStore, nil).Once()
	backend.On("SetCartFulfillment", mock.Anything, "cart-1", mock.Anything).Return(nil).Once()
	_, err = h.Session.ChooseFulfillment(ctx, ChooseFulfillmentInput{Method: domain.MethodPickup, TargetID: "S1"})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	backend.On("PlaceOrder", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&domain.PlacementResult{OrderID: "order-1", TotalAmount: 1250}, nil).Once()

	placed := make(chan error, 1)
	go func() {
		_, err := h.Session.PlaceOrder(ctx, PlaceOrderInput{PaymentMethod: "cash"})
		placed <- err
	}()
	<-entered

	err = h.Identity.SignOut(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	current, ok := h.Identity.CurrentUser()
	assert.True(t, ok)
	assert.Equal(t, "user-1", current)

	close(release)
	require.NoError(t, <-placed)
	assert.Equal(t, domain.StatePlaced, h.Session.State())

	require.NoError(t, h.Identity.SignOut(ctx))
	_, ok = h.Identity.CurrentUser()
	assert.False(t, ok)
	assert.Equal(t, domain.StateEmpty, h.Session.State())
	assert.False(t, h.Session.Snapshot().Owner.IsAuthenticated())
	backend.AssertExpectations(t)
}

func TestRegistry_FailedSignInLeavesClientSignedOut(t *testing.T) {
	backend := new(mockBackend)
	r, verifier := newTestRegistry(backend, time.Hour)
	h := mustCreate(t, r)

	backend.On("GetOrCreateCart", mock.Anything, "user-1").Return(nil, errors.New("connection refused")).Once()
	token, err := verifier.Issue("user-1", "", time.Minute)
	require.NoError(t, err)

	_, err = h.Identity.SignIn(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
	_, ok := h.Identity.CurrentUser()
	assert.False(t, ok)
	assert.False(t, h.Session.Snapshot().Owner.IsAuthenticated())
}

func TestRegistry_EvictIdle(t *testing.T) {
	r, _ := newTestRegistry(new(mockBackend), time.Minute)
	h := mustCreate(t, r)

	assert.Equal(t, 0, r.EvictIdle(time.Now()))
	assert.Equal(t, 1, r.EvictIdle(time.Now().Add(2*time.Minute)))

	_, err := r.Get(h.Session.ID())
	assert.Error(t, err)
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	r, _ := newTestRegistry(new(mockBackend), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 10*time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
