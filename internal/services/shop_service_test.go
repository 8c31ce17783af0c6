package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaar/internal/domain"
	"bazaar/internal/repos"
	"bazaar/internal/services"
)

// flakyAccess wraps the real role store and can fail or interfere with the
// shop row while a promotion is in flight.
type flakyAccess struct {
	next        services.Access
	failSet     bool
	onPromote   func()
	roleChanges []domain.Role
}

func (a *flakyAccess) UserRole(ctx context.Context, userID string) (domain.Role, error) {
	return a.next.UserRole(ctx, userID)
}

func (a *flakyAccess) SetUserRole(ctx context.Context, userID string, role domain.Role) error {
	if a.failSet {
		return errors.New("role store unavailable")
	}
	if err := a.next.SetUserRole(ctx, userID, role); err != nil {
		return err
	}
	a.roleChanges = append(a.roleChanges, role)
	if role == domain.RoleSeller && a.onPromote != nil {
		a.onPromote()
	}
	return nil
}

func role(t *testing.T, e env, userID string) domain.Role {
	t.Helper()
	r, err := e.auth.UserRole(context.Background(), userID)
	require.NoError(t, err)
	return r
}

func TestApproveShop_PromotesOwner(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	require.Equal(t, domain.RoleBuyer, role(t, e, "u-carol"))

	shop, err := e.shops.SetShopStatus(ctx, admin, "s-carol", domain.ShopApproved, "looks good")
	require.NoError(t, err)

	assert.Equal(t, domain.ShopApproved, shop.Status)
	assert.True(t, shop.IsActive)
	require.Len(t, shop.StatusHistory, 2)
	assert.Equal(t, "APPROVED", shop.StatusHistory[1].Status)
	assert.Equal(t, "looks good", shop.StatusHistory[1].Note)
	assert.Equal(t, domain.RoleSeller, role(t, e, "u-carol"))

	// carol's mug is now for sale
	o := e.place(t, alice.UserID, line("mug-001", 2))
	assert.Equal(t, "u-carol", o.Items[0].SellerID)

	pending, err := repos.NewOutboxRepo(e.db).FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "shop.status.changed", pending[0].Topic)
}

func TestApproveShop_RoleFailureLeavesShopPending(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	e.shops.Access = &flakyAccess{next: e.auth, failSet: true}

	_, err := e.shops.SetShopStatus(ctx, admin, "s-carol", domain.ShopApproved, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDependencyFailure))

	shop, err := e.shops.GetShop(ctx, "s-carol")
	require.NoError(t, err)
	assert.Equal(t, domain.ShopPending, shop.Status)
	assert.False(t, shop.IsActive)
	assert.Len(t, shop.StatusHistory, 1)
	assert.Equal(t, domain.RoleBuyer, role(t, e, "u-carol"))
}

func TestApproveShop_CompensatesWhenShopWriteLoses(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	fa := &flakyAccess{next: e.auth}
	// another admin rejects the shop between the role change and the shop write
	fa.onPromote = func() {
		_, err := e.db.Exec(`UPDATE shops SET status = 'REJECTED' WHERE id = 's-carol'`)
		require.NoError(t, err)
	}
	e.shops.Access = fa

	_, err := e.shops.SetShopStatus(ctx, admin, "s-carol", domain.ShopApproved, "")
	assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
	assert.Equal(t, []domain.Role{domain.RoleSeller, domain.RoleBuyer}, fa.roleChanges)
	assert.Equal(t, domain.RoleBuyer, role(t, e, "u-carol"))
}

// barrierAccess holds the first two role reads until both have happened, so
// two approvals both see the owner as a BUYER.
type barrierAccess struct {
	next  services.Access
	mu    sync.Mutex
	reads int
	both  chan struct{}
}

func (a *barrierAccess) UserRole(ctx context.Context, userID string) (domain.Role, error) {
	r, err := a.next.UserRole(ctx, userID)
	a.mu.Lock()
	a.reads++
	n := a.reads
	a.mu.Unlock()
	if n == 2 {
		close(a.both)
	}
	if n <= 2 {
		<-a.both
	}
	return r, err
}

func (a *barrierAccess) SetUserRole(ctx context.Context, userID string, role domain.Role) error {
	return a.next.SetUserRole(ctx, userID, role)
}

func TestApproveShop_ConcurrentApprovalsKeepOwnerSeller(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	e.shops.Access = &barrierAccess{next: e.auth, both: make(chan struct{})}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.shops.SetShopStatus(ctx, admin, "s-carol", domain.ShopApproved, "")
		}(i)
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			failed++
			assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
		}
	}
	assert.Equal(t, 1, failed)

	shop, err := e.shops.GetShop(ctx, "s-carol")
	require.NoError(t, err)
	assert.Equal(t, domain.ShopApproved, shop.Status)
	assert.Equal(t, domain.RoleSeller, role(t, e, "u-carol"))
}

func TestApproveShop_SellerKeepsRole(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	shop, err := e.shops.RegisterShop(ctx, "u-bob", services.ShopDetails{Name: "Bob's Second Shop"})
	require.NoError(t, err)

	fa := &flakyAccess{next: e.auth}
	e.shops.Access = fa
	_, err = e.shops.SetShopStatus(ctx, admin, shop.ID, domain.ShopApproved, "")
	require.NoError(t, err)
	assert.Empty(t, fa.roleChanges)
	assert.Equal(t, domain.RoleSeller, role(t, e, "u-bob"))
}

func TestSetShopStatus_Rules(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.shops.SetShopStatus(ctx, carol, "s-carol", domain.ShopApproved, "")
	assert.True(t, errors.Is(err, domain.ErrForbidden), "owners cannot approve themselves")
	_, err = e.shops.SetShopStatus(ctx, bob, "s-carol", domain.ShopRejected, "")
	assert.True(t, errors.Is(err, domain.ErrForbidden))
	_, err = e.shops.SetShopStatus(ctx, alice, "s-carol", domain.ShopDeleted, "")
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	// same status is a no-op
	shop, err := e.shops.SetShopStatus(ctx, carol, "s-carol", domain.ShopPending, "")
	require.NoError(t, err)
	assert.Len(t, shop.StatusHistory, 1)

	shop, err = e.shops.SetShopStatus(ctx, admin, "s-carol", domain.ShopRejected, "blurry photos")
	require.NoError(t, err)
	assert.Equal(t, domain.ShopRejected, shop.Status)

	// owner re-applies
	shop, err = e.shops.SetShopStatus(ctx, carol, "s-carol", domain.ShopPending, "new photos")
	require.NoError(t, err)
	assert.Equal(t, domain.ShopPending, shop.Status)
	assert.Len(t, shop.StatusHistory, 3)

	shop, err = e.shops.SetShopStatus(ctx, carol, "s-carol", domain.ShopDeleted, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ShopDeleted, shop.Status)

	_, err = e.shops.SetShopStatus(ctx, admin, "s-carol", domain.ShopPending, "")
	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "DELETED", te.From)

	_, err = e.shops.SetShopStatus(ctx, admin, "nope", domain.ShopApproved, "")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRejectApprovedShopStopsSales(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	shop, err := e.shops.SetShopStatus(ctx, admin, "s-retro", domain.ShopRejected, "policy")
	require.NoError(t, err)
	assert.False(t, shop.IsActive)

	_, err = e.orders.PlaceOrder(ctx, services.PlaceOrderRequest{BuyerID: alice.UserID, Items: []services.LineRequest{line("gbc-001", 1)}})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSetShopActive(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.shops.SetShopActive(ctx, bob, "s-retro", false)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	shop, err := e.shops.SetShopActive(ctx, admin, "s-retro", false)
	require.NoError(t, err)
	assert.False(t, shop.IsActive)
	assert.Equal(t, domain.ShopApproved, shop.Status)

	_, err = e.orders.PlaceOrder(ctx, services.PlaceOrderRequest{BuyerID: alice.UserID, Items: []services.LineRequest{line("gbc-001", 1)}})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	shop, err = e.shops.SetShopActive(ctx, admin, "s-retro", true)
	require.NoError(t, err)
	assert.True(t, shop.IsActive)
	e.place(t, alice.UserID, line("gbc-001", 1))

	_, err = e.shops.SetShopActive(ctx, admin, "s-carol", true)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = e.shops.SetShopActive(ctx, admin, "ghost", true)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRegisterShop(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	shop, err := e.shops.RegisterShop(ctx, "u-alice", services.ShopDetails{Name: "  Alice Antiques ", Description: "old things"})
	require.NoError(t, err)
	assert.Equal(t, "Alice Antiques", shop.Name)
	assert.Equal(t, domain.ShopPending, shop.Status)
	assert.False(t, shop.IsActive)
	assert.Len(t, shop.StatusHistory, 1)

	_, err = e.shops.RegisterShop(ctx, "u-alice", services.ShopDetails{Name: "alice antiques"})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	_, err = e.shops.RegisterShop(ctx, "u-alice", services.ShopDetails{Name: "   "})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	mine, err := e.shops.ListMine(ctx, "u-alice")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
