package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bazaar/internal/domain"
	"bazaar/internal/events"
	applog "bazaar/internal/log"
	"bazaar/internal/metrics"
	"bazaar/internal/repos"
)

// Access is the user-role side of the identity collaborator.
type Access interface {
	UserRole(ctx context.Context, userID string) (domain.Role, error)
	SetUserRole(ctx context.Context, userID string, role domain.Role) error
}

type ShopDetails struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ShopService struct {
	DB      *sqlx.DB
	Shops   *repos.ShopRepo
	Outbox  *repos.OutboxRepo
	Access  Access
	Metrics *metrics.Registry

	now func() time.Time
}

func NewShopService(db *sqlx.DB, access Access, m *metrics.Registry) *ShopService {
	return &ShopService{
		DB:      db,
		Shops:   repos.NewShopRepo(db),
		Outbox:  repos.NewOutboxRepo(db),
		Access:  access,
		Metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterShop files a new shop application. The shop always starts PENDING
// and inactive, whatever the caller asks for.
func (s *ShopService) RegisterShop(ctx context.Context, ownerID string, d ShopDetails) (domain.Shop, error) {
	if ownerID == "" {
		return domain.Shop{}, domain.Invalid("missing owner")
	}
	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	if d.Name == "" || len(d.Name) > 60 {
		return domain.Shop{}, domain.Invalid("shop name must be 1-60 characters")
	}
	if len(d.Description) > 500 {
		return domain.Shop{}, domain.Invalid("shop description too long")
	}

	existing, err := s.Shops.ListByOwner(ctx, ownerID)
	if err != nil {
		return domain.Shop{}, err
	}
	for _, sh := range existing {
		if sh.Status != domain.ShopDeleted && strings.EqualFold(sh.Name, d.Name) {
			return domain.Shop{}, fmt.Errorf("%w: you already have a shop named %q", domain.ErrConflict, d.Name)
		}
	}

	now := s.now()
	shop := domain.Shop{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        d.Name,
		Description: d.Description,
		Status:      domain.ShopPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	first := domain.StatusEntry{Status: string(domain.ShopPending), Note: "registered", ActorID: ownerID, Timestamp: now}
	err = repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		return s.Shops.WithTx(tx).Create(ctx, shop, first)
	})
	if err != nil {
		return domain.Shop{}, err
	}
	shop.StatusHistory = []domain.StatusEntry{first}
	applog.Audit(nil, "shop.registered", map[string]any{"shop": shop.ID, "owner": ownerID})
	return shop, nil
}

func (s *ShopService) GetShop(ctx context.Context, id string) (domain.Shop, error) {
	return s.Shops.Get(ctx, id)
}

func (s *ShopService) ListMine(ctx context.Context, ownerID string) ([]domain.Shop, error) {
	return s.Shops.ListByOwner(ctx, ownerID)
}

// authorizeShop: approval and rejection are admin decisions, deletion and
// re-application belong to the owner (admins may do either).
func authorizeShop(who domain.Identity, shop domain.Shop, target domain.ShopStatus) error {
	if who.Role == domain.RoleAdmin {
		return nil
	}
	switch target {
	case domain.ShopDeleted, domain.ShopPending:
		if who.UserID != "" && who.UserID == shop.OwnerID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not move shop %s to %s", domain.ErrForbidden, who.Role, shop.ID, target)
}

// SetShopStatus applies one shop transition. Approval promotes a BUYER owner
// to SELLER first; the shop write follows and, if it fails, the role is put
// back unless a concurrent approval won. A role change that cannot be confirmed leaves the shop untouched and
// returns ErrDependencyFailure.
func (s *ShopService) SetShopStatus(ctx context.Context, who domain.Identity, shopID string, target domain.ShopStatus, note string) (domain.Shop, error) {
	if !target.Valid() {
		return domain.Shop{}, domain.Invalid("unknown shop status %q", target)
	}
	shop, err := s.Shops.Get(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	if err := authorizeShop(who, shop, target); err != nil {
		applog.Security(nil, "shop.status.denied", map[string]any{"shop": shopID, "user": who.UserID, "to": string(target)})
		return domain.Shop{}, err
	}
	if shop.Status == target {
		return shop, nil
	}
	if !domain.CanTransitionShop(shop.Status, target) {
		return domain.Shop{}, &domain.TransitionError{Entity: "shop", ID: shop.ID, From: string(shop.Status), To: string(target)}
	}

	var promoted bool
	if target == domain.ShopApproved {
		if promoted, err = s.promoteOwner(ctx, shop.OwnerID); err != nil {
			return domain.Shop{}, err
		}
	}

	entry := domain.StatusEntry{Status: string(target), Note: note, ActorID: who.UserID, Timestamp: s.now()}
	err = repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		if err := s.Shops.WithTx(tx).UpdateStatus(ctx, shop.ID, shop.Status, entry); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return fmt.Errorf("shop %s left %s before the update: %w", shop.ID, shop.Status, err)
			}
			return err
		}
		env, err := events.New(events.TopicShopStatusChanged, shop.ID, events.ShopStatusChangedPayload{
			ShopID: shop.ID, OwnerID: shop.OwnerID, From: string(shop.Status), To: string(target), ActorID: who.UserID,
		})
		if err != nil {
			return err
		}
		return s.Outbox.WithTx(tx).Insert(ctx, env.EventID, events.TopicShopStatusChanged, shop.ID, env)
	})
	if err != nil {
		if promoted {
			s.undoPromotion(ctx, shop)
		}
		return domain.Shop{}, err
	}
	if target == domain.ShopApproved {
		// a losing concurrent approval may have demoted the owner after the promotion above
		if _, perr := s.promoteOwner(ctx, shop.OwnerID); perr != nil {
			applog.Error(nil, "shop.approve.role", perr, map[string]any{"shop": shop.ID, "owner": shop.OwnerID})
		}
	}

	s.Metrics.ShopTransitioned(string(target))
	applog.Audit(nil, "shop.status", map[string]any{
		"shop": shop.ID, "from": string(shop.Status), "to": string(target), "actor": who.UserID, "promoted": promoted,
	})
	return s.Shops.Get(ctx, shop.ID)
}

// promoteOwner makes the owner a SELLER. Sellers and admins keep their role.
func (s *ShopService) promoteOwner(ctx context.Context, ownerID string) (bool, error) {
	role, err := s.Access.UserRole(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("%w: read role of %s: %v", domain.ErrDependencyFailure, ownerID, err)
	}
	if role != domain.RoleBuyer {
		return false, nil
	}
	if err := s.Access.SetUserRole(ctx, ownerID, domain.RoleSeller); err != nil {
		return false, fmt.Errorf("%w: promote %s to seller: %v", domain.ErrDependencyFailure, ownerID, err)
	}
	return true, nil
}

// undoPromotion demotes the owner after a failed approval, unless the shop is
// APPROVED by now. That happens when a concurrent approval won the status
// write; its owner has to stay a SELLER.
func (s *ShopService) undoPromotion(ctx context.Context, shop domain.Shop) {
	fields := map[string]any{"shop": shop.ID, "owner": shop.OwnerID}
	cur, err := s.Shops.Get(ctx, shop.ID)
	if err != nil {
		applog.Error(nil, "shop.approve.compensate", err, fields)
		return
	}
	if cur.Status == domain.ShopApproved {
		applog.Info(nil, "shop.approve.compensate.skipped", fields)
		return
	}
	if err := s.Access.SetUserRole(ctx, shop.OwnerID, domain.RoleBuyer); err != nil {
		applog.Error(nil, "shop.approve.compensate", err, fields)
	}
}

// SetShopActive toggles whether an approved shop can sell. Admin only.
func (s *ShopService) SetShopActive(ctx context.Context, who domain.Identity, shopID string, active bool) (domain.Shop, error) {
	if who.Role != domain.RoleAdmin {
		return domain.Shop{}, fmt.Errorf("%w: only admins toggle shops", domain.ErrForbidden)
	}
	shop, err := s.Shops.Get(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	if shop.Status != domain.ShopApproved {
		to := "inactive"
		if active {
			to = "active"
		}
		return domain.Shop{}, &domain.TransitionError{Entity: "shop", ID: shop.ID, From: string(shop.Status), To: to}
	}
	if shop.IsActive == active {
		return shop, nil
	}
	if err := s.Shops.SetActive(ctx, shop.ID, active, s.now()); err != nil {
		return domain.Shop{}, err
	}
	applog.Audit(nil, "shop.active", map[string]any{"shop": shop.ID, "active": active, "actor": who.UserID})
	return s.Shops.Get(ctx, shop.ID)
}
