package entitlements

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/ReflectCoach/app/models"
)

// Resolution is the answer to "what may this user do right now".
type Resolution struct {
	Tier      models.Tier              `json:"tier"`
	Source    models.Source            `json:"source"`
	IsActive  bool                     `json:"is_active"`
	ExpiresAt *time.Time               `json:"expires_at"`
	Status    models.EntitlementStatus `json:"status,omitempty"`
}

// Free is the fail-closed default.
func Free() Resolution {
	return Resolution{Tier: models.TierFree, Source: models.SourceNone, IsActive: false}
}

// HasPaidAccess reports whether the resolution unlocks paid features.
func (r Resolution) HasPaidAccess() bool {
	return r.IsActive && r.Tier.IsPaid()
}

// UserDirectory looks up the mirrored user account.
type UserDirectory interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// Store is the read side of the entitlement store the resolver needs.
type Store interface {
	Get(ctx context.Context, userID uint) (*models.EntitlementRecord, error)
	GetMembership(ctx context.Context, userID uint) (*models.ClubMembership, error)
	GetClub(ctx context.Context, clubID uint) (*models.Club, error)
}

// Resolver decides the effective entitlement of a user from independent
// sources. It never writes and never merges sources: the first match wins.
type Resolver struct {
	users   UserDirectory
	store   Store
	testers TesterList
}

func NewResolver(users UserDirectory, store Store, testers TesterList) *Resolver {
	return &Resolver{users: users, store: store, testers: testers}
}

// Resolve evaluates, in order, the tester allow-list, the individual record
// and the club membership. Any lookup error yields Free() together with the
// error so callers that ignore the error still fail closed.
func (r *Resolver) Resolve(ctx context.Context, userID uint, now time.Time) (Resolution, error) {
	if userID == 0 {
		return Free(), nil
	}

	if !r.testers.Empty() {
		user, err := r.users.GetByID(ctx, userID)
		if err != nil {
			return Free(), fmt.Errorf("load user %d: %w", userID, err)
		}
		if user != nil && r.testers.Contains(user.Email) {
			return Resolution{
				Tier:     models.TierPro,
				Source:   models.SourceTester,
				IsActive: true,
				Status:   models.StatusActive,
			}, nil
		}
	}

	record, err := r.store.Get(ctx, userID)
	if err != nil {
		return Free(), fmt.Errorf("load entitlement for user %d: %w", userID, err)
	}
	if record.IsEntitledAt(now) {
		return Resolution{
			Tier:      record.Tier,
			Source:    models.SourceIndividual,
			IsActive:  true,
			ExpiresAt: record.PeriodEnd,
			Status:    record.Status,
		}, nil
	}

	membership, err := r.store.GetMembership(ctx, userID)
	if err != nil {
		return Free(), fmt.Errorf("load club membership for user %d: %w", userID, err)
	}
	if membership.IsActive() {
		club, err := r.store.GetClub(ctx, membership.ClubID)
		if err != nil {
			return Free(), fmt.Errorf("load club %d: %w", membership.ClubID, err)
		}
		if club.IsEntitledAt(now) {
			return Resolution{
				Tier:      models.TierPro,
				Source:    models.SourceClub,
				IsActive:  true,
				ExpiresAt: club.PeriodEnd,
				Status:    club.Status,
			}, nil
		}
	}

	return Free(), nil
}

// TesterList is a case-insensitive e-mail allow-list for manual grants.
type TesterList struct {
	emails map[string]struct{}
}

func NewTesterList(emails []string) TesterList {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if n := strings.ToLower(strings.TrimSpace(e)); n != "" {
			set[n] = struct{}{}
		}
	}
	return TesterList{emails: set}
}

func (l TesterList) Contains(email string) bool {
	n := strings.ToLower(strings.TrimSpace(email))
	if n == "" {
		return false
	}
	_, ok := l.emails[n]
	return ok
}

func (l TesterList) Empty() bool {
	return len(l.emails) == 0
}
