package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"gorm.io/gorm"
)

// Get-style methods return (nil, nil) when the row does not exist so callers
// can treat "no record" as a regular state rather than an error.

// UserRepository defines read access to the auth provider's user mirror
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	// ListInactiveSince returns active, mail-enabled users whose last activity
	// (or signup, if they never came back) is older than cutoff, in id order.
	ListInactiveSince(ctx context.Context, cutoff time.Time, afterID uint, limit int) ([]models.User, error)
	// ListCreatedSince returns active users created at or after since, in id order.
	ListCreatedSince(ctx context.Context, since time.Time, afterID uint, limit int) ([]models.User, error)
}

// EntitlementRepository defines the entitlement store: individual records,
// clubs and memberships, plus product plan mappings
type EntitlementRepository interface {
	Get(ctx context.Context, userID uint) (*models.EntitlementRecord, error)
	Upsert(ctx context.Context, record *models.EntitlementRecord) error
	// MarkWelcomeSent sets welcome_sent_at only if it is still empty and
	// reports whether this call won.
	MarkWelcomeSent(ctx context.Context, userID uint, at time.Time) (bool, error)
	// ClearWelcomeSent resets a marker that MarkWelcomeSent set at the same instant.
	ClearWelcomeSent(ctx context.Context, userID uint, at time.Time) error
	GetClub(ctx context.Context, clubID uint) (*models.Club, error)
	SaveClub(ctx context.Context, club *models.Club) error
	GetMembership(ctx context.Context, userID uint) (*models.ClubMembership, error)
	FindPlanMapping(ctx context.Context, provider, productID string) (*models.BillingPlanMapping, error)
	// ExpireLapsed downgrades individual records and clubs whose period ended
	// before now and returns how many rows of each were touched.
	ExpireLapsed(ctx context.Context, now time.Time) (int64, int64, error)
}

// ErrOpenSequence is returned by SequenceRepository.Create when the user
// already has a sequence that is not completed.
var ErrOpenSequence = errors.New("user already has an open sequence")

// SequenceRepository defines the sequence store
type SequenceRepository interface {
	// Create inserts a record; it fails with ErrOpenSequence when the user
	// already has an open one.
	Create(ctx context.Context, record *models.SequenceRecord) error
	// ListDue returns open, unpaused, unclaimed records whose next send is due.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.SequenceRecord, error)
	// Claim sets a short-lived processing marker; false means another run owns the row.
	Claim(ctx context.Context, id uint, token string, until, now time.Time) (bool, error)
	// Save persists the progress fields of record and releases its claim.
	Save(ctx context.Context, record *models.SequenceRecord) error
	LatestStart(ctx context.Context, userID uint, name models.SequenceName) (*time.Time, error)
	ListByUser(ctx context.Context, userID uint) ([]models.SequenceRecord, error)
}

// UsageMutator decides, under the row lock, whether a counter change is persisted.
type UsageMutator func(counter *models.UsageCounter) (persist bool, err error)

// UsageRepository defines the usage counter store
type UsageRepository interface {
	Get(ctx context.Context, userID uint, kind string) (*models.UsageCounter, error)
	// Update runs mutate against the locked counter row and writes it back
	// atomically when mutate asks for it.
	Update(ctx context.Context, userID uint, kind string, mutate UsageMutator) (*models.UsageCounter, error)
}

// AuditRepository defines the append-only audit sink
type AuditRepository interface {
	LogWebhook(ctx context.Context, entry *models.WebhookEventLog) error
	LogSend(ctx context.Context, entry *models.SequenceSendLog) error
	ListWebhookLogs(ctx context.Context, from, to time.Time) ([]models.WebhookEventLog, error)
	ListSendLogs(ctx context.Context, from, to time.Time) ([]models.SequenceSendLog, error)
}

// Repositories holds all repository instances
type Repositories struct {
	User        UserRepository
	Entitlement EntitlementRepository
	Sequence    SequenceRepository
	Usage       UsageRepository
	Audit       AuditRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:        NewUserRepository(db),
		Entitlement: NewEntitlementRepository(db),
		Sequence:    NewSequenceRepository(db),
		Usage:       NewUsageRepository(db),
		Audit:       NewAuditRepository(db),
	}
}
