package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory builds the engine's stores over one database handle. Stores are
// created on first use and shared afterwards, so intake and the scheduler
// work against the same sequence store.
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

func (f *Factory) all() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// Users backs entitlement resolution, intake scans and welcome mails.
func (f *Factory) Users() UserRepository { return f.all().User }

// Entitlements stores purchase derived records and club memberships.
func (f *Factory) Entitlements() EntitlementRepository { return f.all().Entitlement }

// Sequences stores drip sequence progress.
func (f *Factory) Sequences() SequenceRepository { return f.all().Sequence }

// Usage stores per-period usage counters.
func (f *Factory) Usage() UsageRepository { return f.all().Usage }

// Audit receives webhook and send logs and feeds the archive exporter.
func (f *Factory) Audit() AuditRepository { return f.all().Audit }
