package billing

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/ManuelReschke/ReflectCoach/app/models"
)

// PlanLookup resolves provider product ids through the mapping table.
type PlanLookup interface {
	FindPlanMapping(ctx context.Context, provider, productID string) (*models.BillingPlanMapping, error)
}

// Plan is the internal meaning of a provider product.
type Plan struct {
	ProductID string
	Tier      models.Tier
	Interval  string
	Mapped    bool
}

// ResolvePlan prefers an active mapping row and falls back to product naming
// rules for ids nobody mapped yet.
func ResolvePlan(ctx context.Context, lookup PlanLookup, provider, productID string) (Plan, error) {
	ref := strings.TrimSpace(productID)
	plan := Plan{
		ProductID: ref,
		Tier:      tierFromProductName(ref),
		Interval:  intervalFromProductName(ref),
	}
	if ref == "" || lookup == nil {
		return plan, nil
	}

	m, err := lookup.FindPlanMapping(ctx, provider, ref)
	if err != nil {
		return plan, err
	}
	if m == nil {
		return plan, nil
	}

	plan.Mapped = true
	plan.Tier = normalizeTier(string(m.InternalPlan))
	if i := normalizeInterval(m.BillingInterval); i != models.BillingIntervalUnknown {
		plan.Interval = i
	}
	return plan, nil
}

func normalizeTier(tier string) models.Tier {
	switch models.Tier(strings.ToLower(strings.TrimSpace(tier))) {
	case models.TierPro:
		return models.TierPro
	case models.TierProPlus:
		return models.TierProPlus
	default:
		return models.TierFree
	}
}

func normalizeInterval(interval string) string {
	switch i := strings.ToLower(strings.TrimSpace(interval)); i {
	case models.BillingIntervalWeek, models.BillingIntervalMonth, models.BillingIntervalYear, models.BillingIntervalLifetime:
		return i
	default:
		return models.BillingIntervalUnknown
	}
}

func productTokens(productID string) []string {
	return strings.FieldsFunc(strings.ToLower(productID), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tierFromProductName(productID string) models.Tier {
	tokens := productTokens(productID)
	for i, tok := range tokens {
		if tok == "proplus" {
			return models.TierProPlus
		}
		if tok == "pro" && i+1 < len(tokens) && tokens[i+1] == "plus" {
			return models.TierProPlus
		}
	}
	for _, tok := range tokens {
		if tok == "pro" {
			return models.TierPro
		}
	}
	return models.TierFree
}

func intervalFromProductName(productID string) string {
	for _, tok := range productTokens(productID) {
		switch tok {
		case "weekly", "week", "1w":
			return models.BillingIntervalWeek
		case "monthly", "month", "1m":
			return models.BillingIntervalMonth
		case "annual", "yearly", "year", "1y":
			return models.BillingIntervalYear
		case "lifetime":
			return models.BillingIntervalLifetime
		}
	}
	return models.BillingIntervalUnknown
}

// CadencePeriodEnd computes a period end for events that carry no expiry.
// Lifetime grants have none; an unknown cadence is treated as monthly.
func CadencePeriodEnd(interval string, from time.Time) *time.Time {
	var d time.Duration
	switch interval {
	case models.BillingIntervalLifetime:
		return nil
	case models.BillingIntervalWeek:
		d = 7 * 24 * time.Hour
	case models.BillingIntervalYear:
		d = 365 * 24 * time.Hour
	default:
		d = 30 * 24 * time.Hour
	}
	end := from.Add(d).UTC()
	return &end
}
