package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/billing"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/entitlements"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/sequences"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/usage"
)

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

type stubWebhooks struct {
	res billing.Result
	err error
}

func (s stubWebhooks) HandleWebhook(context.Context, string, []byte) (billing.Result, error) {
	return s.res, s.err
}

func TestBillingWebhookStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		stub   stubWebhooks
		status int
	}{
		{"applied", stubWebhooks{res: billing.Result{EventID: "evt_1", Outcome: models.WebhookOutcomeApplied}}, fiber.StatusOK},
		{"duplicate", stubWebhooks{res: billing.Result{EventID: "evt_1", Outcome: models.WebhookOutcomeDuplicate}}, fiber.StatusOK},
		{"unauthorized", stubWebhooks{err: billing.ErrUnauthorized}, fiber.StatusUnauthorized},
		{"malformed", stubWebhooks{err: fmt.Errorf("%w: missing id", billing.ErrMalformedEvent)}, fiber.StatusBadRequest},
		{"store failure", stubWebhooks{err: errors.New("deadlock")}, fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/webhooks/billing", NewBillingController(tt.stub).HandleWebhook)

			req := httptest.NewRequest("POST", "/webhooks/billing", strings.NewReader(`{}`))
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == fiber.StatusOK {
				assert.Equal(t, tt.stub.res.Outcome, decode(t, resp)["outcome"])
			}
		})
	}
}

type stubJobs struct {
	sum    sequences.Summary
	shared bool
	err    error
}

func (s stubJobs) Sequences(context.Context) (sequences.Summary, bool, error) {
	return s.sum, s.shared, s.err
}

func (s stubJobs) Intake(context.Context) (sequences.Summary, bool, error) {
	return s.sum, false, s.err
}

func (s stubJobs) Expiry(context.Context) (billing.SweepResult, bool, error) {
	return billing.SweepResult{Records: 4, Clubs: 1}, false, s.err
}

func newCronApp(jobs LifecycleJobs) *fiber.App {
	app := fiber.New()
	cc := NewCronController(jobs)
	app.Post("/cron/sequences", cc.HandleSequences)
	app.Post("/cron/intake", cc.HandleIntake)
	app.Post("/cron/expiry", cc.HandleExpiry)
	return app
}

func TestCronSummaries(t *testing.T) {
	app := newCronApp(stubJobs{sum: sequences.Summary{Processed: 5, Sent: 3, Skipped: 1, Errors: 1}, shared: true})

	resp, err := app.Test(httptest.NewRequest("POST", "/cron/sequences", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Run-Shared"))
	body := decode(t, resp)
	assert.Equal(t, 5.0, body["processed"])
	assert.Equal(t, 3.0, body["sent"])
	assert.Equal(t, 1.0, body["skipped"])
	assert.Equal(t, 1.0, body["errors"])
	_, hasEnrolled := body["enrolled"]
	assert.False(t, hasEnrolled)

	resp, err = app.Test(httptest.NewRequest("POST", "/cron/expiry", nil))
	require.NoError(t, err)
	assert.Equal(t, 4.0, decode(t, resp)["records"])
}

func TestCronFailure(t *testing.T) {
	app := newCronApp(stubJobs{err: errors.New("db down")})

	resp, err := app.Test(httptest.NewRequest("POST", "/cron/intake", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "db down", decode(t, resp)["message"])
}

type stubResolver struct {
	res entitlements.Resolution
	err error
}

func (s stubResolver) Resolve(context.Context, uint, time.Time) (entitlements.Resolution, error) {
	return s.res, s.err
}

type stubUsage struct {
	dec  usage.Decision
	snap usage.Snapshot
	err  error
}

func (s stubUsage) Increment(_ context.Context, _ uint, kind string) (usage.Decision, error) {
	if kind == "bogus" {
		return usage.Decision{}, usage.ErrUnknownKind
	}
	return s.dec, s.err
}

func (s stubUsage) Peek(_ context.Context, _ uint, kind string) (usage.Snapshot, error) {
	if kind == "bogus" {
		return usage.Snapshot{}, usage.ErrUnknownKind
	}
	return s.snap, s.err
}

type stubEnroller struct {
	enrolled bool
	err      error
	calls    *[]models.SequenceName
}

func (s stubEnroller) Enroll(_ context.Context, _ uint, name models.SequenceName, _ time.Time) (bool, error) {
	if s.calls != nil {
		*s.calls = append(*s.calls, name)
	}
	return s.enrolled, s.err
}

type stubUsers map[uint]*models.User

func (s stubUsers) GetByID(_ context.Context, id uint) (*models.User, error) {
	return s[id], nil
}

func newAPIApp(ac *APIController) *fiber.App {
	app := fiber.New()
	app.Get("/entitlements/:userID", ac.HandleGetEntitlement)
	app.Get("/usage/:userID/:kind", ac.HandleGetUsage)
	app.Post("/usage/:userID/:kind", ac.HandleIncrementUsage)
	app.Post("/sequences/enroll", ac.HandleEnroll)
	return app
}

var fixedClock = clock.NewFixed(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))

func TestGetEntitlement(t *testing.T) {
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ac := NewAPIController(stubResolver{res: entitlements.Resolution{
		Tier: models.TierPro, Source: models.SourceIndividual, IsActive: true, ExpiresAt: &end, Status: models.StatusActive,
	}}, stubUsage{}, stubEnroller{}, stubUsers{}, fixedClock)
	app := newAPIApp(ac)

	resp, err := app.Test(httptest.NewRequest("GET", "/entitlements/12", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, 12.0, body["user_id"])
	assert.Equal(t, "pro", body["tier"])
	assert.Equal(t, "individual", body["source"])
	assert.Equal(t, true, body["is_active"])
	assert.Equal(t, "2026-03-01T00:00:00Z", body["expires_at"])
	assert.Equal(t, true, body["paid_access"])

	resp, err = app.Test(httptest.NewRequest("GET", "/entitlements/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetEntitlementDegradesToFree(t *testing.T) {
	ac := NewAPIController(stubResolver{res: entitlements.Free(), err: errors.New("db down")}, stubUsage{}, stubEnroller{}, stubUsers{}, fixedClock)

	resp, err := newAPIApp(ac).Test(httptest.NewRequest("GET", "/entitlements/3", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "free", body["tier"])
	assert.Equal(t, false, body["paid_access"])
	assert.Equal(t, true, body["degraded"])
}

func TestUsageEndpoints(t *testing.T) {
	tracker := stubUsage{
		dec:  usage.Decision{Allowed: true, Remaining: 2, Count: 1, Limit: 3, Period: usage.PeriodDaily},
		snap: usage.Snapshot{Count: 1, Remaining: 2, Limit: 3, Period: usage.PeriodDaily},
	}
	app := newAPIApp(NewAPIController(stubResolver{}, tracker, stubEnroller{}, stubUsers{}, fixedClock))

	resp, err := app.Test(httptest.NewRequest("POST", "/usage/1/reflection_analysis", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, 2.0, body["remaining"])

	resp, err = app.Test(httptest.NewRequest("GET", "/usage/1/reflection_analysis", nil))
	require.NoError(t, err)
	assert.Equal(t, 1.0, decode(t, resp)["count"])

	resp, err = app.Test(httptest.NewRequest("POST", "/usage/1/bogus", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	tracker.dec = usage.Decision{Allowed: false, Remaining: 0, Count: 3, Limit: 3}
	app = newAPIApp(NewAPIController(stubResolver{}, tracker, stubEnroller{}, stubUsers{}, fixedClock))
	resp, err = app.Test(httptest.NewRequest("POST", "/usage/1/reflection_analysis", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["allowed"])

	tracker.err = errors.New("lock wait timeout")
	app = newAPIApp(NewAPIController(stubResolver{}, tracker, stubEnroller{}, stubUsers{}, fixedClock))
	resp, err = app.Test(httptest.NewRequest("GET", "/usage/1/voice_analysis", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func enrollRequestFor(body string) *http.Request {
	req := httptest.NewRequest("POST", "/sequences/enroll", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestEnroll(t *testing.T) {
	var calls []models.SequenceName
	users := stubUsers{5: {ID: 5, Email: "five@example.com"}}
	app := newAPIApp(NewAPIController(stubResolver{}, stubUsage{}, stubEnroller{enrolled: true, calls: &calls}, users, fixedClock))

	resp, err := app.Test(enrollRequestFor(`{"user_id":5,"sequence":"winback"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["enrolled"])
	assert.Equal(t, []models.SequenceName{models.SequenceWinback}, calls)

	resp, err = app.Test(enrollRequestFor(`{"user_id":6,"sequence":"winback"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(enrollRequestFor(`{"user_id":5,"sequence":"streak"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(enrollRequestFor(`not json`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestEnrollRefused(t *testing.T) {
	users := stubUsers{5: {ID: 5}}
	app := newAPIApp(NewAPIController(stubResolver{}, stubUsage{}, stubEnroller{enrolled: false}, users, fixedClock))

	resp, err := app.Test(enrollRequestFor(`{"user_id":5,"sequence":"onboarding"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["enrolled"])
}
