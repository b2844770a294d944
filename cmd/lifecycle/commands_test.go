package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/auditarchive"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/billing"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/sequences"
)

type fakeJobs struct {
	exportedDay time.Time
	exportErr   error
}

func (f *fakeJobs) Sequences(context.Context) (sequences.Summary, bool, error) {
	return sequences.Summary{Processed: 3, Sent: 2, Skipped: 1}, false, nil
}

func (f *fakeJobs) Intake(context.Context) (sequences.Summary, bool, error) {
	return sequences.Summary{Enrolled: 4}, false, nil
}

func (f *fakeJobs) Expiry(context.Context) (billing.SweepResult, bool, error) {
	return billing.SweepResult{}, false, nil
}

func (f *fakeJobs) ExportAudit(_ context.Context, day time.Time) (auditarchive.Result, error) {
	f.exportedDay = day
	return auditarchive.Result{}, f.exportErr
}

func execute(t *testing.T, f *fakeJobs, args ...string) (string, bool, error) {
	t.Helper()
	closed := false
	root := newRootCmd(func(context.Context) (jobs, func(), error) {
		return f, func() { closed = true }, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), closed, err
}

func TestSequencesPrintsSummary(t *testing.T) {
	out, closed, err := execute(t, &fakeJobs{}, "sequences")
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Contains(t, out, `"processed": 3`)
	assert.Contains(t, out, `"sent": 2`)
}

func TestIntakePrintsEnrolled(t *testing.T) {
	out, _, err := execute(t, &fakeJobs{}, "intake")
	require.NoError(t, err)
	assert.Contains(t, out, `"enrolled": 4`)
}

func TestAuditExportParsesDay(t *testing.T) {
	f := &fakeJobs{}
	_, _, err := execute(t, f, "audit-export", "--day", "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), f.exportedDay)
}

func TestAuditExportRejectsBadDay(t *testing.T) {
	_, _, err := execute(t, &fakeJobs{}, "audit-export", "--day", "14.03.2026")
	assert.Error(t, err)
}

func TestAuditExportPropagatesError(t *testing.T) {
	f := &fakeJobs{exportErr: errors.New("archive not configured")}
	_, _, err := execute(t, f, "audit-export")
	require.Error(t, err)
	assert.False(t, f.exportedDay.IsZero())
}

func TestOpenFailureStopsCommand(t *testing.T) {
	root := newRootCmd(func(context.Context) (jobs, func(), error) {
		return nil, nil, errors.New("no database")
	})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"sweep"})
	assert.EqualError(t, root.ExecuteContext(context.Background()), "no database")
}
