package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileAllRepairsEveryEvent(t *testing.T) {
	env := newTestEnv(t, testOptions())
	ctx := context.Background()

	inflated := env.seedEvent(t, "DJ Night", 10, 5)
	missing := env.seedEvent(t, "Quiz", 10, 0)
	_, err := env.repos.Tickets.Create(ctx, missing.ID, "u1", "SKR-RECON-0001")
	require.NoError(t, err)

	results, err := env.svc.Reconcile.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]ReconcileResult{}
	for _, r := range results {
		byID[r.EventID] = r
	}
	assert.Equal(t, ReconcileResult{EventID: inflated.ID, Before: 5, After: 0}, byID[inflated.ID])
	assert.Equal(t, ReconcileResult{EventID: missing.ID, Before: 0, After: 1}, byID[missing.ID])

	c, _ := env.svc.Ledger.Get(inflated.ID)
	assert.Equal(t, 0, c.Booked)
	assert.Equal(t, 1, env.bookedCount(t, missing.ID))
}

func TestReconcileAllContinuesPastFailures(t *testing.T) {
	env := newTestEnv(t, testOptions())
	ctx := context.Background()
	env.seedEvent(t, "DJ Night", 10, 5)
	env.seedEvent(t, "Quiz", 10, 3)

	env.store.FailNext("call:reconcile_tickets", errors.New("connection reset"))

	results, err := env.svc.Reconcile.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}
