package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/posbridge/internal/core/ports/driving"
)

type syncFixture struct {
	client  *mocks.MockPOSClient
	store   *mocks.MockConnectionStore
	matcher *matcherFixture
	clock   *testClock
	svc     driving.SyncService
}

func newSyncFixture() *syncFixture {
	f := &syncFixture{
		client: &mocks.MockPOSClient{
			Account:    &domain.Account{AccountID: "42", Name: "Bike Shop"},
			Items:      []domain.Item{{ItemID: "1", Description: "Trek Marlin 7", UPC: "012345678905", CategoryID: "7"}},
			Categories: []domain.Category{{CategoryID: "7", Name: "Bikes"}},
			Customers:  []domain.Customer{{CustomerID: "c1"}, {CustomerID: "c2"}},
			Shops:      []domain.Shop{{ShopID: "1", Name: "Main"}},
			Sales:      []domain.Sale{{SaleID: "s1", Completed: "true"}},
		},
		store:   mocks.NewMockConnectionStore(),
		matcher: newMatcherFixture(),
		clock:   newTestClock(),
	}
	f.svc = NewSyncService(SyncServiceConfig{
		Clients: &mocks.MockPOSClientFactory{Client: f.client},
		Store:   f.store,
		Matcher: f.matcher.matcher,
		Now:     f.clock.Now,
	})
	return f
}

func countFor(report *domain.SyncReport, r domain.SyncResource) *domain.ResourceResult {
	for _, res := range report.Resources {
		if res.Resource == r {
			return res
		}
	}
	return nil
}

func TestSyncService_PerformSync(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()

	report, err := f.svc.PerformSync(ctx, "user-1", domain.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, "42", report.AccountID)
	assert.Equal(t, 6, report.Succeeded())
	assert.Equal(t, 1, countFor(report, domain.SyncResourceItems).Count)
	assert.Equal(t, 2, countFor(report, domain.SyncResourceCustomers).Count)
	assert.Equal(t, 1, countFor(report, domain.SyncResourceSales).Count)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, -30), f.client.SalesSince)
	assert.Zero(t, report.Enqueued)

	conn, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, conn.LastSyncAt)
	assert.Equal(t, f.clock.Now(), *conn.LastSyncAt)
	assert.Equal(t, "42", conn.AccountID)
	assert.Equal(t, "Bike Shop", conn.AccountName)
}

func TestSyncService_SalesWindow(t *testing.T) {
	f := newSyncFixture()

	_, err := f.svc.PerformSync(context.Background(), "user-1", domain.SyncOptions{SalesWindowDays: 7})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, -7), f.client.SalesSince)
}

func TestSyncService_FamiliesAreIndependent(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	f.client.Errors = map[domain.SyncResource]error{
		domain.SyncResourceItems:     domain.ErrServerError,
		domain.SyncResourceCustomers: domain.ErrRequestFailed,
	}

	report, err := f.svc.PerformSync(ctx, "user-1", domain.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Succeeded())
	failed := report.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, domain.SyncResourceItems, failed[0].Resource)
	assert.Equal(t, domain.SyncResourceCustomers, failed[1].Resource)
	assert.Contains(t, f.client.Calls, domain.SyncResourceSales, "later families still run")

	conn, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.NotNil(t, conn.LastSyncAt)
}

func TestSyncService_UnauthenticatedAborts(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	f.client.Errors = map[domain.SyncResource]error{
		domain.SyncResourceAccount: domain.ErrUnauthenticated,
	}

	report, err := f.svc.PerformSync(ctx, "user-1", domain.SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	require.NotNil(t, report)
	assert.Len(t, report.Resources, 1)
	assert.Equal(t, []domain.SyncResource{domain.SyncResourceAccount}, f.client.Calls)

	_, err = f.store.Get(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "a failed sync must not stamp last_sync_at")
}

func TestSyncService_AllFamiliesFail(t *testing.T) {
	f := newSyncFixture()
	f.client.Errors = map[domain.SyncResource]error{}
	for _, r := range []domain.SyncResource{
		domain.SyncResourceAccount, domain.SyncResourceItems, domain.SyncResourceCategories,
		domain.SyncResourceCustomers, domain.SyncResourceShops, domain.SyncResourceSales,
	} {
		f.client.Errors[r] = domain.ErrServerError
	}

	report, err := f.svc.PerformSync(context.Background(), "user-1", domain.SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrServerError)
	assert.Len(t, report.Failed(), 6)
}

func TestSyncService_EnqueueItems(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	f.client.Items = append(f.client.Items,
		domain.Item{ItemID: "2", Description: "Old Stock", Archived: "true"},
		domain.Item{ItemID: "3", Description: "Helmet", EAN: "4006381333931"},
	)

	report, err := f.svc.PerformSync(ctx, "user-1", domain.SyncOptions{EnqueueItems: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Enqueued)

	pending, err := f.matcher.queue.ListByStatus(ctx, domain.MatchStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	byProduct := map[string]*domain.MatchQueueItem{}
	for _, item := range pending {
		byProduct[item.ProductID] = item
	}
	assert.Equal(t, "Bikes", byProduct["1"].Category)
	assert.Equal(t, "012345678905", byProduct["1"].UPC)
	assert.Equal(t, "4006381333931", byProduct["3"].UPC)
}

func TestSyncService_EnqueueItems_RepeatedSyncKeepsQueue(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	opts := domain.SyncOptions{EnqueueItems: true}

	_, err := f.svc.PerformSync(ctx, "user-1", opts)
	require.NoError(t, err)
	pending, err := f.matcher.queue.ListByStatus(ctx, domain.MatchStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	held := pending[0]
	held.Status = domain.MatchStatusManualReview
	held.SuggestedCanonicalID = "cp-1"
	require.NoError(t, f.matcher.queue.Update(ctx, held))

	_, err = f.svc.PerformSync(ctx, "user-1", opts)
	require.NoError(t, err)

	stored, err := f.matcher.queue.Get(ctx, held.ID)
	require.NoError(t, err, "a reviewer's item id survives the next sync")
	assert.Equal(t, domain.MatchStatusManualReview, stored.Status)
	assert.Equal(t, "cp-1", stored.SuggestedCanonicalID)

	pending, err = f.matcher.queue.ListByStatus(ctx, domain.MatchStatusPending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
