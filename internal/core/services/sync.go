package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/core/ports/driving"
	"github.com/custodia-labs/posbridge/internal/metrics"
)

// Ensure syncService implements SyncService
var _ driving.SyncService = (*syncService)(nil)

// SyncServiceConfig holds dependencies for the sync service.
type SyncServiceConfig struct {
	Clients driven.POSClientFactory
	Store   driven.ConnectionStore

	// Matcher receives fetched items when SyncOptions.EnqueueItems is set
	Matcher driving.ProductMatcher
	Logger  *slog.Logger
	Now     func() time.Time
}

type syncService struct {
	clients driven.POSClientFactory
	store   driven.ConnectionStore
	matcher driving.ProductMatcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewSyncService creates a new sync service.
func NewSyncService(cfg SyncServiceConfig) driving.SyncService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &syncService{
		clients: cfg.Clients,
		store:   cfg.Store,
		matcher: cfg.Matcher,
		logger:  logger,
		now:     now,
	}
}

// syncRun carries what one family fetched to the ones after it.
type syncRun struct {
	client     driven.POSClient
	opts       domain.SyncOptions
	startedAt  time.Time
	account    *domain.Account
	items      []domain.Item
	categories map[string]string
}

type syncStep struct {
	resource domain.SyncResource
	fetch    func(ctx context.Context, run *syncRun, report *domain.SyncReport) (int, error)
}

// syncSteps run in order; enqueueing afterwards uses the category names.
var syncSteps = []syncStep{
	{domain.SyncResourceAccount, func(ctx context.Context, run *syncRun, report *domain.SyncReport) (int, error) {
		account, err := run.client.GetAccount(ctx)
		if err != nil {
			return 0, err
		}
		if account == nil {
			return 0, domain.ErrNotFound
		}
		run.account = account
		report.AccountID = account.AccountID
		return 1, nil
	}},
	{domain.SyncResourceItems, func(ctx context.Context, run *syncRun, _ *domain.SyncReport) (int, error) {
		items, err := run.client.GetAllItems(ctx)
		run.items = items
		return len(items), err
	}},
	{domain.SyncResourceCategories, func(ctx context.Context, run *syncRun, _ *domain.SyncReport) (int, error) {
		categories, err := run.client.GetCategories(ctx)
		for _, c := range categories {
			run.categories[c.CategoryID] = c.Name
		}
		return len(categories), err
	}},
	{domain.SyncResourceCustomers, func(ctx context.Context, run *syncRun, _ *domain.SyncReport) (int, error) {
		customers, err := run.client.GetCustomers(ctx)
		return len(customers), err
	}},
	{domain.SyncResourceShops, func(ctx context.Context, run *syncRun, _ *domain.SyncReport) (int, error) {
		shops, err := run.client.GetShops(ctx)
		return len(shops), err
	}},
	{domain.SyncResourceSales, func(ctx context.Context, run *syncRun, _ *domain.SyncReport) (int, error) {
		since := run.startedAt.AddDate(0, 0, -run.opts.WindowDays())
		sales, err := run.client.GetCompletedSales(ctx, since)
		return len(sales), err
	}},
}

// PerformSync fetches each resource family independently.
func (s *syncService) PerformSync(ctx context.Context, userID string, opts domain.SyncOptions) (*domain.SyncReport, error) {
	log := s.logger.With("user_id", userID)
	run := &syncRun{
		client:     s.clients.ForUser(userID),
		opts:       opts,
		startedAt:  s.now(),
		categories: make(map[string]string),
	}
	report := &domain.SyncReport{UserID: userID, StartedAt: run.startedAt}

	log.Info("starting pos sync", "sales_window_days", opts.WindowDays())

	var firstErr error
	for _, step := range syncSteps {
		count, err := step.fetch(ctx, run, report)
		report.Record(step.resource, count, err)
		metrics.SyncResourcesTotal.WithLabelValues(string(step.resource), metrics.Outcome(err)).Inc()

		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		log.Warn("sync resource failed", "resource", step.resource, "error", err)

		// No family can succeed without a token, and a cancelled context
		// fails the rest anyway
		if errors.Is(err, domain.ErrUnauthenticated) || ctx.Err() != nil {
			report.FinishedAt = s.now()
			return report, err
		}
	}

	if opts.EnqueueItems && s.matcher != nil {
		report.Enqueued = s.enqueueItems(ctx, run, log)
	}

	if report.Succeeded() > 0 {
		syncedAt := s.now()
		update := &domain.ConnectionUpdate{LastSyncAt: &syncedAt}
		if run.account != nil {
			update.AccountID = &run.account.AccountID
			update.AccountName = &run.account.Name
		}
		if _, err := s.store.Upsert(ctx, userID, update); err != nil {
			log.Warn("failed to stamp last sync", "error", err)
		}
	}
	report.FinishedAt = s.now()

	log.Info("pos sync finished",
		"succeeded", report.Succeeded(),
		"failed", len(report.Failed()),
		"enqueued", report.Enqueued,
		"duration_seconds", report.FinishedAt.Sub(report.StartedAt).Seconds(),
	)

	if report.Succeeded() == 0 && firstErr != nil {
		return report, fmt.Errorf("sync failed for every resource: %w", firstErr)
	}
	return report, nil
}

func (s *syncService) enqueueItems(ctx context.Context, run *syncRun, log *slog.Logger) int {
	enqueued := 0
	for _, item := range run.items {
		if strings.EqualFold(item.Archived, "true") || strings.TrimSpace(item.Description) == "" {
			continue
		}
		upc := item.UPC
		if upc == "" {
			upc = item.EAN
		}
		_, err := s.matcher.Enqueue(ctx, domain.ProductInput{
			ProductID: item.ItemID,
			UPC:       upc,
			Name:      item.Description,
			Category:  run.categories[item.CategoryID],
		})
		if err != nil {
			log.Warn("failed to enqueue item", "item_id", item.ItemID, "error", err)
			continue
		}
		enqueued++
	}
	return enqueued
}
