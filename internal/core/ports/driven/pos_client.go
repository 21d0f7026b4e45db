package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

// POSClient is a per-user view of the POS REST API.
// Every call passes through the token provider and the rate limiter.
type POSClient interface {
	GetAccount(ctx context.Context) (*domain.Account, error)
	GetAllItems(ctx context.Context) ([]domain.Item, error)
	GetCategories(ctx context.Context) ([]domain.Category, error)
	GetCustomers(ctx context.Context) ([]domain.Customer, error)
	GetShops(ctx context.Context) ([]domain.Shop, error)
	GetRegisters(ctx context.Context) ([]domain.Register, error)
	GetEmployees(ctx context.Context) ([]domain.Employee, error)
	GetInventory(ctx context.Context, shopID string) ([]domain.ItemShop, error)

	// GetCompletedSales returns completed sales since the given instant.
	GetCompletedSales(ctx context.Context, since time.Time) ([]domain.Sale, error)
}

// POSClientFactory builds clients bound to one user.
type POSClientFactory interface {
	ForUser(userID string) POSClient
}
