package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

var (
	_ driven.POSClient        = (*MockPOSClient)(nil)
	_ driven.POSClientFactory = (*MockPOSClientFactory)(nil)
)

// MockPOSClient serves canned resources. A non-nil entry in Errors makes
// the matching resource family fail.
type MockPOSClient struct {
	mu sync.Mutex

	Account    *domain.Account
	Items      []domain.Item
	Categories []domain.Category
	Customers  []domain.Customer
	Shops      []domain.Shop
	Registers  []domain.Register
	Employees  []domain.Employee
	Inventory  map[string][]domain.ItemShop
	Sales      []domain.Sale

	Errors map[domain.SyncResource]error

	Calls      []domain.SyncResource
	SalesSince time.Time
}

func (m *MockPOSClient) record(r domain.SyncResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, r)
	return m.Errors[r]
}

func (m *MockPOSClient) GetAccount(ctx context.Context) (*domain.Account, error) {
	if err := m.record(domain.SyncResourceAccount); err != nil {
		return nil, err
	}
	return m.Account, nil
}

func (m *MockPOSClient) GetAllItems(ctx context.Context) ([]domain.Item, error) {
	if err := m.record(domain.SyncResourceItems); err != nil {
		return nil, err
	}
	return m.Items, nil
}

func (m *MockPOSClient) GetCategories(ctx context.Context) ([]domain.Category, error) {
	if err := m.record(domain.SyncResourceCategories); err != nil {
		return nil, err
	}
	return m.Categories, nil
}

func (m *MockPOSClient) GetCustomers(ctx context.Context) ([]domain.Customer, error) {
	if err := m.record(domain.SyncResourceCustomers); err != nil {
		return nil, err
	}
	return m.Customers, nil
}

func (m *MockPOSClient) GetShops(ctx context.Context) ([]domain.Shop, error) {
	if err := m.record(domain.SyncResourceShops); err != nil {
		return nil, err
	}
	return m.Shops, nil
}

func (m *MockPOSClient) GetRegisters(ctx context.Context) ([]domain.Register, error) {
	return m.Registers, nil
}

func (m *MockPOSClient) GetEmployees(ctx context.Context) ([]domain.Employee, error) {
	return m.Employees, nil
}

func (m *MockPOSClient) GetInventory(ctx context.Context, shopID string) ([]domain.ItemShop, error) {
	return m.Inventory[shopID], nil
}

func (m *MockPOSClient) GetCompletedSales(ctx context.Context, since time.Time) ([]domain.Sale, error) {
	m.mu.Lock()
	m.SalesSince = since
	m.mu.Unlock()
	if err := m.record(domain.SyncResourceSales); err != nil {
		return nil, err
	}
	return m.Sales, nil
}

// MockPOSClientFactory returns the same client for every user.
type MockPOSClientFactory struct {
	Client *MockPOSClient
	Users  []string
}

func (f *MockPOSClientFactory) ForUser(userID string) driven.POSClient {
	f.Users = append(f.Users, userID)
	return f.Client
}
