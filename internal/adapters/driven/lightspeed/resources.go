package lightspeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

// PageSize is the page length used when paging through a collection
const PageSize = 100

// Ensure Client implements POSClient
var _ driven.POSClient = (*Client)(nil)

// listing is a collection response: {"@attributes": {...}, "<Resource>": one-or-many}
type listing map[string]json.RawMessage

// decodeList pulls the resource key out of a collection response.
func decodeList[T any](resp listing, resource string) ([]T, error) {
	raw, ok := resp[resource]
	if !ok {
		return nil, nil
	}
	var items OneOrMany[T]
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", resource, err)
	}
	return items, nil
}

// list fetches one page of an account scoped collection.
func list[T any](ctx context.Context, c *Client, resource string, query url.Values) ([]T, error) {
	accountID, err := c.resolveAccountID(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("/Account/%s/%s.json", url.PathEscape(accountID), resource)
	resp, err := request[listing](ctx, c, http.MethodGet, endpoint, query)
	if err != nil {
		return nil, err
	}
	return decodeList[T](resp, resource)
}

// listAll pages with offset until a short page comes back.
func listAll[T any](ctx context.Context, c *Client, resource string, query url.Values) ([]T, error) {
	var all []T
	for offset := 0; ; offset += PageSize {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(PageSize))
		q.Set("offset", strconv.Itoa(offset))

		page, err := list[T](ctx, c, resource, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < PageSize {
			return all, nil
		}
	}
}

// resolveAccountID returns the cached account id, fetching it on first use.
func (c *Client) resolveAccountID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.accountID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	account, err := c.fetchAccount(ctx)
	if err != nil {
		return "", err
	}
	return account.AccountID, nil
}

func (c *Client) fetchAccount(ctx context.Context) (*domain.Account, error) {
	resp, err := request[listing](ctx, c, http.MethodGet, "/Account.json", nil)
	if err != nil {
		return nil, err
	}
	accounts, err := decodeList[domain.Account](resp, "Account")
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 || accounts[0].AccountID == "" {
		return nil, fmt.Errorf("account: %w", domain.ErrNotFound)
	}

	c.mu.Lock()
	c.accountID = accounts[0].AccountID
	c.mu.Unlock()
	return &accounts[0], nil
}

// GetAccount returns the remote account and caches its id.
func (c *Client) GetAccount(ctx context.Context) (*domain.Account, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	return c.fetchAccount(ctx)
}

// GetItems returns one page of items.
func (c *Client) GetItems(ctx context.Context, offset, limit int) ([]domain.Item, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	if limit <= 0 || limit > PageSize {
		limit = PageSize
	}
	return list[domain.Item](ctx, c, "Item", url.Values{
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	})
}

// GetAllItems pages through every item.
func (c *Client) GetAllItems(ctx context.Context) ([]domain.Item, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	return listAll[domain.Item](ctx, c, "Item", nil)
}

// GetCategories returns item categories.
func (c *Client) GetCategories(ctx context.Context) ([]domain.Category, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	return list[domain.Category](ctx, c, "Category", nil)
}

// GetSales returns one page of sales, optionally filtered by completion and time.
func (c *Client) GetSales(ctx context.Context, completedOnly bool, since time.Time) ([]domain.Sale, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	return list[domain.Sale](ctx, c, "Sale", salesQuery(completedOnly, since))
}

// GetCompletedSales pages through completed sales since the given instant.
func (c *Client) GetCompletedSales(ctx context.Context, since time.Time) ([]domain.Sale, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	return listAll[domain.Sale](ctx, c, "Sale", salesQuery(true, since))
}

func salesQuery(completedOnly bool, since time.Time) url.Values {
	q := url.Values{}
	if completedOnly {
		q.Set("completed", "true")
	}
	if !since.IsZero() {
		q.Set("timeStamp", ">,"+since.UTC().Format(time.RFC3339))
	}
	return q
}

// GetCustomers returns customers.
func (c *Client) GetCustomers(ctx context.Context) ([]domain.Customer, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	return list[domain.Customer](ctx, c, "Customer", nil)
}

// GetInventory returns item stock levels for one shop.
func (c *Client) GetInventory(ctx context.Context, shopID string) ([]domain.ItemShop, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	return list[domain.ItemShop](ctx, c, "ItemShop", url.Values{"shopID": {shopID}})
}

// GetShops returns shops.
func (c *Client) GetShops(ctx context.Context) ([]domain.Shop, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	return list[domain.Shop](ctx, c, "Shop", nil)
}

// GetRegisters returns registers.
func (c *Client) GetRegisters(ctx context.Context) ([]domain.Register, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	return list[domain.Register](ctx, c, "Register", nil)
}

// GetEmployees returns employees.
func (c *Client) GetEmployees(ctx context.Context) ([]domain.Employee, error) {
	ctx, cancel := c.operation(ctx)
	defer cancel()
	return list[domain.Employee](ctx, c, "Employee", nil)
}
