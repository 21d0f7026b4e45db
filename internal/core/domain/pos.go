package domain

// POS resource records as the provider returns them. The provider encodes
// ids, amounts and flags as strings; they are kept verbatim.

// Account is the remote POS account
type Account struct {
	AccountID string `json:"accountID"`
	Name      string `json:"name"`
}

// Item is a POS catalog item
type Item struct {
	ItemID          string `json:"itemID"`
	SystemSKU       string `json:"systemSku,omitempty"`
	CustomSKU       string `json:"customSku,omitempty"`
	ManufacturerSKU string `json:"manufacturerSku,omitempty"`
	Description     string `json:"description"`
	UPC             string `json:"upc,omitempty"`
	EAN             string `json:"ean,omitempty"`
	CategoryID      string `json:"categoryID,omitempty"`
	ManufacturerID  string `json:"manufacturerID,omitempty"`
	DefaultCost     string `json:"defaultCost,omitempty"`
	Archived        string `json:"archived,omitempty"`
	TimeStamp       string `json:"timeStamp,omitempty"`
}

// Category is a POS item category
type Category struct {
	CategoryID   string `json:"categoryID"`
	Name         string `json:"name"`
	FullPathName string `json:"fullPathName,omitempty"`
	ParentID     string `json:"parentID,omitempty"`
}

// Sale is a POS sale
type Sale struct {
	SaleID     string `json:"saleID"`
	TimeStamp  string `json:"timeStamp,omitempty"`
	Completed  string `json:"completed,omitempty"`
	Total      string `json:"total,omitempty"`
	CustomerID string `json:"customerID,omitempty"`
	EmployeeID string `json:"employeeID,omitempty"`
	RegisterID string `json:"registerID,omitempty"`
	ShopID     string `json:"shopID,omitempty"`
}

// Customer is a POS customer
type Customer struct {
	CustomerID string `json:"customerID"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Company    string `json:"company,omitempty"`
}

// ItemShop is the inventory level of an item in one shop
type ItemShop struct {
	ItemShopID   string `json:"itemShopID"`
	ItemID       string `json:"itemID"`
	ShopID       string `json:"shopID"`
	QOH          string `json:"qoh"`
	Backorder    string `json:"backorder,omitempty"`
	ReorderPoint string `json:"reorderPoint,omitempty"`
}

// Shop is a physical POS location
type Shop struct {
	ShopID   string `json:"shopID"`
	Name     string `json:"name"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Register is a POS register
type Register struct {
	RegisterID string `json:"registerID"`
	Name       string `json:"name"`
	ShopID     string `json:"shopID,omitempty"`
}

// Employee is a POS employee
type Employee struct {
	EmployeeID string `json:"employeeID"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
}
