package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionUnknown         SessionStatus = "unknown"
	SessionAuthenticated   SessionStatus = "authenticated"
	SessionUnauthenticated SessionStatus = "unauthenticated"
)

type Product struct {
	ID          string          `json:"id,omitempty"`
	Title       string          `json:"title"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory,omitempty"`
	Unit        string          `json:"unit"`
	OriginPrice decimal.Decimal `json:"origin_price"`
	Price       decimal.Decimal `json:"price"`
	Num         int             `json:"num"`
	IsEnabled   int             `json:"is_enabled"`
	Description string          `json:"description"`
	Content     string          `json:"content"`
	ImageURL    string          `json:"imageUrl"`
	ImagesURL   []string        `json:"imagesUrl,omitempty"`
	Label       []string        `json:"label,omitempty"`
	Flavor      []string        `json:"flavor,omitempty"`
}

// CartLine is one row of the shopper's cart as the server reports it.
type CartLine struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	Product    Product         `json:"product"`
	Qty        int             `json:"qty"`
	Total      decimal.Decimal `json:"total"`
	FinalTotal decimal.Decimal `json:"final_total"`
}

// MaxQty is the upper bound for a line's quantity. The product's stock
// wins when the server reports one.
func (l CartLine) MaxQty() int {
	if l.Product.Num > 0 {
		return l.Product.Num
	}
	return DefaultMaxQty
}

const DefaultMaxQty = 99

type CartSnapshot struct {
	Lines      []CartLine      `json:"carts"`
	Total      decimal.Decimal `json:"total"`
	FinalTotal decimal.Decimal `json:"final_total"`
}

type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Tel     string `json:"tel"`
	Address string `json:"address"`
}

type Order struct {
	ID       string              `json:"id"`
	Lines    map[string]CartLine `json:"products"`
	Customer Customer            `json:"user"`
	Message  string              `json:"message,omitempty"`
	Total    decimal.Decimal     `json:"total"`
	IsPaid   bool                `json:"is_paid"`
	PaidDate int64               `json:"paid_date,omitempty"`
	CreateAt int64               `json:"create_at"`
}

func (o Order) PaidAt() (time.Time, bool) {
	if !o.IsPaid || o.PaidDate == 0 {
		return time.Time{}, false
	}
	return time.Unix(o.PaidDate, 0).UTC(), true
}

type Pagination struct {
	TotalPages  int    `json:"total_pages"`
	CurrentPage int    `json:"current_page"`
	HasPrev     bool   `json:"has_pre"`
	HasNext     bool   `json:"has_next"`
	Category    string `json:"category"`
}

// SinglePage is what the admin list falls back to when the server omits
// pagination metadata.
func SinglePage() Pagination {
	return Pagination{TotalPages: 1, CurrentPage: 1}
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func init() {
	// The storefront API exchanges money as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}
