package http

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

var (
	errNoProduct   = errors.New("找不到產品")
	errNoCartLine  = errors.New("找不到購物車項目")
	errNoOrder     = errors.New("找不到訂單")
	errEmptyCart   = errors.New("購物車沒有資料")
	errQtyRange    = errors.New("數量超出庫存範圍")
	errAlreadyPaid = errors.New("訂單已付款")
)

// Shop is the dev server's in-memory catalog, cart and order book. It keeps
// a single shared cart, like the hosted API does per api path.
type Shop struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	cart     []domain.CartLine
	orders   []domain.Order
	uploads  map[string]upload
	now      func() time.Time
}

type upload struct {
	contentType string
	data        []byte
}

func NewShop(seed ...domain.Product) *Shop {
	s := &Shop{
		products: make(map[string]domain.Product),
		uploads:  make(map[string]upload),
		now:      time.Now,
	}
	for _, p := range seed {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		s.products[p.ID] = p
	}
	return s
}

// EnabledProducts is the public catalog keyed by id.
func (s *Shop) EnabledProducts() map[string]domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Product)
	for id, p := range s.products {
		if p.IsEnabled == 1 {
			out[id] = p
		}
	}
	return out
}

func (s *Shop) Product(id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, errNoProduct
	}
	return p, nil
}

// AllProducts lists every product, enabled or not, sorted by title.
func (s *Shop) AllProducts() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title == out[j].Title {
			return out[i].ID < out[j].ID
		}
		return out[i].Title < out[j].Title
	})
	return out
}

func (s *Shop) SaveProduct(p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.products[p.ID] = p
	return p
}

func (s *Shop) DeleteProduct(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return errNoProduct
	}
	delete(s.products, id)
	return nil
}

func (s *Shop) Cart() domain.CartSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Shop) snapshotLocked() domain.CartSnapshot {
	snap := domain.CartSnapshot{
		Lines:      make([]domain.CartLine, len(s.cart)),
		Total:      decimal.Zero,
		FinalTotal: decimal.Zero,
	}
	copy(snap.Lines, s.cart)
	for _, l := range s.cart {
		snap.Total = snap.Total.Add(l.Total)
		snap.FinalTotal = snap.FinalTotal.Add(l.FinalTotal)
	}
	return snap
}

func priced(l domain.CartLine) domain.CartLine {
	l.Total = l.Product.Price.Mul(decimal.NewFromInt(int64(l.Qty)))
	l.FinalTotal = l.Total
	return l
}

// AddToCart merges into an existing line for the same product.
func (s *Shop) AddToCart(productID string, qty int) (domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok || p.IsEnabled != 1 {
		return domain.CartLine{}, errNoProduct
	}
	for i, l := range s.cart {
		if l.ProductID == productID {
			if err := checkQty(p, l.Qty+qty); err != nil {
				return domain.CartLine{}, err
			}
			l.Qty += qty
			s.cart[i] = priced(l)
			return s.cart[i], nil
		}
	}
	if err := checkQty(p, qty); err != nil {
		return domain.CartLine{}, err
	}
	line := priced(domain.CartLine{ID: uuid.NewString(), ProductID: productID, Product: p, Qty: qty})
	s.cart = append(s.cart, line)
	return line, nil
}

func (s *Shop) UpdateCartLine(lineID string, qty int) (domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.cart {
		if l.ID != lineID {
			continue
		}
		if err := checkQty(l.Product, qty); err != nil {
			return domain.CartLine{}, err
		}
		l.Qty = qty
		s.cart[i] = priced(l)
		return s.cart[i], nil
	}
	return domain.CartLine{}, errNoCartLine
}

func checkQty(p domain.Product, qty int) error {
	limit := domain.DefaultMaxQty
	if p.Num > 0 {
		limit = p.Num
	}
	if qty < 1 || qty > limit {
		return errQtyRange
	}
	return nil
}

func (s *Shop) RemoveCartLine(lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.cart {
		if l.ID == lineID {
			s.cart = append(s.cart[:i], s.cart[i+1:]...)
			return nil
		}
	}
	return errNoCartLine
}

func (s *Shop) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = nil
}

// PlaceOrder turns the cart into an order and empties the cart.
func (s *Shop) PlaceOrder(customer domain.Customer, message string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cart) == 0 {
		return domain.Order{}, errEmptyCart
	}
	snap := s.snapshotLocked()
	order := domain.Order{
		ID:       uuid.NewString(),
		Lines:    make(map[string]domain.CartLine, len(snap.Lines)),
		Customer: customer,
		Message:  message,
		Total:    snap.FinalTotal,
		CreateAt: s.now().Unix(),
	}
	for _, l := range snap.Lines {
		order.Lines[l.ID] = l
	}
	s.orders = append(s.orders, order)
	s.cart = nil
	return order, nil
}

func (s *Shop) Order(id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return domain.Order{}, errNoOrder
}

// Orders lists orders newest first.
func (s *Shop) Orders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Order, len(s.orders))
	for i, o := range s.orders {
		out[len(s.orders)-1-i] = o
	}
	return out
}

func (s *Shop) Pay(id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.orders {
		if o.ID != id {
			continue
		}
		if o.IsPaid {
			return o, errAlreadyPaid
		}
		o.IsPaid = true
		o.PaidDate = s.now().Unix()
		s.orders[i] = o
		return o, nil
	}
	return domain.Order{}, errNoOrder
}

func (s *Shop) StoreUpload(name, contentType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[name] = upload{contentType: contentType, data: data}
}

func (s *Shop) Upload(name string) (upload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[name]
	return u, ok
}

// paginate slices items for page and reports the page metadata.
func paginate[T any](items []T, page, size int) ([]T, domain.Pagination) {
	if size < 1 {
		size = 10
	}
	totalPages := (len(items) + size - 1) / size
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * size
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], domain.Pagination{
		TotalPages:  totalPages,
		CurrentPage: page,
		HasPrev:     page > 1,
		HasNext:     page < totalPages,
	}
}

// SeedProducts is the catalog the dev server starts with.
func SeedProducts() []domain.Product {
	mk := func(title, category, sub string, origin, price int64, num int) domain.Product {
		return domain.Product{
			Title:       title,
			Category:    category,
			Subcategory: sub,
			Unit:        "個",
			OriginPrice: decimal.NewFromInt(origin),
			Price:       decimal.NewFromInt(price),
			Num:         num,
			IsEnabled:   1,
			Description: title,
			Content:     title,
			ImageURL:    "https://images.example.com/" + sub + ".jpg",
		}
	}
	return []domain.Product{
		mk("抹茶生乳捲", "蛋糕", "roll", 520, 480, 10),
		mk("經典提拉米蘇", "蛋糕", "tiramisu", 450, 399, 5),
		mk("草莓塔", "塔派", "tart", 180, 160, 8),
		mk("檸檬塔", "塔派", "tart", 170, 150, 8),
		mk("焦糖布丁", "甜點", "pudding", 90, 80, 20),
		mk("手工餅乾禮盒", "禮盒", "cookie", 680, 600, 3),
	}
}
