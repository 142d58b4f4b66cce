// Package catalog serves the storefront product listing and the admin
// product dashboard.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"storefront/internal/coordinator"
	"storefront/internal/domain"
	"storefront/internal/notify"
	"storefront/internal/pagination"
)

// AllCategories selects every product in ByCategory.
const AllCategories = "all"

type API interface {
	Products(ctx context.Context) ([]domain.Product, error)
	Product(ctx context.Context, id string) (domain.Product, error)
	AdminProducts(ctx context.Context, page int) ([]domain.Product, *domain.Pagination, error)
	CreateProduct(ctx context.Context, p domain.Product) error
	UpdateProduct(ctx context.Context, p domain.Product) error
	DeleteProduct(ctx context.Context, id string) error
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

type Catalog struct {
	api      API
	notifier notify.Notifier
	logger   *slog.Logger
	reads    singleflight.Group
}

func New(client API, notifier notify.Notifier, logger *slog.Logger) *Catalog {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{api: client, notifier: notifier, logger: logger.With("component", "catalog")}
}

// Products lists the public catalog sorted by title. Concurrent callers
// share one request.
func (c *Catalog) Products(ctx context.Context) ([]domain.Product, error) {
	shared, err := coordinator.Shared(ctx, &c.reads, "products", func(ctx context.Context) ([]domain.Product, error) {
		products, err := c.api.Products(ctx)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(products, func(i, j int) bool { return products[i].Title < products[j].Title })
		return products, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	out := make([]domain.Product, len(shared))
	copy(out, shared)
	return out, nil
}

func (c *Catalog) Product(ctx context.Context, id string) (domain.Product, error) {
	p, err := coordinator.Shared(ctx, &c.reads, "product:"+id, func(ctx context.Context) (domain.Product, error) {
		return c.api.Product(ctx, id)
	})
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, err)
	}
	return p, nil
}

// ByCategory filters products. An empty category or AllCategories keeps
// everything.
func ByCategory(products []domain.Product, category string) []domain.Product {
	if category == "" || category == AllCategories {
		return products
	}
	var out []domain.Product
	for _, p := range products {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Categories lists the distinct categories in products, sorted.
func Categories(products []domain.Product) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}

// Page is one page of the admin product list.
type Page struct {
	Products []domain.Product
	Meta     domain.Pagination
	Window   pagination.Window
}

func (c *Catalog) List(ctx context.Context, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	products, meta, err := c.api.AdminProducts(ctx, page)
	if err != nil {
		return Page{}, fmt.Errorf("admin products page %d: %w", page, err)
	}
	m := domain.SinglePage()
	if meta != nil {
		m = *meta
	}
	current := m.CurrentPage
	if current < 1 {
		current = page
	}
	return Page{Products: products, Meta: m, Window: pagination.Compute(current, m)}, nil
}

// Save validates and normalizes p, then updates it when it has an id or
// creates it otherwise.
func (c *Catalog) Save(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := Validate(p); err != nil {
		return domain.Product{}, err
	}
	p = Normalize(p)

	var err error
	verb := "created"
	if p.ID != "" {
		verb = "updated"
		err = c.api.UpdateProduct(ctx, p)
	} else {
		err = c.api.CreateProduct(ctx, p)
	}
	if err != nil {
		c.notifyFailure(ctx, "could not save product", err)
		return domain.Product{}, fmt.Errorf("save product %q: %w", p.Title, err)
	}
	c.logger.Info("product saved", "product_id", p.ID, "title", p.Title, "action", verb)
	c.notify(ctx, notify.LevelSuccess, "product "+verb)
	return p, nil
}

func (c *Catalog) Delete(ctx context.Context, id string) error {
	if err := c.api.DeleteProduct(ctx, id); err != nil {
		c.notifyFailure(ctx, "could not delete product", err)
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	c.logger.Info("product deleted", "product_id", id)
	c.notify(ctx, notify.LevelSuccess, "product deleted")
	return nil
}

// Upload hosts an image and returns its URL.
func (c *Catalog) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	url, err := c.api.Upload(ctx, filename, r)
	if err != nil {
		c.notifyFailure(ctx, "upload failed", err)
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	c.notify(ctx, notify.LevelSuccess, "image uploaded")
	return url, nil
}

func (c *Catalog) notify(ctx context.Context, level notify.Level, msg string) {
	if err := c.notifier.Notify(ctx, level, msg); err != nil {
		c.logger.Warn("notify failed", "error", err)
	}
}

func (c *Catalog) notifyFailure(ctx context.Context, what string, err error) {
	if errors.Is(err, coordinator.ErrUnauthorized) {
		return
	}
	c.notify(ctx, notify.LevelError, what+": "+coordinator.MessageOf(err))
}

// trimAll drops blank entries.
func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
