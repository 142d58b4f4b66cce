// Package api is the typed client for the storefront REST contract. Every
// call goes through the request coordinator.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"storefront/internal/coordinator"
	"storefront/internal/domain"
)

// Doer is the slice of the coordinator the client needs.
type Doer interface {
	Do(ctx context.Context, req coordinator.Request, out any) error
}

// UploadField is the multipart field name the upload endpoint reads.
const UploadField = "file-to-upload"

type Client struct {
	doer    Doer
	baseURL string
	apiPath string
}

func New(doer Doer, baseURL, apiPath string) *Client {
	return &Client{
		doer:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiPath: strings.Trim(apiPath, "/"),
	}
}

func (c *Client) scoped(path string) string {
	return c.baseURL + "/api/" + c.apiPath + path
}

func (c *Client) root(path string) string {
	return c.baseURL + path
}

type payload struct {
	Data any `json:"data"`
}

type cartItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// ProductList accepts the API's products field as either an id-keyed object
// or an array.
type ProductList []domain.Product

func (l *ProductList) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*l = nil
		return nil
	}
	if raw[0] == '[' {
		var list []domain.Product
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var byID map[string]domain.Product
	if err := json.Unmarshal(raw, &byID); err != nil {
		return err
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	list := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		p := byID[id]
		if p.ID == "" {
			p.ID = id
		}
		list = append(list, p)
	}
	*l = list
	return nil
}

// Products lists the whole public catalog.
func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	var out struct {
		Products ProductList `json:"products"`
	}
	if err := c.doer.Do(ctx, coordinator.Request{Method: http.MethodGet, URL: c.scoped("/products/all")}, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

func (c *Client) Product(ctx context.Context, id string) (domain.Product, error) {
	var out struct {
		Product domain.Product `json:"product"`
	}
	err := c.doer.Do(ctx, coordinator.Request{Method: http.MethodGet, URL: c.scoped("/product/" + url.PathEscape(id))}, &out)
	return out.Product, err
}

// AdminProducts returns one page of the admin catalog. A nil pagination
// means the server sent none.
func (c *Client) AdminProducts(ctx context.Context, page int) ([]domain.Product, *domain.Pagination, error) {
	var out struct {
		Products   ProductList        `json:"products"`
		Pagination *domain.Pagination `json:"pagination"`
	}
	u := c.scoped("/admin/products?page=" + strconv.Itoa(page))
	if err := c.doer.Do(ctx, coordinator.Request{Method: http.MethodGet, URL: u}, &out); err != nil {
		return nil, nil, err
	}
	return out.Products, out.Pagination, nil
}

func (c *Client) CreateProduct(ctx context.Context, p domain.Product) error {
	return c.doer.Do(ctx, coordinator.Request{
		Method: http.MethodPost,
		URL:    c.scoped("/admin/product"),
		JSON:   payload{Data: p},
	}, nil)
}

func (c *Client) UpdateProduct(ctx context.Context, p domain.Product) error {
	return c.doer.Do(ctx, coordinator.Request{
		Method: http.MethodPut,
		URL:    c.scoped("/admin/product/" + url.PathEscape(p.ID)),
		JSON:   payload{Data: p},
	}, nil)
}

func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.doer.Do(ctx, coordinator.Request{
		Method: http.MethodDelete,
		URL:    c.scoped("/admin/product/" + url.PathEscape(id)),
	}, nil)
}

// Upload sends an image and returns the URL it is hosted at.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(UploadField, filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		ImageURL string `json:"imageUrl"`
	}
	err = c.doer.Do(ctx, coordinator.Request{
		Method:      http.MethodPost,
		URL:         c.scoped("/admin/upload"),
		Body:        &body,
		ContentType: mw.FormDataContentType(),
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ImageURL == "" {
		return "", fmt.Errorf("upload %s: response carried no imageUrl", filename)
	}
	return out.ImageURL, nil
}

func (c *Client) Cart(ctx context.Context) (domain.CartSnapshot, error) {
	var out struct {
		Data domain.CartSnapshot `json:"data"`
	}
	err := c.doer.Do(ctx, coordinator.Request{Method: http.MethodGet, URL: c.scoped("/cart")}, &out)
	return out.Data, err
}

func (c *Client) AddToCart(ctx context.Context, productID string, qty int) error {
	return c.doer.Do(ctx, coordinator.Request{
		Method: http.MethodPost,
		URL:    c.scoped("/cart"),
		JSON:   payload{Data: cartItem{ProductID: productID, Qty: qty}},
	}, nil)
}

func (c *Client) UpdateCartLine(ctx context.Context, lineID, productID string, qty int) error {
	return c.doer.Do(ctx, coordinator.Request{
		Method: http.MethodPut,
		URL:    c.scoped("/cart/" + url.PathEscape(lineID)),
		JSON:   payload{Data: cartItem{ProductID: productID, Qty: qty}},
	}, nil)
}

func (c *Client) RemoveCartLine(ctx context.Context, lineID string) error {
	return c.doer.Do(ctx, coordinator.Request{
		Method: http.MethodDelete,
		URL:    c.scoped("/cart/" + url.PathEscape(lineID)),
	}, nil)
}

func (c *Client) ClearCart(ctx context.Context) error {
	return c.doer.Do(ctx, coordinator.Request{Method: http.MethodDelete, URL: c.scoped("/carts")}, nil)
}

type orderRequest struct {
	User    domain.Customer `json:"user"`
	Message string          `json:"message,omitempty"`
}

// CreateOrder turns the current cart into an order and returns its id.
func (c *Client) CreateOrder(ctx context.Context, customer domain.Customer, message string) (string, error) {
	var out struct {
		OrderID string `json:"orderId"`
	}
	err := c.doer.Do(ctx, coordinator.Request{
		Method: http.MethodPost,
		URL:    c.scoped("/order"),
		JSON:   payload{Data: orderRequest{User: customer, Message: message}},
	}, &out)
	if err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("create order: response carried no orderId")
	}
	return out.OrderID, nil
}

func (c *Client) Order(ctx context.Context, id string) (domain.Order, error) {
	var out struct {
		Order *domain.Order `json:"order"`
	}
	if err := c.doer.Do(ctx, coordinator.Request{Method: http.MethodGet, URL: c.scoped("/order/" + url.PathEscape(id))}, &out); err != nil {
		return domain.Order{}, err
	}
	if out.Order == nil || out.Order.ID == "" {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, ErrNoSuchOrder)
	}
	return *out.Order, nil
}

func (c *Client) Orders(ctx context.Context, page int) ([]domain.Order, domain.Pagination, error) {
	var out struct {
		Orders     []domain.Order     `json:"orders"`
		Pagination *domain.Pagination `json:"pagination"`
	}
	u := c.scoped("/orders?page=" + strconv.Itoa(page))
	if err := c.doer.Do(ctx, coordinator.Request{Method: http.MethodGet, URL: u}, &out); err != nil {
		return nil, domain.Pagination{}, err
	}
	meta := domain.SinglePage()
	if out.Pagination != nil {
		meta = *out.Pagination
	}
	return out.Orders, meta, nil
}

func (c *Client) Pay(ctx context.Context, orderID string) error {
	return c.doer.Do(ctx, coordinator.Request{
		Method: http.MethodPost,
		URL:    c.scoped("/pay/" + url.PathEscape(orderID)),
	}, nil)
}

// SigninResult is the signin response. Expired is unix milliseconds.
type SigninResult struct {
	Token   string `json:"token"`
	Expired int64  `json:"expired"`
}

func (c *Client) Signin(ctx context.Context, creds domain.Credentials) (SigninResult, error) {
	var out SigninResult
	err := c.doer.Do(ctx, coordinator.Request{
		Method: http.MethodPost,
		URL:    c.root("/admin/signin"),
		JSON:   creds,
	}, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.doer.Do(ctx, coordinator.Request{Method: http.MethodPost, URL: c.root("/logout")}, nil)
}

// CheckSession asks the server whether the current token is still valid. It
// runs silently: the busy indicator is reserved for user-initiated calls.
func (c *Client) CheckSession(ctx context.Context) error {
	return c.doer.Do(ctx, coordinator.Request{
		Method: http.MethodPost,
		URL:    c.root("/api/user/check"),
		Silent: true,
	}, nil)
}
