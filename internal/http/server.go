package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/api"
	"storefront/internal/config"
	"storefront/internal/domain"
	"storefront/internal/logging"
)

type contextKey string

const contextKeyAdminSubject contextKey = "admin_subject"

const maxUploadBytes = 5 << 20

// Server is a local stand-in for the hosted storefront API.
type Server struct {
	cfg          config.Config
	shop         *Shop
	logger       *slog.Logger
	passwordHash []byte
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> token expiry
}

func NewServer(cfg config.Config, shop *Shop, logger *slog.Logger) (*Server, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Devserver.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_devserver_requests_total",
		Help: "Requests served by the dev server by route and status.",
	}, []string{"route", "status"})
	reg.MustRegister(requests)

	return &Server{
		cfg:          cfg,
		shop:         shop,
		logger:       logger.With("component", "devserver"),
		passwordHash: hash,
		registry:     reg,
		requests:     requests,
		revoked:      make(map[string]time.Time),
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/uploads/{name}", s.handleGetUpload)

	r.Post("/admin/signin", s.handleSignin)
	r.Post("/logout", s.handleLogout)
	r.Post("/api/user/check", s.handleUserCheck)

	r.Route("/api/"+strings.Trim(s.cfg.Devserver.APIPath, "/"), func(r chi.Router) {
		r.Get("/products/all", s.handleProductsAll)
		r.Get("/product/{id}", s.handleProduct)

		r.Get("/cart", s.handleGetCart)
		r.Post("/cart", s.handleAddToCart)
		r.Put("/cart/{id}", s.handleUpdateCart)
		r.Delete("/cart/{id}", s.handleRemoveCart)
		r.Delete("/carts", s.handleClearCart)

		r.Post("/order", s.handleCreateOrder)
		r.Get("/order/{id}", s.handleGetOrder)
		r.Get("/orders", s.handleListOrders)
		r.Post("/pay/{id}", s.handlePay)

		r.Group(func(admin chi.Router) {
			admin.Use(s.requireAdmin)
			admin.Get("/admin/products", s.handleAdminProducts)
			admin.Post("/admin/product", s.handleCreateProduct)
			admin.Put("/admin/product/{id}", s.handleUpdateProduct)
			admin.Delete("/admin/product/{id}", s.handleDeleteProduct)
			admin.Post("/admin/upload", s.handleUpload)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req domain.Credentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != s.cfg.Devserver.AdminUsername ||
		bcrypt.CompareHashAndPassword(s.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusBadRequest, "登入失敗")
		return
	}

	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "登入成功",
		"uid":     req.Username,
		"token":   token,
		"expired": expiresAt.UnixMilli(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifyToken(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusBadRequest, s.loggedOutMessage())
		return
	}
	s.revoke(claims)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "已登出"})
}

func (s *Server) handleUserCheck(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifyToken(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "請重新登入")
		return
	}
	sub, _ := claims.GetSubject()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "uid": sub})
}

func (s *Server) handleProductsAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"products": s.shop.EnabledProducts(),
	})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.shop.Product(chi.URLParam(r, "id"))
	if err != nil {
		writeShopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "product": p})
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": s.shop.Cart()})
}

type cartRequest struct {
	Data struct {
		ProductID string `json:"product_id"`
		Qty       int    `json:"qty"`
	} `json:"data"`
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	line, err := s.shop.AddToCart(req.Data.ProductID, req.Data.Qty)
	if err != nil {
		writeShopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "已加入購物車", "data": line})
}

func (s *Server) handleUpdateCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	line, err := s.shop.UpdateCartLine(chi.URLParam(r, "id"), req.Data.Qty)
	if err != nil {
		writeShopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "已更新購物車", "data": line})
}

func (s *Server) handleRemoveCart(w http.ResponseWriter, r *http.Request) {
	if err := s.shop.RemoveCartLine(chi.URLParam(r, "id")); err != nil {
		writeShopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "已刪除"})
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	s.shop.ClearCart()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "已清空購物車"})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data struct {
			User    domain.Customer `json:"user"`
			Message string          `json:"message"`
		} `json:"data"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msgs := missingCustomerFields(req.Data.User); len(msgs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": msgs})
		return
	}
	order, err := s.shop.PlaceOrder(req.Data.User, req.Data.Message)
	if err != nil {
		writeShopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "已建立訂單",
		"total":     order.Total,
		"create_at": order.CreateAt,
		"orderId":   order.ID,
	})
}

func missingCustomerFields(c domain.Customer) []string {
	var out []string
	for _, f := range []struct{ name, value string }{
		{"user.name", c.Name}, {"user.email", c.Email}, {"user.tel", c.Tel}, {"user.address", c.Address},
	} {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, f.name+" 欄位為必填")
		}
	}
	return out
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.shop.Order(chi.URLParam(r, "id"))
	if err != nil {
		writeShopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "order": order})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, meta := paginate(s.shop.Orders(), parseInt(r.URL.Query().Get("page"), 1), s.cfg.Devserver.PageSize)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "orders": orders, "pagination": meta})
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	if _, err := s.shop.Pay(chi.URLParam(r, "id")); err != nil {
		writeShopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "付款完成"})
}

func (s *Server) handleAdminProducts(w http.ResponseWriter, r *http.Request) {
	products, meta := paginate(s.shop.AllProducts(), parseInt(r.URL.Query().Get("page"), 1), s.cfg.Devserver.PageSize)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "products": products, "pagination": meta})
}

type productRequest struct {
	Data domain.Product `json:"data"`
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Data.ID = ""
	s.saveProduct(w, r, req.Data, "已建立產品")
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.shop.Product(id); err != nil {
		writeShopError(w, err)
		return
	}
	req.Data.ID = id
	s.saveProduct(w, r, req.Data, "已更新產品")
}

func (s *Server) saveProduct(w http.ResponseWriter, r *http.Request, p domain.Product, msg string) {
	if msgs := missingProductFields(p); len(msgs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": msgs})
		return
	}
	saved := s.shop.SaveProduct(p)
	logging.FromCtx(r.Context(), s.logger).Info("product saved", "product_id", saved.ID, "admin", adminSubject(r.Context()))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": msg, "product": saved})
}

func missingProductFields(p domain.Product) []string {
	var out []string
	for _, f := range []struct{ name, value string }{
		{"title", p.Title}, {"category", p.Category}, {"unit", p.Unit},
	} {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, f.name+" 屬性不得為空")
		}
	}
	if !p.OriginPrice.IsPositive() {
		out = append(out, "origin_price 型別錯誤")
	}
	if !p.Price.IsPositive() {
		out = append(out, "price 型別錯誤")
	}
	return out
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.shop.DeleteProduct(chi.URLParam(r, "id")); err != nil {
		writeShopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "已刪除產品"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile(api.UploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing "+api.UploadField)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	name := uuid.NewString() + path.Ext(header.Filename)
	s.shop.StoreUpload(name, contentType, data)

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"imageUrl": fmt.Sprintf("%s://%s/uploads/%s", scheme, r.Host, name),
	})
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	u, ok := s.shop.Upload(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", u.contentType)
	_, _ = w.Write(u.data)
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.Devserver.TokenTTL)
	claims := jwt.MapClaims{
		"sub": subject,
		"jti": uuid.NewString(),
		"exp": expiresAt.Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Devserver.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, time.Unix(expiresAt.Unix(), 0).UTC(), nil
}

var errRevoked = errors.New("token revoked")

// verifyToken accepts the raw token the storefront client sends, or a Bearer
// header.
func (s *Server) verifyToken(header string) (jwt.MapClaims, error) {
	token := bearerToken(header)
	if token == "" {
		return nil, errors.New("missing token")
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Devserver.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	jti, _ := claims["jti"].(string)
	s.mu.Lock()
	_, revoked := s.revoked[jti]
	s.mu.Unlock()
	if revoked {
		return nil, errRevoked
	}
	return claims, nil
}

func (s *Server) revoke(claims jwt.MapClaims) {
	jti, _ := claims["jti"].(string)
	exp, _ := claims.GetExpirationTime()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, until := range s.revoked {
		if now.After(until) {
			delete(s.revoked, id)
		}
	}
	if exp != nil {
		s.revoked[jti] = exp.Time
	}
}

func (s *Server) loggedOutMessage() string {
	if s.cfg.API.LoggedOutMessage != "" {
		return s.cfg.API.LoggedOutMessage
	}
	return config.DefaultLoggedOutMessage
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.verifyToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "驗證錯誤, 請重新登入")
			return
		}
		sub, _ := claims.GetSubject()
		ctx := context.WithValue(r.Context(), contextKeyAdminSubject, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminSubject(ctx context.Context) string {
	sub, _ := ctx.Value(contextKeyAdminSubject).(string)
	return sub
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		reqLogger := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(logging.WithCtx(r.Context(), reqLogger)))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		reqLogger.Info("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(started),
		)
	})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	if len(parts) == 1 {
		return header
	}
	return ""
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": msg})
}

func writeShopError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNoProduct), errors.Is(err, errNoCartLine), errors.Is(err, errNoOrder):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
