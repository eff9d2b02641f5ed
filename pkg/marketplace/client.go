// Package marketplace - HTTP клиент API маркетплейса: токен, детали заказа, подтверждение
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/config"
)

var (
	ErrUpstreamAuth  = errors.New("ошибка авторизации в API маркетплейса")
	ErrUpstreamFetch = errors.New("ошибка запроса к API маркетплейса")
)

// UpstreamError - неуспешный ответ маркетплейса
type UpstreamError struct {
	Op     string // token, fetch, confirm
	Status int    // 0 при транспортной ошибке
	Body   string
	Kind   error // ErrUpstreamAuth или ErrUpstreamFetch
	Err    error // транспортная ошибка
}

func (e *UpstreamError) Error() string {

	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}

	return fmt.Sprintf("%s: %s: статус %d: %s", e.Kind, e.Op, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() []error {

	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}

	return []error{e.Kind}
}

// ObserveFunc получает длительность и исход каждого исходящего вызова
type ObserveFunc func(op, outcome string, d time.Duration)

// токен считаем просроченным чуть раньше срока
const tokenSkew = 30 * time.Second

// тело ошибки в логах и ошибках обрезаем
const maxBody = 2048

type Client struct {
	cfg     config.Marketplace
	http    *http.Client
	log     *zap.Logger
	observe ObserveFunc

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New создаёт клиента, транспорт обёрнут otelhttp
func New(cfg config.Marketplace, log *zap.Logger, observe ObserveFunc) *Client {

	if log == nil {
		log = zap.NewNop()
	}
	if observe == nil {
		observe = func(string, string, time.Duration) {}
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log:     log.Named("marketplace"),
		observe: observe,
	}
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// Token возвращает bearer токен, кэшируя его до истечения
func (c *Client) Token(ctx context.Context) (string, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt) {
		return c.token, nil
	}

	form := url.Values{
		"grantType":    {"client_credentials"},
		"clientId":     {c.cfg.ClientID},
		"clientSecret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := c.do(req, "token")
	if err != nil {
		return "", &UpstreamError{Op: "token", Kind: ErrUpstreamAuth, Err: err}
	}
	if !success(status) {
		return "", &UpstreamError{Op: "token", Status: status, Body: truncate(body), Kind: ErrUpstreamAuth}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", &UpstreamError{Op: "token", Status: status, Body: "в ответе нет accessToken", Kind: ErrUpstreamAuth}
	}

	c.token = tr.AccessToken
	ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenSkew
	if ttl <= 0 {
		ttl = 0
	}
	c.expiresAt = time.Now().Add(ttl)
	c.log.Debug("получен токен маркетплейса", zap.Int("expires_in", tr.ExpiresIn))

	return c.token, nil
}

// ResetToken сбрасывает закэшированный токен, например после 401
func (c *Client) ResetToken() {

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// FetchOrder получает детали заказа, повторяя запрос при 5xx и транспортных ошибках
func (c *Client) FetchOrder(ctx context.Context, orderID, token string) ([]byte, error) {

	endpoint := fmt.Sprintf(c.cfg.OrderURL, url.PathEscape(orderID))

	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		body, status, err := c.do(req, "fetch")
		if err != nil {
			return nil, &UpstreamError{Op: "fetch", Kind: ErrUpstreamFetch, Err: err}
		}
		if status >= 500 {
			return nil, &UpstreamError{Op: "fetch", Status: status, Body: truncate(body), Kind: ErrUpstreamFetch}
		}
		if !success(status) {
			kind := ErrUpstreamFetch
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				kind = ErrUpstreamAuth
			}
			return nil, backoff.Permanent(&UpstreamError{Op: "fetch", Status: status, Body: truncate(body), Kind: kind})
		}
		if !json.Valid(body) {
			return nil, backoff.Permanent(&UpstreamError{Op: "fetch", Status: status, Body: "ответ не JSON", Kind: ErrUpstreamFetch})
		}

		return body, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("повтор запроса деталей заказа", zap.String("order_id", orderID),
				zap.Duration("через", next), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}

	return body, nil
}

// ConfirmOrder подтверждает заказ у маркетплейса
func (c *Client) ConfirmOrder(ctx context.Context, orderID, token string) error {

	endpoint := fmt.Sprintf(c.cfg.ConfirmURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	body, status, err := c.do(req, "confirm")
	if err != nil {
		return &UpstreamError{Op: "confirm", Kind: ErrUpstreamFetch, Err: err}
	}
	if !success(status) {
		kind := ErrUpstreamFetch
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			kind = ErrUpstreamAuth
		}
		return &UpstreamError{Op: "confirm", Status: status, Body: truncate(body), Kind: kind}
	}

	return nil
}

// success - любой 2xx
func success(status int) bool {
	return status >= 200 && status < 300
}

// do выполняет запрос и читает тело целиком
func (c *Client) do(req *http.Request, op string) ([]byte, int, error) {

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, "error", time.Since(start))
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.observe(op, fmt.Sprintf("%dxx", resp.StatusCode/100), time.Since(start))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

func truncate(b []byte) string {

	if len(b) > maxBody {
		return string(b[:maxBody]) + "..."
	}

	return string(b)
}
