// Package freename предоставляет доступ к поиску доменов регистратора
// с кешированием токена доступа.
package freename

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/calcio-domains/internal/catalyst"
	"github.com/mmeshcher/calcio-domains/internal/metrics"
)

// SafetyMargin вычитается из срока жизни токена, чтобы не использовать
// токен, истекающий в момент запроса.
const SafetyMargin = 60 * time.Second

// Backend описывает функции бэкенда, через которые идёт обращение к регистратору.
type Backend interface {
	AuthenticateFreename(ctx context.Context) (*catalyst.FreenameToken, error)
	SearchFreenameDomains(ctx context.Context, token string, domains []string) (json.RawMessage, error)
}

// Client хранит токен регистратора и обновляет его по истечении срока.
type Client struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	token  string
	expiry time.Time

	group singleflight.Group
}

// NewClient создаёт клиент регистратора поверх бэкенда.
func NewClient(backend Backend, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// ValidToken возвращает действующий токен, при необходимости запрашивая новый.
// Параллельные обновления объединяются в один запрос.
func (c *Client) ValidToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expiry := c.token, c.expiry
	c.mu.RUnlock()

	if token != "" && c.now().Before(expiry) {
		return token, nil
	}

	ch := c.group.DoChan("token", func() (interface{}, error) {
		// Токен мог обновиться, пока ждали своей очереди.
		c.mu.RLock()
		token, expiry := c.token, c.expiry
		c.mu.RUnlock()
		if token != "" && c.now().Before(expiry) {
			return token, nil
		}

		// Запрос не должен отменяться вместе с контекстом первого вызывающего.
		tok, err := c.backend.AuthenticateFreename(context.WithoutCancel(ctx))
		if err != nil {
			return "", fmt.Errorf("authenticate freename: %w", err)
		}
		metrics.IncTokenRefresh()

		ttl := time.Duration(tok.ExpiresIn)*time.Second - SafetyMargin
		c.mu.Lock()
		c.token = tok.AccessToken
		c.expiry = c.now().Add(ttl)
		c.mu.Unlock()

		c.logger.Info("freename token refreshed", zap.Duration("ttl", ttl))
		return tok.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate сбрасывает кешированный токен.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}

// SearchDomains ищет домены у регистратора. При отказе в доступе токен
// сбрасывается и запрос повторяется один раз.
func (c *Client) SearchDomains(ctx context.Context, domains []string) (json.RawMessage, error) {
	if len(domains) == 0 {
		return nil, errors.New("no domains to search")
	}

	token, err := c.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.backend.SearchFreenameDomains(ctx, token, domains)
	var apiErr *catalyst.Error
	if errors.As(err, &apiErr) && apiErr.Status == 401 {
		c.logger.Warn("freename token rejected, re-authenticating")
		c.Invalidate()
		if token, err = c.ValidToken(ctx); err != nil {
			return nil, err
		}
		res, err = c.backend.SearchFreenameDomains(ctx, token, domains)
	}
	if err != nil {
		return nil, fmt.Errorf("search freename domains: %w", err)
	}
	return res, nil
}
