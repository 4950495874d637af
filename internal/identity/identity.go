// Package identity предоставляет клиент провайдера идентификации:
// разбор токена доступа, поиск идентификатора строки пользователя в бэкенде
// и адреса страниц входа и выхода.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/mmeshcher/calcio-domains/internal/model"
)

// RowIDField - имя поля user_metadata, в котором хранится идентификатор строки бэкенда.
const RowIDField = "catalystRowId"

var (
	// ErrRowIDMissing возвращается, если провайдер не хранит идентификатор строки пользователя.
	ErrRowIDMissing = errors.New("backend row id not found in user metadata")
	// ErrInvalidToken возвращается для токена, из которого нельзя извлечь subject.
	ErrInvalidToken = errors.New("invalid access token")
)

// Client обращается к API управления пользователями провайдера.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

// NewClient создаёт клиент провайдера для указанного домена.
func NewClient(domain, clientID string, timeout time.Duration) *Client {
	base := strings.TrimRight(domain, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return &Client{
		baseURL:  base,
		clientID: clientID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ParseAssertion извлекает subject из токена доступа. Подпись не проверяется:
// токен проверяет API управления при первом же обращении.
func ParseAssertion(accessToken string) (model.Assertion, error) {
	accessToken = strings.TrimSpace(strings.TrimPrefix(accessToken, "Bearer "))
	if accessToken == "" {
		return model.Assertion{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return model.Assertion{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return model.Assertion{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		return model.Assertion{}, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	return model.Assertion{Subject: sub, AccessToken: accessToken}, nil
}

// ResolveRowID возвращает идентификатор строки пользователя в бэкенде из user_metadata.
func (c *Client) ResolveRowID(ctx context.Context, a model.Assertion) (string, error) {
	if !a.Valid() {
		return "", ErrInvalidToken
	}

	u := fmt.Sprintf("%s/api/v2/users/%s", c.baseURL, url.PathEscape(a.Subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch user metadata: unexpected status: %d", resp.StatusCode)
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	rowID := gjson.GetBytes(body, "user_metadata."+RowIDField)
	if !rowID.Exists() || rowID.String() == "" {
		return "", ErrRowIDMissing
	}
	return rowID.String(), nil
}

// LoginURL возвращает адрес страницы входа провайдера.
func (c *Client) LoginURL(redirectURI, audience string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", "openid profile email read:current_user")
	if audience != "" {
		q.Set("audience", audience)
	}
	return c.baseURL + "/authorize?" + q.Encode()
}

// LogoutURL возвращает адрес выхода провайдера с возвратом на returnTo.
func (c *Client) LogoutURL(returnTo string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("returnTo", returnTo)
	return c.baseURL + "/v2/logout?" + q.Encode()
}
