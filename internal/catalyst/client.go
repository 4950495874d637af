// Package catalyst предоставляет клиент для serverless-функций бэкенда.
package catalyst

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/mmeshcher/calcio-domains/internal/metrics"
	"github.com/mmeshcher/calcio-domains/internal/model"
)

const maxResponseSize = 4 << 20

// Имена функций бэкенда.
const (
	EndpointGetUserData     = "get-user-data"
	EndpointUpdateUser      = "update-user"
	EndpointGetAvatar       = "get-avatar"
	EndpointAddToCart       = "add-to-cart"
	EndpointGetCart         = "get-cart"
	EndpointDeleteFromCart  = "delete-from-cart"
	EndpointGetUserCoupons  = "get-user-coupons"
	EndpointCreateCheckout  = "create-checkout"
	EndpointPayWithCredits  = "pay-with-credits"
	EndpointAuthenticateFN  = "authenticate-freename"
	EndpointSearchFNDomains = "search-freename-domains"
	EndpointGetPrompt       = "get-prompt"
	EndpointEvaluateDomain  = "evaluate-domain"
)

// Client инкапсулирует HTTP-взаимодействие с функциями бэкенда.
// Повторы выполняются только для идемпотентных вызовов.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *retryablehttp.Client
	logger  *zap.Logger
}

// NewClient создаёт клиент бэкенда по указанному базовому адресу.
func NewClient(baseURL string, timeout time.Duration, retryMax int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{logger.Sugar()}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: base,
		timeout: timeout,
		http:    rc,
		logger:  logger,
	}
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

func (c *Client) endpointURL(endpoint string) string {
	return c.baseURL + "/" + endpoint
}

// call выполняет POST с JSON-телом и возвращает распакованное тело ответа.
func (c *Client) call(ctx context.Context, endpoint string, payload any, idempotent bool) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	return c.do(ctx, endpoint, http.MethodPost, c.endpointURL(endpoint), "application/json", body, idempotent)
}

func (c *Client) do(ctx context.Context, endpoint, method, url, contentType string, body []byte, idempotent bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.send(ctx, method, url, contentType, body, idempotent)
	if err != nil {
		metrics.ObserveBackendCall(endpoint, "transport_error", time.Since(start))
		return nil, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		metrics.ObserveBackendCall(endpoint, "transport_error", time.Since(start))
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	data, err := decodeEnvelope(endpoint, resp.StatusCode, raw)
	if err != nil {
		metrics.ObserveBackendCall(endpoint, string(KindOf(err)), time.Since(start))
		c.logger.Warn("backend call failed",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.ObserveBackendCall(endpoint, "ok", time.Since(start))
	return data, nil
}

func (c *Client) send(ctx context.Context, method, url, contentType string, body []byte, idempotent bool) (*http.Response, error) {
	if idempotent {
		req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return c.http.Do(req)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.http.HTTPClient.Do(req)
}

// decodeEnvelope снимает внешнюю обёртку {"output": "<json>"} и проверяет признак success.
func decodeEnvelope(endpoint string, status int, raw []byte) ([]byte, error) {
	data := raw
	for i := 0; i < 2; i++ {
		out := gjson.GetBytes(data, "output")
		if !out.Exists() || out.Type != gjson.String {
			break
		}
		data = []byte(out.Str)
	}

	if status < 200 || status > 299 {
		msg := errorMessage(data)
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, &Error{
			Endpoint: endpoint,
			Status:   status,
			Kind:     classify(gjson.GetBytes(data, "code").String(), msg),
			Message:  msg,
		}
	}

	if len(bytes.TrimSpace(data)) > 0 && !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("decode %s response: invalid json", endpoint)
	}

	if s := gjson.GetBytes(data, "success"); s.Exists() && !s.Bool() {
		msg := errorMessage(data)
		if msg == "" {
			msg = "request failed"
		}
		return nil, &Error{
			Endpoint: endpoint,
			Status:   status,
			Kind:     classify(gjson.GetBytes(data, "code").String(), msg),
			Message:  msg,
		}
	}

	return data, nil
}

func errorMessage(data []byte) string {
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(data, path); v.Exists() && v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	if !gjson.ValidBytes(data) {
		return strings.TrimSpace(string(data))
	}
	return ""
}

func unmarshalPath(data []byte, path string, v any) error {
	src := data
	if path != "" {
		r := gjson.GetBytes(data, path)
		if !r.Exists() {
			return fmt.Errorf("field %q missing in response", path)
		}
		src = []byte(r.Raw)
	}
	return json.Unmarshal(src, v)
}

// GetUserData возвращает запись пользователя по идентификатору строки.
func (c *Client) GetUserData(ctx context.Context, rowID string) (*UserData, error) {
	data, err := c.call(ctx, EndpointGetUserData, map[string]string{"catalystRowId": rowID}, true)
	if err != nil {
		return nil, err
	}

	var u UserData
	if err := unmarshalPath(data, "data", &u); err != nil {
		return nil, fmt.Errorf("decode user data: %w", err)
	}
	return &u, nil
}

// GetUserCoupons возвращает все купоны пользователя.
func (c *Client) GetUserCoupons(ctx context.Context, rowID string) ([]model.Coupon, error) {
	data, err := c.call(ctx, EndpointGetUserCoupons, map[string]string{"catalystRowId": rowID}, true)
	if err != nil {
		return nil, err
	}

	path := ""
	if !gjson.ParseBytes(data).IsArray() {
		for _, p := range []string{"data", "coupons"} {
			if gjson.GetBytes(data, p).IsArray() {
				path = p
				break
			}
		}
		if path == "" {
			return nil, errors.New("decode coupons: no coupon list in response")
		}
	}

	var dtos []couponDTO
	if err := unmarshalPath(data, path, &dtos); err != nil {
		return nil, fmt.Errorf("decode coupons: %w", err)
	}

	res := make([]model.Coupon, 0, len(dtos))
	for _, d := range dtos {
		res = append(res, d.toModel())
	}
	return res, nil
}

// ProfileUpdate описывает изменение профиля пользователя.
// Avatar может быть nil, если меняется только никнейм.
type ProfileUpdate struct {
	RowID      string
	Nickname   string
	Avatar     io.Reader
	AvatarName string
}

// UpdateUser отправляет изменения профиля в виде multipart-формы и
// возвращает идентификатор нового файла аватара, если бэкенд его сообщил.
func (c *Client) UpdateUser(ctx context.Context, upd ProfileUpdate) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("catalystRowId", upd.RowID); err != nil {
		return "", fmt.Errorf("write form: %w", err)
	}
	if upd.Nickname != "" {
		if err := mw.WriteField("nickname", upd.Nickname); err != nil {
			return "", fmt.Errorf("write form: %w", err)
		}
	}
	if upd.Avatar != nil {
		name := upd.AvatarName
		if name == "" {
			name = "avatar"
		}
		fw, err := mw.CreateFormFile("avatar", name)
		if err != nil {
			return "", fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(fw, upd.Avatar); err != nil {
			return "", fmt.Errorf("copy avatar: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	data, err := c.do(ctx, EndpointUpdateUser, http.MethodPost, c.endpointURL(EndpointUpdateUser), mw.FormDataContentType(), buf.Bytes(), false)
	if err != nil {
		return "", err
	}

	var avatar ID
	if r := gjson.GetBytes(data, "data.avatar_file_id"); r.Exists() {
		_ = json.Unmarshal([]byte(r.Raw), &avatar)
	}
	return string(avatar), nil
}

// GetAvatar загружает изображение аватара. Вызывающий обязан закрыть тело ответа.
func (c *Client) GetAvatar(ctx context.Context, rowID string) (io.ReadCloser, string, error) {
	u := c.endpointURL(EndpointGetAvatar) + "?rowId=" + url.QueryEscape(rowID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveBackendCall(EndpointGetAvatar, "transport_error", time.Since(start))
		return nil, "", fmt.Errorf("call %s: %w", EndpointGetAvatar, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		metrics.ObserveBackendCall(EndpointGetAvatar, "failed", time.Since(start))
		kind := KindUnknown
		if resp.StatusCode == http.StatusNotFound {
			kind = KindNotFound
		}
		return nil, "", &Error{Endpoint: EndpointGetAvatar, Status: resp.StatusCode, Kind: kind, Message: http.StatusText(resp.StatusCode)}
	}

	metrics.ObserveBackendCall(EndpointGetAvatar, "ok", time.Since(start))
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// AddToCart добавляет домен в корзину и возвращает идентификатор новой позиции.
func (c *Client) AddToCart(ctx context.Context, req AddToCartRequest) (string, error) {
	data, err := c.call(ctx, EndpointAddToCart, req, false)
	if err != nil {
		return "", err
	}

	var id ID
	if err := unmarshalPath(data, "data.cartItemId", &id); err != nil {
		return "", fmt.Errorf("decode cart item id: %w", err)
	}
	return string(id), nil
}

// GetCart возвращает позиции корзины пользователя.
func (c *Client) GetCart(ctx context.Context, userID string) ([]model.CartItem, error) {
	data, err := c.call(ctx, EndpointGetCart, map[string]string{"userId": userID}, true)
	if err != nil {
		return nil, err
	}

	var dtos []cartItemDTO
	if r := gjson.GetBytes(data, "items"); r.Exists() && r.Type != gjson.Null {
		if err := json.Unmarshal([]byte(r.Raw), &dtos); err != nil {
			return nil, fmt.Errorf("decode cart items: %w", err)
		}
	}

	items := make([]model.CartItem, 0, len(dtos))
	for _, d := range dtos {
		items = append(items, d.toModel())
	}
	return items, nil
}

// DeleteFromCart удаляет из корзины указанные домены одним запросом.
func (c *Client) DeleteFromCart(ctx context.Context, userID string, domainNames []string) (*DeleteResult, error) {
	payload := struct {
		UserID      string   `json:"userId"`
		DomainNames []string `json:"domainNames"`
	}{userID, domainNames}

	data, err := c.call(ctx, EndpointDeleteFromCart, payload, false)
	if err != nil {
		return nil, err
	}

	var res DeleteResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode delete result: %w", err)
	}
	return &res, nil
}

// CreateCheckout создаёт сессию оплаты Stripe или бесплатный заказ.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	data, err := c.call(ctx, EndpointCreateCheckout, req, false)
	if err != nil {
		return nil, err
	}

	var res CheckoutResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode checkout result: %w", err)
	}
	if !res.Free && res.CheckoutURL == "" {
		return nil, errors.New("decode checkout result: neither checkout url nor free order")
	}
	return &res, nil
}

// PayWithCredits оплачивает корзину кредитами пользователя.
func (c *Client) PayWithCredits(ctx context.Context, req CreditsRequest) (*CreditsResult, error) {
	data, err := c.call(ctx, EndpointPayWithCredits, req, false)
	if err != nil {
		return nil, err
	}

	var res CreditsResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode credits result: %w", err)
	}
	return &res, nil
}

// AuthenticateFreename получает токен доступа к API регистратора через бэкенд.
func (c *Client) AuthenticateFreename(ctx context.Context) (*FreenameToken, error) {
	data, err := c.call(ctx, EndpointAuthenticateFN, struct{}{}, true)
	if err != nil {
		return nil, err
	}

	var tok FreenameToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode freename token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("decode freename token: empty access token")
	}
	return &tok, nil
}

// SearchFreenameDomains выполняет поиск доменов у регистратора.
func (c *Client) SearchFreenameDomains(ctx context.Context, token string, domains []string) (json.RawMessage, error) {
	payload := struct {
		Token   string   `json:"token"`
		Domains []string `json:"domains"`
	}{token, domains}

	data, err := c.call(ctx, EndpointSearchFNDomains, payload, true)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// GetPrompt возвращает промпт оценки для домена. Пустое имя возвращает шаблон.
func (c *Client) GetPrompt(ctx context.Context, domain string) (*Prompt, error) {
	payload := map[string]string{}
	if domain != "" {
		payload["domain"] = domain
	}

	data, err := c.call(ctx, EndpointGetPrompt, payload, true)
	if err != nil {
		return nil, err
	}

	var p Prompt
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode prompt: %w", err)
	}
	return &p, nil
}

// EvaluateDomain отправляет промпт модели и возвращает её JSON-ответ.
func (c *Client) EvaluateDomain(ctx context.Context, prompt string) (json.RawMessage, error) {
	data, err := c.call(ctx, EndpointEvaluateDomain, map[string]string{"prompt": prompt}, false)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
