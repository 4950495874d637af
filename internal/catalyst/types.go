package catalyst

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/calcio-domains/internal/model"
)

// ID принимает идентификаторы строк, которые бэкенд отдаёт то строкой, то числом.
type ID string

// UnmarshalJSON разбирает строку, число или null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// UserData описывает запись пользователя в базе данных бэкенда.
type UserData struct {
	Email                     string          `json:"email"`
	Name                      string          `json:"name"`
	Nickname                  string          `json:"nickname"`
	Credits                   decimal.Decimal `json:"credits"`
	AvatarFileID              ID              `json:"avatar_file_id"`
	StripeCustomerID          string          `json:"stripe_customer_id"`
	FirstRechargeBonusClaimed flexBool        `json:"first_recharge_bonus_claimed"`
	IsAdmin                   flexBool        `json:"is_admin"`
}

// flexBool принимает булевы значения, которые бэкенд хранит как bool, строку или число.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(b), `"`))
	if s == "" || s == "null" {
		*f = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("parse bool %q: %w", s, err)
	}
	*f = flexBool(v)
	return nil
}

type cartItemDTO struct {
	ID         ID              `json:"id"`
	RowID      ID              `json:"ROWID"`
	DomainName string          `json:"domain_name"`
	Price      decimal.Decimal `json:"price"`
	Category   string          `json:"category"`
}

func (d cartItemDTO) toModel() model.CartItem {
	id := d.ID
	if id == "" {
		id = d.RowID
	}
	return model.CartItem{
		ID:         string(id),
		DomainName: d.DomainName,
		Price:      d.Price,
		Category:   d.Category,
	}
}

type couponDTO struct {
	ID     ID              `json:"id"`
	RowID  ID              `json:"ROWID"`
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
	Status string          `json:"status"`
}

func (d couponDTO) toModel() model.Coupon {
	id := d.ID
	if id == "" {
		id = d.RowID
	}
	return model.Coupon{
		ID:     string(id),
		Code:   d.Code,
		Amount: d.Amount,
		Status: model.CouponStatus(d.Status),
	}
}

// AddToCartRequest описывает добавление домена в корзину.
type AddToCartRequest struct {
	UserID     string  `json:"userId"`
	DomainName string  `json:"domainName"`
	Price      float64 `json:"price"`
	Category   string  `json:"category"`
}

// DeleteResult описывает результат удаления позиций корзины.
type DeleteResult struct {
	DeletedCount   int      `json:"deletedCount"`
	DeletedDomains []string `json:"deletedDomains"`
}

// OrderItem описывает позицию заказа, передаваемую при оплате.
type OrderItem struct {
	ID         string  `json:"id"`
	DomainName string  `json:"domain_name"`
	Price      float64 `json:"price"`
	Category   string  `json:"category"`
}

// OrderItems преобразует позиции корзины в позиции заказа.
func OrderItems(items []model.CartItem) []OrderItem {
	res := make([]OrderItem, 0, len(items))
	for _, it := range items {
		res = append(res, OrderItem{
			ID:         it.ID,
			DomainName: it.DomainName,
			Price:      it.Price.InexactFloat64(),
			Category:   it.Category,
		})
	}
	return res
}

// CheckoutRequest описывает создание сессии оплаты Stripe.
type CheckoutRequest struct {
	UserID      string      `json:"userId"`
	Items       []OrderItem `json:"items"`
	CouponID    string      `json:"couponId,omitempty"`
	ConvertRest bool        `json:"convertRest,omitempty"`
}

// CheckoutResult описывает ответ create-checkout: либо ссылку на оплату,
// либо бесплатный заказ, закрытый купоном.
type CheckoutResult struct {
	CheckoutURL string          `json:"checkoutUrl"`
	SessionID   string          `json:"sessionId"`
	Free        bool            `json:"free"`
	OrderID     ID              `json:"orderId"`
	CreditBonus decimal.Decimal `json:"creditBonus"`
}

// CreditsRequest описывает оплату корзины кредитами.
type CreditsRequest struct {
	UserID      string      `json:"userId"`
	Items       []OrderItem `json:"items"`
	Total       float64     `json:"total"`
	CouponID    string      `json:"couponId,omitempty"`
	ConvertRest bool        `json:"convertRest,omitempty"`
}

// CreditsResult описывает ответ pay-with-credits.
type CreditsResult struct {
	OrderID          ID              `json:"orderId"`
	NewCreditBalance decimal.Decimal `json:"newCreditBalance"`
	CreditBonus      decimal.Decimal `json:"creditBonus"`
}

// FreenameToken описывает токен доступа к API регистратора.
type FreenameToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Prompt описывает промпт оценки домена и коэффициенты расчёта цены.
type Prompt struct {
	Prompt       string          `json:"prompt"`
	Coefficients json.RawMessage `json:"coefficients"`
}
