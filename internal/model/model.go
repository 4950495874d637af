// Package model содержит доменные сущности сервиса calcio-domains.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User содержит снимок данных пользователя, загруженный на время сессии.
type User struct {
	RowID            string          `json:"row_id"`
	Email            string          `json:"email"`
	Name             string          `json:"name"`
	Nickname         string          `json:"nickname"`
	StripeCustomerID string          `json:"stripe_customer_id"`
	Credits          decimal.Decimal `json:"credits"`
	Avatar           string          `json:"avatar"`
	FirstBonusUsed   bool            `json:"first_recharge_bonus_claimed"`
	IsAdmin          bool            `json:"is_admin"`
	AdminMode        bool            `json:"admin_mode"`
	Initialized      bool            `json:"initialized"`
	Initializing     bool            `json:"initializing"`
	Coupons          []Coupon        `json:"coupons"`
}

// CartItem описывает позицию корзины: один домен по фиксированной цене.
type CartItem struct {
	ID         string          `json:"id"`
	DomainName string          `json:"domain_name"`
	Price      decimal.Decimal `json:"price"`
	Category   string          `json:"category"`
}

// Domain описывает домен, который пользователь хочет добавить в корзину.
type Domain struct {
	Name     string          `json:"domain"`
	Price    decimal.Decimal `json:"finalPrice"`
	Category string          `json:"category"`
}

// CouponStatus описывает состояние купона.
type CouponStatus string

// CouponStatusAvailable - единственный статус, при котором купон можно выбрать.
const CouponStatusAvailable CouponStatus = "available"

// Coupon описывает скидочный купон пользователя.
type Coupon struct {
	ID     string          `json:"id"`
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
	Status CouponStatus    `json:"status"`
}

// Available сообщает, можно ли предложить купон к выбору.
func (c Coupon) Available() bool {
	return c.Status == CouponStatusAvailable
}

// Severity описывает уровень важности уведомления.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Toast описывает временное уведомление для пользователя.
type Toast struct {
	ID        int64         `json:"id"`
	Message   string        `json:"message"`
	Severity  Severity      `json:"type"`
	Duration  time.Duration `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
}

// OrderType описывает способ оплаты завершённого заказа.
type OrderType string

const (
	OrderTypeCredits OrderType = "credits"
	OrderTypeFree    OrderType = "free"
	OrderTypeStripe  OrderType = "stripe"
)

// Order описывает завершённый заказ, сохраняемый в журнале заказов.
type Order struct {
	ID          string          `json:"order_id"`
	UserRowID   string          `json:"user_row_id"`
	Type        OrderType       `json:"type"`
	Total       decimal.Decimal `json:"total"`
	CreditBonus decimal.Decimal `json:"credit_bonus"`
	Domains     []string        `json:"domains"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Assertion описывает подтверждённую провайдером идентичность пользователя.
type Assertion struct {
	Subject     string
	AccessToken string
}

// Valid сообщает, содержит ли утверждение всё необходимое для обращения к провайдеру.
func (a Assertion) Valid() bool {
	return a.Subject != "" && a.AccessToken != ""
}
