package cart

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/calcio-domains/internal/model"
)

// Totals содержит производные значения корзины. Значения вычисляются
// при каждом чтении и не хранятся.
type Totals struct {
	Count       int
	Total       decimal.Decimal
	Discount    decimal.Decimal
	Excess      decimal.Decimal
	CreditBonus decimal.Decimal
	FinalTotal  decimal.Decimal
}

// ComputeTotals рассчитывает сумму корзины и скидку по купону.
// couponAmount равен нулю, если купон не выбран.
func ComputeTotals(items []model.CartItem, couponAmount decimal.Decimal, convertRest bool) Totals {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price)
	}

	discount := decimal.Min(couponAmount, total)
	excess := decimal.Max(decimal.Zero, couponAmount.Sub(total))

	bonus := decimal.Zero
	if convertRest {
		bonus = excess
	}

	return Totals{
		Count:       len(items),
		Total:       total,
		Discount:    discount,
		Excess:      excess,
		CreditBonus: bonus,
		FinalTotal:  decimal.Max(decimal.Zero, total.Sub(discount)),
	}
}

// MarshalJSON отдаёт суммы строками с двумя знаками после запятой.
func (t Totals) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Count       int    `json:"count"`
		Total       string `json:"total"`
		Discount    string `json:"discount"`
		Excess      string `json:"excess"`
		CreditBonus string `json:"credit_bonus"`
		FinalTotal  string `json:"final_total"`
	}{
		Count:       t.Count,
		Total:       t.Total.StringFixed(2),
		Discount:    t.Discount.StringFixed(2),
		Excess:      t.Excess.StringFixed(2),
		CreditBonus: t.CreditBonus.StringFixed(2),
		FinalTotal:  t.FinalTotal.StringFixed(2),
	})
}
