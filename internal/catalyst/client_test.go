package catalyst

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wrapOutput(t *testing.T, v any) []byte {
	t.Helper()
	inner, err := json.Marshal(v)
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]string{"output": string(inner)})
	require.NoError(t, err)
	return outer
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, time.Second, 0, nil)
}

func TestGetUserData_UnwrapsOutputEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/get-user-data", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "123", body["catalystRowId"])

		_, _ = w.Write(wrapOutput(t, map[string]any{
			"success": true,
			"data": map[string]any{
				"email":                        "mario@calcio.domains",
				"name":                         "Mario",
				"nickname":                     "supermario",
				"credits":                      "42.50",
				"avatar_file_id":               98765,
				"stripe_customer_id":           "cus_1",
				"first_recharge_bonus_claimed": "false",
				"is_admin":                     true,
			},
		}))
	})

	u, err := c.GetUserData(context.Background(), "123")
	require.NoError(t, err)

	assert.Equal(t, "mario@calcio.domains", u.Email)
	assert.True(t, u.Credits.Equal(decimal.RequireFromString("42.5")))
	assert.Equal(t, ID("98765"), u.AvatarFileID)
	assert.False(t, bool(u.FirstRechargeBonusClaimed))
	assert.True(t, bool(u.IsAdmin))
}

func TestGetCart_PlainResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"items":[{"ROWID":"1","domain_name":"milan.calcio","price":25,"category":"club"},{"id":2,"domain_name":"roma.calcio","price":"10.10","category":"club"}]}`)
	})

	items, err := c.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "1", items[0].ID)
	assert.Equal(t, "milan.calcio", items[0].DomainName)
	assert.Equal(t, "2", items[1].ID)
	assert.Equal(t, "10.10", items[1].Price.StringFixed(2))
}

func TestAddToCart_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{
			name:   "duplicate by message",
			status: http.StatusBadRequest,
			body:   `{"success":false,"error":"Domain already in cart"}`,
			want:   KindDuplicateItem,
		},
		{
			name:   "reservation conflict by message",
			status: http.StatusConflict,
			body:   `{"success":false,"message":"Domain is reserved by another user"}`,
			want:   KindReservationConflict,
		},
		{
			name:   "structured code wins over wording",
			status: http.StatusOK,
			body:   `{"success":false,"code":"RESERVATION_CONFLICT","error":"something else"}`,
			want:   KindReservationConflict,
		},
		{
			name:   "unknown",
			status: http.StatusInternalServerError,
			body:   `boom`,
			want:   KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.AddToCart(context.Background(), AddToCartRequest{UserID: "u1", DomainName: "inter.calcio", Price: 5})
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestAddToCart_NotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, time.Second, 3, nil)

	_, err := c.AddToCart(context.Background(), AddToCartRequest{UserID: "u1", DomainName: "inter.calcio"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetCart_RetriedOnServerError(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"items":[]}`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second, 2, nil)

	items, err := c.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetUserCoupons_AcceptsBareArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(wrapOutput(t, []map[string]any{
			{"ROWID": "c1", "code": "WELCOME", "amount": 30, "status": "available"},
			{"ROWID": "c2", "code": "OLD", "amount": 5, "status": "used"},
		}))
	})

	coupons, err := c.GetUserCoupons(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, coupons, 2)
	assert.True(t, coupons[0].Available())
	assert.False(t, coupons[1].Available())
}

func TestPayWithCredits_InsufficientCredits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"success":false,"error":"Insufficient credits"}`)
	})

	_, err := c.PayWithCredits(context.Background(), CreditsRequest{UserID: "u1", Total: 10})
	require.Error(t, err)
	assert.Equal(t, KindInsufficientCredits, KindOf(err))
}

func TestCreateCheckout_FreeOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req CheckoutRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "c1", req.CouponID)
		assert.True(t, req.ConvertRest)
		_, _ = io.WriteString(w, `{"free":true,"orderId":77,"creditBonus":5}`)
	})

	res, err := c.CreateCheckout(context.Background(), CheckoutRequest{UserID: "u1", CouponID: "c1", ConvertRest: true})
	require.NoError(t, err)
	assert.True(t, res.Free)
	assert.Equal(t, ID("77"), res.OrderID)
	assert.Equal(t, "5.00", res.CreditBonus.StringFixed(2))
}

func TestUpdateUser_SendsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "u1", r.FormValue("catalystRowId"))
		assert.Equal(t, "bomber", r.FormValue("nickname"))

		f, _, err := r.FormFile("avatar")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "png-bytes", string(b))

		_, _ = io.WriteString(w, `{"success":true,"data":{"avatar_file_id":"f-9"}}`)
	})

	avatar, err := c.UpdateUser(context.Background(), ProfileUpdate{
		RowID:      "u1",
		Nickname:   "bomber",
		Avatar:     strings.NewReader("png-bytes"),
		AvatarName: "me.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "f-9", avatar)
}

func TestGetPrompt_TemplateWithoutDomain(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{}`, string(b))
		_, _ = w.Write(wrapOutput(t, map[string]any{"prompt": "Evaluate {{domain}}", "coefficients": map[string]float64{"length": 1.2}}))
	})

	p, err := c.GetPrompt(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Evaluate {{domain}}", p.Prompt)
	assert.JSONEq(t, `{"length":1.2}`, string(p.Coefficients))
}
