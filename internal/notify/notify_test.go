package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSMS struct {
	to, message string
	err         error
}

func (f *fakeSMS) SendSMS(_ context.Context, to, message string) error {
	f.to, f.message = to, message
	return f.err
}

type fakeEmail struct {
	to      []string
	subject string
	body    string
	err     error
}

func (f *fakeEmail) SendEmail(_ context.Context, _ string, to []string, subject, body string) error {
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

func sampleEvent() *models.OrderCreatedEvent {
	return &models.OrderCreatedEvent{
		OrderID:       42,
		CustomerName:  "testuser",
		CustomerEmail: "test@test.com",
		CustomerPhone: "+254700000000",
		TotalAmount:   models.NewMoney(decimal.RequireFromString("24.48")),
		Items: []models.OrderItemData{
			{ProductName: "Phone", Quantity: 2, Price: models.NewMoney(decimal.RequireFromString("10.99")), Subtotal: models.NewMoney(decimal.RequireFromString("21.98"))},
			{ProductName: "Case", Quantity: 1, Price: models.NewMoney(decimal.RequireFromString("2.5")), Subtotal: models.NewMoney(decimal.RequireFromString("2.5"))},
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSimulatedModeWithoutCredentials(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	util.SetLogger(zap.New(core))
	t.Cleanup(func() { util.SetLogger(nil) })

	d := NewDispatcher(Config{AdminEmail: "admin@ecommerce.com"})

	smsResult := d.SendOrderSMS(context.Background(), "+254700000000", 42)
	assert.Equal(t, StatusSimulated, smsResult.Status)
	assert.NoError(t, smsResult.Err)

	emailResult := d.SendAdminEmail(context.Background(), sampleEvent())
	assert.Equal(t, StatusSimulated, emailResult.Status)

	assert.NoError(t, d.NotifyNewOrder(context.Background(), sampleEvent()))
	assert.Equal(t, 2, logs.FilterMessage("SMS would be sent").Len())
}

func TestSMSSkippedWithoutPhone(t *testing.T) {
	sms := &fakeSMS{}
	d := NewDispatcherWithSenders(Config{}, sms, nil)

	result := d.SendOrderSMS(context.Background(), "", 1)
	assert.Equal(t, StatusSkipped, result.Status)
	assert.Empty(t, sms.to)
}

func TestNotifyNewOrderSendsBothChannels(t *testing.T) {
	sms := &fakeSMS{}
	email := &fakeEmail{}
	d := NewDispatcherWithSenders(Config{AdminEmail: "admin@shop.test", EmailFrom: "noreply@shop.test"}, sms, email)

	require.NoError(t, d.NotifyNewOrder(context.Background(), sampleEvent()))

	assert.Equal(t, "+254700000000", sms.to)
	assert.Equal(t, "Hello! Your order #42 has been placed successfully. Thank you!", sms.message)
	assert.Equal(t, []string{"admin@shop.test"}, email.to)
	assert.Equal(t, "New Order Placed - #42", email.subject)
	assert.Contains(t, email.body, "- 2x Phone @ $10.99 = $21.98")
	assert.Contains(t, email.body, "Total Amount: $24.48")
}

func TestNotifyNewOrderFailureOnOneChannel(t *testing.T) {
	sms := &fakeSMS{err: errors.New("provider down")}
	email := &fakeEmail{}
	d := NewDispatcherWithSenders(Config{AdminEmail: "admin@shop.test"}, sms, email)

	err := d.NotifyNewOrder(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
	assert.Equal(t, "New Order Placed - #42", email.subject, "email still attempted")
}

func TestAfricasTalkingClient(t *testing.T) {
	var gotKey, gotTo, gotMessage, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotKey = r.Header.Get("apiKey")
		gotUser = r.PostForm.Get("username")
		gotTo = r.PostForm.Get("to")
		gotMessage = r.PostForm.Get("message")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewAfricasTalkingClient("shop", "secret", "", srv.URL)
	require.NoError(t, c.SendSMS(context.Background(), "+254700000000", "hi"))

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "shop", gotUser)
	assert.Equal(t, "+254700000000", gotTo)
	assert.Equal(t, "hi", gotMessage)
}

func TestAfricasTalkingClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAfricasTalkingClient("shop", "secret", "", srv.URL)
	err := c.SendSMS(context.Background(), "+254700000000", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSandboxEndpointSelection(t *testing.T) {
	assert.Equal(t, africasTalkingSandboxURL, NewAfricasTalkingClient("sandbox", "k", "", "").endpoint)
	assert.Equal(t, africasTalkingLiveURL, NewAfricasTalkingClient("shop", "k", "", "").endpoint)
}
