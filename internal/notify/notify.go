// Package notify delivers new-order notifications: an SMS to the customer
// and an email to the shop admin. Channels without credentials run in
// simulated mode and only log what would have been sent.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// Delivery outcomes
const (
	StatusSent      = "sent"
	StatusSimulated = "simulated"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Config carries provider credentials. Empty credentials select simulated mode.
type Config struct {
	SMSUsername  string
	SMSAPIKey    string
	SMSSenderID  string
	SMSEndpoint  string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string
	AdminEmail   string
}

// SMSSender sends a text message to one recipient
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// EmailSender sends a plain-text email
type EmailSender interface {
	SendEmail(ctx context.Context, from string, to []string, subject, body string) error
}

// Result describes what happened on one channel
type Result struct {
	Channel string
	Status  string
	Err     error
}

// Dispatcher fans a new-order event out to SMS and email
type Dispatcher struct {
	cfg    Config
	sms    SMSSender
	email  EmailSender
	logger *zap.Logger
}

// NewDispatcher builds provider clients for every channel that has credentials
func NewDispatcher(cfg Config) *Dispatcher {
	var sms SMSSender
	if cfg.SMSAPIKey != "" {
		sms = NewAfricasTalkingClient(cfg.SMSUsername, cfg.SMSAPIKey, cfg.SMSSenderID, cfg.SMSEndpoint)
	}

	var email EmailSender
	if cfg.SMTPHost != "" {
		email = NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	}

	return NewDispatcherWithSenders(cfg, sms, email)
}

// NewDispatcherWithSenders uses the given senders; a nil sender simulates its channel
func NewDispatcherWithSenders(cfg Config, sms SMSSender, email EmailSender) *Dispatcher {
	logger := util.GetLogger()
	logger.Info("Notification dispatcher configured",
		zap.Bool("sms_simulated", sms == nil),
		zap.Bool("email_simulated", email == nil))

	return &Dispatcher{
		cfg:    cfg,
		sms:    sms,
		email:  email,
		logger: logger,
	}
}

// NotifyNewOrder sends the customer SMS and the admin email. Each channel is
// attempted regardless of the other; failures are logged and joined into the
// returned error.
func (d *Dispatcher) NotifyNewOrder(ctx context.Context, event *models.OrderCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "Dispatcher.NotifyNewOrder")
	defer span.End()

	smsResult := d.SendOrderSMS(ctx, event.CustomerPhone, event.OrderID)
	emailResult := d.SendAdminEmail(ctx, event)

	err := errors.Join(smsResult.Err, emailResult.Err)
	if err != nil {
		util.RecordError(span, err)
	}
	return err
}

// SendOrderSMS texts the customer that the order was placed
func (d *Dispatcher) SendOrderSMS(ctx context.Context, phone string, orderID int64) Result {
	if phone == "" {
		return d.record(Result{Channel: ChannelSMS, Status: StatusSkipped}, orderID)
	}

	message := OrderSMSMessage(orderID)
	if d.sms == nil {
		d.logger.Info("SMS would be sent",
			zap.String("to", phone),
			zap.Int64("order_id", orderID),
			zap.String("message", message))
		return d.record(Result{Channel: ChannelSMS, Status: StatusSimulated}, orderID)
	}

	if err := d.sms.SendSMS(ctx, phone, message); err != nil {
		return d.record(Result{Channel: ChannelSMS, Status: StatusFailed, Err: fmt.Errorf("sms to %s: %w", phone, err)}, orderID)
	}
	return d.record(Result{Channel: ChannelSMS, Status: StatusSent}, orderID)
}

// SendAdminEmail emails the order details to the shop admin
func (d *Dispatcher) SendAdminEmail(ctx context.Context, event *models.OrderCreatedEvent) Result {
	if d.cfg.AdminEmail == "" {
		return d.record(Result{Channel: ChannelEmail, Status: StatusSkipped}, event.OrderID)
	}

	subject, body := AdminEmail(event)
	if d.email == nil {
		d.logger.Info("Admin email would be sent",
			zap.String("to", d.cfg.AdminEmail),
			zap.String("subject", subject),
			zap.Int64("order_id", event.OrderID))
		return d.record(Result{Channel: ChannelEmail, Status: StatusSimulated}, event.OrderID)
	}

	if err := d.email.SendEmail(ctx, d.cfg.EmailFrom, []string{d.cfg.AdminEmail}, subject, body); err != nil {
		return d.record(Result{Channel: ChannelEmail, Status: StatusFailed, Err: fmt.Errorf("admin email: %w", err)}, event.OrderID)
	}
	return d.record(Result{Channel: ChannelEmail, Status: StatusSent}, event.OrderID)
}

func (d *Dispatcher) record(r Result, orderID int64) Result {
	util.NotificationsTotal.WithLabelValues(r.Channel, r.Status).Inc()
	if r.Err != nil {
		d.logger.Error("Notification failed",
			zap.String("channel", r.Channel),
			zap.Int64("order_id", orderID),
			zap.Error(r.Err))
	}
	return r
}

// OrderSMSMessage is the text sent to the customer
func OrderSMSMessage(orderID int64) string {
	return fmt.Sprintf("Hello! Your order #%d has been placed successfully. Thank you!", orderID)
}

// AdminEmail renders the admin notification
func AdminEmail(event *models.OrderCreatedEvent) (subject, body string) {
	subject = fmt.Sprintf("New Order Placed - #%d", event.OrderID)

	var b strings.Builder
	b.WriteString("New order details:\n")
	b.WriteString("=================\n")
	fmt.Fprintf(&b, "Order ID: %d\n", event.OrderID)
	fmt.Fprintf(&b, "Customer: %s (%s)\n", event.CustomerName, event.CustomerEmail)
	fmt.Fprintf(&b, "Phone: %s\n", event.CustomerPhone)
	fmt.Fprintf(&b, "Total Amount: $%s\n", event.TotalAmount.StringFixed(2))
	b.WriteString("\nItems Ordered:\n")
	for _, item := range event.Items {
		fmt.Fprintf(&b, "- %dx %s @ $%s = $%s\n",
			item.Quantity, item.ProductName, item.Price.StringFixed(2), item.Subtotal.StringFixed(2))
	}
	if event.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", event.Notes)
	}
	fmt.Fprintf(&b, "\nOrder placed at: %s\n", event.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	return subject, b.String()
}
