package shop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xhbook/internal/components/telemetry"
	"xhbook/internal/gateway"
	"xhbook/lib/platforms/xinhua"
)

const report_shop_poll = "shop.poll"

var (
	ErrEmptySelection = errors.New("no books selected")
	// ErrNotPayable is returned for operations that need an unpaid order
	ErrNotPayable  = errors.New("order is not awaiting payment")
	ErrBadInterval = errors.New("poll interval must be positive")
)

// Platform is the part of the platform client the shop uses.
type Platform interface {
	Books(ctx context.Context, studentID string) ([]xinhua.Book, error)
	BuildOrder(ctx context.Context, studentID string, books []xinhua.Book) (string, error)
	Order(ctx context.Context, studentID, orderID string) (xinhua.Order, error)
	Orders(ctx context.Context, studentID string) ([]xinhua.Order, error)
	AbortOrder(ctx context.Context, studentID, orderID string) error
	PaymentURL(ctx context.Context, method xinhua.PaymentMethod, orderID string, amount float64) (string, error)
	QRCode(ctx context.Context, paymentURL string) ([]byte, error)
}

// Identity yields the student the shop acts for.
type Identity interface {
	StudentID() string
}

type Shop struct {
	platform Platform
	identity Identity
	tel      telemetry.API
}

func New(platform Platform, identity Identity, tel telemetry.API) *Shop {
	return &Shop{
		platform: platform,
		identity: identity,
		tel:      telemetry.NewScopedAPI("shop", tel),
	}
}

// IsPayable reports whether the order still waits for payment.
func IsPayable(order xinhua.Order) bool {
	return order.Status == xinhua.StatusUnpaid && !order.Paid
}

func (s *Shop) Books(ctx context.Context) ([]xinhua.Book, error) {
	return s.platform.Books(ctx, s.identity.StudentID())
}

// PlaceOrder orders the selected books and returns the new order id.
func (s *Shop) PlaceOrder(ctx context.Context, selection *Selection) (string, error) {
	books := selection.Selected()
	if len(books) == 0 {
		return "", ErrEmptySelection
	}
	return s.platform.BuildOrder(ctx, s.identity.StudentID(), books)
}

func (s *Shop) Order(ctx context.Context, orderID string) (xinhua.Order, error) {
	return s.platform.Order(ctx, s.identity.StudentID(), orderID)
}

func (s *Shop) Orders(ctx context.Context) ([]xinhua.Order, error) {
	return s.platform.Orders(ctx, s.identity.StudentID())
}

func (s *Shop) Cancel(ctx context.Context, order xinhua.Order) error {
	if !IsPayable(order) {
		return fmt.Errorf("%w: %s", ErrNotPayable, order.Status)
	}
	return s.platform.AbortOrder(ctx, s.identity.StudentID(), order.OrderID)
}

func (s *Shop) PaymentURL(ctx context.Context, order xinhua.Order, method xinhua.PaymentMethod) (string, error) {
	if !IsPayable(order) {
		return "", fmt.Errorf("%w: %s", ErrNotPayable, order.Status)
	}
	return s.platform.PaymentURL(ctx, method, order.OrderID, order.Amount)
}

func (s *Shop) QRCode(ctx context.Context, paymentURL string) ([]byte, error) {
	return s.platform.QRCode(ctx, paymentURL)
}

// WaitForPayment checks the order once per interval until it is settled or
// ctx ends. Transport failures are tolerated, the next tick tries again.
func (s *Shop) WaitForPayment(ctx context.Context, orderID string, interval time.Duration) (xinhua.Order, error) {
	if interval <= 0 {
		return xinhua.Order{}, fmt.Errorf("%w: %s", ErrBadInterval, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		order, err := s.Order(ctx, orderID)
		var transport *gateway.TransportError
		switch {
		case err == nil && order.Settled():
			return order, nil
		case errors.As(err, &transport):
			s.tel.ReportWarning(report_shop_poll, orderID, err)
		case err != nil:
			return xinhua.Order{}, err
		}

		select {
		case <-ctx.Done():
			return xinhua.Order{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
