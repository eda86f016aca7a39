package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/pkg/kafka"
)

// Topics for point-of-sale domain events.
const (
	TopicStockUpdated  = "pos.stock.updated"
	TopicStockReserved = "pos.stock.reserved"
	TopicStockReleased = "pos.stock.released"
	TopicSaleCompleted = "pos.sale.completed"
	TopicCartAbandoned = "pos.cart.abandoned"
)

const source = "salepoint"

// Publisher is the subset of the Kafka producer used by the event layer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// Producer publishes point-of-sale domain events. Publishing happens after
// the database transaction commits; failures are logged by callers and never
// fail the operation.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a domain event producer.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, logger: logger}
}

// StockUpdatedPayload is the body of pos.stock.updated events.
type StockUpdatedPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

// PublishStockUpdated announces a change to a product's on-hand quantity.
func (p *Producer) PublishStockUpdated(ctx context.Context, record *domain.StockRecord) error {
	payload := StockUpdatedPayload{
		ProductID: record.ProductID,
		Quantity:  record.Quantity,
		Reserved:  record.Reserved,
		Available: record.Available(),
	}
	return p.publish(ctx, TopicStockUpdated, "stock.updated", record.ProductID, "stock_record", payload)
}

// ReservationPayload is the body of reservation and release events.
type ReservationPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference,omitempty"`
}

// PublishStockReserved announces a successful reservation.
func (p *Producer) PublishStockReserved(ctx context.Context, productID string, quantity int, reference string) error {
	payload := ReservationPayload{ProductID: productID, Quantity: quantity, Reference: reference}
	return p.publish(ctx, TopicStockReserved, "stock.reserved", productID, "stock_record", payload)
}

// PublishStockReleased announces a released reservation.
func (p *Producer) PublishStockReleased(ctx context.Context, productID string, quantity int, reference string) error {
	payload := ReservationPayload{ProductID: productID, Quantity: quantity, Reference: reference}
	return p.publish(ctx, TopicStockReleased, "stock.released", productID, "stock_record", payload)
}

// SaleCompletedPayload is the body of pos.sale.completed events.
type SaleCompletedPayload struct {
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	CashierID     string `json:"cashier_id"`
	TotalCents    int64  `json:"total_cents"`
	LineCount     int    `json:"line_count"`
}

// PublishSaleCompleted announces a finalized sale.
func (p *Producer) PublishSaleCompleted(ctx context.Context, invoice *domain.Invoice) error {
	payload := SaleCompletedPayload{
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.Number,
		CashierID:     invoice.CashierID,
		TotalCents:    invoice.TotalCents,
		LineCount:     len(invoice.Lines),
	}
	return p.publish(ctx, TopicSaleCompleted, "sale.completed", invoice.ID, "invoice", payload)
}

// CartAbandonedPayload is the body of pos.cart.abandoned events.
type CartAbandonedPayload struct {
	CartID     string `json:"cart_id"`
	OperatorID string `json:"operator_id"`
	LineCount  int    `json:"line_count"`
}

// PublishCartAbandoned announces an abandoned cart session.
func (p *Producer) PublishCartAbandoned(ctx context.Context, cart *domain.CartSession) error {
	payload := CartAbandonedPayload{
		CartID:     cart.ID,
		OperatorID: cart.OperatorID,
		LineCount:  len(cart.Lines),
	}
	return p.publish(ctx, TopicCartAbandoned, "cart.abandoned", cart.ID, "cart_session", payload)
}

func (p *Producer) publish(ctx context.Context, topic, eventType, aggregateID, aggregateType string, payload any) error {
	evt, err := kafka.NewEvent(eventType, aggregateID, aggregateType, source, payload)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	return p.publisher.Publish(ctx, topic, evt)
}
