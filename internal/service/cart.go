package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/internal/repository"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

// StockLedger is the reservation protocol the cart depends on.
type StockLedger interface {
	Reserve(ctx context.Context, productID string, quantity int, reference, performedBy string) (bool, error)
	Release(ctx context.Context, productID string, quantity int, reference, performedBy string) (bool, error)
	GetAvailability(ctx context.Context, productID string) (*Availability, error)
}

// CartEventPublisher publishes cart-related domain events.
type CartEventPublisher interface {
	PublishCartAbandoned(ctx context.Context, cart *domain.CartSession) error
}

// CartService manages open cart sessions. Every unit added to a cart holds a
// reservation, so removal and abandonment must give the holds back; a failed
// release is surfaced, never swallowed.
type CartService struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	ledger      StockLedger
	producer    CartEventPublisher
	logger      *slog.Logger
}

// NewCartService creates the cart session service.
func NewCartService(
	cartRepo repository.CartRepository,
	productRepo repository.ProductRepository,
	ledger StockLedger,
	producer CartEventPublisher,
	logger *slog.Logger,
) *CartService {
	return &CartService{
		cartRepo:    cartRepo,
		productRepo: productRepo,
		ledger:      ledger,
		producer:    producer,
		logger:      logger,
	}
}

func cartReference(cartID string) string {
	return "cart:" + cartID
}

// Create opens a new cart session for the operator.
func (s *CartService) Create(ctx context.Context, operatorID, customerID string) (*domain.CartSession, error) {
	if operatorID == "" {
		return nil, apperrors.InvalidInput("operator_id is required")
	}

	cart := &domain.CartSession{
		ID:         uuid.New().String(),
		OperatorID: operatorID,
		CustomerID: customerID,
		Status:     domain.CartStatusActive,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.cartRepo.Save(ctx, cart); err != nil {
		return nil, fmt.Errorf("create cart session: %w", err)
	}

	s.logger.InfoContext(ctx, "cart session created",
		slog.String("cart_id", cart.ID),
		slog.String("operator_id", operatorID),
	)

	return cart, nil
}

// Get fetches a cart session by ID.
func (s *CartService) Get(ctx context.Context, cartID string) (*domain.CartSession, error) {
	return s.cartRepo.GetByID(ctx, cartID)
}

// AddItem reserves the quantity and merges it into the cart. Adding a product
// already in the cart reserves only the additional units and grows the
// existing line.
func (s *CartService) AddItem(ctx context.Context, cartID, productID string, quantity int, discount float64, performedBy string) (*domain.CartSession, error) {
	if quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be positive")
	}
	if discount < 0 || discount > 100 {
		return nil, apperrors.InvalidInput("discount_percentage must be between 0 and 100")
	}

	cart, err := s.cartRepo.GetByID(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.Status != domain.CartStatusActive {
		return nil, apperrors.Conflict(fmt.Sprintf("cart %s is %s", cartID, cart.Status))
	}

	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if !product.Active {
		return nil, apperrors.Conflict(fmt.Sprintf("product %s is inactive", productID))
	}

	reserved, err := s.ledger.Reserve(ctx, productID, quantity, cartReference(cartID), performedBy)
	if err != nil {
		return nil, fmt.Errorf("reserve for cart: %w", err)
	}
	if !reserved {
		sellable := 0
		if avail, err := s.ledger.GetAvailability(ctx, productID); err == nil {
			sellable = avail.Sellable
		}
		return nil, apperrors.InsufficientStock(productID, quantity, sellable)
	}

	cart.AddLine(domain.CartLine{
		ProductID:          productID,
		Description:        product.Name,
		Quantity:           quantity,
		UnitPriceCents:     product.UnitPriceCents,
		DiscountPercentage: discount,
	})

	if err := s.cartRepo.Save(ctx, cart); err != nil {
		// Give the fresh hold back so a failed save does not strand stock.
		if released, relErr := s.ledger.Release(ctx, productID, quantity, cartReference(cartID), performedBy); relErr != nil || !released {
			s.logger.ErrorContext(ctx, "failed to release reservation after cart save failure",
				slog.String("cart_id", cartID),
				slog.String("product_id", productID),
				slog.Int("quantity", quantity),
			)
		}
		return nil, fmt.Errorf("save cart: %w", err)
	}

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("cart_id", cartID),
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
	)

	return cart, nil
}

// RemoveItem releases up to quantity units of the product and shrinks or
// drops the cart line. The release happens before the session is saved: a
// release failure leaves the cart untouched.
func (s *CartService) RemoveItem(ctx context.Context, cartID, productID string, quantity int, performedBy string) (*domain.CartSession, error) {
	if quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be positive")
	}

	cart, err := s.cartRepo.GetByID(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.Status != domain.CartStatusActive {
		return nil, apperrors.Conflict(fmt.Sprintf("cart %s is %s", cartID, cart.Status))
	}

	removed := cart.RemoveLine(productID, quantity)
	if removed == 0 {
		return nil, apperrors.NotFound("cart line", productID)
	}

	released, err := s.ledger.Release(ctx, productID, removed, cartReference(cartID), performedBy)
	if err != nil {
		return nil, fmt.Errorf("release for cart removal: %w", err)
	}
	if !released {
		// The hold this line was supposed to carry is gone. Refuse the
		// removal so the mismatch is investigated instead of papered over.
		return nil, apperrors.InvariantViolation(fmt.Sprintf(
			"cart %s line %s: release of %d units refused", cartID, productID, removed,
		))
	}

	if err := s.cartRepo.Save(ctx, cart); err != nil {
		// The hold is already released; the stale line cannot oversell
		// because finalization re-checks reservations.
		s.logger.ErrorContext(ctx, "failed to save cart after release",
			slog.String("cart_id", cartID),
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("save cart: %w", err)
	}

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("cart_id", cartID),
		slog.String("product_id", productID),
		slog.Int("quantity", removed),
	)

	return cart, nil
}

// Abandon releases every hold the cart carries and removes the session. When
// some releases fail the session is kept with the still-held lines and the
// combined failure is returned, so no reservation is ever dropped silently.
func (s *CartService) Abandon(ctx context.Context, cartID, performedBy string) error {
	cart, err := s.cartRepo.GetByID(ctx, cartID)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	if cart.Status != domain.CartStatusActive {
		return apperrors.Conflict(fmt.Sprintf("cart %s is %s", cartID, cart.Status))
	}

	var failures []error
	var remaining []domain.CartLine

	for _, line := range cart.Lines {
		released, err := s.ledger.Release(ctx, line.ProductID, line.Quantity, cartReference(cartID), performedBy)
		if err != nil {
			failures = append(failures, fmt.Errorf("release %d of %s: %w", line.Quantity, line.ProductID, err))
			remaining = append(remaining, line)
			continue
		}
		if !released {
			failures = append(failures, apperrors.InvariantViolation(fmt.Sprintf(
				"release of %d units of %s refused", line.Quantity, line.ProductID,
			)))
			remaining = append(remaining, line)
		}
	}

	if len(failures) > 0 {
		cart.Lines = remaining
		if err := s.cartRepo.Save(ctx, cart); err != nil {
			failures = append(failures, fmt.Errorf("save cart with unreleased lines: %w", err))
		}
		s.logger.ErrorContext(ctx, "cart abandonment left unreleased reservations",
			slog.String("cart_id", cartID),
			slog.Int("unreleased_lines", len(remaining)),
		)
		return fmt.Errorf("abandon cart %s: %w", cartID, errors.Join(failures...))
	}

	if err := s.cartRepo.Delete(ctx, cartID); err != nil {
		return fmt.Errorf("delete abandoned cart: %w", err)
	}

	if err := s.producer.PublishCartAbandoned(ctx, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.abandoned event",
			slog.String("cart_id", cartID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart abandoned",
		slog.String("cart_id", cartID),
		slog.Int("line_count", len(cart.Lines)),
	)

	return nil
}

// ReleaseExpired releases the reservations of sessions whose cart key expired
// before the cart was finalized or abandoned. Releases that fail with an error
// stay in the holds mirror for the next sweep; a refused release means the
// counters already disagree, so the hold is dropped after logging because
// retrying can never succeed.
func (s *CartService) ReleaseExpired(ctx context.Context) error {
	orphans, err := s.cartRepo.OrphanedSessions(ctx)
	if err != nil {
		return fmt.Errorf("list orphaned cart sessions: %w", err)
	}

	var failures []error

	for i := range orphans {
		cart := &orphans[i]

		s.logger.WarnContext(ctx, "cart session expired with outstanding reservations",
			slog.String("cart_id", cart.ID),
			slog.Int("line_count", len(cart.Lines)),
		)

		var remaining []domain.CartLine
		for _, line := range cart.Lines {
			released, err := s.ledger.Release(ctx, line.ProductID, line.Quantity, cartReference(cart.ID), domain.SystemActor.ID)
			if err != nil {
				failures = append(failures, fmt.Errorf("release %d of %s for expired cart %s: %w",
					line.Quantity, line.ProductID, cart.ID, err))
				remaining = append(remaining, line)
				continue
			}
			if !released {
				failures = append(failures, apperrors.InvariantViolation(fmt.Sprintf(
					"expired cart %s: release of %d units of %s refused", cart.ID, line.Quantity, line.ProductID,
				)))
			}
		}

		if err := s.cartRepo.UpdateHolds(ctx, cart.ID, remaining); err != nil {
			failures = append(failures, fmt.Errorf("update holds for expired cart %s: %w", cart.ID, err))
			continue
		}

		if len(remaining) == 0 {
			if err := s.producer.PublishCartAbandoned(ctx, cart); err != nil {
				s.logger.ErrorContext(ctx, "failed to publish cart.abandoned event",
					slog.String("cart_id", cart.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	return nil
}
