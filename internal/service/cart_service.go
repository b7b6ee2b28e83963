package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService reads and edits the cart of a guest session or user.
type CartService struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo store.Repository) *CartService {
	return &CartService{repo: repo, logger: util.GetLogger()}
}

// CartView is a cart with its priced lines.
type CartView struct {
	Cart      *models.Cart      `json:"cart"`
	Items     []models.CartLine `json:"items"`
	Subtotal  models.Money      `json:"subtotal"`
	ItemCount int               `json:"item_count"`
}

// ResolveCart returns the owner's cart. When create is set a missing cart is
// created, otherwise a not-found error is returned.
func (s *CartService) ResolveCart(ctx context.Context, owner models.CartOwner, create bool) (*models.Cart, error) {
	if owner.IsZero() {
		return nil, apperr.Validation("a session or user is required")
	}

	cart, err := s.repo.GetCartByOwner(ctx, owner)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) || !create {
		return nil, err
	}

	cart = &models.Cart{}
	if owner.IsUser() {
		id := owner.UserID()
		cart.UserID = &id
	} else {
		sid := owner.SessionID()
		cart.SessionID = &sid
	}
	if err := s.repo.CreateCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return cart, nil
}

// GetCart returns the owner's cart view. An owner without a cart gets an
// empty view.
func (s *CartService) GetCart(ctx context.Context, owner models.CartOwner) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	cart, err := s.ResolveCart(ctx, owner, false)
	if errors.Is(err, apperr.ErrNotFound) {
		return &CartView{Items: []models.CartLine{}, Subtotal: models.NewMoney(decimal.Zero)}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.view(ctx, cart)
}

func (s *CartService) view(ctx context.Context, cart *models.Cart) (*CartView, error) {
	lines, err := s.repo.GetCartLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}

	subtotal := decimal.Zero
	count := 0
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal())
		count += l.Quantity
	}
	return &CartView{Cart: cart, Items: lines, Subtotal: models.NewMoney(subtotal), ItemCount: count}, nil
}

// AddItem adds quantity of a product (and optional variant) to the cart. The
// unit price is captured now and not refreshed later. Adding a product that
// is already in the cart increases the existing line.
func (s *CartService) AddItem(ctx context.Context, owner models.CartOwner, productID string, variantID *string, quantity int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity < 1 {
		return nil, apperr.Validation("quantity must be at least 1")
	}

	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, apperr.Validation("product is not available")
	}

	price := product.Price
	stock := product.Stock
	if variantID != nil {
		variant, err := s.repo.GetVariantByID(ctx, *variantID)
		if err != nil {
			return nil, err
		}
		if variant.ProductID != product.ID {
			return nil, apperr.Validation("variant does not belong to product")
		}
		if variant.Price.Valid {
			price = models.NewMoney(variant.Price.Decimal)
		}
		stock = variant.Stock
	}

	cart, err := s.ResolveCart(ctx, owner, true)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(q store.Querier) error {
		existing, err := q.FindCartItem(ctx, cart.ID, product.ID, variantID)
		if err != nil {
			return err
		}
		wanted := quantity
		if existing != nil {
			wanted += existing.Quantity
		}
		if wanted > stock {
			return apperr.Validation("only %d left in stock", stock)
		}
		if existing != nil {
			return q.UpdateCartItemQuantity(ctx, existing.ID, wanted)
		}
		return q.CreateCartItem(ctx, &models.CartItem{
			CartID:    cart.ID,
			ProductID: product.ID,
			VariantID: variantID,
			Quantity:  quantity,
			Price:     price,
		})
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Debug("Cart item added",
		zap.String("cart_id", cart.ID),
		zap.String("product_id", product.ID),
		zap.Int("quantity", quantity))
	return s.view(ctx, cart)
}

// UpdateItem sets the quantity of a line in the owner's cart.
func (s *CartService) UpdateItem(ctx context.Context, owner models.CartOwner, itemID string, quantity int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem")
	defer span.End()

	if quantity < 1 {
		return nil, apperr.Validation("quantity must be at least 1")
	}
	cart, err := s.ownedItemCart(ctx, owner, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateCartItemQuantity(ctx, itemID, quantity); err != nil {
		return nil, err
	}
	return s.view(ctx, cart)
}

// RemoveItem deletes a line from the owner's cart.
func (s *CartService) RemoveItem(ctx context.Context, owner models.CartOwner, itemID string) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	cart, err := s.ownedItemCart(ctx, owner, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteCartItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.view(ctx, cart)
}

// MergeGuestCart moves the session's guest cart to userID after login. A user
// without a cart takes the guest cart over; otherwise the guest lines are
// merged into the user's cart with their captured prices and the guest cart
// is deleted. It is a no-op when the session has no cart.
func (s *CartService) MergeGuestCart(ctx context.Context, sessionID, userID string) error {
	ctx, span := util.StartSpan(ctx, "CartService.MergeGuestCart")
	defer span.End()

	if sessionID == "" || userID == "" {
		return apperr.Validation("a session and user are required")
	}

	merged := 0
	err := s.repo.WithTx(ctx, func(q store.Querier) error {
		guest, err := q.GetCartByOwner(ctx, models.GuestOwner(sessionID))
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := q.LockCart(ctx, guest.ID); err != nil {
			return err
		}

		target, err := q.GetCartByOwner(ctx, models.UserOwner(userID))
		if errors.Is(err, apperr.ErrNotFound) {
			merged = -1
			return q.ReassignCart(ctx, guest.ID, userID)
		}
		if err != nil {
			return err
		}

		lines, err := q.GetCartLines(ctx, guest.ID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			existing, err := q.FindCartItem(ctx, target.ID, line.ProductID, line.VariantID)
			if err != nil {
				return err
			}
			if existing != nil {
				err = q.UpdateCartItemQuantity(ctx, existing.ID, existing.Quantity+line.Quantity)
			} else {
				err = q.CreateCartItem(ctx, &models.CartItem{
					CartID:    target.ID,
					ProductID: line.ProductID,
					VariantID: line.VariantID,
					Quantity:  line.Quantity,
					Price:     line.Price,
				})
			}
			if err != nil {
				return err
			}
			merged++
		}
		return q.DeleteCart(ctx, guest.ID)
	})
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	if merged < 0 {
		s.logger.Info("Guest cart reassigned", zap.String("user_id", userID))
	} else if merged > 0 {
		s.logger.Info("Guest cart merged", zap.String("user_id", userID), zap.Int("lines", merged))
	}
	return nil
}

// ownedItemCart returns the owner's cart if it holds itemID. Items of other
// carts are reported as not found.
func (s *CartService) ownedItemCart(ctx context.Context, owner models.CartOwner, itemID string) (*models.Cart, error) {
	cart, err := s.ResolveCart(ctx, owner, false)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.GetCartItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.CartID != cart.ID {
		return nil, apperr.NotFound("cart item %s", itemID)
	}
	return cart, nil
}
