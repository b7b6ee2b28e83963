package store

import (
	"context"
	"database/sql"
	"errors"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/google/uuid"
)

const cartItemColumns = "id, cart_id, product_id, variant_id, quantity, price"

// GetCartByOwner returns the cart of a user or guest session
func (q *Queries) GetCartByOwner(ctx context.Context, owner models.CartOwner) (*models.Cart, error) {
	var (
		cart  models.Cart
		err   error
		query = "SELECT id, user_id, session_id, created_at, updated_at FROM carts "
	)
	if owner.IsUser() {
		err = q.get(ctx, &cart, query+"WHERE user_id = $1 ORDER BY created_at LIMIT 1", owner.UserID())
	} else {
		err = q.get(ctx, &cart, query+"WHERE session_id = $1 AND user_id IS NULL ORDER BY created_at LIMIT 1", owner.SessionID())
	}
	if err != nil {
		return nil, dbErr(err, "get cart", "cart")
	}
	return &cart, nil
}

// CreateCart inserts a new cart row
func (q *Queries) CreateCart(ctx context.Context, cart *models.Cart) error {
	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	err := q.get(ctx, cart, `
		INSERT INTO carts (id, user_id, session_id)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, session_id, created_at, updated_at`,
		cart.ID, cart.UserID, cart.SessionID)
	if err != nil {
		return apperr.Persistence("create cart", err)
	}
	return nil
}

// ReassignCart hands a guest cart to a user and drops its session key.
func (q *Queries) ReassignCart(ctx context.Context, cartID, userID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE carts SET user_id = $1, session_id = NULL, updated_at = NOW()
		WHERE id = $2`, userID, cartID)
	if err != nil {
		return apperr.Persistence("reassign cart", err)
	}
	return requireOneRow(res, "cart %s", cartID)
}

// DeleteCart removes a cart; its lines go with it.
func (q *Queries) DeleteCart(ctx context.Context, cartID string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM carts WHERE id = $1", cartID)
	if err != nil {
		return apperr.Persistence("delete cart", err)
	}
	return requireOneRow(res, "cart %s", cartID)
}

// LockCart takes a row lock on the cart so concurrent checkouts of the same
// cart serialise.
func (q *Queries) LockCart(ctx context.Context, cartID string) error {
	var id string
	if err := q.get(ctx, &id, "SELECT id FROM carts WHERE id = $1 FOR UPDATE", cartID); err != nil {
		return dbErr(err, "lock cart", "cart %s", cartID)
	}
	return nil
}

// GetCartLines returns cart items joined with live product and variant data
func (q *Queries) GetCartLines(ctx context.Context, cartID string) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := q.sel(ctx, &lines, `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.variant_id, ci.quantity, ci.price,
		       p.name AS product_name, p.tax_rate, pv.name AS variant_name
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		LEFT JOIN product_variants pv ON pv.id = ci.variant_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.id`, cartID)
	if err != nil {
		return nil, apperr.Persistence("get cart lines", err)
	}
	return lines, nil
}

// GetCartItem retrieves a single cart item
func (q *Queries) GetCartItem(ctx context.Context, itemID string) (*models.CartItem, error) {
	var item models.CartItem
	err := q.get(ctx, &item, "SELECT "+cartItemColumns+" FROM cart_items WHERE id = $1", itemID)
	if err != nil {
		return nil, dbErr(err, "get cart item", "cart item %s", itemID)
	}
	return &item, nil
}

// FindCartItem returns the line for product+variant in a cart, or nil if absent
func (q *Queries) FindCartItem(ctx context.Context, cartID, productID string, variantID *string) (*models.CartItem, error) {
	var item models.CartItem
	err := q.get(ctx, &item, `
		SELECT `+cartItemColumns+` FROM cart_items
		WHERE cart_id = $1 AND product_id = $2 AND variant_id IS NOT DISTINCT FROM $3`,
		cartID, productID, variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("find cart item", err)
	}
	return &item, nil
}

// CreateCartItem inserts a cart line with its captured price
func (q *Queries) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, variant_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.CartID, item.ProductID, item.VariantID, item.Quantity, item.Price)
	if err != nil {
		return apperr.Persistence("create cart item", err)
	}
	return nil
}

// UpdateCartItemQuantity sets the quantity of a cart line
func (q *Queries) UpdateCartItemQuantity(ctx context.Context, itemID string, quantity int) error {
	res, err := q.db.ExecContext(ctx, "UPDATE cart_items SET quantity = $1 WHERE id = $2", quantity, itemID)
	if err != nil {
		return apperr.Persistence("update cart item", err)
	}
	return requireOneRow(res, "cart item %s", itemID)
}

// DeleteCartItem removes a cart line
func (q *Queries) DeleteCartItem(ctx context.Context, itemID string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1", itemID)
	if err != nil {
		return apperr.Persistence("delete cart item", err)
	}
	return requireOneRow(res, "cart item %s", itemID)
}

// ClearCart deletes every line of a cart. The cart row itself is kept.
func (q *Queries) ClearCart(ctx context.Context, cartID string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID)
	if err != nil {
		return apperr.Persistence("clear cart", err)
	}
	return nil
}

func requireOneRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence("rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound(format, args...)
	}
	return nil
}
