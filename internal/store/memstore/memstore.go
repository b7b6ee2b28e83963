// Package memstore is an in-memory store.Repository. Transactions are
// serialised behind one mutex and roll back by restoring a snapshot, so it
// keeps the all-or-nothing behaviour of the Postgres store for tests and
// local runs without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type state struct {
	users      map[string]string // id -> role
	products   map[string]models.Product
	variants   map[string]models.ProductVariant
	addresses  map[string]models.Address
	coupons    map[string]models.Coupon
	carts      map[string]models.Cart
	cartItems  []models.CartItem
	orders     []models.Order
	orderItems map[string][]models.OrderItem
	payments   []models.Payment
}

func newState() *state {
	return &state{
		users:      map[string]string{},
		products:   map[string]models.Product{},
		variants:   map[string]models.ProductVariant{},
		addresses:  map[string]models.Address{},
		coupons:    map[string]models.Coupon{},
		carts:      map[string]models.Cart{},
		orderItems: map[string][]models.OrderItem{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.variants {
		c.variants[k] = v
	}
	for k, v := range st.addresses {
		c.addresses[k] = v
	}
	for k, v := range st.coupons {
		c.coupons[k] = v
	}
	for k, v := range st.carts {
		c.carts[k] = v
	}
	for k, v := range st.orderItems {
		c.orderItems[k] = append([]models.OrderItem(nil), v...)
	}
	c.cartItems = append([]models.CartItem(nil), st.cartItems...)
	c.orders = append([]models.Order(nil), st.orders...)
	c.payments = append([]models.Payment(nil), st.payments...)
	return c
}

// Store is an in-memory Repository.
type Store struct {
	*queries

	mu     sync.Mutex
	data   *state
	failOn map[string]error
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	s := &Store{data: newState(), failOn: map[string]error{}}
	s.queries = &queries{s: s}
	return s
}

// FailOn makes every later call of the named Querier method return err.
// Passing a nil err clears the fault.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, method)
		return
	}
	s.failOn[method] = err
}

// WithTx runs fn with exclusive access to the data. If fn fails or panics
// every change it made is discarded.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Querier) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.data = snapshot
			panic(p)
		}
	}()

	if err := fn(&queries{s: s, inTx: true}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// AddUser registers a user with role CUSTOMER or ADMIN.
func (s *Store) AddUser(id, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[id] = role
}

func (s *Store) AddProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.data.products[p.ID] = p
}

func (s *Store) AddVariant(v models.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.variants[v.ID] = v
}

func (s *Store) AddAddress(a models.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.addresses[a.ID] = a
}

// Coupon returns the stored coupon with the given ID.
func (s *Store) Coupon(id string) (models.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.coupons[id]
	return c, ok
}

// Orders returns every stored order in creation order.
func (s *Store) Orders() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Order(nil), s.data.orders...)
}

// RemoveOrder drops an order row while leaving its payments, a state the
// database foreign keys normally prevent.
func (s *Store) RemoveOrder(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.data.orders[:0:0]
	for _, o := range s.data.orders {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	s.data.orders = kept
	delete(s.data.orderItems, id)
}

// Payments returns every stored payment in creation order.
func (s *Store) Payments() []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Payment(nil), s.data.payments...)
}

// queries implements store.Querier. Outside a transaction each call takes
// the store mutex itself.
type queries struct {
	s    *Store
	inTx bool
}

func (q *queries) lock() func() {
	if q.inTx {
		return func() {}
	}
	q.s.mu.Lock()
	return q.s.mu.Unlock
}

func (q *queries) fail(method string) error {
	if err, ok := q.s.failOn[method]; ok {
		return apperr.Persistence(method, err)
	}
	return nil
}

func (q *queries) st() *state {
	return q.s.data
}

func now() time.Time {
	return time.Now().UTC()
}

func (q *queries) GetCartByOwner(ctx context.Context, owner models.CartOwner) (*models.Cart, error) {
	defer q.lock()()

	var found *models.Cart
	for _, c := range q.st().carts {
		c := c
		if !owner.Owns(&c) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = &c
		}
	}
	if found == nil {
		return nil, apperr.NotFound("cart")
	}
	return found, nil
}

func (q *queries) CreateCart(ctx context.Context, cart *models.Cart) error {
	defer q.lock()()
	if err := q.fail("CreateCart"); err != nil {
		return err
	}
	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	cart.CreatedAt = now()
	cart.UpdatedAt = cart.CreatedAt
	q.st().carts[cart.ID] = *cart
	return nil
}

func (q *queries) ReassignCart(ctx context.Context, cartID, userID string) error {
	defer q.lock()()
	if err := q.fail("ReassignCart"); err != nil {
		return err
	}
	cart, ok := q.st().carts[cartID]
	if !ok {
		return apperr.NotFound("cart %s", cartID)
	}
	cart.UserID = &userID
	cart.SessionID = nil
	cart.UpdatedAt = now()
	q.st().carts[cartID] = cart
	return nil
}

func (q *queries) DeleteCart(ctx context.Context, cartID string) error {
	defer q.lock()()
	if err := q.fail("DeleteCart"); err != nil {
		return err
	}
	if _, ok := q.st().carts[cartID]; !ok {
		return apperr.NotFound("cart %s", cartID)
	}
	delete(q.st().carts, cartID)
	kept := q.st().cartItems[:0:0]
	for _, item := range q.st().cartItems {
		if item.CartID != cartID {
			kept = append(kept, item)
		}
	}
	q.st().cartItems = kept
	return nil
}

func (q *queries) LockCart(ctx context.Context, cartID string) error {
	defer q.lock()()
	if _, ok := q.st().carts[cartID]; !ok {
		return apperr.NotFound("cart %s", cartID)
	}
	return nil
}

func (q *queries) GetCartLines(ctx context.Context, cartID string) ([]models.CartLine, error) {
	defer q.lock()()
	if err := q.fail("GetCartLines"); err != nil {
		return nil, err
	}

	lines := []models.CartLine{}
	for _, item := range q.st().cartItems {
		if item.CartID != cartID {
			continue
		}
		product, ok := q.st().products[item.ProductID]
		if !ok {
			continue
		}
		line := models.CartLine{CartItem: item, ProductName: product.Name, TaxRate: product.TaxRate}
		if item.VariantID != nil {
			if v, ok := q.st().variants[*item.VariantID]; ok {
				name := v.Name
				line.VariantName = &name
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (q *queries) GetCartItem(ctx context.Context, itemID string) (*models.CartItem, error) {
	defer q.lock()()
	for _, item := range q.st().cartItems {
		if item.ID == itemID {
			item := item
			return &item, nil
		}
	}
	return nil, apperr.NotFound("cart item %s", itemID)
}

func (q *queries) FindCartItem(ctx context.Context, cartID, productID string, variantID *string) (*models.CartItem, error) {
	defer q.lock()()
	for _, item := range q.st().cartItems {
		if item.CartID == cartID && item.ProductID == productID && sameVariant(item.VariantID, variantID) {
			item := item
			return &item, nil
		}
	}
	return nil, nil
}

func sameVariant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (q *queries) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	defer q.lock()()
	if err := q.fail("CreateCartItem"); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	q.st().cartItems = append(q.st().cartItems, *item)
	return nil
}

func (q *queries) UpdateCartItemQuantity(ctx context.Context, itemID string, quantity int) error {
	defer q.lock()()
	if err := q.fail("UpdateCartItemQuantity"); err != nil {
		return err
	}
	for i := range q.st().cartItems {
		if q.st().cartItems[i].ID == itemID {
			q.st().cartItems[i].Quantity = quantity
			return nil
		}
	}
	return apperr.NotFound("cart item %s", itemID)
}

func (q *queries) DeleteCartItem(ctx context.Context, itemID string) error {
	defer q.lock()()
	if err := q.fail("DeleteCartItem"); err != nil {
		return err
	}
	items := q.st().cartItems
	for i := range items {
		if items[i].ID == itemID {
			q.st().cartItems = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("cart item %s", itemID)
}

func (q *queries) ClearCart(ctx context.Context, cartID string) error {
	defer q.lock()()
	if err := q.fail("ClearCart"); err != nil {
		return err
	}
	kept := q.st().cartItems[:0:0]
	for _, item := range q.st().cartItems {
		if item.CartID != cartID {
			kept = append(kept, item)
		}
	}
	q.st().cartItems = kept
	return nil
}

func (q *queries) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	defer q.lock()()
	p, ok := q.st().products[id]
	if !ok {
		return nil, apperr.NotFound("product %s", id)
	}
	return &p, nil
}

func (q *queries) GetVariantByID(ctx context.Context, id string) (*models.ProductVariant, error) {
	defer q.lock()()
	v, ok := q.st().variants[id]
	if !ok {
		return nil, apperr.NotFound("variant %s", id)
	}
	return &v, nil
}

func (q *queries) GetAddress(ctx context.Context, id string) (*models.Address, error) {
	defer q.lock()()
	a, ok := q.st().addresses[id]
	if !ok {
		return nil, apperr.NotFound("address %s", id)
	}
	return &a, nil
}

func (q *queries) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	defer q.lock()()
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range q.st().coupons {
		if c.Code == code {
			c := c
			return &c, nil
		}
	}
	return nil, apperr.NotFound("coupon %s", code)
}

func (q *queries) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	defer q.lock()()
	coupons := make([]models.Coupon, 0, len(q.st().coupons))
	for _, c := range q.st().coupons {
		coupons = append(coupons, c)
	}
	sort.Slice(coupons, func(i, j int) bool {
		if coupons[i].CreatedAt.Equal(coupons[j].CreatedAt) {
			return coupons[i].Code < coupons[j].Code
		}
		return coupons[i].CreatedAt.After(coupons[j].CreatedAt)
	})
	return coupons, nil
}

func (q *queries) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	defer q.lock()()
	if err := q.fail("CreateCoupon"); err != nil {
		return err
	}
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	for _, existing := range q.st().coupons {
		if existing.Code == c.Code {
			return apperr.Persistence("create coupon", fmt.Errorf("duplicate code %s", c.Code))
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = now()
	q.st().coupons[c.ID] = *c
	return nil
}

func (q *queries) IncrementCouponUsage(ctx context.Context, couponID string) (bool, error) {
	defer q.lock()()
	if err := q.fail("IncrementCouponUsage"); err != nil {
		return false, err
	}
	c, ok := q.st().coupons[couponID]
	if !ok {
		return false, nil
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return false, nil
	}
	c.UsedCount++
	q.st().coupons[couponID] = c
	return true, nil
}

func (q *queries) CreateOrder(ctx context.Context, order *models.Order) error {
	defer q.lock()()
	if err := q.fail("CreateOrder"); err != nil {
		return err
	}
	for _, o := range q.st().orders {
		if o.OrderNumber == order.OrderNumber {
			return apperr.Persistence("create order", fmt.Errorf("duplicate order number %s", order.OrderNumber))
		}
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.CreatedAt = now()
	order.UpdatedAt = order.CreatedAt
	q.st().orders = append(q.st().orders, *order)
	return nil
}

func (q *queries) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	defer q.lock()()
	if err := q.fail("CreateOrderItem"); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	q.st().orderItems[item.OrderID] = append(q.st().orderItems[item.OrderID], *item)
	return nil
}

func (q *queries) findOrder(match func(models.Order) bool) (*models.Order, bool) {
	for _, o := range q.st().orders {
		if match(o) {
			o := o
			return &o, true
		}
	}
	return nil, false
}

func (q *queries) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	defer q.lock()()
	if o, ok := q.findOrder(func(o models.Order) bool { return o.ID == id }); ok {
		return o, nil
	}
	return nil, apperr.NotFound("order %s", id)
}

func (q *queries) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return q.GetOrderByID(ctx, id)
}

func (q *queries) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	defer q.lock()()
	if o, ok := q.findOrder(func(o models.Order) bool { return o.OrderNumber == orderNumber }); ok {
		return o, nil
	}
	return nil, apperr.NotFound("order %s", orderNumber)
}

func (q *queries) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	defer q.lock()()
	orders := []models.Order{}
	for i := len(q.st().orders) - 1; i >= 0; i-- {
		o := q.st().orders[i]
		if userID == "" || o.UserID == userID {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (q *queries) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	defer q.lock()()
	return append([]models.OrderItem{}, q.st().orderItems[orderID]...), nil
}

func (q *queries) UpdateOrderLifecycle(ctx context.Context, order *models.Order) error {
	defer q.lock()()
	if err := q.fail("UpdateOrderLifecycle"); err != nil {
		return err
	}
	for i := range q.st().orders {
		o := &q.st().orders[i]
		if o.ID != order.ID {
			continue
		}
		o.Status = order.Status
		o.PaidAt = order.PaidAt
		o.ShippedAt = order.ShippedAt
		o.DeliveredAt = order.DeliveredAt
		o.UpdatedAt = now()
		order.UpdatedAt = o.UpdatedAt
		return nil
	}
	return apperr.NotFound("order %s", order.ID)
}

func (q *queries) CreatePayment(ctx context.Context, payment *models.Payment) error {
	defer q.lock()()
	if err := q.fail("CreatePayment"); err != nil {
		return err
	}
	payment.CreatedAt = now()
	payment.UpdatedAt = payment.CreatedAt
	q.st().payments = append(q.st().payments, *payment)
	return nil
}

func (q *queries) GetPaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	defer q.lock()()
	for _, p := range q.st().payments {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, apperr.NotFound("payment %s", id)
}

func (q *queries) GetPaymentForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	return q.GetPaymentByID(ctx, id)
}

func (q *queries) GetLatestPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	defer q.lock()()
	for i := len(q.st().payments) - 1; i >= 0; i-- {
		if p := q.st().payments[i]; p.OrderID == orderID {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("payment for order %s", orderID)
}

func (q *queries) CompletePayment(ctx context.Context, id, transactionCode, responseData string) error {
	defer q.lock()()
	if err := q.fail("CompletePayment"); err != nil {
		return err
	}
	for i := range q.st().payments {
		p := &q.st().payments[i]
		if p.ID != id {
			continue
		}
		p.Status = models.PaymentStatusCompleted
		p.TransactionID = &transactionCode
		p.ResponseData = &responseData
		p.UpdatedAt = now()
		return nil
	}
	return apperr.NotFound("payment %s", id)
}

func (q *queries) GetDashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	defer q.lock()()

	stats := &models.DashboardStats{
		TotalOrders:   len(q.st().orders),
		TotalProducts: len(q.st().products),
		RecentOrders:  []models.Order{},
	}
	revenue := decimal.Zero
	for _, o := range q.st().orders {
		switch o.Status {
		case models.OrderStatusPaid, models.OrderStatusProcessing,
			models.OrderStatusShipped, models.OrderStatusDelivered:
			revenue = revenue.Add(o.Total.Decimal)
		}
	}
	stats.TotalRevenue = models.NewMoney(revenue)
	for _, role := range q.st().users {
		if role == "CUSTOMER" {
			stats.TotalCustomers++
		}
	}
	for i := len(q.st().orders) - 1; i >= 0 && len(stats.RecentOrders) < 5; i-- {
		stats.RecentOrders = append(stats.RecentOrders, q.st().orders[i])
	}
	return stats, nil
}
