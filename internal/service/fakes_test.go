package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"shopfront/internal/domain"
	"shopfront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memStore is a map-backed stand-in for the database shared by every fake
// repository. All reads hand out copies so services cannot mutate state
// behind the store's back.
type memStore struct {
	mu sync.Mutex

	products  map[uuid.UUID]domain.Product
	carts     map[uuid.UUID]*domain.Cart // by user id, items inline
	orders    map[uuid.UUID]*domain.Order
	orderSeq  []uuid.UUID
	history   []domain.OrderHistory
	outbox    []domain.OutboxMessage
	users     map[uuid.UUID]domain.User
	userSeq   []uuid.UUID
	tokens    map[uuid.UUID]domain.RefreshToken
	clock     time.Time
	outboxErr error
}

func newMemStore() *memStore {
	return &memStore{
		products: map[uuid.UUID]domain.Product{},
		carts:    map[uuid.UUID]*domain.Cart{},
		orders:   map[uuid.UUID]*domain.Order{},
		users:    map[uuid.UUID]domain.User{},
		tokens:   map[uuid.UUID]domain.RefreshToken{},
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp
func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

type snapshot struct {
	products map[uuid.UUID]domain.Product
	carts    map[uuid.UUID]*domain.Cart
	orders   map[uuid.UUID]*domain.Order
	orderSeq []uuid.UUID
	history  []domain.OrderHistory
	outbox   []domain.OutboxMessage
}

func (s *memStore) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		products: make(map[uuid.UUID]domain.Product, len(s.products)),
		carts:    make(map[uuid.UUID]*domain.Cart, len(s.carts)),
		orders:   make(map[uuid.UUID]*domain.Order, len(s.orders)),
		orderSeq: append([]uuid.UUID(nil), s.orderSeq...),
		history:  append([]domain.OrderHistory(nil), s.history...),
		outbox:   append([]domain.OutboxMessage(nil), s.outbox...),
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	for k, v := range s.carts {
		snap.carts[k] = copyCart(v)
	}
	for k, v := range s.orders {
		snap.orders[k] = copyOrder(v)
	}
	return snap
}

func (s *memStore) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = snap.products
	s.carts = snap.carts
	s.orders = snap.orders
	s.orderSeq = snap.orderSeq
	s.history = snap.history
	s.outbox = snap.outbox
}

func copyCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp
}

// fakeTx serializes units and undoes every write of a failed one
type fakeTx struct {
	mu    sync.Mutex
	store *memStore
	runs  int
}

func (f *fakeTx) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++

	snap := f.store.snapshot()
	if err := fn(nil); err != nil {
		f.store.restore(snap)
		return err
	}
	return nil
}

// Products

type fakeProducts struct{ s *memStore }

func (f fakeProducts) WithTx(*sql.Tx) repository.ProductRepository { return f }

func (f fakeProducts) Create(ctx context.Context, p *domain.Product) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, existing := range f.s.products {
		if existing.Name == p.Name {
			return repository.ErrProductNameTaken
		}
	}
	f.s.products[p.ID] = *p
	return nil
}

func (f fakeProducts) Update(ctx context.Context, p *domain.Product) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	current, ok := f.s.products[p.ID]
	if !ok {
		return repository.ErrProductNotFound
	}
	for id, existing := range f.s.products {
		if id != p.ID && existing.Name == p.Name {
			return repository.ErrProductNameTaken
		}
	}
	updated := *p
	updated.Quantity = current.Quantity
	f.s.products[p.ID] = updated
	return nil
}

func (f fakeProducts) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return &p, nil
}

func (f fakeProducts) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return f.FindByID(ctx, id)
}

func (f fakeProducts) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	found := make(map[uuid.UUID]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := f.s.products[id]; ok {
			found[id] = &p
		}
	}
	return found, nil
}

func (f fakeProducts) List(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	matched := []*domain.Product{}
	for _, p := range f.s.products {
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Description), q) {
			continue
		}
		p := p
		matched = append(matched, &p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := len(matched)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filter.PageSize
		if start > total {
			start = total
		}
		end := start + filter.PageSize
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (f fakeProducts) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.products[id]
	if !ok {
		return repository.ErrProductNotFound
	}
	p.IsActive = active
	f.s.products[id] = p
	return nil
}

func (f fakeProducts) Purge(ctx context.Context, id uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(f.s.products, id)
	for _, cart := range f.s.carts {
		var kept []domain.CartItem
		for _, item := range cart.Items {
			if item.ProductID != id {
				kept = append(kept, item)
			}
		}
		cart.Items = kept
	}
	return nil
}

func (f fakeProducts) IsReferencedByOrders(ctx context.Context, id uuid.UUID) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, order := range f.s.orders {
		for _, item := range order.Items {
			if item.ProductID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f fakeProducts) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.products[id]
	if !ok {
		return 0, repository.ErrProductNotFound
	}
	if p.Quantity+delta < 0 {
		return 0, repository.ErrStockWouldGoNegative
	}
	p.Quantity += delta
	f.s.products[id] = p
	return p.Quantity, nil
}

// Carts

type fakeCarts struct{ s *memStore }

func (f fakeCarts) WithTx(*sql.Tx) repository.CartRepository { return f }

func (f fakeCarts) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cart, ok := f.s.carts[userID]
	if !ok {
		cart = &domain.Cart{ID: uuid.New(), UserID: userID, CreatedAt: f.s.tick()}
		f.s.carts[userID] = cart
	}
	cp := *cart
	cp.Items = nil
	return &cp, nil
}

func (f fakeCarts) LockByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cart, ok := f.s.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	cp := *cart
	cp.Items = nil
	return &cp, nil
}

// cartByID must be called with the store locked
func (f fakeCarts) cartByID(cartID uuid.UUID) *domain.Cart {
	for _, cart := range f.s.carts {
		if cart.ID == cartID {
			return cart
		}
	}
	return nil
}

func (f fakeCarts) Items(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cart := f.cartByID(cartID)
	if cart == nil {
		return []domain.CartItem{}, nil
	}
	return append([]domain.CartItem{}, cart.Items...), nil
}

func (f fakeCarts) LockItems(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error) {
	return f.Items(ctx, cartID)
}

func (f fakeCarts) FindItem(ctx context.Context, cartID, itemID uuid.UUID) (*domain.CartItem, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if cart := f.cartByID(cartID); cart != nil {
		for _, item := range cart.Items {
			if item.ID == itemID {
				return &item, nil
			}
		}
	}
	return nil, repository.ErrCartItemNotFound
}

func (f fakeCarts) UpsertItem(ctx context.Context, cartID, productID uuid.UUID, quantity int, price decimal.Decimal) (*domain.CartItem, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.products[productID]; !ok {
		return nil, repository.ErrProductNotFound
	}
	cart := f.cartByID(cartID)
	if cart == nil {
		return nil, repository.ErrCartNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity += quantity
			item := cart.Items[i]
			return &item, nil
		}
	}
	item := domain.CartItem{
		ID:        uuid.New(),
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
		Price:     price,
		CreatedAt: f.s.tick(),
	}
	cart.Items = append(cart.Items, item)
	return &item, nil
}

func (f fakeCarts) UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if cart := f.cartByID(cartID); cart != nil {
		for i := range cart.Items {
			if cart.Items[i].ID == itemID {
				cart.Items[i].Quantity = quantity
				return nil
			}
		}
	}
	return repository.ErrCartItemNotFound
}

func (f fakeCarts) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if cart := f.cartByID(cartID); cart != nil {
		for i := range cart.Items {
			if cart.Items[i].ID == itemID {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
				return nil
			}
		}
	}
	return repository.ErrCartItemNotFound
}

func (f fakeCarts) RemoveItems(ctx context.Context, cartID uuid.UUID, itemIDs []uuid.UUID) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cart := f.cartByID(cartID)
	if cart == nil {
		return 0, nil
	}
	var kept []domain.CartItem
	for _, item := range cart.Items {
		if !slices.Contains(itemIDs, item.ID) {
			kept = append(kept, item)
		}
	}
	n := len(cart.Items) - len(kept)
	cart.Items = kept
	return n, nil
}

func (f fakeCarts) Clear(ctx context.Context, cartID uuid.UUID) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cart := f.cartByID(cartID)
	if cart == nil {
		return 0, nil
	}
	n := len(cart.Items)
	cart.Items = nil
	return n, nil
}

// Orders

type fakeOrders struct{ s *memStore }

func (f fakeOrders) WithTx(*sql.Tx) repository.OrderRepository { return f }

func (f fakeOrders) Create(ctx context.Context, order *domain.Order) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	f.s.orders[order.ID] = copyOrder(order)
	f.s.orderSeq = append(f.s.orderSeq, order.ID)
	return nil
}

func (f fakeOrders) find(id uuid.UUID, owner *uuid.UUID) (*domain.Order, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	order, ok := f.s.orders[id]
	if !ok || (owner != nil && order.UserID != *owner) {
		return nil, repository.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

func (f fakeOrders) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return f.find(id, nil)
}

func (f fakeOrders) FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*domain.Order, error) {
	return f.find(id, &userID)
}

func (f fakeOrders) LockForUser(ctx context.Context, id, userID uuid.UUID) (*domain.Order, error) {
	return f.find(id, &userID)
}

func (f fakeOrders) Lock(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return f.find(id, nil)
}

func (f fakeOrders) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	orders := []*domain.Order{}
	for i := len(f.s.orderSeq) - 1; i >= 0; i-- {
		order := f.s.orders[f.s.orderSeq[i]]
		if order.UserID == userID {
			orders = append(orders, copyOrder(order))
		}
	}
	return orders, nil
}

func (f fakeOrders) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	order, ok := f.s.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = f.s.tick()
	return nil
}

// History

type fakeHistory struct{ s *memStore }

func (f fakeHistory) WithTx(*sql.Tx) repository.HistoryRepository { return f }

func (f fakeHistory) Append(ctx context.Context, entry *domain.OrderHistory) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	entry.ChangedAt = f.s.tick()
	f.s.history = append(f.s.history, *entry)
	return nil
}

func (f fakeHistory) ListForOrder(ctx context.Context, orderID uuid.UUID, changedBy *uuid.UUID) ([]domain.OrderHistory, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	rows := []domain.OrderHistory{}
	for _, h := range f.s.history {
		if h.OrderID != orderID {
			continue
		}
		if changedBy != nil && h.ChangedBy != *changedBy {
			continue
		}
		rows = append(rows, h)
	}
	return rows, nil
}

// Outbox

type fakeOutbox struct{ s *memStore }

func (f fakeOutbox) WithTx(*sql.Tx) repository.OutboxRepository { return f }

func (f fakeOutbox) Insert(ctx context.Context, eventID uuid.UUID, topic, key string, payload any) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.outboxErr != nil {
		return f.s.outboxErr
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.s.outbox = append(f.s.outbox, domain.OutboxMessage{
		ID:        int64(len(f.s.outbox) + 1),
		EventID:   eventID,
		Topic:     topic,
		Key:       key,
		Payload:   body,
		CreatedAt: f.s.tick(),
	})
	return nil
}

func (f fakeOutbox) FetchPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	pending := []domain.OutboxMessage{}
	for _, m := range f.s.outbox {
		if m.SentAt == nil && len(pending) < limit {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func (f fakeOutbox) MarkSent(ctx context.Context, id int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for i := range f.s.outbox {
		if f.s.outbox[i].ID == id {
			now := f.s.tick()
			f.s.outbox[i].SentAt = &now
		}
	}
	return nil
}

// Users

type fakeUsers struct{ s *memStore }

func (f fakeUsers) Create(ctx context.Context, user *domain.User) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if u.Email == user.Email {
			return repository.ErrUserAlreadyExists
		}
	}
	f.s.users[user.ID] = *user
	f.s.userSeq = append(f.s.userSeq, user.ID)
	return nil
}

func (f fakeUsers) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f fakeUsers) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (f fakeUsers) List(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	users := []*domain.User{}
	for i, id := range f.s.userSeq {
		if i < offset {
			continue
		}
		if len(users) == limit {
			break
		}
		u, ok := f.s.users[id]
		if ok {
			users = append(users, &u)
		}
	}
	return users, nil
}

func (f fakeUsers) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Role = role
	f.s.users[id] = u
	return nil
}

func (f fakeUsers) Delete(ctx context.Context, id uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	for _, order := range f.s.orders {
		if order.UserID == id {
			return repository.ErrUserHasOrders
		}
	}
	delete(f.s.users, id)
	delete(f.s.carts, id)
	return nil
}

// Refresh tokens

type fakeTokens struct{ s *memStore }

func (f fakeTokens) Create(ctx context.Context, token *domain.RefreshToken) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.tokens[token.ID] = *token
	return nil
}

func (f fakeTokens) FindByID(ctx context.Context, id uuid.UUID) (*domain.RefreshToken, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	t, ok := f.s.tokens[id]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	if t.Revoked {
		return nil, repository.ErrRefreshTokenRevoked
	}
	return &t, nil
}

func (f fakeTokens) Revoke(ctx context.Context, id uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	t, ok := f.s.tokens[id]
	if !ok {
		return repository.ErrRefreshTokenNotFound
	}
	t.Revoked = true
	f.s.tokens[id] = t
	return nil
}

func (f fakeTokens) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for id, t := range f.s.tokens {
		if t.UserID == userID {
			t.Revoked = true
			f.s.tokens[id] = t
		}
	}
	return nil
}

// countingObserver records what the engine reports
type countingObserver struct {
	mu          sync.Mutex
	transitions map[domain.OrderStatus]int
	rejected    int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{transitions: map[domain.OrderStatus]int{}}
}

func (o *countingObserver) OrderTransitioned(status domain.OrderStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions[status]++
}

func (o *countingObserver) StockRejected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

// shop bundles the fakes and the services built on them
type shop struct {
	store    *memStore
	tx       *fakeTx
	observer *countingObserver
	catalog  CatalogService
	carts    CartService
	orders   OrderService
	admin    AdminService
}

const testTopic = "orders.lifecycle"

func newShop() *shop {
	store := newMemStore()
	tx := &fakeTx{store: store}
	observer := newCountingObserver()
	repos := OrderRepositories{
		Carts:    fakeCarts{store},
		Products: fakeProducts{store},
		Orders:   fakeOrders{store},
		History:  fakeHistory{store},
		Outbox:   fakeOutbox{store},
	}
	logger := zap.NewNop()
	return &shop{
		store:    store,
		tx:       tx,
		observer: observer,
		catalog:  NewCatalogService(repos.Products, logger),
		carts:    NewCartService(repos.Carts, repos.Products, logger),
		orders:   NewOrderService(tx, repos, testTopic, observer, logger),
		admin:    NewAdminService(tx, fakeUsers{store}, fakeTokens{store}, repos, testTopic, observer, logger),
	}
}

// addProduct seeds an active product straight into the store
func (s *shop) addProduct(name, price string, quantity int) *domain.Product {
	p := domain.Product{
		ID:        uuid.New(),
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Quantity:  quantity,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.store.mu.Lock()
	s.store.products[p.ID] = p
	s.store.mu.Unlock()
	return &p
}

func (s *shop) stock(id uuid.UUID) int {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.store.products[id].Quantity
}

func (s *shop) setPrice(id uuid.UUID, price string) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	p := s.store.products[id]
	p.Price = decimal.RequireFromString(price)
	s.store.products[id] = p
}

func (s *shop) outboxTypes() []string {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	types := []string{}
	for _, m := range s.store.outbox {
		var event domain.OrderEvent
		if err := json.Unmarshal(m.Payload, &event); err == nil {
			types = append(types, event.Type)
		}
	}
	return types
}
