package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"opay/internal/backend"
	"opay/internal/model"
	"opay/internal/repository"
	"opay/internal/wizard"
)

// ---------------------------------------------------------------------------
// 事务 / outbox / 审核日志
// ---------------------------------------------------------------------------

type fakeTx struct{}

func (fakeTx) Transaction(fc func(tx *gorm.DB) error, _ ...*sql.TxOptions) error {
	return fc(nil)
}

type fakeOutbox struct {
	mu   sync.Mutex
	msgs []*model.OutboxMessage
}

func (o *fakeOutbox) Create(_ context.Context, _ *gorm.DB, msg *model.OutboxMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *fakeOutbox) events(requestNo string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, m := range o.msgs {
		if m.MessageKey == requestNo {
			out = append(out, m.EventType)
		}
	}
	return out
}

type fakeLogs struct {
	mu   sync.Mutex
	logs []*model.ReviewLog
}

func (l *fakeLogs) Create(_ context.Context, _ *gorm.DB, log *model.ReviewLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, log)
	return nil
}

func (l *fakeLogs) actions(requestNo string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, r := range l.logs {
		if r.RequestNo == requestNo {
			out = append(out, r.Action)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// 申请仓储
// ---------------------------------------------------------------------------

type memStore[T any, PT model.Row[T]] struct {
	mu   sync.Mutex
	rows map[string]PT
}

func newMemStore[T any, PT model.Row[T]]() *memStore[T, PT] {
	return &memStore[T, PT]{rows: make(map[string]PT)}
}

func clone[T any, PT model.Row[T]](row PT) PT {
	v := *row
	return PT(&v)
}

func (m *memStore[T, PT]) Create(_ context.Context, _ *gorm.DB, row PT) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Base().UserID == row.Base().UserID && r.Base().RequestID == row.Base().RequestID {
			return repository.ErrDuplicateRequest
		}
	}
	now := time.Now()
	row.Base().CreatedAt = now
	row.Base().UpdatedAt = now
	m.rows[row.Base().RequestNo] = clone[T, PT](row)
	return nil
}

func (m *memStore[T, PT]) GetByRequestNo(_ context.Context, no string) (PT, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[no]
	if !ok {
		return nil, repository.ErrRequestNotFound
	}
	return clone[T, PT](row), nil
}

func (m *memStore[T, PT]) GetForUser(ctx context.Context, userID, no string) (PT, error) {
	row, err := m.GetByRequestNo(ctx, no)
	if err != nil {
		return nil, err
	}
	if row.Base().UserID != userID {
		return nil, repository.ErrRequestNotFound
	}
	return row, nil
}

func (m *memStore[T, PT]) GetByRequestID(_ context.Context, userID, requestID string) (PT, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Base().UserID == userID && r.Base().RequestID == requestID {
			return clone[T, PT](r), nil
		}
	}
	return nil, nil
}

func (m *memStore[T, PT]) UpdateStatus(_ context.Context, _ *gorm.DB, no, from, to string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(from, to) {
		return repository.ErrStatusInvalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[no]
	if !ok || row.Base().Status != from {
		return repository.ErrStatusInvalid
	}
	row.Base().Status = to
	row.Base().UpdatedAt = time.Now()
	if v, ok := extra["reviewed_by"].(string); ok {
		row.Base().ReviewedBy = v
	}
	if v, ok := extra["review_note"].(string); ok {
		row.Base().ReviewNote = v
	}
	return nil
}

func (m *memStore[T, PT]) Review(ctx context.Context, tx *gorm.DB, no, from, to, adminID, note string) error {
	return m.UpdateStatus(ctx, tx, no, from, to, map[string]interface{}{"reviewed_by": adminID, "review_note": note})
}

func (m *memStore[T, PT]) filter(keep func(PT) bool) []PT {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PT
	for _, r := range m.rows {
		if keep(r) {
			out = append(out, clone[T, PT](r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base().RequestNo < out[j].Base().RequestNo })
	return out
}

func (m *memStore[T, PT]) ListByUserID(_ context.Context, userID string, _, _ int) ([]PT, int64, error) {
	rows := m.filter(func(r PT) bool { return r.Base().UserID == userID })
	return rows, int64(len(rows)), nil
}

func (m *memStore[T, PT]) ListByStatus(_ context.Context, status string, _, _ int) ([]PT, int64, error) {
	rows := m.filter(func(r PT) bool { return r.Base().Status == status })
	return rows, int64(len(rows)), nil
}

func (m *memStore[T, PT]) CountByStatus(ctx context.Context, status string) (int64, error) {
	_, n, err := m.ListByStatus(ctx, status, 1, 1)
	return n, err
}

func (m *memStore[T, PT]) GetStale(_ context.Context, status string, before time.Time, _ int) ([]PT, error) {
	return m.filter(func(r PT) bool {
		return r.Base().Status == status && r.Base().UpdatedAt.Before(before)
	}), nil
}

func (m *memStore[T, PT]) GetCreatedBefore(_ context.Context, status string, before time.Time, _ int, _ ...func(*gorm.DB) *gorm.DB) ([]PT, error) {
	return m.filter(func(r PT) bool {
		return r.Base().Status == status && r.Base().CreatedAt.Before(before)
	}), nil
}

func (m *memStore[T, PT]) status(no string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[no]; ok {
		return r.Base().Status
	}
	return ""
}

func (m *memStore[T, PT]) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// age 把创建/更新时间往前拨，模拟超时
func (m *memStore[T, PT]) age(no string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[no]
	r.Base().CreatedAt = r.Base().CreatedAt.Add(-d)
	r.Base().UpdatedAt = r.Base().UpdatedAt.Add(-d)
}

// ---------------------------------------------------------------------------
// 缓存 / 锁
// ---------------------------------------------------------------------------

type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]string)}
}

func (c *memCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	return false, nil
}

func (c *memCache) SetJSON(context.Context, string, interface{}, time.Duration) error {
	return nil
}

func (c *memCache) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

func (c *memCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memCache) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; !ok || v != value {
		return false, nil
	}
	delete(c.data, key)
	return true, nil
}

// expire 模拟 key 到期
func (c *memCache) expire(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

func (c *memCache) has(key string) bool {
	_, ok, _ := c.Get(context.Background(), key)
	return ok
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(_ context.Context, key, _ string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, errors.New("locked")
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

// ---------------------------------------------------------------------------
// 托管后端
// ---------------------------------------------------------------------------

type fakeBackend struct {
	mu sync.Mutex

	balances   map[string]decimal.Decimal
	recipients map[string]string
	cards      map[string]*backend.GiftCard
	roles      map[string]bool
	catalog    map[string]*backend.CatalogItem

	uniqueAmount decimal.Decimal
	uniqueErr    error
	ledgerErr    error
	transferErr  error
	product      *backend.Product

	calls    []string
	roleHits int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balances:   make(map[string]decimal.Decimal),
		recipients: make(map[string]string),
		cards:      make(map[string]*backend.GiftCard),
		roles:      make(map[string]bool),
		catalog:    make(map[string]*backend.CatalogItem),
	}
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *fakeBackend) called(call string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (b *fakeBackend) ApproveDeposit(_ context.Context, p backend.LedgerParams) error {
	b.record(backend.FnApproveDeposit)
	if b.ledgerErr != nil {
		return b.ledgerErr
	}
	b.mu.Lock()
	b.balances[p.UserID] = b.balances[p.UserID].Add(p.Amount.Sub(p.Fee))
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) ApproveWithdrawal(_ context.Context, p backend.LedgerParams) error {
	b.record(backend.FnApproveWithdrawal)
	return b.ledgerErr
}

func (b *fakeBackend) RejectWithdrawal(context.Context, string, string, string) error {
	b.record(backend.FnRejectWithdrawal)
	return b.ledgerErr
}

func (b *fakeBackend) ApproveBettingDeposit(context.Context, backend.LedgerParams) error {
	b.record(backend.FnApproveBettingDeposit)
	return b.ledgerErr
}

func (b *fakeBackend) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[userID], nil
}

func (b *fakeBackend) RecalculateUserBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	b.record(backend.FnRecalculateUserBalance)
	return b.GetBalance(ctx, userID)
}

func (b *fakeBackend) RecalculateAllBalances(context.Context) (int64, error) {
	b.record(backend.FnRecalculateAllBalances)
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.balances)), nil
}

func (b *fakeBackend) GenerateUniqueAmount(_ context.Context, _, _ string, base decimal.Decimal) (decimal.Decimal, error) {
	b.record(backend.FnGenerateUniqueAmount)
	if b.uniqueErr != nil {
		return decimal.Zero, b.uniqueErr
	}
	if b.uniqueAmount.IsPositive() {
		return b.uniqueAmount, nil
	}
	return base.Add(decimal.NewFromInt(3)), nil
}

func (b *fakeBackend) ResolveRecipient(_ context.Context, code string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.recipients[code]
	if !ok {
		return "", backend.ErrNotFound
	}
	return id, nil
}

func (b *fakeBackend) ProcessTransfer(_ context.Context, p backend.TransferParams) (*backend.TransferResult, error) {
	b.record(backend.FnProcessTransfer)
	if b.transferErr != nil {
		return nil, b.transferErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[p.SenderID] = b.balances[p.SenderID].Sub(p.Amount)
	return &backend.TransferResult{TransferID: "tx-" + p.Reference, RecipientID: b.recipients[p.RecipientCode]}, nil
}

func (b *fakeBackend) GetGiftCard(_ context.Context, code string) (*backend.GiftCard, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	card, ok := b.cards[code]
	if !ok {
		return nil, backend.ErrNotFound
	}
	cp := *card
	return &cp, nil
}

func (b *fakeBackend) GetCatalogItem(_ context.Context, operator, ref string) (*backend.CatalogItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.catalog[operator+"/"+ref]
	if !ok {
		return nil, backend.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (b *fakeBackend) MarkGiftCardUsed(_ context.Context, code, _ string) (*backend.GiftCard, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	card, ok := b.cards[code]
	if !ok || card.Status != backend.GiftCardActive {
		return nil, backend.ErrGiftCardUnavailable
	}
	card.Status = backend.GiftCardUsed
	cp := *card
	return &cp, nil
}

func (b *fakeBackend) ScrapeAliExpress(context.Context, string) (*backend.Product, error) {
	if b.product == nil {
		return nil, &backend.Error{Status: 502, Message: "scrape failed"}
	}
	return b.product, nil
}

func (b *fakeBackend) PublicURL(bucket, path string) string {
	return "https://cdn.test/" + bucket + "/" + path
}

func (b *fakeBackend) HasRole(_ context.Context, userID, role string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roleHits++
	return b.roles[userID+":"+role], nil
}

func (b *fakeBackend) ApproveVerificationRequest(context.Context, string, string) error {
	b.record(backend.FnApproveVerificationRequest)
	return nil
}

func (b *fakeBackend) RejectVerificationRequest(context.Context, string, string, string) error {
	b.record(backend.FnRejectVerificationRequest)
	return nil
}

func (b *fakeBackend) ApproveMerchantRequest(context.Context, string, string) error {
	b.record(backend.FnApproveMerchantRequest)
	return nil
}

func (b *fakeBackend) RejectMerchantRequest(context.Context, string, string, string) error {
	b.record(backend.FnRejectMerchantRequest)
	return nil
}

func (b *fakeBackend) CountPending(_ context.Context, table string) (int64, error) {
	if table == backend.TableVerificationRequests {
		return 4, nil
	}
	return 1, nil
}

// ---------------------------------------------------------------------------
// 手续费策略
// ---------------------------------------------------------------------------

type memPolicies struct {
	mu       sync.Mutex
	policies []*model.FeePolicy
	reads    int
}

func (m *memPolicies) ListByService(_ context.Context, service string) ([]*model.FeePolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	var out []*model.FeePolicy
	for _, p := range m.policies {
		if p.Service == service && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPolicies) List(context.Context) ([]*model.FeePolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.FeePolicy(nil), m.policies...), nil
}

func (m *memPolicies) Upsert(_ context.Context, p *model.FeePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, old := range m.policies {
		if old.Service == p.Service && old.Operator == p.Operator {
			m.policies[i] = p
			return nil
		}
	}
	m.policies = append(m.policies, p)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func percentPolicy(service, operator, value, min, max, minAmount, maxAmount string) *model.FeePolicy {
	p := &model.FeePolicy{
		Service:   service,
		Operator:  operator,
		FeeType:   "percentage",
		FeeValue:  dec(value),
		MinAmount: dec(minAmount),
		MaxAmount: dec(maxAmount),
		Active:    true,
	}
	if min != "" {
		p.FeeMin = decimal.NewNullDecimal(dec(min))
	}
	if max != "" {
		p.FeeMax = decimal.NewNullDecimal(dec(max))
	}
	return p
}

func defaultPolicies() *memPolicies {
	return &memPolicies{policies: []*model.FeePolicy{
		percentPolicy(model.ServiceFlexyDeposit, model.AnyOperator, "10", "", "", "100", "20000"),
		percentPolicy(model.ServiceFlexyDeposit, "djezzy", "12", "", "", "100", "20000"),
		percentPolicy(model.ServiceBankDeposit, model.AnyOperator, "0", "", "", "500", "0"),
		percentPolicy(model.ServiceBettingDeposit, model.AnyOperator, "2", "10", "500", "100", "100000"),
		percentPolicy(model.ServiceWithdrawal, model.AnyOperator, "1", "50", "", "1000", "200000"),
		percentPolicy(model.ServicePhoneTopup, model.AnyOperator, "5", "", "", "50", "5000"),
		percentPolicy(model.ServiceAliExpress, model.AnyOperator, "8", "200", "", "500", "0"),
		percentPolicy(model.ServiceGameTopup, model.AnyOperator, "3", "", "", "100", "20000"),
		percentPolicy(model.ServiceGiftCard, model.AnyOperator, "2", "", "", "100", "50000"),
		percentPolicy(model.ServiceDiaspora, model.AnyOperator, "3", "", "", "1000", "0"),
	}}
}

// ---------------------------------------------------------------------------
// 向导会话
// ---------------------------------------------------------------------------

type memWizardStore struct {
	mu       sync.Mutex
	sessions map[string]wizard.Session
}

func newMemWizardStore() *memWizardStore {
	return &memWizardStore{sessions: make(map[string]wizard.Session)}
}

func (m *memWizardStore) Get(_ context.Context, id string) (*wizard.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, wizard.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memWizardStore) Save(_ context.Context, s *wizard.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memWizardStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// ---------------------------------------------------------------------------
// 组装
// ---------------------------------------------------------------------------

type testEnv struct {
	backend  *fakeBackend
	cache    *memCache
	outbox   *fakeOutbox
	logs     *fakeLogs
	policies *memPolicies

	policySvc   *PolicyService
	unique      *UniqueAmountService
	balances    *BalanceService
	deposits    *DepositService
	withdrawals *WithdrawalService
	transfers   *TransferService
	orders      *OrderService
	giftcards   *GiftCardService
	betting     *BettingService
	diaspora    *DiasporaService

	depositStore    *memStore[model.Deposit, *model.Deposit]
	withdrawalStore *memStore[model.Withdrawal, *model.Withdrawal]
	transferStore   *memStore[model.Transfer, *model.Transfer]
	orderStore      *memStore[model.Order, *model.Order]
	giftStore       *memStore[model.GiftCardRedemption, *model.GiftCardRedemption]
	bettingStore    *memStore[model.BettingDeposit, *model.BettingDeposit]
	diasporaStore   *memStore[model.DiasporaTransfer, *model.DiasporaTransfer]
}

func newTestEnv() *testEnv {
	log := zap.NewNop()
	e := &testEnv{
		backend:         newFakeBackend(),
		cache:           newMemCache(),
		outbox:          &fakeOutbox{},
		logs:            &fakeLogs{},
		policies:        defaultPolicies(),
		depositStore:    newMemStore[model.Deposit, *model.Deposit](),
		withdrawalStore: newMemStore[model.Withdrawal, *model.Withdrawal](),
		transferStore:   newMemStore[model.Transfer, *model.Transfer](),
		orderStore:      newMemStore[model.Order, *model.Order](),
		giftStore:       newMemStore[model.GiftCardRedemption, *model.GiftCardRedemption](),
		bettingStore:    newMemStore[model.BettingDeposit, *model.BettingDeposit](),
		diasporaStore:   newMemStore[model.DiasporaTransfer, *model.DiasporaTransfer](),
	}

	flow := FlowDeps{
		Tx:          fakeTx{},
		Outbox:      e.outbox,
		ReviewLogs:  e.logs,
		Locker:      newFakeLocker(),
		TopicPrefix: "opay.request",
		Log:         log,
	}

	e.policySvc = NewPolicyService(e.policies, e.cache, time.Minute, log)
	e.unique = NewUniqueAmountService(e.backend, e.cache, 5, time.Minute, time.Hour, log)
	e.balances = NewBalanceService(e.backend, e.cache, 0, log)
	e.deposits = NewDepositService(flow, DepositDeps{
		Store:          e.depositStore,
		Policies:       e.policySvc,
		Unique:         e.unique,
		Balances:       e.balances,
		Ledger:         e.backend,
		URLs:           e.backend,
		ReceiptsBucket: "receipts",
		Timeout:        time.Hour,
	})
	e.withdrawals = NewWithdrawalService(flow, e.withdrawalStore, e.policySvc, e.balances, e.backend)
	e.transfers = NewTransferService(flow, e.transferStore, e.policySvc, e.balances, e.backend)
	e.orders = NewOrderService(flow, e.orderStore, e.policySvc, e.balances, e.backend, e.backend, dec("250"))
	e.giftcards = NewGiftCardService(flow, e.giftStore, e.backend, e.backend, e.balances)
	e.betting = NewBettingService(flow, e.bettingStore, e.policySvc, e.balances, e.backend)
	e.diaspora = NewDiasporaService(flow, e.diasporaStore, e.policySvc, map[string]decimal.Decimal{"EUR": dec("250")})
	return e
}
