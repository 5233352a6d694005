package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"opay/internal/backend"
	"opay/internal/model"
)

// ============================================================================
// 依赖接口
// ============================================================================
//
// 接口在使用方定义：*gorm.DB、repository、*backend.Client、cache.Store、
// lock.Locker 都隐式实现这些接口，测试里用内存假实现替换
//
// ============================================================================

// TxRunner 事务执行器，*gorm.DB 实现
type TxRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

// RequestStore 资金申请仓储，repository.RequestRepository 实现
type RequestStore[T any, PT model.Row[T]] interface {
	Create(ctx context.Context, tx *gorm.DB, row PT) error
	GetByRequestNo(ctx context.Context, requestNo string) (PT, error)
	GetForUser(ctx context.Context, userID, requestNo string) (PT, error)
	GetByRequestID(ctx context.Context, userID, requestID string) (PT, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, requestNo, fromStatus, toStatus string, extra map[string]interface{}) error
	Review(ctx context.Context, tx *gorm.DB, requestNo, fromStatus, toStatus, adminID, note string) error
	ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]PT, int64, error)
	ListByStatus(ctx context.Context, status string, page, pageSize int) ([]PT, int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	GetStale(ctx context.Context, status string, before time.Time, limit int) ([]PT, error)
	GetCreatedBefore(ctx context.Context, status string, before time.Time, limit int, scopes ...func(*gorm.DB) *gorm.DB) ([]PT, error)
}

type OutboxWriter interface {
	Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
}

type ReviewLogWriter interface {
	Create(ctx context.Context, tx *gorm.DB, log *model.ReviewLog) error
}

type PolicyStore interface {
	ListByService(ctx context.Context, service string) ([]*model.FeePolicy, error)
	List(ctx context.Context) ([]*model.FeePolicy, error)
	Upsert(ctx context.Context, p *model.FeePolicy) error
}

// Cache Redis 缓存，cache.Store 实现
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, keys ...string) error
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}

// Locker 分布式锁，lock.Locker 实现
type Locker interface {
	Acquire(ctx context.Context, key, owner string) (func(), error)
}

// ---------------------------------------------------------------------------
// 托管后端，*backend.Client 实现
// ---------------------------------------------------------------------------

// Ledger 入账/出账类存储过程
type Ledger interface {
	ApproveDeposit(ctx context.Context, p backend.LedgerParams) error
	ApproveWithdrawal(ctx context.Context, p backend.LedgerParams) error
	RejectWithdrawal(ctx context.Context, reference, adminID, reason string) error
	ApproveBettingDeposit(ctx context.Context, p backend.LedgerParams) error
}

type BalanceSource interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	RecalculateUserBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	RecalculateAllBalances(ctx context.Context) (int64, error)
}

type UniqueAmountSource interface {
	GenerateUniqueAmount(ctx context.Context, userID, operator string, base decimal.Decimal) (decimal.Decimal, error)
}

type TransferProcessor interface {
	ResolveRecipient(ctx context.Context, code string) (string, error)
	ProcessTransfer(ctx context.Context, p backend.TransferParams) (*backend.TransferResult, error)
}

type GiftCardSource interface {
	GetGiftCard(ctx context.Context, code string) (*backend.GiftCard, error)
	MarkGiftCardUsed(ctx context.Context, code, userID string) (*backend.GiftCard, error)
}

type ProductScraper interface {
	ScrapeAliExpress(ctx context.Context, productURL string) (*backend.Product, error)
}

// ProductCatalog 标价商品，下单金额以这里为准
type ProductCatalog interface {
	GetCatalogItem(ctx context.Context, operator, ref string) (*backend.CatalogItem, error)
}

type ObjectURLs interface {
	PublicURL(bucket, path string) string
}

type AdminBackend interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
	ApproveVerificationRequest(ctx context.Context, requestID, adminID string) error
	RejectVerificationRequest(ctx context.Context, requestID, adminID, reason string) error
	ApproveMerchantRequest(ctx context.Context, requestID, adminID string) error
	RejectMerchantRequest(ctx context.Context, requestID, adminID, reason string) error
	CountPending(ctx context.Context, table string) (int64, error)
}
