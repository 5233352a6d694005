package idgen

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// 申请单号
// ============================================================================
//
// 单号 = 类型前缀 + 阿尔及尔日期(yyMMdd) + 雪花ID的36进制(定长12位)
//   例：DEP261019 0K3F9Z1QA8C2 (实际无空格)
//
// 雪花ID 63 位：41 位毫秒时间 | 10 位实例 | 12 位序列
// 多实例部署时每个实例的 worker 必须不同，否则单号可能撞车
//
// 【关键点】时钟回拨时沿用上一次的时间戳继续发号，序列用完再自旋等，
// 不报错也不重复
//
// ============================================================================

const (
	epochMillis  = int64(1704067200000) // 2024-01-01 UTC
	workerBits   = 10
	sequenceBits = 12
	maxWorkerID  = 1<<workerBits - 1
	sequenceMask = 1<<sequenceBits - 1
	noWidth      = 12
)

// 阿尔及利亚全年 UTC+1，不走夏令时，固定时区避免依赖系统 tzdata
var algiers = time.FixedZone("CET", 3600)

// 单号前缀，管理员看单号就知道是哪类申请
const (
	PrefixDeposit    = "DEP"
	PrefixWithdrawal = "WDR"
	PrefixTransfer   = "TRF"
	PrefixOrder      = "ORD"
	PrefixBetting    = "BET"
	PrefixDiaspora   = "DIA"
	PrefixGiftCard   = "GFT"
)

// Snowflake 单实例发号器
type Snowflake struct {
	mu       sync.Mutex
	worker   int64
	lastMs   int64
	sequence int64
	clock    func() int64
}

func NewSnowflake(worker int64) (*Snowflake, error) {
	if worker < 0 || worker > maxWorkerID {
		return nil, fmt.Errorf("worker id 超出范围 [0, %d]: %d", maxWorkerID, worker)
	}
	return &Snowflake{worker: worker, clock: func() int64 { return time.Now().UnixMilli() }}, nil
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.clock()
	if ms < s.lastMs {
		ms = s.lastMs
	}
	if ms == s.lastMs {
		s.sequence = (s.sequence + 1) & sequenceMask
		if s.sequence == 0 {
			for ms <= s.lastMs {
				ms = s.clock()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMs = ms

	return (ms-epochMillis)<<(workerBits+sequenceBits) | s.worker<<sequenceBits | s.sequence
}

var (
	mu      sync.RWMutex
	current *Snowflake
)

// Init 设置进程级发号器
func Init(worker int64) error {
	s, err := NewSnowflake(worker)
	if err != nil {
		return err
	}
	mu.Lock()
	current = s
	mu.Unlock()
	return nil
}

func generator() *Snowflake {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s != nil {
		return s
	}

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current, _ = NewSnowflake(1)
	}
	return current
}

func NextID() int64 {
	return generator().Generate()
}

// GenerateNo 生成申请单号
func GenerateNo(prefix string) string {
	return formatNo(prefix, time.Now(), NextID())
}

func formatNo(prefix string, at time.Time, id int64) string {
	code := strings.ToUpper(strconv.FormatInt(id, 36))
	if len(code) < noWidth {
		code = strings.Repeat("0", noWidth-len(code)) + code
	}
	return prefix + at.In(algiers).Format("060102") + code
}
