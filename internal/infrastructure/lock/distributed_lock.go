package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 业务锁
// ============================================================================
//
// 三类 key，统一加前缀 opay:lock:
//   submit:<user_id>    用户提交资金申请，挡住连点/重放
//   review:<request_no> 管理员审核同一笔申请，配合 APPROVING 中间态保证存储过程只调一次
//   wizard:<session_id> 同一向导会话的 Next/Back/扫码结果串行
//
// 加锁：SET key owner NX PX ttl
// 释放：脚本比较 owner 后再 DEL，锁过期后被别人拿到时不会误删
//
// 【关键点】锁只做互斥，不做排队：拿不到立即返回 ErrLockFailed，
// 由上层翻译成"请求处理中，请勿重复提交"
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

const keyPrefix = "opay:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker Redis 互斥锁
type Locker struct {
	client     *redis.Client
	expiration time.Duration
}

func NewLocker(client *redis.Client, expiration time.Duration) *Locker {
	return &Locker{client: client, expiration: expiration}
}

// Acquire 非阻塞加锁；返回的 release 可重复调用，请求 ctx 取消后仍能释放
func (l *Locker) Acquire(ctx context.Context, key, owner string) (func(), error) {
	full := keyPrefix + key

	ok, err := l.client.SetNX(ctx, full, owner, l.expiration).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockFailed
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(c, l.client, []string{full}, owner).Err()
		})
	}, nil
}
