package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RunLock 防止两次流水线运行重叠。release 只释放自己持有的锁。
type RunLock interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

type LocalRunLock struct {
	mu   sync.Mutex
	held bool
}

func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{}
}

func (l *LocalRunLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
		})
	}, true, nil
}

// 仅当值仍是自己的 token 时才删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLock 多实例部署时使用
type RedisRunLock struct {
	Client *redis.Client
	Key    string
}

func NewRedisRunLock(client *redis.Client, key string) *RedisRunLock {
	if key == "" {
		key = "ecg_rating:pipeline:lock"
	}
	return &RedisRunLock{Client: client, Key: key}
}

func (l *RedisRunLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := l.Client.SetNX(ctx, l.Key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			releaseScript.Run(ctx, l.Client, []string{l.Key}, token)
		})
	}, true, nil
}
