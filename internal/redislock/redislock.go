// Package redislock распределённая блокировка на Redis: SET NX PX и Lua для безопасного
// продления и снятия. Нужна, чтобы фоновую задачу выполнял один экземпляр из нескольких.
package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "servicedesk:lock:"
	defaultTTL    = time.Minute
)

var (
	errNotInitialized = errors.New("redislock: client is not initialized")
	errEmptyKey       = errors.New("redislock: empty key or token")
)

// Client выдаёт и снимает блокировки.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
}

func New(rdb redis.UniversalClient, prefix string) *Client {
	return &Client{
		rdb:    rdb,
		prefix: strings.TrimSpace(prefix),
	}
}

// Key полное имя ключа блокировки.
func (c *Client) Key(name string) string {
	name = strings.TrimSpace(name)
	if c == nil {
		return name
	}
	p := c.prefix
	if p == "" {
		p = defaultPrefix
	}
	return p + name
}

// Token случайный идентификатор владельца.
func Token() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func (c *Client) check(key, token string) (string, string, error) {
	if c == nil || c.rdb == nil {
		return "", "", errNotInitialized
	}
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if key == "" || token == "" {
		return "", "", errEmptyKey
	}
	return key, token, nil
}

// Acquire берёт блокировку, если она свободна.
func (c *Client) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	key, token, err := c.check(key, token)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return c.rdb.SetNX(ctx, key, token, ttl).Result()
}

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

// Refresh продлевает блокировку, только если она всё ещё наша.
func (c *Client) Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	key, token, err := c.check(key, token)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	n, err := refreshScript.Run(ctx, c.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	// PEXPIRE: 1 если срок выставлен
	return n == 1, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Release снимает блокировку, только если она наша.
func (c *Client) Release(ctx context.Context, key, token string) (bool, error) {
	key, token, err := c.check(key, token)
	if err != nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, c.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Lease долгоживущая блокировка одного владельца: берётся и продлевается на каждом проходе.
type Lease struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLease создаёт аренду с собственным токеном владельца.
func NewLease(client *Client, name string, ttl time.Duration) (*Lease, error) {
	token, err := Token()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Lease{client: client, key: client.Key(name), token: token, ttl: ttl}, nil
}

// TryAcquire продлевает аренду, если она уже наша, иначе пытается её взять.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.Refresh(ctx, l.key, l.token, l.ttl)
	if err != nil || ok {
		return ok, err
	}
	return l.client.Acquire(ctx, l.key, l.token, l.ttl)
}

// Release отдаёт аренду другим экземплярам.
func (l *Lease) Release(ctx context.Context) error {
	_, err := l.client.Release(ctx, l.key, l.token)
	return err
}
