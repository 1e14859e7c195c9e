package idempotency

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"LIB-backend/internal/platform/auth"
	"LIB-backend/internal/platform/requestid"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotency-Replayed"

	keyPrefix  = "idem:"
	pendingVal = "pending"
	maxKeyLen  = 255
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response は再送時に返す保存済みレスポンス
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Location    string `json:"location,omitempty"`
	Body        []byte `json:"body"`
}

// Store: Reserve は SetNX。false なら同じキーが処理中か処理済み。
type Store interface {
	Reserve(ctx context.Context, key string) (bool, error)
	// Get は処理済みなら保存済みレスポンス、処理中なら nil を返す
	Get(ctx context.Context, key string) (*Response, error)
	Save(ctx context.Context, key string, r *Response) error
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, keyPrefix+key, pendingVal, s.ttl).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Response, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if string(raw) == pendingVal {
		return nil, nil
	}
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, r *Response) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+key, raw, s.ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

// Middleware は Idempotency-Key 付きの POST を1回だけ実行し、再送には保存済みのレスポンスを返す。
// キーは呼び出し元ユーザーごとに分かれる。Store の障害時はキー無しと同じ扱いで素通しする。
func Middleware(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderKey)
		if raw == "" {
			c.Next()
			return
		}
		if len(raw) > maxKeyLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "INVALID_ARGUMENT", "message": "Idempotency-Key too long"}})
			return
		}

		ctx := c.Request.Context()
		key := scopedKey(c, raw)

		ok, err := store.Reserve(ctx, key)
		if err != nil {
			log.Printf("[WARN] idempotency reserve failed, passing through: %v req=%s", err, requestid.FromContext(ctx))
			c.Next()
			return
		}
		if !ok {
			replay(c, store, key)
			return
		}

		release := func() {
			if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
				log.Printf("[WARN] idempotency release failed: %v req=%s", err, requestid.FromContext(ctx))
			}
		}
		// ハンドラが panic した場合もキーを解放してから Recovery に渡す
		settled := false
		defer func() {
			if settled {
				return
			}
			release()
			if p := recover(); p != nil {
				panic(p)
			}
		}()

		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()
		settled = true

		// 5xx は保存せず、同じキーでの再試行を許す
		if rec.Status() >= http.StatusInternalServerError {
			release()
			return
		}
		resp := &Response{
			Status:      rec.Status(),
			ContentType: rec.Header().Get("Content-Type"),
			Location:    rec.Header().Get("Location"),
			Body:        rec.body.Bytes(),
		}
		if err := store.Save(context.WithoutCancel(ctx), key, resp); err != nil {
			log.Printf("[WARN] idempotency save failed: %v req=%s", err, requestid.FromContext(ctx))
		}
	}
}

func replay(c *gin.Context, store Store, key string) {
	ctx := c.Request.Context()
	resp, err := store.Get(ctx, key)
	if err != nil {
		log.Printf("[WARN] idempotency lookup failed: %v req=%s", err, requestid.FromContext(ctx))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"code": "INTERNAL", "message": "idempotency store unavailable"}})
		return
	}
	if resp == nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": gin.H{"code": "CONFLICT", "message": "a request with this Idempotency-Key is in progress"}})
		return
	}

	c.Header(HeaderReplayed, "true")
	if resp.Location != "" {
		c.Header("Location", resp.Location)
	}
	c.Data(resp.Status, resp.ContentType, resp.Body)
	c.Abort()
}

func scopedKey(c *gin.Context, raw string) string {
	user := "-"
	if id, ok := auth.IdentityFrom(c); ok {
		user = id.UserID
	}
	return user + ":" + c.Request.Method + ":" + c.FullPath() + ":" + c.Param("id") + ":" + raw
}

// recorder はハンドラの書いた本文を保存用に写し取る
type recorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}
