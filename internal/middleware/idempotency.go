package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/config"
)

const (
	// HeaderIdempotencyKey is sent by clients that may retry a toggle.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay marks a response served from the replay store.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
	storeTimeout         = 2 * time.Second
)

// captureWriter records the status and (up to limit bytes of) the body while
// forwarding both to the client.
type captureWriter struct {
	http.ResponseWriter
	status    int
	buf       bytes.Buffer
	size      int64
	limit     int64
	truncated bool
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if remain := cw.limit - cw.size; remain >= int64(len(b)) {
		cw.buf.Write(b)
	} else {
		cw.truncated = true
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// Idempotency replays the first successful response for a repeated
// Idempotency-Key from the same caller on the same method and path. A
// second request arriving while the first is still running gets 409.
// Requests without the header, and every request when rdb is nil or the
// feature is disabled, pass straight through.
func Idempotency(cfg config.IdempotencyConfig, rdb *redis.Client, log logrus.FieldLogger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	maxBody := int64(cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			idemKey := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
			if idemKey == "" {
				return next(c)
			}
			if len(idemKey) > maxIdempotencyKeyLen {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "Idempotency-Key too long"})
			}

			ctx := c.Request().Context()
			key := idempotencyKey(cfg.Prefix, userID(c), c.Request().Method, c.Request().URL.Path, idemKey)
			entry := log.WithField("idempotency_key", idemKey)

			replayed, err := replay(ctx, rdb, c, key)
			if err != nil {
				entry.WithError(err).Warn("idempotency: lookup failed, executing request")
				return next(c)
			}
			if replayed {
				return nil
			}

			lockKey := key + ":lock"
			locked, err := rdb.SetNX(ctx, lockKey, "1", cfg.LockTTL).Result()
			if err != nil {
				entry.WithError(err).Warn("idempotency: lock failed, executing request")
				return next(c)
			}
			if !locked {
				return c.JSON(http.StatusConflict, echo.Map{"error": "a request with this Idempotency-Key is in progress"})
			}
			defer func() {
				bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
				defer cancel()
				_ = rdb.Del(bg, lockKey).Err()
			}()

			// The first request may have finished between the lookup and the lock.
			if replayed, err := replay(ctx, rdb, c, key); err == nil && replayed {
				return nil
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			if err := next(c); err != nil {
				return err
			}
			if cw.status < 200 || cw.status >= 300 || cw.truncated {
				return nil
			}

			payload, err := encodePayload(cw.status, c.Response().Header(), cw.buf.Bytes())
			if err != nil {
				entry.WithError(err).Warn("idempotency: encode response")
				return nil
			}
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
			defer cancel()
			if err := rdb.Set(bg, key, payload, cfg.TTL).Err(); err != nil {
				entry.WithError(err).Warn("idempotency: store response")
			}
			return nil
		}
	}
}

// replay writes a stored response, if one exists, and reports whether it did.
func replay(ctx context.Context, rdb *redis.Client, c echo.Context, key string) (bool, error) {
	bs, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	status, hdr, body, ok := decodePayload(bs)
	if !ok {
		return false, fmt.Errorf("corrupt stored response under %s", key)
	}
	for k, vals := range hdr {
		// The replaying request already carries its own request id.
		if strings.EqualFold(k, echo.HeaderContentLength) || strings.EqualFold(k, echo.HeaderXRequestID) {
			continue
		}
		for _, v := range vals {
			c.Response().Header().Add(k, v)
		}
	}
	c.Response().Header().Set(HeaderIdempotentReplay, "true")
	c.Response().WriteHeader(status)
	if len(body) > 0 {
		_, _ = c.Response().Write(body)
	}
	return true, nil
}

func idempotencyKey(prefix, user, method, path, key string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{user, method, path, key}, "\x00")))
	return fmt.Sprintf("%s:%s:%x", prefix, user, sum[:16])
}

// encodePayload packs [4 bytes status][4 bytes header length][header JSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}
