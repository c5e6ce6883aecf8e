package places

import (
	"crypto/rand"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"
)

// backoff computes jittered exponential delays between retries.
type backoff struct {
	initial time.Duration
	max     time.Duration
}

// delay returns the wait before retry number attempt (0-based). The result lies
// in [d/2, d) where d is initial*2^attempt capped at max.
func (b backoff) delay(attempt int) time.Duration {
	d := float64(b.initial) * math.Pow(2, float64(attempt))
	if b.max > 0 && d > float64(b.max) {
		d = float64(b.max)
	}
	half := time.Duration(d / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// retryAfter parses a Retry-After header expressed in seconds.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
