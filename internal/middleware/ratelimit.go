package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/render"

	"telegram_studio_bot/pkg/logger"
	"telegram_studio_bot/pkg/metrics"
)

// TokenBucket реализует алгоритм Token Bucket для rate limiting
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // токенов в секунду
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket создает новый TokenBucket
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity int, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow проверяет, доступен ли токен
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	// Дробные токены копятся, иначе при частых запросах bucket никогда не пополнится
	tb.tokens = min(tb.capacity, tb.tokens+now.Sub(tb.lastRefill).Seconds()*tb.refillRate)
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}

	return false
}

// RateLimiter ограничивает частоту запросов по ключу (IP или chat ID)
type RateLimiter struct {
	limiters   map[string]*TokenBucket
	lastAccess map[string]time.Time
	mu         sync.Mutex
	capacity   int
	refillRate float64
	now        func() time.Time
	logger     *logger.Logger

	idleTTL   time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

// NewRateLimiter создает rate limiter на requests запросов за duration
func NewRateLimiter(requests int, duration time.Duration, log *logger.Logger) *RateLimiter {
	rl := newRateLimiter(requests, duration, time.Now, log)
	go rl.cleanupRoutine(5 * time.Minute)
	return rl
}

func newRateLimiter(requests int, duration time.Duration, now func() time.Time, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.Default()
	}
	return &RateLimiter{
		limiters:   make(map[string]*TokenBucket),
		lastAccess: make(map[string]time.Time),
		capacity:   requests,
		refillRate: float64(requests) / duration.Seconds(),
		now:        now,
		logger:     log,
		idleTTL:    10 * time.Minute,
		done:       make(chan struct{}),
	}
}

// Allow проверяет, разрешен ли запрос для данного ключа
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = newTokenBucket(rl.capacity, rl.refillRate, rl.now)
		rl.limiters[key] = limiter
	}
	rl.lastAccess[key] = rl.now()
	rl.mu.Unlock()

	return limiter.Allow()
}

func (rl *RateLimiter) cleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.done:
			return
		}
	}
}

// cleanup удаляет limiters, к которым давно не обращались
func (rl *RateLimiter) cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	var cleaned int

	for key, lastAccessed := range rl.lastAccess {
		if lastAccessed.Before(cutoff) {
			delete(rl.limiters, key)
			delete(rl.lastAccess, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		rl.logger.Debug("Cleaned up rate limiters",
			logger.Int("cleaned_count", cleaned),
			logger.Int("remaining_count", len(rl.limiters)),
		)
	}
	return cleaned
}

// Close останавливает очистку
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.done) })
}

// HTTPRateLimitMiddleware ограничивает запросы по IP. Ожидает, что RemoteAddr уже выставлен middleware.RealIP
func HTTPRateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr

			if !limiter.Allow(key) {
				metrics.RecordError("http", "rate_limited")
				limiter.logger.Warn("Rate limit exceeded",
					logger.String("ip", key),
					logger.String("path", r.URL.Path),
				)

				w.Header().Set("Retry-After", strconv.Itoa(int(1/limiter.refillRate)+1))
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, map[string]string{"error": "too many requests"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TelegramRateLimiter ограничивает нажатия кнопок и команды от пользователей бота
type TelegramRateLimiter struct {
	userLimiter   *RateLimiter
	globalLimiter *TokenBucket
	logger        *logger.Logger
}

// NewTelegramRateLimiter создает rate limiter для Telegram бота
func NewTelegramRateLimiter(userRequestsPerMinute, globalRequestsPerSecond int, log *logger.Logger) *TelegramRateLimiter {
	if log == nil {
		log = logger.Default()
	}
	return &TelegramRateLimiter{
		userLimiter:   NewRateLimiter(userRequestsPerMinute, time.Minute, log),
		globalLimiter: NewTokenBucket(globalRequestsPerSecond, float64(globalRequestsPerSecond)),
		logger:        log,
	}
}

// AllowUser проверяет, может ли пользователь отправить запрос
func (trl *TelegramRateLimiter) AllowUser(chatID int64) bool {
	if !trl.globalLimiter.Allow() {
		trl.logger.Warn("Global rate limit exceeded", logger.Int64("chat_id", chatID))
		return false
	}

	if !trl.userLimiter.Allow("user_" + strconv.FormatInt(chatID, 10)) {
		trl.logger.Warn("User rate limit exceeded", logger.Int64("chat_id", chatID))
		return false
	}

	return true
}

// Close закрывает все ресурсы
func (trl *TelegramRateLimiter) Close() {
	trl.userLimiter.Close()
}
