package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthManager управляет правами операторов и частотой команд
type AuthManager struct {
	adminIDs map[int64]bool
	limiters map[int64]*userLimiter
	perUser  rate.Limit
	burst    int
	mu       sync.Mutex
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ParseIDs разбирает список ID через запятую, пропуская мусор
func ParseIDs(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// NewAuthManager создает менеджер авторизации; пустой список админов разрешает всем
func NewAuthManager(adminIDs []int64) *AuthManager {
	am := &AuthManager{
		adminIDs: make(map[int64]bool, len(adminIDs)),
		limiters: make(map[int64]*userLimiter),
		perUser:  rate.Limit(2),
		burst:    2,
	}
	for _, id := range adminIDs {
		am.adminIDs[id] = true
	}
	return am
}

// IsAdmin проверяет, является ли пользователь администратором
func (am *AuthManager) IsAdmin(userID int64) bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	if len(am.adminIDs) == 0 {
		return true
	}
	return am.adminIDs[userID]
}

// RequireAdmin возвращает ошибку, если пользователь не администратор
func (am *AuthManager) RequireAdmin(userID int64) error {
	if !am.IsAdmin(userID) {
		return fmt.Errorf("access denied: admin permission required")
	}
	return nil
}

// CheckRateLimit проверяет лимит команд пользователя
func (am *AuthManager) CheckRateLimit(userID int64) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	ul, ok := am.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(am.perUser, am.burst)}
		am.limiters[userID] = ul
	}
	ul.lastSeen = now

	if !ul.limiter.AllowN(now, 1) {
		return fmt.Errorf("rate limit exceeded, please slow down")
	}
	return nil
}

// CleanupRateLimiters удаляет лимитеры неактивных более 5 минут пользователей
func (am *AuthManager) CleanupRateLimiters() {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	for userID, ul := range am.limiters {
		if now.Sub(ul.lastSeen) > 5*time.Minute {
			delete(am.limiters, userID)
		}
	}
}
