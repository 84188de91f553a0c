package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"peer_chat/pkg/logger"
)

type Repositories struct {
	Chat      ChatRepository
	User      UserRepository
	Audit     AuditRepository
	RateLimit RateLimitRepository
}

// NewRepositories wires the repositories around an already selected message
// store. db and rdb may be nil: without Postgres the user directory accepts
// every id and audit events go to the log; without Redis there is no rate limit.
func NewRepositories(chat ChatRepository, db *pgxpool.Pool, rdb *redis.Client, identityCheck bool, log logger.Logger) *Repositories {
	repos := &Repositories{
		Chat:  chat,
		User:  NewOpenUserRepository(),
		Audit: NewLogAuditRepository(log),
	}

	if db != nil {
		repos.Audit = NewAuditRepository(db, log)
		if identityCheck {
			repos.User = NewUserRepository(db, log)
			log.Info("User directory initialized")
		}
	}

	if rdb != nil {
		repos.RateLimit = NewRateLimitRepository(rdb, log)
		log.Info("RateLimit repository initialized")
	} else {
		log.Warn("Redis not configured, send rate limiting disabled")
	}

	return repos
}
