package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"peer_chat/internal/domain"
	"peer_chat/pkg/logger"
)

type AuditRepository interface {
	CreateLog(ctx context.Context, log *domain.AuditLog) error
}

type auditRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewAuditRepository(db *pgxpool.Pool, log logger.Logger) AuditRepository {
	return &auditRepository{db: db, log: log}
}

func (r *auditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	query := `
		INSERT INTO audit_log (event_time, actor_user_id, peer_user_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		auditLog.EventTime, auditLog.ActorUserID, auditLog.PeerUserID,
		auditLog.EventType, auditLog.Payload,
	).Scan(&auditLog.ID)

	if err != nil {
		r.log.Error("Failed to create audit log", "error", err)
		return storageError(err)
	}

	return nil
}

// logAuditRepository writes audit events to the application log. Used when no
// Postgres database is configured.
type logAuditRepository struct {
	log logger.Logger
}

func NewLogAuditRepository(log logger.Logger) AuditRepository {
	return &logAuditRepository{log: log}
}

func (r *logAuditRepository) CreateLog(_ context.Context, auditLog *domain.AuditLog) error {
	r.log.Info("Audit event",
		"event_type", auditLog.EventType,
		"actor_user_id", auditLog.ActorUserID,
		"peer_user_id", auditLog.PeerUserID,
		"payload", auditLog.Payload,
	)
	return nil
}
