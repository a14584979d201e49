package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

const deleteExpiredSessions = `DELETE FROM scan_sessions WHERE expires_at < $1`

// DeleteExpiredSessions removes scan sessions past their expiry. Items go with
// them through the foreign key cascade.
func DeleteExpiredSessions(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, deleteExpiredSessions, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartExpiredSessionCleaner drops expired scan sessions on every interval
// until ctx is done.
func StartExpiredSessionCleaner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rows, err := DeleteExpiredSessions(ctx, db, time.Now())
				if err != nil {
					log.Error("failed to clean expired scan sessions", zap.Error(err))
					continue
				}
				if rows > 0 {
					log.Info("cleaned expired scan sessions", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
