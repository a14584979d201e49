package db

import (
	"context"
	"database/sql/driver"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// cutoff matches the expiry argument: a time taken between notBefore and the match.
type cutoff struct{ notBefore time.Time }

func (c cutoff) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	return ok && !ts.Before(c.notBefore) && !ts.After(time.Now())
}

func waitForLog(logs *observer.ObservedLogs, msg string) []observer.LoggedEntry {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entries := logs.FilterMessage(msg).All(); len(entries) > 0 {
			return entries
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func TestStartExpiredSessionCleaner(t *testing.T) {
	tests := []struct {
		name    string
		result  error
		rows    int64
		wantMsg string
	}{
		{"removed sessions are reported", nil, 3, "cleaned expired scan sessions"},
		{"delete failure is logged", fmt.Errorf("db fail"), 0, "failed to clean expired scan sessions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbMock, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			if err != nil {
				t.Fatalf("failed to open sqlmock database: %v", err)
			}
			defer dbMock.Close()

			exp := mock.ExpectExec(`DELETE FROM scan_sessions WHERE expires_at < $1`).
				WithArgs(cutoff{notBefore: time.Now()})
			if tt.result != nil {
				exp.WillReturnError(tt.result)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tt.rows))
			}

			core, logs := observer.New(zapcore.InfoLevel)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			StartExpiredSessionCleaner(ctx, dbMock, 10*time.Millisecond, zap.New(core))

			entries := waitForLog(logs, tt.wantMsg)
			cancel()
			if len(entries) == 0 {
				t.Fatalf("no %q log entry; got %v", tt.wantMsg, logs.All())
			}
			if tt.result == nil {
				if got := entries[0].ContextMap()["removed"]; got != tt.rows {
					t.Errorf("removed = %v; want %d", got, tt.rows)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestStartExpiredSessionCleaner_NothingExpiredIsQuiet(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	mock.ExpectExec("DELETE FROM scan_sessions WHERE expires_at").
		WithArgs(cutoff{notBefore: time.Now()}).
		WillReturnResult(sqlmock.NewResult(0, 0))

	core, logs := observer.New(zapcore.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartExpiredSessionCleaner(ctx, dbMock, 10*time.Millisecond, zap.New(core))

	deadline := time.Now().Add(2 * time.Second)
	for mock.ExpectationsWereMet() != nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("cleaner never ran: %v", err)
	}
	if n := logs.FilterMessage("cleaned expired scan sessions").Len(); n != 0 {
		t.Errorf("logged %d cleanups for zero removed rows", n)
	}
}

func TestStartExpiredSessionCleaner_CancelBeforeTicker(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	StartExpiredSessionCleaner(ctx, dbMock, 50*time.Millisecond, zap.NewNop())
	cancel()

	time.Sleep(120 * time.Millisecond)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected sql calls: %v", err)
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	dbMock, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM scan_sessions WHERE expires_at < $1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM scan_sessions WHERE expires_at < $1`).
		WithArgs(now).
		WillReturnError(fmt.Errorf("conn reset"))

	n, err := DeleteExpiredSessions(context.Background(), dbMock, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d; want 2", n)
	}

	if _, err := DeleteExpiredSessions(context.Background(), dbMock, now); err == nil {
		t.Error("expected error from failed delete")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
