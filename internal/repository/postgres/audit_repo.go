package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/pulseone-control-plane/internal/audit"
)

var auditColumns = []string{
	"id", "request_id", "agent_id", "agent_kind", "operation", "channel", "target",
	"payload", "actor", "status", "error", "duration_ms", "created_at",
}

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// WriteBatch пишет пачку через COPY: на тысячах событий в секунду это заметно дешевле INSERT ... VALUES.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"command_audit"},
		auditColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			payload, err := json.Marshal(e.Payload)
			if err != nil {
				payload = []byte("null")
			}
			return []any{
				e.ID, e.RequestID, e.AgentID, e.AgentKind, e.Operation, e.Channel, e.Target,
				payload, e.Actor, e.Status, e.Error, e.DurationMs, e.Timestamp,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("postgres: audit copy failed: %w", err)
	}
	return nil
}

// FetchLogs: последние события аудита, новые первыми.
func (r *AuditRepo) FetchLogs(ctx context.Context, f audit.Filter) ([]audit.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if f.Operation != "" {
		add("operation = $%d", f.Operation)
	}
	if f.RequestID != "" {
		add("request_id = $%d", f.RequestID)
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}

	query := "SELECT " + strings.Join(auditColumns, ", ") + " FROM command_audit"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch audit logs: %w", err)
	}
	defer rows.Close()

	out := make([]audit.AuditEvent, 0)
	for rows.Next() {
		var (
			e       audit.AuditEvent
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.AgentID, &e.AgentKind, &e.Operation, &e.Channel, &e.Target,
			&payload, &e.Actor, &e.Status, &e.Error, &e.DurationMs, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
