package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/pulseone-control-plane/internal/domain"
)

// ErrNotFound: записи нет в справочнике.
var ErrNotFound = errors.New("postgres: not found")

type AgentRepo struct {
	pool *pgxpool.Pool
}

// NewAgentRepo открывает пул соединений. Доступность базы проверяется отдельно через Ping.
func NewAgentRepo(ctx context.Context, connString string, maxConns, minConns int32) (*AgentRepo, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	return &AgentRepo{pool: pool}, nil
}

// Pool: общий пул для остальных репозиториев (аудит).
func (r *AgentRepo) Pool() *pgxpool.Pool { return r.pool }

// GetAgentEndpoint: адрес и тип агента из справочника edge_servers.
func (r *AgentRepo) GetAgentEndpoint(ctx context.Context, id string) (*domain.AgentEndpoint, error) {
	query := `
		SELECT id, COALESCE(hostname, ''), COALESCE(host(ip_address), ''), port, kind,
		       COALESCE(tenant_id, ''), COALESCE(site_id, '')
		FROM edge_servers
		WHERE id = $1 AND deleted_at IS NULL`

	ep := &domain.AgentEndpoint{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ep.ID, &ep.Host, &ep.IP, &ep.Port, &ep.Kind, &ep.Tenant, &ep.Site,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: failed to get agent endpoint: %w", err)
	}
	return ep, nil
}

// ListAgentEndpoints: все агенты справочника, для таблицы в консоли.
func (r *AgentRepo) ListAgentEndpoints(ctx context.Context) ([]domain.AgentEndpoint, error) {
	query := `
		SELECT id, COALESCE(hostname, ''), COALESCE(host(ip_address), ''), port, kind,
		       COALESCE(tenant_id, ''), COALESCE(site_id, '')
		FROM edge_servers
		WHERE deleted_at IS NULL
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list agents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AgentEndpoint, 0)
	for rows.Next() {
		var ep domain.AgentEndpoint
		if err := rows.Scan(&ep.ID, &ep.Host, &ep.IP, &ep.Port, &ep.Kind, &ep.Tenant, &ep.Site); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// GetMaintenanceAgents: ID агентов на обслуживании, для прогрева L1/L2.
func (r *AgentRepo) GetMaintenanceAgents(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM edge_servers WHERE maintenance = true AND deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch maintenance agents: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to scan maintenance agents: %w", err)
	}
	return ids, nil
}

// SetAgentMaintenance включает/выключает режим обслуживания
func (r *AgentRepo) SetAgentMaintenance(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE edge_servers SET maintenance = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`

	ct, err := r.pool.Exec(ctx, query, enabled, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update maintenance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return nil
}

// Ping проверяет доступность базы при старте
func (r *AgentRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *AgentRepo) Close() {
	r.pool.Close()
}
