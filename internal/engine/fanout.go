package engine

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"
)

// fanOutLimit: сколько агентов опрашиваем одновременно.
const fanOutLimit = 16

// FanOut выполняет одну и ту же операцию на всех закэшированных клиентах параллельно.
// Отказы изолированы по агентам: результат содержит по записи на каждого, ошибка одного не прячет остальных.
func (r *Registry) FanOut(ctx context.Context, op string, output bool, fn Operation) []FanOutEntry {
	clients := r.Clients()
	entries := make([]FanOutEntry, len(clients))

	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for i, c := range clients {
		id := c.Endpoint().ID
		g.Go(func() error {
			res := r.Invoke(ctx, id, op, output, nil, fn)
			entries[i] = FanOutEntry{
				AgentID:     id,
				Success:     res.OK(),
				CircuitOpen: res.CircuitOpen,
				Data:        res.Value,
			}
			if res.Err != nil {
				entries[i].Error = res.Err.Error()
			}
			// ошибку агента не возвращаем: errgroup не должен гасить остальные результаты
			return nil
		})
	}
	_ = g.Wait()

	return entries
}

// FanOutOperation: операции, доступные в режиме "все агенты".
func FanOutOperation(op string) (Operation, bool) {
	switch op {
	case OpHealthCheck:
		return func(ctx context.Context, c *AgentClient) Result[json.RawMessage] { return c.HealthCheck(ctx) }, true
	case OpWorkerStatus:
		return func(ctx context.Context, c *AgentClient) Result[json.RawMessage] { return c.WorkerStatusSummary(ctx) }, true
	case OpSystemStats:
		return func(ctx context.Context, c *AgentClient) Result[json.RawMessage] { return c.SystemStats(ctx) }, true
	case OpConfigReload:
		return func(ctx context.Context, c *AgentClient) Result[json.RawMessage] { return c.ReloadConfig(ctx) }, true
	default:
		return nil, false
	}
}
