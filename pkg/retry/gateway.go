package retry

import (
	"context"
	"errors"
	"sync"
)

// GatewayFetcher rotates through equivalent gateways, moving to the next one
// after every failed attempt.
type GatewayFetcher struct {
	Gateways []string
	Executor *Executor

	mu   sync.Mutex
	next int
}

// NewGatewayFetcher creates a fetcher over gateways.
func NewGatewayFetcher(gateways []string, exec *Executor) *GatewayFetcher {
	return &GatewayFetcher{Gateways: gateways, Executor: exec}
}

// Fetch calls fn with gateway+path until it succeeds or the executor gives up.
func (g *GatewayFetcher) Fetch(ctx context.Context, path string, fn func(ctx context.Context, url string) error) error {
	if len(g.Gateways) == 0 {
		return errors.New("no gateways configured")
	}
	return g.Executor.DoURL(ctx, func(int) string {
		return g.current() + path
	}, func(ctx context.Context, url string) error {
		if err := fn(ctx, url); err != nil {
			g.advance()
			return err
		}
		return nil
	})
}

func (g *GatewayFetcher) current() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Gateways[g.next]
}

func (g *GatewayFetcher) advance() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = (g.next + 1) % len(g.Gateways)
}
