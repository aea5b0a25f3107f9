package workerproto

import "context"

// Client is the gateway-side transport to a single worker, regardless of
// whether that worker speaks HTTP or stdio JSON-RPC underneath.
type Client interface {
	Health(ctx context.Context) (HealthResponse, error)
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	Progress(ctx context.Context, taskID string) (ProgressResponse, error)
	Stop(ctx context.Context) (StopResponse, error)
	Close() error
}
