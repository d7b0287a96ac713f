package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/remote"
)

// QueuedMessage is returned to the UI for writes accepted while offline.
const QueuedMessage = "Will sync when online"

// UI wraps a Gateway for view code. It is the only place where errors are
// turned into renderable envelopes: reads degrade to Empty, writes report
// success, queued or an error message.
type UI struct {
	g      *Gateway
	logger *zap.Logger
}

// NewUI wraps g.
func NewUI(g *Gateway) *UI {
	return &UI{g: g, logger: g.logger.Named("ui")}
}

// Gateway returns the wrapped gateway.
func (u *UI) Gateway() *Gateway { return u.g }

// Get reads path through the cache. Any failure yields an empty envelope.
func (u *UI) Get(ctx context.Context, path string, opts ReadOptions) remote.Envelope {
	env, err := u.g.Read(ctx, path, opts)
	if err != nil {
		u.logger.Debug("read degraded to empty", zap.String("path", path), zap.Error(err))
		return remote.Empty()
	}
	return env
}

func (u *UI) Post(ctx context.Context, path string, params map[string]any, queueSync bool) remote.Envelope {
	return u.write(ctx, "POST", path, params, queueSync)
}

func (u *UI) Patch(ctx context.Context, path string, params map[string]any, queueSync bool) remote.Envelope {
	return u.write(ctx, "PATCH", path, params, queueSync)
}

func (u *UI) Delete(ctx context.Context, path string, params map[string]any, queueSync bool) remote.Envelope {
	return u.write(ctx, "DELETE", path, params, queueSync)
}

func (u *UI) write(ctx context.Context, verb, path string, params map[string]any, queueSync bool) remote.Envelope {
	res, err := u.g.Write(ctx, verb, path, params, WriteOptions{QueueOnOffline: queueSync})
	if err != nil {
		u.logger.Info("write failed", zap.String("verb", verb), zap.String("path", path), zap.Error(err))
		return remote.Object(map[string]any{
			"success": false,
			"queued":  false,
			"error":   err.Error(),
		})
	}
	if res.Queued {
		return remote.Object(map[string]any{
			"success": res.Cause == nil,
			"queued":  true,
			"message": QueuedMessage,
		})
	}
	return res.Body
}

// PostWithFile uploads f. A rejected or failed upload yields {error}.
func (u *UI) PostWithFile(ctx context.Context, path string, f remote.File, extra map[string]any) remote.Envelope {
	env, err := u.g.Upload(ctx, path, f, extra)
	if err != nil {
		return remote.Object(map[string]any{"error": err.Error()})
	}
	return env
}

// InvalidateUserCache drops every cached read, on sign in and sign out.
func (u *UI) InvalidateUserCache(ctx context.Context) {
	if err := u.g.InvalidateAll(ctx); err != nil {
		u.logger.Warn("invalidate all failed", zap.Error(err))
	}
}
