package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/peerstake/peerstake/internal/engine"
	"github.com/peerstake/peerstake/internal/server"
	"github.com/peerstake/peerstake/internal/server/handler"
	"github.com/peerstake/peerstake/internal/server/ws"
	"github.com/peerstake/peerstake/internal/service"
)

// shutdownGrace bounds how long in-flight requests may run after the serve
// context is cancelled.
const shutdownGrace = 10 * time.Second

// Serve rehydrates the ledger engine from the store and runs the HTTP server
// and WebSocket hub until the context is cancelled.
func (a *App) Serve(ctx context.Context, deps *Dependencies) error {
	eng, err := engine.New(ctx, deps.Store, deps.Sink, a.logger)
	if err != nil {
		return err
	}

	markets := service.NewMarketService(eng, deps.BlobWriter, a.logger)
	offers := service.NewOfferService(eng, a.logger)
	credits := service.NewCreditService(eng, deps.Bank, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub requires the Redis signal bus.
	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		MaxAuthSkew: a.cfg.Server.MaxAuthSkew.Duration,
	}
	if a.cfg.Server.RateLimit.Enabled && deps.RateLimiter != nil {
		srvCfg.Limiter = deps.RateLimiter
		srvCfg.RateLimit = a.cfg.Server.RateLimit.Limit
		srvCfg.RateLimitWindow = a.cfg.Server.RateLimit.Window.Duration
	}

	srv := server.NewServer(srvCfg, server.Handlers{
		Health:  handler.NewHealth(),
		Markets: handler.NewMarketHandler(markets, a.logger),
		Offers:  handler.NewOfferHandler(offers, a.logger),
		Credits: handler.NewCreditHandler(credits, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	a.logger.InfoContext(ctx, "serving",
		slog.Int("port", a.cfg.Server.Port),
		slog.Bool("ws", hub != nil),
	)

	return g.Wait()
}
