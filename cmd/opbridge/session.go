package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/op-bridge/ffi"
	"github.com/wippyai/op-bridge/onepassword"
)

// session is an open core with a validated contract.
type session struct {
	bridge  *ffi.Bridge
	release func(context.Context) error
}

func (a *app) openBridge(ctx context.Context) (*session, error) {
	lib, release, err := a.open(ctx, a.cfg.Library)
	if err != nil {
		return nil, err
	}
	bridge := ffi.New(lib, ffi.WithMetrics(a.metrics), ffi.WithTracerProvider(a.tracer))
	if err := bridge.Check(); err != nil {
		release(ctx)
		return nil, err
	}
	return &session{bridge: bridge, release: release}, nil
}

func (s *session) close(ctx context.Context) {
	s.release(context.WithoutCancel(ctx))
}

// connect opens the core and creates a client. The returned func closes both.
func (a *app) connect(ctx context.Context) (*onepassword.Client, func(), error) {
	token := a.cfg.Client.Token
	if token == "" {
		var err error
		if token, err = a.readToken(); err != nil {
			return nil, nil, err
		}
	}

	s, err := a.openBridge(ctx)
	if err != nil {
		return nil, nil, err
	}

	cfg := onepassword.DefaultClientConfig(token)
	cfg.IntegrationName = a.cfg.Client.IntegrationName
	cfg.IntegrationVersion = a.cfg.Client.IntegrationVersion

	opts := []onepassword.Option{onepassword.WithTracerProvider(a.tracer)}
	if a.cfg.Client.Sync {
		opts = append(opts, onepassword.WithSyncCalls())
	}
	client, err := onepassword.NewClient(ctx, s.bridge, cfg, opts...)
	if err != nil {
		s.close(ctx)
		return nil, nil, err
	}

	return client, func() {
		if err := client.Close(); err != nil {
			a.log.Warn("close client", zap.Error(err))
		}
		s.close(ctx)
	}, nil
}

// withTimeout applies the configured command timeout.
func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.Timeout)
}
