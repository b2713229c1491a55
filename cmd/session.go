// File: cmd/session.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidctl/internal/actuation"
	"github.com/xkilldash9x/droidctl/internal/adb"
	"github.com/xkilldash9x/droidctl/internal/env"
	"github.com/xkilldash9x/droidctl/internal/store"
	"github.com/xkilldash9x/droidctl/internal/uitree"
)

// stabilityOptions maps the environment config onto the stabilizer.
func (a *app) stabilityOptions() env.StabilityOptions {
	return env.StabilityOptions{
		Threshold:    a.cfg.Environment.StabilityThreshold,
		PollInterval: a.cfg.Environment.PollInterval,
		Timeout:      a.cfg.Environment.StabilityTimeout,
	}
}

// openSession wires the adb device, the uiautomator inferrer and the adb
// actuator into a session. The caller closes it.
func (a *app) openSession(ctx context.Context) (*env.Session, error) {
	client := adb.NewClient(a.cfg.Device, a.runner, a.logger)
	device := adb.NewDevice(client, a.logger)

	opts := []env.Option{
		env.WithLogger(a.logger),
		env.WithStabilityOptions(a.stabilityOptions()),
	}
	if a.cfg.Overlay.Enabled {
		opts = append(opts, env.WithMessenger(adb.NewMessenger(client, a.cfg.Overlay.BroadcastAction)))
	}

	session := env.NewSession(device, uitree.NewInferrer(), actuation.NewADBActuator(a.cfg.Actuation, a.logger), opts...)
	if a.cfg.Environment.HideAutomationUI {
		if err := session.HideAutomationUI(ctx); err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("failed to hide automation UI: %w", err)
		}
	}
	return session, nil
}

// storeOpener connects the trajectory store and returns a release function.
type storeOpener func(ctx context.Context, url string, logger *zap.Logger) (*store.Store, func(), error)

func openPostgresStore(ctx context.Context, url string, logger *zap.Logger) (*store.Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}
