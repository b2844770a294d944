package main

import (
	"context"
	"os"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/bootstrap"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/config"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/env"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

func main() {
	if err := newRootCmd(openEngine).Execute(); err != nil {
		os.Exit(1)
	}
}

func openEngine(ctx context.Context) (jobs, func(), error) {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logging.Setup(cfg.AppEnv)

	engine, err := bootstrap.Open(ctx, cfg, false)
	if err != nil {
		return nil, nil, err
	}
	return engine.Runner, engine.Close, nil
}
