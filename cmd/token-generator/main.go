// Package main provides a utility that issues bearer tokens for worker agents.
//
// The signing secret is read from INBOX_AUTH_JWT_SECRET, or from the full
// application configuration when -config is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/phrazzld/task-inbox/internal/config"
	"github.com/phrazzld/task-inbox/internal/service/auth"
)

const secretEnv = "INBOX_AUTH_JWT_SECRET"

func main() {
	agent := flag.String("agent", "", "agent ID the token authenticates (required)")
	lifetime := flag.Duration("lifetime", 24*time.Hour, "token lifetime")
	useConfig := flag.Bool("config", false, "load the secret and lifetime from the application configuration")
	flag.Parse()

	token, err := issue(*agent, *lifetime, *useConfig, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	fmt.Println(token)
}

func issue(agent string, lifetime time.Duration, useConfig bool, getenv func(string) string) (string, error) {
	if agent == "" {
		return "", errors.New("-agent is required")
	}

	var authCfg config.AuthConfig
	if useConfig {
		cfg, err := config.Load()
		if err != nil {
			return "", fmt.Errorf("failed to load configuration: %w", err)
		}
		authCfg = cfg.Auth
	} else {
		authCfg = config.AuthConfig{
			JWTSecret:            getenv(secretEnv),
			TokenLifetimeMinutes: int(lifetime / time.Minute),
		}
		if authCfg.JWTSecret == "" {
			return "", fmt.Errorf("%s is not set", secretEnv)
		}
	}

	svc, err := auth.NewJWTService(authCfg)
	if err != nil {
		return "", err
	}
	return svc.GenerateToken(context.Background(), agent)
}
