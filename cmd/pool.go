package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tender-radar/radar-cli/internal/db"
	"github.com/tender-radar/radar-cli/internal/ows"
)

// radarPool opens the application connection pool from config.
func radarPool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.Connect(ctx, cfg.Store.DatabaseURL)
}

// owsClient builds the upstream API client from config.
func owsClient() *ows.Client {
	return ows.New(ows.Options{
		BaseURL:        cfg.OWS.BaseURL,
		Token:          cfg.OWS.Token,
		RateLimitDelay: cfg.OWS.RateLimitDelay,
		MaxRetries:     cfg.OWS.MaxRetries,
		Timeout:        cfg.OWS.Timeout,
	})
}
