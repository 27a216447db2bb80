// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hilsha/gatehouse/internal/store"
)

var _ = Describe("Connect and sweep", Ordered, func() {
	var (
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
	)

	BeforeAll(func(ctx SpecContext) {
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("gatehouse_test"),
			postgres.WithUsername("gatehouse"),
			postgres.WithPassword("gatehouse"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, store.PoolConfig{URL: connStr, MaxConns: 4}, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func(ctx SpecContext) {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("answers readiness pings", func(ctx SpecContext) {
		var pinger store.Pinger = pool
		Expect(pinger.Ping(ctx)).To(Succeed())
	})

	It("enforces case-insensitive email uniqueness", func(ctx SpecContext) {
		_, err := pool.Exec(ctx,
			`INSERT INTO identities (id, email, password_hash, name) VALUES ('01A', 'ada@example.com', 'x', 'Ada')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx,
			`INSERT INTO identities (id, email, password_hash, name) VALUES ('01B', 'ADA@example.com', 'x', 'Ada')`)
		Expect(err).To(HaveOccurred())
	})

	It("rejects sessions that expire before they are created", func(ctx SpecContext) {
		now := time.Now().UTC()
		_, err := pool.Exec(ctx,
			`INSERT INTO sessions (id, identity_id, token_hash, created_at, renewed_at, expires_at)
			 VALUES ('S1', '01A', 'h1', $1, $1, $2)`, now, now.Add(-time.Minute))
		Expect(err).To(HaveOccurred())
	})

	It("sweeps expired rows through the sweeper", func(ctx SpecContext) {
		now := time.Now().UTC()
		_, err := pool.Exec(ctx,
			`INSERT INTO sessions (id, identity_id, token_hash, created_at, renewed_at, expires_at)
			 VALUES ('S2', '01A', 'h2', $1, $1, $2), ('S3', '01A', 'h3', $1, $1, $3)`,
			now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())

		sessions := sqlDeleter{pool: pool, sql: `DELETE FROM sessions WHERE expires_at <= $1`}
		tokens := sqlDeleter{pool: pool, sql: `DELETE FROM purpose_tokens WHERE expires_at < $1`}
		res, err := store.NewSweeper(sessions, tokens, store.SweeperConfig{}).Once(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Sessions).To(Equal(int64(1)))

		var remaining int
		Expect(pool.QueryRow(ctx, `SELECT count(*) FROM sessions`).Scan(&remaining)).To(Succeed())
		Expect(remaining).To(Equal(1))
	})
})

// sqlDeleter runs a single DELETE; the real repositories live in
// internal/auth/postgres and are covered by their own suite.
type sqlDeleter struct {
	pool store.DB
	sql  string
}

func (d sqlDeleter) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := d.pool.Exec(ctx, d.sql, now)
	return tag.RowsAffected(), err
}

func (d sqlDeleter) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return d.DeleteExpired(ctx, cutoff)
}
