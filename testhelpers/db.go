// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package testhelpers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orlangure/gnomock"
	"github.com/orlangure/gnomock/preset/postgres"

	"github.com/cardinalhq/tripwarehouse/warehouse/migrations"
)

const (
	gnomockUser     = "warehouse"
	gnomockPassword = "warehouse"
	gnomockDatabase = "testing_warehouse"
)

// PostgresContainer is a throwaway PostgreSQL server shared by the tests of
// one package.
type PostgresContainer struct {
	container *gnomock.Container
	BaseURL   string
}

// StartPostgres starts a PostgreSQL container with gnomock. Call it from
// TestMain and Stop it when the package's tests finish.
func StartPostgres() (*PostgresContainer, error) {
	p := postgres.Preset(
		postgres.WithVersion("16"),
		postgres.WithUser(gnomockUser, gnomockPassword),
		postgres.WithDatabase(gnomockDatabase),
	)
	container, err := gnomock.Start(p, gnomock.WithTimeout(2*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	u := &url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(gnomockUser, gnomockPassword),
		Host:     container.DefaultAddress(),
		Path:     gnomockDatabase,
		RawQuery: "sslmode=disable",
	}
	return &PostgresContainer{container: container, BaseURL: u.String()}, nil
}

// Stop removes the container.
func (p *PostgresContainer) Stop() {
	if p == nil || p.container == nil {
		return
	}
	if err := gnomock.Stop(p.container); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop postgres container: %v\n", err)
	}
}

// SetupTestWarehouse creates a clean test warehouse database with
// migrations applied. baseURL names any database on the server; when empty,
// WAREHOUSE_TEST_URL is used. Returns a connection pool and registers
// cleanup with t.Cleanup.
func SetupTestWarehouse(t *testing.T, baseURL string) *pgxpool.Pool {
	t.Helper()

	if baseURL == "" {
		baseURL = os.Getenv("WAREHOUSE_TEST_URL")
	}
	if baseURL == "" {
		t.Skip("no PostgreSQL server available (set WAREHOUSE_TEST_URL)")
	}

	ctx := context.Background()
	dbName := fmt.Sprintf("test_warehouse_%d_%d", time.Now().Unix(), rand.Intn(10000))

	basePool, err := pgxpool.New(ctx, baseURL)
	if err != nil {
		t.Fatalf("Failed to connect to base database: %v", err)
	}

	if _, err := basePool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		basePool.Close()
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		basePool.Close()
		t.Fatalf("Failed to parse base URL: %v", err)
	}
	u.Path = dbName

	testPool, err := pgxpool.New(ctx, u.String())
	if err != nil {
		basePool.Close()
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := migrations.RunMigrationsUp(ctx, testPool); err != nil {
		testPool.Close()
		basePool.Close()
		t.Fatalf("Failed to run warehouse migrations: %v", err)
	}

	t.Cleanup(func() {
		testPool.Close()

		_, err := basePool.Exec(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
		if err != nil {
			slog.Error("Failed to drop test database", slog.String("dbName", dbName), slog.Any("error", err))
		}
		basePool.Close()
	})

	return testPool
}
