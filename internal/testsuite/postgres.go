// Package testsuite starts throwaway infrastructure for integration tests.
package testsuite

import (
	"context"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresSuite runs a migrated Postgres container for the whole suite.
// It skips under -short or when no container runtime is reachable.
type PostgresSuite struct {
	suite.Suite
	PgContainer *tcpostgres.PostgresContainer
	DbPool      *pgxpool.Pool
	Ctx         context.Context
}

func (s *PostgresSuite) SetupInfrastructure() {
	if testing.Short() {
		s.T().Skip("integration test skipped in -short mode")
	}
	s.Ctx = context.Background()

	var err error
	s.PgContainer, err = tcpostgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("test_db"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		s.T().Skipf("postgres container unavailable: %v", err)
	}

	connStr, err := s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.Require().NoError(postgres.Migrate(connStr))

	s.DbPool, err = postgres.Connect(s.Ctx, connStr, 16)
	s.Require().NoError(err)
}

func (s *PostgresSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}
	if s.PgContainer != nil {
		if err := s.PgContainer.Terminate(s.Ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}
}

func (s *PostgresSuite) TruncateTable(tableName string) {
	_, err := s.DbPool.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s CASCADE", tableName))
	s.Require().NoError(err)
}
