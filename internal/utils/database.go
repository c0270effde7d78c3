package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Merryfling/shortlink/internal/config"
)

// DatabaseConnection holds database connections
type DatabaseConnection struct {
	PostgreSQL *sql.DB
	Redis      *redis.Client
}

// NewDatabaseConnection creates new database connections
func NewDatabaseConnection(cfg *config.Config) (*DatabaseConnection, error) {
	postgres, err := connectPostgreSQL(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	redisClient, err := connectRedis(cfg.Redis)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &DatabaseConnection{
		PostgreSQL: postgres,
		Redis:      redisClient,
	}, nil
}

// connectPostgreSQL establishes a connection to PostgreSQL
func connectPostgreSQL(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return db, nil
}

// connectRedis establishes a connection to Redis
func connectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConn
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}

// Close closes all database connections
func (dc *DatabaseConnection) Close() error {
	var errs []error

	if dc.PostgreSQL != nil {
		if err := dc.PostgreSQL.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close PostgreSQL: %w", err))
		}
	}

	if dc.Redis != nil {
		if err := dc.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}

	return nil
}

// HealthCheck checks the health of all database connections
func (dc *DatabaseConnection) HealthCheck(ctx context.Context) map[string]string {
	status := make(map[string]string)

	if dc.PostgreSQL != nil {
		if err := dc.PostgreSQL.PingContext(ctx); err != nil {
			status["postgresql"] = fmt.Sprintf("unhealthy: %v", err)
		} else {
			status["postgresql"] = "healthy"
		}
	} else {
		status["postgresql"] = "not connected"
	}

	if dc.Redis != nil {
		if err := dc.Redis.Ping(ctx).Err(); err != nil {
			status["redis"] = fmt.Sprintf("unhealthy: %v", err)
		} else {
			status["redis"] = "healthy"
		}
	} else {
		status["redis"] = "not connected"
	}

	return status
}
