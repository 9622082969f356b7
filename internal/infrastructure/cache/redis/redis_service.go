// internal/infrastructure/cache/redis/redis_service.go
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"crypto-phase-trading-bot/pkg/logger"
)

// ServiceState состояние сервиса
type ServiceState string

const (
	StateStopped  ServiceState = "stopped"
	StateStarting ServiceState = "starting"
	StateRunning  ServiceState = "running"
	StateError    ServiceState = "error"
)

// Config - параметры подключения к Redis
type Config struct {
	Addr     string
	Password string
	DB       int
}

// RedisService сервис для работы с Redis
type RedisService struct {
	config Config
	client *redis.Client
	state  ServiceState
}

// NewRedisService создает новый Redis сервис
func NewRedisService(cfg Config) *RedisService {
	return &RedisService{
		config: cfg,
		state:  StateStopped,
	}
}

// Start подключается к Redis и проверяет соединение
func (rs *RedisService) Start() error {
	if rs.state == StateRunning {
		return fmt.Errorf("Redis service already running")
	}

	logger.Info("🔄 Starting Redis service...")
	rs.state = StateStarting

	rs.client = redis.NewClient(&redis.Options{
		Addr:     rs.config.Addr,
		Password: rs.config.Password,
		DB:       rs.config.DB,

		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("📡 Connecting to Redis: %s (DB: %d)", rs.config.Addr, rs.config.DB)

	if _, err := rs.client.Ping(ctx).Result(); err != nil {
		rs.client.Close()
		rs.state = StateError
		logger.Error("❌ Failed to connect to Redis: %v (address: %s)", err, rs.config.Addr)
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	rs.state = StateRunning
	logger.Info("✅ Successfully connected to Redis")
	return nil
}

// Stop закрывает соединение
func (rs *RedisService) Stop() error {
	if rs.state != StateRunning {
		return fmt.Errorf("Redis service is not running")
	}

	if rs.client != nil {
		if err := rs.client.Close(); err != nil {
			rs.state = StateError
			return fmt.Errorf("failed to close Redis client: %w", err)
		}
	}

	rs.client = nil
	rs.state = StateStopped
	logger.Info("✅ Redis service stopped")
	return nil
}

// GetClient возвращает клиент Redis
func (rs *RedisService) GetClient() *redis.Client {
	return rs.client
}

// State возвращает состояние сервиса
func (rs *RedisService) State() ServiceState {
	return rs.state
}

// IsRunning возвращает true если сервис запущен
func (rs *RedisService) IsRunning() bool {
	return rs.state == StateRunning
}

// HealthCheck проверяет здоровье Redis
func (rs *RedisService) HealthCheck() bool {
	if rs.state != StateRunning || rs.client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := rs.client.Ping(ctx).Result(); err != nil {
		logger.Warn("⚠️ Redis health check failed: %v", err)
		return false
	}
	return true
}
