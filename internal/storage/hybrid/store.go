package hybrid

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailsync/backend/internal/config"
	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/storage"
	"mailsync/backend/internal/storage/postgres"
	"mailsync/backend/internal/storage/redis"
)

// recordTTL 单条记录的缓存时间
const recordTTL = 10 * time.Minute

// Store 混合存储实现，数据库为权威数据源，Redis 作为读缓存
type Store struct {
	*postgres.Store
	client *redis.Client
	cache  *redis.Cache
	log    *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// NewStoreWithType 创建混合存储实例（指定数据库类型）
func NewStoreWithType(dbCfg config.DatabaseConfig, redisCfg config.RedisConfig, log *zap.Logger) (*Store, error) {
	opts := postgres.PoolOptions{
		MaxOpenConns:    dbCfg.MaxOpenConns,
		MaxIdleConns:    dbCfg.MaxIdleConns,
		ConnMaxLifetime: dbCfg.ConnMaxLifetime,
	}

	var dbStore *postgres.Store
	var err error

	switch dbCfg.Type {
	case "mysql":
		dbStore, err = postgres.NewMySQLStore(dbCfg.DSN, opts)
	case "postgres", "postgresql":
		dbStore, err = postgres.NewStore(dbCfg.DSN, opts)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", dbCfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	client, err := redis.New(&redisCfg, log)
	if err != nil {
		_ = dbStore.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	return New(dbStore, client, log), nil
}

// New 组合已初始化的数据库存储与 Redis 客户端
func New(dbStore *postgres.Store, client *redis.Client, log *zap.Logger) *Store {
	return &Store{
		Store:  dbStore,
		client: client,
		cache:  redis.NewCache(client),
		log:    log,
	}
}

// Cache 返回 Redis 缓存，供统计服务使用
func (s *Store) Cache() *redis.Cache {
	return s.cache
}

// RedisClient 返回 Redis 客户端，供去重过滤器使用
func (s *Store) RedisClient() *redis.Client {
	return s.client
}

// GetRecord 先查 Redis，未命中再查数据库并回填
func (s *Store) GetRecord(ctx context.Context, id string) (*domain.Record, error) {
	if record, err := s.cache.GetCachedRecord(ctx, id); err == nil {
		return record, nil
	}

	record, err := s.Store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.CacheRecord(ctx, record, recordTTL); err != nil {
		s.log.Debug("failed to cache record", zap.String("id", id), zap.Error(err))
	}
	return record, nil
}

// UpdateClassification 更新数据库后刷新缓存
func (s *Store) UpdateClassification(ctx context.Context, id string, c domain.Classification) (*domain.Record, error) {
	record, err := s.Store.UpdateClassification(ctx, id, c)
	if err != nil {
		return nil, err
	}

	if err := s.cache.CacheRecord(ctx, record, recordTTL); err != nil {
		s.log.Debug("failed to refresh cached record", zap.String("id", id), zap.Error(err))
		_ = s.cache.DeleteCachedRecord(ctx, id)
	}
	return record, nil
}

// DeleteRecord 删除数据库记录并清除缓存
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	if err := s.Store.DeleteRecord(ctx, id); err != nil {
		return err
	}

	if err := s.cache.DeleteCachedRecord(ctx, id); err != nil {
		s.log.Warn("failed to delete cached record", zap.String("id", id), zap.Error(err))
	}
	return nil
}

// Health 同时检查数据库与 Redis
func (s *Store) Health() error {
	if err := s.Store.Health(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.cache.Health(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Close 关闭数据库与 Redis 连接
func (s *Store) Close() error {
	dbErr := s.Store.Close()
	redisErr := s.client.Close()
	if dbErr != nil {
		return dbErr
	}
	return redisErr
}
