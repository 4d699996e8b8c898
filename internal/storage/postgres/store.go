package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/storage"
)

var (
	ErrRecordNotFound  = fmt.Errorf("record %w", domain.ErrNotFound)
	ErrSenderNotFound  = fmt.Errorf("sender %w", domain.ErrNotFound)
	ErrManagerNotFound = fmt.Errorf("manager %w", domain.ErrNotFound)
	ErrEmailExists     = fmt.Errorf("manager email %w", domain.ErrAlreadyExists)
)

// PoolOptions 连接池参数
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolOptions 默认连接池参数
var DefaultPoolOptions = PoolOptions{
	MaxOpenConns:    25,
	MaxIdleConns:    5,
	ConnMaxLifetime: 5 * time.Minute,
}

// Store 基于 GORM 的存储实现（PostgreSQL / MySQL）
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, opts PoolOptions) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), opts)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, opts PoolOptions) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), opts)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts PoolOptions) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts = DefaultPoolOptions
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Record{},
		&domain.Sender{},
		&domain.SenderRecord{},
		&domain.SyncWatermark{},
		&domain.Manager{},
	)
}

// unavailable 将非预期的数据库错误包装为 ErrStoreUnavailable
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

// ========== Record Repository ==========

// CreateRecord 保存新记录，ID 与创建时间由存储分配
func (s *Store) CreateRecord(ctx context.Context, record *domain.Record) error {
	record.ID = uuid.NewString()
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = time.Now().UTC()
	}
	record.Classified = record.HasClassification()

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return unavailable("create record", err)
	}
	return nil
}

// GetRecord 根据 ID 获取记录
func (s *Store) GetRecord(ctx context.Context, id string) (*domain.Record, error) {
	var record domain.Record
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, unavailable("get record", err)
	}
	return &record, nil
}

// ListRecords 按接收时间倒序列出记录
func (s *Store) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.Record, error) {
	query := s.db.WithContext(ctx).Model(&domain.Record{})

	if filter.Region != "" {
		query = query.Where("LOWER(region) = ?", strings.ToLower(filter.Region))
	}
	if filter.Locality != "" {
		query = query.Where("LOWER(locality) = ?", strings.ToLower(filter.Locality))
	}
	if filter.Category != "" {
		query = query.Where("LOWER(category) = ?", strings.ToLower(filter.Category))
	}
	if filter.From != "" {
		query = query.Where("LOWER(from_address) = ?", strings.ToLower(filter.From))
	}
	if filter.Classified != nil {
		query = query.Where("classified = ?", *filter.Classified)
	}

	var records []domain.Record
	if err := query.Order("received_at DESC").Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, unavailable("list records", err)
	}
	return records, nil
}

// ListPendingRecords 列出未分类记录
func (s *Store) ListPendingRecords(ctx context.Context) ([]domain.Record, error) {
	pending := false
	return s.ListRecords(ctx, domain.RecordFilter{Classified: &pending})
}

// UpdateClassification 在事务内锁定记录并更新分类字段
func (s *Store) UpdateClassification(ctx context.Context, id string, c domain.Classification) (*domain.Record, error) {
	var record domain.Record

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}

		record.Apply(c)
		return tx.Model(&record).
			Select("region", "locality", "category", "classified", "updated_at").
			Updates(&record).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, unavailable("update classification", err)
	}
	return &record, nil
}

// DeleteRecord 删除记录，发件人计数与关联保持不变
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Record{})
	if result.Error != nil {
		return unavailable("delete record", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// FindRecordByMessageID 根据 Message-ID 查找记录
func (s *Store) FindRecordByMessageID(ctx context.Context, messageID string) (*domain.Record, error) {
	var record domain.Record
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, unavailable("find record by message id", err)
	}
	return &record, nil
}

type groupCount struct {
	GroupKey string
	Total    int
}

// CountRecordsBy 按字段分组计数
func (s *Store) CountRecordsBy(ctx context.Context, field storage.RecordField) (map[string]int, error) {
	var expr, notNull string
	switch field {
	case storage.FieldRegion:
		expr, notNull = "region", "region IS NOT NULL"
	case storage.FieldCategory:
		expr, notNull = "category", "category IS NOT NULL"
	case storage.FieldRecipient:
		expr, notNull = "to_address", "to_address <> ''"
	case storage.FieldLocality:
		expr, notNull = "CONCAT(region, '-', locality)", "region IS NOT NULL AND locality IS NOT NULL"
	default:
		return nil, fmt.Errorf("%w: unknown field %q", domain.ErrValidation, field)
	}

	var rows []groupCount
	err := s.db.WithContext(ctx).Model(&domain.Record{}).
		Select(expr + " AS group_key, COUNT(*) AS total").
		Where(notNull).
		Group(expr).
		Scan(&rows).Error
	if err != nil {
		return nil, unavailable("count records", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.GroupKey] = row.Total
	}
	return counts, nil
}

// SummarizeRecords 统计总数、已分类数与近期数量
func (s *Store) SummarizeRecords(ctx context.Context, since time.Time) (domain.RecordSummary, error) {
	var row struct {
		Total      int
		Classified int
		Recent     int
	}
	err := s.db.WithContext(ctx).Model(&domain.Record{}).
		Select("COUNT(*) AS total, "+
			"COALESCE(SUM(CASE WHEN classified THEN 1 ELSE 0 END), 0) AS classified, "+
			"COALESCE(SUM(CASE WHEN received_at >= ? THEN 1 ELSE 0 END), 0) AS recent", since).
		Scan(&row).Error
	if err != nil {
		return domain.RecordSummary{}, unavailable("summarize records", err)
	}
	return domain.RecordSummary{Total: row.Total, Classified: row.Classified, Recent: row.Recent}, nil
}

// ========== Sender Repository ==========

// RegisterSent 在一个事务内完成发件人登记
//
// 1. 不存在则插入（address 唯一，冲突忽略）
// 2. 行锁定后回填显示名
// 3. 插入 (sender_id, record_id) 关联，冲突忽略；仅在实际插入时 sent_count + 1
//
// 关联表主键保证同一记录只计一次，计数与关联行数始终一致。
func (s *Store) RegisterSent(ctx context.Context, address string, name *string, recordID string) (*domain.Sender, error) {
	var sender domain.Sender

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate := domain.Sender{
			ID:        uuid.NewString(),
			Address:   address,
			Name:      name,
			SentCount: 0,
			Active:    true,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoNothing: true,
		}).Create(&candidate).Error
		if err != nil {
			return err
		}

		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("address = ?", address).
			First(&sender).Error
		if err != nil {
			return err
		}

		if name != nil && strings.TrimSpace(*name) != "" && (sender.Name == nil || *sender.Name != *name) {
			if err := tx.Model(&sender).Update("name", *name).Error; err != nil {
				return err
			}
		}

		link := domain.SenderRecord{SenderID: sender.ID, RecordID: recordID}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			err := tx.Model(&domain.Sender{}).
				Where("id = ?", sender.ID).
				UpdateColumn("sent_count", gorm.Expr("sent_count + ?", 1)).Error
			if err != nil {
				return err
			}
		}

		if err := tx.Where("id = ?", sender.ID).First(&sender).Error; err != nil {
			return err
		}
		return s.attachRecordIDs(tx, []*domain.Sender{&sender})
	})
	if err != nil {
		return nil, unavailable("register sent", err)
	}
	return &sender, nil
}

// GetSender 根据 ID 获取发件人
func (s *Store) GetSender(ctx context.Context, id string) (*domain.Sender, error) {
	return s.findSender(ctx, "id = ?", id)
}

// GetSenderByAddress 根据地址获取发件人
func (s *Store) GetSenderByAddress(ctx context.Context, address string) (*domain.Sender, error) {
	return s.findSender(ctx, "address = ?", address)
}

func (s *Store) findSender(ctx context.Context, query string, arg string) (*domain.Sender, error) {
	db := s.db.WithContext(ctx)

	var sender domain.Sender
	if err := db.Where(query, arg).First(&sender).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSenderNotFound
		}
		return nil, unavailable("get sender", err)
	}
	if err := s.attachRecordIDs(db, []*domain.Sender{&sender}); err != nil {
		return nil, unavailable("get sender", err)
	}
	return &sender, nil
}

// ListSenders 按创建顺序列出全部发件人
func (s *Store) ListSenders(ctx context.Context) ([]domain.Sender, error) {
	return s.listSenders(ctx, "created_at ASC", -1)
}

// TopSenders 按发送数量倒序返回前 n 个发件人
func (s *Store) TopSenders(ctx context.Context, n int) ([]domain.Sender, error) {
	if n == 0 {
		return []domain.Sender{}, nil
	}
	return s.listSenders(ctx, "sent_count DESC, created_at ASC", n)
}

func (s *Store) listSenders(ctx context.Context, order string, limit int) ([]domain.Sender, error) {
	db := s.db.WithContext(ctx)

	var senders []domain.Sender
	if err := db.Order(order).Limit(limit).Find(&senders).Error; err != nil {
		return nil, unavailable("list senders", err)
	}

	ptrs := make([]*domain.Sender, len(senders))
	for i := range senders {
		ptrs[i] = &senders[i]
	}
	if err := s.attachRecordIDs(db, ptrs); err != nil {
		return nil, unavailable("list senders", err)
	}
	return senders, nil
}

// attachRecordIDs 批量加载发件人的记录 ID 列表
func (s *Store) attachRecordIDs(db *gorm.DB, senders []*domain.Sender) error {
	if len(senders) == 0 {
		return nil
	}

	ids := make([]string, 0, len(senders))
	index := make(map[string]*domain.Sender, len(senders))
	for _, sender := range senders {
		sender.RecordIDs = make([]string, 0, sender.SentCount)
		ids = append(ids, sender.ID)
		index[sender.ID] = sender
	}

	var links []domain.SenderRecord
	err := db.Where("sender_id IN ?", ids).
		Order("created_at ASC").Order("record_id ASC").
		Find(&links).Error
	if err != nil {
		return err
	}

	for _, link := range links {
		if sender, ok := index[link.SenderID]; ok {
			sender.RecordIDs = append(sender.RecordIDs, link.RecordID)
		}
	}
	return nil
}

// ========== Watermark Repository ==========

// GetWatermark 获取邮箱水位线，不存在时返回 nil
func (s *Store) GetWatermark(ctx context.Context, mailbox string) (*domain.SyncWatermark, error) {
	var mark domain.SyncWatermark
	err := s.db.WithContext(ctx).Where("mailbox = ?", mailbox).First(&mark).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, unavailable("get watermark", err)
	}
	return &mark, nil
}

// SaveWatermark 插入或更新邮箱水位线
//
// UIDVALIDITY 相同时 LastUID 只增不减，并发的同步运行不会让水位线回退。
func (s *Store) SaveWatermark(ctx context.Context, mark *domain.SyncWatermark) error {
	if mark.UpdatedAt.IsZero() {
		mark.UpdatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(mark).Error; err != nil {
			return err
		}

		var current domain.SyncWatermark
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("mailbox = ?", mark.Mailbox).
			First(&current).Error; err != nil {
			return err
		}
		if current.UIDValidity == mark.UIDValidity && current.LastUID >= mark.LastUID {
			return nil
		}

		return tx.Model(&domain.SyncWatermark{}).
			Where("mailbox = ?", mark.Mailbox).
			Updates(map[string]any{
				"uid_validity": mark.UIDValidity,
				"last_uid":     mark.LastUID,
				"updated_at":   mark.UpdatedAt,
			}).Error
	})
	if err != nil {
		return unavailable("save watermark", err)
	}
	return nil
}

// ========== Manager Repository ==========

// CreateManager 创建管理员
func (s *Store) CreateManager(ctx context.Context, manager *domain.Manager) error {
	if manager.ID == "" {
		manager.ID = uuid.NewString()
	}
	manager.Email = strings.ToLower(manager.Email)

	if err := s.db.WithContext(ctx).Create(manager).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailExists
		}
		return unavailable("create manager", err)
	}
	return nil
}

// GetManagerByEmail 根据邮箱获取管理员
func (s *Store) GetManagerByEmail(ctx context.Context, email string) (*domain.Manager, error) {
	return s.findManager(ctx, "email = ?", strings.ToLower(email))
}

// GetManager 根据 ID 获取管理员
func (s *Store) GetManager(ctx context.Context, id string) (*domain.Manager, error) {
	return s.findManager(ctx, "id = ?", id)
}

func (s *Store) findManager(ctx context.Context, query, arg string) (*domain.Manager, error) {
	var manager domain.Manager
	if err := s.db.WithContext(ctx).Where(query, arg).First(&manager).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrManagerNotFound
		}
		return nil, unavailable("get manager", err)
	}
	return &manager, nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&domain.Manager{}).
		Where("id = ?", id).
		Update("last_login_at", time.Now().UTC())
	if result.Error != nil {
		return unavailable("update last login", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrManagerNotFound
	}
	return nil
}

// CountManagers 返回管理员数量
func (s *Store) CountManagers(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.Manager{}).Count(&count).Error; err != nil {
		return 0, unavailable("count managers", err)
	}
	return int(count), nil
}

// ========== Lifecycle ==========

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
