package storage

import (
	"context"
	"time"

	"mailsync/backend/internal/domain"
)

// RecordRepository 定义邮件记录数据存取操作。
type RecordRepository interface {
	// CreateRecord 保存新记录，由存储分配 ID 与创建时间。
	CreateRecord(ctx context.Context, record *domain.Record) error
	GetRecord(ctx context.Context, id string) (*domain.Record, error)
	// ListRecords 按接收时间倒序返回满足过滤条件的记录。
	ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.Record, error)
	ListPendingRecords(ctx context.Context) ([]domain.Record, error)
	// UpdateClassification 只更新分类字段与 classified 标志。
	UpdateClassification(ctx context.Context, id string, c domain.Classification) (*domain.Record, error)
	DeleteRecord(ctx context.Context, id string) error
	FindRecordByMessageID(ctx context.Context, messageID string) (*domain.Record, error)
	// CountRecordsBy 按字段分组计数，未设置的值不计入。
	CountRecordsBy(ctx context.Context, field RecordField) (map[string]int, error)
	// SummarizeRecords 统计总数、已分类数以及 since 之后接收的数量。
	SummarizeRecords(ctx context.Context, since time.Time) (domain.RecordSummary, error)
}

// SenderRepository 定义发件人档案数据存取操作。
type SenderRepository interface {
	// RegisterSent 获取或创建发件人档案，回填显示名，
	// 并原子地将计数加一、将 recordID 追加到列表（同一 ID 只追加一次）。
	RegisterSent(ctx context.Context, address string, name *string, recordID string) (*domain.Sender, error)
	GetSender(ctx context.Context, id string) (*domain.Sender, error)
	GetSenderByAddress(ctx context.Context, address string) (*domain.Sender, error)
	ListSenders(ctx context.Context) ([]domain.Sender, error)
	// TopSenders 按发送数量倒序返回前 n 个发件人。
	TopSenders(ctx context.Context, n int) ([]domain.Sender, error)
}

// WatermarkRepository 定义同步水位线存取操作。
type WatermarkRepository interface {
	GetWatermark(ctx context.Context, mailbox string) (*domain.SyncWatermark, error)
	SaveWatermark(ctx context.Context, mark *domain.SyncWatermark) error
}

// ManagerRepository 定义管理员数据存取操作。
type ManagerRepository interface {
	CreateManager(ctx context.Context, manager *domain.Manager) error
	GetManagerByEmail(ctx context.Context, email string) (*domain.Manager, error)
	GetManager(ctx context.Context, id string) (*domain.Manager, error)
	UpdateLastLogin(ctx context.Context, id string) error
	CountManagers(ctx context.Context) (int, error)
}

// Store 聚合所有存储接口，供服务层使用。
type Store interface {
	RecordRepository
	SenderRepository
	WatermarkRepository
	ManagerRepository
	Close() error
	Health() error
}

// RecordField 可分组计数的记录字段
type RecordField string

const (
	FieldRegion    RecordField = "region"
	FieldCategory  RecordField = "category"
	FieldRecipient RecordField = "recipient"
	// FieldLocality 以 "UF-municipio" 作为分组键
	FieldLocality RecordField = "locality"
)
