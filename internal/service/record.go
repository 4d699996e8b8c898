package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/mailaddr"
	"mailsync/backend/internal/monitoring"
	"mailsync/backend/internal/storage"
)

// RecordService 封装邮件记录的查询、人工录入、分类与删除。
type RecordService struct {
	repo       storage.RecordRepository
	normalizer *mailaddr.Normalizer
	rules      domain.ClassificationRules
	events     EventPublisher
	stats      StatsCache
	metrics    *monitoring.Metrics
	log        *zap.Logger
	now        func() time.Time
}

// NewRecordService 创建邮件记录服务。
func NewRecordService(repo storage.RecordRepository, normalizer *mailaddr.Normalizer, rules domain.ClassificationRules, log *zap.Logger) *RecordService {
	return &RecordService{
		repo:       repo,
		normalizer: normalizer,
		rules:      rules,
		events:     noopPublisher{},
		stats:      noopStatsCache{},
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetEventPublisher 设置事件发布者
func (s *RecordService) SetEventPublisher(p EventPublisher) {
	if p != nil {
		s.events = p
	}
}

// SetStatsCache 设置统计缓存，记录变更时使其失效
func (s *RecordService) SetStatsCache(c StatsCache) {
	if c != nil {
		s.stats = c
	}
}

// SetMetrics 设置监控指标
func (s *RecordService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// Get 根据 ID 获取记录
func (s *RecordService) Get(ctx context.Context, id string) (*domain.Record, error) {
	return s.repo.GetRecord(ctx, id)
}

// List 按接收时间倒序列出记录
func (s *RecordService) List(ctx context.Context, filter domain.RecordFilter) ([]domain.Record, error) {
	return s.repo.ListRecords(ctx, filter)
}

// ListPending 列出尚未分类的记录
func (s *RecordService) ListPending(ctx context.Context) ([]domain.Record, error) {
	return s.repo.ListPendingRecords(ctx)
}

// CreateRecordInput 人工录入记录的参数
type CreateRecordInput struct {
	From       string
	FromName   string
	To         string
	Subject    string
	Body       string
	ReceivedAt *time.Time
	Region     string
	Locality   string
	Category   string
}

// Create 人工录入一条记录
//
// 发件人与收件人经过地址规范化后必须是合法邮箱。
// 同时给出地区与地点时按分类规则校验，记录直接成为已分类。
// 人工录入不登记发件人。
func (s *RecordService) Create(ctx context.Context, input CreateRecordInput) (*domain.Record, error) {
	from := s.normalizer.Normalize(input.From)
	to := s.normalizer.Normalize(input.To)

	if from.Address == "" || !domain.ValidateEmail(from.Address) {
		return nil, fmt.Errorf("%w: remetente must be a valid email address", domain.ErrValidation)
	}
	if to.Address == "" || !domain.ValidateEmail(to.Address) {
		return nil, fmt.Errorf("%w: destinatario must be a valid email address", domain.ErrValidation)
	}

	record := &domain.Record{
		From:     from.Address,
		FromName: from.NamePtr(),
		To:       to.Address,
		Subject:  strings.TrimSpace(input.Subject),
		Body:     input.Body,
	}
	if name := domain.StringPtr(input.FromName); name != nil {
		record.FromName = name
	}
	if record.FromName != nil {
		if err := domain.ValidateLength("nome_remetente", *record.FromName, domain.MaxNameLength); err != nil {
			return nil, err
		}
	}
	if input.ReceivedAt != nil {
		record.ReceivedAt = input.ReceivedAt.UTC()
	} else {
		record.ReceivedAt = s.now()
	}

	switch {
	case strings.TrimSpace(input.Region) != "" && strings.TrimSpace(input.Locality) != "":
		c, err := domain.ValidateClassification(domain.Classification{
			Region:   input.Region,
			Locality: input.Locality,
			Category: domain.StringPtr(input.Category),
		}, s.rules)
		if err != nil {
			return nil, err
		}
		record.Region = &c.Region
		record.Locality = &c.Locality
		record.Category = c.Category
	default:
		// 只给出部分分类字段时原样保存，记录保持未分类
		if region := domain.StringPtr(input.Region); region != nil {
			upper := strings.ToUpper(*region)
			record.Region = &upper
		}
		record.Locality = domain.StringPtr(input.Locality)
		record.Category = domain.StringPtr(input.Category)
		if err := validatePartial(record); err != nil {
			return nil, err
		}
	}

	if err := s.repo.CreateRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}

	s.metrics.RecordCreated()
	s.stats.InvalidateStats(ctx)
	s.events.Publish(EventEmailIngested, record)

	s.log.Info("record created manually",
		zap.String("id", record.ID),
		zap.String("from", record.From),
		zap.Bool("classified", record.Classified),
	)
	return record, nil
}

// validatePartial 检查部分分类字段的长度
func validatePartial(record *domain.Record) error {
	fields := []struct {
		name  string
		value *string
		max   int
	}{
		{"estado", record.Region, domain.MaxRegionLength},
		{"municipio", record.Locality, domain.MaxLocalityLength},
		{"categoria", record.Category, domain.MaxCategoryLength},
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if err := domain.ValidateLength(f.name, *f.value, f.max); err != nil {
			return err
		}
	}
	return nil
}

// Classify 对记录执行分类
//
// 地区与地点必填；未给出分类时清空原有分类。
// 已分类的记录再次分类会覆盖字段，classified 保持为 true。
func (s *RecordService) Classify(ctx context.Context, id string, c domain.Classification) (*domain.Record, error) {
	valid, err := domain.ValidateClassification(c, s.rules)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.UpdateClassification(ctx, id, valid)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordClassified()
	s.stats.InvalidateStats(ctx)
	s.events.Publish(EventEmailClassified, record)

	s.log.Info("record classified",
		zap.String("id", id),
		zap.String("estado", valid.Region),
		zap.String("municipio", valid.Locality),
	)
	return record, nil
}

// Delete 删除记录，发件人计数保持不变
func (s *RecordService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteRecord(ctx, id); err != nil {
		return err
	}

	s.metrics.RecordDeleted()
	s.stats.InvalidateStats(ctx)
	s.events.Publish(EventEmailDeleted, map[string]string{"id": id})

	s.log.Info("record deleted", zap.String("id", id))
	return nil
}
