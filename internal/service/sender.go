package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/monitoring"
	"mailsync/backend/internal/storage"
)

// SenderService 维护发件人档案（funcionários）。
type SenderService struct {
	senders storage.SenderRepository
	records storage.RecordRepository
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewSenderService 创建发件人服务。
func NewSenderService(senders storage.SenderRepository, records storage.RecordRepository, log *zap.Logger) *SenderService {
	return &SenderService{
		senders: senders,
		records: records,
		log:     log,
	}
}

// SetMetrics 设置监控指标
func (s *SenderService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// RegisterSent 将一条记录归属到发件人
//
// 档案不存在时创建；name 非空且与现有显示名不同则回填。
// 计数加一与追加记录 ID 由存储原子完成，同一 recordID 只计一次。
func (s *SenderService) RegisterSent(ctx context.Context, address string, name *string, recordID string) (*domain.Sender, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: sender address is required", domain.ErrValidation)
	}
	if recordID == "" {
		return nil, fmt.Errorf("%w: record id is required", domain.ErrValidation)
	}

	sender, err := s.senders.RegisterSent(ctx, address, name, recordID)
	if err != nil {
		return nil, fmt.Errorf("register sent: %w", err)
	}

	s.metrics.RecordSenderRegistration()
	s.log.Debug("sender registered",
		zap.String("address", address),
		zap.String("record_id", recordID),
		zap.Int("total", sender.SentCount),
	)
	return sender, nil
}

// List 列出全部发件人
func (s *SenderService) List(ctx context.Context) ([]domain.Sender, error) {
	return s.senders.ListSenders(ctx)
}

// Get 根据 ID 获取发件人
func (s *SenderService) Get(ctx context.Context, id string) (*domain.Sender, error) {
	return s.senders.GetSender(ctx, id)
}

// Top 按发送数量倒序返回前 n 个发件人
func (s *SenderService) Top(ctx context.Context, n int) ([]domain.Sender, error) {
	return s.senders.TopSenders(ctx, n)
}

// Records 返回发件人名下仍存在的记录，已删除的记录被跳过
func (s *SenderService) Records(ctx context.Context, id string) ([]domain.Record, error) {
	sender, err := s.senders.GetSender(ctx, id)
	if err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(sender.RecordIDs))
	for _, recordID := range sender.RecordIDs {
		record, err := s.records.GetRecord(ctx, recordID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}
