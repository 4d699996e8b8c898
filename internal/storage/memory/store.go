package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/storage"
)

var (
	ErrRecordNotFound  = fmt.Errorf("record %w", domain.ErrNotFound)
	ErrSenderNotFound  = fmt.Errorf("sender %w", domain.ErrNotFound)
	ErrManagerNotFound = fmt.Errorf("manager %w", domain.ErrNotFound)
	ErrEmailExists     = fmt.Errorf("manager email %w", domain.ErrAlreadyExists)
)

// Store 使用内存保存邮件记录与发件人档案，主要用于开发验证和测试。
type Store struct {
	mu          sync.RWMutex
	records     map[string]*domain.Record
	recordSeq   map[string]uint64   // recordID -> 插入序号，用于稳定的枚举顺序
	byMessageID map[string]string   // Message-ID -> recordID
	senders     map[string]*domain.Sender
	senderSeq   map[string]uint64
	byAddress   map[string]string              // address -> senderID
	senderLinks map[string]map[string]struct{} // senderID -> recordID 集合
	watermarks  map[string]*domain.SyncWatermark
	managers    map[string]*domain.Manager
	byEmail     map[string]string // email -> managerID
	seq         uint64
	now         func() time.Time
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		records:     make(map[string]*domain.Record),
		recordSeq:   make(map[string]uint64),
		byMessageID: make(map[string]string),
		senders:     make(map[string]*domain.Sender),
		senderSeq:   make(map[string]uint64),
		byAddress:   make(map[string]string),
		senderLinks: make(map[string]map[string]struct{}),
		watermarks:  make(map[string]*domain.SyncWatermark),
		managers:    make(map[string]*domain.Manager),
		byEmail:     make(map[string]string),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

var _ storage.Store = (*Store)(nil)

// ========== Record Repository ==========

// CreateRecord 保存新记录
func (s *Store) CreateRecord(_ context.Context, record *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	record.ID = uuid.NewString()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = now
	}
	record.Classified = record.HasClassification()

	cp := *record
	s.seq++
	s.records[cp.ID] = &cp
	s.recordSeq[cp.ID] = s.seq
	if cp.MessageID != "" {
		s.byMessageID[cp.MessageID] = cp.ID
	}
	return nil
}

// GetRecord 根据 ID 获取记录
func (s *Store) GetRecord(_ context.Context, id string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *record
	return &cp, nil
}

// ListRecords 按接收时间倒序列出记录
func (s *Store) ListRecords(_ context.Context, filter domain.RecordFilter) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedRecords(func(r *domain.Record) bool {
		return filter.Matches(r)
	}), nil
}

// ListPendingRecords 列出未分类记录
func (s *Store) ListPendingRecords(_ context.Context) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedRecords(func(r *domain.Record) bool {
		return !r.Classified
	}), nil
}

// UpdateClassification 更新分类字段
func (s *Store) UpdateClassification(_ context.Context, id string, c domain.Classification) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}

	record.Apply(c)
	record.UpdatedAt = s.now()

	cp := *record
	return &cp, nil
}

// DeleteRecord 删除记录，发件人计数不回退
func (s *Store) DeleteRecord(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if record.MessageID != "" {
		delete(s.byMessageID, record.MessageID)
	}
	delete(s.records, id)
	delete(s.recordSeq, id)
	return nil
}

// FindRecordByMessageID 根据 Message-ID 查找记录
func (s *Store) FindRecordByMessageID(_ context.Context, messageID string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byMessageID[messageID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *s.records[id]
	return &cp, nil
}

// CountRecordsBy 按字段分组计数
func (s *Store) CountRecordsBy(_ context.Context, field storage.RecordField) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range s.records {
		key := recordKey(r, field)
		if key != "" {
			counts[key]++
		}
	}
	return counts, nil
}

// SummarizeRecords 统计总数、已分类数与近期数量
func (s *Store) SummarizeRecords(_ context.Context, since time.Time) (domain.RecordSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary domain.RecordSummary
	for _, r := range s.records {
		summary.Total++
		if r.Classified {
			summary.Classified++
		}
		if !r.ReceivedAt.Before(since) {
			summary.Recent++
		}
	}
	return summary, nil
}

// sortedRecords 返回按接收时间倒序的记录副本，时间相同时按插入顺序倒序
func (s *Store) sortedRecords(keep func(*domain.Record) bool) []domain.Record {
	out := make([]domain.Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return s.recordSeq[out[i].ID] > s.recordSeq[out[j].ID]
	})
	return out
}

func recordKey(r *domain.Record, field storage.RecordField) string {
	switch field {
	case storage.FieldRegion:
		if r.Region != nil {
			return *r.Region
		}
	case storage.FieldCategory:
		if r.Category != nil {
			return *r.Category
		}
	case storage.FieldRecipient:
		return r.To
	case storage.FieldLocality:
		if r.Region != nil && r.Locality != nil {
			return *r.Region + "-" + *r.Locality
		}
	}
	return ""
}

// ========== Sender Repository ==========

// RegisterSent 在同一把锁内完成获取或创建、显示名回填、计数加一与 ID 追加
func (s *Store) RegisterSent(_ context.Context, address string, name *string, recordID string) (*domain.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sender := s.senderByAddressLocked(address)
	if sender == nil {
		sender = &domain.Sender{
			ID:        uuid.NewString(),
			Address:   address,
			SentCount: 0,
			RecordIDs: make([]string, 0),
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.seq++
		s.senders[sender.ID] = sender
		s.senderSeq[sender.ID] = s.seq
		s.byAddress[address] = sender.ID
		s.senderLinks[sender.ID] = make(map[string]struct{})
	}

	if name != nil && strings.TrimSpace(*name) != "" && (sender.Name == nil || *sender.Name != *name) {
		backfill := *name
		sender.Name = &backfill
	}

	links := s.senderLinks[sender.ID]
	if _, seen := links[recordID]; !seen {
		links[recordID] = struct{}{}
		sender.RecordIDs = append(sender.RecordIDs, recordID)
		sender.SentCount++
	}
	sender.UpdatedAt = now

	return cloneSender(sender), nil
}

// GetSender 根据 ID 获取发件人
func (s *Store) GetSender(_ context.Context, id string) (*domain.Sender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sender, ok := s.senders[id]
	if !ok {
		return nil, ErrSenderNotFound
	}
	return cloneSender(sender), nil
}

// GetSenderByAddress 根据地址获取发件人
func (s *Store) GetSenderByAddress(_ context.Context, address string) (*domain.Sender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sender := s.senderByAddressLocked(address)
	if sender == nil {
		return nil, ErrSenderNotFound
	}
	return cloneSender(sender), nil
}

// ListSenders 按创建顺序列出全部发件人
func (s *Store) ListSenders(_ context.Context) ([]domain.Sender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedSenders(func(a, b *domain.Sender) bool {
		return s.senderSeq[a.ID] < s.senderSeq[b.ID]
	}), nil
}

// TopSenders 按发送数量倒序返回前 n 个发件人
func (s *Store) TopSenders(_ context.Context, n int) ([]domain.Sender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.sortedSenders(func(a, b *domain.Sender) bool {
		if a.SentCount != b.SentCount {
			return a.SentCount > b.SentCount
		}
		return s.senderSeq[a.ID] < s.senderSeq[b.ID]
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Store) senderByAddressLocked(address string) *domain.Sender {
	id, ok := s.byAddress[address]
	if !ok {
		return nil
	}
	return s.senders[id]
}

func (s *Store) sortedSenders(less func(a, b *domain.Sender) bool) []domain.Sender {
	ptrs := make([]*domain.Sender, 0, len(s.senders))
	for _, sender := range s.senders {
		ptrs = append(ptrs, sender)
	}
	sort.Slice(ptrs, func(i, j int) bool { return less(ptrs[i], ptrs[j]) })

	out := make([]domain.Sender, 0, len(ptrs))
	for _, sender := range ptrs {
		out = append(out, *cloneSender(sender))
	}
	return out
}

func cloneSender(sender *domain.Sender) *domain.Sender {
	cp := *sender
	cp.RecordIDs = append(make([]string, 0, len(sender.RecordIDs)), sender.RecordIDs...)
	return &cp
}

// ========== Watermark Repository ==========

// GetWatermark 获取邮箱水位线，不存在时返回 nil
func (s *Store) GetWatermark(_ context.Context, mailbox string) (*domain.SyncWatermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mark, ok := s.watermarks[mailbox]
	if !ok {
		return nil, nil
	}
	cp := *mark
	return &cp, nil
}

// SaveWatermark 保存邮箱水位线
//
// UIDVALIDITY 相同时 LastUID 只增不减。
func (s *Store) SaveWatermark(_ context.Context, mark *domain.SyncWatermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.watermarks[mark.Mailbox]; ok &&
		current.UIDValidity == mark.UIDValidity && current.LastUID >= mark.LastUID {
		return nil
	}
	cp := *mark
	cp.UpdatedAt = s.now()
	s.watermarks[cp.Mailbox] = &cp
	return nil
}

// ========== Manager Repository ==========

// CreateManager 创建管理员
func (s *Store) CreateManager(_ context.Context, manager *domain.Manager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(manager.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrEmailExists
	}

	now := s.now()
	if manager.ID == "" {
		manager.ID = uuid.NewString()
	}
	manager.Email = email
	manager.CreatedAt = now
	manager.UpdatedAt = now

	cp := *manager
	s.managers[cp.ID] = &cp
	s.byEmail[email] = cp.ID
	return nil
}

// GetManagerByEmail 根据邮箱获取管理员
func (s *Store) GetManagerByEmail(_ context.Context, email string) (*domain.Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrManagerNotFound
	}
	cp := *s.managers[id]
	return &cp, nil
}

// GetManager 根据 ID 获取管理员
func (s *Store) GetManager(_ context.Context, id string) (*domain.Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	manager, ok := s.managers[id]
	if !ok {
		return nil, ErrManagerNotFound
	}
	cp := *manager
	return &cp, nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	manager, ok := s.managers[id]
	if !ok {
		return ErrManagerNotFound
	}
	now := s.now()
	manager.LastLoginAt = &now
	manager.UpdatedAt = now
	return nil
}

// CountManagers 返回管理员数量
func (s *Store) CountManagers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.managers), nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终可用
func (s *Store) Health() error {
	return nil
}
