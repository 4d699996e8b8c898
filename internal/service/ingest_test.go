package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/mailaddr"
	"mailsync/backend/internal/mailsource"
	"mailsync/backend/internal/pool"
	"mailsync/backend/internal/storage/memory"
)

// MockSource 模拟邮件源
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Fetch(ctx context.Context, mark *domain.SyncWatermark) (*domain.FetchBatch, error) {
	args := m.Called(ctx, mark)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FetchBatch), args.Error(1)
}

// failingSeen 总是返回错误的去重过滤器
type failingSeen struct{}

func (failingSeen) IsNew(context.Context, string) (bool, error) { return false, errors.New("redis down") }
func (failingSeen) Confirm(context.Context, string) error       { return nil }
func (failingSeen) Forget(context.Context, string) error        { return nil }

func newIngestFixture(t *testing.T, source *MockSource, seen SeenFilter) (*IngestService, *memory.Store) {
	t.Helper()
	log := zap.NewNop()
	store := memory.NewStore()
	senders := NewSenderService(store, store, log)
	svc := NewIngestService(
		source,
		store,
		senders,
		mailaddr.NewNormalizer(false),
		seen,
		pool.NewWorkerPool(4, log),
		IngestOptions{Mailbox: "INBOX", AttributeSenders: true},
		log,
	)
	return svc, store
}

func inbound(uid uint32, messageID, from, to string) domain.InboundMessage {
	return domain.InboundMessage{
		UID:       uid,
		MessageID: messageID,
		From:      from,
		To:        to,
		Subject:   fmt.Sprintf("assunto %d", uid),
		Body:      "corpo",
		FetchedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestIngestService_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("入库一封邮件并登记发件人", func(t *testing.T) {
		source := new(MockSource)
		svc, store := newIngestFixture(t, source, nil)

		source.On("Fetch", mock.Anything, (*domain.SyncWatermark)(nil)).Return(&domain.FetchBatch{
			Mailbox:     "INBOX",
			UIDValidity: 7,
			Messages:    []domain.InboundMessage{inbound(1, "<m1@x.com>", "Ana Silva <ana@x.com>", "time@y.com")},
		}, nil)

		result, err := svc.Sync(ctx, domain.SyncTriggerManual)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Fetched)
		assert.Equal(t, 1, result.Ingested)
		require.Len(t, result.Records, 1)
		assert.NotEmpty(t, result.RunID)

		record := result.Records[0]
		assert.Equal(t, "ana@x.com", record.From)
		require.NotNil(t, record.FromName)
		assert.Equal(t, "Ana Silva", *record.FromName)
		assert.Equal(t, "time@y.com", record.To)
		assert.False(t, record.Classified)

		sender, err := store.GetSenderByAddress(ctx, "ana@x.com")
		require.NoError(t, err)
		assert.Equal(t, 1, sender.SentCount)
		assert.Equal(t, []string{record.ID}, sender.RecordIDs)

		mark, err := store.GetWatermark(ctx, "INBOX")
		require.NoError(t, err)
		require.NotNil(t, mark)
		assert.Equal(t, uint32(7), mark.UIDValidity)
		assert.Equal(t, uint32(1), mark.LastUID)
		source.AssertExpectations(t)
	})

	t.Run("相同Message-ID只入库一次", func(t *testing.T) {
		source := new(MockSource)
		svc, store := newIngestFixture(t, source, nil)

		source.On("Fetch", mock.Anything, mock.Anything).Return(&domain.FetchBatch{
			Mailbox:     "INBOX",
			UIDValidity: 1,
			Messages: []domain.InboundMessage{
				inbound(1, "<dup@x.com>", "a@x.com", "b@y.com"),
				inbound(2, "<dup@x.com>", "a@x.com", "b@y.com"),
				inbound(3, "<other@x.com>", "a@x.com", "b@y.com"),
			},
		}, nil)

		result, err := svc.Sync(ctx, domain.SyncTriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Ingested)
		assert.Equal(t, 1, result.Duplicates)

		records, err := store.ListRecords(ctx, domain.RecordFilter{})
		require.NoError(t, err)
		assert.Len(t, records, 2)

		sender, err := store.GetSenderByAddress(ctx, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, 2, sender.SentCount)
	})

	t.Run("再次同步已入库的邮件被识别为重复", func(t *testing.T) {
		source := new(MockSource)
		svc, store := newIngestFixture(t, source, nil)

		batch := &domain.FetchBatch{
			Mailbox:     "INBOX",
			UIDValidity: 1,
			Messages:    []domain.InboundMessage{inbound(5, "<same@x.com>", "a@x.com", "b@y.com")},
		}
		source.On("Fetch", mock.Anything, mock.Anything).Return(batch, nil)

		_, err := svc.Sync(ctx, domain.SyncTriggerScheduled)
		require.NoError(t, err)
		result, err := svc.Sync(ctx, domain.SyncTriggerScheduled)
		require.NoError(t, err)

		assert.Equal(t, 0, result.Ingested)
		assert.Equal(t, 1, result.Duplicates)
		summary, err := store.SummarizeRecords(ctx, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Total)
	})

	t.Run("过滤器失败时回退到存储查询", func(t *testing.T) {
		source := new(MockSource)
		svc, _ := newIngestFixture(t, source, failingSeen{})

		source.On("Fetch", mock.Anything, mock.Anything).Return(&domain.FetchBatch{
			Mailbox:     "INBOX",
			UIDValidity: 1,
			Messages:    []domain.InboundMessage{inbound(1, "<m@x.com>", "a@x.com", "b@y.com")},
		}, nil)

		result, err := svc.Sync(ctx, domain.SyncTriggerManual)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Ingested)
	})

	t.Run("连接失败不写入任何记录", func(t *testing.T) {
		source := new(MockSource)
		svc, store := newIngestFixture(t, source, nil)

		source.On("Fetch", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: dial: refused", domain.ErrConnection))

		result, err := svc.Sync(ctx, domain.SyncTriggerScheduled)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConnection)
		assert.NotEmpty(t, result.Error)
		assert.Equal(t, 0, result.Ingested)

		summary, err := store.SummarizeRecords(ctx, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Total)
	})

	t.Run("跳过的邮件计入失败数", func(t *testing.T) {
		source := new(MockSource)
		svc, _ := newIngestFixture(t, source, nil)

		source.On("Fetch", mock.Anything, mock.Anything).Return(&domain.FetchBatch{
			Mailbox:     "INBOX",
			UIDValidity: 1,
			Messages:    []domain.InboundMessage{inbound(2, "", "a@x.com", "b@y.com")},
			Skipped:     1,
		}, nil)

		result, err := svc.Sync(ctx, domain.SyncTriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Fetched)
		assert.Equal(t, 1, result.Ingested)
		assert.Equal(t, 1, result.Failed)
	})

	t.Run("结果按UID升序排列", func(t *testing.T) {
		source := new(MockSource)
		svc, store := newIngestFixture(t, source, nil)

		source.On("Fetch", mock.Anything, mock.Anything).Return(&domain.FetchBatch{
			Mailbox:     "INBOX",
			UIDValidity: 3,
			Messages: []domain.InboundMessage{
				inbound(9, "<9@x.com>", "a@x.com", "b@y.com"),
				inbound(4, "<4@x.com>", "a@x.com", "b@y.com"),
				inbound(6, "<6@x.com>", "a@x.com", "b@y.com"),
			},
		}, nil)

		result, err := svc.Sync(ctx, domain.SyncTriggerScheduled)
		require.NoError(t, err)
		require.Len(t, result.Records, 3)
		assert.Equal(t, uint32(4), result.Records[0].SourceUID)
		assert.Equal(t, uint32(6), result.Records[1].SourceUID)
		assert.Equal(t, uint32(9), result.Records[2].SourceUID)

		mark, err := store.GetWatermark(ctx, "INBOX")
		require.NoError(t, err)
		assert.Equal(t, uint32(9), mark.LastUID)
	})
}

func TestIngestService_Watermark(t *testing.T) {
	ctx := context.Background()

	t.Run("UIDVALIDITY变化时重置水位线", func(t *testing.T) {
		source := new(MockSource)
		svc, store := newIngestFixture(t, source, nil)
		require.NoError(t, store.SaveWatermark(ctx, &domain.SyncWatermark{
			Mailbox:     "INBOX",
			UIDValidity: 1,
			LastUID:     100,
		}))

		source.On("Fetch", mock.Anything, mock.Anything).Return(&domain.FetchBatch{
			Mailbox:     "INBOX",
			UIDValidity: 2,
			Messages:    []domain.InboundMessage{inbound(3, "<new@x.com>", "a@x.com", "b@y.com")},
		}, nil)

		_, err := svc.Sync(ctx, domain.SyncTriggerScheduled)
		require.NoError(t, err)

		mark, err := store.GetWatermark(ctx, "INBOX")
		require.NoError(t, err)
		assert.Equal(t, uint32(2), mark.UIDValidity)
		assert.Equal(t, uint32(3), mark.LastUID)
	})

	t.Run("已有水位线传给邮件源", func(t *testing.T) {
		source := new(MockSource)
		svc, store := newIngestFixture(t, source, nil)
		require.NoError(t, store.SaveWatermark(ctx, &domain.SyncWatermark{
			Mailbox:     "INBOX",
			UIDValidity: 1,
			LastUID:     10,
		}))

		source.On("Fetch", mock.Anything, mock.MatchedBy(func(m *domain.SyncWatermark) bool {
			return m != nil && m.LastUID == 10
		})).Return(&domain.FetchBatch{Mailbox: "INBOX", UIDValidity: 1}, nil)

		result, err := svc.Sync(ctx, domain.SyncTriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Fetched)
		source.AssertExpectations(t)

		mark, err := store.GetWatermark(ctx, "INBOX")
		require.NoError(t, err)
		assert.Equal(t, uint32(10), mark.LastUID)
	})
}

func TestIngestService_NoAttribution(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()
	store := memory.NewStore()
	source := new(MockSource)
	svc := NewIngestService(source, store, NewSenderService(store, store, log),
		mailaddr.NewNormalizer(false), nil, nil,
		IngestOptions{AttributeSenders: false}, log)

	source.On("Fetch", mock.Anything, mock.Anything).Return(&domain.FetchBatch{
		Mailbox:     "INBOX",
		UIDValidity: 1,
		Messages:    []domain.InboundMessage{inbound(1, "", "a@x.com", "b@y.com")},
	}, nil)

	result, err := svc.Sync(ctx, domain.SyncTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Ingested)

	senders, err := store.ListSenders(ctx)
	require.NoError(t, err)
	assert.Empty(t, senders)
}

// mailboxSource 模拟一个只读不标记已读的邮箱，每次最多返回 window 封水位线之上的邮件
type mailboxSource struct {
	uidValidity uint32
	uids        []uint32
	window      int
}

func (m *mailboxSource) Fetch(_ context.Context, mark *domain.SyncWatermark) (*domain.FetchBatch, error) {
	batch := &domain.FetchBatch{Mailbox: "INBOX", UIDValidity: m.uidValidity}
	for _, uid := range m.uids {
		if mark.Covers(m.uidValidity, uid) {
			continue
		}
		if len(batch.Messages) == m.window {
			break
		}
		batch.Messages = append(batch.Messages,
			inbound(uid, fmt.Sprintf("<%d@x.com>", uid), "a@x.com", "b@y.com"))
	}
	return batch, nil
}

// gatedSource 在 release 关闭前阻塞 Fetch，用于构造重叠的同步运行
type gatedSource struct {
	batch   *domain.FetchBatch
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Fetch(ctx context.Context, _ *domain.SyncWatermark) (*domain.FetchBatch, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.batch, nil
}

func batchOf(uidValidity uint32, from, to uint32) *domain.FetchBatch {
	batch := &domain.FetchBatch{Mailbox: "INBOX", UIDValidity: uidValidity}
	for uid := from; uid <= to; uid++ {
		batch.Messages = append(batch.Messages, inbound(uid, fmt.Sprintf("<%d@x.com>", uid), "a@x.com", "b@y.com"))
	}
	return batch
}

func TestIngestService_Backlog(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()
	store := memory.NewStore()

	uids := make([]uint32, 25)
	for i := range uids {
		uids[i] = uint32(i + 1)
	}
	source := &mailboxSource{uidValidity: 1, uids: uids, window: 10}
	svc := NewIngestService(source, store, NewSenderService(store, store, log),
		mailaddr.NewNormalizer(false), nil, pool.NewWorkerPool(4, log),
		IngestOptions{Mailbox: "INBOX", AttributeSenders: true}, log)

	counts := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		result, err := svc.Sync(ctx, domain.SyncTriggerScheduled)
		require.NoError(t, err)
		counts = append(counts, result.Ingested)
	}
	assert.Equal(t, []int{10, 10, 5, 0}, counts)

	summary, err := store.SummarizeRecords(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 25, summary.Total)

	mark, err := store.GetWatermark(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(25), mark.LastUID)
}

func TestIngestService_OverlappingRuns(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()
	store := memory.NewStore()
	senders := NewSenderService(store, store, log)
	newSvc := func(source mailsource.Source) *IngestService {
		return NewIngestService(source, store, senders, mailaddr.NewNormalizer(false), nil, nil,
			IngestOptions{Mailbox: "INBOX"}, log)
	}

	slow := &gatedSource{
		batch:   batchOf(1, 1, 10),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	fast := new(MockSource)
	fast.On("Fetch", mock.Anything, mock.Anything).Return(batchOf(1, 1, 12), nil)

	done := make(chan error, 1)
	go func() {
		_, err := newSvc(slow).Sync(ctx, domain.SyncTriggerScheduled)
		done <- err
	}()
	<-slow.entered

	_, err := newSvc(fast).Sync(ctx, domain.SyncTriggerManual)
	require.NoError(t, err)

	close(slow.release)
	require.NoError(t, <-done)

	mark, err := store.GetWatermark(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), mark.LastUID)
}

// blockingLookup 对指定 Message-ID 的查询阻塞到 release 关闭
type blockingLookup struct {
	*memory.Store
	blockID string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLookup) FindRecordByMessageID(ctx context.Context, messageID string) (*domain.Record, error) {
	if messageID == b.blockID {
		close(b.entered)
		<-b.release
	}
	return b.Store.FindRecordByMessageID(ctx, messageID)
}

func TestStoreSeenFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("并发的相同Message-ID只有一个通过", func(t *testing.T) {
		filter := NewStoreSeenFilter(memory.NewStore())

		results := make(chan bool, 8)
		for i := 0; i < 8; i++ {
			go func() {
				isNew, err := filter.IsNew(ctx, "<same@x.com>")
				assert.NoError(t, err)
				results <- isNew
			}()
		}
		passed := 0
		for i := 0; i < 8; i++ {
			if <-results {
				passed++
			}
		}
		assert.Equal(t, 1, passed)
	})

	t.Run("慢查询不阻塞其他Message-ID", func(t *testing.T) {
		repo := &blockingLookup{
			Store:   memory.NewStore(),
			blockID: "<slow@x.com>",
			entered: make(chan struct{}),
			release: make(chan struct{}),
		}
		filter := NewStoreSeenFilter(repo)

		go func() { _, _ = filter.IsNew(ctx, "<slow@x.com>") }()
		<-repo.entered

		done := make(chan bool, 1)
		go func() {
			isNew, _ := filter.IsNew(ctx, "<fast@x.com>")
			done <- isNew
		}()
		select {
		case isNew := <-done:
			assert.True(t, isNew)
		case <-time.After(2 * time.Second):
			t.Fatal("lookup of another message id was blocked")
		}
		close(repo.release)
	})

	t.Run("已落库的邮件确认后仍识别为重复", func(t *testing.T) {
		store := memory.NewStore()
		filter := NewStoreSeenFilter(store)

		isNew, err := filter.IsNew(ctx, "<kept@x.com>")
		require.NoError(t, err)
		require.True(t, isNew)
		require.NoError(t, store.CreateRecord(ctx, &domain.Record{From: "a@x.com", To: "b@y.com", MessageID: "<kept@x.com>"}))
		require.NoError(t, filter.Confirm(ctx, "<kept@x.com>"))

		isNew, err = filter.IsNew(ctx, "<kept@x.com>")
		require.NoError(t, err)
		assert.False(t, isNew)
	})
}
