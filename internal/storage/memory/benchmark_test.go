package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mailsync/backend/internal/domain"
)

func newBenchRecord(i int) *domain.Record {
	return &domain.Record{
		From:       fmt.Sprintf("sender%d@x.com", i%50),
		To:         fmt.Sprintf("team%d@y.com", i%5),
		Subject:    fmt.Sprintf("Assunto %d", i),
		Body:       "corpo da mensagem",
		ReceivedAt: time.Now().UTC(),
	}
}

func BenchmarkMemoryStore_CreateRecord(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.CreateRecord(ctx, newBenchRecord(i))
	}
}

func BenchmarkMemoryStore_GetRecord(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	ids := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		record := newBenchRecord(i)
		_ = store.CreateRecord(ctx, record)
		ids = append(ids, record.ID)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.GetRecord(ctx, ids[i%len(ids)])
	}
}

func BenchmarkMemoryStore_ListPending(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_ = store.CreateRecord(ctx, newBenchRecord(i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.ListPendingRecords(ctx)
	}
}

func BenchmarkMemoryStore_ConcurrentRegisterSent(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			record := newBenchRecord(i)
			_ = store.CreateRecord(ctx, record)
			_, _ = store.RegisterSent(ctx, record.From, nil, record.ID)
			i++
		}
	})
}
