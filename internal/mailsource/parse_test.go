package mailsource

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsync/backend/internal/domain"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseMessage_PlainText(t *testing.T) {
	raw := crlf(`From: "Ana Silva" <ana@x.com>
To: time@y.com
Subject: =?UTF-8?Q?Relat=C3=B3rio_mensal?=
Message-ID: <abc123@x.com>
Content-Type: text/plain; charset=utf-8

Segue o relatorio.
`)
	fetchedAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	msg, err := ParseMessage(raw, 42, fetchedAt)
	require.NoError(t, err)

	assert.Equal(t, uint32(42), msg.UID)
	assert.Equal(t, `"Ana Silva" <ana@x.com>`, msg.From)
	assert.Equal(t, "time@y.com", msg.To)
	assert.Equal(t, "Relatório mensal", msg.Subject)
	assert.Equal(t, "abc123@x.com", msg.MessageID)
	assert.Contains(t, msg.Body, "Segue o relatorio.")
	assert.Equal(t, fetchedAt, msg.FetchedAt)
}

func TestParseMessage_MultipartPrefersText(t *testing.T) {
	raw := crlf(`From: ana@x.com
To: time@y.com
Subject: Oi
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/html; charset=utf-8

<p>html</p>
--inner
Content-Type: text/plain; charset=utf-8

texto simples
--inner--
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="a.pdf"

JVBERi0=
--outer--
`)

	msg, err := ParseMessage(raw, 1, time.Now())
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "texto simples")
	assert.NotContains(t, msg.Body, "JVBERi0")
}

func TestParseMessage_HTMLOnlyAndDefaultSubject(t *testing.T) {
	raw := crlf(`From: ana@x.com
To: time@y.com
Content-Type: text/html; charset=utf-8

<b>oi</b>
`)

	msg, err := ParseMessage(raw, 2, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Sem assunto", msg.Subject)
	assert.Contains(t, msg.Body, "<b>oi</b>")
	assert.Empty(t, msg.MessageID)
}

func TestSelectWindow(t *testing.T) {
	src := NewIMAPSource(Config{Host: "imap.example.com", Port: 993, Window: 3}, zap.NewNop())

	all := []imap.UID{1, 2, 3, 4, 5, 6}

	t.Run("没有水位线时取最早窗口", func(t *testing.T) {
		assert.Equal(t, []imap.UID{1, 2, 3}, src.selectWindow(all, nil, 9))
	})

	t.Run("过滤水位线以下的 UID", func(t *testing.T) {
		mark := &domain.SyncWatermark{UIDValidity: 9, LastUID: 5}
		assert.Equal(t, []imap.UID{6}, src.selectWindow(all, mark, 9))
	})

	t.Run("积压按窗口依次推进", func(t *testing.T) {
		mark := &domain.SyncWatermark{UIDValidity: 9, LastUID: 2}
		assert.Equal(t, []imap.UID{3, 4, 5}, src.selectWindow(all, mark, 9))
	})

	t.Run("乱序的搜索结果先排序", func(t *testing.T) {
		assert.Equal(t, []imap.UID{1, 2, 3}, src.selectWindow([]imap.UID{6, 3, 1, 5, 2, 4}, nil, 9))
	})

	t.Run("UIDVALIDITY 变化时忽略水位线", func(t *testing.T) {
		mark := &domain.SyncWatermark{UIDValidity: 8, LastUID: 5}
		assert.Equal(t, []imap.UID{1, 2, 3}, src.selectWindow(all, mark, 9))
	})
}

func TestNewIMAPSourceDefaults(t *testing.T) {
	src := NewIMAPSource(Config{Host: "imap.example.com"}, zap.NewNop())
	assert.Equal(t, "INBOX", src.Mailbox())
	assert.Equal(t, 10, src.cfg.Window)
	assert.Equal(t, PolicyUnseen, src.cfg.Policy)
}
