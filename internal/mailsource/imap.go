// Package mailsource 从 IMAP 邮箱拉取未读邮件。
package mailsource

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"mailsync/backend/internal/domain"
)

// 搜索策略
const (
	PolicyUnseen = "unseen"
	PolicyAll    = "all"
)

// Source 邮件源接口
type Source interface {
	// Fetch 拉取水位线之上最早的一个窗口内的邮件。
	// mark 为上次处理到的位置，可为 nil。
	Fetch(ctx context.Context, mark *domain.SyncWatermark) (*domain.FetchBatch, error)
}

// Config IMAP 连接与拉取参数
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	Mailbox            string
	UseTLS             bool
	InsecureSkipVerify bool
	Policy             string // unseen 或 all
	Window             int    // 每次最多处理的邮件数
	MarkSeen           bool   // 拉取成功后标记为已读
	DialTimeout        time.Duration
}

// IMAPSource 基于 go-imap v2 的邮件源
type IMAPSource struct {
	cfg Config
	log *zap.Logger
	now func() time.Time
}

// NewIMAPSource 创建 IMAP 邮件源
func NewIMAPSource(cfg Config, log *zap.Logger) *IMAPSource {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyUnseen
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &IMAPSource{cfg: cfg, log: log, now: time.Now}
}

// Mailbox 返回被同步的邮箱名
func (s *IMAPSource) Mailbox() string {
	return s.cfg.Mailbox
}

// Fetch 连接、登录、选择邮箱、搜索并拉取最近窗口内的邮件。
//
// 连接、登录、选择或搜索失败时返回包装了 domain.ErrConnection 的错误，
// 不返回任何部分结果。单封邮件拉取或解析失败只会跳过该邮件。
func (s *IMAPSource) Fetch(ctx context.Context, mark *domain.SyncWatermark) (*domain.FetchBatch, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	defer func() { _ = client.Logout().Wait() }()

	// 上下文取消时强制断开，让阻塞中的命令返回
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	selected, err := client.Select(s.cfg.Mailbox, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: select %s: %v", domain.ErrConnection, s.cfg.Mailbox, err)
	}

	batch := &domain.FetchBatch{
		Mailbox:     s.cfg.Mailbox,
		UIDValidity: selected.UIDValidity,
		Messages:    make([]domain.InboundMessage, 0),
	}

	criteria := &imap.SearchCriteria{}
	if s.cfg.Policy == PolicyUnseen {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrConnection, err)
	}

	uids := s.selectWindow(searchData.AllUIDs(), mark, selected.UIDValidity)
	if len(uids) == 0 {
		return batch, nil
	}

	s.log.Debug("fetching messages",
		zap.String("mailbox", s.cfg.Mailbox),
		zap.Int("count", len(uids)),
	)

	fetched := make([]imap.UID, 0, len(uids))
	for _, uid := range uids {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConnection, ctx.Err())
		}

		msg, err := s.fetchOne(client, uid)
		if err != nil {
			batch.Skipped++
			s.log.Warn("skipping message",
				zap.Uint32("uid", uint32(uid)),
				zap.Error(err),
			)
			continue
		}
		batch.Messages = append(batch.Messages, *msg)
		fetched = append(fetched, uid)
	}

	if s.cfg.MarkSeen && len(fetched) > 0 {
		err := client.Store(imap.UIDSetNum(fetched...), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil).Close()
		if err != nil {
			s.log.Warn("failed to mark messages as seen", zap.Error(err))
		}
	}

	return batch, nil
}

// connect 建立连接并登录
func (s *IMAPSource) connect(ctx context.Context) (*imapclient.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrConnection, addr, err)
	}

	var client *imapclient.Client
	if s.cfg.UseTLS {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         s.cfg.Host,
			InsecureSkipVerify: s.cfg.InsecureSkipVerify,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: tls handshake %s: %v", domain.ErrConnection, addr, err)
		}
		client = imapclient.New(tlsConn, nil)
	} else {
		client = imapclient.New(conn, nil)
	}

	if err := client.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: login %s: %v", domain.ErrConnection, s.cfg.Username, err)
	}

	return client, nil
}

// selectWindow 过滤掉水位线以下的 UID，保留最早的一个窗口
//
// 积压超过窗口时剩余的 UID 仍在水位线之上，由后续同步依次取回。
func (s *IMAPSource) selectWindow(all []imap.UID, mark *domain.SyncWatermark, uidValidity uint32) []imap.UID {
	uids := make([]imap.UID, 0, len(all))
	for _, uid := range all {
		if mark.Covers(uidValidity, uint32(uid)) {
			continue
		}
		uids = append(uids, uid)
	}
	slices.Sort(uids)

	if len(uids) > s.cfg.Window {
		uids = uids[:s.cfg.Window]
	}
	return uids
}

// fetchOne 拉取并解析单封邮件
func (s *IMAPSource) fetchOne(client *imapclient.Client, uid imap.UID) (*domain.InboundMessage, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})

	buffers, err := fetchCmd.Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: uid %d: %v", domain.ErrMessageFetch, uid, err)
	}
	if len(buffers) == 0 {
		return nil, fmt.Errorf("%w: uid %d: message vanished", domain.ErrMessageFetch, uid)
	}

	raw := buffers[0].FindBodySection(bodySection)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: uid %d: empty body", domain.ErrMessageFetch, uid)
	}

	return ParseMessage(raw, uint32(uid), s.now())
}

// IsConnectionError 判断错误是否为连接级失败
func IsConnectionError(err error) bool {
	return errors.Is(err, domain.ErrConnection)
}
