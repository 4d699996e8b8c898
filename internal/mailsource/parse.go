package mailsource

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"

	"mailsync/backend/internal/domain"
)

const defaultSubject = "Sem assunto"

func init() {
	// go-message 未内置的常见别名
	charset.RegisterEncoding("gb2312", simplifiedchinese.GBK)
	charset.RegisterEncoding("x-gbk", simplifiedchinese.GBK)
	charset.RegisterEncoding("big5-hkscs", traditionalchinese.Big5)
	charset.RegisterEncoding("ks_c_5601-1987", korean.EUCKR)
}

// ParseMessage 解析原始 RFC 5322 邮件
//
// From/To 保留原始头（交给 mailaddr 规范化），主题解码 RFC 2047，
// 正文优先取 text/plain，没有时退回 text/html，附件忽略。
//
// 参数:
//   - raw: 原始邮件字节
//   - uid: 来源 UID
//   - fetchedAt: 本地拉取时间
func ParseMessage(raw []byte, uid uint32, fetchedAt time.Time) (*domain.InboundMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && mr == nil {
		return nil, fmt.Errorf("%w: uid %d: %v", domain.ErrMessageFetch, uid, err)
	}
	defer mr.Close()

	msg := &domain.InboundMessage{
		UID:       uid,
		From:      mr.Header.Get("From"),
		To:        mr.Header.Get("To"),
		FetchedAt: fetchedAt,
	}

	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else {
		msg.Subject = strings.TrimSpace(mr.Header.Get("Subject"))
	}
	if msg.Subject == "" {
		msg.Subject = defaultSubject
	}

	if id, err := mr.Header.MessageID(); err == nil {
		msg.MessageID = id
	}

	var text, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// 已解析出的部分仍然可用
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := inline.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && text == "":
			text = string(body)
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = string(body)
		case contentType == "" && text == "":
			text = string(body)
		}
	}

	if text != "" {
		msg.Body = text
	} else {
		msg.Body = html
	}

	return msg, nil
}
