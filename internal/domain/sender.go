package domain

import "time"

// Sender 发件人档案（funcionário），按规范化地址唯一。
//
// 不变量：len(RecordIDs) == SentCount。删除邮件记录不会回退计数。
type Sender struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address   string    `json:"email" gorm:"type:varchar(320);uniqueIndex;not null"`
	Name      *string   `json:"nome" gorm:"type:varchar(255)"`
	SentCount int       `json:"total_emails" gorm:"not null;default:0"`
	RecordIDs []string  `json:"emails_enviados" gorm:"-"`
	Active    bool      `json:"ativo" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"criado_em"`
	UpdatedAt time.Time `json:"atualizado_em"`
}

// SenderRecord 发件人与邮件记录的关联，(SenderID, RecordID) 唯一。
type SenderRecord struct {
	SenderID  string    `gorm:"primaryKey;type:varchar(36)"`
	RecordID  string    `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `gorm:"index"`
}
