package domain

import (
	"strings"
	"time"
)

// Record 表示一封已入库、可被分类的邮件记录。
//
// 来源可以是 IMAP 同步，也可以是人工录入。
// 分类字段在分类前均为 nil。
type Record struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	From       string    `json:"remetente" gorm:"column:from_address;type:varchar(320);index;not null"`
	FromName   *string   `json:"nome_remetente" gorm:"type:varchar(255)"`
	To         string    `json:"destinatario" gorm:"column:to_address;type:varchar(320);index;not null"`
	Subject    string    `json:"assunto" gorm:"type:text"`
	Body       string    `json:"corpo" gorm:"type:text"`
	ReceivedAt time.Time `json:"data" gorm:"index;not null"`

	// 分类字段
	Region     *string `json:"estado" gorm:"type:varchar(8);index"`
	Locality   *string `json:"municipio" gorm:"type:varchar(128)"`
	Category   *string `json:"categoria" gorm:"type:varchar(64)"`
	Classified bool    `json:"classificado" gorm:"not null;default:false;index"`

	// 来源信息（人工录入时为空）
	Mailbox   string `json:"-" gorm:"type:varchar(255)"`
	SourceUID uint32 `json:"-"`
	MessageID string `json:"message_id,omitempty" gorm:"type:varchar(512);index"`

	CreatedAt time.Time `json:"criado_em"`
	UpdatedAt time.Time `json:"atualizado_em"`
}

// Classification 分类命令的参数。
type Classification struct {
	Region   string
	Locality string
	Category *string
}

// HasClassification 报告地区与地点是否都已设置。
func (r *Record) HasClassification() bool {
	return r.Region != nil && strings.TrimSpace(*r.Region) != "" &&
		r.Locality != nil && strings.TrimSpace(*r.Locality) != ""
}

// Apply 写入分类字段并刷新 Classified 标志。
//
// 已分类的记录再次分类只覆盖字段，标志保持为 true。
func (r *Record) Apply(c Classification) {
	region := c.Region
	locality := c.Locality
	r.Region = &region
	r.Locality = &locality
	r.Category = nil
	if c.Category != nil {
		category := *c.Category
		r.Category = &category
	}
	r.Classified = r.Classified || r.HasClassification()
}

// RecordFilter 列表查询的过滤条件，空字段表示不过滤。
type RecordFilter struct {
	Region     string
	Locality   string
	Category   string
	From       string
	Classified *bool
}

// IsEmpty 报告过滤条件是否全部为空。
func (f RecordFilter) IsEmpty() bool {
	return f.Region == "" && f.Locality == "" && f.Category == "" && f.From == "" && f.Classified == nil
}

// Matches 判断记录是否满足全部过滤条件。
func (f RecordFilter) Matches(r *Record) bool {
	if f.Region != "" && (r.Region == nil || !strings.EqualFold(*r.Region, f.Region)) {
		return false
	}
	if f.Locality != "" && (r.Locality == nil || !strings.EqualFold(*r.Locality, f.Locality)) {
		return false
	}
	if f.Category != "" && (r.Category == nil || !strings.EqualFold(*r.Category, f.Category)) {
		return false
	}
	if f.From != "" && !strings.EqualFold(r.From, f.From) {
		return false
	}
	if f.Classified != nil && r.Classified != *f.Classified {
		return false
	}
	return true
}

// StringPtr 返回去除首尾空白后的字符串指针，空串返回 nil。
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
