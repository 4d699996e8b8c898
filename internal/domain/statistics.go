package domain

import "time"

// DashboardStats 仪表盘统计数据
type DashboardStats struct {
	Total         int              `json:"total"`
	Classified    int              `json:"classificados"`
	Pending       int              `json:"pendentes"`
	ByRegion      map[string]int   `json:"emails_por_estado"`
	ByCategory    map[string]int   `json:"emails_por_categoria"`
	ByLocality    map[string]int   `json:"emails_por_municipio"` // 键格式 "UF-municipio"
	LastSevenDays int              `json:"emails_ultimos_7_dias"`
	TopRecipients []RecipientCount `json:"top_destinatarios"`
	TopSenders    []SenderCount    `json:"top_remetentes"`
	GeneratedAt   time.Time        `json:"gerado_em"`
}

// RecipientCount 收件人计数
type RecipientCount struct {
	Recipient string `json:"destinatario"`
	Count     int    `json:"count"`
}

// SenderCount 发件人计数
type SenderCount struct {
	ID      string  `json:"id"`
	Address string  `json:"email"`
	Name    *string `json:"nome"`
	Count   int     `json:"total_emails"`
}

// NewDashboardStats 返回所有集合均已初始化的空统计。
func NewDashboardStats(now time.Time) *DashboardStats {
	return &DashboardStats{
		ByRegion:      make(map[string]int),
		ByCategory:    make(map[string]int),
		ByLocality:    make(map[string]int),
		TopRecipients: make([]RecipientCount, 0),
		TopSenders:    make([]SenderCount, 0),
		GeneratedAt:   now,
	}
}

// RecordSummary 记录计数汇总
type RecordSummary struct {
	Total      int
	Classified int
	Recent     int // 指定时间之后接收的数量
}
