package domain

import "time"

// SyncWatermark 记录每个邮箱已处理到的最大 UID。
//
// UIDValidity 变化时水位线失效，需要从头开始。
type SyncWatermark struct {
	Mailbox     string    `json:"mailbox" gorm:"primaryKey;type:varchar(255)"`
	UIDValidity uint32    `json:"uidValidity"`
	LastUID     uint32    `json:"lastUid"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Covers 报告该水位线在给定 UIDVALIDITY 下是否已处理过 uid。
func (w *SyncWatermark) Covers(uidValidity, uid uint32) bool {
	if w == nil || w.UIDValidity != uidValidity {
		return false
	}
	return uid <= w.LastUID
}

// InboundMessage 从邮件源取回的一封原始邮件。
type InboundMessage struct {
	UID       uint32
	MessageID string
	From      string // 原始 From 头
	To        string // 原始 To 头
	Subject   string
	Body      string
	FetchedAt time.Time // 本地时间，不信任 Date 头
}

// FetchBatch 一次拉取的结果。
type FetchBatch struct {
	Mailbox     string
	UIDValidity uint32
	Messages    []InboundMessage
	Skipped     int // 单封拉取或解析失败而被跳过的数量
}

// SyncTrigger 同步触发来源
type SyncTrigger string

const (
	SyncTriggerScheduled SyncTrigger = "scheduled"
	SyncTriggerManual    SyncTrigger = "manual"
)

// SyncResult 一次同步运行的结果
type SyncResult struct {
	RunID               string      `json:"runId"`
	Trigger             SyncTrigger `json:"trigger"`
	StartedAt           time.Time   `json:"startedAt"`
	FinishedAt          time.Time   `json:"finishedAt"`
	Fetched             int         `json:"fetched"`
	Ingested            int         `json:"count"`
	Duplicates          int         `json:"duplicates"`
	Failed              int         `json:"failed"`
	AttributionFailures int         `json:"attributionFailures"` // 已入库但发件人登记失败
	Records             []*Record   `json:"data"`
	Error               string      `json:"error,omitempty"`
}
