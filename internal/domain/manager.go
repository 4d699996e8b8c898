package domain

import "time"

// Manager 后台管理员（gerente），可执行分类、删除和手动同步。
type Manager struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string     `json:"email" gorm:"type:varchar(320);uniqueIndex;not null"`
	Name         string     `json:"nome" gorm:"type:varchar(255)"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255);not null"`
	Active       bool       `json:"ativo" gorm:"not null;default:true"`
	LastLoginAt  *time.Time `json:"ultimo_login,omitempty"`
	CreatedAt    time.Time  `json:"criado_em"`
	UpdatedAt    time.Time  `json:"atualizado_em"`
}
