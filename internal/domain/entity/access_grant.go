package entity

import (
	"strings"
	"time"
)

// Permission 授权级别
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// Valid 是否为已知授权级别
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return true
	}
	return false
}

// AccessGrant 主体对文档的显式授权
type AccessGrant struct {
	ID          string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	PrincipalID string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_grant_principal_document" json:"principal_id"`
	DocumentID  string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_grant_principal_document;index" json:"document_id"`
	Permission  Permission `gorm:"type:varchar(16);not null" json:"permission"`
	Active      bool       `gorm:"not null;default:true" json:"active"`
	GrantedBy   string     `gorm:"type:varchar(64)" json:"granted_by,omitempty"`
	GrantedAt   time.Time  `json:"granted_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// TableName 表名
func (AccessGrant) TableName() string { return "access_grants" }

// Allows 授权是否允许读取
func (g *AccessGrant) Allows() bool {
	return g != nil && g.Active && g.Permission.Valid()
}

// Revoke 撤销授权
func (g *AccessGrant) Revoke(now time.Time) {
	g.Active = false
	g.RevokedAt = &now
}

// ParsePermission 解析授权级别，大小写不敏感
func ParsePermission(s string) (Permission, bool) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}
