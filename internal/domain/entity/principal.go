package entity

import "strings"

// Role 主体角色
type Role string

const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
	RoleManager   Role = "manager"
	RoleAdmin     Role = "admin"
)

// Principal 已认证的调用方
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// HasSystemScope 管理员与院方管理者可访问全部文档
func (p Principal) HasSystemScope() bool {
	return p.Role == RoleAdmin || p.Role == RoleManager
}

// ParseRole 解析角色，兼容 doctor / hospital_manager 等旧称
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient":
		return RolePatient, true
	case "clinician", "doctor":
		return RoleClinician, true
	case "manager", "hospital_manager":
		return RoleManager, true
	case "admin":
		return RoleAdmin, true
	}
	return "", false
}

// CanManage 文档所有者或系统角色可重新提交与分享文档
func (p Principal) CanManage(doc *Document) bool {
	if doc == nil || p.ID == "" {
		return false
	}
	return doc.OwnerID == p.ID || p.HasSystemScope()
}
