package entity

import "time"

// AuditAction 审计动作
type AuditAction string

const (
	AuditActionIngest AuditAction = "ingest"
	AuditActionQuery  AuditAction = "query"
	AuditActionAnswer AuditAction = "answer"
)

// AuditOutcome 审计结果
type AuditOutcome string

const (
	AuditOutcomeAllowed AuditOutcome = "allowed"
	AuditOutcomeDenied  AuditOutcome = "denied"
	AuditOutcomeError   AuditOutcome = "error"
)

// AuditEvent 管线发出的审计事件，只写不读
type AuditEvent struct {
	PrincipalID string         `json:"principal_id"`
	Action      AuditAction    `json:"action"`
	ResourceID  string         `json:"resource_id"`
	Outcome     AuditOutcome   `json:"outcome"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewAuditEvent 创建审计事件
func NewAuditEvent(principalID string, action AuditAction, resourceID string, outcome AuditOutcome) *AuditEvent {
	return &AuditEvent{
		PrincipalID: principalID,
		Action:      action,
		ResourceID:  resourceID,
		Outcome:     outcome,
		Timestamp:   time.Now().UTC(),
		Metadata:    map[string]any{},
	}
}
