package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded against the audit log.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Entry is one immutable audit record: who changed what, with value
// snapshots before and after. Entries are never updated or deleted within
// the retention window.
type Entry struct {
	ID        uuid.UUID              `db:"id" json:"id"`
	UserID    *uuid.UUID             `db:"user_id" json:"user_id,omitempty"`
	TableName string                 `db:"table_name" json:"table_name"`
	RecordID  uuid.UUID              `db:"record_id" json:"record_id"`
	Action    string                 `db:"action" json:"action"`
	OldValues map[string]interface{} `db:"old_values" json:"old_values,omitempty"`
	NewValues map[string]interface{} `db:"new_values" json:"new_values,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}
