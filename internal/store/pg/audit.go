package pg

import (
	"context"
	"encoding/json"
	"strings"

	"xplora.org/internal/audit"
	"xplora.org/internal/ids"
)

// AuditSink appends audit events to pci_audit_log. Errors propagate to
// the recorder, which logs and drops them; a failed insert never reaches
// the request path.
type AuditSink struct {
	store *Store
}

var _ audit.Sink = (*AuditSink)(nil)

func NewAuditSink(store *Store) *AuditSink { return &AuditSink{store: store} }

func (a *AuditSink) Append(ctx context.Context, e audit.Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		details = []byte("{}")
	}
	id := e.ID
	if id == "" {
		id = ids.New()
	}
	_, err = a.store.db.ExecContext(ctx, `
		insert into pci_audit_log
			(id, actor_id, actor_username, event_type, event_category, success,
			 table_name, record_id, accessed_fields, details, created_at)
		values ($1, nullif($2,''), nullif($3,''), $4, $5, $6,
		        nullif($7,''), nullif($8,''), nullif($9,''), $10, $11)
	`, id, e.ActorID, e.ActorUsername, e.Type, e.Category, e.Success,
		e.TableName, e.RecordID, strings.Join(e.Fields, ","), details, e.At)
	return err
}
