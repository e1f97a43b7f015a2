package logs

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidInput is returned for records missing required fields.
var ErrInvalidInput = errors.New("logs: invalid input")

// Record is one stored log line.
type Record struct {
	ID        string    `json:"id" bson:"_id"`
	Tenant    string    `json:"tenant" bson:"tenant"`
	Source    string    `json:"source,omitempty" bson:"source,omitempty"`
	Type      string    `json:"type,omitempty" bson:"type,omitempty"`
	Message   string    `json:"message,omitempty" bson:"message,omitempty"`
	CreatedOn time.Time `json:"createdOn" bson:"createdOn"`
}

// ListParams selects a page of records. Only the tenant is filtered at the
// store; age and source/type predicates are applied by the caller.
type ListParams struct {
	Tenant string
	// After is the exclusive id cursor.
	After string
	Limit int
}

// Page is one page of records ordered by id.
type Page struct {
	Records []*Record
	// Cursor is the id of the last record in the page.
	Cursor  string
	HasMore bool
}

// Repository stores log records.
type Repository interface {
	Insert(ctx context.Context, records ...*Record) error
	List(ctx context.Context, params ListParams) (*Page, error)
	// DeleteBatch removes the given ids and returns how many existed.
	DeleteBatch(ctx context.Context, ids []string) (int, error)
	Close(ctx context.Context) error
}

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func newPage(records []*Record, limit int) *Page {
	p := &Page{Records: records}
	if len(records) > limit {
		p.Records = records[:limit]
		p.HasMore = true
	}
	if n := len(p.Records); n > 0 {
		p.Cursor = p.Records[n-1].ID
	}
	return p
}
