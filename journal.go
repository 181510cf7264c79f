package cardano

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// SubmissionRecord is one journaled submission outcome.
type SubmissionRecord struct {
	TxId        TxId              `json:"txId"`
	Status      SubmitStatus      `json:"status"`
	Reasons     []RejectionReason `json:"reasons,omitempty"`
	Endpoint    string            `json:"endpoint"`
	SubmittedAt time.Time         `json:"submittedAt"`
}

// Journal keeps the latest submission outcome per transaction.
type Journal interface {
	Record(ctx context.Context, record *SubmissionRecord) error
	Get(ctx context.Context, id TxId) (*SubmissionRecord, error)
	Recent(ctx context.Context, limit int) ([]*SubmissionRecord, error)
	Close() error
}

type InMemoryJournal struct {
	records map[TxId]*SubmissionRecord
	mu      sync.RWMutex
}

var _ Journal = &InMemoryJournal{}

func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{
		records: make(map[TxId]*SubmissionRecord),
	}
}

func (j *InMemoryJournal) Record(_ context.Context, record *SubmissionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	copied := *record
	j.records[record.TxId] = &copied
	return nil
}

func (j *InMemoryJournal) Get(_ context.Context, id TxId) (*SubmissionRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	record, ok := j.records[id]
	if !ok {
		return nil, errors.Wrapf(ErrSubmissionNotFound, "no submission of %s", id)
	}
	copied := *record
	return &copied, nil
}

func (j *InMemoryJournal) Recent(_ context.Context, limit int) (records []*SubmissionRecord, err error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, r := range j.records {
		copied := *r
		records = append(records, &copied)
	}
	sort.Slice(records, func(a, b int) bool {
		return records[a].SubmittedAt.After(records[b].SubmittedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return
}

func (j *InMemoryJournal) Close() error {
	return nil
}
