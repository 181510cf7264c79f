package cardano

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(b byte, status SubmitStatus, at time.Time) *SubmissionRecord {
	record := &SubmissionRecord{
		Status:      status,
		Endpoint:    "ogmios ws://localhost:1337",
		SubmittedAt: at.UTC(),
	}
	record.TxId[0] = b
	if status == SubmitRejected {
		record.Reasons = []RejectionReason{{
			Code:    3117,
			Kind:    "unknownOutputReferences",
			Message: "Unknown transaction input (missing from UTxO set).",
			Data:    []byte(`{"unknownOutputReferences":[]}`),
		}}
	}
	return record
}

func testJournal(t *testing.T, journal Journal) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	_, err := journal.Get(ctx, TxId{9})
	assert.True(t, errors.Is(err, ErrSubmissionNotFound), "got %v", err)

	require.NoError(t, journal.Record(ctx, testRecord(1, SubmitAccepted, now)))
	require.NoError(t, journal.Record(ctx, testRecord(2, SubmitRejected, now.Add(time.Second))))
	require.NoError(t, journal.Record(ctx, testRecord(3, SubmitAccepted, now.Add(2*time.Second))))

	record, err := journal.Get(ctx, TxId{2})
	require.NoError(t, err)
	assert.Equal(t, SubmitRejected, record.Status)
	require.Len(t, record.Reasons, 1)
	assert.Equal(t, "unknownOutputReferences", record.Reasons[0].Kind)
	assert.JSONEq(t, `{"unknownOutputReferences":[]}`, string(record.Reasons[0].Data))
	assert.True(t, record.SubmittedAt.Equal(now.Add(time.Second)))

	// a resubmission replaces the earlier outcome
	require.NoError(t, journal.Record(ctx, testRecord(2, SubmitAccepted, now.Add(3*time.Second))))
	record, err = journal.Get(ctx, TxId{2})
	require.NoError(t, err)
	assert.Equal(t, SubmitAccepted, record.Status)
	assert.Empty(t, record.Reasons)

	recent, err := journal.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, TxId{2}, recent[0].TxId)
	assert.Equal(t, TxId{3}, recent[1].TxId)

	all, err := journal.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.NoError(t, journal.Close())
}

func TestInMemoryJournal(t *testing.T) {
	testJournal(t, NewInMemoryJournal())
}

func TestSqliteJournal(t *testing.T) {
	journal, err := NewSqliteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	testJournal(t, journal)
}

func TestSqliteJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	journal, err := NewSqliteJournal(path)
	require.NoError(t, err)
	require.NoError(t, journal.Record(ctx, testRecord(4, SubmitAccepted, time.Now())))
	require.NoError(t, journal.Close())

	journal, err = NewSqliteJournal(path)
	require.NoError(t, err)
	defer journal.Close()

	record, err := journal.Get(ctx, TxId{4})
	require.NoError(t, err)
	assert.Equal(t, SubmitAccepted, record.Status)
}
