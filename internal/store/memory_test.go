package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-cli/internal/model"
)

func TestMemory_FirstWriteWins(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, st.Append(ctx, rec("row-a", model.LabelYes, ts)))
	require.NoError(t, st.Append(ctx, rec("row-a", model.LabelNo, ts)))

	recs, err := st.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.LabelYes, recs[0].Label)
}

func TestMemory_PreservesAppendOrder(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, st.AppendBatch(ctx, []model.CheckpointRecord{
		rec("row-c", model.LabelYes, ts),
		rec("row-a", model.LabelNo, ts),
		rec("row-b", model.LabelUnclear, ts),
	}))

	recs, err := st.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "row-c", recs[0].RowID)
	assert.Equal(t, "row-a", recs[1].RowID)
	assert.Equal(t, "row-b", recs[2].RowID)
}

func TestMemory_FailAppends(t *testing.T) {
	st := NewMemory()
	st.FailAppends = errors.New("disk full")

	err := st.Append(context.Background(), rec("row-a", model.LabelYes, time.Now().UTC()))
	require.Error(t, err)

	recs, err := st.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMemory_ErrorsKeepLatestReason(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	require.NoError(t, st.RecordError(ctx, "row-a", "first"))
	require.NoError(t, st.RecordError(ctx, "row-a", "second"))
	require.NoError(t, st.RecordError(ctx, "row-b", "other"))

	errs, err := st.LoadErrors(ctx)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "second", errs[0].Reason)
	assert.Equal(t, "row-b", errs[1].RowID)
}
