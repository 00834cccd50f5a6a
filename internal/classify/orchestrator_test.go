package classify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-cli/internal/config"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/resilience"
	"github.com/sells-group/opportunity-cli/internal/store"
)

// fakeClassifier returns scripted verdicts or errors per row key and counts
// invocations.
type fakeClassifier struct {
	mu       sync.Mutex
	calls    map[string]int
	verdicts map[string]model.Verdict
	errs     map[string]error
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{
		calls:    make(map[string]int),
		verdicts: make(map[string]model.Verdict),
		errs:     make(map[string]error),
	}
}

func (f *fakeClassifier) Classify(ctx context.Context, row model.OpportunityRow) (model.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[row.NormalizedKey]++
	if err, ok := f.errs[row.NormalizedKey]; ok {
		return model.Verdict{}, err
	}
	if v, ok := f.verdicts[row.NormalizedKey]; ok {
		return v, nil
	}
	return model.Verdict{Label: model.LabelUnclear, Reason: "default"}, nil
}

func (f *fakeClassifier) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func testClassifyConfig() config.ClassifyConfig {
	return config.ClassifyConfig{
		BatchSize:        2,
		Concurrency:      2,
		MaxAttempts:      3,
		InitialBackoffMS: 1,
		MaxBackoffMS:     5,
	}
}

func makeRows(keys ...string) []model.OpportunityRow {
	rows := make([]model.OpportunityRow, len(keys))
	for i, k := range keys {
		rows[i] = model.OpportunityRow{Seq: i, NormalizedKey: k, Title: "Row " + k}
	}
	return rows
}

func TestRun_ClassifiesAndCheckpointsAll(t *testing.T) {
	fc := newFakeClassifier()
	fc.verdicts["a"] = model.Verdict{Label: model.LabelYes, Reason: "funded"}
	fc.verdicts["b"] = model.Verdict{Label: model.LabelNo, Reason: "recognition only"}
	fc.verdicts["c"] = model.Verdict{Label: model.LabelUnclear, Reason: "no amount"}
	st := store.NewMemory()

	result, err := New(fc, st, testClassifyConfig()).Run(context.Background(), makeRows("a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, result.Classified, 3)
	assert.Empty(t, result.Errored)
	assert.Zero(t, result.Resumed)

	recs, err := st.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, model.ConfidenceLow, rec.Confidence)
		assert.NotEmpty(t, rec.Reason)
		assert.False(t, rec.Timestamp.IsZero())
	}
}

func TestRun_ResumeSkipsCheckpointedRows(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.Append(context.Background(), model.CheckpointRecord{
		RowID: "a", Label: model.LabelYes, Reason: "already done", Confidence: "low", Timestamp: time.Now().UTC(),
	}))

	fc := newFakeClassifier()
	fc.verdicts["b"] = model.Verdict{Label: model.LabelNo, Reason: "recognition"}

	result, err := New(fc, st, testClassifyConfig()).Run(context.Background(), makeRows("a", "b"))
	require.NoError(t, err)
	require.Len(t, result.Classified, 2)
	assert.Equal(t, 1, result.Resumed)

	// The checkpointed row gets zero collaborator invocations.
	assert.Equal(t, 0, fc.callCount("a"))
	assert.Equal(t, 1, fc.callCount("b"))

	// The resumed row keeps its stored verdict.
	for _, row := range result.Classified {
		if row.NormalizedKey == "a" {
			assert.Equal(t, model.LabelYes, row.Label)
			assert.Equal(t, "already done", row.Reason)
		}
	}
}

func TestRun_FullyCheckpointedMakesNoCalls(t *testing.T) {
	st := store.NewMemory()
	for _, k := range []string{"a", "b"} {
		require.NoError(t, st.Append(context.Background(), model.CheckpointRecord{
			RowID: k, Label: model.LabelUnclear, Reason: "done", Confidence: "low", Timestamp: time.Now().UTC(),
		}))
	}

	fc := newFakeClassifier()
	result, err := New(fc, st, testClassifyConfig()).Run(context.Background(), makeRows("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Resumed)
	assert.Empty(t, fc.calls)
}

func TestRun_TransientErrorRetriedThenSucceeds(t *testing.T) {
	st := store.NewMemory()

	var mu sync.Mutex
	failures := 2
	flaky := &funcClassifier{fn: func(ctx context.Context, row model.OpportunityRow) (model.Verdict, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return model.Verdict{}, resilience.NewTransientError(errors.New("overloaded"), 529)
		}
		return model.Verdict{Label: model.LabelYes, Reason: "funded"}, nil
	}}

	result, err := New(flaky, st, testClassifyConfig()).Run(context.Background(), makeRows("a"))
	require.NoError(t, err)
	require.Len(t, result.Classified, 1)
	assert.Equal(t, model.LabelYes, result.Classified[0].Label)
	assert.Empty(t, result.Errored)
}

type funcClassifier struct {
	fn func(ctx context.Context, row model.OpportunityRow) (model.Verdict, error)
}

func (f *funcClassifier) Classify(ctx context.Context, row model.OpportunityRow) (model.Verdict, error) {
	return f.fn(ctx, row)
}

func TestRun_ExhaustedRetriesBecomeErroredRow(t *testing.T) {
	fc := newFakeClassifier()
	fc.errs["a"] = resilience.NewTransientError(errors.New("still overloaded"), 503)
	fc.verdicts["b"] = model.Verdict{Label: model.LabelNo, Reason: "recognition"}
	st := store.NewMemory()

	result, err := New(fc, st, testClassifyConfig()).Run(context.Background(), makeRows("a", "b"))
	require.NoError(t, err, "per-row failure must not abort the run")

	require.Len(t, result.Errored, 1)
	assert.Equal(t, "a", result.Errored[0].NormalizedKey)
	assert.Contains(t, result.Errored[0].Reason, "after 3 attempts")
	assert.Equal(t, 3, fc.callCount("a"))

	// Errored row gets no checkpoint; it is retried next run.
	ok, err := st.Exists(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, ok)

	errs, err := st.LoadErrors(context.Background())
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "a", errs[0].RowID)
}

func TestRun_PermanentErrorNotRetried(t *testing.T) {
	fc := newFakeClassifier()
	fc.errs["a"] = resilience.NewPermanentError(errors.New("invalid request"))
	st := store.NewMemory()

	result, err := New(fc, st, testClassifyConfig()).Run(context.Background(), makeRows("a"))
	require.NoError(t, err)
	require.Len(t, result.Errored, 1)
	assert.Equal(t, 1, fc.callCount("a"))
	assert.Contains(t, result.Errored[0].Reason, "after 1 attempts")
}

func TestRun_InvalidLabelEscalatesToUnclear(t *testing.T) {
	fc := newFakeClassifier()
	fc.verdicts["a"] = model.Verdict{Label: "", Reason: ""}
	st := store.NewMemory()

	result, err := New(fc, st, testClassifyConfig()).Run(context.Background(), makeRows("a"))
	require.NoError(t, err)
	require.Len(t, result.Classified, 1)
	assert.Equal(t, model.LabelUnclear, result.Classified[0].Label)
	assert.NotEmpty(t, result.Classified[0].Reason)

	recs, err := st.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.LabelUnclear, recs[0].Label)
}

func TestRun_EmptyReasonBackfilled(t *testing.T) {
	fc := newFakeClassifier()
	fc.verdicts["a"] = model.Verdict{Label: model.LabelNo, Reason: ""}
	st := store.NewMemory()

	result, err := New(fc, st, testClassifyConfig()).Run(context.Background(), makeRows("a"))
	require.NoError(t, err)
	require.Len(t, result.Classified, 1)
	assert.Equal(t, model.LabelNo, result.Classified[0].Label)
	assert.NotEmpty(t, result.Classified[0].Reason)
}

func TestRun_FlushesPartialFinalBatch(t *testing.T) {
	// 5 rows with batch size 2: two full flushes plus a final partial one.
	fc := newFakeClassifier()
	st := store.NewMemory()

	result, err := New(fc, st, testClassifyConfig()).Run(context.Background(), makeRows("a", "b", "c", "d", "e"))
	require.NoError(t, err)
	require.Len(t, result.Classified, 5)

	recs, err := st.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestRun_CheckpointWriteFailureAbortsRun(t *testing.T) {
	fc := newFakeClassifier()
	st := store.NewMemory()
	st.FailAppends = errors.New("disk full")

	cfg := testClassifyConfig()
	cfg.BatchSize = 1
	_, err := New(fc, st, cfg).Run(context.Background(), makeRows("a", "b", "c"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush checkpoint batch")
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	fc := newFakeClassifier()
	fc.verdicts["a"] = model.Verdict{Label: model.LabelYes, Reason: "funded"}
	st := store.NewMemory()
	orch := New(fc, st, testClassifyConfig())
	rows := makeRows("a")

	first, err := orch.Run(context.Background(), rows)
	require.NoError(t, err)
	second, err := orch.Run(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 1, fc.callCount("a"))
	assert.Equal(t, 1, second.Resumed)
	assert.Equal(t, first.Classified[0].Label, second.Classified[0].Label)

	recs, err := st.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRun_InterruptFlushesCompletedRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()

	// Rows a and b classify normally; the in-flight call for c observes the
	// interrupt and returns the context error; d must never be attempted.
	attempted := make(map[string]bool)
	var mu sync.Mutex
	clf := &funcClassifier{fn: func(callCtx context.Context, row model.OpportunityRow) (model.Verdict, error) {
		mu.Lock()
		attempted[row.NormalizedKey] = true
		mu.Unlock()
		if row.NormalizedKey == "c" {
			cancel()
			<-callCtx.Done()
			return model.Verdict{}, callCtx.Err()
		}
		return model.Verdict{Label: model.LabelYes, Reason: "funded"}, nil
	}}

	cfg := testClassifyConfig()
	cfg.Concurrency = 1
	cfg.BatchSize = 1

	result, err := New(clf, st, cfg).Run(ctx, makeRows("a", "b", "c", "d"))
	require.Error(t, err)
	require.NotNil(t, result)

	// Completed rows were flushed durably before exit.
	recs, lerr := st.LoadAll(context.Background())
	require.NoError(t, lerr)
	require.Len(t, recs, 2)
	ids := []string{recs[0].RowID, recs[1].RowID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	require.Len(t, result.Classified, 2)

	// The interrupted row is neither checkpointed nor recorded as errored;
	// it is re-attempted on the next run.
	assert.Empty(t, result.Errored)
	errs, lerr := st.LoadErrors(context.Background())
	require.NoError(t, lerr)
	assert.Empty(t, errs)

	// No new calls were issued after the interrupt.
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, attempted["d"])
}

func TestRun_CancelledContextReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fc := newFakeClassifier()
	st := store.NewMemory()

	_, err := New(fc, st, testClassifyConfig()).Run(ctx, makeRows("a", "b"))
	require.Error(t, err)
}

func TestSanitizeVerdict_NeverEscalatesToYes(t *testing.T) {
	row := model.OpportunityRow{NormalizedKey: "k"}
	for _, v := range []model.Verdict{
		{Label: "", Reason: ""},
		{Label: "maybe", Reason: "x"},
		{Label: "YES!", Reason: "x"},
	} {
		got := sanitizeVerdict(v, row)
		assert.Equal(t, model.LabelUnclear, got.Label)
		assert.NotEmpty(t, got.Reason)
	}
}
