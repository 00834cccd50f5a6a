package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/opportunity-cli/internal/config"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/resilience"
	"github.com/sells-group/opportunity-cli/internal/store"
)

// Result holds the orchestrator's output partitions. Rows are not ordered;
// the audit writer reconstructs discovery order.
type Result struct {
	Classified []model.ClassifiedRow
	Errored    []model.ErroredRow

	// Resumed counts rows satisfied from the checkpoint store without a
	// collaborator call.
	Resumed int
}

// Orchestrator runs the classification collaborator over rows not yet in
// the checkpoint store. Collaborator calls run concurrently under a bounded
// worker pool and shared rate limiter; checkpoint writes are serialized
// through a single writer goroutine that flushes in batches.
type Orchestrator struct {
	classifier Classifier
	checkpoint store.CheckpointStore
	cfg        config.ClassifyConfig
	limiter    *rate.Limiter
}

// New creates an Orchestrator.
func New(classifier Classifier, checkpoint store.CheckpointStore, cfg config.ClassifyConfig) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Orchestrator{
		classifier: classifier,
		checkpoint: checkpoint,
		cfg:        cfg,
		limiter:    limiter,
	}
}

// outcome is one row's terminal result for this run, funneled to the
// checkpoint writer.
type outcome struct {
	row       model.OpportunityRow
	rec       *model.CheckpointRecord // set on successful classification
	errReason string                  // set on exhausted/permanent failure
}

// Run classifies every row whose NormalizedKey is absent from the
// checkpoint store. Rows already checkpointed are emitted with their stored
// labels and never re-submitted. A checkpoint write failure aborts the run;
// per-row classification failures do not.
func (o *Orchestrator) Run(ctx context.Context, rows []model.OpportunityRow) (*Result, error) {
	existing, err := o.checkpoint.LoadAll(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "classify: load checkpoints")
	}
	done := make(map[string]model.CheckpointRecord, len(existing))
	for _, rec := range existing {
		done[rec.RowID] = rec
	}

	result := &Result{}
	var todo []model.OpportunityRow
	for _, row := range rows {
		if rec, ok := done[row.NormalizedKey]; ok {
			result.Classified = append(result.Classified, model.ClassifiedRow{
				OpportunityRow: row,
				Label:          rec.Label,
				Reason:         rec.Reason,
				Confidence:     rec.Confidence,
			})
			result.Resumed++
			continue
		}
		todo = append(todo, row)
	}

	zap.L().Info("classify: starting",
		zap.Int("rows", len(rows)),
		zap.Int("resumed", result.Resumed),
		zap.Int("to_classify", len(todo)),
		zap.Int("concurrency", o.cfg.Concurrency),
		zap.Int("batch_size", o.cfg.BatchSize),
	)

	if len(todo) == 0 {
		return result, nil
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	outcomes := make(chan outcome, o.cfg.Concurrency)

	// Single-writer discipline: this goroutine is the only place checkpoint
	// records are flushed, so concurrent classification can never interleave
	// or corrupt checkpoint state.
	writerDone := make(chan struct{})
	var writerErr error
	go func() {
		defer close(writerDone)
		var pending []model.CheckpointRecord

		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			// Flushes use the parent context so completed work is still
			// persisted during graceful cancellation.
			if err := o.checkpoint.AppendBatch(context.WithoutCancel(ctx), pending); err != nil {
				writerErr = eris.Wrap(err, "classify: flush checkpoint batch")
				cancelWorkers()
				return false
			}
			zap.L().Debug("classify: flushed checkpoint batch", zap.Int("records", len(pending)))
			pending = pending[:0]
			return true
		}

		for oc := range outcomes {
			if writerErr != nil {
				continue // drain
			}
			if oc.rec != nil {
				pending = append(pending, *oc.rec)
				result.Classified = append(result.Classified, model.ClassifiedRow{
					OpportunityRow: oc.row,
					Label:          oc.rec.Label,
					Reason:         oc.rec.Reason,
					Confidence:     oc.rec.Confidence,
				})
				if len(pending) >= o.cfg.BatchSize {
					if !flush() {
						continue
					}
				}
				continue
			}

			if err := o.checkpoint.RecordError(context.WithoutCancel(ctx), oc.row.NormalizedKey, oc.errReason); err != nil {
				writerErr = eris.Wrap(err, "classify: record errored attempt")
				cancelWorkers()
				continue
			}
			result.Errored = append(result.Errored, model.ErroredRow{
				OpportunityRow: oc.row,
				Reason:         oc.errReason,
			})
		}

		if writerErr == nil {
			flush()
		}
	}()

	g := &errgroup.Group{}
	g.SetLimit(o.cfg.Concurrency)

	for _, row := range todo {
		g.Go(func() error {
			// Interrupted: stop issuing new collaborator calls. The row is
			// left unattempted and picked up by the next run.
			if workerCtx.Err() != nil {
				return nil
			}
			oc, ok := o.classifyRow(workerCtx, row)
			if !ok {
				return nil
			}
			select {
			case outcomes <- oc:
			case <-writerDone:
			}
			return nil
		})
	}

	_ = g.Wait()
	close(outcomes)
	<-writerDone

	if writerErr != nil {
		return nil, writerErr
	}
	if err := ctx.Err(); err != nil {
		zap.L().Warn("classify: interrupted, completed work flushed",
			zap.Int("classified", len(result.Classified)),
			zap.Int("errored", len(result.Errored)),
		)
		return result, eris.Wrap(err, "classify: interrupted")
	}

	zap.L().Info("classify: complete",
		zap.Int("classified", len(result.Classified)),
		zap.Int("errored", len(result.Errored)),
	)
	return result, nil
}

// classifyRow runs the bounded retry loop for one row and shapes the
// terminal outcome. ok is false when the run was cancelled before the row
// reached a terminal state.
func (o *Orchestrator) classifyRow(ctx context.Context, row model.OpportunityRow) (outcome, bool) {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    o.cfg.MaxAttempts,
		InitialBackoff: time.Duration(o.cfg.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(o.cfg.MaxBackoffMS) * time.Millisecond,
		OnRetry:        resilience.RetryLogger("classifier", row.NormalizedKey),
	}

	verdict, attempts, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (model.Verdict, error) {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return model.Verdict{}, err
			}
		}
		callCtx := ctx
		if o.cfg.RequestTimeoutSecs > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.RequestTimeoutSecs)*time.Second)
			defer cancel()
		}
		return o.classifier.Classify(callCtx, row)
	})

	if err != nil {
		if ctx.Err() != nil {
			return outcome{}, false
		}
		reason := fmt.Sprintf("classification failed after %d attempts: %s", attempts, rootMessage(err))
		zap.L().Warn("classify: row errored",
			zap.String("key", row.NormalizedKey),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return outcome{row: row, errReason: reason}, true
	}

	verdict = sanitizeVerdict(verdict, row)

	return outcome{
		row: row,
		rec: &model.CheckpointRecord{
			RowID:      row.NormalizedKey,
			Label:      verdict.Label,
			Reason:     verdict.Reason,
			Confidence: model.ConfidenceLow,
			Timestamp:  time.Now().UTC(),
		},
	}, true
}

// sanitizeVerdict enforces the one hard constraint on the collaborator: a
// missing or invalid label resolves to unclear with a reason noting the
// anomaly, never to yes. A valid label with an empty reason keeps the label
// and backfills an insufficient-information reason.
func sanitizeVerdict(v model.Verdict, row model.OpportunityRow) model.Verdict {
	label, ok := model.ParseLabel(string(v.Label))
	if !ok {
		zap.L().Warn("classify: collaborator returned invalid label, forcing unclear",
			zap.String("key", row.NormalizedKey),
			zap.String("label", string(v.Label)),
		)
		return model.Verdict{
			Label:  model.LabelUnclear,
			Reason: "collaborator response had a missing or invalid label; marked unclear",
		}
	}
	if v.Reason == "" {
		return model.Verdict{
			Label:  label,
			Reason: "collaborator gave no reason; insufficient information in the row text",
		}
	}
	return model.Verdict{Label: label, Reason: v.Reason}
}

// rootMessage extracts the innermost error message for user-facing reasons.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
