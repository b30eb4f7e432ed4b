package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"omrgrader/internal/model"
	"omrgrader/internal/oracle"
)

// Grader is the oracle call the processor makes once per item.
type Grader interface {
	Grade(ctx context.Context, image []byte, contentType string, cfg model.AnswerKeyConfig) (*model.OracleResult, error)
}

// Recorder persists evaluation records. Calls are best-effort from the
// processor's perspective: a failure degrades to a warning.
type Recorder interface {
	InsertEvaluation(ctx context.Context, rec model.EvaluationRecord) error
}

// Notifier receives user-facing progress and warning messages. The UI layer
// adapts these to its own presentation; the processor stays side-effect-free.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
}

type nopNotifier struct{}

func (nopNotifier) Info(string) {}
func (nopNotifier) Warn(string) {}

// CancelFlag requests cooperative cancellation of a run. It is checked only
// between items; an in-flight oracle call is never aborted.
type CancelFlag struct {
	cancelled atomic.Bool
}

// Cancel requests that the run stop before the next item.
func (f *CancelFlag) Cancel() {
	f.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (f *CancelFlag) Cancelled() bool {
	return f.cancelled.Load()
}

// Processor submits pending items to the oracle strictly in order, one at a
// time. It is the sole mutator of the store while a run is active.
type Processor struct {
	grader   Grader
	recorder Recorder
	notifier Notifier
	logger   *slog.Logger
	current  atomic.Int64
}

// NewProcessor creates a processor. recorder and notifier may be nil.
func NewProcessor(g Grader, r Recorder, n Notifier, logger *slog.Logger) *Processor {
	if n == nil {
		n = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{grader: g, recorder: r, notifier: n, logger: logger}
}

// CurrentIndex is the observable position of the run, advanced past skipped
// items as well as processed ones.
func (p *Processor) CurrentIndex() int {
	return int(p.current.Load())
}

// Run processes items from startIndex to the end of the collection as
// captured at invocation time. Items already completed or errored are
// skipped, which makes re-invocation idempotent and lets callers resume a
// partial run or pick up appended items with a fresh startIndex.
//
// A single oracle failure marks that item and continues the loop; it never
// aborts the batch. Cancellation is checked only between items. Items
// appended while the run is in flight are not picked up implicitly; resume
// them with another Run call.
func (p *Processor) Run(ctx context.Context, store *Store, cfg model.AnswerKeyConfig, startIndex int, cancel *CancelFlag) (model.BatchRunSummary, error) {
	var summary model.BatchRunSummary

	if err := cfg.Validate(); err != nil {
		return summary, err
	}
	if startIndex < 0 {
		startIndex = 0
	}

	// Bounds are captured here; see the resume note above.
	end := store.Len()
	p.current.Store(int64(startIndex))

	i := startIndex
	for ; i < end; i++ {
		p.current.Store(int64(i))

		if cancel != nil && cancel.Cancelled() {
			p.logger.Info("batch run cancelled", "at_index", i)
			p.notifier.Info("Evaluation stopped. Remaining sheets stay pending.")
			break
		}
		if err := ctx.Err(); err != nil {
			p.logger.Info("batch run context done", "at_index", i, "error", err)
			break
		}

		item, ok := store.Item(i)
		if !ok {
			break
		}
		if item.Status.Terminal() {
			continue
		}

		summary.TotalAttempted++
		if err := store.SetStatus(i, model.StatusProcessing, nil); err != nil {
			p.logger.Warn("skip item", "index", i, "error", err)
			continue
		}

		result, err := p.grader.Grade(ctx, item.ImageData, item.ContentType, cfg)
		if err != nil {
			summary.ErrorCount++
			msg := friendlyMessage(err)
			p.logger.Warn("sheet evaluation failed",
				"index", i, "file", item.FileName, "error", err)
			_ = store.SetStatus(i, model.StatusError, func(it *model.BatchItem) {
				it.Error = msg
			})
			p.notifier.Warn(item.FileName + ": " + msg)
			continue
		}

		summary.SuccessCount++
		_ = store.SetStatus(i, model.StatusCompleted, func(it *model.BatchItem) {
			it.RollNumber = result.RollNumber
			it.SubjectCode = result.SubjectCode
			it.Score = result.Score
			it.TotalQuestions = result.TotalQuestions
			it.Accuracy = result.Accuracy
			it.Error = ""
		})
		p.logger.Info("sheet evaluated",
			"index", i, "file", item.FileName,
			"score", result.Score, "total", result.TotalQuestions)

		if p.recorder != nil {
			rec := buildRecord(item, result)
			if err := p.recorder.InsertEvaluation(ctx, rec); err != nil {
				// Persistence is best-effort; the item still counts as completed.
				p.logger.Warn("failed to persist evaluation",
					"file", item.FileName, "error", err)
				p.notifier.Warn(item.FileName + ": result evaluated but could not be saved.")
			}
		}
	}

	p.current.Store(int64(i))
	return summary, nil
}

func buildRecord(item model.BatchItem, res *model.OracleResult) model.EvaluationRecord {
	return model.EvaluationRecord{
		ID:               uuid.NewString(),
		FileName:         item.FileName,
		RollNumber:       res.RollNumber,
		SubjectCode:      res.SubjectCode,
		Score:            res.Score,
		TotalQuestions:   res.TotalQuestions,
		Accuracy:         res.Accuracy,
		ExtractedAnswers: res.ExtractedAnswers,
		CorrectAnswers:   res.CorrectAnswers,
		DetailedResults:  res.DetailedResults,
		Confidence:       res.Confidence,
		ImageQuality:     res.ImageQuality,
		CreatedAt:        time.Now().UTC(),
	}
}

// friendlyMessage converts an oracle failure into actionable text without
// exposing internal diagnostics.
func friendlyMessage(err error) string {
	var oErr *oracle.Error
	if errors.As(err, &oErr) {
		return oErr.UserMessage()
	}
	return "Evaluation failed. Try again later."
}
