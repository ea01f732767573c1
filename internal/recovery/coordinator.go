// Package recovery sequences metadata fill, validation, and selective
// retries until an asset is complete or the round budget is exhausted.
package recovery

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"hlsrescue/internal/asset"
	"hlsrescue/internal/fetch"
	"hlsrescue/internal/manifest"
	"hlsrescue/internal/validate"
)

// Reason is the terminal outcome of a recovery invocation.
type Reason string

const (
	// ReasonCompleted means every expected segment is verified on disk.
	ReasonCompleted Reason = "completed"
	// ReasonMetadataUnavailable means the playlist or key could not be
	// acquired or parsed; metadata acquisition is never retried within an
	// invocation.
	ReasonMetadataUnavailable Reason = "metadata_unavailable"
	// ReasonRoundsExhausted means segments kept failing after the full
	// retry budget.
	ReasonRoundsExhausted Reason = "rounds_exhausted"
	// ReasonCanceled means the caller's context was canceled between
	// rounds.
	ReasonCanceled Reason = "canceled"
)

// Result is the immutable outcome of one recovery invocation. It is the
// only thing the task source consumes.
type Result struct {
	// Complete reports whether the asset converged to verified-complete.
	Complete bool

	// RoundsUsed is the number of retry rounds that ran.
	RoundsUsed int

	// LastReport is the final validation report, kept for diagnostics.
	LastReport validate.Report

	// Reason is the terminal reason.
	Reason Reason

	// MetadataFetched reports whether this invocation had to run a
	// metadata-only pass.
	MetadataFetched bool

	// RetryHistory records the failed-segment count fed into each retry
	// round.
	RetryHistory []int
}

// Fetcher is the pipeline surface the coordinator drives. Metadata-only and
// segment-retry passes are mutually exclusive request modes; the coordinator
// never mixes them in one pass.
type Fetcher interface {
	FetchMetadata(ctx context.Context, rawURL string, dir asset.Dir) (*manifest.Manifest, error)
	Fetch(ctx context.Context, refs []manifest.SegmentRef, dir asset.Dir) []fetch.Outcome
}

// Coordinator state machine states.
type state int

const (
	stateInit state = iota
	stateFillMetadata
	stateValidate
	stateRetry
	stateDoneComplete
	stateDoneIncomplete
)

// Coordinator runs the bounded-round recovery state machine, one invocation
// per asset. Invocations for different assets are independent; concurrent
// invocations on the same identifier must be serialized by the caller.
type Coordinator struct {
	fetcher   Fetcher
	validator *validate.Validator
	root      string
	maxRounds int
	logger    hclog.Logger
}

// New creates a coordinator storing assets under root with the given retry
// round budget.
func New(fetcher Fetcher, validator *validate.Validator, root string, maxRounds int, logger hclog.Logger) *Coordinator {
	if maxRounds < 0 {
		maxRounds = 0
	}
	return &Coordinator{
		fetcher:   fetcher,
		validator: validator,
		root:      root,
		maxRounds: maxRounds,
		logger:    logger,
	}
}

// Recover drives one asset to a terminal state:
//
//	INIT -> FILL_METADATA -> VALIDATE -> {DONE_COMPLETE | RETRY -> VALIDATE | DONE_INCOMPLETE}
//
// The round budget applies only to segment retries, not to metadata
// acquisition. Cancellation is honored between rounds so no pass is torn.
func (c *Coordinator) Recover(ctx context.Context, identifier, rawURL string) Result {
	logger := c.logger.With("asset", identifier)
	dir := asset.New(c.root, identifier)

	var result Result
	var report validate.Report
	st := stateInit

	for {
		switch st {
		case stateInit:
			if err := dir.Create(); err != nil {
				logger.Error("create asset dir", "error", err)
				result.Reason = ReasonMetadataUnavailable
				st = stateDoneIncomplete
				continue
			}
			if missing := dir.MissingMetadata(); len(missing) > 0 {
				logger.Info("metadata artifacts missing", "files", missing)
				st = stateFillMetadata
			} else {
				st = stateValidate
			}

		case stateFillMetadata:
			if _, err := c.fetcher.FetchMetadata(ctx, rawURL, dir); err != nil {
				logger.Error("metadata fill failed", "error", err)
				result.Reason = ReasonMetadataUnavailable
				st = stateDoneIncomplete
				continue
			}
			result.MetadataFetched = true
			st = stateValidate

		case stateValidate:
			report = c.validator.Validate(dir, rawURL)
			result.LastReport = report

			switch {
			case report.Complete():
				st = stateDoneComplete
			case len(report.Failed()) == 0:
				// Incomplete with nothing to retry: the manifest itself is
				// unusable, so more rounds cannot help.
				logger.Error("validation incomplete but no failed segments",
					"expected", report.ExpectedCount)
				result.Reason = ReasonMetadataUnavailable
				st = stateDoneIncomplete
			case ctx.Err() != nil:
				result.Reason = ReasonCanceled
				st = stateDoneIncomplete
			case result.RoundsUsed < c.maxRounds:
				st = stateRetry
			default:
				result.Reason = ReasonRoundsExhausted
				st = stateDoneIncomplete
			}

		case stateRetry:
			failed := report.Failed()
			result.RoundsUsed++
			result.RetryHistory = append(result.RetryHistory, len(failed))
			logger.Warn("retry round",
				"round", result.RoundsUsed,
				"max", c.maxRounds,
				"segments", len(failed),
			)
			c.fetcher.Fetch(ctx, failed, dir)
			st = stateValidate

		case stateDoneComplete:
			result.Complete = true
			result.Reason = ReasonCompleted
			logger.Info("asset complete", "rounds", result.RoundsUsed)
			return result

		case stateDoneIncomplete:
			logger.Warn("asset incomplete",
				"reason", result.Reason,
				"rounds", result.RoundsUsed,
				"missing", len(result.LastReport.Missing),
				"empty", len(result.LastReport.Empty),
			)
			return result
		}
	}
}
