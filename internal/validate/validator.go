// Package validate checks an asset directory for completeness: a pure
// filesystem diff of expected segments against what is actually on disk.
package validate

import (
	"os"
	"sort"

	"github.com/hashicorp/go-hclog"

	"hlsrescue/internal/asset"
	"hlsrescue/internal/manifest"
)

// Report describes the completeness of an asset directory.
type Report struct {
	// ExpectedCount is the number of segments the persisted manifest lists.
	ExpectedCount int

	// PresentCount is the number of expected segment files that exist,
	// whether or not their size checks out.
	PresentCount int

	// Missing lists segments with no file on disk.
	Missing []manifest.SegmentRef

	// Empty lists segments whose file is zero bytes or does not match the
	// recorded expected length.
	Empty []manifest.SegmentRef
}

// Complete reports whether the asset needs no further work. An asset with
// an unreadable manifest has ExpectedCount 0 and is incomplete by
// convention, forcing a metadata-fill pass upstream.
func (r Report) Complete() bool {
	return r.ExpectedCount > 0 &&
		r.PresentCount == r.ExpectedCount &&
		len(r.Missing) == 0 &&
		len(r.Empty) == 0
}

// Failed returns the union of missing and invalid segments, ordered by
// index. This is exactly the subset a retry pass should fetch.
func (r Report) Failed() []manifest.SegmentRef {
	seen := make(map[int]bool, len(r.Missing)+len(r.Empty))
	failed := make([]manifest.SegmentRef, 0, len(r.Missing)+len(r.Empty))
	for _, ref := range append(append([]manifest.SegmentRef{}, r.Missing...), r.Empty...) {
		if seen[ref.Index] {
			continue
		}
		seen[ref.Index] = true
		failed = append(failed, ref)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })
	return failed
}

// Validator diffs asset directories against their persisted manifests.
// It never touches the network.
type Validator struct {
	logger hclog.Logger
}

// New creates a validator.
func New(logger hclog.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate reads the persisted playlist from the asset directory and checks
// every expected segment for existence, non-zero size, and agreement with
// the recorded expected length. baseURI resolves any relative playlist
// entries; it is a resolution hint only, the directory stays the source of
// truth. Validation is idempotent: without intervening fetches two runs
// yield identical reports.
func (v *Validator) Validate(dir asset.Dir, baseURI string) Report {
	// The check never dereferences URIs, so any absolute base lets
	// relative playlist entries resolve.
	if baseURI == "" {
		baseURI = "http://localhost/"
	}

	text, err := dir.ReadPlaylist()
	if err != nil {
		v.logger.Warn("no readable playlist in asset dir", "dir", dir.Path(), "error", err)
		return Report{}
	}

	m, err := manifest.Parse(text, baseURI)
	if err != nil {
		v.logger.Warn("persisted playlist does not parse", "dir", dir.Path(), "error", err)
		return Report{}
	}

	lengths := dir.ReadContentLengths()
	report := Report{ExpectedCount: len(m.Segments)}

	for _, ref := range m.Segments {
		fi, err := os.Stat(dir.SegmentPath(ref.Index))
		if err != nil {
			report.Missing = append(report.Missing, ref)
			continue
		}
		report.PresentCount++

		if fi.Size() == 0 {
			report.Empty = append(report.Empty, ref)
			continue
		}
		if want, ok := lengths[ref.Index]; ok && want > 0 && fi.Size() != want {
			report.Empty = append(report.Empty, ref)
		}
	}

	v.logger.Debug("validation report",
		"dir", dir.Path(),
		"expected", report.ExpectedCount,
		"present", report.PresentCount,
		"missing", len(report.Missing),
		"empty", len(report.Empty),
	)
	return report
}
