// Package fetch implements the segment fetch pipeline: a bounded worker
// pool that downloads playlist segments to an asset directory, with an
// optional politeness delay, AES-128 decryption, and atomic writes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"hlsrescue/internal/asset"
	"hlsrescue/internal/manifest"
)

// Status classifies the result of one segment fetch.
type Status int

const (
	// StatusFetched means the segment was downloaded and written.
	StatusFetched Status = iota
	// StatusSkipped means the file already matched its recorded length.
	StatusSkipped
	// StatusFailed means the fetch failed; Err carries the reason.
	StatusFailed
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusFetched:
		return "fetched"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the per-segment result of a fetch pass.
type Outcome struct {
	Ref          manifest.SegmentRef
	Status       Status
	BytesWritten int64
	Err          error
}

// Pipeline fetches manifest subsets into an asset directory. Each call is
// independent and stateless with respect to prior calls; the pipeline does
// not know whether it is running a first pass or a retry pass.
type Pipeline struct {
	client      *http.Client
	logger      hclog.Logger
	concurrency int
	limiter     *rate.Limiter
}

// New creates a pipeline with the given concurrency bound and minimum
// spacing between requests. A nil client gets a default with a 30s timeout.
func New(client *http.Client, logger hclog.Logger, concurrency int, delay time.Duration) *Pipeline {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	var limiter *rate.Limiter
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return &Pipeline{
		client:      client,
		logger:      logger,
		concurrency: concurrency,
		limiter:     limiter,
	}
}

// Fetch downloads every ref in the subset, one outcome per input ref in
// input order. Individual failures never abort the pass; all dispatched
// fetches run to completion regardless of sibling failures.
func (p *Pipeline) Fetch(ctx context.Context, refs []manifest.SegmentRef, dir asset.Dir) []Outcome {
	outcomes := make([]Outcome, len(refs))
	if len(refs) == 0 {
		return outcomes
	}

	enc, key, encErr := p.loadEncryption(dir)
	expected := dir.ReadContentLengths()

	var mu sync.Mutex
	written := make(map[int]int64)

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			if encErr != nil {
				outcomes[i] = Outcome{Ref: ref, Status: StatusFailed, Err: encErr}
				return nil
			}
			out := p.fetchSegment(ctx, ref, dir, enc, key, expected)
			outcomes[i] = out
			if out.Status == StatusFetched {
				mu.Lock()
				written[ref.Index] = out.BytesWritten
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := dir.MergeContentLengths(written); err != nil {
		p.logger.Error("update content length index", "error", err)
	}
	return outcomes
}

// fetchSegment downloads one segment to its deterministic path.
func (p *Pipeline) fetchSegment(ctx context.Context, ref manifest.SegmentRef, dir asset.Dir, enc *manifest.Encryption, key []byte, expected map[int]int64) Outcome {
	out := Outcome{Ref: ref}
	path := dir.SegmentPath(ref.Index)

	want, hasWant := expected[ref.Index]
	if hasWant && want > 0 {
		if fi, err := os.Stat(path); err == nil && fi.Size() == want {
			out.Status = StatusSkipped
			out.BytesWritten = fi.Size()
			return out
		}
	}

	if err := p.wait(ctx); err != nil {
		return failed(out, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URI, nil)
	if err != nil {
		return failed(out, fmt.Errorf("build request: %w", err))
	}
	if ref.ByteRange != nil {
		end := ref.ByteRange.Offset + ref.ByteRange.Length - 1
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", ref.ByteRange.Offset, end))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return failed(out, fmt.Errorf("fetch segment: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failed(out, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failed(out, fmt.Errorf("read segment body: %w", err))
	}

	data := body
	if enc != nil {
		data, err = decryptAES128(body, key, segmentIV(enc, ref.Index))
		if err != nil {
			return failed(out, fmt.Errorf("decrypt segment: %w", err))
		}
	}

	// Reject a size mismatch before the atomic rename so a previously good
	// file is never replaced by a bad attempt.
	if hasWant && want > 0 && int64(len(data)) != want {
		return failed(out, fmt.Errorf("size mismatch: got %d bytes, expected %d", len(data), want))
	}

	if err := writeSegment(path, data); err != nil {
		return failed(out, err)
	}

	out.Status = StatusFetched
	out.BytesWritten = int64(len(data))
	p.logger.Debug("segment fetched", "index", ref.Index, "bytes", out.BytesWritten)
	return out
}

// FetchMetadata runs the metadata-only pass: fetch and persist the raw
// playlist, parse it, persist the encryption descriptor, fetch the key when
// encrypted, and probe expected content lengths where cheaply determinable.
// It never fetches segment payloads.
func (p *Pipeline) FetchMetadata(ctx context.Context, rawURL string, dir asset.Dir) (*manifest.Manifest, error) {
	if err := dir.Create(); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}

	text, err := p.fetchBody(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	if err := dir.WritePlaylist(string(text)); err != nil {
		return nil, err
	}

	m, err := manifest.Parse(string(text), rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	p.logger.Info("playlist parsed", "segments", len(m.Segments), "encrypted", m.Encryption != nil)

	if err := dir.WriteEncryptionInfo(asset.InfoFor(m.Encryption)); err != nil {
		return nil, err
	}
	if m.Encryption != nil && m.Encryption.KeyURI != "" {
		keyBytes, err := p.fetchBody(ctx, m.Encryption.KeyURI)
		if err != nil {
			return nil, fmt.Errorf("fetch encryption key: %w", err)
		}
		if err := dir.WriteKey(keyBytes); err != nil {
			return nil, err
		}
	}

	// Content lengths are only a reliable plaintext expectation for
	// unencrypted streams; encrypted segments record their length when
	// first written.
	if m.Encryption == nil {
		p.probeLengths(ctx, m.Segments, dir)
	}
	if err := dir.EnsureContentLengths(); err != nil {
		return nil, err
	}
	return m, nil
}

// probeLengths issues HEAD requests through the worker pool and records
// every Content-Length the server reports. Best effort: probe failures are
// logged, not surfaced.
func (p *Pipeline) probeLengths(ctx context.Context, refs []manifest.SegmentRef, dir asset.Dir) {
	var mu sync.Mutex
	lengths := make(map[int]int64)

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, ref := range refs {
		ref := ref
		if ref.ByteRange != nil {
			// A ranged segment's size is the range length, not the
			// resource's Content-Length.
			continue
		}
		g.Go(func() error {
			if err := p.wait(ctx); err != nil {
				return nil
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref.URI, nil)
			if err != nil {
				return nil
			}
			resp, err := p.client.Do(req)
			if err != nil {
				p.logger.Debug("length probe failed", "index", ref.Index, "error", err)
				return nil
			}
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
				mu.Lock()
				lengths[ref.Index] = resp.ContentLength
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := dir.MergeContentLengths(lengths); err != nil {
		p.logger.Error("record probed lengths", "error", err)
	}
}

// loadEncryption loads the persisted descriptor and key, if any.
func (p *Pipeline) loadEncryption(dir asset.Dir) (*manifest.Encryption, []byte, error) {
	info, err := dir.ReadEncryptionInfo()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	enc, err := info.Descriptor()
	if err != nil || enc == nil {
		return nil, nil, err
	}
	key, err := dir.ReadKey()
	if err != nil {
		return nil, nil, fmt.Errorf("read encryption key: %w", err)
	}
	return enc, key, nil
}

// fetchBody GETs a URL and returns the full response body.
func (p *Pipeline) fetchBody(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// wait applies the politeness delay before a request is issued.
func (p *Pipeline) wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// writeSegment writes plaintext segment data through a pending file and
// atomic rename.
func writeSegment(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending segment file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write segment data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace segment file: %w", err)
	}
	return nil
}

func failed(out Outcome, err error) Outcome {
	out.Status = StatusFailed
	out.Err = err
	return out
}
