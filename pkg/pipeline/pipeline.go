// Package pipeline coordinates one corpus update run: discover new
// sources, stage their converted and chunked forms, resolve which
// committed editions they supersede, embed, and promote everything
// into the committed store with an ordered, idempotent merge.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/statpipe/statpipe/internal/models"
	"github.com/statpipe/statpipe/internal/types"
	"github.com/statpipe/statpipe/pkg/chunker"
	"github.com/statpipe/statpipe/pkg/config"
	"github.com/statpipe/statpipe/pkg/extract"
	"github.com/statpipe/statpipe/pkg/index"
	"github.com/statpipe/statpipe/pkg/registry"
	"github.com/statpipe/statpipe/pkg/resolver"
	"github.com/statpipe/statpipe/pkg/store"
)

// State tracks where a run is in its lifecycle. Merged, Skipped and
// Failed are terminal.
type State int

const (
	StateIdle State = iota
	StateStaged
	StateResolved
	StateMerged
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaged:
		return "staged"
	case StateResolved:
		return "resolved"
	case StateMerged:
		return "merged"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MergeError is fatal for the run: a merge step failed and the run
// stopped before touching anything the failed step guards. The staging
// area is left in place for inspection.
type MergeError struct {
	Step string
	Err  error
}

func (e MergeError) Error() string {
	return fmt.Sprintf("merge step %q failed: %v", e.Step, e.Err)
}

func (e MergeError) Unwrap() error { return e.Err }

// DocumentError is a per-document failure collected into the run
// report. The run continues past it.
type DocumentError struct {
	Filename string
	Err      error
}

func (e DocumentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e DocumentError) Unwrap() error { return e.Err }

// Report summarises one run for logging and CLI output.
type Report struct {
	RunID string
	Mode  string
	State State

	Discovered int // links found on the listing
	Known      int // skipped because their URL is already registered
	Downloaded int
	Documents  int // staged documents after conversion
	Chunks     int
	Vectors    int
	Moved      int // files promoted into the committed store

	Superseded   []resolver.Match
	FormerLatest []string

	Errors []DocumentError
}

func (r *Report) addError(filename string, err error) {
	r.Errors = append(r.Errors, DocumentError{Filename: filename, Err: err})
}

type Options struct {
	Config     *config.Config
	FS         afero.Fs // defaults to the OS filesystem
	Source     types.Source
	Extractor  types.Extractor
	Embedder   types.Embedder
	Logger     *slog.Logger
	OnDownload func(filename string)
}

// Coordinator owns one staging area and one committed store and drives
// runs against them. Runs are sequential; the coordinator assumes it is
// the only writer.
type Coordinator struct {
	cfg        *config.Config
	fs         afero.Fs
	source     types.Source
	converter  extract.Converter
	splitter   chunker.Chunker
	builder    index.Builder
	logger     *slog.Logger
	onDownload func(filename string)

	staging   store.Store
	committed store.Store
}

func NewWithOptions(opts Options) (*Coordinator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("a source is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("an extractor is required")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("an embedder is required")
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Coordinator{
		cfg:       opts.Config,
		fs:        opts.FS,
		source:    opts.Source,
		converter: extract.NewConverter(opts.Extractor, opts.Logger),
		splitter: chunker.NewWithConfig(chunker.Config{
			MaxLength: opts.Config.Chunking.MaxLength,
			Overlap:   opts.Config.Chunking.Overlap,
			MinLength: opts.Config.Chunking.MinLength,
		}),
		builder:    index.NewBuilder(opts.Embedder, opts.Logger),
		logger:     opts.Logger,
		onDownload: opts.OnDownload,
		staging:    store.New(opts.FS, opts.Config.StagingDir),
		committed:  store.New(opts.FS, opts.Config.DataDir),
	}, nil
}

// Run executes one full update. The returned report is always
// populated; the error is non-nil only when the run as a whole failed.
// Per-document failures are collected in the report instead.
//
// The merge applies its steps in a fixed order: the index first, then
// file moves, then the registry, then latest-flag rewrites. Every step
// is idempotent, so a run that failed partway can simply be retried.
// On failure the staging area is kept as it was; after a merge or an
// empty run it is cleared.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Mode: c.cfg.Mode, State: StateIdle}
	log := c.logger.With("run_id", report.RunID, "mode", c.cfg.Mode)
	log.Info("starting run", "committed", c.committed.Root(), "staging", c.staging.Root())

	committedReg, err := registry.Load(c.fs, c.committed.RegistryPath())
	if err != nil {
		return c.fail(report, log, "load committed registry", err)
	}
	if err := c.staging.Init(); err != nil {
		return c.fail(report, log, "init staging area", err)
	}
	stagingReg, err := registry.Load(c.fs, c.staging.RegistryPath())
	if err != nil {
		return c.fail(report, log, "load staging registry", err)
	}
	if stagingReg.Len() > 0 {
		log.Warn("staging area holds leftovers from an earlier run, resuming them",
			"pending", stagingReg.Len())
	}

	links, err := c.source.Discover(ctx)
	if err != nil {
		return c.fail(report, log, "discover sources", err)
	}
	report.Discovered = len(links)

	type staged struct {
		name string
		raw  []byte
	}
	var accepted []staged

	for _, link := range links {
		if committedReg.IsKnown(link.URL) || stagingReg.IsKnown(link.URL) {
			report.Known++
			continue
		}

		name := link.Filename
		if rec, ok := committedReg.Lookup(name); ok && rec.URL != link.URL {
			name = registry.Disambiguate(name, link.URL)
			if rec, ok := committedReg.Lookup(name); ok && rec.URL != link.URL {
				report.addError(link.Filename,
					registry.ConflictError{Filename: name, Existing: rec.URL, Incoming: link.URL})
				continue
			}
		}

		raw, err := c.source.Fetch(ctx, link)
		if err != nil {
			report.addError(link.Filename, fmt.Errorf("download failed: %w", err))
			continue
		}
		name, err = stagingReg.Register(name, link.URL, link.OriginPage)
		if err != nil {
			report.addError(link.Filename, err)
			continue
		}
		if err := c.staging.WriteRaw(name, raw); err != nil {
			return c.fail(report, log, "stage raw file", err)
		}
		accepted = append(accepted, staged{name: name, raw: raw})
		report.Downloaded++
		if c.onDownload != nil {
			c.onDownload(name)
		}
	}

	if stagingReg.Len() == 0 {
		report.State = StateSkipped
		log.Info("no new sources found, nothing to do")
		if err := c.staging.Clear(); err != nil {
			log.Warn("failed to clear staging area", "error", err)
		}
		return report, nil
	}
	if err := stagingReg.Save(); err != nil {
		return c.fail(report, log, "save staging registry", err)
	}

	for _, item := range accepted {
		doc, err := c.converter.Convert(ctx, item.name, item.raw)
		if err != nil {
			report.addError(item.name, err)
			continue
		}
		if err := c.staging.WriteDocument(doc); err != nil {
			return c.fail(report, log, "stage document", err)
		}
		chunks, err := c.splitter.Chunk(doc)
		if err != nil {
			report.addError(item.name, err)
			continue
		}
		for _, chunk := range chunks {
			if err := c.staging.WriteChunk(chunk); err != nil {
				return c.fail(report, log, "stage chunk", err)
			}
		}
	}

	// Re-read staged state from disk rather than trusting the loop
	// above: a resumed run picks up documents staged before a crash.
	stagedDocs, err := c.staging.Documents()
	if err != nil {
		return c.fail(report, log, "read staged documents", err)
	}
	stagedChunks, err := c.staging.Chunks()
	if err != nil {
		return c.fail(report, log, "read staged chunks", err)
	}
	report.Documents = len(stagedDocs)
	report.Chunks = len(stagedChunks)
	report.State = StateStaged
	log.Info("staging complete",
		"downloaded", report.Downloaded, "documents", report.Documents, "chunks", report.Chunks)

	committedDocs, err := c.committed.Documents()
	if err != nil {
		return c.fail(report, log, "read committed documents", err)
	}
	res := resolver.Resolve(stagedDocs, committedDocs,
		resolver.Config{Threshold: c.cfg.Resolver.FuzzyMatchThreshold})
	for _, e := range res.Errors {
		report.addError(e.Filename, e)
	}
	for _, m := range res.Ambiguous {
		log.Warn("ambiguous supersede candidate, left independent",
			"staged", m.Staged, "committed", m.Committed, "score", m.Score)
	}

	// The accepted matches are persisted next to the staged files: a
	// retried run whose documents were already promoted cannot
	// re-derive them, yet still has to apply the flag flips.
	pending, err := c.loadResolution()
	if err != nil {
		return c.fail(report, log, "load pending resolution", err)
	}
	matches := combineMatches(pending, res.Superseded)
	if err := c.saveResolution(matches); err != nil {
		return c.fail(report, log, "save resolution", err)
	}
	report.Superseded = matches
	report.FormerLatest = resolver.Resolution{Superseded: matches}.FormerLatest()
	report.State = StateResolved
	log.Info("versions resolved", "superseded", len(matches))

	embedChunks := stagedChunks
	if c.cfg.Resolver.FilterLatestOnly {
		// Chunks written by this run's conversion are all flagged
		// latest; the filter only bites on records that were already
		// sitting in the staging area with their flags cleared.
		embedChunks = latestOnly(stagedChunks)
	}
	artifact, err := c.builder.Build(ctx, embedChunks)
	if err != nil {
		return c.fail(report, log, "build incremental index", err)
	}
	if artifact != nil {
		if err := index.Save(c.fs, c.staging.IncrementalIndexPath(), artifact); err != nil {
			return c.fail(report, log, "save incremental index", err)
		}
		report.Vectors = artifact.VectorCount()
	}

	// Merge step 1: fold the incremental index into the main one. Runs
	// before any file moves so a failure here leaves the committed
	// store byte-for-byte untouched.
	if artifact.VectorCount() > 0 {
		main, err := index.Load(c.fs, c.committed.IndexPath())
		if err != nil {
			return c.mergeFail(report, log, "index", err)
		}
		merged, err := index.Merge(main, artifact)
		if err != nil {
			return c.mergeFail(report, log, "index", err)
		}
		if err := index.Save(c.fs, c.committed.IndexPath(), merged); err != nil {
			return c.mergeFail(report, log, "index", err)
		}
		log.Info("index merged", "added", artifact.VectorCount(), "total", merged.VectorCount())
	}

	// Merge step 2: move staged files into the committed store.
	moved, err := store.Promote(c.fs, c.staging, c.committed)
	if err != nil {
		return c.mergeFail(report, log, "move", err)
	}
	report.Moved = moved

	// Merge step 3: union the staging registry delta into the
	// committed registry.
	if _, err := committedReg.Merge(stagingReg); err != nil {
		return c.mergeFail(report, log, "registry", err)
	}
	if err := committedReg.Save(); err != nil {
		return c.mergeFail(report, log, "registry", err)
	}

	// Merge step 4: retire the superseded editions.
	for _, former := range report.FormerLatest {
		if err := c.committed.SetLatest(former, false); err != nil {
			return c.mergeFail(report, log, "latest-flags", err)
		}
	}

	report.State = StateMerged
	if err := c.staging.Clear(); err != nil {
		log.Warn("merge complete but staging area could not be cleared", "error", err)
	}
	log.Info("run merged",
		"moved", moved, "vectors", report.Vectors, "retired", len(report.FormerLatest))
	return report, nil
}

func (c *Coordinator) fail(report *Report, log *slog.Logger, stage string, err error) (*Report, error) {
	report.State = StateFailed
	log.Error("run failed", "stage", stage, "error", err)
	return report, fmt.Errorf("%s: %w", stage, err)
}

// mergeFail stops the run without rolling anything back: completed
// steps are idempotent and will converge on retry, and the staging
// area keeps the inputs the remaining steps need.
func (c *Coordinator) mergeFail(report *Report, log *slog.Logger, step string, err error) (*Report, error) {
	report.State = StateFailed
	merr := MergeError{Step: step, Err: err}
	log.Error("merge aborted, staging area kept", "step", step, "error", err)
	return report, merr
}

type savedResolution struct {
	Superseded []resolver.Match `json:"superseded"`
}

func (c *Coordinator) loadResolution() ([]resolver.Match, error) {
	data, err := afero.ReadFile(c.fs, c.staging.ResolutionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var saved savedResolution
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", c.staging.ResolutionPath(), err)
	}
	return saved.Superseded, nil
}

func (c *Coordinator) saveResolution(matches []resolver.Match) error {
	data, err := json.MarshalIndent(savedResolution{Superseded: matches}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode resolution: %w", err)
	}
	return afero.WriteFile(c.fs, c.staging.ResolutionPath(), data, 0o644)
}

// combineMatches unions a pending resolution left by an earlier failed
// run with the current pass, keyed by committed filename. The current
// pass wins on overlap.
func combineMatches(pending, fresh []resolver.Match) []resolver.Match {
	if len(pending) == 0 {
		return fresh
	}
	byCommitted := make(map[string]resolver.Match, len(pending)+len(fresh))
	for _, m := range pending {
		byCommitted[m.Committed] = m
	}
	for _, m := range fresh {
		byCommitted[m.Committed] = m
	}
	matches := make([]resolver.Match, 0, len(byCommitted))
	for _, m := range byCommitted {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Committed < matches[j].Committed })
	return matches
}

func latestOnly(chunks []models.Chunk) []models.Chunk {
	filtered := make([]models.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Latest {
			filtered = append(filtered, chunk)
		}
	}
	return filtered
}
