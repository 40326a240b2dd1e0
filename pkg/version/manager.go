// Package version orchestrates the creation, enumeration, and deletion of
// compression outputs ("parts" and their revisions). It owns the session
// lock for the duration of a compression, delegates the actual text
// compression to the external service, and records full provenance
// metadata in the project manifest.
package version

import (
	"context"
	"strconv"
	"time"

	"github.com/entrhq/distill/pkg/compressor"
	"github.com/entrhq/distill/pkg/config"
	"github.com/entrhq/distill/pkg/decay"
	"github.com/entrhq/distill/pkg/delta"
	"github.com/entrhq/distill/pkg/lockreg"
	"github.com/entrhq/distill/pkg/logging"
	"github.com/entrhq/distill/pkg/manifest"
	"github.com/entrhq/distill/pkg/session"
	"github.com/entrhq/distill/pkg/settings"
	"github.com/entrhq/distill/pkg/tokenizer"
	"github.com/entrhq/distill/pkg/types"
)

// Manager is the version subsystem. One outstanding compression per
// session at a time; a second concurrent request fails fast with Conflict.
type Manager struct {
	cfg   config.Config
	locks lockreg.Locker
	store manifest.Store
	mlock *manifest.FileLock
	svc   compressor.Service
	files *FileStore
	tok   *tokenizer.Tokenizer
	log   *logging.Logger
	now   func() time.Time // injected for testability
}

// NewManager wires the version subsystem. All collaborators are injected
// so tests can substitute fakes for the lock registry and the compression
// service.
func NewManager(cfg config.Config, locks lockreg.Locker, store manifest.Store, mlock *manifest.FileLock, svc compressor.Service, files *FileStore, tok *tokenizer.Tokenizer) *Manager {
	logger, _ := logging.NewLogger("version")
	return &Manager{
		cfg:   cfg,
		locks: locks,
		store: store,
		mlock: mlock,
		svc:   svc,
		files: files,
		tok:   tok,
		log:   logger,
		now:   time.Now,
	}
}

// compressionInput is the snapshot taken under the manifest lock before
// the blocking external call.
type compressionInput struct {
	messages    []types.Message
	partNumber  int
	fullSession bool
	markers     []types.PreservationMarker
}

// CreateVersion runs one compression for a session and appends the
// resulting CompressionRecord to the project manifest.
//
// The session lock is held for the whole operation and released on every
// exit path. The manifest lock is held only for the load and the final
// read-modify-write, not across the external service call.
func (m *Manager) CreateVersion(ctx context.Context, projectID string, req *settings.Compression) (*types.CompressionRecord, error) {
	key := lockreg.SessionKey(req.SessionID, "compress")
	holder, err := m.locks.Acquire(key, "compress")
	if err != nil {
		return nil, err
	}
	defer m.locks.Release(key, holder)

	input, err := m.snapshotInput(projectID, req)
	if err != nil {
		return nil, err
	}

	ratio := req.Ratio
	if ratio == 0 {
		ratio = m.cfg.DefaultRatio
	}
	level, err := types.ModeLevel(req.Mode)
	if err != nil {
		return nil, types.InvalidSettings("%v", err)
	}

	// Compression on a session's own transcript is at distance 1 by
	// definition; real distances only exist in composition order.
	plan := decay.PlanMarkers(markersInRange(input.markers, delta.RangeOf(input.messages)), level, ratio, 1, decay.Config{
		Bases:       m.cfg.DecayBases,
		MaxDistance: m.cfg.MaxDistance,
	})

	result, err := m.svc.Compress(ctx, compressor.Request{
		Messages:         input.messages,
		Mode:             req.Mode,
		Level:            level,
		Ratio:            ratio,
		Model:            m.modelFor(req),
		PreserveVerbatim: markerContents(plan.Verbatim),
		MayCondense:      markerContents(plan.Condense),
	})
	if err != nil {
		if types.KindOf(err) != "" {
			return nil, err
		}
		return nil, types.CompressionFailed(err, "compress session %s", req.SessionID)
	}

	verification := decay.Verify(result.Text, plan)
	if verification.PinnedMissing {
		return nil, types.CompressionFailed(nil, "pinned marker missing from compressed output for session %s", req.SessionID)
	}
	for _, missing := range verification.Missing {
		m.log.Warnf("session %s: marker %s not found verbatim in compressed output", req.SessionID, missing.ID)
	}

	inputTokens := m.tok.CountMessages(input.messages)
	rec := types.CompressionRecord{
		PartNumber:   input.partNumber,
		Level:        level,
		FullSession:  input.fullSession,
		Range:        delta.RangeOf(input.messages),
		OutputTokens: result.OutputTokens,
		OutputCount:  result.OutputMessages,
		Ratio:        compressionRatio(inputTokens, result.OutputTokens),
		Mode:         req.Mode.ModeName(),
		Model:        m.modelFor(req),
		CreatedAt:    m.now(),
		Preservation: types.PreservationStats{
			Preserved:  len(verification.Preserved),
			Summarized: len(plan.Condense) + len(verification.Missing),
		},
	}

	saved, err := m.appendRecord(projectID, req.SessionID, rec, result.Text, plan, verification)
	if err != nil {
		return nil, err
	}
	m.log.Infof("session %s: created part %d version %d (%s, %d tokens)", req.SessionID, saved.PartNumber, saved.VersionID, saved.Level, saved.OutputTokens)
	return saved, nil
}

// snapshotInput loads the manifest under the manifest lock and resolves
// the messages this compression will cover.
func (m *Manager) snapshotInput(projectID string, req *settings.Compression) (*compressionInput, error) {
	var input *compressionInput
	err := m.mlock.WithLock(projectID, func() error {
		state, err := m.store.Load(projectID)
		if err != nil {
			return err
		}
		entry := state.Session(req.SessionID)
		if entry == nil {
			return types.NotFound("session %s not registered in project %s", req.SessionID, projectID)
		}
		log, err := session.ReadTranscript(entry.TranscriptPath)
		if err != nil {
			return err
		}

		switch mode := req.Mode.(type) {
		case types.DeltaMode:
			d := delta.Detect(entry, log)
			if !d.HasDelta {
				return types.InsufficientDelta("no new messages to compress for session %s", req.SessionID)
			}
			input = &compressionInput{
				messages:   d.Messages,
				partNumber: d.PreviousPart + 1,
			}
		case types.UniformMode, types.TieredMode:
			// A full-session pass covers the whole current log as a fresh
			// part, keeping part ranges immutable as the log grows.
			input = &compressionInput{
				messages:    log,
				partNumber:  entry.HighestPartNumber() + 1,
				fullSession: true,
			}
		default:
			return types.InvalidSettings("unknown compression mode %T", mode)
		}
		input.markers = append([]types.PreservationMarker(nil), entry.Markers...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return input, nil
}

// appendRecord re-acquires the manifest lock, assigns the version id,
// checks part/level uniqueness, writes the version files, and saves.
func (m *Manager) appendRecord(projectID, sessionID string, rec types.CompressionRecord, text string, plan decay.Plan, verification decay.VerifyResult) (*types.CompressionRecord, error) {
	var saved *types.CompressionRecord
	err := m.mlock.WithLock(projectID, func() error {
		state, err := m.store.Load(projectID)
		if err != nil {
			return err
		}
		entry := state.Session(sessionID)
		if entry == nil {
			return types.NotFound("session %s disappeared from project %s", sessionID, projectID)
		}

		for _, existing := range entry.PartRecords(rec.PartNumber) {
			if existing.Level == rec.Level {
				return types.Conflict("part %d of session %s already has a %s version", rec.PartNumber, sessionID, rec.Level)
			}
		}

		rec.VersionID = entry.NextVersionID()
		base, err := m.files.Write(projectID, sessionID, &rec, text)
		if err != nil {
			return err
		}
		rec.FileName = base

		entry.Records = append(entry.Records, rec)
		recordSurvival(entry, &rec, plan, verification)

		if err := m.store.Save(projectID, state); err != nil {
			return err
		}
		saved = &entry.Records[len(entry.Records)-1]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// RecompressPart creates another revision of an existing part at a new
// compression level. The part's message range is reused exactly as stored,
// never recomputed.
func (m *Manager) RecompressPart(ctx context.Context, projectID, sessionID string, partNumber int, req *settings.Compression) (*types.CompressionRecord, error) {
	key := lockreg.SessionKey(sessionID, "compress")
	holder, err := m.locks.Acquire(key, "compress")
	if err != nil {
		return nil, err
	}
	defer m.locks.Release(key, holder)

	level, err := types.ModeLevel(req.Mode)
	if err != nil {
		return nil, types.InvalidSettings("%v", err)
	}

	var (
		input   []types.Message
		r       types.MessageRange
		full    bool
		mode    string
		markers []types.PreservationMarker
	)
	err = m.mlock.WithLock(projectID, func() error {
		state, err := m.store.Load(projectID)
		if err != nil {
			return err
		}
		entry := state.Session(sessionID)
		if entry == nil {
			return types.NotFound("session %s not registered in project %s", sessionID, projectID)
		}
		parts := entry.PartRecords(partNumber)
		if len(parts) == 0 {
			return types.NotFound("part %d not found in session %s", partNumber, sessionID)
		}
		for _, existing := range parts {
			if existing.Level == level && !req.Force {
				return types.Conflict("part %d of session %s already has a %s version", partNumber, sessionID, level)
			}
		}
		r = parts[0].Range
		full = parts[0].FullSession
		mode = parts[0].Mode

		log, err := session.ReadTranscript(entry.TranscriptPath)
		if err != nil {
			return err
		}
		for i := range log {
			if r.Contains(log[i].Index) {
				input = append(input, log[i])
			}
		}
		markers = append([]types.PreservationMarker(nil), entry.Markers...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	ratio := req.Ratio
	if ratio == 0 {
		ratio = m.cfg.DefaultRatio
	}
	plan := decay.PlanMarkers(markersInRange(markers, r), level, ratio, 1, decay.Config{
		Bases:       m.cfg.DecayBases,
		MaxDistance: m.cfg.MaxDistance,
	})

	result, err := m.svc.Compress(ctx, compressor.Request{
		Messages:         input,
		Mode:             req.Mode,
		Level:            level,
		Ratio:            ratio,
		Model:            m.modelFor(req),
		PreserveVerbatim: markerContents(plan.Verbatim),
		MayCondense:      markerContents(plan.Condense),
	})
	if err != nil {
		if types.KindOf(err) != "" {
			return nil, err
		}
		return nil, types.CompressionFailed(err, "recompress part %d of session %s", partNumber, sessionID)
	}

	verification := decay.Verify(result.Text, plan)
	if verification.PinnedMissing {
		return nil, types.CompressionFailed(nil, "pinned marker missing from recompressed output for session %s", sessionID)
	}

	inputTokens := m.tok.CountMessages(input)
	rec := types.CompressionRecord{
		PartNumber:   partNumber,
		Level:        level,
		FullSession:  full,
		Range:        r,
		OutputTokens: result.OutputTokens,
		OutputCount:  result.OutputMessages,
		Ratio:        compressionRatio(inputTokens, result.OutputTokens),
		Mode:         mode,
		Model:        m.modelFor(req),
		CreatedAt:    m.now(),
		Preservation: types.PreservationStats{
			Preserved:  len(verification.Preserved),
			Summarized: len(plan.Condense) + len(verification.Missing),
		},
	}

	return m.appendRecompression(projectID, sessionID, rec, result.Text, plan, verification, req.Force)
}

// appendRecompression is appendRecord minus the uniqueness check when
// force is set: a forced duplicate replaces the existing record at the
// same (part, level).
func (m *Manager) appendRecompression(projectID, sessionID string, rec types.CompressionRecord, text string, plan decay.Plan, verification decay.VerifyResult, force bool) (*types.CompressionRecord, error) {
	var saved *types.CompressionRecord
	err := m.mlock.WithLock(projectID, func() error {
		state, err := m.store.Load(projectID)
		if err != nil {
			return err
		}
		entry := state.Session(sessionID)
		if entry == nil {
			return types.NotFound("session %s disappeared from project %s", sessionID, projectID)
		}

		for i := range entry.Records {
			existing := &entry.Records[i]
			if existing.PartNumber != rec.PartNumber || existing.Level != rec.Level {
				continue
			}
			if !force {
				return types.Conflict("part %d of session %s already has a %s version", rec.PartNumber, sessionID, rec.Level)
			}
			if existing.FileName != "" {
				_ = m.files.Remove(projectID, sessionID, existing.FileName)
			}
			entry.Records = append(entry.Records[:i], entry.Records[i+1:]...)
			break
		}

		rec.VersionID = entry.NextVersionID()
		base, err := m.files.Write(projectID, sessionID, &rec, text)
		if err != nil {
			return err
		}
		rec.FileName = base

		entry.Records = append(entry.Records, rec)
		recordSurvival(entry, &rec, plan, verification)

		if err := m.store.Save(projectID, state); err != nil {
			return err
		}
		saved = &entry.Records[len(entry.Records)-1]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// DeleteVersion removes a compression record and its files. It fails with
// Conflict while any composition still references the version, unless
// force is set. The "original" pseudo-version can never be deleted.
func (m *Manager) DeleteVersion(projectID, sessionID, versionID string, force bool) error {
	if versionID == types.OriginalVersionID {
		return types.Conflict("the original transcript cannot be deleted")
	}
	id, err := strconv.Atoi(versionID)
	if err != nil {
		return types.InvalidSettings("version id %q is not numeric", versionID)
	}

	return m.mlock.WithLock(projectID, func() error {
		state, err := m.store.Load(projectID)
		if err != nil {
			return err
		}
		entry := state.Session(sessionID)
		if entry == nil {
			return types.NotFound("session %s not registered in project %s", sessionID, projectID)
		}

		idx := -1
		for i := range entry.Records {
			if entry.Records[i].VersionID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return types.NotFound("version %d not found in session %s", id, sessionID)
		}
		if !force && state.VersionInUse(sessionID, versionID) {
			return types.Conflict("version %d of session %s is referenced by a composition", id, sessionID)
		}

		if name := entry.Records[idx].FileName; name != "" {
			if err := m.files.Remove(projectID, sessionID, name); err != nil {
				return err
			}
		}
		entry.Records = append(entry.Records[:idx], entry.Records[idx+1:]...)
		return m.store.Save(projectID, state)
	})
}

// DeltaStatus reports the pending delta for a session without mutating
// anything.
func (m *Manager) DeltaStatus(projectID, sessionID string) (*delta.Status, error) {
	state, err := m.store.Load(projectID)
	if err != nil {
		return nil, err
	}
	entry := state.Session(sessionID)
	if entry == nil {
		return nil, types.NotFound("session %s not registered in project %s", sessionID, projectID)
	}
	log, err := session.ReadTranscript(entry.TranscriptPath)
	if err != nil {
		return nil, err
	}
	status := delta.GetStatus(entry, log)
	return &status, nil
}

func (m *Manager) modelFor(req *settings.Compression) string {
	if req.Model != "" {
		return req.Model
	}
	return m.cfg.Model
}

// compressionRatio guards the divide-by-zero: a zero-token output yields
// ratio 1 rather than a panic or infinity.
func compressionRatio(inputTokens, outputTokens int) float64 {
	if outputTokens <= 0 {
		return 1
	}
	return float64(inputTokens) / float64(outputTokens)
}

func markersInRange(markers []types.PreservationMarker, r types.MessageRange) []types.PreservationMarker {
	var out []types.PreservationMarker
	for _, marker := range markers {
		if r.Contains(marker.MessageIndex) {
			out = append(out, marker)
		}
	}
	return out
}

func markerContents(markers []types.PreservationMarker) []string {
	out := make([]string, len(markers))
	for i, m := range markers {
		out[i] = m.Content
	}
	return out
}

// recordSurvival appends a survival outcome to every marker the pass
// covered: verbatim for verified markers, summarized for condensed or
// missing ones.
func recordSurvival(entry *types.SessionEntry, rec *types.CompressionRecord, plan decay.Plan, verification decay.VerifyResult) {
	verbatim := make(map[string]bool, len(verification.Preserved))
	for _, m := range verification.Preserved {
		verbatim[m.ID] = true
	}
	covered := make(map[string]bool, len(plan.Verbatim)+len(plan.Condense))
	for _, m := range plan.Verbatim {
		covered[m.ID] = true
	}
	for _, m := range plan.Condense {
		covered[m.ID] = true
	}

	for i := range entry.Markers {
		marker := &entry.Markers[i]
		if !covered[marker.ID] {
			continue
		}
		marker.History = append(marker.History, types.SurvivalOutcome{
			PartNumber: rec.PartNumber,
			VersionID:  rec.VersionID,
			Level:      rec.Level,
			Verbatim:   verbatim[marker.ID],
		})
	}
}

// RegisterSession parses and registers a transcript under the project
// manifest. Registering an id that already exists is a Conflict.
func (m *Manager) RegisterSession(projectID, sessionID, transcriptPath string) (*types.SessionEntry, error) {
	reg := session.NewRegistrar(m.tok)
	entry, _, err := reg.Register(sessionID, transcriptPath)
	if err != nil {
		return nil, err
	}

	err = m.mlock.WithLock(projectID, func() error {
		state, err := m.store.Load(projectID)
		if err != nil {
			return err
		}
		if state.Session(sessionID) != nil {
			return types.Conflict("session %s already registered in project %s", sessionID, projectID)
		}
		state.Sessions = append(state.Sessions, *entry)
		return m.store.Save(projectID, state)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListVersions returns a session's compression records.
func (m *Manager) ListVersions(projectID, sessionID string) ([]types.CompressionRecord, error) {
	state, err := m.store.Load(projectID)
	if err != nil {
		return nil, err
	}
	entry := state.Session(sessionID)
	if entry == nil {
		return nil, types.NotFound("session %s not registered in project %s", sessionID, projectID)
	}
	return append([]types.CompressionRecord(nil), entry.Records...), nil
}
