// Package engine is the adaptive behavioral-finance engine: it classifies
// how each user saves, learns from reported under-saving incidents,
// assesses financial risks and turns all of that into recommendations.
//
// The Service owns every user's learned profile. Read-modify-write
// sequences for one user are serialized; different users run in parallel.
// All collaborator calls are bounded by a timeout, retried when safe and
// guarded by a per-collaborator circuit breaker.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/advisor"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/behavior"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/circuitbreaker"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/events"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/metrics"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/retry"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/risk"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/snapshot"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/syncutil"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/traces"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/validation"
)

// IncidentCommitter records an incident and the profile snapshot that
// includes it as one atomic unit. Replaying the same pair is a no-op.
type IncidentCommitter interface {
	CommitIncident(ctx context.Context, incident *events.Event, snap *snapshot.Snapshot) error
}

// Deps are the service's collaborators. Committer, Logger and Now are
// optional.
type Deps struct {
	Events    events.Store
	Snapshots snapshot.Store
	Committer IncidentCommitter
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service implements the engine operations.
type Service struct {
	events    events.Store
	snapshots snapshot.Store
	committer IncidentCommitter

	analyzer  *behavior.Analyzer
	learner   *behavior.Learner
	assessor  *risk.Assessor
	generator *advisor.Generator

	locks   *syncutil.KeyedMutex
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
	now     func() time.Time
	cfg     Config
}

// New creates the engine service.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Events == nil {
		return nil, errors.New("engine: event store is required")
	}
	if deps.Snapshots == nil {
		return nil, errors.New("engine: snapshot store is required")
	}
	cfg = cfg.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		events:    deps.Events,
		snapshots: deps.Snapshots,
		committer: deps.Committer,
		analyzer:  behavior.NewAnalyzer(cfg.Params),
		learner:   behavior.NewLearner(cfg.Params),
		assessor:  risk.NewAssessor().WithWindow(cfg.RiskWindow),
		generator: advisor.NewGenerator().WithMaxResults(cfg.MaxRecommendations),
		locks:     syncutil.NewKeyedMutex(),
		breaker:   circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerOpenDuration),
		logger:    logger,
		now:       now,
		cfg:       cfg,
	}, nil
}

// AnalyzeUserBehavior recomputes the user's profile from their full event
// history, stores it as the latest analysis and returns it. A user without
// events gets an insufficient_data analysis, not an error.
func (s *Service) AnalyzeUserBehavior(ctx context.Context, userID string) (a *behavior.Analysis, err error) {
	ctx, done := s.begin(ctx, opAnalyze, userID)
	defer func() { done(err) }()

	userID, err = s.checkUserID(userID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err = s.analyzeLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	traces.Annotate(ctx, traces.Pattern(string(a.DominantPattern)))
	return a, nil
}

// GetLatestBehaviorAnalysis returns the most recent stored analysis, or nil
// when the user has never been analyzed. It does not take the user lock.
func (s *Service) GetLatestBehaviorAnalysis(ctx context.Context, userID string) (a *behavior.Analysis, err error) {
	ctx, done := s.begin(ctx, opGetAnalysis, userID)
	defer func() { done(err) }()

	userID, err = s.checkUserID(userID)
	if err != nil {
		return nil, err
	}
	a, _, err = s.latestAnalysis(ctx, userID)
	return a, err
}

// LearnFromUnderSaving records an under-saving incident and folds it into
// the user's profile. The incident and the updated profile are persisted
// together. Optional context that cannot be used is dropped, never
// rejected; a blank reason is a validation error.
func (s *Service) LearnFromUnderSaving(ctx context.Context, userID, reason string, ic *events.IncidentContext) (err error) {
	ctx, done := s.begin(ctx, opLearn, userID)
	defer func() { done(err) }()

	userID, err = s.checkUserID(userID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return s.stageErr(StageValidate, userID, &ValidationError{Field: "reason", Message: "is required"})
	}

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	current, latest, err := s.latestAnalysis(ctx, userID)
	if err != nil {
		return err
	}
	var profile *behavior.Profile
	if current != nil {
		profile = current.Profile
	} else {
		history, err := s.readHistory(ctx, userID, time.Time{})
		if err != nil {
			return err
		}
		profile = s.analyzer.Rebuild(history)
	}

	now := s.now()
	incident, err := behavior.NewIncident(userID, reason, ic, now)
	if err != nil {
		return s.stageErr(StageValidate, userID, &ValidationError{Field: "reason", Message: err.Error()})
	}
	if err := s.learner.Apply(profile, incident); err != nil {
		return s.stageErr(StageUpdateProfile, userID, err)
	}

	takenAt := snapshot.NextTakenAt(latest, now)
	analysis := behavior.Summarize(userID, profile, s.cfg.Params, takenAt)
	snap, err := snapshot.New(userID, snapshot.KindBehaviorAnalysis, takenAt, analysis)
	if err != nil {
		return s.stageErr(StageUpdateProfile, userID, err)
	}

	if err := s.commitIncident(ctx, incident, snap); err != nil {
		return s.stageErr(StagePersistSnapshot, userID, err)
	}

	metrics.IncidentsLearnedTotal.Inc()
	traces.Annotate(ctx, traces.Pattern(string(analysis.DominantPattern)))
	s.logger.Info("learned under-saving incident",
		"user_id", userID,
		"pattern", analysis.DominantPattern,
		"samples", profile.SampleCount)
	return nil
}

// AssessFinancialRisks assesses the user's risks from the latest profile
// and recent events and stores the result as the latest assessment. A
// missing or stale analysis is recomputed first.
func (s *Service) AssessFinancialRisks(ctx context.Context, userID string) (a *risk.Assessment, err error) {
	ctx, done := s.begin(ctx, opAssess, userID)
	defer func() { done(err) }()

	userID, err = s.checkUserID(userID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.assessLocked(ctx, userID)
}

// GenerateAdaptiveRecommendations returns between one and
// Config.MaxRecommendations ranked recommendations for the user. Users
// without a usable profile get a single keep-tracking recommendation.
func (s *Service) GenerateAdaptiveRecommendations(ctx context.Context, userID string) (recs []*advisor.Recommendation, err error) {
	ctx, done := s.begin(ctx, opRecommend, userID)
	defer func() { done(err) }()

	userID, err = s.checkUserID(userID)
	if err != nil {
		return nil, err
	}

	analysis, _, err := s.latestAnalysis(ctx, userID)
	if err != nil {
		return nil, err
	}

	in := advisor.Input{UserID: userID, Analysis: analysis, Now: s.now()}
	if analysis != nil {
		assessment, _, err := s.latestAssessment(ctx, userID)
		if err != nil {
			return nil, err
		}
		if assessment == nil || assessment.LastAssessed.Before(analysis.ComputedAt) {
			if assessment, err = s.refreshAssessment(ctx, userID); err != nil {
				return nil, err
			}
		}
		in.Assessment = assessment

		recent, err := s.readHistory(ctx, userID, in.Now.Add(-s.cfg.RiskWindow))
		if err != nil {
			return nil, err
		}
		in.Recent = recent
	}

	recs = s.generator.Generate(in)
	for _, r := range recs {
		metrics.RecommendationsEmittedTotal.WithLabelValues(string(r.Category)).Inc()
	}
	return recs, nil
}

// History returns stored snapshots for the user, newest first.
func (s *Service) History(ctx context.Context, userID string, kind snapshot.Kind, limit int) (snaps []*snapshot.Snapshot, err error) {
	ctx, done := s.begin(ctx, opHistory, userID)
	defer func() { done(err) }()

	userID, err = s.checkUserID(userID)
	if err != nil {
		return nil, err
	}
	if kind != "" && !kind.Valid() {
		return nil, s.stageErr(StageValidate, userID, &ValidationError{Field: "kind", Message: "unknown snapshot kind"})
	}

	err = s.read(ctx, CollaboratorProfileStore, func(ctx context.Context) error {
		var err error
		snaps, err = s.snapshots.History(ctx, snapshot.HistoryQuery{UserID: userID, Kind: kind, Limit: limit})
		return err
	})
	if err != nil {
		return nil, s.stageErr(StageReadHistory, userID, err)
	}
	return snaps, nil
}

// RecordEvent appends a contribution or expectation event. Incidents go
// through LearnFromUnderSaving so the profile stays in step.
func (s *Service) RecordEvent(ctx context.Context, ev *events.Event) (id string, err error) {
	if ev == nil {
		return "", s.stageErr(StageValidate, "", &ValidationError{Field: "event", Message: "is required"})
	}
	ctx, done := s.begin(ctx, opRecord, ev.UserID)
	defer func() { done(err) }()
	traces.Annotate(ctx, traces.EventKind(string(ev.Kind)))

	userID, err := s.checkUserID(ev.UserID)
	if err != nil {
		return "", err
	}
	if ev.Kind != events.KindContribution && ev.Kind != events.KindExpectation {
		return "", s.stageErr(StageValidate, userID, &ValidationError{Field: "kind", Message: "must be contribution or expectation"})
	}
	cp := *ev
	cp.UserID = userID
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now()
	}
	if cp.IdempotencyKey == "" {
		cp.IdempotencyKey = events.ContentHash(&cp)
	}

	// Append is idempotent by key, so the write can be retried.
	err = s.call(ctx, CollaboratorEventStore, s.cfg.WritePolicy, func(ctx context.Context) error {
		var err error
		id, err = s.events.Append(ctx, &cp)
		if errors.Is(err, events.ErrInvalidEvent) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, events.ErrInvalidEvent) {
		return "", s.stageErr(StageValidate, userID, &ValidationError{Field: "event", Message: err.Error()})
	}
	if err != nil {
		return "", s.stageErr(StagePersistSnapshot, userID, err)
	}
	return id, nil
}

// Users lists every user with recorded events.
func (s *Service) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := s.read(ctx, CollaboratorEventStore, func(ctx context.Context) error {
		var err error
		users, err = s.events.Users(ctx)
		return err
	})
	return users, err
}

// RefreshIfStale recomputes the user's analysis when it is missing or older
// than the staleness window. It reports whether a recompute ran.
func (s *Service) RefreshIfStale(ctx context.Context, userID string) (refreshed bool, err error) {
	ctx, done := s.begin(ctx, opRefresh, userID)
	defer func() { done(err) }()

	userID, err = s.checkUserID(userID)
	if err != nil {
		return false, err
	}
	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return false, err
	}
	defer unlock()

	current, _, err := s.latestAnalysis(ctx, userID)
	if err != nil {
		return false, err
	}
	if current != nil && s.now().Sub(current.ComputedAt) <= s.cfg.StalenessWindow {
		return false, nil
	}
	if _, err := s.analyzeLocked(ctx, userID); err != nil {
		return false, err
	}
	return true, nil
}

// analyzeLocked runs a full recompute. Caller holds the user lock.
func (s *Service) analyzeLocked(ctx context.Context, userID string) (*behavior.Analysis, error) {
	history, err := s.readHistory(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}

	latest, err := s.latestSnapshot(ctx, userID, snapshot.KindBehaviorAnalysis, StagePersistSnapshot)
	if err != nil {
		return nil, err
	}
	takenAt := snapshot.NextTakenAt(latest, s.now())
	analysis := s.analyzer.Analyze(userID, history, takenAt)

	if err := s.persist(ctx, userID, snapshot.KindBehaviorAnalysis, takenAt, analysis); err != nil {
		return nil, err
	}
	s.logger.Debug("behavior analyzed",
		"user_id", userID,
		"pattern", analysis.DominantPattern,
		"samples", analysis.Profile.SampleCount)
	return analysis, nil
}

// assessLocked refreshes a stale analysis if needed, then assesses.
// Caller holds the user lock.
func (s *Service) assessLocked(ctx context.Context, userID string) (*risk.Assessment, error) {
	analysis, _, err := s.latestAnalysis(ctx, userID)
	if err != nil {
		return nil, err
	}
	if analysis == nil || s.now().Sub(analysis.ComputedAt) > s.cfg.StalenessWindow {
		if analysis, err = s.analyzeLocked(ctx, userID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	recent, err := s.readHistory(ctx, userID, now.Add(-s.cfg.RiskWindow))
	if err != nil {
		return nil, err
	}

	latest, err := s.latestSnapshot(ctx, userID, snapshot.KindRiskAssessment, StagePersistSnapshot)
	if err != nil {
		return nil, err
	}
	takenAt := snapshot.NextTakenAt(latest, now)
	assessment := s.assessor.Assess(userID, analysis.Profile, recent, takenAt)

	if err := s.persist(ctx, userID, snapshot.KindRiskAssessment, takenAt, assessment); err != nil {
		return nil, err
	}
	return assessment, nil
}

// refreshAssessment takes the user lock and re-checks before assessing, so
// concurrent readers do not assess twice.
func (s *Service) refreshAssessment(ctx context.Context, userID string) (*risk.Assessment, error) {
	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	analysis, _, err := s.latestAnalysis(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, _, err := s.latestAssessment(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current != nil && analysis != nil && !current.LastAssessed.Before(analysis.ComputedAt) {
		return current, nil
	}
	return s.assessLocked(ctx, userID)
}

func (s *Service) latestAnalysis(ctx context.Context, userID string) (*behavior.Analysis, *snapshot.Snapshot, error) {
	snap, err := s.latestSnapshot(ctx, userID, snapshot.KindBehaviorAnalysis, StageReadHistory)
	if err != nil || snap == nil {
		return nil, snap, err
	}
	var a behavior.Analysis
	if err := snap.Decode(&a); err != nil {
		return nil, nil, s.stageErr(StageReadHistory, userID, err)
	}
	if a.Profile == nil {
		a.Profile = behavior.NewProfile()
	}
	return &a, snap, nil
}

func (s *Service) latestAssessment(ctx context.Context, userID string) (*risk.Assessment, *snapshot.Snapshot, error) {
	snap, err := s.latestSnapshot(ctx, userID, snapshot.KindRiskAssessment, StageReadHistory)
	if err != nil || snap == nil {
		return nil, snap, err
	}
	var a risk.Assessment
	if err := snap.Decode(&a); err != nil {
		return nil, nil, s.stageErr(StageReadHistory, userID, err)
	}
	return &a, snap, nil
}

func (s *Service) latestSnapshot(ctx context.Context, userID string, kind snapshot.Kind, stage Stage) (*snapshot.Snapshot, error) {
	var snap *snapshot.Snapshot
	err := s.read(ctx, CollaboratorProfileStore, func(ctx context.Context) error {
		var err error
		snap, err = s.snapshots.Latest(ctx, userID, kind)
		return err
	})
	if err != nil {
		return nil, s.stageErr(stage, userID, err)
	}
	return snap, nil
}

func (s *Service) readHistory(ctx context.Context, userID string, since time.Time) ([]*events.Event, error) {
	var history []*events.Event
	err := s.read(ctx, CollaboratorEventStore, func(ctx context.Context) error {
		var err error
		history, err = s.events.List(ctx, userID, since)
		return err
	})
	if err != nil {
		return nil, s.stageErr(StageReadHistory, userID, err)
	}
	return history, nil
}

func (s *Service) persist(ctx context.Context, userID string, kind snapshot.Kind, takenAt time.Time, payload any) error {
	snap, err := snapshot.New(userID, kind, takenAt, payload)
	if err != nil {
		return s.stageErr(StagePersistSnapshot, userID, err)
	}
	// Put is idempotent by snapshot ID, so the write can be retried.
	err = s.call(ctx, CollaboratorProfileStore, s.cfg.WritePolicy, func(ctx context.Context) error {
		return permanentIfOutOfOrder(s.snapshots.Put(ctx, snap))
	})
	if err != nil {
		return s.stageErr(StagePersistSnapshot, userID, err)
	}
	return nil
}

// commitIncident persists the incident and its snapshot atomically when the
// backend supports it; otherwise appends then puts, retrying the pair. Both
// writes are idempotent, so a retry after a partial failure converges.
func (s *Service) commitIncident(ctx context.Context, incident *events.Event, snap *snapshot.Snapshot) error {
	if s.committer != nil {
		return s.call(ctx, CollaboratorProfileStore, s.cfg.WritePolicy, func(ctx context.Context) error {
			return permanentIfOutOfOrder(s.committer.CommitIncident(ctx, incident, snap))
		})
	}

	once := retry.Policy{Attempts: 1}
	return s.cfg.WritePolicy.Do(ctx, func(ctx context.Context) error {
		err := s.call(ctx, CollaboratorEventStore, once, func(ctx context.Context) error {
			_, err := s.events.Append(ctx, incident)
			return err
		})
		if err == nil {
			err = s.call(ctx, CollaboratorProfileStore, once, func(ctx context.Context) error {
				return s.snapshots.Put(ctx, snap)
			})
		}
		if errors.Is(err, circuitbreaker.ErrOpen) || isCallerError(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (s *Service) read(ctx context.Context, collaborator string, fn func(ctx context.Context) error) error {
	return s.call(ctx, collaborator, s.cfg.ReadPolicy, fn)
}

// call runs fn against a collaborator with the per-call timeout, the
// circuit breaker and the given retry policy. Failures come back as
// *CollaboratorError.
func (s *Service) call(ctx context.Context, collaborator string, policy retry.Policy, fn func(ctx context.Context) error) error {
	err := policy.Do(ctx, func(ctx context.Context) error {
		err := s.breaker.Execute(collaborator, isCallerError, func() error {
			cctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
			defer cancel()
			return fn(cctx)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	})
	if err == nil || isCallerError(err) {
		return err
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &CollaboratorError{Collaborator: collaborator, Err: err}
}

// isCallerError reports errors that say nothing about collaborator health.
func isCallerError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, events.ErrInvalidEvent) ||
		errors.Is(err, snapshot.ErrOutOfOrder)
}

func permanentIfOutOfOrder(err error) error {
	if errors.Is(err, snapshot.ErrOutOfOrder) {
		return retry.Permanent(err)
	}
	return err
}

func (s *Service) checkUserID(userID string) (string, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return "", s.stageErr(StageValidate, userID, &ValidationError{Field: "userId", Message: "is required"})
	}
	if !validation.IsValidUserID(id) {
		return "", s.stageErr(StageValidate, userID, &ValidationError{Field: "userId", Message: "must be a valid user id"})
	}
	return id, nil
}

func (s *Service) lock(ctx context.Context, userID string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()
	unlock, err := s.locks.LockContext(lctx, userID)
	if err != nil {
		// Lock wait happens before any history is read.
		return nil, s.stageErr(StageReadHistory, userID, err)
	}
	return unlock, nil
}

func (s *Service) stageErr(stage Stage, userID string, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, UserID: userID, Err: err}
}
