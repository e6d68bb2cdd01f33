package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/apex/log"

	"safety-service/cache"
	"safety-service/config"
	"safety-service/database"
	"safety-service/dispatch"
	"safety-service/geo"
	"safety-service/metrics"
	"safety-service/models"
	"safety-service/scoring"
	"safety-service/tracker"
	"safety-service/websocket"
	"safety-service/zoneindex"
)

const indexRetryBackoff = 200 * time.Millisecond

// FixResult is what the ingestion boundary reports back to the mobile
// client for an accepted fix.
type FixResult struct {
	Entered []uint64
	Exited  []uint64
	Score   int
}

type laneJob struct {
	fix   *models.LocationFix
	reply chan laneReply
}

type laneReply struct {
	result *FixResult
	err    error
}

// Service runs the geofence evaluation pipeline: worker lanes keyed by
// tourist id for per-tourist ordering, a copy-on-write zone index, and
// the background maintenance loops.
type Service struct {
	cfg        *config.Config
	db         *database.Service
	index      *zoneindex.Store
	tracker    *tracker.Tracker
	scorer     *scoring.Scorer
	dispatcher *dispatch.Dispatcher
	hub        *websocket.Hub
	scores     *cache.ScoreCache

	lanes    []chan laneJob
	stopChan chan struct{}
	stopOnce sync.Once
	stopMu   sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
}

func NewService(cfg *config.Config, db *database.Service, hub *websocket.Hub,
	scores *cache.ScoreCache, sinks ...dispatch.AlertSink) (*Service, error) {

	scorer, err := scoring.NewScorer(scoring.Weights{
		LocationRisk:   cfg.WeightLocationRisk,
		Weather:        cfg.WeightWeather,
		GroupSize:      cfg.WeightGroupSize,
		TimeOfDay:      cfg.WeightTimeOfDay,
		RouteDeviation: cfg.WeightRouteDeviation,
	}, cfg.MaxScoreStep)
	if err != nil {
		return nil, fmt.Errorf("invalid scoring configuration: %w", err)
	}

	allSinks := append([]dispatch.AlertSink{hub}, sinks...)

	svc := &Service{
		cfg:        cfg,
		db:         db,
		index:      zoneindex.NewStore(),
		tracker:    tracker.New(),
		scorer:     scorer,
		dispatcher: dispatch.New(db, cfg.AlertRiskThreshold, allSinks...),
		hub:        hub,
		scores:     scores,
		stopChan:   make(chan struct{}),
	}

	svc.lanes = make([]chan laneJob, cfg.WorkerLanes)
	for i := range svc.lanes {
		svc.lanes[i] = make(chan laneJob, cfg.LaneBuffer)
	}
	return svc, nil
}

// Start seeds detector state, publishes the first index snapshot and
// launches the lanes and maintenance loops.
func (s *Service) Start(ctx context.Context) error {
	log.Info("Starting the safety pipeline...")

	sets, times, err := s.db.LoadMemberships(ctx)
	if err != nil {
		return fmt.Errorf("restoring membership state: %w", err)
	}
	for touristId, zoneIds := range sets {
		s.tracker.Restore(touristId, times[touristId], zoneIds)
	}
	log.Infof("Restored membership state for %d tourists", len(sets))

	if err := s.ReloadZones(ctx); err != nil {
		return fmt.Errorf("building initial zone index: %w", err)
	}

	go s.hub.Run()

	for i, lane := range s.lanes {
		s.wg.Add(1)
		go s.runLane(i, lane)
	}

	s.wg.Add(3)
	go s.zoneReloadLoop()
	go s.retentionLoop()
	go s.alertAgingLoop()

	log.Info("Safety pipeline started successfully")
	return nil
}

// Stop drains the lanes; an in-flight fix completes rather than being
// aborted mid-update. Queued submissions finish before the lanes exit.
func (s *Service) Stop() error {
	log.Info("Stopping the safety pipeline...")
	s.stopOnce.Do(func() {
		// The write lock waits out any submission currently enqueueing,
		// and the flag turns away later ones, so closing the lanes below
		// can never race a send.
		s.stopMu.Lock()
		s.stopped = true
		s.stopMu.Unlock()

		close(s.stopChan)
		for _, lane := range s.lanes {
			close(lane)
		}
	})
	s.wg.Wait()
	log.Info("Safety pipeline stopped")
	return nil
}

// ReloadZones publishes a fresh index snapshot from the zone table.
// Zone CRUD handlers call it so new geofences take effect immediately.
func (s *Service) ReloadZones(ctx context.Context) error {
	zones, err := s.db.GetZones(ctx, true)
	if err != nil {
		return err
	}
	s.index.Publish(zones)
	metrics.IndexZones.Set(float64(len(zones)))
	return nil
}

// SubmitFix routes the fix to its tourist's lane and waits for the
// outcome, so the caller can acknowledge or reject it. Fixes for the
// same tourist serialize on one lane; different tourists run in
// parallel.
func (s *Service) SubmitFix(ctx context.Context, fix *models.LocationFix) (*FixResult, error) {
	lane := s.laneFor(fix.TouristId)
	job := laneJob{fix: fix, reply: make(chan laneReply, 1)}

	// Enqueue under the read lock so Stop cannot close the lane while
	// a send is in flight.
	s.stopMu.RLock()
	if s.stopped {
		s.stopMu.RUnlock()
		return nil, fmt.Errorf("service is shutting down")
	}
	select {
	case <-ctx.Done():
		s.stopMu.RUnlock()
		return nil, ctx.Err()
	case s.lanes[lane] <- job:
		s.stopMu.RUnlock()
	}

	select {
	case reply := <-job.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		// The lane will still finish the fix; only the caller gave up.
		return nil, ctx.Err()
	}
}

func (s *Service) laneFor(touristId string) int {
	h := fnv.New32a()
	h.Write([]byte(touristId))
	return int(h.Sum32()) % len(s.lanes)
}

func (s *Service) runLane(id int, jobs chan laneJob) {
	defer s.wg.Done()
	gauge := metrics.LaneDepth.WithLabelValues(strconv.Itoa(id))
	for job := range jobs {
		gauge.Set(float64(len(jobs)))
		start := time.Now()
		result, err := s.processFix(context.Background(), job.fix)
		outcome := "ok"
		if err != nil {
			outcome = outcomeLabel(err)
		}
		metrics.FixesProcessedTotal.WithLabelValues(outcome).Inc()
		metrics.ProcessingDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		job.reply <- laneReply{result: result, err: err}
	}
	gauge.Set(0)
}

// processFix runs one fix through the whole pipeline. Geometry and
// diffing are pure in-memory computation; only persistence and alert
// emission touch I/O.
func (s *Service) processFix(ctx context.Context, fix *models.LocationFix) (*FixResult, error) {
	tourist, err := s.db.GetTourist(ctx, fix.TouristId)
	if err != nil {
		return nil, err
	}
	if !tourist.Active {
		return nil, fmt.Errorf("%w: %s is deactivated", models.ErrMissingTourist, fix.TouristId)
	}

	snap, err := s.snapshotWithRetry()
	if err != nil {
		return nil, err
	}

	candidates := snap.QueryCandidates(fix.Latitude, fix.Longitude, s.cfg.CandidateRadiusM, fix.Timestamp)

	currentSet := make(map[uint64]bool, len(candidates))
	maxRisk := 0
	for _, zone := range candidates {
		inside, err := geo.Contains(zone, fix.Latitude, fix.Longitude)
		if err != nil {
			// A missed alert beats a crashed pipeline, but the operator
			// has to hear about it.
			log.Errorf("Containment test failed for zone %d: %v", zone.Id, err)
			continue
		}
		if inside {
			currentSet[zone.Id] = true
			if zone.RiskLevel > maxRisk {
				maxRisk = zone.RiskLevel
			}
		}
	}

	entered, exited, err := s.tracker.Apply(fix.TouristId, fix.Timestamp, currentSet)
	if err != nil {
		log.Warnf("Rejected fix for tourist %s: %v", fix.TouristId, err)
		return nil, err
	}

	if err := s.db.SaveFix(ctx, fix); err != nil {
		return nil, fmt.Errorf("persisting fix: %w", err)
	}
	memberIds := make([]uint64, 0, len(currentSet))
	for id := range currentSet {
		memberIds = append(memberIds, id)
	}
	if err := s.db.ReplaceMembership(ctx, fix.TouristId, memberIds, fix.Timestamp); err != nil {
		return nil, fmt.Errorf("persisting membership: %w", err)
	}

	newScore, err := s.updateScore(ctx, fix, maxRisk)
	if err != nil {
		return nil, err
	}

	// Tombstone check: a deactivation racing this fix suppresses
	// alerts, but the state update above stays consistent.
	if tourist, err := s.db.GetTourist(ctx, fix.TouristId); err != nil || !tourist.Active {
		log.Infof("Tourist %s deactivated mid-flight, suppressing alerts", fix.TouristId)
		return &FixResult{Entered: entered, Exited: exited, Score: newScore}, nil
	}

	s.emitTransitions(ctx, fix, snap, entered, models.TransitionEntered)
	s.emitTransitions(ctx, fix, snap, exited, models.TransitionExited)

	return &FixResult{Entered: entered, Exited: exited, Score: newScore}, nil
}

func (s *Service) emitTransitions(ctx context.Context, fix *models.LocationFix,
	snap *zoneindex.Snapshot, zoneIds []uint64, transition models.TransitionType) {

	for _, zoneId := range zoneIds {
		metrics.TransitionsTotal.WithLabelValues(string(transition)).Inc()
		zone := snap.Zone(zoneId)
		if zone == nil {
			// The zone left the index between membership and emission.
			log.Warnf("Zone %d missing from snapshot during %s emission", zoneId, transition)
			continue
		}
		alert, err := s.dispatcher.Dispatch(ctx, &models.TransitionEvent{
			TouristId:  fix.TouristId,
			Zone:       zone,
			Transition: transition,
			Latitude:   fix.Latitude,
			Longitude:  fix.Longitude,
			Timestamp:  fix.Timestamp,
		})
		if err != nil {
			log.Errorf("Dispatch for tourist %s zone %d failed: %v", fix.TouristId, zoneId, err)
			continue
		}
		if alert != nil {
			metrics.AlertsEmittedTotal.WithLabelValues(string(alert.Severity)).Inc()
		}
	}
}

func (s *Service) updateScore(ctx context.Context, fix *models.LocationFix, maxRisk int) (int, error) {
	current, err := s.db.GetScore(ctx, fix.TouristId)
	if err != nil {
		return 0, fmt.Errorf("reading score: %w", err)
	}
	newScore := s.scorer.Update(current.Score, scoring.Signals{
		ZoneRisk: maxRisk,
		Hour:     fix.Timestamp.UTC().Hour(),
	})
	if newScore != current.Score {
		if err := s.db.UpsertScore(ctx, fix.TouristId, newScore); err != nil {
			return 0, fmt.Errorf("persisting score: %w", err)
		}
		s.scores.Invalidate(ctx, fix.TouristId)
	}
	return newScore, nil
}

// snapshotWithRetry waits out a not-yet-built index with backoff
// instead of dropping the fix.
func (s *Service) snapshotWithRetry() (*zoneindex.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		snap, err := s.index.Snapshot()
		if err == nil {
			return snap, nil
		}
		lastErr = err
		select {
		case <-s.stopChan:
			return nil, lastErr
		case <-time.After(indexRetryBackoff << attempt):
		}
	}
	return nil, lastErr
}

// DeactivateTourist tombstones the tourist and drops the lane state.
func (s *Service) DeactivateTourist(ctx context.Context, touristId string) error {
	if err := s.db.DeactivateTourist(ctx, touristId); err != nil {
		return err
	}
	s.tracker.Forget(touristId)
	s.scores.Invalidate(ctx, touristId)
	return nil
}

func (s *Service) zoneReloadLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ZoneReloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.ReloadZones(context.Background()); err != nil {
				log.Errorf("Periodic zone reload failed: %v", err)
			}
		}
	}
}

func (s *Service) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.cfg.FixRetention)
			n, err := s.db.PurgeOldFixes(context.Background(), cutoff)
			if err != nil {
				log.Errorf("Fix retention purge failed: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("Purged %d location fixes older than %s", n, cutoff.Format(time.RFC3339))
			}
		}
	}
}

func (s *Service) alertAgingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			n, err := s.db.ResolveStaleAlerts(context.Background(), s.cfg.AlertMaxAge)
			if err != nil {
				log.Errorf("Stale alert resolution failed: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("Auto-resolved %d stale alerts", n)
			}
		}
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, models.ErrStaleFix):
		return "stale"
	case errors.Is(err, models.ErrMissingTourist):
		return "missing_tourist"
	case errors.Is(err, models.ErrIndexUnavailable):
		return "index_unavailable"
	default:
		return "error"
	}
}
