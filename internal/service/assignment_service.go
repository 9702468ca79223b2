package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coursely/coursely-backend/internal/config"
	"github.com/coursely/coursely-backend/internal/model"
	"github.com/coursely/coursely-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrAssignmentNotFound indicates the assignment definition does not exist.
var ErrAssignmentNotFound = errors.New("assignment not found")

// AssignmentService serves assignment payloads to students through a redis
// cache so that a cohort starting a timed assignment at the same moment does
// not fan out into a thundering herd of identical definition queries.
type AssignmentService struct {
	assignRepo *repository.AssignmentRepository
	courses    CourseStore
	rdb        *redis.Client
	log        zerolog.Logger
}

// NewAssignmentService creates a new AssignmentService.
func NewAssignmentService(assignRepo *repository.AssignmentRepository, courses CourseStore, rdb *redis.Client, log zerolog.Logger) *AssignmentService {
	return &AssignmentService{
		assignRepo: assignRepo,
		courses:    courses,
		rdb:        rdb,
		log:        log.With().Str("component", "assignment_service").Logger(),
	}
}

// GetForStudent returns the assignment payload for an enrolled student.
func (s *AssignmentService) GetForStudent(ctx context.Context, studentID int, assignmentID uuid.UUID) (*model.AssignmentPayload, error) {
	payload, err := s.GetPayload(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	enrolled, err := s.courses.IsEnrolled(ctx, payload.CourseID, studentID)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return nil, ErrNotEnrolled
	}
	return payload, nil
}

// GetPayload fetches the assignment payload, preferring the redis cache and
// repopulating it on a miss.
func (s *AssignmentService) GetPayload(ctx context.Context, assignmentID uuid.UUID) (*model.AssignmentPayload, error) {
	cacheKey := config.CacheKey.AssignmentPayloadKey(assignmentID.String())

	cached, err := s.rdb.Get(ctx, cacheKey).Result()
	if err == nil {
		payload := &model.AssignmentPayload{}
		if err := json.Unmarshal([]byte(cached), payload); err == nil {
			return payload, nil
		}
		s.log.Warn().Str("assignment_id", assignmentID.String()).Msg("Corrupt cached payload, rebuilding")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("Payload cache read failed, falling back to database")
	}

	return s.WarmCache(ctx, assignmentID)
}

// WarmCache builds an assignment's payload from the database and stores it in
// redis. The cache has no TTL; definitions are immutable once published.
func (s *AssignmentService) WarmCache(ctx context.Context, assignmentID uuid.UUID) (*model.AssignmentPayload, error) {
	assignment, err := s.assignRepo.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("fetch assignment: %w", err)
	}

	questions, err := s.assignRepo.ListQuestions(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}

	payload := &model.AssignmentPayload{
		Assignment: *assignment,
		Questions:  questions,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.AssignmentPayloadKey(assignmentID.String()), raw, 0).Err(); err != nil {
		// Serve from the database copy; the next request retries the cache.
		s.log.Warn().Err(err).Str("assignment_id", assignmentID.String()).Msg("Payload cache write failed")
	}

	return payload, nil
}

// PrewarmAllCaches loads every assignment payload into redis at startup.
func (s *AssignmentService) PrewarmAllCaches(ctx context.Context) error {
	assignments, err := s.assignRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}

	for _, a := range assignments {
		if _, err := s.WarmCache(ctx, a.ID); err != nil {
			s.log.Error().Err(err).Str("assignment_id", a.ID.String()).Msg("Prewarm failed")
			continue
		}
	}

	s.log.Info().Int("count", len(assignments)).Msg("Assignment payload caches prewarmed")
	return nil
}
