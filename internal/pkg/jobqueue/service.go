package jobqueue

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/voicegrid/transched/internal/pkg/persistence"
	"github.com/voicegrid/transched/internal/pkg/status"
	"github.com/pkg/errors"
)

// Store provides durable job rows access. The conditional update is the only
// concurrency primitive the service relies on
type Store interface {
	Insert(job *persistence.Job) error
	Get(id string) (*persistence.Job, error)
	Update(id string, patch map[string]interface{}) (bool, error)
	UpdateIfStatus(id string, st status.Status, patch map[string]interface{}) (bool, error)
	CountByStatus(st status.Status) (int, error)
	FindByFingerprint(fingerprint string, st status.Status) (*persistence.Job, error)
	OldestByStatus(st status.Status) (*persistence.Job, error)
	StaleProcessing(olderThan time.Time) (*persistence.Job, error)
	RecentCompleted(limit int) ([]persistence.Job, error)
	ListByOwner(ownerOrToken string, limit int) ([]persistence.Job, error)
}

// Sentinel errors exposed to callers
var (
	// ErrNoCapacity - the processing slot limit is reached
	ErrNoCapacity = errors.New("no free processing slots")
	// ErrMaxRetries - the job was already retried the maximum number of times
	ErrMaxRetries = errors.New("maximum retries reached")
	// ErrWrongStatus - the operation is not legal from the job's current status
	ErrWrongStatus = errors.New("wrong job status")
	// ErrNotFound value
	ErrNotFound = errors.New("job not found")
)

// CreateRequest describes the input of a new job
type CreateRequest struct {
	Source       string
	Fingerprint  string
	SizeBytes    int64
	OriginalName string
	OwnerID      string
	Params       persistence.Params
}

// Service is the admission and state-transition authority for jobs
type Service struct {
	store       Store
	maxActive   int
	maxRetries  int32
	staleAfter  time.Duration
	historySize int
	fallbackDur time.Duration

	now func() time.Time
}

// NewService creates the job queue service configured from the app config
func NewService(store Store) (*Service, error) {
	cmdapp.Config.SetDefault("queue.maxActive", 3)
	cmdapp.Config.SetDefault("queue.maxRetries", 3)
	cmdapp.Config.SetDefault("queue.staleAfter", "90s")
	cmdapp.Config.SetDefault("queue.historySize", 10)
	cmdapp.Config.SetDefault("queue.fallbackDuration", "600s")
	return newService(store, cmdapp.Config.GetInt("queue.maxActive"),
		int32(cmdapp.Config.GetInt("queue.maxRetries")),
		cmdapp.Config.GetDuration("queue.staleAfter"),
		cmdapp.Config.GetDuration("queue.fallbackDuration"),
		cmdapp.Config.GetInt("queue.historySize"))
}

func newService(store Store, maxActive int, maxRetries int32, staleAfter,
	fallbackDur time.Duration, historySize int) (*Service, error) {
	if store == nil {
		return nil, errors.New("No job store provided")
	}
	if maxActive < 1 {
		return nil, errors.New("Wrong or no queue.maxActive")
	}
	if maxRetries < 0 {
		return nil, errors.New("Wrong queue.maxRetries")
	}
	if staleAfter <= 0 {
		return nil, errors.New("Wrong or no queue.staleAfter")
	}
	if fallbackDur <= 0 {
		return nil, errors.New("Wrong or no queue.fallbackDuration")
	}
	if historySize < 1 {
		return nil, errors.New("Wrong or no queue.historySize")
	}
	return &Service{store: store, maxActive: maxActive, maxRetries: maxRetries,
		staleAfter: staleAfter, fallbackDur: fallbackDur, historySize: historySize,
		now: time.Now}, nil
}

// Create admits a new job. It fails with ErrNoCapacity when the processing
// limit is reached and returns the existing job unchanged when a completed one
// with the same fingerprint exists
func (s *Service) Create(req *CreateRequest) (*persistence.Job, error) {
	if req == nil || req.Source == "" {
		return nil, errors.New("No source provided")
	}
	if req.Fingerprint == "" {
		return nil, errors.New("No content fingerprint provided")
	}
	active, err := s.store.CountByStatus(status.Processing)
	if err != nil {
		return nil, errors.Wrap(err, "Can't count active jobs")
	}
	if active >= s.maxActive {
		return nil, errors.Wrapf(ErrNoCapacity, "%d jobs are processing", active)
	}
	existing, err := s.store.FindByFingerprint(req.Fingerprint, status.Completed)
	if err != nil {
		return nil, errors.Wrap(err, "Can't check for duplicates")
	}
	if existing != nil {
		cmdapp.Log.Infof("Returning completed job %s for fingerprint %s", existing.ID, req.Fingerprint)
		return existing, nil
	}
	job := s.newJob(req)
	if err := s.store.Insert(job); err != nil {
		return nil, errors.Wrap(err, "Can't insert job")
	}
	cmdapp.Log.Infof("Created job %s (%s, %d b)", job.ID, job.OriginalName, job.SizeBytes)
	return job, nil
}

func (s *Service) newJob(req *CreateRequest) *persistence.Job {
	return &persistence.Job{
		ID:              uuid.New().String(),
		AccessToken:     uuid.New().String(),
		OwnerID:         req.OwnerID,
		Source:          req.Source,
		Fingerprint:     req.Fingerprint,
		SizeBytes:       req.SizeBytes,
		OriginalName:    req.OriginalName,
		Params:          req.Params,
		Status:          status.Name(status.Pending),
		CreatedAt:       s.now(),
		EstimatedDurSec: s.EstimateDuration(req.SizeBytes).Seconds(),
	}
}

// ClaimNext atomically moves one pending job to processing.
// Returns nil when there is nothing to do
func (s *Service) ClaimNext() (*persistence.Job, error) {
	job, err := s.store.OldestByStatus(status.Pending)
	if err != nil {
		return nil, errors.Wrap(err, "Can't select pending job")
	}
	if job == nil {
		return nil, nil
	}
	now := s.now()
	ok, err := s.store.UpdateIfStatus(job.ID, status.Pending, map[string]interface{}{
		"status": status.Name(status.Processing), "startedAt": now, "lastSeen": now,
		"progress": int32(0), "stage": "", "message": "Started processing",
		"error": "", "errorCode": ""})
	if err != nil {
		return nil, errors.Wrap(err, "Can't claim job")
	}
	if !ok {
		return nil, errors.Errorf("job %s is no longer pending", job.ID)
	}
	job.Status = status.Name(status.Processing)
	job.StartedAt = &now
	job.LastSeen = &now
	job.Progress = 0
	job.Stage = ""
	job.Message = "Started processing"
	return job, nil
}

// UpdateProgress is a best-effort write, failures are logged and swallowed
func (s *Service) UpdateProgress(id string, percent int32, stage, message string) {
	ok, err := s.store.Update(id, map[string]interface{}{
		"progress": percent, "stage": stage, "message": message, "lastSeen": s.now()})
	cmdapp.LogIf(err)
	if err == nil && !ok {
		cmdapp.Log.Warnf("Progress update for unknown job %s", id)
	}
}

// UpdateHeartbeat is a best-effort liveness write, failures are logged and swallowed
func (s *Service) UpdateHeartbeat(id string) {
	_, err := s.store.Update(id, map[string]interface{}{"lastSeen": s.now()})
	cmdapp.LogIf(err)
}

// MarkCompleted finishes a job. A persistence failure is escalated to the caller
func (s *Service) MarkCompleted(id string, result *persistence.Result, artifacts map[string]string) error {
	return s.markTerminal(id, status.Completed, map[string]interface{}{
		"status": status.Name(status.Completed), "completedAt": s.now(),
		"progress": int32(100), "message": "Completed",
		"result": result, "artifacts": artifacts})
}

// MarkFailed fails a job. A persistence failure is escalated to the caller
func (s *Service) MarkFailed(id string, message, errorCode string) error {
	return s.markTerminal(id, status.Failed, map[string]interface{}{
		"status": status.Name(status.Failed), "failedAt": s.now(),
		"message": "Failed", "error": message, "errorCode": errorCode})
}

func (s *Service) markTerminal(id string, st status.Status, patch map[string]interface{}) error {
	op := func() error {
		ok, err := s.store.UpdateIfStatus(id, status.Processing, patch)
		if err != nil {
			return err
		}
		if !ok {
			job, err := s.store.Get(id)
			if err != nil {
				return err
			}
			if job != nil && job.Status == status.Name(st) {
				return nil // already marked, keep the call idempotent
			}
			return backoff.Permanent(errors.Wrapf(ErrWrongStatus, "job %s is not processing", id))
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	return errors.Wrapf(err, "Can't mark job %s as %s", id, status.Name(st))
}

// Cancel stops a job, legal only while it is still pending
func (s *Service) Cancel(id string) error {
	ok, err := s.store.UpdateIfStatus(id, status.Pending, map[string]interface{}{
		"status": status.Name(status.Cancelled), "cancelledAt": s.now(),
		"message": "Cancelled"})
	if err != nil {
		return errors.Wrap(err, "Can't cancel job")
	}
	if !ok {
		return errors.Wrapf(ErrWrongStatus, "job %s is not pending", id)
	}
	return nil
}

// Retry creates a brand-new job for a failed one, preserving the audit trail.
// Refused once the retry limit is reached
func (s *Service) Retry(id string) (*persistence.Job, error) {
	job, err := s.store.Get(id)
	if err != nil {
		return nil, errors.Wrap(err, "Can't get job")
	}
	if job == nil {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if job.Status != status.Name(status.Failed) {
		return nil, errors.Wrapf(ErrWrongStatus, "job %s is %s", id, job.Status)
	}
	if job.RetryCount >= s.maxRetries {
		return nil, errors.Wrapf(ErrMaxRetries, "job %s, retries %d", id, job.RetryCount)
	}
	newJob := s.newJob(&CreateRequest{Source: job.Source, Fingerprint: job.Fingerprint,
		SizeBytes: job.SizeBytes, OriginalName: job.OriginalName, OwnerID: job.OwnerID,
		Params: job.Params})
	newJob.RetryCount = job.RetryCount + 1
	newJob.RetryOf = job.ID
	if err := s.store.Insert(newJob); err != nil {
		return nil, errors.Wrap(err, "Can't insert retry job")
	}
	cmdapp.Log.Infof("Created retry job %s of %s (attempt %d)", newJob.ID, job.ID, newJob.RetryCount)
	return newJob, nil
}

// RecoverStale resets at most one silent processing job back to pending.
// Returns the recovered job ID or empty string
func (s *Service) RecoverStale() (string, error) {
	job, err := s.store.StaleProcessing(s.now().Add(-s.staleAfter))
	if err != nil {
		return "", errors.Wrap(err, "Can't select stale job")
	}
	if job == nil {
		return "", nil
	}
	ok, err := s.store.UpdateIfStatus(job.ID, status.Processing, map[string]interface{}{
		"status": status.Name(status.Pending), "progress": int32(0), "stage": "",
		"message": "Recovered after worker failure"})
	if err != nil {
		return "", errors.Wrap(err, "Can't recover job")
	}
	if !ok {
		// the job moved on by itself, nothing to recover
		return "", nil
	}
	cmdapp.Log.Warnf("Recovered stale job %s", job.ID)
	return job.ID, nil
}

// EstimateDuration predicts processing wall time from the trailing history of
// completed jobs, falling back to a conservative constant
func (s *Service) EstimateDuration(sizeBytes int64) time.Duration {
	if sizeBytes <= 0 {
		return s.fallbackDur
	}
	jobs, err := s.store.RecentCompleted(s.historySize)
	if err != nil {
		cmdapp.LogIf(err)
		return s.fallbackDur
	}
	var secPerByte float64
	var samples int
	for _, j := range jobs {
		if j.StartedAt == nil || j.CompletedAt == nil || j.SizeBytes <= 0 {
			continue
		}
		elapsed := j.CompletedAt.Sub(*j.StartedAt).Seconds()
		if elapsed <= 0 {
			continue
		}
		secPerByte += elapsed / float64(j.SizeBytes)
		samples++
	}
	if samples == 0 {
		return s.fallbackDur
	}
	est := secPerByte / float64(samples) * float64(sizeBytes)
	return time.Duration(est * float64(time.Second)).Round(time.Second)
}

// Get returns a job by ID
func (s *Service) Get(id string) (*persistence.Job, error) {
	job, err := s.store.Get(id)
	if err != nil {
		return nil, errors.Wrap(err, "Can't get job")
	}
	if job == nil {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return job, nil
}

// List returns jobs of an owner or jobs visible to an access token
func (s *Service) List(ownerOrToken string, limit int) ([]persistence.Job, error) {
	if ownerOrToken == "" {
		return nil, errors.New("No owner or token provided")
	}
	return s.store.ListByOwner(ownerOrToken, limit)
}
