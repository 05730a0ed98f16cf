package usecase

import (
	"context"
	"log"
	"sync"
	"time"
)

// VectorizeJob asks the worker pool to retry pending vectorization for one
// user.
type VectorizeJob struct {
	UserID string
	Limit  int
}

// VectorizeWorkerService drains the backlog of indexed emails whose
// embedding step failed during sync. Jobs are idempotent: retrying a user
// with no pending rows is a no-op.
type VectorizeWorkerService struct {
	syncUsecase EmailSyncUsecase
	jobQueue    chan VectorizeJob
	workerWg    sync.WaitGroup
	workerCount int
	started     bool
	mu          sync.Mutex
}

// NewVectorizeWorkerService creates a new vectorize worker service
func NewVectorizeWorkerService(workerCount int) *VectorizeWorkerService {
	if workerCount <= 0 {
		workerCount = 3 // Default to 3 workers
	}

	return &VectorizeWorkerService{
		jobQueue:    make(chan VectorizeJob, 500), // Buffered channel
		workerCount: workerCount,
	}
}

// SetSyncUsecase wires the sync usecase after construction; the two depend
// on each other at startup.
func (s *VectorizeWorkerService) SetSyncUsecase(uc EmailSyncUsecase) {
	s.syncUsecase = uc
}

// Start starts the vectorize workers
func (s *VectorizeWorkerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	for i := 0; i < s.workerCount; i++ {
		s.workerWg.Add(1)
		go s.worker(i)
	}
	s.started = true
	log.Printf("[VectorizeWorker] Started %d workers", s.workerCount)
}

// Stop stops all workers gracefully
func (s *VectorizeWorkerService) Stop() {
	close(s.jobQueue)
	s.workerWg.Wait()
	log.Println("[VectorizeWorker] All workers stopped")
}

// worker processes vectorize jobs from the queue
func (s *VectorizeWorkerService) worker(id int) {
	defer s.workerWg.Done()

	for job := range s.jobQueue {
		s.processJob(job)
	}

	log.Printf("[VectorizeWorker] Worker %d stopped", id)
}

func (s *VectorizeWorkerService) processJob(job VectorizeJob) {
	if s.syncUsecase == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	count, err := s.syncUsecase.RetryPending(ctx, job.UserID, job.Limit)
	if err != nil {
		log.Printf("[VectorizeWorker] Retry failed for user %s: %v", job.UserID, err)
		return
	}
	if count > 0 {
		log.Printf("[VectorizeWorker] Vectorized %d pending emails for user %s", count, job.UserID)
	}
}

// QueueJob adds a single job to the queue (non-blocking)
func (s *VectorizeWorkerService) QueueJob(job VectorizeJob) bool {
	select {
	case s.jobQueue <- job:
		return true
	default:
		return false // Queue full
	}
}
