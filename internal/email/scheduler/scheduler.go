package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	authrepo "mailrecall-backend/internal/auth/repository"
	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/internal/email/usecase"
)

// SyncScheduler periodically runs a sync for every user with a connected
// mailbox, then queues pending-vectorization retries.
type SyncScheduler struct {
	syncUsecase     usecase.EmailSyncUsecase
	vectorizeWorker *usecase.VectorizeWorkerService
	userRepo        authrepo.UserRepository
	interval        time.Duration
	stopChan        chan struct{}
}

// NewSyncScheduler creates a new scheduler
func NewSyncScheduler(
	syncUsecase usecase.EmailSyncUsecase,
	vectorizeWorker *usecase.VectorizeWorkerService,
	userRepo authrepo.UserRepository,
	interval time.Duration,
) *SyncScheduler {
	return &SyncScheduler{
		syncUsecase:     syncUsecase,
		vectorizeWorker: vectorizeWorker,
		userRepo:        userRepo,
		interval:        interval,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *SyncScheduler) Start() {
	if s.interval <= 0 {
		log.Println("[SyncScheduler] Interval not set, scheduler disabled")
		return
	}

	log.Printf("[SyncScheduler] Starting periodic sync (interval: %s)", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runAll()
			case <-s.stopChan:
				log.Println("[SyncScheduler] Scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler
func (s *SyncScheduler) Stop() {
	close(s.stopChan)
}

// runAll syncs every user with a connected mailbox, sequentially. Users are
// independent; one failing sync never blocks the rest.
func (s *SyncScheduler) runAll() {
	users, err := s.userRepo.ListWithMailbox()
	if err != nil {
		log.Printf("[SyncScheduler] Error listing users: %v", err)
		return
	}
	if len(users) == 0 {
		return
	}

	for _, user := range users {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		summary, err := s.syncUsecase.SyncUser(ctx, user.ID)
		cancel()

		if err != nil {
			if errors.Is(err, emaildomain.ErrSyncInProgress) {
				continue // manual sync running, skip this round
			}
			log.Printf("[SyncScheduler] Sync failed for user %s: %v", user.ID, err)
			continue
		}

		if summary.Processed > 0 || summary.Failed > 0 {
			log.Printf("[SyncScheduler] User %s: processed=%d filtered=%d skipped=%d failed=%d",
				user.ID, summary.Processed, summary.Filtered, summary.Skipped, summary.Failed)
		}

		if s.vectorizeWorker != nil {
			s.vectorizeWorker.QueueJob(usecase.VectorizeJob{UserID: user.ID, Limit: 50})
		}
	}
}
