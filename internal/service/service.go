// Package service implements the run server: idempotent run creation, the
// append-only record log of each run and run cancellation.
package service

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xiaot623/gogo/runstream/internal/config"
	"github.com/xiaot623/gogo/runstream/internal/hub"
	"github.com/xiaot623/gogo/runstream/internal/logging"
	"github.com/xiaot623/gogo/runstream/internal/policy"
	"github.com/xiaot623/gogo/runstream/internal/repository"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalid       = errors.New("invalid request")
	ErrPolicyBlocked = errors.New("blocked by policy")
	ErrRunFinished   = errors.New("run already finished")
)

type Service struct {
	store        repository.Store
	policyEngine *policy.Engine
	hub          *hub.Hub
	config       *config.Config
	logger       logging.Logger

	// idempotency key -> run id
	keys *lru.Cache[string, string]

	// appendMu serializes appends so status checks and cursor assignment agree.
	appendMu sync.Mutex
}

func New(store repository.Store, policyEngine *policy.Engine, h *hub.Hub, cfg *config.Config, logger logging.Logger) (*Service, error) {
	size := cfg.IdempotencyCacheSize
	if size <= 0 {
		size = 1024
	}
	keys, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create idempotency cache: %w", err)
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Service{
		store:        store,
		policyEngine: policyEngine,
		hub:          h,
		config:       cfg,
		logger:       logger,
		keys:         keys,
	}, nil
}

// Subscribe registers for wake-ups on new records of runID.
func (s *Service) Subscribe(runID string) *hub.Subscriber {
	return s.hub.Subscribe(runID)
}
