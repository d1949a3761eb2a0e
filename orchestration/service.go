// Package orchestration wires the delegation core together and exposes its
// outward surface.
//
// Information Hiding:
// - Component wiring (ledger, executor, tool registry, broadcaster)
// - Fire-and-forget goroutine management
// - Reaper scheduling
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weavehq/weave/agent"
	"github.com/weavehq/weave/broadcast"
	"github.com/weavehq/weave/capsule"
	"github.com/weavehq/weave/config"
	"github.com/weavehq/weave/ledger"
	"github.com/weavehq/weave/llm"
	"github.com/weavehq/weave/model"
	"github.com/weavehq/weave/storage"
	"github.com/weavehq/weave/tools"
)

// Store is the combined persistence surface the service needs.
type Store interface {
	storage.DelegationStore
	storage.GraphStore
}

// Options configures a Service. Client and Store are required.
type Options struct {
	Client *llm.Client
	Store  Store
	// Workflows defaults to the built-in registry.
	Workflows *config.WorkflowRegistry
	// Notifier receives ledger create/update notifications; nil discards
	// them.
	Notifier ledger.Notifier
	// UsageSink receives per-run token spend; nil discards it.
	UsageSink agent.UsageSink
	// SearchEndpoint overrides the web search endpoint.
	SearchEndpoint string
	Logger         *zap.Logger
}

// Spec describes a delegation to create.
type Spec struct {
	Task            string
	Context         []string
	ExpectedOutcome string
	AgentType       model.AgentType
	WorkflowKey     string
	Focus           capsule.FocusState
}

// Service is the delegation core's outward surface: create work, execute it
// in the background, observe it, and keep the ledger honest.
type Service struct {
	ledger      *ledger.Ledger
	broadcaster *broadcast.Broadcaster
	executor    *agent.Executor
	registry    *tools.Registry
	workflows   *config.WorkflowRegistry
	logger      *zap.Logger

	wg sync.WaitGroup
}

// New wires a service from its options.
func New(opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("options: Client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("options: Store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workflows := opts.Workflows
	if workflows == nil {
		workflows = config.NewWorkflowRegistry()
	}

	s := &Service{
		broadcaster: broadcast.New(logger.Named("broadcast")),
		workflows:   workflows,
		logger:      logger,
	}
	s.ledger = ledger.New(opts.Store, opts.Notifier, logger.Named("ledger"))

	registry := tools.NewRegistry()
	for _, tool := range []tools.Tool{
		tools.NewPlanTool(),
		tools.NewDelegateTool(s.runSubDelegation),
		tools.NewCreateEntityTool(opts.Store),
		tools.NewUpdateEntityTool(opts.Store),
		tools.NewCreateEdgeTool(opts.Store),
		tools.NewGetEntityTool(opts.Store),
		tools.NewGetChunksTool(opts.Store, 20),
		tools.NewWebSearchTool(opts.SearchEndpoint, 30),
		tools.NewSemanticSearchTool(opts.Store, 10),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("failed to build tool registry: %w", err)
		}
	}
	s.registry = registry

	s.executor = agent.NewExecutor(agent.Deps{
		Client:      opts.Client,
		Tools:       registry.Set(),
		Ledger:      s.ledger,
		Broadcaster: s.broadcaster,
		Capsules:    capsule.NewBuilder(opts.Store, logger.Named("capsule")),
		Workflows:   workflows,
		UsageSink:   opts.UsageSink,
		Logger:      logger.Named("executor"),
	})

	return s, nil
}

// CreateDelegation records a new queued delegation and returns it.
func (s *Service) CreateDelegation(ctx context.Context, spec Spec) (*model.Delegation, error) {
	agentType := spec.AgentType
	if agentType == "" {
		if wf, ok := s.workflows.Get(spec.WorkflowKey); ok {
			agentType = wf.AgentType
		}
	}
	return s.ledger.Create(ctx, spec.Task, spec.Context, spec.ExpectedOutcome, agentType)
}

// Execute runs an existing delegation in the background and returns
// immediately. Failures are recorded in the ledger and logged; the caller
// has nothing to wait for. The context is honored at every await point, so
// cancelling it aborts the run at its next model or tool call.
func (s *Service) Execute(ctx context.Context, sessionID string, spec Spec) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.executor.Run(ctx, agent.Request{
			SessionID:       sessionID,
			Task:            spec.Task,
			Context:         spec.Context,
			ExpectedOutcome: spec.ExpectedOutcome,
			WorkflowKey:     spec.WorkflowKey,
			Focus:           spec.Focus,
		})
		if err != nil {
			s.logger.Error("delegation run failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}()
}

// Delegate creates a delegation and starts executing it. This is the
// one-call entry point the app uses.
func (s *Service) Delegate(ctx context.Context, spec Spec) (*model.Delegation, error) {
	d, err := s.CreateDelegation(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.Execute(ctx, d.SessionID, spec)
	return d, nil
}

// RunSync creates a delegation and executes it synchronously, returning the
// finished record's summary.
func (s *Service) RunSync(ctx context.Context, spec Spec) (string, error) {
	d, err := s.CreateDelegation(ctx, spec)
	if err != nil {
		return "", err
	}
	result, err := s.executor.Run(ctx, agent.Request{
		SessionID:       d.SessionID,
		Task:            spec.Task,
		Context:         spec.Context,
		ExpectedOutcome: spec.ExpectedOutcome,
		WorkflowKey:     spec.WorkflowKey,
		Focus:           spec.Focus,
	})
	if err != nil {
		return "", err
	}
	return result.Summary, nil
}

// runSubDelegation backs the delegate tool: each sub-task becomes a real
// ledger record with its own session, run synchronously inside the parent's
// tool call.
func (s *Service) runSubDelegation(ctx context.Context, task string, taskContext []string, expectedOutcome string) (string, error) {
	return s.RunSync(ctx, Spec{
		Task:            task,
		Context:         taskContext,
		ExpectedOutcome: expectedOutcome,
		AgentType:       model.AgentWorker,
	})
}

// Touch refreshes a delegation's liveness clock.
func (s *Service) Touch(ctx context.Context, sessionID string) error {
	return s.ledger.Touch(ctx, sessionID)
}

// GetDelegation fetches one delegation, or (nil, nil) if absent.
func (s *Service) GetDelegation(ctx context.Context, sessionID string) (*model.Delegation, error) {
	return s.ledger.Get(ctx, sessionID)
}

// ListRecent returns the newest delegations regardless of status.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]model.Delegation, error) {
	return s.ledger.ListRecent(ctx, limit)
}

// ListActive returns queued and in_progress delegations.
func (s *Service) ListActive(ctx context.Context, includeCompleted bool, limit int) ([]model.Delegation, error) {
	return s.ledger.ListActive(ctx, includeCompleted, limit)
}

// CleanupStale force-fails in_progress delegations older than the timeout.
func (s *Service) CleanupStale(ctx context.Context, timeout time.Duration) (int, error) {
	return s.ledger.CleanupStale(ctx, timeout)
}

// Subscribe registers an observer for a session's events and returns an
// unsubscribe function.
func (s *Service) Subscribe(sessionID string, observer broadcast.Observer) func() {
	return s.broadcaster.Subscribe(sessionID, observer)
}

// Tools lists the registered tools.
func (s *Service) Tools() []tools.ToolMetadata {
	return s.registry.List()
}

// Workflows returns the workflow registry.
func (s *Service) Workflows() *config.WorkflowRegistry {
	return s.workflows
}

// StartReaper runs CleanupStale every interval until the context is
// cancelled. A reaped record does not interrupt its run; an executor that is
// merely slow keeps itself alive by touching the ledger each iteration.
func (s *Service) StartReaper(ctx context.Context, interval, timeout time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reaped, err := s.ledger.CleanupStale(ctx, timeout)
				if err != nil {
					s.logger.Error("reaper pass failed", zap.Error(err))
					continue
				}
				if reaped > 0 {
					s.logger.Info("reaper pass", zap.Int("reaped", reaped))
				}
			}
		}
	}()
}

// Wait blocks until all background work (runs, reaper) has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
