// Package cli implements the weave commands.
//
// Information Hiding:
// - Service construction from settings
// - Terminal rendering of records and events
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weavehq/weave/broadcast"
	"github.com/weavehq/weave/config"
	"github.com/weavehq/weave/llm"
	"github.com/weavehq/weave/orchestration"
	"github.com/weavehq/weave/storage"
)

// Options carries the global CLI flags.
type Options struct {
	Provider string
	Model    string
	DBPath   string
	Verbose  bool
}

// setup builds a service from settings and flags. The returned cleanup
// closes the store and flushes the logger.
func setup(opts Options) (*orchestration.Service, config.Settings, func(), error) {
	settings := config.Load()
	if opts.Provider != "" {
		settings.Provider = opts.Provider
	}
	if opts.Model != "" {
		settings.Model = opts.Model
	}
	if opts.DBPath != "" {
		settings.DBPath = opts.DBPath
	}

	logger := zap.NewNop()
	if opts.Verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, settings, nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	providerType, err := llm.ParseProviderType(settings.Provider)
	if err != nil {
		return nil, settings, nil, err
	}
	builder := llm.NewProviderBuilder(providerType).
		MaxTokens(settings.MaxTokens).
		Temperature(settings.Temperature)
	if settings.Model != "" {
		builder = builder.Model(settings.Model)
	}
	provider, err := builder.FromEnv()
	if err != nil {
		return nil, settings, nil, err
	}

	store, err := storage.OpenSqlite(settings.DBPath)
	if err != nil {
		return nil, settings, nil, err
	}

	workflows, err := config.LoadWorkflows(settings.WorkflowsPath)
	if err != nil {
		store.Close()
		return nil, settings, nil, err
	}

	service, err := orchestration.New(orchestration.Options{
		Client:         llm.NewClient(provider),
		Store:          store,
		Workflows:      workflows,
		SearchEndpoint: settings.SearchEndpoint,
		Logger:         logger,
	})
	if err != nil {
		store.Close()
		return nil, settings, nil, err
	}

	cleanup := func() {
		store.Close()
		_ = logger.Sync()
	}
	return service, settings, cleanup, nil
}

// Run creates a delegation, executes it, and streams its progress until it
// reaches a terminal state.
func Run(ctx context.Context, task string, taskContext []string, outcome, workflowKey string, opts Options) error {
	service, _, cleanup, err := setup(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	d, err := service.CreateDelegation(ctx, orchestration.Spec{
		Task:            task,
		Context:         taskContext,
		ExpectedOutcome: outcome,
		WorkflowKey:     workflowKey,
	})
	if err != nil {
		return err
	}
	fmt.Printf("session: %s\n", d.SessionID)

	unsubscribe := service.Subscribe(d.SessionID, printEvent)
	defer unsubscribe()

	service.Execute(ctx, d.SessionID, orchestration.Spec{
		Task:            task,
		Context:         taskContext,
		ExpectedOutcome: outcome,
		WorkflowKey:     workflowKey,
	})
	service.Wait()

	final, err := service.GetDelegation(ctx, d.SessionID)
	if err != nil {
		return err
	}
	fmt.Printf("\nstatus: %s\n", final.Status)
	return nil
}

// List prints recent delegations.
func List(ctx context.Context, includeCompleted bool, limit int, opts Options) error {
	service, _, cleanup, err := setup(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := service.ListActive(ctx, includeCompleted, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no delegations")
		return nil
	}
	for _, d := range records {
		fmt.Printf("%-36s  %-12s  %-8s  %s\n", d.SessionID, d.Status, d.AgentType, truncate(d.Task, 60))
	}
	return nil
}

// Show prints one delegation in full.
func Show(ctx context.Context, sessionID string, opts Options) error {
	service, _, cleanup, err := setup(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	d, err := service.GetDelegation(ctx, sessionID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("no delegation with session %s", sessionID)
	}

	fmt.Printf("session:   %s\n", d.SessionID)
	fmt.Printf("status:    %s\n", d.Status)
	fmt.Printf("agent:     %s\n", d.AgentType)
	fmt.Printf("task:      %s\n", d.Task)
	if len(d.Context) > 0 {
		fmt.Printf("context:   %s\n", strings.Join(d.Context, " | "))
	}
	if d.ExpectedOutcome != "" {
		fmt.Printf("outcome:   %s\n", d.ExpectedOutcome)
	}
	fmt.Printf("created:   %s\n", d.CreatedAt.Format(time.RFC3339))
	fmt.Printf("updated:   %s\n", d.UpdatedAt.Format(time.RFC3339))
	if d.Summary != "" {
		fmt.Printf("\n%s\n", d.Summary)
	}
	return nil
}

// Reap force-fails stale in_progress delegations once and reports the count.
func Reap(ctx context.Context, timeout time.Duration, opts Options) error {
	service, settings, cleanup, err := setup(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	if timeout == 0 {
		timeout = settings.StaleTimeout
	}
	reaped, err := service.CleanupStale(ctx, timeout)
	if err != nil {
		return err
	}
	fmt.Printf("reaped %d stale delegation(s)\n", reaped)
	return nil
}

// Watch streams a running delegation's events until it reaches a terminal
// state or the context is cancelled.
func Watch(ctx context.Context, sessionID string, opts Options) error {
	service, _, cleanup, err := setup(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	d, err := service.GetDelegation(ctx, sessionID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("no delegation with session %s", sessionID)
	}
	if d.Status.Terminal() {
		fmt.Printf("status: %s\n%s\n", d.Status, d.Summary)
		return nil
	}

	unsubscribe := service.Subscribe(sessionID, printEvent)
	defer unsubscribe()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d, err := service.GetDelegation(ctx, sessionID)
			if err != nil {
				return err
			}
			if d == nil || d.Status.Terminal() {
				if d != nil {
					fmt.Printf("\nstatus: %s\n", d.Status)
				}
				return nil
			}
		}
	}
}

// Tools prints the registered tool set.
func Tools(opts Options) error {
	service, _, cleanup, err := setup(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	for _, meta := range service.Tools() {
		fmt.Printf("%-16s %s\n", meta.Name, meta.Description)
	}
	return nil
}

// Workflows prints the registered workflow keys.
func Workflows(opts Options) error {
	service, _, cleanup, err := setup(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	for _, key := range service.Workflows().Keys() {
		wf, _ := service.Workflows().Get(key)
		mode := "fan-out"
		if wf.DirectEdit {
			mode = "direct-edit"
		}
		fmt.Printf("%-12s %-11s %s\n", key, mode, truncate(wf.Directive, 70))
	}
	return nil
}

func printEvent(e broadcast.Event) error {
	switch e.Type {
	case broadcast.EventTextDelta:
		if s, ok := e.Payload.(string); ok {
			fmt.Println(s)
		}
	case broadcast.EventToolInputStart:
		fmt.Fprintf(os.Stderr, "→ %s\n", e.ToolName)
	case broadcast.EventToolOutputAvailable:
		if data, err := json.Marshal(e.Payload); err == nil {
			fmt.Fprintf(os.Stderr, "← %s %s\n", e.ToolName, truncate(string(data), 120))
		}
	case broadcast.EventAssistantMessage:
		if s, ok := e.Payload.(string); ok {
			fmt.Printf("\n%s\n", s)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
