package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flame_academy/internal/api"
	"flame_academy/internal/domain"
	"flame_academy/internal/orchestrator"
	"flame_academy/internal/plan"
)

var (
	serveAddr string

	learnerID        string
	learnerName      string
	learnerAge       int
	learnerInterests []string

	routeType     string
	routePrefer   string
	routeDispatch bool

	journeyName   string
	journeyMode   string
	journeyType   string
	journeyExport string
)

func addLearnerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&learnerID, "learner-id", "cli", "learner id")
	cmd.Flags().StringVar(&learnerName, "name", "", "learner name")
	cmd.Flags().IntVar(&learnerAge, "age", 8, "learner age in years")
	cmd.Flags().StringSliceVar(&learnerInterests, "interest", nil, "learner interest (repeatable)")
}

func learnerFromFlags() domain.LearnerContext {
	return domain.LearnerContext{
		ID:        learnerID,
		Name:      learnerName,
		Age:       learnerAge,
		Interests: learnerInterests,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var routeCmd = &cobra.Command{
	Use:   "route [text]",
	Short: "Show which agent would handle a request",
	Long: `Scores every registered agent against the request and prints the
selected agent, its confidence and the runners-up. With --dispatch the
selected agent also answers.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoute,
}

var journeyCmd = &cobra.Command{
	Use:   "journey [topic...]",
	Short: "Plan and run a learning journey over several topics",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runJourney,
}

var sessionCmd = &cobra.Command{
	Use:   "session [theme]",
	Short: "Run a cross-subject session exploring one theme",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSession,
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered agents",
	Args:  cobra.NoArgs,
	RunE:  runAgents,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "http listen address override")

	addLearnerFlags(routeCmd)
	routeCmd.Flags().StringVar(&routeType, "type", "", "task type (default from config)")
	routeCmd.Flags().StringVar(&routePrefer, "prefer", "", "preferred agent id")
	routeCmd.Flags().BoolVar(&routeDispatch, "dispatch", false, "dispatch to the selected agent")

	addLearnerFlags(journeyCmd)
	journeyCmd.Flags().StringVar(&journeyName, "title", "Learning Journey", "plan name")
	journeyCmd.Flags().StringVar(&journeyMode, "mode", string(domain.ExecutionModeSequential), "execution mode: sequential, parallel, adaptive, collaborative")
	journeyCmd.Flags().StringVar(&journeyType, "type", "", "task type for every topic (default from config)")
	journeyCmd.Flags().StringVar(&journeyExport, "export", "", "write the finished plan snapshot: json or yaml")

	addLearnerFlags(sessionCmd)
	sessionCmd.Flags().StringVar(&journeyExport, "export", "", "write the finished plan snapshot: json or yaml")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	restored, err := a.restoreActivePlans(ctx)
	if err != nil {
		return fmt.Errorf("restore active plans: %w", err)
	}

	events := a.bus.Subscribe("serve_log")
	go func() {
		for ev := range events {
			logger.Debug("task event",
				zap.String("plan_id", ev.PlanID),
				zap.String("task_id", ev.TaskID),
				zap.String("agent_id", ev.AgentID),
				zap.String("status", string(ev.To)),
			)
		}
	}()
	defer a.bus.Unsubscribe("serve_log")

	addr := serveAddr
	if strings.TrimSpace(addr) == "" {
		addr = cfg.Orchestrator.Addr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           api.New(cfg, a.router, a.orchestrator, a.store, a.files, logger.Named("http")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("flame_academy started",
		zap.String("addr", addr),
		zap.String("db", cfg.Orchestrator.DBPath),
		zap.Int("agents", a.registry.Len()),
		zap.Int("restored_plans", restored),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func runRoute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	taskType := domain.TaskType(routeType)
	if taskType == "" {
		taskType = domain.TaskType(cfg.Orchestrator.DefaultTaskType)
	}
	if !taskType.Valid() {
		return fmt.Errorf("invalid task type %q", taskType)
	}
	text := strings.Join(args, " ")
	learner := learnerFromFlags()

	decision := a.router.Route(ctx, text, taskType, learner, routePrefer)
	printDecision(os.Stdout, decision)
	if !routeDispatch {
		return nil
	}
	resp, err := a.router.Dispatch(ctx, decision, text, taskType, learner)
	if err != nil {
		return fmt.Errorf("dispatch to %s: %w", decision.SelectedAgentID, err)
	}
	printResponse(os.Stdout, resp)
	return nil
}

func runJourney(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	learner := learnerFromFlags()
	p, err := a.orchestrator.CreatePlan(ctx, orchestrator.CreatePlanInput{
		Name:     journeyName,
		Topics:   args,
		Learner:  learner,
		Mode:     domain.ExecutionMode(journeyMode),
		TaskType: domain.TaskType(journeyType),
	})
	if err != nil {
		return err
	}
	return a.runPlan(ctx, p.ID, learner)
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	learner := learnerFromFlags()
	p, err := a.orchestrator.CreateCrossSubjectSession(ctx, strings.Join(args, " "), learner)
	if err != nil {
		return err
	}
	return a.runPlan(ctx, p.ID, learner)
}

func (a *app) runPlan(ctx context.Context, planID string, learner domain.LearnerContext) error {
	status, _ := a.orchestrator.PlanStatus(planID)
	printPlanHeader(os.Stdout, status.Plan)

	summary, err := a.orchestrator.Execute(ctx, planID, learner, func(ev domain.TaskEvent) {
		printEvent(os.Stdout, ev)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			printWarning(os.Stdout, fmt.Sprintf("interrupted; plan %s left active at %.0f%%", planID, summary.Progress.Percentage))
		}
		return err
	}
	printSummary(os.Stdout, summary)
	printResponse(os.Stdout, a.orchestrator.CombinedResponse(planID, learner))

	if journeyExport == "" {
		return nil
	}
	format, err := plan.ParseFormat(journeyExport)
	if err != nil {
		return err
	}
	status, _ = a.orchestrator.PlanStatus(planID)
	relPath, err := a.files.WritePlan(ctx, status.Plan, format)
	if err != nil {
		return fmt.Errorf("export plan: %w", err)
	}
	printInfo(os.Stdout, "snapshot written to "+relPath)
	return nil
}

func runAgents(cmd *cobra.Command, _ []string) error {
	reg, err := buildRegistry(cfg.Agents)
	if err != nil {
		return err
	}
	descs := make([]domain.AgentDescriptor, 0, reg.Len())
	for _, a := range reg.Agents() {
		descs = append(descs, a.Descriptor())
	}
	printAgents(os.Stdout, descs)
	return nil
}
