// Package service assembles a running deployment from configuration:
// stores, the model provider, channel adapters, per-session tool
// registries, the retention watcher, and the metrics endpoint.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duyemura/boxassist-sub000/internal/agent"
	"github.com/duyemura/boxassist-sub000/internal/agent/providers"
	"github.com/duyemura/boxassist-sub000/internal/channels"
	"github.com/duyemura/boxassist-sub000/internal/config"
	"github.com/duyemura/boxassist-sub000/internal/conversations"
	"github.com/duyemura/boxassist-sub000/internal/handoff"
	"github.com/duyemura/boxassist-sub000/internal/memberctx"
	"github.com/duyemura/boxassist-sub000/internal/observability"
	"github.com/duyemura/boxassist-sub000/internal/sessions"
	"github.com/duyemura/boxassist-sub000/internal/tools/action"
	"github.com/duyemura/boxassist-sub000/internal/tools/conversation"
	"github.com/duyemura/boxassist-sub000/internal/tools/escalate"
	"github.com/duyemura/boxassist-sub000/internal/tools/learning"
	"github.com/duyemura/boxassist-sub000/internal/tools/memberdata"
	"github.com/duyemura/boxassist-sub000/internal/usage"
	"github.com/duyemura/boxassist-sub000/internal/watch"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// Service owns every long-lived component of a deployment. One Service per
// process; sessions share its stores and provider but each gets a tool
// registry bound to its own account and conversation.
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	tracker *usage.Tracker

	db        *sql.DB
	sessions  sessions.Store
	convs     conversations.Store
	directory *memberctx.CachedDirectory
	ledger    memberctx.Ledger
	outcomes  learning.Store
	approvals agent.ApprovalStore

	provider agent.ModelProvider
	model    string

	channels  *channels.Registry
	router    *conversations.Router
	escalator *handoff.Escalator
	watcher   *watch.Watcher

	httpServer *http.Server
}

// Option customizes a Service before wiring completes.
type Option func(*Service)

// WithProvider overrides the configured model provider. Tests use this to
// avoid real API credentials.
func WithProvider(p agent.ModelProvider, model string) Option {
	return func(s *Service) {
		s.provider = p
		s.model = model
	}
}

// New wires a Service from config. An empty database URL selects in-memory
// stores; everything else behaves identically.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:     cfg,
		logger:  logger,
		tracker: usage.NewTracker(24*time.Hour, 4096),
	}
	for _, opt := range opts {
		opt(s)
	}

	registry := prometheus.NewRegistry()
	s.metrics = observability.NewMetricsWith(registry)

	if err := s.wireStores(); err != nil {
		return nil, err
	}
	if s.provider == nil {
		if err := s.wireProvider(); err != nil {
			return nil, err
		}
	}
	if err := s.wireChannels(); err != nil {
		return nil, err
	}

	s.router = conversations.NewRouter(s.convs, models.RoleFrontDesk, logger)
	s.escalator = handoff.NewEscalator(s.convs, s, s.SessionDefaults(),
		cfg.Handoff.MaxTranscriptMessages, logger)

	if err := s.wireWatcher(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Service) wireStores() error {
	if s.cfg.Database.URL == "" {
		dir := memberctx.NewMemoryDirectory()
		s.sessions = sessions.NewMemoryStore()
		s.convs = conversations.NewMemoryStore()
		s.directory = memberctx.NewCachedDirectory(dir, memberctx.DefaultCacheTTL)
		s.ledger = dir
		s.outcomes = learning.NewMemoryStore()
		s.approvals = agent.NewMemoryApprovalStore()
		s.logger.Warn("no database configured, using in-memory stores")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.Database.MaxConnections)
	db.SetConnMaxLifetime(s.cfg.Database.ConnMaxLifetime)

	dir := memberctx.NewPostgresDirectory(db)
	s.db = db
	s.sessions = sessions.NewPostgresStore(db)
	s.convs = conversations.NewPostgresStore(db)
	s.directory = memberctx.NewCachedDirectory(dir, memberctx.DefaultCacheTTL)
	s.ledger = dir
	s.outcomes = learning.NewPostgresStore(db)
	s.approvals = agent.NewPostgresApprovalStore(db)
	return nil
}

func (s *Service) wireProvider() error {
	switch s.cfg.Providers.Default {
	case "anthropic":
		p, err := providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:  s.cfg.Providers.Anthropic.APIKey,
			BaseURL: s.cfg.Providers.Anthropic.BaseURL,
		})
		if err != nil {
			return err
		}
		s.provider = p
		s.model = s.cfg.Providers.Anthropic.Model
	case "openai":
		p, err := providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:  s.cfg.Providers.OpenAI.APIKey,
			BaseURL: s.cfg.Providers.OpenAI.BaseURL,
		})
		if err != nil {
			return err
		}
		s.provider = p
		s.model = s.cfg.Providers.OpenAI.Model
	default:
		return fmt.Errorf("unknown provider %q", s.cfg.Providers.Default)
	}
	return nil
}

func (s *Service) wireChannels() error {
	s.channels = channels.NewRegistry()
	if s.cfg.Channels.Email.Enabled {
		adapter, err := channels.NewEmailAdapter(s.cfg.Channels.Email, s.logger)
		if err != nil {
			return err
		}
		if err := s.channels.Register(adapter); err != nil {
			return err
		}
	}
	if s.cfg.Channels.SMS.Enabled {
		adapter, err := channels.NewSMSAdapter(s.cfg.Channels.SMS, s.logger)
		if err != nil {
			return err
		}
		if err := s.channels.Register(adapter); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) wireWatcher() error {
	if !s.cfg.Watch.Enabled {
		return nil
	}
	if len(s.cfg.Watch.Accounts) == 0 {
		s.logger.Warn("watch enabled but no accounts configured, scan disabled")
		return nil
	}
	w, err := watch.New(s.directory, s.router, s.convs, s, watch.Config{
		Schedule:        s.cfg.Watch.Schedule,
		InactiveDays:    s.cfg.Watch.InactiveDays,
		Accounts:        s.cfg.Watch.Accounts,
		SessionDefaults: s.SessionDefaults(),
	}, s.logger)
	if err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// SessionDefaults returns the configured autonomy and budget for new
// sessions.
func (s *Service) SessionDefaults() models.SessionConfig {
	return models.SessionConfig{
		Autonomy:     models.AutonomyMode(s.cfg.Autonomy.DefaultMode),
		MaxTurns:     s.cfg.Budget.MaxTurns,
		MaxCostUSD:   s.cfg.Budget.MaxCostUSD,
		MaxWallClock: s.cfg.Budget.MaxWallClock,
	}
}

// Router exposes inbound message routing.
func (s *Service) Router() *conversations.Router { return s.router }

// ListPendingApprovals returns calls waiting for sign-off.
func (s *Service) ListPendingApprovals(ctx context.Context, accountID string) ([]*agent.PendingApproval, error) {
	return s.approvals.ListPending(ctx, accountID)
}

// Start launches a session with a tool registry scoped to it. It satisfies
// the SessionStarter contract used by the escalator and the watcher.
func (s *Service) Start(ctx context.Context, session *models.Session) (<-chan models.SessionEvent, error) {
	registry, err := s.registryFor(session)
	if err != nil {
		return nil, err
	}
	return s.runtime(registry).Start(ctx, session)
}

// Resume applies an approval decision and starts the continuation session
// under the parent's tool scope.
func (s *Service) Resume(ctx context.Context, approvalID string, approve bool, decidedBy string) (*models.Session, <-chan models.SessionEvent, error) {
	approval, err := s.approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, nil, err
	}
	parent, err := s.sessions.Get(ctx, approval.SessionID)
	if err != nil {
		return nil, nil, err
	}
	registry, err := s.registryFor(parent)
	if err != nil {
		return nil, nil, err
	}
	return s.runtime(registry).Resume(ctx, approvalID, approve, decidedBy)
}

// registryFor builds the tool set a session may touch. Every tool is bound
// to the session's account, and conversation tools to its conversation, so
// tenancy is enforced by construction rather than per-call checks.
func (s *Service) registryFor(session *models.Session) (*agent.Registry, error) {
	tools := []agent.Tool{
		memberdata.NewProfileTool(s.directory, session.AccountID),
		memberdata.NewAttendanceTool(s.directory, session.AccountID),
		memberdata.NewStatusTool(s.directory, session.AccountID),
		conversation.NewDraftTool(),
	}
	if session.ConversationID != "" {
		tools = append(tools,
			conversation.NewSendTool(s.convs, s.channels, session.ConversationID, s.logger))
		if session.Role == models.RoleFrontDesk {
			tools = append(tools,
				escalate.New(s.escalator, session.ConversationID, session.Creator, s.logger))
		}
	}
	if session.Role == models.RoleManager {
		tools = append(tools,
			action.NewPauseTool(s.ledger, s.directory, session.AccountID),
			action.NewCreditTool(s.ledger, session.AccountID))
		if session.ConversationID != "" {
			tools = append(tools,
				learning.NewRecordTool(s.outcomes, session.AccountID, session.ConversationID))
		}
	}

	registry := agent.NewRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (s *Service) runtime(registry *agent.Registry) *agent.Runtime {
	return agent.NewRuntime(s.provider, registry, s.sessions, s.approvals, agent.RuntimeConfig{
		Model:   s.model,
		Gate:    agent.GatePolicy{ConfidenceThreshold: s.cfg.Autonomy.ConfidenceThreshold},
		Pricing: s.cfg.Pricing,
	}, s.logger,
		agent.WithMetrics(s.metrics),
		agent.WithUsageTracker(s.tracker),
		agent.WithContextBuilder(s.memberContext),
	)
}

// memberContext renders the member block for a session's system prompt. A
// session with no conversation, or a thread with no identified member, gets
// no block.
func (s *Service) memberContext(ctx context.Context, session *models.Session) (string, error) {
	if session.ConversationID == "" {
		return "", nil
	}
	conv, err := s.convs.Get(ctx, session.ConversationID)
	if err != nil {
		return "", err
	}
	if conv.Contact.MemberID == "" {
		return "", nil
	}

	profile, err := s.directory.Profile(ctx, session.AccountID, conv.Contact.MemberID)
	if err != nil {
		return "", err
	}
	attendance, err := s.directory.Attendance(ctx, session.AccountID, conv.Contact.MemberID)
	if err != nil {
		return memberctx.PromptContext(profile, nil), err
	}
	return memberctx.PromptContext(profile, attendance), nil
}

// Run starts the watcher and the metrics endpoint, then blocks until the
// context is cancelled or the HTTP server fails.
func (s *Service) Run(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.logger.Info("service started",
		"provider", s.provider.Name(),
		"model", s.model,
		"metrics_addr", s.httpServer.Addr,
		"channels", s.channels.Channels(),
		"watch", s.watcher != nil)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop shuts everything down. Safe to call after Run returns.
func (s *Service) Stop(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Migrate creates every table the configured stores need.
func (s *Service) Migrate(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("migrate: database.url not configured")
	}
	return MigrateDB(ctx, s.db)
}

// MigrateDB creates the full schema on an open handle. The migrate command
// uses this directly so schema setup never needs provider credentials.
func MigrateDB(ctx context.Context, db *sql.DB) error {
	dir := memberctx.NewPostgresDirectory(db)
	steps := []func(context.Context) error{
		sessions.NewPostgresStore(db).Migrate,
		conversations.NewPostgresStore(db).Migrate,
		dir.Migrate,
		dir.MigrateLedger,
		learning.NewPostgresStore(db).Migrate,
		agent.NewPostgresApprovalStore(db).Migrate,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}
