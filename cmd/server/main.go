package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/meridian/voter-gateway/internal/agent"
	"github.com/meridian/voter-gateway/internal/api"
	"github.com/meridian/voter-gateway/internal/auth"
	"github.com/meridian/voter-gateway/internal/campaign"
	"github.com/meridian/voter-gateway/internal/config"
	"github.com/meridian/voter-gateway/internal/docs"
	"github.com/meridian/voter-gateway/internal/enrichment"
	"github.com/meridian/voter-gateway/internal/geocode"
	"github.com/meridian/voter-gateway/internal/lists"
	"github.com/meridian/voter-gateway/internal/orchestrator"
	"github.com/meridian/voter-gateway/internal/pkg/httpretry"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
	"github.com/meridian/voter-gateway/internal/pkg/ratelimit"
	"github.com/meridian/voter-gateway/internal/search"
	"github.com/meridian/voter-gateway/internal/secrets"
	"github.com/meridian/voter-gateway/internal/ses"
	"github.com/meridian/voter-gateway/internal/session"
	"github.com/meridian/voter-gateway/internal/sparkpost"
	"github.com/meridian/voter-gateway/internal/transport"
	"github.com/meridian/voter-gateway/internal/warehouse"

	_ "github.com/lib/pq" // PostgreSQL driver for the session backend
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

// turnHandlerProxy breaks the construction cycle between the transport
// manager, which needs a turn handler, and the orchestrator, which
// needs the manager as its emitter. The inner pointer is set once both
// exist, before the server accepts connections.
type turnHandlerProxy struct {
	o *orchestrator.Orchestrator
}

func (p *turnHandlerProxy) HandleTurn(ctx context.Context, sid, userID, sessionID, modelID, userText string) error {
	return p.o.HandleTurn(ctx, sid, userID, sessionID, modelID, userText)
}

func (p *turnHandlerProxy) Recover(ctx context.Context, sid, userID, sessionID string) {
	p.o.Recover(ctx, sid, userID, sessionID)
}

func (p *turnHandlerProxy) UpdateModel(ctx context.Context, sid, userID, sessionID, modelID string) error {
	return p.o.UpdateModel(ctx, sid, userID, sessionID, modelID)
}

func (p *turnHandlerProxy) Disconnected(sid string) {
	p.o.Disconnected(sid)
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := checkPortAvailable(cfg.Server.GetHost(), cfg.Server.Port); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared AWS clients.
	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	if profile := cfg.AWS.GetProfile(); profile != "" {
		awsOpts = append(awsOpts, awsconfig.WithSharedConfigProfile(profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		log.Fatalf("loading aws config: %v", err)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)

	secretStore := secrets.New(secrets.NewAWSStore(secretsmanager.NewFromConfig(awsCfg)))
	secretGetter := func(name string) func(ctx context.Context) (string, error) {
		return func(ctx context.Context) (string, error) { return secretStore.Get(ctx, name) }
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, result cache and budget ledger degrade", "error", err.Error())
	}

	// Warehouse pipeline: guard, remapper, executor.
	db, err := warehouse.Open(ctx, warehouse.ClientConfig{
		ProjectID: cfg.Warehouse.ProjectID,
		Dataset:   cfg.Warehouse.Dataset,
	})
	if err != nil {
		log.Fatalf("connecting warehouse: %v", err)
	}
	defer db.Close()

	guard := warehouse.NewGuard(cfg.Warehouse.AllowedTables)
	remapper := warehouse.NewRemapper(warehouse.DefaultIdentifierRules, warehouse.DefaultLiteralRules)
	executor := warehouse.NewExecutor(db, guard, remapper, rdb, warehouse.ExecutorOptions{
		RowCap:   cfg.Warehouse.RowCap,
		Timeout:  cfg.Warehouse.Timeout(),
		CacheTTL: cfg.Warehouse.CacheTTL(),
	})

	// Session store: dynamo by default, postgres behind the flag.
	retention := time.Duration(cfg.Sessions.RetentionSecs) * time.Second
	var sessionRepo session.Repository
	switch cfg.Sessions.Backend {
	case "postgres":
		pg, err := session.OpenPostgres(ctx, cfg.Sessions.PostgresURL)
		if err != nil {
			log.Fatalf("connecting session store: %v", err)
		}
		defer pg.Close()
		sessionRepo = session.NewPostgresRepository(pg)
	default:
		sessionRepo = session.NewDynamoRepository(dynamoClient, cfg.Sessions.DynamoDBTable, retention)
	}
	sessions := session.NewService(sessionRepo, cfg.Sessions.NameWidth, retention)
	cleanupEvery := time.Duration(cfg.Sessions.CleanupInterval) * time.Second
	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}
	sessions.StartCleanup(ctx, cleanupEvery)

	listSvc := lists.NewService(lists.NewDynamoRepository(dynamoClient, cfg.Lists.DynamoDBTable), executor)

	// External providers share the retrying HTTP client and the
	// process-wide limiter registry.
	retry := httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3)
	limits := ratelimit.NewRegistry(map[string]float64{
		"geocode":    10,
		"websearch":  5,
		"enrichment": 5,
	}, 5)

	geocoder := geocode.NewClient(cfg.Geocode.BaseURL, secretGetter("GEOCODE_API_KEY"), retry, limits,
		time.Duration(cfg.Geocode.TimeoutSeconds)*time.Second)
	searcher := search.NewClient(cfg.Search.BaseURL, secretGetter("SEARCH_API_KEY"), retry, limits,
		cfg.Search.BiasDomains, time.Duration(cfg.Search.TimeoutSeconds)*time.Second)

	votersTable := fmt.Sprintf("%s.%s.voters", cfg.Warehouse.ProjectID, cfg.Warehouse.Dataset)

	enricher := enrichment.NewCoordinator(
		enrichment.NewClient(cfg.Enrichment.BaseURL, secretGetter("ENRICHMENT_API_KEY"), retry, limits, cfg.Enrichment.Timeout()),
		enrichment.NewDynamoRepository(dynamoClient, cfg.Enrichment.DynamoDBTable),
		enrichment.NewLedger(rdb, cfg.Enrichment.DailyBudget),
		enrichment.NewWarehouseFetcher(executor, votersTable),
		cfg.Enrichment.PricePerRecord,
		cfg.Enrichment.ConfirmationThreshold,
		cfg.Enrichment.StalenessWindow(),
	)

	docsToken := secretStore.GetDefault(ctx, "DOCS_ACCESS_TOKEN", "")
	docsClient := docs.NewClient(ctx,
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: docsToken}),
		cfg.Docs.BaseURL, "")

	// Campaign engine.
	campaignRepo := campaign.NewDynamoRepository(dynamoClient, cfg.Campaign.DynamoDBTable)
	var sender campaign.Sender
	switch cfg.Email.Provider {
	case "ses":
		sesSender, err := ses.NewSender(ctx, cfg.AWS.Region, cfg.Email.FromEmail)
		if err != nil {
			log.Fatalf("building ses sender: %v", err)
		}
		sender = campaign.NewSESSender(sesSender)
	default:
		spClient := sparkpost.NewClient(cfg.Email.BaseURL, secretGetter("SPARKPOST_API_KEY"), retry)
		sender = campaign.NewSparkPostSender(spClient, cfg.Email.FromEmail, cfg.Email.FromName)
	}
	var archiver campaign.Archiver
	if cfg.Email.ArchiveBucket != "" {
		archiver = campaign.NewS3Archiver(s3Client, cfg.Email.ArchiveBucket)
	}
	campaignSvc := campaign.NewService(
		campaignRepo,
		campaign.NewResolver(listSvc, executor, votersTable, cfg.Email.RecipientCap),
		campaign.NewRenderer(),
		campaign.NewDispatcher(sender, archiver, campaignRepo, cfg.Email.BatchSize),
		docsClient,
	)
	reconciler := campaign.NewReconciler(campaignRepo)

	// Model runtime, SQL generation, and the chat orchestrator.
	bedrock, err := agent.NewBedrockRuntime(ctx, cfg.AWS.Region)
	if err != nil {
		log.Fatalf("building bedrock runtime: %v", err)
	}
	sqlgen := agent.NewSQLGenerator(bedrock, executor, cfg.Agent.DefaultModelID)

	factory := func(modelID, userID, sessionID string) *agent.Agent {
		toolset := &agent.Toolset{
			Warehouse: executor,
			Geocoder:  geocoder,
			Searcher:  searcher,
			Lists:     listSvc,
			Enricher:  enricher,
			Docs:      docsClient,
		}
		return agent.NewAgent(bedrock, toolset, modelID, agent.ChatSystemPrompt, userID, sessionID)
	}

	authManager := auth.NewManager(&cfg.Auth, cfg.Server.BaseURL)

	proxy := &turnHandlerProxy{}
	manager := transport.NewManager(proxy, authManager, cfg.Transport.PingInterval(), cfg.Transport.PongTimeout())
	orch := orchestrator.New(sessions, agent.NewCache(cfg.Agent.MaxCachedAgents), factory, manager, cfg.Agent.DefaultModelID)
	proxy.o = orch
	orch.StartGC(ctx, time.Minute)

	// HTTP surface.
	handlers := api.NewHandlers(executor, sqlgen, listSvc, sessions, campaignSvc, reconciler)
	health := api.NewHealthChecker(db, rdb)
	origins := []string{cfg.Server.BaseURL, "http://localhost:5173"}
	router := api.SetupRoutes(handlers, health, authManager, manager.Handler, origins)
	server := api.NewServer(router)

	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				authManager.CleanupExpired()
			}
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		log.Fatalf("server stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err.Error())
	}
	logger.Info("server stopped")
}
