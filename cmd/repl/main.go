// Command repl is a development console for the chat surface. It wires
// the orchestrator to stdin/stdout instead of a websocket, so agent and
// tool behavior can be exercised without a browser.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/meridian/voter-gateway/internal/agent"
	"github.com/meridian/voter-gateway/internal/config"
	"github.com/meridian/voter-gateway/internal/docs"
	"github.com/meridian/voter-gateway/internal/enrichment"
	"github.com/meridian/voter-gateway/internal/geocode"
	"github.com/meridian/voter-gateway/internal/lists"
	"github.com/meridian/voter-gateway/internal/orchestrator"
	"github.com/meridian/voter-gateway/internal/pkg/httpretry"
	"github.com/meridian/voter-gateway/internal/pkg/ratelimit"
	"github.com/meridian/voter-gateway/internal/search"
	"github.com/meridian/voter-gateway/internal/secrets"
	"github.com/meridian/voter-gateway/internal/session"
	"github.com/meridian/voter-gateway/internal/warehouse"
)

const replSID = "repl"

// consoleEmitter renders orchestrator events as terminal output. It also
// tracks the active session so successive lines continue one thread.
type consoleEmitter struct {
	sessionID string
}

func (e *consoleEmitter) Emit(sid string, ev orchestrator.Event) bool {
	switch ev.Type {
	case orchestrator.EventSessionCreated:
		e.sessionID = ev.SessionID
		fmt.Printf("[session %s: %s]\n", ev.SessionID, ev.SessionName)
	case orchestrator.EventMessageChunk:
		fmt.Print(ev.Chunk)
	case orchestrator.EventMessageEnd:
		fmt.Println()
	case orchestrator.EventError:
		fmt.Printf("\n[error] %s\n", ev.Error)
	}
	return true
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

	ctx := context.Background()

	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	if profile := cfg.AWS.GetProfile(); profile != "" {
		awsOpts = append(awsOpts, awsconfig.WithSharedConfigProfile(profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		log.Fatalf("loading aws config: %v", err)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	secretStore := secrets.New(secrets.NewAWSStore(secretsmanager.NewFromConfig(awsCfg)))
	secretGetter := func(name string) func(ctx context.Context) (string, error) {
		return func(ctx context.Context) (string, error) { return secretStore.Get(ctx, name) }
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	db, err := warehouse.Open(ctx, warehouse.ClientConfig{
		ProjectID: cfg.Warehouse.ProjectID,
		Dataset:   cfg.Warehouse.Dataset,
	})
	if err != nil {
		log.Fatalf("connecting warehouse: %v", err)
	}
	defer db.Close()

	executor := warehouse.NewExecutor(db,
		warehouse.NewGuard(cfg.Warehouse.AllowedTables),
		warehouse.NewRemapper(warehouse.DefaultIdentifierRules, warehouse.DefaultLiteralRules),
		rdb,
		warehouse.ExecutorOptions{
			RowCap:   cfg.Warehouse.RowCap,
			Timeout:  cfg.Warehouse.Timeout(),
			CacheTTL: cfg.Warehouse.CacheTTL(),
		})

	retention := time.Duration(cfg.Sessions.RetentionSecs) * time.Second
	sessions := session.NewService(
		session.NewDynamoRepository(dynamoClient, cfg.Sessions.DynamoDBTable, retention),
		cfg.Sessions.NameWidth, retention)

	listSvc := lists.NewService(lists.NewDynamoRepository(dynamoClient, cfg.Lists.DynamoDBTable), executor)

	retry := httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3)
	limits := ratelimit.NewRegistry(map[string]float64{
		"geocode":    10,
		"websearch":  5,
		"enrichment": 5,
	}, 5)

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

	docsClient := docs.NewClient(ctx,
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: secretStore.GetDefault(ctx, "DOCS_ACCESS_TOKEN", "")}),
		cfg.Docs.BaseURL, "")

	bedrock, err := agent.NewBedrockRuntime(ctx, cfg.AWS.Region)
	if err != nil {
		log.Fatalf("building bedrock runtime: %v", err)
	}

	factory := func(modelID, userID, sessionID string) *agent.Agent {
		return agent.NewAgent(bedrock, &agent.Toolset{
			Warehouse: executor,
			Geocoder:  geocode.NewClient(cfg.Geocode.BaseURL, secretGetter("GEOCODE_API_KEY"), retry, limits, time.Duration(cfg.Geocode.TimeoutSeconds)*time.Second),
			Searcher:  search.NewClient(cfg.Search.BaseURL, secretGetter("SEARCH_API_KEY"), retry, limits, cfg.Search.BiasDomains, time.Duration(cfg.Search.TimeoutSeconds)*time.Second),
			Lists:     listSvc,
			Enricher:  enricher,
			Docs:      docsClient,
		}, modelID, agent.ChatSystemPrompt, userID, sessionID)
	}

	emitter := &consoleEmitter{}
	orch := orchestrator.New(sessions, agent.NewCache(cfg.Agent.MaxCachedAgents), factory, emitter, cfg.Agent.DefaultModelID)

	fmt.Println("voter-gateway repl. Type a question, or 'quit' to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if err := orch.HandleTurn(ctx, replSID, "dev", emitter.sessionID, "", line); err != nil {
			fmt.Printf("[turn failed] %v\n", err)
		}
	}
}
