package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/api"
	"github.com/nidhogg/agora/internal/city"
	"github.com/nidhogg/agora/internal/clock"
	"github.com/nidhogg/agora/internal/config"
	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/embedding"
	"github.com/nidhogg/agora/internal/engine"
	"github.com/nidhogg/agora/internal/event"
	"github.com/nidhogg/agora/internal/gateway"
	"github.com/nidhogg/agora/internal/provider"
	"github.com/nidhogg/agora/internal/quota"
	"github.com/nidhogg/agora/internal/registry"
	"github.com/nidhogg/agora/internal/relations"
	"github.com/nidhogg/agora/internal/scheduler"
	pgstore "github.com/nidhogg/agora/internal/store"
	"github.com/nidhogg/agora/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Agora...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/agora.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
		if router.DefaultID() == "" {
			router.SetDefault(pc.ID)
		}
		if len(pc.Models) > 0 {
			router.SetDefaultModel(pc.Models[0])
		}
	}

	clk := clock.NewSystem()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Core in-memory state
	reg := registry.New(clk, logger)
	tracker := quota.New(quota.Config{
		AgentDailyCap:  cfg.Quota.AgentDailyCap,
		GlobalDailyCap: cfg.Quota.GlobalDailyCap,
		BaseCooldown:   cfg.Quota.BaseCooldown.Std(),
		CooldownGrowth: cfg.Quota.CooldownGrowth,
	}, clk, logger)
	convs := conversation.NewStore(logger)
	dispatcher := event.NewDispatcher(logger)
	districts := seedCity(logger)

	// Initialize PostgreSQL archive
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without archive", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Load persisted agents
	if pgStore != nil {
		agents, loadErr := pgStore.ListAgents(context.Background())
		if loadErr != nil {
			logger.Warn("failed to load agents from DB", zap.Error(loadErr))
		} else {
			for _, a := range agents {
				if rErr := reg.Register(a); rErr != nil {
					logger.Warn("skipping persisted agent", zap.String("id", a.ID), zap.Error(rErr))
				}
			}
			logger.Info("Loaded agents from DB", zap.Int("count", len(agents)))
		}
	}

	eng := engine.New(cfg.Engine, reg, tracker, convs, engine.NewRouterGenerator(router),
		dispatcher, districts, clk, rng, logger)
	eng.SetScorer(embedding.NewLexicalScorer())

	// Semantic recall requires Qdrant plus an embedding provider
	var qdrant *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without recall", zap.Error(qErr))
		} else {
			emb := embedding.New(embedding.Config{
				Provider:  cfg.Embedding.Provider,
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				APIKey:    cfg.Embedding.APIKey,
				Dimension: cfg.Embedding.Dimension,
			})
			index := engine.NewSemanticIndex(emb, qc)
			if iErr := index.Init(context.Background()); iErr != nil {
				logger.Warn("transcript collection init failed, running without recall", zap.Error(iErr))
			} else {
				eng.SetIndex(index)
				qdrant = qc
			}
		}
	}

	// Friendship graph requires Neo4j
	var graph *relations.Graph
	if cfg.Database.Neo4j.URI != "" {
		g, gErr := relations.NewGraph(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User,
			cfg.Database.Neo4j.Password, 0.001, logger)
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without friendship graph", zap.Error(gErr))
		} else if pErr := g.Ping(context.Background()); pErr != nil {
			logger.Warn("Neo4j unreachable, running without friendship graph", zap.Error(pErr))
		} else {
			eng.SetSocialGraph(g)
			graph = g
		}
	}

	if pgStore != nil {
		eng.SetArchiver(pgStore)
	}

	// District broadcast fan-out
	broadcaster := gateway.NewBroadcaster(logger)
	history := gateway.NewMemorySink(256)
	broadcaster.Register(history)
	if cfg.Gateway.Stream.Enabled && cfg.Gateway.Stream.URL != "" {
		stream, sErr := gateway.NewStreamSink(cfg.Gateway.Stream.URL, logger)
		if sErr != nil {
			logger.Warn("Redis unavailable, running without district streams", zap.Error(sErr))
		} else {
			broadcaster.Register(stream)
		}
	}
	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		broadcaster.Register(gateway.NewSlackSink(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.Channel, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		discord, dErr := gateway.NewDiscordSink(cfg.Gateway.Discord.BotToken, cfg.Gateway.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord unavailable", zap.Error(dErr))
		} else {
			broadcaster.Register(discord)
		}
	}
	eng.SetBroadcaster(broadcaster)

	// Autonomous scheduling
	schedCtx, stopSched := context.WithCancel(context.Background())
	sched := scheduler.New(cfg.Scheduler, eng, reg, tracker, convs, clk,
		rand.New(rand.NewSource(time.Now().UnixNano()+1)), logger)
	if graph != nil {
		sched.SetDecayer(graph)
	}
	go sched.Run(schedCtx)

	// Build HTTP handler
	handler := api.NewHandler(eng, reg, convs, tracker, districts, history, logger)
	if pgStore != nil {
		handler.SetRoster(pgStore)
	}

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Agora listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Agora...")
	stopSched()
	ctx := context.Background()
	srv.Shutdown(ctx)
	broadcaster.Close()
	if graph != nil {
		graph.Close(ctx)
	}
	if qdrant != nil {
		qdrant.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

// seedCity registers the default districts and the well-known places in
// each. Locations not listed here resolve to downtown.
func seedCity(logger *zap.Logger) *city.Directory {
	d := city.NewDirectory(logger)
	d.AddDistrict(city.District{ID: "downtown", Name: "Downtown", Mood: 0.6, Culture: "fast-paced and commercial"})
	d.AddDistrict(city.District{ID: "old-town", Name: "Old Town", Mood: 0.7, Culture: "traditional, proud of its history"})
	d.AddDistrict(city.District{ID: "riverside", Name: "Riverside", Mood: 0.65, Culture: "laid-back and artistic"})
	d.AddDistrict(city.District{ID: "market", Name: "Market Quarter", Mood: 0.55, Culture: "loud, bargaining, gossipy"})

	d.MapLocation("the square", "downtown")
	d.MapLocation("city library", "downtown")
	d.MapLocation("clock tower cafe", "old-town")
	d.MapLocation("chapel garden", "old-town")
	d.MapLocation("river walk", "riverside")
	d.MapLocation("boathouse", "riverside")
	d.MapLocation("spice stalls", "market")
	d.MapLocation("fish market", "market")
	return d
}
