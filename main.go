package main

import (
	"context"
	"log"
	"os"
	"time"

	"chainflow/internal/api"
	"chainflow/internal/chain"
	"chainflow/internal/config"
	"chainflow/internal/llm"
	"chainflow/internal/persist"
	"chainflow/internal/store"
	"chainflow/internal/synthesis"
	"chainflow/internal/toolclient"
	"chainflow/internal/worker"

	"github.com/cloudwego/eino/components/tool"
	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("CHAINFLOW_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()

	persister, closePersister, err := buildPersister(cfg)
	if err != nil {
		log.Fatalf("init persistence: %v", err)
	}
	if closePersister != nil {
		defer closePersister()
	}

	st := store.New(store.Config{
		ContextWindowSize:  cfg.BasicConfig.ContextWindowSize,
		DefaultMaxMessages: cfg.BasicConfig.MaxMessages,
	}, persister)
	log.Printf("store ready, %d sessions restored", st.SessionCount())

	tools, agentTools, err := buildToolClient(ctx, cfg)
	if err != nil {
		log.Fatalf("init tool client: %v", err)
	}
	defer tools.Close()

	provider := cfg.BasicConfig.Provider
	invoker, err := llm.New(ctx, provider, cfg.Providers[provider], agentTools)
	if err != nil {
		log.Fatalf("init %s model: %v", provider, err)
	}

	orchestrator := chain.New(st, invoker, tools, synthesis.New(nil), chain.Options{
		MaxMessages:    cfg.BasicConfig.MaxMessages,
		MaxConcurrency: cfg.BasicConfig.MaxConcurrency,
		StepTimeout:    time.Duration(cfg.BasicConfig.StepTimeoutSec) * time.Second,
	})

	dispatcher := worker.NewDispatcher(
		orchestrator,
		cfg.BasicConfig.MinWorkers,
		cfg.BasicConfig.MaxWorkers,
		cfg.BasicConfig.QueueSize,
		time.Duration(cfg.BasicConfig.WorkerIdleMin)*time.Minute,
	)

	if maxAge := cfg.BasicConfig.SessionMaxAgeMin; maxAge > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(maxAge) * time.Minute / 2)
			defer ticker.Stop()
			for range ticker.C {
				if n := st.Cleanup(time.Duration(maxAge) * time.Minute); n > 0 {
					log.Printf("cleanup removed %d idle sessions", n)
				}
			}
		}()
	}

	router := gin.Default()
	api.NewHandler(st, dispatcher).RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8080"
	}
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// buildPersister picks the session persistence backend. An empty
// persistence setting keeps the store memory-only.
func buildPersister(cfg *config.Config) (store.Persister, func() error, error) {
	switch cfg.BasicConfig.Persistence {
	case "":
		return nil, nil, nil
	case "redis":
		ttl := time.Duration(cfg.BasicConfig.SessionMaxAgeMin) * time.Minute
		r, err := persist.NewRedisStore(cfg, ttl)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		s, err := persist.OpenSQL(cfg.BasicConfig.Persistence, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

// buildToolClient prefers a configured MCP server and falls back to the
// in-process tool registry with web search and local resources. On the
// local path it also returns the registered eino tools so the invoker
// can wrap the model in a react agent.
func buildToolClient(ctx context.Context, cfg *config.Config) (toolclient.Client, []tool.BaseTool, error) {
	if cfg.MCP.Command != "" {
		mcp, err := toolclient.NewMCPClient(cfg.MCP)
		if err != nil {
			return nil, nil, err
		}
		if err := mcp.Initialize(ctx); err != nil {
			return nil, nil, err
		}
		log.Printf("mcp client ready: %s", cfg.MCP.Command)
		return mcp, nil, nil
	}

	local, err := toolclient.NewLocalClient(cfg.BasicConfig.ResourceDir)
	if err != nil {
		return nil, nil, err
	}
	var agentTools []tool.BaseTool
	for _, t := range []tool.InvokableTool{toolclient.NewWebSearchTool()} {
		if t == nil {
			continue
		}
		if err := local.Register(ctx, t); err != nil {
			log.Printf("register tool: %v", err)
			continue
		}
		agentTools = append(agentTools, t)
	}
	if err := local.Initialize(ctx); err != nil {
		return nil, nil, err
	}
	return local, agentTools, nil
}
