package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/AnastRaja/chatbot-sub000/authorization"
	"github.com/AnastRaja/chatbot-sub000/cache"
	"github.com/AnastRaja/chatbot-sub000/chat"
	"github.com/AnastRaja/chatbot-sub000/config"
	"github.com/AnastRaja/chatbot-sub000/database"
	"github.com/AnastRaja/chatbot-sub000/knowledge"
	"github.com/AnastRaja/chatbot-sub000/leads"
	"github.com/AnastRaja/chatbot-sub000/llm"
	"github.com/AnastRaja/chatbot-sub000/projects"
	"github.com/AnastRaja/chatbot-sub000/realtime"
	"github.com/AnastRaja/chatbot-sub000/storage"
)

const (
	knowledgeWorkers = 2
	captchaTTL       = 5 * time.Minute
	shutdownTimeout  = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireServe(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer cache.Close(redisClient)
	if redisClient == nil {
		log.Info("redis disabled: history cache and cross-instance events are off")
	}

	catalog, err := llm.LoadCatalog(cfg.LLM.CatalogFile, cfg.LLM.Model)
	if err != nil {
		return err
	}
	projectStore := projects.NewStore(db, cfg.Chat.MaxQuickQuestions)
	projectStore.RestrictModels(catalog)

	// Without a provider key every turn is answered with the fallback reply.
	var completer llm.Completer
	if client, err := llm.NewChatClient(cfg.LLM); err != nil {
		log.Warn("chat model unavailable, replies will use the fallback", "err", err)
	} else {
		completer = client
	}

	knowledgeService, err := newKnowledgeService(ctx, cfg, db)
	if err != nil {
		return err
	}
	var searcher chat.Searcher
	if knowledgeService != nil {
		knowledgeService.Start(knowledgeWorkers)
		defer knowledgeService.Close()
		projectStore.OnDelete(knowledgeService.PurgeOriginals)
		searcher = knowledgeService
	}

	dispatcher := leads.NewDispatcher(leads.NewEngine(db), cfg.Leads)
	defer dispatcher.Close()

	hub := realtime.NewHub(redisClient)
	go func() {
		if err := hub.Run(ctx); err != nil {
			log.Error("realtime relay stopped", "err", err)
		}
	}()

	ledger := chat.NewLedger(db, redisClient, cfg.Chat)
	pipeline := chat.NewPipeline(chat.Deps{
		Projects: projectStore,
		Ledger:   ledger,
		Search:   searcher,
		Composer: llm.NewComposer(completer, llm.ComposerOptions{
			FallbackReply: cfg.Chat.FallbackReply,
			MaxTokens:     cfg.LLM.MaxTokens,
			Temperature:   cfg.LLM.Temperature,
		}),
		Summarizer: llm.NewSummarizer(completer, cfg.LLM.Model),
		Leads:      dispatcher,
		Events:     hub,
	}, cfg.Chat)
	defer pipeline.Wait()

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), corsMiddleware(cfg.Server.AllowedOrigins, cfg.Server.WidgetOrigins))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authModule, err := authorization.RegisterRoutes(router, db, cfg.Auth, authorization.NewCaptchaStore(captchaTTL))
	if err != nil {
		return err
	}
	requireAuth := authModule.Guard().RequireAuthenticated()

	projects.RegisterRoutes(router, requireAuth, projectStore)
	llm.RegisterRoutes(router, requireAuth, catalog)
	if knowledgeService != nil {
		knowledge.RegisterRoutes(router, requireAuth, knowledgeService, projectStore, cfg.Knowledge.MaxUploadBytes)
	}
	leads.RegisterRoutes(router, requireAuth, leads.NewStore(db), projectStore)
	chat.RegisterRoutes(router, requireAuth, pipeline, ledger, projectStore)
	realtime.RegisterRoutes(router, requireAuth, hub, projectStore, ledger, cfg.Server.AllowedOrigins, cfg.Server.WidgetOrigins)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newKnowledgeService returns nil when no embedding provider is configured.
func newKnowledgeService(ctx context.Context, cfg *config.Config, db *gorm.DB) (*knowledge.Service, error) {
	embedder, err := knowledge.NewHTTPEmbedder(cfg.Embedding)
	if err != nil {
		log.Warn("knowledge base disabled", "err", err)
		return nil, nil
	}
	originals, err := storage.NewDocumentStorage(ctx, cfg.MinIO)
	if err != nil {
		return nil, err
	}
	if originals == nil {
		log.Info("object storage disabled: uploaded originals are not kept")
	}
	return knowledge.NewService(db, embedder, originals, cfg.Knowledge)
}

// corsMiddleware applies the widget origin list to /widget routes and the
// dashboard list everywhere else.
func corsMiddleware(dashboardOrigins, widgetOrigins []string) gin.HandlerFunc {
	dashboard := corsPolicy(dashboardOrigins)
	widget := corsPolicy(widgetOrigins)
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/widget/") {
			widget(c)
			return
		}
		dashboard(c)
	}
}

func corsPolicy(origins []string) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	return cors.New(corsConfig)
}
