package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"horizon-apply-service/internal/app"
	"horizon-apply-service/internal/config"
	"horizon-apply-service/internal/domain"
	"horizon-apply-service/internal/infra/captcha"
	"horizon-apply-service/internal/infra/discord"
	"horizon-apply-service/internal/infra/memory"
	pgstore "horizon-apply-service/internal/infra/postgres"
	redisinfra "horizon-apply-service/internal/infra/redis"
	transport "horizon-apply-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the application service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	var bunDB *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB = bun.NewDB(sqldb, pgdialect.New())
		defer bunDB.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var submissions app.SubmissionStore
	var grants app.GrantSource = memory.NewStaticGrantSource(cfg.Grants())
	if bunDB != nil {
		submissions = pgstore.NewSubmissionStore(bunDB)
		grants = pgstore.NewRoleStore(bunDB)
	} else {
		submissions = memory.NewSubmissionStore()
	}

	var attempts app.AttemptRegistry
	if redisClient != nil {
		attempts = redisinfra.NewAttemptRegistry(redisClient, redisTTL)
	} else {
		attempts = memory.NewAttemptRegistry()
	}

	var roles app.RoleProvider = memory.NewStaticRoleProvider(nil)
	if cfg.Discord.BotToken != "" && cfg.Discord.GuildID != "" {
		roles = discord.NewRoleProvider(cfg.Discord.APIBase, cfg.Discord.BotToken, cfg.Discord.GuildID)
	}

	verifier := captcha.NewVerifier(cfg.Captcha.VerifyURL, cfg.Captcha.Secret)
	notifier := discord.NewNotifier(cfg.Discord.WebhookURL)

	applyService := app.NewApplyService(quizRepo, submissions, verifier, attempts)
	reviewService := app.NewReviewService(submissions, quizRepo, notifier, notifier)
	revalidators := app.NewRevalidatorPool(roles, grants, cfg.Permissions.SuperAdminRoles, cfg.RevalidateMinGap())

	auth := transport.NewAuthenticator(cfg.Auth.JWTSecret, grants, cfg.Permissions.SuperAdminRoles)
	wsHandler := transport.NewWSHandler(applyService, auth)
	reviewHandler := transport.NewReviewHandler(applyService, reviewService, auth, revalidators)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	reviewHandler.Register(mux)

	// Scheduled permission revalidation; focus events arrive through the
	// /api/session/revalidate endpoint. Both share the same rate limit.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.RevalidateEvery()), func() {
		revalidators.RevalidateAll(context.Background())
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting apply service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes provides minimal quiz data for running without Postgres.
func sampleQuizzes() map[string]domain.Quiz {
	opened := time.Now().Add(-24 * time.Hour)
	return map[string]domain.Quiz{
		"police-dept": {
			ID:              "police-dept",
			TitleKey:        "apply.police.title",
			InstructionsKey: "apply.police.instructions",
			IsOpen:          true,
			LastOpenedAt:    &opened,
			Questions: []domain.Question{
				{ID: "q1", TextKey: "apply.police.q1", TimeLimit: 120},
				{ID: "q2", TextKey: "apply.police.q2", TimeLimit: 90},
				{ID: "q3", TextKey: "apply.police.q3", TimeLimit: 60},
			},
		},
	}
}
