package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/broker"
	"quiz-room-service/internal/infra/memory"
	"quiz-room-service/internal/infra/postgres"
	infraredis "quiz-room-service/internal/infra/redis"
	transport "quiz-room-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
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
	logger := newLogger(cfg.Logging)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
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
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(nil).WithFallback(sampleQuestions())
	if pool != nil {
		loader = postgres.NewQuestionLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = infraredis.NewQuestionRepository(redisClient, loader, quizTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, quizTTL)
	}

	var recorders app.Recorders
	if pool != nil {
		recorders = append(recorders, postgres.NewGameRecorder(pool))
	}
	if cfg.NATS.URL != "" {
		nc, err := broker.Connect(cfg.NATS.URL, "quiz-room-service")
		if err != nil {
			return err
		}
		defer nc.Drain()
		recorders = append(recorders, broker.NewGamePublisher(nc, cfg.NATS.Subject))
	}
	var recorder app.GameRecorder
	if len(recorders) > 0 {
		recorder = recorders
	}

	svcCfg := serviceConfig(cfg)
	if redisClient != nil {
		instance := cfg.Server.Instance
		if instance == "" {
			instance, _ = os.Hostname()
		}
		svcCfg.Observer = infraredis.NewRoomPresence(redisClient, instance, config.TTLDuration(cfg.Redis.TTL, 0), logger)
	}

	service := app.NewQuizService(questions, recorder, svcCfg, logger)
	defer service.Close()

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(service, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func serviceConfig(cfg config.Config) app.ServiceConfig {
	svc := app.DefaultServiceConfig()
	g := cfg.Game
	if g.MaxPlayers > 0 {
		svc.MaxPlayers = g.MaxPlayers
	}
	if g.BasePoints > 0 {
		svc.Scoring.BasePoints = g.BasePoints
	}
	svc.Scoring.MaxTimePerQuestion = config.TTLDuration(g.MaxTimePerQuestion, svc.Scoring.MaxTimePerQuestion)
	if g.SpeedBonusMultiplier > 0 {
		svc.Scoring.SpeedBonusMultiplier = g.SpeedBonusMultiplier
	}
	if g.MaxAnswerBytes > 0 {
		svc.Scoring.MaxAnswerBytes = g.MaxAnswerBytes
	}
	svc.RosterDedupWindow = config.TTLDuration(g.RosterDedupWindow, svc.RosterDedupWindow)
	svc.TimeLimit = config.TTLDuration(g.TimeLimit, 0)
	if g.ActionLogSize > 0 {
		svc.ActionLogSize = g.ActionLogSize
	}
	return svc
}

// sampleQuestions is served to every room when no database is configured.
func sampleQuestions() domain.QuestionSet {
	return domain.QuestionSet{
		Topic: "general",
		Questions: []domain.Question{
			{ID: "q1", Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectAnswer: "4"},
			{ID: "q2", Prompt: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars", "Jupiter"}, CorrectAnswer: "Mars"},
			{ID: "q3", Prompt: "What is the boiling point of water at sea level in Celsius?", Options: []string{"90", "100", "110"}, CorrectAnswer: "100"},
		},
	}
}
