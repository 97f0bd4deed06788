package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mindcraft/mindcraft-backend/internal/config"
	"github.com/mindcraft/mindcraft-backend/internal/database"
	"github.com/mindcraft/mindcraft-backend/internal/logger"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/mindcraft/mindcraft-backend/internal/repository"
	"github.com/mindcraft/mindcraft-backend/internal/service"
	"github.com/mindcraft/mindcraft-backend/internal/validator"
)

// seedFile is the JSON layout accepted by seed-exam.
type seedFile struct {
	Title            string            `json:"title" binding:"required,max=200"`
	Topic            *string           `json:"topic"`
	TimeLimitMinutes int               `json:"time_limit_minutes" binding:"required,min=1,max=600"`
	AttemptLimit     int               `json:"attempt_limit" binding:"required,min=1"`
	ReleaseMode      model.ReleaseMode `json:"release_mode" binding:"omitempty,oneof=auto manual"`
	ScheduledStart   *time.Time        `json:"scheduled_start"`
	ScheduledEnd     *time.Time        `json:"scheduled_end"`
	Questions        []model.Question  `json:"questions" binding:"required,min=1"`
}

func main() {
	var (
		path      string
		studentID string
		tokenTTL  time.Duration
	)
	flag.StringVar(&path, "file", "exam.json", "Path to the exam JSON file")
	flag.StringVar(&studentID, "dev-token-for", "", "Also print a student token for this UUID (development only)")
	flag.DurationVar(&tokenTTL, "token-ttl", 12*time.Hour, "Lifetime of the development token")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to read exam file")
	}

	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to parse exam file")
	}
	if fields := validator.Struct(&seed); fields != nil {
		log.Fatal().Interface("fields", fields).Msg("Exam file is invalid")
	}
	if seed.ReleaseMode == "" {
		seed.ReleaseMode = model.ReleaseModeAuto
	}
	for i := range seed.Questions {
		if err := seed.Questions[i].Validate(); err != nil {
			log.Fatal().Err(err).Int("question", i+1).Msg("Question is invalid")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	exam := &model.Exam{
		Title:            seed.Title,
		Topic:            seed.Topic,
		TimeLimitMinutes: seed.TimeLimitMinutes,
		AttemptLimit:     seed.AttemptLimit,
		ReleaseMode:      seed.ReleaseMode,
		ScheduledStart:   seed.ScheduledStart,
		ScheduledEnd:     seed.ScheduledEnd,
	}

	var copied int64
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := examRepo.CreateTx(ctx, tx, exam); err != nil {
			return fmt.Errorf("insert exam: %w", err)
		}
		n, err := questionRepo.CopyTx(ctx, tx, exam.ID, seed.Questions)
		if err != nil {
			return fmt.Errorf("insert questions: %w", err)
		}
		copied = n
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}

	fmt.Printf("Seeded exam %q (%s) with %d questions\n", exam.Title, exam.ID, copied)

	if studentID == "" {
		return
	}
	id, err := uuid.Parse(studentID)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -dev-token-for UUID")
	}
	token, err := service.NewAuthService(cfg).IssueToken(id, service.RoleStudent, tokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}
	fmt.Printf("Student token: %s\n", token)
}
