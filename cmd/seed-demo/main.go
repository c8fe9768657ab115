package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/provexa/proctor-backend/internal/database"
	"github.com/provexa/proctor-backend/internal/logger"
	"golang.org/x/crypto/bcrypt"
)

// Seeds a demo institute with one published test, its question paper,
// a 20-student roster, and an admin account for the monitoring dashboard.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	fmt.Println("=== Seeding Demo Proctoring Data ===")

	// Institute (idempotent by name).
	var instituteID uuid.UUID
	err = pool.QueryRow(ctx, "SELECT id FROM institutes WHERE name = $1", "Demo Institute").Scan(&instituteID)
	if err != nil {
		if err != pgx.ErrNoRows {
			log.Fatal().Err(err).Msg("Failed to check existing institute")
		}
		err = pool.QueryRow(ctx,
			`INSERT INTO institutes (name) VALUES ($1) RETURNING id`,
			"Demo Institute",
		).Scan(&instituteID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create institute")
		}
		fmt.Printf("Created institute: %s\n", instituteID)
	} else {
		fmt.Printf("Found existing institute: %s\n", instituteID)
	}

	// Admin account.
	hash, err := bcrypt.GenerateFromPassword([]byte("demo-admin-pass"), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash admin password")
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO admins (institute_id, email, name, password_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO NOTHING`,
		instituteID, "admin@demo.test", "Demo Admin", string(hash),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create admin")
	}

	// Published test.
	var testID uuid.UUID
	err = pool.QueryRow(ctx,
		`INSERT INTO tests (institute_id, title, duration_minutes, scheduled_start, violation_limit, status)
		 VALUES ($1, $2, $3, $4, $5, 'PUBLISHED')
		 RETURNING id`,
		instituteID, "General Knowledge Demo", 30, time.Now().Add(-time.Minute), cfg.DefaultViolationLimit,
	).Scan(&testID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create test")
	}
	fmt.Printf("Created test: %s\n", testID)

	// Questions.
	options, _ := json.Marshal(map[string]string{
		"A": "Option A", "B": "Option B", "C": "Option C", "D": "Option D",
	})
	for i := 1; i <= 10; i++ {
		_, err = pool.Exec(ctx,
			`INSERT INTO questions (test_id, question_text, options, order_num)
			 VALUES ($1, $2, $3, $4)`,
			testID, fmt.Sprintf("Demo question %d?", i), options, i,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create question")
		}
	}

	// Roster.
	successCount := 0
	for i := 1; i <= 20; i++ {
		_, err := pool.Exec(ctx,
			`INSERT INTO test_students (test_id, user_id, name, email)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (test_id, user_id) DO NOTHING`,
			testID, 1000+i, fmt.Sprintf("Student %02d", i), fmt.Sprintf("student%02d@demo.test", i),
		)
		if err != nil {
			fmt.Printf("Error creating roster entry %d: %v\n", i, err)
		} else {
			successCount++
		}
	}

	fmt.Printf("\nSeed completed! Institute %s, test %s, %d/20 roster entries.\n", instituteID, testID, successCount)
	fmt.Println("Admin login: admin@demo.test / demo-admin-pass")
}
