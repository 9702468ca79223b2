package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/coursely/coursely-backend/internal/config"
	"github.com/coursely/coursely-backend/internal/database"
	"github.com/coursely/coursely-backend/internal/logger"
	"github.com/coursely/coursely-backend/internal/model"
	"github.com/coursely/coursely-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// seed-demo fills an empty database with one instructor, two students, a
// course with enrollments, and two assignments (one timed and proctored, one
// untimed). Every account uses the password "password".
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	userRepo := repository.NewUserRepository(pool)

	hash, err := bcrypt.GenerateFromPassword([]byte("password"), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Hash failed")
	}

	instructor := seedUser(ctx, userRepo, "Dana Instructor", "instructor@coursely.test", string(hash), model.RoleInstructor)
	alice := seedUser(ctx, userRepo, "Alice Student", "alice@coursely.test", string(hash), model.RoleStudent)
	bob := seedUser(ctx, userRepo, "Bob Student", "bob@coursely.test", string(hash), model.RoleStudent)

	courseID := uuid.New()
	mustExec(ctx, pool,
		`INSERT INTO courses (id, title, instructor_id) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		courseID, "Introduction to Distributed Systems", instructor.ID)

	for _, studentID := range []int{alice.ID, bob.ID} {
		mustExec(ctx, pool,
			`INSERT INTO enrollments (course_id, student_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			courseID, studentID)
	}

	quizID := uuid.New()
	mustExec(ctx, pool,
		`INSERT INTO assignments (id, course_id, title, description, total_points, anti_cheat, time_limit_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		quizID, courseID, "Week 1 Quiz", "Closed-book quiz on consensus basics.", 20, true, 15)

	mustExec(ctx, pool,
		`INSERT INTO assignment_questions (id, assignment_id, kind, prompt, points, options, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), quizID, model.QuestionKindMultipleChoice,
		"Which property does Raft guarantee for committed entries?", 10,
		[]string{"Durability across leader changes", "Sub-millisecond latency", "Exactly-once delivery to clients"}, 1)

	mustExec(ctx, pool,
		`INSERT INTO assignment_questions (id, assignment_id, kind, prompt, points, options, order_num)
		 VALUES ($1, $2, $3, $4, $5, NULL, $6)`,
		uuid.New(), quizID, model.QuestionKindFreeText,
		"Explain why a two-node cluster cannot tolerate a failure.", 10, 2)

	essayID := uuid.New()
	mustExec(ctx, pool,
		`INSERT INTO assignments (id, course_id, title, description, total_points, anti_cheat, time_limit_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		essayID, courseID, "Design Essay", "Compare leader-based and leaderless replication.", 100, false, 0)

	fmt.Println("Demo data seeded:")
	fmt.Printf("  course_id:     %s\n", courseID)
	fmt.Printf("  quiz_id:       %s (proctored, 15 min)\n", quizID)
	fmt.Printf("  essay_id:      %s (untimed)\n", essayID)
	fmt.Println("  accounts:      instructor@coursely.test, alice@coursely.test, bob@coursely.test (password: password)")
}

func seedUser(ctx context.Context, repo *repository.UserRepository, name, email, hash string, role model.Role) *model.User {
	u := &model.User{Name: name, Email: email, PasswordHash: hash, Role: role}
	err := repo.Create(ctx, u)
	if err == nil {
		return u
	}
	if errors.Is(err, repository.ErrDuplicate) {
		existing, getErr := repo.GetByEmail(ctx, email, role)
		if getErr == nil {
			return existing
		}
		err = getErr
	}
	fmt.Printf("Error seeding user %s: %v\n", email, err)
	panic(err)
}

func mustExec(ctx context.Context, pool *pgxpool.Pool, sql string, args ...interface{}) {
	if _, err := pool.Exec(ctx, sql, args...); err != nil {
		panic(fmt.Sprintf("seed exec failed: %v", err))
	}
}
