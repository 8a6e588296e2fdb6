package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"horizon-apply-service/internal/app"
	"horizon-apply-service/internal/domain"
	pgstore "horizon-apply-service/internal/infra/postgres"
	pgmigrations "horizon-apply-service/internal/infra/postgres/migrations"
	infraredis "horizon-apply-service/internal/infra/redis"
)

type passVerifier struct{}

func (passVerifier) Verify(_ context.Context, token string) error {
	if token == "" {
		return domain.ErrMissingCaptcha
	}
	return nil
}

type okProbe struct{}

func (okProbe) Probe(context.Context) error { return nil }

type dropNotifier struct{}

func (dropNotifier) Notify(context.Context, string, domain.Submission) error { return nil }

func TestApplicationLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openBun(t, ctx, pgURL)
	defer db.Close()
	seedQuiz(t, ctx, db, sampleQuiz())
	seedGrant(t, ctx, db, "role-hr", domain.PermAdminSubmissions)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	quizRepo := infraredis.NewQuizRepository(redisClient, pgstore.NewQuizLoader(pool), 5*time.Minute)
	registry := infraredis.NewAttemptRegistry(redisClient, 5*time.Minute)
	submissions := pgstore.NewSubmissionStore(db)
	roleStore := pgstore.NewRoleStore(db)

	applySvc := app.NewApplyService(quizRepo, submissions, passVerifier{}, registry)
	reviewSvc := app.NewReviewService(submissions, quizRepo, okProbe{}, dropNotifier{})

	applicant := domain.User{ID: "u1", Username: "Dima"}
	session, err := applySvc.BeginAttempt(ctx, "quiz-1", applicant, "tok")
	if err != nil {
		t.Fatalf("begin attempt: %v", err)
	}

	if err := session.BufferAnswer("I patrol fairly"); err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if err := session.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	waitFor(t, func() bool {
		q, ok := session.CurrentQuestion()
		return ok && q.ID == "q2"
	})
	if err := session.BufferAnswer("Three years on the server"); err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if err := session.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	waitFor(t, func() bool { return session.State() == app.StateSubmitting })

	created, err := applySvc.Submit(ctx, "u1", "quiz-1", "tok2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created.Status != domain.StatusPending || len(created.Answers) != 2 {
		t.Fatalf("unexpected submission: %+v", created)
	}

	// Season eligibility via the persisted submission: reapplying is blocked.
	if _, err := applySvc.BeginAttempt(ctx, "quiz-1", applicant, "tok3"); !errors.Is(err, domain.ErrAlreadyApplied) {
		t.Fatalf("expected already applied, got %v", err)
	}

	grants, err := roleStore.RolePermissions(ctx)
	if err != nil {
		t.Fatalf("role permissions: %v", err)
	}
	reviewer := domain.User{
		ID:          "r1",
		Username:    "Reviewer",
		Roles:       []string{"role-hr"},
		Permissions: domain.ResolvePermissions([]string{"role-hr"}, grants, nil),
	}
	rival := domain.User{
		ID:          "r2",
		Username:    "Rival",
		Roles:       []string{"role-hr"},
		Permissions: domain.ResolvePermissions([]string{"role-hr"}, grants, nil),
	}

	taken, err := reviewSvc.Take(ctx, reviewer, created.ID)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if taken.Status != domain.StatusTaken || taken.AdminID != "r1" {
		t.Fatalf("unexpected taken submission: %+v", taken)
	}

	// The database settles the claim race: the rival loses.
	if _, err := reviewSvc.Take(ctx, rival, created.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := reviewSvc.Decide(ctx, rival, app.DecisionRequest{SubmissionID: created.ID, Accept: true}); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("expected permission error for non-claimant, got %v", err)
	}

	decided, err := reviewSvc.Decide(ctx, reviewer, app.DecisionRequest{
		SubmissionID: created.ID,
		Accept:       true,
		Reason:       "Great answers",
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != domain.StatusAccepted || decided.Reason != "Great answers" {
		t.Fatalf("unexpected decided submission: %+v", decided)
	}

	stored, err := submissions.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.Status != domain.StatusAccepted || stored.AdminUsername != "Reviewer" {
		t.Fatalf("unexpected stored submission: %+v", stored)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "apply", "POSTGRES_PASSWORD": "applypass", "POSTGRES_DB": "applydb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://apply:applypass@%s:%s/applydb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func openBun(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedQuiz(t *testing.T, ctx context.Context, db *bun.DB, quiz domain.Quiz) {
	t.Helper()
	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func seedGrant(t *testing.T, ctx context.Context, db *bun.DB, roleID string, perms ...domain.PermissionKey) {
	t.Helper()
	data, err := json.Marshal(perms)
	if err != nil {
		t.Fatalf("marshal permissions: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO role_permissions (role_id, permissions) VALUES (?, ?::jsonb) ON CONFLICT (role_id) DO UPDATE SET permissions=EXCLUDED.permissions`, roleID, string(data)); err != nil {
		t.Fatalf("insert grant: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	opened := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	return domain.Quiz{
		ID:           "quiz-1",
		TitleKey:     "apply.police.title",
		IsOpen:       true,
		LastOpenedAt: &opened,
		Questions: []domain.Question{
			{ID: "q1", TextKey: "apply.police.q1", TimeLimit: 60},
			{ID: "q2", TextKey: "apply.police.q2", TimeLimit: 60},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
