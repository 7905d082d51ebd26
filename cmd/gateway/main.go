package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/edulab/cbt-engine/internal/api/http"
	auth "github.com/edulab/cbt-engine/internal/auth/middleware"
	"github.com/edulab/cbt-engine/internal/config"
	"github.com/edulab/cbt-engine/internal/db"
	"github.com/edulab/cbt-engine/internal/exam"
	"github.com/edulab/cbt-engine/internal/notify"
	"github.com/edulab/cbt-engine/internal/rbac"
)

func main() {
	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}

	store := exam.NewSQLStore(dbh)
	svc := exam.NewService(store, exam.WithNotifier(notify.LogNotifier{}))
	gate := exam.NewGate(svc, store)

	sched := exam.NewScheduler(svc, store,
		exam.WithTick(cfg.SchedulerTick),
		exam.WithRescan(cfg.SchedulerRescan))
	svc.OnAttemptStarted(sched.Track)
	go sched.Run(context.Background())

	authSvc := auth.NewAuthService(cfg.AuthSecret)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))

	// Protected API (JWT → identity in context → RBAC route guard → gate)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.With(rbac.Require("exam:create")).
			Post("/exams", api.CreateExamHandler(gate))
		pr.With(rbac.Require("exam:view")).
			Get("/exams/{examID}", api.GetExamHandler(gate))
		pr.With(rbac.Require("attempt:reset")).
			Post("/exams/{examID}/reset", api.ResetAttemptsHandler(gate))

		pr.With(rbac.Require("attempt:create")).
			Post("/attempts", api.StartAttemptHandler(gate))
		pr.With(rbac.Require("attempt:save")).
			Post("/attempts/{attemptID}/answers", api.RecordAnswerHandler(gate))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(gate))
		pr.With(rbac.Require("attempt:view")).
			Get("/attempts/{attemptID}", api.GetAttemptStatusHandler(gate))
		pr.With(rbac.Require("attempt:list")).
			Get("/attempts", api.ListAttemptsHandler(gate))

		pr.With(rbac.Require("result:view")).
			Get("/attempts/{attemptID}/result", api.GetResultHandler(gate))
		pr.With(rbac.Require("attempt:grade")).
			Post("/attempts/{attemptID}/grades", api.SubmitManualGradeHandler(gate))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (db=%s)", cfg.HTTPAddr, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
