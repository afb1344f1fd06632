package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"medtrack/internal/notifier"
	"medtrack/internal/reminder"
	"medtrack/internal/storage"
	logx "medtrack/pkg/logx"
)

// Scheduler is the part of the dispatcher the API exposes.
type Scheduler interface {
	Active() bool
	Snapshot() reminder.Snapshot
	RunOnce(ctx context.Context) (reminder.TickReport, error)
}

type Options struct {
	Store  storage.Store
	Sender notifier.Sender
	// Scheduler may be nil; status endpoints then report it inactive.
	Scheduler Scheduler
	Log       logx.Logger
	Location  *time.Location
	Now       func() time.Time

	// Token, when set, is required as a bearer token on everything except /health.
	Token string
	Pprof bool

	// Runtime adds an extra block to GET /health.
	Runtime func() any
}

type handlers struct {
	store  storage.Store
	sender notifier.Sender
	sched  Scheduler
	log    logx.Logger
	loc    *time.Location
	now    func() time.Time
	rt     func() any
}

func NewRouter(opts Options) http.Handler {
	h := &handlers{
		store:  opts.Store,
		sender: opts.Sender,
		sched:  opts.Scheduler,
		log:    opts.Log,
		loc:    opts.Location,
		now:    opts.Now,
		rt:     opts.Runtime,
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	if h.loc == nil {
		h.loc = time.Local
	}
	if h.now == nil {
		h.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(opts.Token))

		r.Get("/health/db", h.healthDB)

		r.Route("/medications", func(mr chi.Router) {
			mr.Get("/", h.listMedications)
			mr.Post("/", h.createMedication)

			mr.Route("/{id}", func(ir chi.Router) {
				ir.Get("/", h.getMedication)
				ir.Put("/", h.updateMedication)
				ir.Delete("/", h.deleteMedication)
				ir.Patch("/quantity", h.setQuantity)
				ir.Get("/schedule", h.schedule)
				ir.Get("/notification-status", h.notificationStatus)
				ir.Patch("/taken", h.markTaken)
				ir.Post("/test-notification", h.testNotification)
				ir.Get("/doses", h.doseLog)
			})
		})

		r.Get("/scheduler", h.schedulerSnapshot)
		r.Post("/scheduler/tick", h.schedulerTick)

		if opts.Pprof {
			r.Mount("/debug", chimw.Profiler())
		}
	})
	return r
}
