package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"dealflow/db"
	"dealflow/db/migrations"
	"dealflow/internal/config"
	"dealflow/internal/handlers"
	"dealflow/internal/logger"
)

// discardBlobStore swallows uploaded bytes. Deployments wire a real object
// store here.
type discardBlobStore struct{}

func (discardBlobStore) Put(_ context.Context, _ string, _ string, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// logNotifier logs events instead of delivering them.
type logNotifier struct {
	log *zap.Logger
}

func (n logNotifier) Notify(_ context.Context, recipientID int, event string, _ any) {
	n.log.Info("notify", zap.Int("recipient", recipientID), zap.String("event", event))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}
	zl := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zl.Sync()

	dbConn, err := sqlx.Connect("postgres", cfg.Database.Postgres.GetDSN())
	if err != nil {
		zl.Fatal("cannot connect to db", zap.Error(err))
	}
	defer dbConn.Close()
	dbConn.SetMaxOpenConns(cfg.Database.Postgres.MaxConnections)
	dbConn.SetMaxIdleConns(cfg.Database.Postgres.MaxIdle)

	if err := migrations.Run(dbConn); err != nil {
		zl.Fatal("migrations failed", zap.Error(err))
	}

	store := db.NewStorage(dbConn)
	h := handlers.NewHandler(store, discardBlobStore{}, logNotifier{log: zl}, zl)

	r := chi.NewRouter()
	r.Use(handlers.RequestLogger(zl))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)

		// deals
		r.Post("/deals", h.CreateDealHandler)
		r.Get("/deals", h.ListDealsHandler)
		r.Get("/deals/{dealId}", h.GetDealHandler)
		r.Post("/deals/{dealId}/status", h.SetDealStatusHandler)
		r.Get("/deals/{dealId}/readiness", h.ReadinessHandler)

		// parties
		r.Post("/deal-parties", h.CreatePartyHandler)
		r.Get("/deal-parties", h.ListPartiesHandler)
		r.Post("/deal-parties/replace-solicitor", h.ReplaceSolicitorHandler)
		r.Post("/deal-parties/{partyId}/confirm", h.ConfirmPartyHandler)
		r.Post("/deal-parties/{partyId}/remove", h.RemovePartyHandler)

		// procurement
		r.Get("/provider-enquiries", h.ListEnquiriesHandler)
		r.Get("/provider-enquiries/matching-providers", h.MatchingProvidersHandler)
		r.Post("/provider-enquiries/request-quotes", h.RequestQuotesHandler)
		r.Post("/provider-enquiries/{enquiryId}/view", h.ViewEnquiryHandler)
		r.Post("/provider-enquiries/{enquiryId}/acknowledge", h.AcknowledgeEnquiryHandler)
		r.Post("/provider-enquiries/{enquiryId}/decline", h.DeclineEnquiryHandler)

		// quotes
		r.Post("/provider-quotes", h.SubmitQuoteHandler)
		r.Get("/provider-quotes", h.ListQuotesHandler)
		r.Post("/provider-quotes/{quoteId}/accept", h.AcceptQuoteHandler)
		r.Post("/provider-quotes/{quoteId}/reject", h.RejectQuoteHandler)
		r.Post("/provider-quotes/{quoteId}/negotiate", h.NegotiateQuoteHandler)
		r.Post("/provider-quotes/{quoteId}/revise", h.ReviseQuoteHandler)

		// selections
		r.Post("/deal-provider-selections", h.CreateSelectionHandler)
		r.Get("/deal-provider-selections", h.ListSelectionsHandler)
		r.Post("/deal-provider-selections/{selectionId}/approve", h.ApproveSelectionHandler)
		r.Post("/deal-provider-selections/{selectionId}/decline", h.DeclineSelectionHandler)

		// stages and tasks
		r.Get("/provider-stages", h.ListStagesHandler)
		r.Post("/provider-stages/{stageId}/advance_stage", h.AdvanceStageHandler)
		r.Post("/deal-tasks", h.CreateTaskHandler)
		r.Get("/deal-tasks", h.ListTasksHandler)
		r.Post("/deal-tasks/{taskId}/start", h.StartTaskHandler)
		r.Post("/deal-tasks/{taskId}/complete", h.CompleteTaskHandler)

		// legal
		r.Post("/deal-cps", h.CreateCPHandler)
		r.Get("/deal-cps", h.ListCPsHandler)
		r.Post("/deal-cps/{cpId}/approve", h.ApproveCPHandler)
		r.Post("/deal-cps/{cpId}/reject", h.RejectCPHandler)
		r.Post("/deal-cps/{cpId}/waive", h.WaiveCPHandler)
		r.Post("/deal-requisitions", h.CreateRequisitionHandler)
		r.Get("/deal-requisitions", h.ListRequisitionsHandler)
		r.Post("/deal-requisitions/{requisitionId}/respond", h.RespondRequisitionHandler)
		r.Post("/deal-requisitions/{requisitionId}/approve", h.ApproveRequisitionHandler)
		r.Post("/deal-requisitions/{requisitionId}/reject", h.RejectRequisitionHandler)
		r.Post("/deal-requisitions/{requisitionId}/close", h.CloseRequisitionHandler)

		// drawdowns
		r.Post("/drawdowns", h.CreateDrawdownHandler)
		r.Get("/drawdowns", h.ListDrawdownsHandler)
		r.Get("/drawdowns/{drawdownId}", h.GetDrawdownHandler)
		r.Post("/drawdowns/{drawdownId}/ms_start_review", h.MSStartReviewHandler)
		r.Post("/drawdowns/{drawdownId}/ms_schedule_site_visit", h.MSScheduleSiteVisitHandler)
		r.Post("/drawdowns/{drawdownId}/ms_complete_site_visit", h.MSCompleteSiteVisitHandler)
		r.Post("/drawdowns/{drawdownId}/ms_approve", h.MSApproveHandler)
		r.Post("/drawdowns/{drawdownId}/ms_reject", h.MSRejectHandler)
		r.Post("/drawdowns/{drawdownId}/approve", h.ApproveDrawdownHandler)
		r.Post("/drawdowns/{drawdownId}/reject", h.RejectDrawdownHandler)
		r.Post("/drawdowns/{drawdownId}/mark_paid", h.MarkDrawdownPaidHandler)
		r.Post("/drawdowns/{drawdownId}/upload_documents", h.UploadDrawdownDocumentsHandler)
		r.Get("/drawdowns/{drawdownId}/documents", h.ListDrawdownDocumentsHandler)

		// review
		r.Post("/provider-deliverables", h.CreateDeliverableHandler)
		r.Get("/provider-deliverables", h.ListDeliverablesHandler)
		r.Post("/provider-deliverables/{deliverableId}/review", h.ReviewDeliverableHandler)
		r.Post("/provider-deliverables/{deliverableId}/revision", h.UploadDeliverableRevisionHandler)
		r.Post("/provider-appointments", h.CreateAppointmentHandler)
		r.Get("/provider-appointments", h.ListAppointmentsHandler)
		r.Post("/provider-appointments/{appointmentId}/confirm", h.ConfirmAppointmentHandler)
		r.Post("/provider-appointments/{appointmentId}/reschedule", h.RescheduleAppointmentHandler)
		r.Post("/provider-appointments/{appointmentId}/cancel", h.CancelAppointmentHandler)
		r.Post("/provider-appointments/{appointmentId}/complete", h.CompleteAppointmentHandler)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background sweep: overdue open enquiries expire on a timer, never in
	// request paths.
	go func() {
		ticker := time.NewTicker(cfg.Sweep.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				n, err := store.ExpireOverdueEnquiries(ctx, now)
				if err != nil {
					zl.Error("enquiry expiry sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					zl.Info("expired overdue enquiries", zap.Int64("count", n))
				}
			}
		}
	}()

	srv := &http.Server{Addr: cfg.Server.Address, Handler: r}
	go func() {
		zl.Info("starting server", zap.String("addr", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown error", zap.Error(err))
	}
	zl.Info("server stopped")
}
