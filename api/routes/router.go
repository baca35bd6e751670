package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cooperative-backend/api/controllers"
	"github.com/angelmondragon/cooperative-backend/api/middleware"
	"github.com/angelmondragon/cooperative-backend/internal/automation"
	"github.com/angelmondragon/cooperative-backend/pkg/config"
	"github.com/angelmondragon/cooperative-backend/pkg/db"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	sweeper automation.Sweeper,
	enforcer controllers.Enforcer,
	settler controllers.Settler,
	ledgerSvc controllers.Ledger,
	referralSvc controllers.ReferralRetrier,
	notificationsSvc controllers.NotificationsReader,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var (
		redisP controllers.Pinger
		store  middleware.IdempotencyStore
	)
	if redisClient != nil {
		redisP = redisClient
		store = redisClient
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminToken(cfg.Admin.APIToken, logg))
		r.Use(middleware.Idempotency(store, logg))

		r.Post("/sweeps", controllers.TriggerSweep(sweeper, logg))
		r.Post("/enforcement", controllers.TriggerEnforcement(enforcer, logg))
		r.Post("/referrals/retry", controllers.RetryReferrals(referralSvc, logg))
		r.Post("/contributions/settle", controllers.SettleContribution(settler, logg))
		r.Post("/ledger/deposits", controllers.RecordDeposit(ledgerSvc, logg))
		r.Post("/subscriptions/{subscriptionID}/schedule", controllers.GenerateSchedule(settler, logg))

		r.Route("/members/{memberID}", func(r chi.Router) {
			r.Get("/enforcement", controllers.MemberEnforcement(enforcer, logg))
			r.Get("/reconciliation", controllers.MemberReconciliation(ledgerSvc, logg))
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(notificationsSvc, logg))
				r.Get("/unread-count", controllers.UnreadNotificationCount(notificationsSvc, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(notificationsSvc, logg))
				r.Post("/{notificationID}/read", controllers.MarkNotificationRead(notificationsSvc, logg))
			})
		})
	})

	return r
}
