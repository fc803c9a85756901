package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/regiobank/bankd/internal/platform/auth"
	"github.com/regiobank/bankd/internal/platform/bank"
)

// Server is the thin HTTP transport over the core services. It decodes
// JSON, calls exactly one core operation per request, and maps error
// kinds to status codes; no business rules live here.
type Server struct {
	Log         zerolog.Logger
	Ledger      *bank.LedgerService
	Withdrawals *bank.WithdrawalService
	Cashouts    *bank.CashoutService
	Tan         *bank.TanService
	Tokens      *auth.TokenService
	Passwords   auth.PasswordService
	Metrics     *bank.Metrics

	AllowRegistration    bool
	AllowAccountDeletion bool
	LongPollMax          time.Duration

	PromRegistry *prometheus.Registry
	Version      string
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/config", s.handleConfig)
	r.Get("/public-accounts", s.handlePublicAccounts)
	r.Get("/cashout-rate", s.handleCashoutRate)

	if s.PromRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.PromRegistry, promhttp.HandlerOpts{}))
	}

	r.Post("/accounts", s.handleRegister)

	// Withdrawal-operation endpoints keyed by UUID: the UUID acts as a
	// bearer token for the operation, so no login is required.
	r.Get("/withdrawals/{wid}", s.handleWithdrawalStatus)
	r.Post("/withdrawals/{wid}", s.handleWithdrawalSelect)
	r.Post("/withdrawals/{wid}/abort", s.handleWithdrawalAbortByUUID)

	r.Route("/accounts/{username}", func(r chi.Router) {
		r.Get("/", s.withAuth(auth.ScopeReadonly, s.handleGetAccount))
		r.Patch("/", s.withAuth(auth.ScopeReadWrite, s.handlePatchAccount))
		r.Delete("/", s.withAuth(auth.ScopeReadWrite, s.handleDeleteAccount))
		r.Patch("/auth", s.withAuth(auth.ScopeReadWrite, s.handleChangePassword))

		r.Post("/token", s.withAuth(auth.ScopeReadonly, s.handleIssueToken))
		r.Delete("/token", s.withAuth(auth.ScopeReadonly, s.handleRevokeToken))

		r.Get("/transactions", s.withAuth(auth.ScopeReadonly, s.handleHistory))
		r.Get("/transactions/{txID}", s.withAuth(auth.ScopeReadonly, s.handleTransaction))
		r.Post("/transactions", s.withAuth(auth.ScopeReadWrite, s.handleCreateTransfer))

		r.Post("/withdrawals", s.withAuth(auth.ScopeReadWrite, s.handleCreateWithdrawal))
		r.Post("/withdrawals/{wid}/confirm", s.withAuth(auth.ScopeReadWrite, s.handleConfirmWithdrawal))
		r.Post("/withdrawals/{wid}/abort", s.withAuth(auth.ScopeReadWrite, s.handleAbortWithdrawal))

		r.Post("/cashouts", s.withAuth(auth.ScopeReadWrite, s.handleCreateCashout))
		r.Get("/cashouts/{cid}", s.withAuth(auth.ScopeReadonly, s.handleGetCashout))
		r.Post("/cashouts/{cid}/confirm", s.withAuth(auth.ScopeReadWrite, s.handleConfirmCashout))
		r.Post("/cashouts/{cid}/abort", s.withAuth(auth.ScopeReadWrite, s.handleAbortCashout))

		r.Post("/challenges/{chID}", s.withAuth(auth.ScopeReadWrite, s.handleResendChallenge))

		r.Route("/taler-wire-gateway", func(r chi.Router) {
			r.Post("/transfer", s.withAuth(auth.ScopeReadWrite, s.handleWireTransfer))
			r.Post("/admin/add-incoming", s.withAuth(auth.ScopeReadWrite, s.handleAddIncoming))
			r.Get("/history/incoming", s.withAuth(auth.ScopeReadonly, s.handleIncomingHistory))
			r.Get("/history/outgoing", s.withAuth(auth.ScopeReadonly, s.handleOutgoingHistory))
		})
	})

	return r
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":             s.Version,
		"currency":            s.Ledger.Currency(),
		"allow_registrations": s.AllowRegistration,
		"allow_deletions":     s.AllowAccountDeletion,
	})
}
