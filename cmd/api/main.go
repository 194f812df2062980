package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmercer/bankcore/pkg/deposit"
	"github.com/jmercer/bankcore/pkg/ledger"
	"github.com/jmercer/bankcore/pkg/models"
	"github.com/jmercer/bankcore/pkg/rates"
	"github.com/jmercer/bankcore/pkg/store"
	"github.com/shopspring/decimal"
)

// Each unit of work gets a bounded timeout; expiry aborts the storage
// transaction and surfaces as 504.
const requestTimeout = 10 * time.Second

const sweepInterval = time.Hour

// Server holds the service instances.
type Server struct {
	ledger  *ledger.Service
	fd      *deposit.FDService
	rd      *deposit.RDService
	storage store.Storage
}

func NewServer(s store.Storage) *Server {
	cfg := rates.Default()
	l := ledger.NewService(s, cfg)
	return &Server{
		ledger:  l,
		fd:      deposit.NewFDService(l, cfg),
		rd:      deposit.NewRDService(l, cfg),
		storage: s,
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/accounts", s.openAccountHandler).Methods("POST")
	r.HandleFunc("/accounts/{number}", s.getAccountHandler).Methods("GET")
	r.HandleFunc("/accounts/{number}/transactions", s.statementHandler).Methods("GET")
	r.HandleFunc("/accounts/{number}/credit", s.creditHandler).Methods("POST")
	r.HandleFunc("/accounts/{number}/debit", s.debitHandler).Methods("POST")
	r.HandleFunc("/accounts/{number}/can-transact", s.canTransactHandler).Methods("GET")
	r.HandleFunc("/accounts/{number}/freeze", s.freezeHandler).Methods("POST")
	r.HandleFunc("/accounts/{number}/unfreeze", s.unfreezeHandler).Methods("POST")
	r.HandleFunc("/accounts/{number}/close", s.closeAccountHandler).Methods("POST")

	r.HandleFunc("/transfers", s.transferHandler).Methods("POST")
	r.HandleFunc("/deposits", s.depositHandler).Methods("POST")
	r.HandleFunc("/withdrawals", s.withdrawHandler).Methods("POST")
	r.HandleFunc("/transactions/{id}", s.getTransactionHandler).Methods("GET")
	r.HandleFunc("/transactions/{id}/reverse", s.reverseHandler).Methods("POST")

	r.HandleFunc("/fixed-deposits", s.createFDHandler).Methods("POST")
	r.HandleFunc("/fixed-deposits/{number}", s.getFDHandler).Methods("GET")
	r.HandleFunc("/fixed-deposits/{number}/payout", s.fdPayoutHandler).Methods("POST")
	r.HandleFunc("/fixed-deposits/{number}/close", s.fdCloseHandler).Methods("POST")
	r.HandleFunc("/fixed-deposits/{number}/maturity", s.fdMaturityHandler).Methods("POST")

	r.HandleFunc("/recurring-deposits", s.createRDHandler).Methods("POST")
	r.HandleFunc("/recurring-deposits/{number}", s.getRDHandler).Methods("GET")
	r.HandleFunc("/recurring-deposits/{number}/installment", s.rdInstallmentHandler).Methods("POST")
	r.HandleFunc("/recurring-deposits/{number}/close", s.rdCloseHandler).Methods("POST")
	r.HandleFunc("/recurring-deposits/{number}/auto-debit", s.rdAutoDebitHandler).Methods("POST")

	return r
}

func reqCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var payErr *deposit.PaymentError
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrSameAccount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case ledger.IsStateError(err), errors.Is(err, models.ErrTerminalState):
		http.Error(w, err.Error(), http.StatusConflict)
	case ledger.IsRuleError(err), errors.As(err, &payErr):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "operation timed out", http.StatusGatewayTimeout)
	default:
		log.Printf("internal error: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) openAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerKey    string             `json:"customer_key"`
		Type           models.AccountType `json:"type"`
		InitialDeposit decimal.Decimal    `json:"initial_deposit"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	account, err := s.ledger.OpenAccount(ctx, req.CustomerKey, req.Type, req.InitialDeposit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) getAccountHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	account, err := s.ledger.GetAccount(ctx, mux.Vars(r)["number"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) statementHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	txns, err := s.ledger.Statement(ctx, mux.Vars(r)["number"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) creditHandler(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	account, err := s.ledger.Credit(ctx, mux.Vars(r)["number"], req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) debitHandler(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	account, err := s.ledger.Debit(ctx, mux.Vars(r)["number"], req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) canTransactHandler(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	decision, err := s.ledger.CanTransact(ctx, mux.Vars(r)["number"], amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) freezeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason models.FreezeReason `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	account, err := s.ledger.Freeze(ctx, mux.Vars(r)["number"], req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) unfreezeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	account, err := s.ledger.Unfreeze(ctx, mux.Vars(r)["number"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) closeAccountHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	account, err := s.ledger.CloseAccount(ctx, mux.Vars(r)["number"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) transferHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From        string          `json:"from"`
		To          string          `json:"to"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	res, err := s.ledger.Transfer(ctx, req.From, req.To, req.Amount, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) depositHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string          `json:"account"`
		Amount  decimal.Decimal `json:"amount"`
		Method  string          `json:"method"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	res, err := s.ledger.Deposit(ctx, req.Account, req.Amount, req.Method)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) withdrawHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string          `json:"account"`
		Amount  decimal.Decimal `json:"amount"`
		Method  string          `json:"method"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	res, err := s.ledger.Withdraw(ctx, req.Account, req.Amount, req.Method)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	txn, err := s.ledger.GetTransaction(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (s *Server) reverseHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	rev, err := s.ledger.Reverse(ctx, mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

func (s *Server) createFDHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account       string            `json:"account"`
		Principal     decimal.Decimal   `json:"principal"`
		TenureMonths  int               `json:"tenure_months"`
		PayoutMode    models.PayoutMode `json:"payout_mode"`
		PayoutAccount string            `json:"payout_account"`
		Nominee       string            `json:"nominee"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PayoutMode == "" {
		req.PayoutMode = models.PayoutModeCumulative
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	fd, err := s.fd.Create(ctx, req.Account, req.Principal, req.TenureMonths, req.PayoutMode, req.PayoutAccount, req.Nominee)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fd)
}

func (s *Server) getFDHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	fd, err := s.fd.Get(ctx, mux.Vars(r)["number"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fd)
}

func (s *Server) fdPayoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	res, err := s.fd.ProcessInterestPayout(ctx, mux.Vars(r)["number"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) fdCloseHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	res, err := s.fd.ClosePremature(ctx, mux.Vars(r)["number"], req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) fdMaturityHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	res, err := s.fd.ProcessMaturity(ctx, mux.Vars(r)["number"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) createRDHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account       string          `json:"account"`
		MonthlyAmount decimal.Decimal `json:"monthly_amount"`
		TenureMonths  int             `json:"tenure_months"`
		Nominee       string          `json:"nominee"`
		AutoDebit     bool            `json:"auto_debit"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	rd, err := s.rd.Create(ctx, req.Account, req.MonthlyAmount, req.TenureMonths, req.Nominee, req.AutoDebit)
	if err != nil {
		if rd != nil {
			// The RD persisted but its first installment failed. The caller
			// needs the number to retry the installment.
			writeJSON(w, http.StatusCreated, map[string]any{
				"recurring_deposit": rd,
				"warning":           err.Error(),
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rd)
}

func (s *Server) getRDHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	rd, schedule, err := s.rd.Get(ctx, mux.Vars(r)["number"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recurring_deposit": rd, "installments": schedule})
}

func (s *Server) rdInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := reqCtx(r)
	defer cancel()

	res, err := s.rd.ProcessInstallment(ctx, mux.Vars(r)["number"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) rdCloseHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	res, err := s.rd.ClosePremature(ctx, mux.Vars(r)["number"], req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) rdAutoDebitHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := reqCtx(r)
	defer cancel()

	rd, err := s.rd.ToggleAutoDebit(ctx, mux.Vars(r)["number"], req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

// runSweeps drives the periodic batch work: auto-debit of due RD
// installments and maturity processing for both products.
func (s *Server) runSweeps(ctx context.Context) {
	if results, err := s.rd.ProcessAutoDue(ctx); err != nil {
		log.Printf("auto debit sweep failed: %v", err)
	} else if len(results) > 0 {
		log.Printf("auto debit sweep processed %d recurring deposits", len(results))
	}
	if results, err := s.fd.ProcessMaturitySweep(ctx); err != nil {
		log.Printf("FD maturity sweep failed: %v", err)
	} else if len(results) > 0 {
		log.Printf("FD maturity sweep processed %d deposits", len(results))
	}
}

func main() {
	sqliteStore, err := store.NewSQLiteStore("bankcore.db")
	if err != nil {
		log.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore)

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			server.runSweeps(ctx)
			cancel()
		}
	}()

	log.Println("Server starting on :8080")
	log.Fatal(http.ListenAndServe(":8080", server.router()))
}
