package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"perpdex/internal/models"
)

// AccountService - операции с кошельком, нужные HTTP слою
type AccountService interface {
	GetBalance(trader string) (*models.TraderBalance, error)
	Deposit(trader string, amount float64) (*models.TraderBalance, error)
	Withdraw(trader string, amount float64, nonce, sig string) (*models.TraderBalance, error)
}

// AccountHandler обрабатывает HTTP запросы для балансов трейдеров.
//
// Endpoints:
// - GET /api/v1/account/{trader}/balance - баланс кошелька
// - POST /api/v1/account/deposit - пополнить (off-chain credit)
// - POST /api/v1/account/withdraw - вывести (подписанный)
type AccountHandler struct {
	accounts AccountService
}

// NewAccountHandler создает новый AccountHandler с внедрением зависимостей.
func NewAccountHandler(accounts AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// DepositRequest - тело запроса пополнения
type DepositRequest struct {
	Trader string  `json:"trader"`
	Amount float64 `json:"amount"`
}

// WithdrawRequest - тело запроса вывода.
// Nonce защищает от replay: входит в подписываемое сообщение.
type WithdrawRequest struct {
	Trader    string  `json:"trader"`
	Amount    float64 `json:"amount"`
	Nonce     string  `json:"nonce"`
	Signature string  `json:"signature"`
}

// GetBalance возвращает баланс трейдера.
//
// GET /api/v1/account/{trader}/balance
//
// Неизвестный трейдер получает нулевой баланс, не 404.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.accounts.GetBalance(mux.Vars(r)["trader"])
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, balance)
}

// Deposit зачисляет средства на баланс трейдера.
//
// POST /api/v1/account/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	balance, err := h.accounts.Deposit(req.Trader, req.Amount)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, balance)
}

// Withdraw списывает средства с доступного баланса.
//
// POST /api/v1/account/withdraw
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	balance, err := h.accounts.Withdraw(req.Trader, req.Amount, req.Nonce, req.Signature)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, balance)
}
