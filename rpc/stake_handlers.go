package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"stakevault/crypto"
	"stakevault/native/bank"
	"stakevault/native/staking"
	"stakevault/storage/eventlog"
)

type createDepositParams struct {
	Tier   uint32 `json:"tier"`
	Amount string `json:"amount"`
}

type setParamsParams struct {
	DurationUnits uint32 `json:"durationUnits"`
	RewardBps     uint32 `json:"rewardBps"`
}

type amountParams struct {
	Amount string `json:"amount"`
}

type accountParams struct {
	Account string `json:"account"`
}

type listEventsParams struct {
	Account string `json:"account,omitempty"`
	Type    string `json:"type,omitempty"`
	After   int64  `json:"after,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// DepositInfoResult is the wire form of an account slot.
type DepositInfoResult struct {
	Account      string `json:"account"`
	StartTime    uint64 `json:"startTime"`
	MaturityTime uint64 `json:"maturityTime"`
	Principal    string `json:"principal"`
	Tier         uint32 `json:"tier"`
	RewardBps    uint32 `json:"rewardBps"`
	Active       bool   `json:"active"`
	Status       string `json:"status"`
}

// WithdrawResult is the wire form of a realised or previewed payout.
type WithdrawResult struct {
	Account   string `json:"account"`
	Principal string `json:"principal"`
	Reward    string `json:"reward"`
	Payout    string `json:"payout"`
}

type PreviewResult struct {
	WithdrawResult
	MaturityTime uint64 `json:"maturityTime"`
	Matured      bool   `json:"matured"`
}

type TierResult struct {
	DurationUnits uint32 `json:"durationUnits"`
	RewardBps     uint32 `json:"rewardBps"`
}

type TotalResult struct {
	Total string `json:"total"`
}

type OwnerResult struct {
	Owner string `json:"owner"`
}

type ReserveResult struct {
	Vault   string `json:"vault"`
	Reserve string `json:"reserve"`
}

type BalanceResult struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type EventsResult struct {
	Events []eventlog.Record `json:"events"`
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	return value, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single parameter object")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func requireNoParams(w http.ResponseWriter, req *RPCRequest) bool {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return false
	}
	return true
}

func parseAccountParam(w http.ResponseWriter, req *RPCRequest) ([20]byte, bool) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return [20]byte{}, false
	}
	addr, err := crypto.ParseAccount(strings.TrimSpace(params.Account))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return [20]byte{}, false
	}
	return addr, true
}

func isInsufficientBalance(err error) bool {
	return errors.Is(err, bank.ErrInsufficientBalance)
}

func formatAccount(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}

func depositInfoResult(info *staking.DepositInfo) DepositInfoResult {
	principal := "0"
	if info.Principal != nil {
		principal = info.Principal.String()
	}
	return DepositInfoResult{
		Account:      formatAccount(info.Account),
		StartTime:    info.StartTime,
		MaturityTime: info.MaturityTime,
		Principal:    principal,
		Tier:         info.Tier,
		RewardBps:    info.RewardBps,
		Active:       info.Active,
		Status:       info.Status.String(),
	}
}

func withdrawResult(res *staking.WithdrawResult) WithdrawResult {
	return WithdrawResult{
		Account:   formatAccount(res.Account),
		Principal: res.Principal.String(),
		Reward:    res.Reward.String(),
		Payout:    res.Payout.String(),
	}
}

func tierResults(table staking.TierTable) []TierResult {
	out := make([]TierResult, len(table))
	for i, row := range table {
		out[i] = TierResult{DurationUnits: row.DurationUnits, RewardBps: row.RewardBps}
	}
	return out
}

func (s *Server) handleCreateDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller [20]byte) {
	var params createDepositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidAmount, err.Error(), nil)
		return
	}
	if _, err := s.engine.CreateDeposit(caller, params.Tier, amount); err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	info, err := s.engine.DepositInfo(caller)
	if err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, depositInfoResult(info))
}

func (s *Server) handleWithdrawDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller [20]byte) {
	if !requireNoParams(w, req) {
		return
	}
	res, err := s.engine.WithdrawDeposit(caller)
	if err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, withdrawResult(res))
}

func (s *Server) handleSetParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller [20]byte) {
	var params setParamsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if err := s.engine.SetParams(caller, params.DurationUnits, params.RewardBps); err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	table, err := s.engine.Tiers()
	if err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, tierResults(table))
}

func (s *Server) handleFundReserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest, caller [20]byte) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidAmount, err.Error(), nil)
		return
	}
	reserve, err := s.engine.FundReserve(caller, amount)
	if err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ReserveResult{Vault: formatAccount(s.engine.VaultAddress()), Reserve: reserve.String()})
}

func (s *Server) handleGetDepositInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := parseAccountParam(w, req)
	if !ok {
		return
	}
	info, err := s.engine.DepositInfo(addr)
	if err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, depositInfoResult(info))
}

func (s *Server) handleAllBalanceStaking(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	total, err := s.engine.AllBalanceStaking()
	if err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, TotalResult{Total: total.String()})
}

func (s *Server) handleGetTiers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	table, err := s.engine.Tiers()
	if err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, tierResults(table))
}

func (s *Server) handlePreviewWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := parseAccountParam(w, req)
	if !ok {
		return
	}
	preview, err := s.engine.PreviewWithdraw(addr)
	if err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, PreviewResult{
		WithdrawResult: withdrawResult(&preview.WithdrawResult),
		MaturityTime:   preview.MaturityTime,
		Matured:        preview.Matured,
	})
}

func (s *Server) handleOwner(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	admin, err := s.engine.Admin()
	if err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, OwnerResult{Owner: formatAccount(admin)})
}

func (s *Server) handleGetReserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	reserve, err := s.engine.Reserve()
	if err != nil {
		s.writeStakingError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ReserveResult{Vault: formatAccount(s.engine.VaultAddress()), Reserve: reserve.String()})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := parseAccountParam(w, req)
	if !ok {
		return
	}
	if s.balances == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "bank module unavailable", nil)
		return
	}
	balance, err := s.balances.Balance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load balance", err.Error())
		return
	}
	writeResult(w, req.ID, BalanceResult{Account: formatAccount(addr), Balance: balance.String()})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.events == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "event log unavailable", nil)
		return
	}
	var params listEventsParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
			return
		}
	}
	// Records store the canonical lowercase encoding.
	account := ""
	if params.Account != "" {
		addr, err := crypto.ParseAccount(params.Account)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
			return
		}
		account = formatAccount(addr)
	}
	if params.Limit < 0 || params.After < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "limit and after must not be negative", nil)
		return
	}
	records, err := s.events.List(r.Context(), eventlog.Filter{
		Type:          params.Type,
		Account:       account,
		AfterSequence: params.After,
		Limit:         params.Limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to list events", err.Error())
		return
	}
	writeResult(w, req.ID, EventsResult{Events: records})
}
