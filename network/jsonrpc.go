package network

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/node"
	"github.com/helix-labs/helix/types"
)

// Handler serves the JSON-RPC surface. It holds no chain state of its
// own: every method turns into a node command and returns whatever the
// node answered.
type Handler struct {
	node      *node.Node
	jwtSecret []byte
}

func NewHandler(n *node.Node, jwtSecret string) *Handler {
	return &Handler{node: n, jwtSecret: []byte(jwtSecret)}
}

type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      interface{}   `json:"id"`
}

type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInternalError  = -32603
	codeUnauthorized   = -32001
)

func sendJSONRPCError(w http.ResponseWriter, jsonrpcErr *JSONRPCError, id interface{}) {
	response := JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   jsonrpcErr,
		ID:      id,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(response)
}

// ServeHTTP routes a JSON-RPC request to the matching handler. Staking
// methods move funds on someone's say-so, so they are gated behind a
// bearer token; read methods and transaction submission are open.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONRPCError(w, &JSONRPCError{
			Code:    codeParseError,
			Message: "Parse error",
		}, req.ID)
		return
	}

	var result interface{}
	var err error

	switch req.Method {
	case "helix_submitTransaction":
		result, err = h.handleSubmitTransaction(req.Params)
	case "helix_getStatus":
		result, err = h.handleGetStatus(req.Params)
	case "helix_getAccount":
		result, err = h.handleGetAccount(req.Params)
	case "helix_getValidatorSet":
		result, err = h.handleGetValidatorSet(req.Params)
	case "helix_stake", "helix_unstake", "helix_delegate", "helix_undelegate":
		if authErr := h.authorize(r); authErr != nil {
			sendJSONRPCError(w, &JSONRPCError{
				Code:    codeUnauthorized,
				Message: authErr.Error(),
			}, req.ID)
			return
		}
		switch req.Method {
		case "helix_stake":
			result, err = h.handleStake(req.Params)
		case "helix_unstake":
			result, err = h.handleUnstake(req.Params)
		case "helix_delegate":
			result, err = h.handleDelegate(req.Params)
		case "helix_undelegate":
			result, err = h.handleUndelegate(req.Params)
		}
	default:
		sendJSONRPCError(w, &JSONRPCError{
			Code:    codeMethodNotFound,
			Message: "Method not found",
		}, req.ID)
		return
	}

	if err != nil {
		sendJSONRPCError(w, &JSONRPCError{
			Code:    codeInternalError,
			Message: err.Error(),
		}, req.ID)
		return
	}

	response := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// authorize checks the bearer token on staking methods. Tokens are
// HS256 JWTs signed with the node operator's shared secret.
func (h *Handler) authorize(r *http.Request) error {
	if len(h.jwtSecret) == 0 {
		return fmt.Errorf("staking methods disabled: no JWT secret configured")
	}

	authHeader := r.Header.Get("Authorization")
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == "" || tokenString == authHeader {
		return fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %v", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// handleSubmitTransaction accepts a signed transaction as a base64
// CBOR blob. Signature and nonce checks happen inside the node; the
// gateway only decodes.
func (h *Handler) handleSubmitTransaction(params []interface{}) (interface{}, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("transaction parameter required")
	}

	encoded, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid transaction parameter")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transaction must be base64: %v", err)
	}

	var tx types.Transaction
	if err := tx.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %v", err)
	}

	txID, err := h.node.SubmitTransaction(&tx)
	if err != nil {
		return nil, err
	}

	log.WithField("tx", txID.String()).Debug("transaction accepted via RPC")

	return map[string]interface{}{
		"txId":   txID.String(),
		"status": "pending",
	}, nil
}

func (h *Handler) handleGetStatus(params []interface{}) (interface{}, error) {
	status, err := h.node.Status()
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (h *Handler) handleGetAccount(params []interface{}) (interface{}, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("address parameter required")
	}

	address, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid address parameter")
	}

	acc, err := h.node.GetAccount(address)
	if err != nil {
		return nil, err
	}

	return struct {
		Address    string  `json:"address"`
		Balance    int64   `json:"balance"`
		BalanceHLX float64 `json:"balanceHLX"`
		Nonce      uint64  `json:"nonce"`
	}{
		Address:    acc.Address,
		Balance:    acc.Balance.ToNano(),
		BalanceHLX: acc.Balance.ToHLX(),
		Nonce:      acc.Nonce,
	}, nil
}

func (h *Handler) handleGetValidatorSet(params []interface{}) (interface{}, error) {
	validators, err := h.node.GetValidatorSet()
	if err != nil {
		return nil, err
	}

	type validatorInfo struct {
		Address       string  `json:"address"`
		Stake         int64   `json:"stake"`
		StakeHLX      float64 `json:"stakeHLX"`
		VotingPower   int64   `json:"votingPower"`
		CommissionBps uint16  `json:"commissionBps"`
		Jailed        bool    `json:"jailed"`
		BondHeight    int64   `json:"bondHeight"`
	}

	infos := make([]validatorInfo, 0, len(validators))
	for _, v := range validators {
		infos = append(infos, validatorInfo{
			Address:       v.Address,
			Stake:         v.Stake.ToNano(),
			StakeHLX:      v.Stake.ToHLX(),
			VotingPower:   v.VotingPower,
			CommissionBps: v.CommissionBps,
			Jailed:        v.Jailed,
			BondHeight:    v.BondHeight,
		})
	}

	return map[string]interface{}{
		"validators": infos,
		"count":      len(infos),
	}, nil
}

func (h *Handler) handleStake(params []interface{}) (interface{}, error) {
	reqData, err := objectParam(params)
	if err != nil {
		return nil, err
	}

	address, err := stringField(reqData, "address")
	if err != nil {
		return nil, err
	}
	amt, err := amountField(reqData, "amount")
	if err != nil {
		return nil, err
	}
	pubKeyB64, err := stringField(reqData, "pubKey")
	if err != nil {
		return nil, err
	}
	pubKey, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		return nil, fmt.Errorf("pubKey must be base64: %v", err)
	}

	var commissionBps uint16
	if c, ok := reqData["commissionBps"].(float64); ok {
		commissionBps = uint16(c)
	}

	if err := h.node.Stake(address, pubKey, amt, commissionBps); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":  "bonded",
		"message": fmt.Sprintf("%s bonded %s", address, amt),
	}, nil
}

func (h *Handler) handleUnstake(params []interface{}) (interface{}, error) {
	reqData, err := objectParam(params)
	if err != nil {
		return nil, err
	}

	address, err := stringField(reqData, "address")
	if err != nil {
		return nil, err
	}
	amt, err := amountField(reqData, "amount")
	if err != nil {
		return nil, err
	}

	if err := h.node.Unstake(address, amt); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":  "unbonding",
		"message": fmt.Sprintf("%s unbonding %s", address, amt),
	}, nil
}

func (h *Handler) handleDelegate(params []interface{}) (interface{}, error) {
	reqData, err := objectParam(params)
	if err != nil {
		return nil, err
	}

	delegator, err := stringField(reqData, "delegator")
	if err != nil {
		return nil, err
	}
	validator, err := stringField(reqData, "validator")
	if err != nil {
		return nil, err
	}
	amt, err := amountField(reqData, "amount")
	if err != nil {
		return nil, err
	}

	if err := h.node.Delegate(delegator, validator, amt); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":  "delegated",
		"message": fmt.Sprintf("%s delegated %s to %s", delegator, amt, validator),
	}, nil
}

func (h *Handler) handleUndelegate(params []interface{}) (interface{}, error) {
	reqData, err := objectParam(params)
	if err != nil {
		return nil, err
	}

	delegator, err := stringField(reqData, "delegator")
	if err != nil {
		return nil, err
	}
	validator, err := stringField(reqData, "validator")
	if err != nil {
		return nil, err
	}
	amt, err := amountField(reqData, "amount")
	if err != nil {
		return nil, err
	}

	if err := h.node.Undelegate(delegator, validator, amt); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":  "undelegating",
		"message": fmt.Sprintf("%s undelegating %s from %s", delegator, amt, validator),
	}, nil
}

func objectParam(params []interface{}) (map[string]interface{}, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("parameters required")
	}
	reqData, ok := params[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid request format")
	}
	return reqData, nil
}

func stringField(reqData map[string]interface{}, field string) (string, error) {
	v, ok := reqData[field].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s field required", field)
	}
	return v, nil
}

// amountField reads a nanoHLX amount from a JSON number. JSON numbers
// arrive as float64, which is exact for any amount below 2^53 nano.
func amountField(reqData map[string]interface{}, field string) (amount.Amount, error) {
	v, ok := reqData[field].(float64)
	if !ok {
		return 0, fmt.Errorf("%s field required", field)
	}
	return amount.FromNano(int64(v)), nil
}
