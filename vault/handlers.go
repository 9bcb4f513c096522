/*
 * Copyright 2023-2024 Daemon Protocol Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package vault

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	provide "github.com/provideplatform/provide-go/common"
	"github.com/provideplatform/provide-go/common/util"

	"github.com/daemonprotocol/sip/authority"
	"github.com/daemonprotocol/sip/common"
	"github.com/daemonprotocol/sip/gate"
)

var (
	instance      *Vault
	instanceMutex sync.Mutex
)

// RequireVault returns the custody engine singleton, or nil if the service
// has not been initialized
func RequireVault() *Vault {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()
	return instance
}

// SetInstance installs the custody engine singleton served by the API and
// the NATS consumers
func SetInstance(v *Vault) {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()
	instance = v
}

// InstallAPI registers the custody API handlers with gin
func InstallAPI(r *gin.Engine) {
	r.GET("/api/v1/vault", vaultDetailsHandler)
	r.POST("/api/v1/vault/deposits", depositHandler)
	r.GET("/api/v1/vault/deposits/:sequence", depositDetailsHandler)
	r.POST("/api/v1/vault/withdrawals", withdrawHandler)

	r.POST("/api/v1/vault/claims", relayerClaimHandler)
	r.POST("/api/v1/vault/claims/authority", authorityClaimHandler)

	r.POST("/api/v1/vault/pause", pauseHandler)
	r.POST("/api/v1/vault/unpause", unpauseHandler)

	r.PUT("/api/v1/vault/relayer", setRelayerHandler)
	r.PUT("/api/v1/vault/settlement", setSettlementHandler)
}

func requireAPISubject(c *gin.Context) bool {
	appID := util.AuthorizedSubjectID(c, "application")
	orgID := util.AuthorizedSubjectID(c, "organization")
	userID := util.AuthorizedSubjectID(c, "user")
	if appID == nil && orgID == nil && userID == nil {
		provide.RenderError("unauthorized", 401, c)
		return false
	}
	return true
}

func requireEngine(c *gin.Context) *Vault {
	engine := RequireVault()
	if engine == nil {
		provide.RenderError("custody engine not initialized", 501, c)
	}
	return engine
}

func parseParams(c *gin.Context) map[string]interface{} {
	buf, err := c.GetRawData()
	if err != nil {
		provide.RenderError(err.Error(), 400, c)
		return nil
	}

	params := map[string]interface{}{}
	err = json.Unmarshal(buf, &params)
	if err != nil {
		provide.RenderError(err.Error(), 422, c)
		return nil
	}
	return params
}

func paramAddress(c *gin.Context, params map[string]interface{}, key string) (common.Address, bool) {
	str, strOk := params[key].(string)
	if !strOk {
		provide.RenderError(key+" is required", 422, c)
		return common.ZeroAddress, false
	}

	addr, err := common.AddressFromHex(str)
	if err != nil {
		provide.RenderError(err.Error(), 422, c)
		return common.ZeroAddress, false
	}
	return addr, true
}

func paramDigest(c *gin.Context, params map[string]interface{}, key string) (common.Digest, bool) {
	str, strOk := params[key].(string)
	if !strOk {
		provide.RenderError(key+" is required", 422, c)
		return common.ZeroDigest, false
	}

	digest, err := common.DigestFromHex(str)
	if err != nil {
		provide.RenderError(err.Error(), 422, c)
		return common.ZeroDigest, false
	}
	return digest, true
}

func paramAmount(c *gin.Context, params map[string]interface{}) (uint64, bool) {
	amount, amountOk := params["amount"].(float64)
	if !amountOk {
		provide.RenderError("amount is required", 422, c)
		return 0, false
	}
	return uint64(amount), true
}

// renderEngineError maps engine errors onto HTTP status codes
func renderEngineError(err error, c *gin.Context) {
	switch {
	case errors.Is(err, authority.ErrUnauthorized), errors.Is(err, ErrUnauthorizedRelayer):
		provide.RenderError(err.Error(), 403, c)
	case errors.Is(err, gate.ErrTokenAlreadyUsed), errors.Is(err, ErrNullifierAlreadyUsed):
		provide.RenderError(err.Error(), 409, c)
	case errors.Is(err, ErrDepositNotFound):
		provide.RenderError(err.Error(), 404, c)
	case errors.Is(err, ErrVaultPaused):
		provide.RenderError(err.Error(), 409, c)
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrZeroAmount),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrBalanceOverflow),
		errors.Is(err, authority.ErrExecutorAlreadyExists),
		errors.Is(err, authority.ErrExecutorNotFound),
		errors.Is(err, authority.ErrMaxExecutorsReached):
		provide.RenderError(err.Error(), 422, c)
	default:
		provide.RenderError(err.Error(), 500, c)
	}
}

func vaultDetailsHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	registry := engine.Registry()
	provide.Render(map[string]interface{}{
		"address":             engine.Address(),
		"authority":           registry.Authority(),
		"relayer":             registry.Relayer(),
		"settlement":          registry.Settlement(),
		"executors":           registry.Executors(),
		"paused":              engine.Paused(),
		"deposit_sequence":    engine.DepositSequence(),
		"withdrawal_sequence": engine.WithdrawalSequence(),
	}, 200, c)
}

func depositHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	params := parseParams(c)
	if params == nil {
		return
	}

	depositor, ok := paramAddress(c, params, "depositor")
	if !ok {
		return
	}

	asset, ok := paramDigest(c, params, "asset")
	if !ok {
		return
	}

	amount, ok := paramAmount(c, params)
	if !ok {
		return
	}

	record, err := engine.Deposit(depositor, amount, asset)
	if err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(record, 201, c)
}

func depositDetailsHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	sequence, err := strconv.ParseUint(c.Param("sequence"), 10, 64)
	if err != nil {
		provide.RenderError("invalid deposit sequence", 422, c)
		return
	}

	record, err := engine.DepositAt(sequence)
	if err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(record, 200, c)
}

func withdrawHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	params := parseParams(c)
	if params == nil {
		return
	}

	caller, ok := paramAddress(c, params, "caller")
	if !ok {
		return
	}

	token, ok := paramDigest(c, params, "token")
	if !ok {
		return
	}

	asset, ok := paramDigest(c, params, "asset")
	if !ok {
		return
	}

	amount, ok := paramAmount(c, params)
	if !ok {
		return
	}

	recipient, ok := paramAddress(c, params, "recipient")
	if !ok {
		return
	}

	record, err := engine.Withdraw(caller, token, amount, asset, recipient)
	if err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(record, 201, c)
}

func relayerClaimHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	params := parseParams(c)
	if params == nil {
		return
	}

	relayer, ok := paramAddress(c, params, "relayer")
	if !ok {
		return
	}

	amount, ok := paramAmount(c, params)
	if !ok {
		return
	}

	asset, ok := paramDigest(c, params, "asset")
	if !ok {
		return
	}

	commitment, ok := paramDigest(c, params, "commitment")
	if !ok {
		return
	}

	nullifier, ok := paramDigest(c, params, "nullifier")
	if !ok {
		return
	}

	recipient, ok := paramAddress(c, params, "recipient")
	if !ok {
		return
	}

	record, err := engine.RelayerClaim(relayer, amount, asset, commitment, nullifier, recipient)
	if err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(record, 201, c)
}

func authorityClaimHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	params := parseParams(c)
	if params == nil {
		return
	}

	caller, ok := paramAddress(c, params, "caller")
	if !ok {
		return
	}

	amount, ok := paramAmount(c, params)
	if !ok {
		return
	}

	asset, ok := paramDigest(c, params, "asset")
	if !ok {
		return
	}

	recipient, ok := paramAddress(c, params, "recipient")
	if !ok {
		return
	}

	record, err := engine.AuthorityClaim(caller, amount, asset, recipient)
	if err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(record, 201, c)
}

func pauseHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	params := parseParams(c)
	if params == nil {
		return
	}

	caller, ok := paramAddress(c, params, "caller")
	if !ok {
		return
	}

	if err := engine.Pause(caller); err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(nil, 204, c)
}

func unpauseHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	params := parseParams(c)
	if params == nil {
		return
	}

	caller, ok := paramAddress(c, params, "caller")
	if !ok {
		return
	}

	if err := engine.Unpause(caller); err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(nil, 204, c)
}

func setRelayerHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	params := parseParams(c)
	if params == nil {
		return
	}

	caller, ok := paramAddress(c, params, "caller")
	if !ok {
		return
	}

	relayer, ok := paramAddress(c, params, "relayer")
	if !ok {
		return
	}

	if err := engine.SetRelayer(caller, relayer); err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(nil, 204, c)
}

func setSettlementHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	params := parseParams(c)
	if params == nil {
		return
	}

	caller, ok := paramAddress(c, params, "caller")
	if !ok {
		return
	}

	settlement, ok := paramAddress(c, params, "settlement")
	if !ok {
		return
	}

	if err := engine.SetSettlement(caller, settlement); err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(nil, 204, c)
}
