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

package settlement

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
	"github.com/daemonprotocol/sip/merkle"
)

var (
	instance      *Settlement
	instanceMutex sync.Mutex
)

// RequireSettlement returns the settlement engine singleton, or nil if the
// service has not been initialized
func RequireSettlement() *Settlement {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()
	return instance
}

// SetInstance installs the settlement engine singleton served by the API and
// the NATS consumers
func SetInstance(s *Settlement) {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()
	instance = s
}

// InstallAPI registers the settlement API handlers with gin
func InstallAPI(r *gin.Engine) {
	r.GET("/api/v1/settlement", settlementDetailsHandler)
	r.POST("/api/v1/settlement/roots", rotateRootHandler)
	r.GET("/api/v1/settlement/batches/:id", batchDetailsHandler)
	r.POST("/api/v1/settlement/settle", settleHandler)

	r.POST("/api/v1/settlement/executors", addExecutorHandler)
	r.DELETE("/api/v1/settlement/executors/:address", removeExecutorHandler)

	r.POST("/api/v1/settlement/authority", beginAuthorityTransferHandler)
	r.PUT("/api/v1/settlement/authority", acceptAuthorityTransferHandler)
	r.DELETE("/api/v1/settlement/authority", cancelAuthorityTransferHandler)
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

func requireEngine(c *gin.Context) *Settlement {
	engine := RequireSettlement()
	if engine == nil {
		provide.RenderError("settlement engine not initialized", 501, c)
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

// renderEngineError maps engine errors onto HTTP status codes
func renderEngineError(err error, c *gin.Context) {
	switch {
	case errors.Is(err, authority.ErrUnauthorized):
		provide.RenderError(err.Error(), 403, c)
	case errors.Is(err, gate.ErrTokenAlreadyUsed):
		provide.RenderError(err.Error(), 409, c)
	case errors.Is(err, ErrBatchNotFound):
		provide.RenderError(err.Error(), 404, c)
	case errors.Is(err, ErrInvalidRoot),
		errors.Is(err, ErrInvalidProof),
		errors.Is(err, merkle.ErrEmptyProof),
		errors.Is(err, merkle.ErrProofTooLong),
		errors.Is(err, authority.ErrExecutorAlreadyExists),
		errors.Is(err, authority.ErrExecutorNotFound),
		errors.Is(err, authority.ErrMaxExecutorsReached),
		errors.Is(err, authority.ErrInvalidPendingAuthority),
		errors.Is(err, authority.ErrNoPendingTransfer):
		provide.RenderError(err.Error(), 422, c)
	default:
		provide.RenderError(err.Error(), 500, c)
	}
}

func settlementDetailsHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	registry := engine.Registry()
	provide.Render(map[string]interface{}{
		"authority":  registry.Authority(),
		"settlement": registry.Settlement(),
		"executors":  registry.Executors(),
		"batch_id":   engine.BatchID(),
		"root":       engine.CurrentRoot(),
	}, 200, c)
}

func rotateRootHandler(c *gin.Context) {
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

	submitter, ok := paramAddress(c, params, "submitter")
	if !ok {
		return
	}

	root, ok := paramDigest(c, params, "root")
	if !ok {
		return
	}

	batch, err := engine.RotateRoot(submitter, root)
	if err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(batch, 201, c)
}

func batchDetailsHandler(c *gin.Context) {
	if !requireAPISubject(c) {
		return
	}

	engine := requireEngine(c)
	if engine == nil {
		return
	}

	batchID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		provide.RenderError("invalid batch id", 422, c)
		return
	}

	batch, err := engine.BatchAt(batchID)
	if err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(batch, 200, c)
}

func settleHandler(c *gin.Context) {
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

	commitment, ok := paramDigest(c, params, "commitment")
	if !ok {
		return
	}

	rawProof, proofOk := params["proof"].([]interface{})
	if !proofOk {
		provide.RenderError("proof is required", 422, c)
		return
	}

	proof := make([]common.Digest, 0, len(rawProof))
	for _, node := range rawProof {
		str, strOk := node.(string)
		if !strOk {
			provide.RenderError("proof nodes must be hex digests", 422, c)
			return
		}
		digest, err := common.DigestFromHex(str)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}
		proof = append(proof, digest)
	}

	leafIndexFloat, leafIndexOk := params["leaf_index"].(float64)
	if !leafIndexOk {
		provide.RenderError("leaf_index is required", 422, c)
		return
	}

	record, err := engine.Settle(caller, commitment, proof, uint64(leafIndexFloat))
	if err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(record, 201, c)
}

func addExecutorHandler(c *gin.Context) {
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

	executor, ok := paramAddress(c, params, "executor")
	if !ok {
		return
	}

	if err := engine.AddExecutor(caller, executor); err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(nil, 204, c)
}

func removeExecutorHandler(c *gin.Context) {
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

	executor, err := common.AddressFromHex(c.Param("address"))
	if err != nil {
		provide.RenderError(err.Error(), 422, c)
		return
	}

	if err := engine.RemoveExecutor(caller, executor); err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(nil, 204, c)
}

func beginAuthorityTransferHandler(c *gin.Context) {
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

	newAuthority, ok := paramAddress(c, params, "new_authority")
	if !ok {
		return
	}

	if err := engine.BeginAuthorityTransfer(caller, newAuthority); err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(nil, 204, c)
}

func acceptAuthorityTransferHandler(c *gin.Context) {
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

	if err := engine.AcceptAuthorityTransfer(caller); err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(nil, 204, c)
}

func cancelAuthorityTransferHandler(c *gin.Context) {
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

	if err := engine.CancelAuthorityTransfer(caller); err != nil {
		renderEngineError(err, c)
		return
	}

	provide.Render(nil, 204, c)
}
