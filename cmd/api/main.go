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

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	dbconf "github.com/kthomas/go-db-config"
	natsutil "github.com/kthomas/go-natsutil"

	"github.com/daemonprotocol/sip/common"
	"github.com/daemonprotocol/sip/gate"
	gateproviders "github.com/daemonprotocol/sip/gate/providers"
	"github.com/daemonprotocol/sip/settlement"
	"github.com/daemonprotocol/sip/vault"
)

const runloopSleepInterval = 250 * time.Millisecond
const shutdownTimeout = 10 * time.Second

const natsTransferSubject = "sip.transfer.outbound"

var (
	cancelF     context.CancelFunc
	closing     uint32
	shutdownCtx context.Context
	sigs        chan os.Signal

	srv *http.Server
)

func main() {
	common.Log.Debug("installing signal handlers for sip API")
	installSignalHandlers()

	requireEngines()
	runAPI()

	timer := time.NewTicker(runloopSleepInterval)
	defer timer.Stop()

	for !shuttingDown() {
		select {
		case sig := <-sigs:
			common.Log.Debugf("received signal: %s", sig)
			shutdown()
		case <-shutdownCtx.Done():
		case <-timer.C:
			// tick
		}
	}

	common.Log.Debug("exiting sip API")
	cancelF()
}

func installSignalHandlers() {
	sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	shutdownCtx, cancelF = context.WithCancel(context.Background())
}

func shutdown() {
	if atomic.AddUint32(&closing, 1) == 1 {
		common.Log.Debug("shutting down sip API")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(ctx)
		cancelF()
	}
}

func shuttingDown() bool {
	return atomic.LoadUint32(&closing) > 0
}

func requireAddress(envVar string) common.Address {
	val := os.Getenv(envVar)
	common.PanicIfEmpty(val, envVar+" is required")

	addr, err := common.AddressFromHex(val)
	if err != nil {
		common.Log.Panicf("failed to parse %s; %s", envVar, err.Error())
	}
	return addr
}

// requireEngines initializes the settlement and custody engine singletons
// from the environment
func requireEngines() {
	provider := os.Getenv("TOKEN_LEDGER_PROVIDER")
	if provider == "" {
		provider = gateproviders.TokenLedgerProviderMemory
	}
	ledgerProvider := common.StringOrNil(provider)

	authorityAddr := requireAddress("SIP_AUTHORITY_ADDRESS")
	vaultAddr := requireAddress("SIP_VAULT_ADDRESS")

	settlementGate, err := gate.InitGate("settlement", ledgerProvider)
	if err != nil {
		common.Log.Panicf("failed to initialize settlement commitment gate; %s", err.Error())
	}

	vaultGate, err := gate.InitGate("vault", ledgerProvider)
	if err != nil {
		common.Log.Panicf("failed to initialize custody token gate; %s", err.Error())
	}

	var batches settlement.BatchLog
	var deposits vault.DepositLog
	if os.Getenv("DATABASE_NAME") != "" {
		db := dbconf.DatabaseConnection()
		batches = settlement.InitDatabaseBatchLog(db)
		deposits = vault.InitDatabaseDepositLog(db)
	} else {
		batches = settlement.InitMemoryBatchLog()
		deposits = vault.InitMemoryDepositLog()
	}

	settlement.SetInstance(settlement.Init(authorityAddr, settlementGate, batches))
	vault.SetInstance(vault.Init(authorityAddr, vaultAddr, vaultGate, deposits, dispatchTransfer))
}

// dispatchTransfer hands an authorized value movement to the external
// asset-transfer primitive by publishing an outbound transfer instruction;
// the downstream executor owns actual movement of value
func dispatchTransfer(from, to common.Address, asset common.Digest, amount uint64) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"from":   from,
		"to":     to,
		"asset":  asset,
		"amount": amount,
	})

	if !common.DispatchNotifications {
		common.Log.Debugf("dropping outbound transfer instruction; NATS not configured; %s", payload)
		return nil
	}

	_, err := natsutil.NatsJetstreamPublish(natsTransferSubject, payload)
	return err
}

func runAPI() {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	settlement.InstallAPI(r)
	vault.InstallAPI(r)

	r.GET("/status", statusHandler)

	srv = &http.Server{
		Addr:    common.ListenAddr,
		Handler: r,
	}

	go func() {
		common.Log.Infof("sip API listening on %s", common.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.Log.Panicf("failed to serve sip API; %s", err.Error())
		}
	}()
}

func statusHandler(c *gin.Context) {
	c.JSON(200, nil)
}
