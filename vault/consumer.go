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
	"fmt"
	"sync"
	"time"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"

	"github.com/daemonprotocol/sip/common"
)

const defaultNatsStream = "sip"

const natsDepositPendingSubject = "sip.vault.deposit.pending"
const natsDepositPendingMaxInFlight = 32
const depositAckWait = time.Minute * 5
const depositMaxDeliveries = 5

func init() {
	if !common.ConsumeNATSStreamingSubscriptions {
		common.Log.Debug("vault package consumer configured to skip NATS streaming subscription setup")
		return
	}

	natsutil.EstablishSharedNatsConnection(nil)
	natsutil.NatsCreateStream(defaultNatsStream, []string{
		fmt.Sprintf("%s.>", defaultNatsStream),
	})

	var waitGroup sync.WaitGroup

	createNatsDepositSubscriptions(&waitGroup)
}

func createNatsDepositSubscriptions(wg *sync.WaitGroup) {
	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			depositAckWait,
			natsDepositPendingSubject,
			natsDepositPendingSubject,
			natsDepositPendingSubject,
			consumeDepositMsg,
			depositAckWait,
			natsDepositPendingMaxInFlight,
			depositMaxDeliveries,
			nil,
		)
	}
}

// consumeDepositMsg applies an asynchronously-submitted deposit; pause and
// amount checks still run in the engine, so redelivery after a transient
// pause eventually lands the deposit
func consumeDepositMsg(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			common.Log.Warningf("recovered during deposit intake; %s", r)
			msg.Nak()
		}
	}()

	common.Log.Debugf("consuming %d-byte NATS deposit message on subject: %s", len(msg.Data), msg.Subject)

	engine := RequireVault()
	if engine == nil {
		common.Log.Warning("failed to consume deposit message; custody engine not initialized")
		msg.Nak()
		return
	}

	params := map[string]interface{}{}
	err := json.Unmarshal(msg.Data, &params)
	if err != nil {
		common.Log.Warningf("failed to unmarshal deposit message; %s", err.Error())
		msg.Nak()
		return
	}

	depositorStr, depositorOk := params["depositor"].(string)
	assetStr, assetOk := params["asset"].(string)
	amountFloat, amountOk := params["amount"].(float64)
	if !depositorOk || !assetOk || !amountOk {
		common.Log.Warning("failed to parse depositor, asset and amount during deposit message handler")
		msg.Nak()
		return
	}

	depositor, err := common.AddressFromHex(depositorStr)
	if err != nil {
		common.Log.Warningf("failed to parse depositor during deposit message handler; %s", err.Error())
		msg.Nak()
		return
	}

	asset, err := common.DigestFromHex(assetStr)
	if err != nil {
		common.Log.Warningf("failed to parse asset during deposit message handler; %s", err.Error())
		msg.Nak()
		return
	}

	record, err := engine.Deposit(depositor, uint64(amountFloat), asset)
	if err != nil {
		common.Log.Warningf("failed to accept deposit; %s", err.Error())
		msg.Nak()
		return
	}

	common.Log.Debugf("accepted deposit via async intake message; sequence %d", record.Sequence)
	msg.Ack()
}
