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
	"fmt"
	"sync"
	"time"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"

	"github.com/daemonprotocol/sip/common"
)

const defaultNatsStream = "sip"

const natsRotateRootSubject = "sip.settlement.root.pending"
const natsRotateRootMaxInFlight = 32
const rotateRootAckWait = time.Minute * 5
const rotateRootMaxDeliveries = 5

func init() {
	if !common.ConsumeNATSStreamingSubscriptions {
		common.Log.Debug("settlement package consumer configured to skip NATS streaming subscription setup")
		return
	}

	natsutil.EstablishSharedNatsConnection(nil)
	natsutil.NatsCreateStream(defaultNatsStream, []string{
		fmt.Sprintf("%s.>", defaultNatsStream),
	})

	var waitGroup sync.WaitGroup

	createNatsRotateRootSubscriptions(&waitGroup)
}

func createNatsRotateRootSubscriptions(wg *sync.WaitGroup) {
	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			rotateRootAckWait,
			natsRotateRootSubject,
			natsRotateRootSubject,
			natsRotateRootSubject,
			consumeRotateRootMsg,
			rotateRootAckWait,
			natsRotateRootMaxInFlight,
			rotateRootMaxDeliveries,
			nil,
		)
	}
}

// consumeRotateRootMsg applies an asynchronously-submitted root rotation; the
// submitter address in the payload must still pass the authorization check,
// so the subscription adds a transport, not a bypass
func consumeRotateRootMsg(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			common.Log.Warningf("recovered during root rotation; %s", r)
			msg.Nak()
		}
	}()

	common.Log.Debugf("consuming %d-byte NATS root rotation message on subject: %s", len(msg.Data), msg.Subject)

	engine := RequireSettlement()
	if engine == nil {
		common.Log.Warning("failed to consume root rotation message; settlement engine not initialized")
		msg.Nak()
		return
	}

	params := map[string]interface{}{}
	err := json.Unmarshal(msg.Data, &params)
	if err != nil {
		common.Log.Warningf("failed to unmarshal root rotation message; %s", err.Error())
		msg.Nak()
		return
	}

	submitterStr, submitterOk := params["submitter"].(string)
	rootStr, rootOk := params["root"].(string)
	if !submitterOk || !rootOk {
		common.Log.Warning("failed to parse submitter and root during rotation message handler")
		msg.Nak()
		return
	}

	submitter, err := common.AddressFromHex(submitterStr)
	if err != nil {
		common.Log.Warningf("failed to parse submitter during rotation message handler; %s", err.Error())
		msg.Nak()
		return
	}

	root, err := common.DigestFromHex(rootStr)
	if err != nil {
		common.Log.Warningf("failed to parse root during rotation message handler; %s", err.Error())
		msg.Nak()
		return
	}

	batch, err := engine.RotateRoot(submitter, root)
	if err != nil {
		common.Log.Warningf("failed to rotate root; %s", err.Error())
		msg.Nak()
		return
	}

	common.Log.Debugf("rotated root via async rotation message; batch %d", batch.BatchID)
	msg.Ack()
}
