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

	natsutil "github.com/kthomas/go-natsutil"

	"github.com/daemonprotocol/sip/common"
)

const natsRootRotatedSubject = "sip.settlement.root.rotated"
const natsCommitmentSettledSubject = "sip.settlement.commitment.settled"

// dispatchNotification broadcasts a settlement lifecycle event to subscribers;
// notifications are best-effort and never fail the underlying operation
func (s *Settlement) dispatchNotification(subject string, payload interface{}) {
	if !common.DispatchNotifications {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		common.Log.Warningf("failed to marshal %s notification payload; %s", subject, err.Error())
		return
	}

	_, err = natsutil.NatsJetstreamPublish(subject, raw)
	if err != nil {
		common.Log.Warningf("failed to dispatch %s notification; %s", subject, err.Error())
	}
}
