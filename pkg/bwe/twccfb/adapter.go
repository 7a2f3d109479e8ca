// Copyright 2024 VoxBridge, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package twccfb

import (
	"sync"
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/pion/rtcp"

	"github.com/voxbridge/bwe/pkg/bwe"
)

//
// Bridges transport-wide congestion control feedback to the estimator
// contract. The sender records every outgoing packet, each TWCC report
// is then expanded into per-packet arrival/loss events followed by a
// single feedback-round-complete event.
//

// ------------------------------------------------

const (
	cReferenceTimeMask       = (1 << 24) - 1
	cReferenceTimeResolution = 64 // 64 ms

	cSendRecordSlots = 1 << 16
)

// ------------------------------------------------

type sendRecord struct {
	sendTimeMicro int64
	size          int32
	valid         bool
	reportedLost  bool
}

// ------------------------------------------------

type AdapterParams struct {
	Logger logger.Logger
}

type Adapter struct {
	params AdapterParams

	estimator bwe.Estimator

	lock               sync.Mutex
	nextSequenceNumber uint16
	sendRecords        [cSendRecordSlots]sendRecord

	cycles               int64
	highestReferenceTime uint32
	numReports           int
}

func NewAdapter(params AdapterParams, estimator bwe.Estimator) *Adapter {
	return &Adapter{
		params:    params,
		estimator: estimator,
	}
}

// RecordPacketSend registers an outgoing packet and returns the
// transport-wide sequence number to stamp it with.
func (a *Adapter) RecordPacketSend(at time.Time, size int) uint16 {
	a.lock.Lock()
	defer a.lock.Unlock()

	sn := a.nextSequenceNumber
	a.nextSequenceNumber++

	a.sendRecords[sn] = sendRecord{
		sendTimeMicro: at.UnixMicro(),
		size:          int32(size),
		valid:         true,
	}
	return sn
}

// ProcessReport expands a TWCC report into estimator events. Packets not
// present in the send records (stale or never recorded) are skipped, the
// RFC recommends ignoring packets that would have been covered by lost
// feedback messages.
func (a *Adapter) ProcessReport(report *rtcp.TransportLayerCC, at time.Time) {
	a.lock.Lock()

	recvRefTimeMicro := a.unrollReferenceTime(report.ReferenceTime) * cReferenceTimeResolution * 1000

	type packetEvent struct {
		sn             uint16
		size           int
		sendTime       time.Time
		recvTime       time.Time
		lost           bool
		previouslyLost bool
	}
	events := make([]packetEvent, 0, report.PacketStatusCount)

	sequenceNumber := report.BaseSequenceNumber
	endSequenceNumberExclusive := sequenceNumber + report.PacketStatusCount
	deltaIdx := 0
	processSymbol := func(symbol uint16) {
		received := symbol != rtcp.TypeTCCPacketNotReceived
		if received && deltaIdx < len(report.RecvDeltas) {
			recvRefTimeMicro += report.RecvDeltas[deltaIdx].Delta
			deltaIdx++
		}

		record := &a.sendRecords[sequenceNumber]
		if record.valid {
			event := packetEvent{
				sn:       sequenceNumber,
				size:     int(record.size),
				sendTime: time.UnixMicro(record.sendTimeMicro),
			}
			if received {
				event.recvTime = time.UnixMicro(recvRefTimeMicro)
				event.previouslyLost = record.reportedLost
				record.valid = false
			} else {
				event.lost = true
				record.reportedLost = true
			}
			events = append(events, event)
		}
		sequenceNumber++
	}
	for _, chunk := range report.PacketChunks {
		if sequenceNumber == endSequenceNumberExclusive {
			break
		}

		switch chunk := chunk.(type) {
		case *rtcp.RunLengthChunk:
			for i := uint16(0); i < chunk.RunLength; i++ {
				if sequenceNumber == endSequenceNumberExclusive {
					break
				}

				processSymbol(chunk.PacketStatusSymbol)
			}

		case *rtcp.StatusVectorChunk:
			for _, symbol := range chunk.SymbolList {
				if sequenceNumber == endSequenceNumberExclusive {
					break
				}

				processSymbol(symbol)
			}
		}
	}

	a.numReports++
	a.lock.Unlock()

	for _, event := range events {
		if event.lost {
			a.estimator.OnPacketLost(at, event.sendTime, event.sn)
		} else {
			a.estimator.OnPacketArrival(at, event.sendTime, event.recvTime, event.sn, event.size, 0, event.previouslyLost)
		}
	}
	a.estimator.OnFeedbackRoundComplete(at)
}

// unrollReferenceTime handles the 24-bit reference time wrapping around.
func (a *Adapter) unrollReferenceTime(referenceTime uint32) int64 {
	if a.numReports == 0 {
		a.highestReferenceTime = referenceTime
		return int64(referenceTime)
	}

	if (referenceTime-a.highestReferenceTime)&cReferenceTimeMask < (1 << 23) {
		if referenceTime < a.highestReferenceTime {
			a.cycles += 1 << 24
		}
		a.highestReferenceTime = referenceTime
		return a.cycles + int64(referenceTime)
	}

	cycles := a.cycles
	if referenceTime > a.highestReferenceTime && cycles >= (1<<24) {
		cycles -= 1 << 24
	}
	return cycles + int64(referenceTime)
}

// ------------------------------------------------
