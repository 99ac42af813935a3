// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ranging

import "fmt"

// State is one step of the tag-side TWR exchange.
type State int

const (
	StateInit State = iota
	StateWaitStartSent
	StateMemoriseT1
	StateWaitAck
	StateMemoriseT4
	StateWaitDataReply
	StateExtractT2T3
)

var stateNames = [...]string{
	StateInit:          "INIT",
	StateWaitStartSent: "WAIT_START_SENT",
	StateMemoriseT1:    "MEMORISE_T1",
	StateWaitAck:       "WAIT_ACK",
	StateMemoriseT4:    "MEMORISE_T4",
	StateWaitDataReply: "WAIT_DATA_REPLY",
	StateExtractT2T3:   "EXTRACT_T2_T3",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// waiting reports whether s is bounded by a deadline.
func (s State) waiting() bool {
	return s == StateWaitStartSent || s == StateWaitAck || s == StateWaitDataReply
}
