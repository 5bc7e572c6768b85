// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package chat

import (
	"github.com/hushwire/hushwire/envelope"
)

type sendResult struct {
	id  string
	err error
}

type opSendMessage struct {
	peer         string
	plaintext    []byte
	proto        envelope.Protocol
	responseChan chan sendResult
}

type opSetProtocol struct {
	proto        envelope.Protocol
	on           bool
	responseChan chan error
}

type opReset struct {
	responseChan chan error
}

type opGetSyncState struct {
	proto        envelope.Protocol
	responseChan chan SyncState
}

// worker serializes all control-plane mutation of the client: protocol
// toggles, cache resets and message sends.
func (c *Client) worker() {
	for {
		var qo interface{}
		select {
		case <-c.HaltCh():
			c.log.Debug("Terminating gracefully.")
			return
		case qo = <-c.opCh:
		}
		switch op := qo.(type) {
		case *opSendMessage:
			id, err := c.doSendMessage(op.peer, op.plaintext, op.proto)
			op.responseChan <- sendResult{id: id, err: err}
		case *opSetProtocol:
			op.responseChan <- c.doSetProtocol(op.proto, op.on)
		case *opReset:
			op.responseChan <- c.doReset()
		case *opGetSyncState:
			if p, ok := c.pipelines[op.proto]; ok {
				op.responseChan <- p.State()
			} else {
				op.responseChan <- StateIdle
			}
		default:
			c.log.Errorf("Received unexpected operation type %T", op)
		}
	}
}
