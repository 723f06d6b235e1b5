// Package stomp implements the real-time conversation channel: the
// authorization gate every inbound STOMP 1.2 frame passes through, and a
// websocket broker that fans posted messages out to subscribers of
// /topic/conversations/{id}/messages. Frame encoding is go-stomp's.
package stomp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-stomp/stomp/v3/frame"
)

// Client and server commands.
const (
	CmdConnect     = frame.CONNECT
	CmdStomp       = frame.STOMP
	CmdSubscribe   = frame.SUBSCRIBE
	CmdUnsubscribe = frame.UNSUBSCRIBE
	CmdSend        = frame.SEND
	CmdDisconnect  = frame.DISCONNECT
	CmdAck         = frame.ACK
	CmdNack        = frame.NACK
	CmdBegin       = frame.BEGIN
	CmdCommit      = frame.COMMIT
	CmdAbort       = frame.ABORT

	CmdConnected = frame.CONNECTED
	CmdMessage   = frame.MESSAGE
	CmdReceipt   = frame.RECEIPT
	CmdError     = frame.ERROR
)

// Header names used by the broker. token carries the bearer credential on
// every client frame.
const (
	HdrToken         = "token"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrVersion       = "version"
	HdrHeartBeat     = "heart-beat"
	HdrServer        = "server"
	HdrMessage       = "message"
)

// ErrMalformedFrame is returned by ParseFrame for input that is not a frame.
var ErrMalformedFrame = errors.New("stomp: malformed frame")

// Frame is a decoded STOMP frame. Header.Get returns the first value of a
// repeated header, as STOMP 1.2 requires.
type Frame = frame.Frame

// NewFrame builds a frame from alternating name/value pairs.
func NewFrame(command string, kv ...string) *Frame {
	return frame.New(command, kv...)
}

// ParseFrame decodes the first frame in data, one websocket message.
// Heart-beat input (only EOLs) yields (nil, nil).
func ParseFrame(data []byte) (*Frame, error) {
	// Leading EOLs are heart-beats sent ahead of the frame.
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// marshalFrame encodes f, NUL-terminated.
func marshalFrame(f *Frame) []byte {
	var b bytes.Buffer
	// A bytes.Buffer never fails a write.
	_ = frame.NewWriter(&b).Write(f)
	return b.Bytes()
}
