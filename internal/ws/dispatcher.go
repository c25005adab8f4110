package ws

import (
	log "github.com/sirupsen/logrus"

	"github.com/archdash/sessiontag/internal/logging"
	"github.com/archdash/sessiontag/internal/protocol"
)

// MessageHandler handles a parsed client message. msg is the concrete struct
// returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming messages to registered handlers by type.
// Ping is answered internally; malformed or unsupported messages get a
// structured error reply.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	lp       *logging.LogProvider
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		lp:       &logging.LogProvider{},
	}
}

// Register associates a handler with a message type, replacing any previous one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses data and routes it.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.lp.LogWsEvent(conn.SessionID, "dispatch parse error: "+err.Error(), log.DebugLevel)
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.lp.LogWsEvent(conn.SessionID, "unsupported message type "+msgType, log.DebugLevel)
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) sendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		d.lp.LogWsEvent(conn.SessionID, "failed to build error message: "+err.Error(), log.WarnLevel)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.lp.LogWsEvent(conn.SessionID, "failed to send error message: "+err.Error(), log.DebugLevel)
	}
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.lp.LogWsEvent(conn.SessionID, "failed to build pong: "+err.Error(), log.WarnLevel)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.lp.LogWsEvent(conn.SessionID, "failed to send pong: "+err.Error(), log.DebugLevel)
	}
}
