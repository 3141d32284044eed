package player

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/bountyboard/game/board"
	"github.com/kasuganosora/bountyboard/game/quest"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadlineS = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Server → client packet types.
const (
	PktBoardMask    = "board_mask"
	PktBoardSlots   = "board_slots"
	PktBoardClosed  = "board_closed"
	PktTicketUpdate = "ticket_update"
	PktTicketList   = "ticket_list"
	PktInventory    = "inventory_update"
	PktQuestError   = "quest_error"
	PktPong         = "pong"
)

// Packet is the unified WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewPacket marshals payload into a packet of the given type.
func NewPacket(typ string, payload any) *Packet {
	raw, _ := json.Marshal(payload)
	return &Packet{Type: typ, Payload: raw}
}

// PlayerSession is one connected player's WebSocket session.
type PlayerSession struct {
	ID        string
	AccountID int64
	CharID    int64
	CharName  string

	Conn     *websocket.Conn
	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	LastSeq  uint64

	mu         sync.Mutex
	profession quest.Profession
	level      int
	openBoard  string
	logger     *zap.Logger
}

// NewPlayerSession creates a session and, when conn is non-nil, starts its writer.
func NewPlayerSession(accountID, charID int64, conn *websocket.Conn, logger *zap.Logger) *PlayerSession {
	s := &PlayerSession{
		ID:        uuid.NewString(),
		AccountID: accountID,
		CharID:    charID,
		Conn:      conn,
		SendChan:  make(chan []byte, sendChanBuf),
		Done:      make(chan struct{}),
		logger:    logger,
	}
	if conn != nil {
		go s.writePump()
	}
	return s
}

// writePump drains SendChan into the connection and pings to detect dead peers.
func (s *PlayerSession) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.Int64("char_id", s.CharID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			// flush what is already queued, e.g. a board_closed notice
			for {
				select {
				case data := <-s.SendChan:
					_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
					_ = s.Conn.WriteMessage(websocket.TextMessage, data)
				default:
					_ = s.Conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// Send encodes pkt and queues it without blocking. Drops if the queue is full or
// the session is closed.
func (s *PlayerSession) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	s.SendRaw(data)
}

// SendRaw queues pre-encoded bytes without blocking.
func (s *PlayerSession) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
	default:
		s.logger.Warn("send channel full, dropping packet",
			zap.Int64("char_id", s.CharID))
	}
}

// Close signals the writePump to shut down.
func (s *PlayerSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

// IsClosed returns true if the session has been closed.
func (s *PlayerSession) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// SetProfile records the character's profession and level as of login or the last
// change pushed by the server.
func (s *PlayerSession) SetProfile(p quest.Profession, level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profession = p
	s.level = level
}

// Profile returns the cached profession and level.
func (s *PlayerSession) Profile() (quest.Profession, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profession, s.level
}

// OpenBoard returns the board the player currently has open, or "".
func (s *PlayerSession) OpenBoard() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openBoard
}

// SetOpenBoard records which board the player has open.
func (s *PlayerSession) SetOpenBoard(boardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openBoard = boardID
}

// SessionID identifies the session as a board viewer.
func (s *PlayerSession) SessionID() string { return s.ID }

// SendMask pushes encoded mask bytes for a board.
func (s *PlayerSession) SendMask(boardID string, data []byte) {
	s.Send(NewPacket(PktBoardMask, map[string]string{
		"board_id": boardID,
		"data":     base64.StdEncoding.EncodeToString(data),
	}))
}

// SendSlots pushes the full slot list of a board.
func (s *PlayerSession) SendSlots(boardID string, slots []board.SlotView) {
	s.Send(NewPacket(PktBoardSlots, map[string]any{
		"board_id": boardID,
		"slots":    slots,
	}))
}

// SendBoardClosed tells the client to close its board UI.
func (s *PlayerSession) SendBoardClosed(boardID, reason string) {
	s.mu.Lock()
	if s.openBoard == boardID {
		s.openBoard = ""
	}
	s.mu.Unlock()
	s.Send(NewPacket(PktBoardClosed, map[string]string{
		"board_id": boardID,
		"reason":   reason,
	}))
}

// SendError pushes a quest_error packet carrying a failure code.
func (s *PlayerSession) SendError(action, code, message string) {
	s.Send(NewPacket(PktQuestError, map[string]string{
		"action":  action,
		"code":    code,
		"message": message,
	}))
}

// SendHeartbeatPong sends a pong packet in response to a client ping.
func (s *PlayerSession) SendHeartbeatPong(clientTS int64) {
	s.Send(NewPacket(PktPong, map[string]int64{
		"client_ts": clientTS,
		"server_ts": time.Now().UnixMilli(),
	}))
}

// SetReadDeadline resets the WebSocket read deadline to 60 s from now.
func (s *PlayerSession) SetReadDeadline() {
	if s.Conn != nil {
		_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadlineS))
	}
}
