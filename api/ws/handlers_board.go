package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kasuganosora/bountyboard/game/acceptance"
	"github.com/kasuganosora/bountyboard/game/board"
	"github.com/kasuganosora/bountyboard/game/bounty"
	"github.com/kasuganosora/bountyboard/game/item"
	"github.com/kasuganosora/bountyboard/game/player"
	"github.com/kasuganosora/bountyboard/game/quest"
	"go.uber.org/zap"
)

// Client → server message types.
const (
	MsgBoardOpen   = "board_open"
	MsgBoardClose  = "board_close"
	MsgQuestAccept = "quest_accept"
	MsgDeposit     = "quest_deposit"
	MsgTurnIn      = "quest_turn_in"
	MsgTicketList  = "ticket_list"
	MsgPing        = "ping"
)

// BoardHandlers serves the bounty board screen over the socket.
type BoardHandlers struct {
	boards    *board.Manager
	svc       *bounty.Service
	inventory *item.InventoryService
	logger    *zap.Logger
}

// NewBoardHandlers creates a new BoardHandlers.
func NewBoardHandlers(boards *board.Manager, svc *bounty.Service, inventory *item.InventoryService, logger *zap.Logger) *BoardHandlers {
	return &BoardHandlers{boards: boards, svc: svc, inventory: inventory, logger: logger}
}

// RegisterHandlers registers the board handlers on the given Router.
func (bh *BoardHandlers) RegisterHandlers(r *Router) {
	r.On(MsgPing, bh.HandlePing)
	r.On(MsgBoardOpen, bh.HandleOpen)
	r.On(MsgBoardClose, bh.HandleClose)
	r.On(MsgQuestAccept, bh.HandleAccept)
	r.On(MsgDeposit, bh.HandleDeposit)
	r.On(MsgTurnIn, bh.HandleTurnIn)
	r.On(MsgTicketList, bh.HandleTicketList)
}

type pingPayload struct {
	TS int64 `json:"ts"`
}

// HandlePing responds to client heartbeat pings.
func (bh *BoardHandlers) HandlePing(_ context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var p pingPayload
	_ = json.Unmarshal(raw, &p)
	s.SendHeartbeatPong(p.TS)
	return nil
}

type boardReq struct {
	BoardID string `json:"board_id"`
}

// HandleOpen attaches the session to a board. The client receives the slots and
// its mask before any later update.
func (bh *BoardHandlers) HandleOpen(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req boardReq
	if err := json.Unmarshal(raw, &req); err != nil || req.BoardID == "" {
		s.SendError(MsgBoardOpen, bounty.CodeBadRequest, "board_id required")
		return nil
	}
	if prev := s.OpenBoard(); prev != "" && prev != req.BoardID {
		bh.boards.Close(ctx, prev, s.SessionID())
	}
	prof, _ := s.Profile()
	if _, err := bh.boards.Open(ctx, req.BoardID, s, s.CharID, prof); err != nil {
		s.SetOpenBoard("")
		if errors.Is(err, board.ErrNotFound) || errors.Is(err, board.ErrDestroyed) {
			s.SendError(MsgBoardOpen, string(acceptance.CodeQuestUnavailable), "board not found")
			return nil
		}
		return err
	}
	s.SetOpenBoard(req.BoardID)
	return nil
}

// HandleClose detaches the session from its board.
func (bh *BoardHandlers) HandleClose(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req boardReq
	_ = json.Unmarshal(raw, &req)
	id := req.BoardID
	if id == "" {
		id = s.OpenBoard()
	}
	if id == "" {
		return nil
	}
	bh.boards.Close(ctx, id, s.SessionID())
	if s.OpenBoard() == id {
		s.SetOpenBoard("")
	}
	return nil
}

type acceptReq struct {
	BoardID string `json:"board_id"`
	OfferID string `json:"offer_id"`
}

// HandleAccept claims an offer. A transport failure is retried once before the
// player sees NETWORK_ERROR.
func (bh *BoardHandlers) HandleAccept(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req acceptReq
	if err := json.Unmarshal(raw, &req); err != nil || req.OfferID == "" {
		s.SendError(MsgQuestAccept, bounty.CodeBadRequest, "offer_id required")
		return nil
	}
	if req.BoardID == "" {
		req.BoardID = s.OpenBoard()
	}
	ar := bounty.AcceptRequest{
		CharID:  s.CharID,
		BoardID: req.BoardID,
		OfferID: req.OfferID,
		TraceID: TraceIDFromCtx(ctx),
	}
	t, err := bh.svc.Accept(ctx, ar)
	if acceptance.CodeOf(err) == acceptance.CodeNetworkError {
		t, err = bh.svc.Accept(ctx, ar)
	}
	if err != nil {
		ae := acceptance.Classify(err)
		s.SendError(MsgQuestAccept, string(ae.Code), ae.Error())
		return nil
	}
	s.Send(player.NewPacket(player.PktTicketUpdate, bounty.View(t)))
	return nil
}

type depositReq struct {
	TicketID string        `json:"ticket_id"`
	Item     quest.ItemRef `json:"item"`
	Qty      int           `json:"qty"`
}

// HandleDeposit hands items from the bag to a ticket.
func (bh *BoardHandlers) HandleDeposit(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req depositReq
	if err := json.Unmarshal(raw, &req); err != nil {
		s.SendError(MsgDeposit, bounty.CodeBadRequest, "malformed request")
		return nil
	}
	t, used, err := bh.svc.Deposit(ctx, bounty.DepositRequest{
		CharID:   s.CharID,
		TicketID: req.TicketID,
		Item:     req.Item,
		Qty:      req.Qty,
		TraceID:  TraceIDFromCtx(ctx),
	})
	if err != nil {
		if !bounty.UserFacing(err) {
			bh.logger.Error("deposit failed",
				zap.Int64("char_id", s.CharID),
				zap.String("ticket_id", req.TicketID),
				zap.Error(err))
		}
		s.SendError(MsgDeposit, bounty.ErrorCode(err), err.Error())
		return nil
	}
	s.Send(player.NewPacket(player.PktTicketUpdate, map[string]any{
		"ticket": bounty.View(t),
		"used":   used,
	}))
	if rows, err := bh.inventory.List(ctx, s.CharID); err == nil {
		item.NotifyUpdate(s, rows)
	}
	return nil
}

type turnInReq struct {
	TicketID string `json:"ticket_id"`
}

// HandleTurnIn finishes a completed ticket and reports the reward.
func (bh *BoardHandlers) HandleTurnIn(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req turnInReq
	if err := json.Unmarshal(raw, &req); err != nil || req.TicketID == "" {
		s.SendError(MsgTurnIn, bounty.CodeBadRequest, "ticket_id required")
		return nil
	}
	t, res, err := bh.svc.TurnIn(ctx, s.CharID, req.TicketID, TraceIDFromCtx(ctx))
	if err != nil {
		if !bounty.UserFacing(err) {
			bh.logger.Error("turn-in failed",
				zap.Int64("char_id", s.CharID),
				zap.String("ticket_id", req.TicketID),
				zap.Error(err))
		}
		s.SendError(MsgTurnIn, bounty.ErrorCode(err), err.Error())
		return nil
	}
	if res.Level > 0 {
		prof, _ := s.Profile()
		s.SetProfile(prof, res.Level)
	}
	s.Send(player.NewPacket(player.PktTicketUpdate, map[string]any{
		"ticket": bounty.View(t),
		"reward": res,
	}))
	return nil
}

// HandleTicketList sends every ticket the character holds.
func (bh *BoardHandlers) HandleTicketList(ctx context.Context, s *player.PlayerSession, _ json.RawMessage) error {
	ts, err := bh.svc.Tickets(ctx, s.CharID)
	if err != nil {
		return err
	}
	s.Send(player.NewPacket(player.PktTicketList, map[string]any{"tickets": bounty.Views(ts)}))
	return nil
}
