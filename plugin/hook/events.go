package hook

// AcceptEvent is the payload of BeforeQuestAccept and AfterQuestAccept.
type AcceptEvent struct {
	CharID   int64
	BoardID  string
	OfferID  string
	QuestKey string
	TicketID string // empty before the ticket exists
}

// TicketEvent is the payload of OnQuestComplete and OnTicketFailed.
type TicketEvent struct {
	CharID     int64
	TicketID   string
	BoardID    string
	QuestKey   string
	Experience int
	Reason     string
}

// BoardEvent is the payload of OnBoardPlaced and OnBoardDestroyed.
type BoardEvent struct {
	BoardID string
	Variant string
	World   string
	X, Y, Z int
}
