package main

// Outbound event names
const (
	EventRosterUpdated       = "roster_updated"
	EventGameStarted         = "game_started"
	EventRoleAssigned        = "role_assigned"
	EventPhaseChanged        = "phase_changed"
	EventNightResolved       = "night_resolved"
	EventInvestigationResult = "investigation_result"
	EventVoteRecorded        = "vote_recorded"
	EventDayResolved         = "day_resolved"
	EventGameEnded           = "game_ended"
	EventChatMessage         = "chat_message"
	EventMessageLog          = "message_log"
	EventStory               = "story"
	EventSessionCreated      = "session_created"
	EventLobbies             = "lobbies"
	EventHistory             = "history"
	EventError               = "error"
	EventConnected           = "connected"
)

// Event is one outbound notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind     string `json:"event"`
	Code     string `json:"code,omitempty"`
	Identity string `json:"identity,omitempty"`

	Roster    []PlayerView `json:"roster,omitempty"`
	Phase     *Phase       `json:"phase,omitempty"`
	DayCount  *int         `json:"day_count,omitempty"`
	Role      Role         `json:"role,omitempty"`
	Teammates []string     `json:"teammates,omitempty"`

	// Casualty / Eliminated are player IDs; nil means nobody died.
	Casualty     *string `json:"casualty,omitempty"`
	Eliminated   *string `json:"eliminated,omitempty"`
	RevealedRole Role    `json:"revealed_role,omitempty"`
	NoDeath      bool    `json:"no_death,omitempty"`

	Target  string `json:"target,omitempty"`
	IsMafia *bool  `json:"is_mafia,omitempty"`
	Voter   string `json:"voter,omitempty"`
	Abstain bool   `json:"abstain,omitempty"`

	Winner Winner `json:"winner,omitempty"`

	Message  *ChatMessage   `json:"message,omitempty"`
	Messages []ChatMessage  `json:"messages,omitempty"`
	Text     string         `json:"text,omitempty"`
	Lobbies  []LobbySummary `json:"lobbies,omitempty"`
	Actions  []ActionRecord `json:"actions,omitempty"`

	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PlayerView is what other players may see. Role is only filled in when
// the game has ended.
type PlayerView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Alive bool   `json:"alive"`
	Ready bool   `json:"ready"`
	Host  bool   `json:"host"`
	Role  Role   `json:"role,omitempty"`
}

// Notifier delivers events to a session's subscribers. Implementations must
// not block: the engine calls them while holding the session lock.
type Notifier interface {
	Broadcast(code string, ev Event)
	SendTo(code, identity string, ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(string, Event)      {}
func (nopNotifier) SendTo(string, string, Event) {}

func phasePtr(p Phase) *Phase { return &p }
func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }
