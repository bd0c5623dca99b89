package game

import (
    "time"

    "github.com/kiliankoe/songdash/internal/catalog"
)

type Phase string

const (
    PhaseLobby    Phase = "lobby"
    PhasePlaying  Phase = "playing"
    PhasePaused   Phase = "paused"
    PhaseFinished Phase = "finished"
)

const (
    // CodeLength is the number of digits in a room code.
    CodeLength = 4
    // MaxHandicapSeconds bounds the per-player answer delay.
    MaxHandicapSeconds = 30
    // DefaultMaxPlayers caps room membership unless configured otherwise.
    DefaultMaxPlayers = 20
    // DefaultDeletionGrace is how long an emptied (or host-abandoned) room
    // stays allocated before teardown.
    DefaultDeletionGrace = 5 * time.Minute
)

// Defaults for fresh rooms. A round count of 0 means unbounded, the host
// ends the game manually.
var (
    defaultDurationSteps = []int{1, 2, 4, 8, 16}
    defaultScoringScheme = []int{4, 2, 1}
    defaultRoundCount    = 10
)

// Settings is the host-tunable room configuration, mutable only in the lobby.
type Settings struct {
    RoundCount    int              `json:"roundCount"`
    DurationSteps []int            `json:"durationSteps"` // seconds per step
    ScoringScheme []int            `json:"scoringScheme"` // points by arrival rank
    Playlist      catalog.Playlist `json:"playlist"`
}

// Player is one connection's membership in a room. The session token stays
// server-side; broadcast payloads use the snapshot types below.
type Player struct {
    ID       string // connection id
    Session  string
    Nickname string
    Score    int
    IsHost   bool
    Handicap int // seconds, 0..MaxHandicapSeconds
    JoinedAt time.Time
}

// Winner is one paid answer slot of a round, in resolution order.
type Winner struct {
    PlayerID string `json:"playerId"`
    Nickname string `json:"nickname"`
    Points   int    `json:"points"`
}

// Round is one guess-the-song cycle. It exists only while the room is
// playing or paused and is replaced wholesale on advance.
type Round struct {
    Number      int
    StepIndex   int
    Song        catalog.Song
    Winners     []Winner
    LastGuesses map[string]string // playerID -> last resolved title
    Closed      bool
}

// Room is the server-side state of one game session. Phase and Round are
// only ever mutated together through the store's transition helpers, so
// playing/paused implies a non-nil round and lobby/finished a nil one.
type Room struct {
    Code      string
    Phase     Phase
    Players   []*Player // join order
    Settings  Settings
    Round     *Round
    CreatedAt time.Time

    hostSession  string
    participants map[string]*participant // session -> mid-game resume state
    queue        []catalog.Song          // staged songs for this game, head is next
}

// participant preserves a player's progress across a reconnect while a game
// is running.
type participant struct {
    Nickname string
    Score    int
    Handicap int
}

// PlayerInfo is the broadcastable view of a Player.
type PlayerInfo struct {
    ID       string `json:"id"`
    Nickname string `json:"nickname"`
    Score    int    `json:"score"`
    IsHost   bool   `json:"isHost"`
    Handicap int    `json:"handicap"`
}

// RoundInfo is the broadcastable view of a Round. It omits the round's song;
// that is emitted to the host connection only.
type RoundInfo struct {
    Number          int               `json:"number"`
    StepIndex       int               `json:"stepIndex"`
    DurationSeconds int               `json:"durationSeconds"`
    Closed          bool              `json:"closed"`
    Winners         []Winner          `json:"winners"`
    LastGuesses     map[string]string `json:"lastGuesses"`
}

// RoomInfo is the broadcastable view of a Room.
type RoomInfo struct {
    Code     string       `json:"code"`
    Phase    Phase        `json:"phase"`
    Players  []PlayerInfo `json:"players"`
    Settings Settings     `json:"settings"`
    Round    *RoundInfo   `json:"round,omitempty"`
}

// RoomProbe answers a pre-join room check.
type RoomProbe struct {
    Code        string `json:"code"`
    Phase       Phase  `json:"phase"`
    PlayerCount int    `json:"playerCount"`
    Joinable    bool   `json:"joinable"`
}

// RoundStart describes a freshly started round. Song is only ever sent to
// the host connection.
type RoundStart struct {
    Number          int
    DurationSeconds int
    TotalRounds     int
    Song            catalog.Song
}

// JoinResult reports a successful join. Song carries the current round's
// song when the joiner is the host, so a reconnecting host can resume
// playback.
type JoinResult struct {
    Room    RoomInfo
    Host    bool
    Resumed bool // the join unpaused the room
    Song    *catalog.Song
}

// SettingsUpdate is a partial, host-initiated settings change. Nil fields
// are left untouched.
type SettingsUpdate struct {
    RoundCount    *int  `json:"roundCount"`
    DurationSteps []int `json:"durationSteps"`
    ScoringScheme []int `json:"scoringScheme"`
}

func (u SettingsUpdate) validate() error {
    if u.RoundCount != nil && (*u.RoundCount < 0 || *u.RoundCount > 100) {
        return ErrBadSettings
    }
    if u.DurationSteps != nil {
        if len(u.DurationSteps) == 0 || len(u.DurationSteps) > 10 {
            return ErrBadSettings
        }
        for _, sec := range u.DurationSteps {
            if sec < 1 || sec > 300 {
                return ErrBadSettings
            }
        }
    }
    if u.ScoringScheme != nil {
        if len(u.ScoringScheme) == 0 || len(u.ScoringScheme) > 8 {
            return ErrBadSettings
        }
        for _, pts := range u.ScoringScheme {
            if pts < 0 || pts > 100 {
                return ErrBadSettings
            }
        }
    }
    return nil
}

// LeaveResult reports the side effects of a player leaving.
type LeaveResult struct {
    Code    string
    WasHost bool
    Paused  bool
    Emptied bool
    Room    *RoomInfo // nil when the room emptied
}

// StartResult reports a game start: the lobby snapshot after the transition
// plus the first round.
type StartResult struct {
    Room  RoomInfo
    Round RoundStart
}

// PlayInfo authorizes one playback signal.
type PlayInfo struct {
    RoundNumber     int
    DurationSeconds int
}

// SubmitResult acknowledges an answer submission. The outcome arrives
// separately through the store's OnAnswerResolved hook once the player's
// handicap delay has run down.
type SubmitResult struct {
    Resolved     bool
    DelaySeconds int
}

// CloseResult reports a host-initiated answer close. Round and Winners are
// captured before a final-round close ends the game and drops the round.
// WasOpen is false when the round was closed before the call; reveal side
// effects must not run again off such a result.
type CloseResult struct {
    Round     int
    Song      catalog.Song
    Winners   []Winner
    Room      RoomInfo
    WasOpen   bool
    GameEnded bool
    Cancelled []string // player ids whose pending answers were dropped
}

// NextResult reports a round advance: either a new round, or the end of the
// game when the configured rounds are exhausted.
type NextResult struct {
    Ended bool
    Round RoundStart
    Room  RoomInfo
}

// AnswerEvent is delivered through Store.OnAnswerResolved whenever an answer
// resolves, including the synchronous zero-handicap path.
type AnswerEvent struct {
    RoomCode     string
    PlayerID     string
    Nickname     string
    SongID       string
    SongTitle    string
    RoundNumber  int
    Correct      bool
    Points       int
    Rank         int // 1-based arrival rank, set when correct
    SlotsFull    bool
    RoundEnded   bool         // this resolution filled the payable slots
    GameEnded    bool         // ...and it was the final round
    RoundSong    catalog.Song // set when RoundEnded, for the reveal
    RoundWinners []Winner     // set when RoundEnded
}
