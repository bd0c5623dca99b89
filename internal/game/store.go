package game

import (
    "errors"
    "fmt"
    "math/rand"
    "sync"
    "time"

    "github.com/jonboulle/clockwork"

    "github.com/kiliankoe/songdash/internal/catalog"
)

var (
    ErrRoomNotFound   = errors.New("room_not_found")
    ErrNoFreeCodes    = errors.New("no_free_codes")
    ErrAlreadyInRoom  = errors.New("already_in_room")
    ErrGameInProgress = errors.New("game_in_progress")
    ErrRoomFull       = errors.New("room_full")
    ErrNotInRoom      = errors.New("not_in_room")
    ErrNotHost        = errors.New("not_host")
    ErrBadNickname    = errors.New("bad_nickname")
    ErrNicknameTaken  = errors.New("nickname_taken")
    ErrHandicapRange  = errors.New("handicap_out_of_range")
    ErrBadSettings    = errors.New("bad_settings")
    ErrNoSongs        = errors.New("no_songs")
    ErrWrongPhase     = errors.New("wrong_phase")
    ErrNoRound        = errors.New("no_round")
    ErrRoundClosed    = errors.New("round_closed")
    ErrAlreadyScored  = errors.New("already_scored")
)

// Options tunes a Store. Zero values fall back to the defaults above.
type Options struct {
    MaxPlayers    int
    DeletionGrace time.Duration
}

// Store owns every room, session binding and pending answer. All state is
// guarded by one mutex; timer callbacks re-enter through it, so what the
// dispatcher observes is always a consistent cut. Hooks fire outside the
// lock.
type Store struct {
    mu    sync.Mutex
    clock clockwork.Clock

    maxPlayers int
    grace      time.Duration

    rooms   map[string]*Room
    members map[string]string // conn id -> room code

    sessions  map[string]string // session -> live conn id
    conns     map[string]string // conn id -> session
    nicknames map[string]string // session -> last chosen nickname

    pending   map[string]map[string]*pendingAnswer // code -> player id
    deletions map[string]*deletionTimer            // code -> grace timer
    seq       uint64

    // OnAnswerResolved receives every resolved answer, including the
    // synchronous zero-handicap ones. OnRoomDeleted fires when a grace
    // period elapses and a room is torn down with its remaining conns.
    OnAnswerResolved func(AnswerEvent)
    OnRoomDeleted    func(code string, conns []string)
}

type pendingAnswer struct {
    code      string
    playerID  string
    songID    string
    songTitle string
    round     int
    seq       uint64
    timer     clockwork.Timer // nil on the synchronous path
}

type deletionTimer struct {
    timer clockwork.Timer
    seq   uint64
}

func NewStore(clock clockwork.Clock, opts Options) *Store {
    if clock == nil {
        clock = clockwork.NewRealClock()
    }
    if opts.MaxPlayers <= 0 {
        opts.MaxPlayers = DefaultMaxPlayers
    }
    if opts.DeletionGrace <= 0 {
        opts.DeletionGrace = DefaultDeletionGrace
    }
    return &Store{
        clock:      clock,
        maxPlayers: opts.MaxPlayers,
        grace:      opts.DeletionGrace,
        rooms:      make(map[string]*Room),
        members:    make(map[string]string),
        sessions:   make(map[string]string),
        conns:      make(map[string]string),
        nicknames:  make(map[string]string),
        pending:    make(map[string]map[string]*pendingAnswer),
        deletions:  make(map[string]*deletionTimer),
    }
}

// RoomState returns a broadcastable snapshot of a room.
func (s *Store) RoomState(code string) (RoomInfo, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room := s.rooms[code]
    if room == nil {
        return RoomInfo{}, false
    }
    return snapshotLocked(room), true
}

// RoomOf reports which room a connection is currently in.
func (s *Store) RoomOf(connID string) (string, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    code, ok := s.members[connID]
    return code, ok
}

func (s *Store) nextSeqLocked() uint64 {
    s.seq++
    return s.seq
}

func (s *Store) playerLocked(room *Room, connID string) *Player {
    for _, p := range room.Players {
        if p.ID == connID {
            return p
        }
    }
    return nil
}

func hostOf(room *Room) *Player {
    for _, p := range room.Players {
        if p.IsHost {
            return p
        }
    }
    return nil
}

func winnerIndex(r *Round, playerID string) int {
    for i, w := range r.Winners {
        if w.PlayerID == playerID {
            return i
        }
    }
    return -1
}

// durationSeconds reads the current step's playback duration, clamped to the
// last configured step.
func durationSeconds(room *Room) int {
    steps := room.Settings.DurationSteps
    if len(steps) == 0 {
        return 0
    }
    ix := 0
    if room.Round != nil {
        ix = room.Round.StepIndex
    }
    if ix >= len(steps) {
        ix = len(steps) - 1
    }
    return steps[ix]
}

func snapshotLocked(room *Room) RoomInfo {
    info := RoomInfo{
        Code:     room.Code,
        Phase:    room.Phase,
        Players:  make([]PlayerInfo, 0, len(room.Players)),
        Settings: room.Settings,
    }
    info.Settings.DurationSteps = append([]int(nil), room.Settings.DurationSteps...)
    info.Settings.ScoringScheme = append([]int(nil), room.Settings.ScoringScheme...)
    info.Settings.Playlist.Songs = append([]catalog.Song(nil), room.Settings.Playlist.Songs...)
    for _, p := range room.Players {
        info.Players = append(info.Players, PlayerInfo{
            ID:       p.ID,
            Nickname: p.Nickname,
            Score:    p.Score,
            IsHost:   p.IsHost,
            Handicap: p.Handicap,
        })
    }
    if r := room.Round; r != nil {
        ri := &RoundInfo{
            Number:          r.Number,
            StepIndex:       r.StepIndex,
            DurationSeconds: durationSeconds(room),
            Closed:          r.Closed,
            Winners:         append([]Winner(nil), r.Winners...),
            LastGuesses:     make(map[string]string, len(r.LastGuesses)),
        }
        for id, title := range r.LastGuesses {
            ri.LastGuesses[id] = title
        }
        info.Round = ri
    }
    return info
}

// allocCodeLocked picks an unused 4-digit code. Random draws almost always
// succeed; a dense table falls back to a linear scan before giving up.
func (s *Store) allocCodeLocked() (string, error) {
    for i := 0; i < 128; i++ {
        code := fmt.Sprintf("%04d", rand.Intn(10000))
        if s.rooms[code] == nil {
            return code, nil
        }
    }
    for n := 0; n < 10000; n++ {
        code := fmt.Sprintf("%04d", n)
        if s.rooms[code] == nil {
            return code, nil
        }
    }
    return "", ErrNoFreeCodes
}
