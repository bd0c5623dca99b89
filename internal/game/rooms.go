package game

import (
    "fmt"
    "strings"

    "github.com/kiliankoe/songdash/internal/catalog"
)

func defaultSettings() Settings {
    return Settings{
        RoundCount:    defaultRoundCount,
        DurationSteps: append([]int(nil), defaultDurationSteps...),
        ScoringScheme: append([]int(nil), defaultScoringScheme...),
    }
}

// CreateRoom allocates a fresh room with the caller as host.
func (s *Store) CreateRoom(connID, session string) (RoomInfo, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if _, in := s.members[connID]; in {
        return RoomInfo{}, ErrAlreadyInRoom
    }
    code, err := s.allocCodeLocked()
    if err != nil {
        return RoomInfo{}, err
    }
    now := s.clock.Now().UTC()
    room := &Room{
        Code:         code,
        Phase:        PhaseLobby,
        Settings:     defaultSettings(),
        CreatedAt:    now,
        hostSession:  session,
        participants: make(map[string]*participant),
    }
    p := &Player{
        ID:       connID,
        Session:  session,
        Nickname: s.pickNicknameLocked(room, session),
        IsHost:   true,
        JoinedAt: now,
    }
    room.Players = append(room.Players, p)
    s.rooms[code] = room
    s.members[connID] = code
    return snapshotLocked(room), nil
}

// CheckRoom probes a code before joining. Probing an empty room restarts its
// grace window so a reconnecting client cannot lose the race against the
// teardown timer between check and join.
func (s *Store) CheckRoom(code, session string) (RoomProbe, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room := s.rooms[code]
    if room == nil {
        return RoomProbe{}, false
    }
    if len(room.Players) == 0 {
        s.scheduleDeletionLocked(code)
    }
    return RoomProbe{
        Code:        code,
        Phase:       room.Phase,
        PlayerCount: len(room.Players),
        Joinable:    s.joinableLocked(room, session) == nil,
    }, true
}

// joinableLocked holds the join preconditions shared by CheckRoom and
// JoinRoom. Once a game has started only recorded participants (and the host
// session) may come back in.
func (s *Store) joinableLocked(room *Room, session string) error {
    if len(room.Players) >= s.maxPlayers {
        return ErrRoomFull
    }
    if room.Phase != PhaseLobby {
        if session == "" || (room.participants[session] == nil && session != room.hostSession) {
            return ErrGameInProgress
        }
    }
    return nil
}

// JoinRoom adds a connection to a room. A session that was part of a running
// game gets its score, handicap and nickname back; the host session regains
// the host flag and, when the room was paused on its account, resumes play.
func (s *Store) JoinRoom(code, connID, session string) (JoinResult, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room := s.rooms[code]
    if room == nil {
        return JoinResult{}, ErrRoomNotFound
    }
    if cur, in := s.members[connID]; in {
        if cur != code {
            return JoinResult{}, ErrAlreadyInRoom
        }
        // same connection joining its own room again is a no-op
        p := s.playerLocked(room, connID)
        res := JoinResult{Room: snapshotLocked(room), Host: p != nil && p.IsHost}
        if res.Host && room.Round != nil {
            song := room.Round.Song
            res.Song = &song
        }
        return res, nil
    }
    if err := s.joinableLocked(room, session); err != nil {
        return JoinResult{}, err
    }
    s.cancelDeletionLocked(code)
    now := s.clock.Now().UTC()
    p := &Player{ID: connID, Session: session, JoinedAt: now}
    if session != "" && room.Phase != PhaseLobby {
        if part := room.participants[session]; part != nil {
            p.Score = part.Score
            p.Handicap = part.Handicap
            if part.Nickname != "" && !nicknameTaken(room, part.Nickname, "") {
                p.Nickname = part.Nickname
            }
        }
    }
    if p.Nickname == "" {
        p.Nickname = s.pickNicknameLocked(room, session)
    }
    res := JoinResult{}
    if session != "" && session == room.hostSession && hostOf(room) == nil {
        p.IsHost = true
        if room.Phase == PhasePaused {
            room.Phase = PhasePlaying
            res.Resumed = true
        }
    }
    room.Players = append(room.Players, p)
    s.members[connID] = code
    res.Room = snapshotLocked(room)
    res.Host = p.IsHost
    if p.IsHost && room.Round != nil {
        song := room.Round.Song
        res.Song = &song
    }
    return res, nil
}

// LeaveRoom removes a connection from its room. Progress is parked on the
// session so a reconnect can pick it up, the room pauses when the host drops
// mid-game, and an emptied or host-abandoned room starts its deletion grace
// period.
func (s *Store) LeaveRoom(connID string) (LeaveResult, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    code, in := s.members[connID]
    if !in {
        return LeaveResult{}, false
    }
    delete(s.members, connID)
    room := s.rooms[code]
    if room == nil {
        return LeaveResult{}, false
    }
    var leaving *Player
    keep := room.Players[:0]
    for _, p := range room.Players {
        if p.ID == connID {
            leaving = p
            continue
        }
        keep = append(keep, p)
    }
    room.Players = keep
    if leaving == nil {
        return LeaveResult{}, false
    }
    s.cancelPendingLocked(code, connID)
    if leaving.Session != "" {
        if leaving.Nickname != "" {
            s.nicknames[leaving.Session] = leaving.Nickname
        }
        if room.Phase != PhaseLobby {
            room.participants[leaving.Session] = &participant{
                Nickname: leaving.Nickname,
                Score:    leaving.Score,
                Handicap: leaving.Handicap,
            }
        }
    }
    res := LeaveResult{Code: code, WasHost: leaving.IsHost}
    if res.WasHost && room.Phase == PhasePlaying {
        room.Phase = PhasePaused
        res.Paused = true
    }
    if len(room.Players) == 0 {
        s.scheduleDeletionLocked(code)
        res.Emptied = true
        return res, true
    }
    if res.WasHost && (room.Phase == PhaseLobby || room.Phase == PhaseFinished) {
        s.scheduleDeletionLocked(code)
    }
    snap := snapshotLocked(room)
    res.Room = &snap
    return res, true
}

// SetNickname renames a player and remembers the choice for future rooms on
// the same session. Renaming works in any phase; a rejoiner who lost their
// name to a new joiner can pick a fresh one mid-game.
func (s *Store) SetNickname(connID, nickname string) (RoomInfo, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, p, err := s.memberLocked(connID)
    if err != nil {
        return RoomInfo{}, err
    }
    nickname = strings.TrimSpace(nickname)
    if nickname == "" || len(nickname) > 24 {
        return RoomInfo{}, ErrBadNickname
    }
    if nicknameTaken(room, nickname, p.ID) {
        return RoomInfo{}, ErrNicknameTaken
    }
    p.Nickname = nickname
    if p.Session != "" {
        s.nicknames[p.Session] = nickname
    }
    return snapshotLocked(room), nil
}

// SetHandicap sets a player's self-imposed answer delay, lobby only.
func (s *Store) SetHandicap(connID string, seconds int) (RoomInfo, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, p, err := s.memberLocked(connID)
    if err != nil {
        return RoomInfo{}, err
    }
    if room.Phase != PhaseLobby {
        return RoomInfo{}, ErrWrongPhase
    }
    if seconds < 0 || seconds > MaxHandicapSeconds {
        return RoomInfo{}, ErrHandicapRange
    }
    p.Handicap = seconds
    return snapshotLocked(room), nil
}

// UpdateSettings applies a partial settings change, host only, lobby only.
func (s *Store) UpdateSettings(connID string, upd SettingsUpdate) (RoomInfo, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, _, err := s.hostActionLocked(connID)
    if err != nil {
        return RoomInfo{}, err
    }
    if room.Phase != PhaseLobby {
        return RoomInfo{}, ErrWrongPhase
    }
    if err := upd.validate(); err != nil {
        return RoomInfo{}, err
    }
    if upd.RoundCount != nil {
        room.Settings.RoundCount = *upd.RoundCount
    }
    if upd.DurationSteps != nil {
        room.Settings.DurationSteps = append([]int(nil), upd.DurationSteps...)
    }
    if upd.ScoringScheme != nil {
        room.Settings.ScoringScheme = append([]int(nil), upd.ScoringScheme...)
    }
    return snapshotLocked(room), nil
}

// SetSongs replaces the lobby's song selection, host only, lobby only. An
// empty list clears the selection.
func (s *Store) SetSongs(connID string, playlist catalog.Playlist) (RoomInfo, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, _, err := s.hostActionLocked(connID)
    if err != nil {
        return RoomInfo{}, err
    }
    if room.Phase != PhaseLobby {
        return RoomInfo{}, ErrWrongPhase
    }
    playlist.Songs = catalog.Sanitize(playlist.Songs)
    room.Settings.Playlist = playlist
    return snapshotLocked(room), nil
}

func (s *Store) memberLocked(connID string) (*Room, *Player, error) {
    code, in := s.members[connID]
    if !in {
        return nil, nil, ErrNotInRoom
    }
    room := s.rooms[code]
    if room == nil {
        return nil, nil, ErrRoomNotFound
    }
    p := s.playerLocked(room, connID)
    if p == nil {
        return nil, nil, ErrNotInRoom
    }
    return room, p, nil
}

func (s *Store) hostActionLocked(connID string) (*Room, *Player, error) {
    room, p, err := s.memberLocked(connID)
    if err != nil {
        return nil, nil, err
    }
    if !p.IsHost {
        return nil, nil, ErrNotHost
    }
    return room, p, nil
}

func (s *Store) pickNicknameLocked(room *Room, session string) string {
    if session != "" {
        if nick := s.nicknames[session]; nick != "" && !nicknameTaken(room, nick, "") {
            return nick
        }
    }
    n := len(room.Players) + 1
    for {
        nick := fmt.Sprintf("Player %d", n)
        if !nicknameTaken(room, nick, "") {
            return nick
        }
        n++
    }
}

// nicknameTaken reports whether another present player already holds nick.
// Comparison is case-sensitive, so differently cased spellings coexist.
func nicknameTaken(room *Room, nick, exceptConn string) bool {
    for _, p := range room.Players {
        if p.ID != exceptConn && p.Nickname == nick {
            return true
        }
    }
    return false
}

// scheduleDeletionLocked arms (or re-arms) a room's grace timer. Repeated
// calls replace the previous timer, they never stack.
func (s *Store) scheduleDeletionLocked(code string) {
    if d := s.deletions[code]; d != nil {
        d.timer.Stop()
    }
    seq := s.nextSeqLocked()
    d := &deletionTimer{seq: seq}
    d.timer = s.clock.AfterFunc(s.grace, func() { s.expireRoom(code, seq) })
    s.deletions[code] = d
}

func (s *Store) cancelDeletionLocked(code string) {
    if d := s.deletions[code]; d != nil {
        d.timer.Stop()
        delete(s.deletions, code)
    }
}

// expireRoom is the grace timer callback. The seq guard drops callbacks from
// timers that were replaced or cancelled after this one was armed.
func (s *Store) expireRoom(code string, seq uint64) {
    s.mu.Lock()
    d := s.deletions[code]
    if d == nil || d.seq != seq {
        s.mu.Unlock()
        return
    }
    delete(s.deletions, code)
    room := s.rooms[code]
    if room == nil {
        s.mu.Unlock()
        return
    }
    conns := make([]string, 0, len(room.Players))
    for _, p := range room.Players {
        conns = append(conns, p.ID)
        delete(s.members, p.ID)
    }
    s.cancelAllPendingLocked(code)
    delete(s.rooms, code)
    s.mu.Unlock()
    if s.OnRoomDeleted != nil {
        s.OnRoomDeleted(code, conns)
    }
}
