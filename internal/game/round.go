package game

import (
    "github.com/kiliankoe/songdash/internal/catalog"
)

// StartGame moves a lobby into its first round. Scores reset, everyone
// present is recorded as a participant for reconnects, and the song
// selection is staged into a fresh shuffled queue.
func (s *Store) StartGame(connID string) (StartResult, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, _, err := s.hostActionLocked(connID)
    if err != nil {
        return StartResult{}, err
    }
    if room.Phase != PhaseLobby {
        return StartResult{}, ErrWrongPhase
    }
    if len(room.Settings.Playlist.Songs) == 0 {
        return StartResult{}, ErrNoSongs
    }
    room.participants = make(map[string]*participant, len(room.Players))
    for _, p := range room.Players {
        p.Score = 0
        if p.Session != "" {
            room.participants[p.Session] = &participant{Nickname: p.Nickname, Handicap: p.Handicap}
        }
    }
    room.queue = catalog.Stage(room.Settings.Playlist.Songs)
    start := s.startRoundLocked(room, 1)
    return StartResult{Room: snapshotLocked(room), Round: start}, nil
}

// Play authorizes a playback signal for the current round.
func (s *Store) Play(connID string) (PlayInfo, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, _, err := s.hostActionLocked(connID)
    if err != nil {
        return PlayInfo{}, err
    }
    if room.Phase != PhasePlaying {
        return PlayInfo{}, ErrWrongPhase
    }
    if room.Round == nil {
        return PlayInfo{}, ErrNoRound
    }
    return PlayInfo{RoundNumber: room.Round.Number, DurationSeconds: durationSeconds(room)}, nil
}

// ExtendDuration bumps the current round to the next playback step. The
// second return is false when the last step was already reached.
func (s *Store) ExtendDuration(connID string) (int, bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, _, err := s.hostActionLocked(connID)
    if err != nil {
        return 0, false, err
    }
    if room.Phase != PhasePlaying {
        return 0, false, ErrWrongPhase
    }
    r := room.Round
    if r == nil {
        return 0, false, ErrNoRound
    }
    steps := room.Settings.DurationSteps
    if r.StepIndex >= len(steps)-1 {
        return durationSeconds(room), false, nil
    }
    r.StepIndex++
    return steps[r.StepIndex], true, nil
}

// CloseAnswers closes the current round for the reveal. Unresolved pending
// answers are dropped. Closing the final configured round ends the game.
// Closing an already closed round just returns the current state.
func (s *Store) CloseAnswers(connID string) (CloseResult, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, _, err := s.hostActionLocked(connID)
    if err != nil {
        return CloseResult{}, err
    }
    if room.Phase != PhasePlaying {
        return CloseResult{}, ErrWrongPhase
    }
    r := room.Round
    if r == nil {
        return CloseResult{}, ErrNoRound
    }
    res := CloseResult{Round: r.Number, Song: r.Song}
    res.Winners = append([]Winner(nil), r.Winners...)
    if !r.Closed {
        r.Closed = true
        res.WasOpen = true
        res.Cancelled = s.cancelAllPendingLocked(room.Code)
        if !s.canAdvanceLocked(room) {
            s.endGameLocked(room)
            res.GameEnded = true
        }
    }
    res.Room = snapshotLocked(room)
    return res, nil
}

// NextRound replaces the current round with the next one, or ends the game
// when the configured round count is exhausted. Advancing cancels whatever
// pending answers the old round still had.
func (s *Store) NextRound(connID string) (NextResult, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, _, err := s.hostActionLocked(connID)
    if err != nil {
        return NextResult{}, err
    }
    if room.Phase != PhasePlaying {
        return NextResult{}, ErrWrongPhase
    }
    if room.Round == nil {
        return NextResult{}, ErrNoRound
    }
    if !s.canAdvanceLocked(room) {
        s.endGameLocked(room)
        return NextResult{Ended: true, Room: snapshotLocked(room)}, nil
    }
    start := s.startRoundLocked(room, room.Round.Number+1)
    return NextResult{Round: start, Room: snapshotLocked(room)}, nil
}

// EndGame finishes the game early on the host's request.
func (s *Store) EndGame(connID string) (RoomInfo, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, _, err := s.hostActionLocked(connID)
    if err != nil {
        return RoomInfo{}, err
    }
    if room.Phase != PhasePlaying {
        return RoomInfo{}, ErrWrongPhase
    }
    s.endGameLocked(room)
    return snapshotLocked(room), nil
}

// ResetToLobby returns a finished room to the lobby for another game with
// the same people and settings. Scores and participant records are wiped,
// the song selection stays and is restaged on the next start.
func (s *Store) ResetToLobby(connID string) (RoomInfo, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    room, _, err := s.hostActionLocked(connID)
    if err != nil {
        return RoomInfo{}, err
    }
    if room.Phase != PhaseFinished {
        return RoomInfo{}, ErrWrongPhase
    }
    s.cancelAllPendingLocked(room.Code)
    room.Phase = PhaseLobby
    room.participants = make(map[string]*participant)
    for _, p := range room.Players {
        p.Score = 0
    }
    return snapshotLocked(room), nil
}

// startRoundLocked begins round number with the next staged song, recycling
// the selection when the queue runs dry. Phase and round move together.
func (s *Store) startRoundLocked(room *Room, number int) RoundStart {
    s.cancelAllPendingLocked(room.Code)
    if len(room.queue) == 0 {
        room.queue = catalog.Stage(room.Settings.Playlist.Songs)
    }
    song := room.queue[0]
    room.queue = room.queue[1:]
    room.Round = &Round{
        Number:      number,
        Song:        song,
        Winners:     []Winner{},
        LastGuesses: make(map[string]string),
    }
    room.Phase = PhasePlaying
    return RoundStart{
        Number:          number,
        DurationSeconds: durationSeconds(room),
        TotalRounds:     room.Settings.RoundCount,
        Song:            song,
    }
}

func (s *Store) canAdvanceLocked(room *Room) bool {
    if room.Settings.RoundCount == 0 || room.Round == nil {
        return true
    }
    return room.Round.Number < room.Settings.RoundCount
}

func (s *Store) endGameLocked(room *Room) {
    s.cancelAllPendingLocked(room.Code)
    room.Phase = PhaseFinished
    room.Round = nil
    room.queue = nil
}
