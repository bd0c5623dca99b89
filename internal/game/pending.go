package game

import (
    "sort"
    "strings"
    "time"
)

// Answers are not scored when they arrive but when the submitting player's
// handicap delay has run down. Between the two the guess sits here as a
// pending answer, at most one per player, resubmission replaces it. The
// timer callback re-validates everything under the lock: a callback whose
// seq no longer matches, or whose round has moved on, is dropped without a
// trace. A handicap of zero skips the timer entirely and resolves inside
// the submit call, which keeps same-instant submissions in arrival order.

// SubmitAnswer accepts a guess for the current round. The returned
// SubmitResult only acknowledges scheduling; the verdict is delivered via
// OnAnswerResolved after the player's handicap delay.
func (s *Store) SubmitAnswer(connID, songID, songTitle string) (SubmitResult, error) {
    s.mu.Lock()
    room, p, err := s.memberLocked(connID)
    if err != nil {
        s.mu.Unlock()
        return SubmitResult{}, err
    }
    if room.Phase != PhasePlaying {
        s.mu.Unlock()
        if room.Phase == PhasePaused {
            return SubmitResult{}, ErrWrongPhase
        }
        return SubmitResult{}, ErrNoRound
    }
    r := room.Round
    if r == nil {
        s.mu.Unlock()
        return SubmitResult{}, ErrNoRound
    }
    if r.Closed {
        s.mu.Unlock()
        return SubmitResult{}, ErrRoundClosed
    }
    if winnerIndex(r, p.ID) >= 0 {
        s.mu.Unlock()
        return SubmitResult{}, ErrAlreadyScored
    }
    s.cancelPendingLocked(room.Code, p.ID)
    pa := &pendingAnswer{
        code:      room.Code,
        playerID:  p.ID,
        songID:    strings.TrimSpace(songID),
        songTitle: strings.TrimSpace(songTitle),
        round:     r.Number,
        seq:       s.nextSeqLocked(),
    }
    if p.Handicap <= 0 {
        ev := s.resolveApplyLocked(room, pa)
        s.mu.Unlock()
        if ev != nil && s.OnAnswerResolved != nil {
            s.OnAnswerResolved(*ev)
        }
        return SubmitResult{Resolved: true}, nil
    }
    pa.timer = s.clock.AfterFunc(time.Duration(p.Handicap)*time.Second, func() {
        s.resolvePending(pa.code, pa.playerID, pa.seq)
    })
    m := s.pending[room.Code]
    if m == nil {
        m = make(map[string]*pendingAnswer)
        s.pending[room.Code] = m
    }
    m[p.ID] = pa
    s.mu.Unlock()
    return SubmitResult{DelaySeconds: p.Handicap}, nil
}

// CancelPendingAnswer drops a player's scheduled answer, if any.
func (s *Store) CancelPendingAnswer(code, playerID string) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.cancelPendingLocked(code, playerID)
}

// CancelAllPendingAnswers drops every scheduled answer of a room and
// returns the affected player ids.
func (s *Store) CancelAllPendingAnswers(code string) []string {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.cancelAllPendingLocked(code)
}

func (s *Store) cancelPendingLocked(code, playerID string) bool {
    m := s.pending[code]
    pa := m[playerID]
    if pa == nil {
        return false
    }
    if pa.timer != nil {
        pa.timer.Stop()
    }
    delete(m, playerID)
    if len(m) == 0 {
        delete(s.pending, code)
    }
    return true
}

func (s *Store) cancelAllPendingLocked(code string) []string {
    m := s.pending[code]
    if len(m) == 0 {
        return nil
    }
    ids := make([]string, 0, len(m))
    for id, pa := range m {
        if pa.timer != nil {
            pa.timer.Stop()
        }
        ids = append(ids, id)
    }
    delete(s.pending, code)
    sort.Strings(ids)
    return ids
}

// resolvePending is the handicap timer callback. A stale seq means the
// answer was superseded or cancelled after this timer was armed.
func (s *Store) resolvePending(code, playerID string, seq uint64) {
    s.mu.Lock()
    m := s.pending[code]
    pa := m[playerID]
    if pa == nil || pa.seq != seq {
        s.mu.Unlock()
        return
    }
    delete(m, playerID)
    if len(m) == 0 {
        delete(s.pending, code)
    }
    var ev *AnswerEvent
    if room := s.rooms[code]; room != nil {
        ev = s.resolveApplyLocked(room, pa)
    }
    s.mu.Unlock()
    if ev != nil && s.OnAnswerResolved != nil {
        s.OnAnswerResolved(*ev)
    }
}

// resolveApplyLocked scores one due answer against the room's current
// round. It returns nil when the answer no longer applies: the player left,
// the round advanced or closed in the meantime, or the player scored
// already. Scoring while paused is allowed so a guess submitted in play is
// not eaten by a badly timed host drop.
func (s *Store) resolveApplyLocked(room *Room, pa *pendingAnswer) *AnswerEvent {
    p := s.playerLocked(room, pa.playerID)
    if p == nil {
        return nil
    }
    if room.Phase != PhasePlaying && room.Phase != PhasePaused {
        return nil
    }
    r := room.Round
    if r == nil || r.Number != pa.round {
        return nil
    }
    if r.Closed || winnerIndex(r, p.ID) >= 0 {
        return nil
    }
    r.LastGuesses[p.ID] = pa.songTitle
    ev := &AnswerEvent{
        RoomCode:    room.Code,
        PlayerID:    p.ID,
        Nickname:    p.Nickname,
        SongID:      pa.songID,
        SongTitle:   pa.songTitle,
        RoundNumber: r.Number,
    }
    if pa.songID == "" || pa.songID != r.Song.ID {
        return ev
    }
    rank := len(r.Winners)
    points := 0
    if rank < len(room.Settings.ScoringScheme) {
        points = room.Settings.ScoringScheme[rank]
    }
    r.Winners = append(r.Winners, Winner{PlayerID: p.ID, Nickname: p.Nickname, Points: points})
    p.Score += points
    ev.Correct = true
    ev.Points = points
    ev.Rank = rank + 1
    slots := len(room.Settings.ScoringScheme)
    if n := len(room.Players); n < slots {
        slots = n
    }
    if len(r.Winners) >= slots {
        r.Closed = true
        s.cancelAllPendingLocked(room.Code)
        ev.SlotsFull = true
        ev.RoundEnded = true
        ev.RoundSong = r.Song
        ev.RoundWinners = append([]Winner(nil), r.Winners...)
        if !s.canAdvanceLocked(room) {
            s.endGameLocked(room)
            ev.GameEnded = true
        }
    }
    return ev
}
