package ws

import (
    "errors"
    "net/http"
    "sync"

    "github.com/gin-gonic/gin"
    "github.com/google/uuid"
    socketio "github.com/googollee/go-socket.io"
    "github.com/kiliankoe/songdash/internal/catalog"
    "github.com/kiliankoe/songdash/internal/config"
    "github.com/kiliankoe/songdash/internal/game"
    "github.com/rs/zerolog/log"
)

type ConnCtx struct {
    Code    string
    Session string
}

type Server struct {
    Store  *game.Store
    config config.Config

    mu      sync.RWMutex
    members map[string]map[string]socketio.Conn // roomCode -> socketID -> Conn
}

func New(store *game.Store, cfg config.Config) *Server {
    return &Server{Store: store, config: cfg, members: make(map[string]map[string]socketio.Conn)}
}

// Mount attaches the Socket.IO server with all handlers to the given Gin
// engine and wires the store's timer-driven hooks back into the room
// broadcasts.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
    io := socketio.NewServer(nil)

    // Handicap timers and grace timers fire on their own goroutines, their
    // results come back in through these hooks.
    srv.Store.OnAnswerResolved = func(ev game.AnswerEvent) {
        srv.answerResolved(io, ev)
    }
    srv.Store.OnRoomDeleted = func(code string, conns []string) {
        srv.roomDeleted(code, conns)
    }

    io.OnConnect("/", func(s socketio.Conn) error {
        u := s.URL()
        session := u.Query().Get("session")
        if session == "" {
            session = uuid.NewString()
            s.Emit("session:issued", map[string]any{"session": session})
        }
        srv.Store.BindSession(session, s.ID())
        s.SetContext(&ConnCtx{Session: session})
        log.Info().Str("sid", s.ID()).Msg("socket connected")
        return nil
    })

    // room:create
    io.OnEvent("/", "room:create", func(s socketio.Conn) map[string]any {
        ctx := s.Context().(*ConnCtx)
        state, err := srv.Store.CreateRoom(s.ID(), ctx.Session)
        if err != nil {
            return srv.fail(s, err)
        }
        s.SetContext(&ConnCtx{Code: state.Code, Session: ctx.Session})
        s.Join(state.Code)
        srv.addMember(state.Code, s)
        log.Info().Str("sid", s.ID()).Str("code", state.Code).Msg("room:create")
        srv.emitRoomState(state.Code)
        return map[string]any{"code": state.Code, "state": state}
    })

    // room:check
    io.OnEvent("/", "room:check", func(s socketio.Conn, payload struct {
        Code string `json:"code"`
    }) map[string]any {
        ctx := s.Context().(*ConnCtx)
        probe, ok := srv.Store.CheckRoom(payload.Code, ctx.Session)
        if !ok {
            return map[string]any{"exists": false}
        }
        return map[string]any{
            "exists":      true,
            "code":        probe.Code,
            "phase":       string(probe.Phase),
            "playerCount": probe.PlayerCount,
            "joinable":    probe.Joinable,
        }
    })

    // room:join
    io.OnEvent("/", "room:join", func(s socketio.Conn, payload struct {
        Code string `json:"code"`
    }) map[string]any {
        ctx := s.Context().(*ConnCtx)
        res, err := srv.Store.JoinRoom(payload.Code, s.ID(), ctx.Session)
        if err != nil {
            return srv.fail(s, err)
        }
        s.SetContext(&ConnCtx{Code: res.Room.Code, Session: ctx.Session})
        s.Join(res.Room.Code)
        srv.addMember(res.Room.Code, s)
        log.Info().Str("sid", s.ID()).Str("code", res.Room.Code).Bool("host", res.Host).Msg("room:join")
        if res.Resumed {
            io.BroadcastToRoom("/", res.Room.Code, "game:resumed", map[string]any{"code": res.Room.Code})
        }
        if res.Song != nil {
            // a returning host needs the current song to resume playback
            s.Emit("round:song", map[string]any{"song": res.Song})
        }
        srv.emitRoomState(res.Room.Code)
        return map[string]any{"code": res.Room.Code, "state": res.Room}
    })

    // player:nickname
    io.OnEvent("/", "player:nickname", func(s socketio.Conn, payload struct {
        Nickname string `json:"nickname"`
    }) map[string]any {
        ctx := s.Context().(*ConnCtx)
        state, err := srv.Store.SetNickname(s.ID(), payload.Nickname)
        if err != nil {
            return srv.fail(s, err)
        }
        log.Info().Str("sid", s.ID()).Str("code", ctx.Code).Str("nickname", payload.Nickname).Msg("player:nickname")
        srv.emitRoomState(state.Code)
        return map[string]any{"ok": true}
    })

    // player:handicap
    io.OnEvent("/", "player:handicap", func(s socketio.Conn, payload struct {
        Seconds int `json:"seconds"`
    }) map[string]any {
        ctx := s.Context().(*ConnCtx)
        state, err := srv.Store.SetHandicap(s.ID(), payload.Seconds)
        if err != nil {
            return srv.fail(s, err)
        }
        log.Info().Str("sid", s.ID()).Str("code", ctx.Code).Int("seconds", payload.Seconds).Msg("player:handicap")
        srv.emitRoomState(state.Code)
        return map[string]any{"ok": true}
    })

    // room:settings (host)
    io.OnEvent("/", "room:settings", func(s socketio.Conn, payload game.SettingsUpdate) map[string]any {
        ctx := s.Context().(*ConnCtx)
        state, err := srv.Store.UpdateSettings(s.ID(), payload)
        if err != nil {
            return srv.fail(s, err)
        }
        log.Info().Str("code", ctx.Code).Msg("room:settings")
        srv.emitRoomState(state.Code)
        return map[string]any{"ok": true}
    })

    // room:songs (host)
    io.OnEvent("/", "room:songs", func(s socketio.Conn, payload struct {
        Playlist catalog.Playlist `json:"playlist"`
    }) map[string]any {
        ctx := s.Context().(*ConnCtx)
        state, err := srv.Store.SetSongs(s.ID(), payload.Playlist)
        if err != nil {
            return srv.fail(s, err)
        }
        log.Info().Str("code", ctx.Code).Int("songs", len(state.Settings.Playlist.Songs)).Msg("room:songs")
        srv.emitRoomState(state.Code)
        return map[string]any{"ok": true, "songCount": len(state.Settings.Playlist.Songs)}
    })

    // game:start (host)
    io.OnEvent("/", "game:start", func(s socketio.Conn) map[string]any {
        res, err := srv.Store.StartGame(s.ID())
        if err != nil {
            return srv.fail(s, err)
        }
        log.Info().Str("code", res.Room.Code).Int("rounds", res.Round.TotalRounds).Msg("game:start")
        srv.emitRoomState(res.Room.Code)
        io.BroadcastToRoom("/", res.Room.Code, "round:started", map[string]any{
            "number":          res.Round.Number,
            "durationSeconds": res.Round.DurationSeconds,
            "totalRounds":     res.Round.TotalRounds,
        })
        s.Emit("round:song", map[string]any{"song": res.Round.Song})
        return map[string]any{"ok": true}
    })

    // game:play (host)
    io.OnEvent("/", "game:play", func(s socketio.Conn) map[string]any {
        ctx := s.Context().(*ConnCtx)
        info, err := srv.Store.Play(s.ID())
        if err != nil {
            return srv.fail(s, err)
        }
        io.BroadcastToRoom("/", ctx.Code, "round:play", map[string]any{
            "number":          info.RoundNumber,
            "durationSeconds": info.DurationSeconds,
        })
        return map[string]any{"ok": true}
    })

    // game:extend (host)
    io.OnEvent("/", "game:extend", func(s socketio.Conn) map[string]any {
        ctx := s.Context().(*ConnCtx)
        seconds, extended, err := srv.Store.ExtendDuration(s.ID())
        if err != nil {
            return srv.fail(s, err)
        }
        if extended {
            log.Info().Str("code", ctx.Code).Int("seconds", seconds).Msg("game:extend")
            io.BroadcastToRoom("/", ctx.Code, "round:extended", map[string]any{"durationSeconds": seconds})
            srv.emitRoomState(ctx.Code)
        }
        return map[string]any{"durationSeconds": seconds, "extended": extended}
    })

    // game:close (host)
    io.OnEvent("/", "game:close", func(s socketio.Conn) map[string]any {
        ctx := s.Context().(*ConnCtx)
        res, err := srv.Store.CloseAnswers(s.ID())
        if err != nil {
            return srv.fail(s, err)
        }
        log.Info().Str("code", ctx.Code).Int("round", res.Round).Bool("gameEnded", res.GameEnded).Msg("game:close")
        srv.emitRoomState(res.Room.Code)
        // A close that found the round already closed (double click, or a
        // slots-full auto-close beat it) must not repeat the reveal or the
        // export.
        if res.WasOpen {
            io.BroadcastToRoom("/", res.Room.Code, "round:reveal", map[string]any{
                "number":  res.Round,
                "song":    res.Song,
                "winners": res.Winners,
            })
            srv.exportRound(res.Room, res.Round, res.Song, res.Winners)
            if res.GameEnded {
                io.BroadcastToRoom("/", res.Room.Code, "game:ended", map[string]any{"code": res.Room.Code})
                srv.exportFinal(res.Room)
            }
        }
        return map[string]any{"ok": true}
    })

    // game:next (host)
    io.OnEvent("/", "game:next", func(s socketio.Conn) map[string]any {
        ctx := s.Context().(*ConnCtx)
        res, err := srv.Store.NextRound(s.ID())
        if err != nil {
            return srv.fail(s, err)
        }
        srv.emitRoomState(res.Room.Code)
        if res.Ended {
            log.Info().Str("code", ctx.Code).Msg("game:next ended game")
            io.BroadcastToRoom("/", res.Room.Code, "game:ended", map[string]any{"code": res.Room.Code})
            srv.exportFinal(res.Room)
            return map[string]any{"ok": true, "ended": true}
        }
        log.Info().Str("code", ctx.Code).Int("round", res.Round.Number).Msg("game:next")
        io.BroadcastToRoom("/", res.Room.Code, "round:started", map[string]any{
            "number":          res.Round.Number,
            "durationSeconds": res.Round.DurationSeconds,
            "totalRounds":     res.Round.TotalRounds,
        })
        s.Emit("round:song", map[string]any{"song": res.Round.Song})
        return map[string]any{"ok": true}
    })

    // game:end (host)
    io.OnEvent("/", "game:end", func(s socketio.Conn) map[string]any {
        ctx := s.Context().(*ConnCtx)
        state, err := srv.Store.EndGame(s.ID())
        if err != nil {
            return srv.fail(s, err)
        }
        log.Info().Str("code", ctx.Code).Msg("game:end")
        srv.emitRoomState(state.Code)
        io.BroadcastToRoom("/", state.Code, "game:ended", map[string]any{"code": state.Code})
        srv.exportFinal(state)
        return map[string]any{"ok": true}
    })

    // game:reset (host)
    io.OnEvent("/", "game:reset", func(s socketio.Conn) map[string]any {
        ctx := s.Context().(*ConnCtx)
        state, err := srv.Store.ResetToLobby(s.ID())
        if err != nil {
            return srv.fail(s, err)
        }
        log.Info().Str("code", ctx.Code).Msg("game:reset")
        srv.emitRoomState(state.Code)
        return map[string]any{"ok": true}
    })

    // answer:submit
    io.OnEvent("/", "answer:submit", func(s socketio.Conn, payload struct {
        SongID string `json:"songId"`
        Title  string `json:"title"`
    }) map[string]any {
        ctx := s.Context().(*ConnCtx)
        res, err := srv.Store.SubmitAnswer(s.ID(), payload.SongID, payload.Title)
        if err != nil {
            return srv.fail(s, err)
        }
        log.Info().Str("sid", s.ID()).Str("code", ctx.Code).Int("delay", res.DelaySeconds).Msg("answer:submit")
        return map[string]any{"accepted": true, "resolved": res.Resolved, "delaySeconds": res.DelaySeconds}
    })

    io.OnError("/", func(s socketio.Conn, e error) {
        log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
    })
    io.OnDisconnect("/", func(s socketio.Conn, reason string) {
        if ctx, ok := s.Context().(*ConnCtx); ok && ctx.Code != "" {
            srv.removeMember(ctx.Code, s)
            if res, left := srv.Store.LeaveRoom(s.ID()); left {
                if res.Paused {
                    io.BroadcastToRoom("/", res.Code, "game:paused", map[string]any{"code": res.Code})
                }
                if !res.Emptied {
                    srv.emitRoomState(res.Code)
                }
            }
        }
        srv.Store.ReleaseConn(s.ID())
        log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
    })

    go io.Serve()

    // Mount to router
    r.GET("/socket.io/*any", gin.WrapH(io))
    r.POST("/socket.io/*any", gin.WrapH(io))

    // Basic CORS preflight for Socket.IO POST
    r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
        c.Header("Access-Control-Allow-Origin", "*")
        c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
        c.Header("Access-Control-Allow-Headers", "Content-Type")
        c.Status(http.StatusNoContent)
    })

    return io
}

// answerResolved relays a resolved answer: personal feedback to the guesser,
// scoring and reveal broadcasts to the room.
func (srv *Server) answerResolved(io *socketio.Server, ev game.AnswerEvent) {
    if c := srv.conn(ev.RoomCode, ev.PlayerID); c != nil {
        c.Emit("answer:result", map[string]any{
            "round":   ev.RoundNumber,
            "correct": ev.Correct,
            "points":  ev.Points,
            "rank":    ev.Rank,
            "title":   ev.SongTitle,
        })
    }
    if ev.Correct {
        log.Info().Str("code", ev.RoomCode).Str("nickname", ev.Nickname).Int("rank", ev.Rank).Int("points", ev.Points).Msg("answer scored")
        io.BroadcastToRoom("/", ev.RoomCode, "round:scored", map[string]any{
            "playerId":  ev.PlayerID,
            "nickname":  ev.Nickname,
            "points":    ev.Points,
            "rank":      ev.Rank,
            "slotsFull": ev.SlotsFull,
        })
    }
    srv.emitRoomState(ev.RoomCode)
    if !ev.RoundEnded {
        return
    }
    io.BroadcastToRoom("/", ev.RoomCode, "round:reveal", map[string]any{
        "number":  ev.RoundNumber,
        "song":    ev.RoundSong,
        "winners": ev.RoundWinners,
    })
    state, ok := srv.Store.RoomState(ev.RoomCode)
    if ok {
        srv.exportRound(state, ev.RoundNumber, ev.RoundSong, ev.RoundWinners)
    }
    if ev.GameEnded {
        io.BroadcastToRoom("/", ev.RoomCode, "game:ended", map[string]any{"code": ev.RoomCode})
        if ok {
            srv.exportFinal(state)
        }
    }
}

// roomDeleted tells whoever is still connected that the grace period ran
// out, then forgets the room.
func (srv *Server) roomDeleted(code string, conns []string) {
    log.Info().Str("code", code).Int("conns", len(conns)).Msg("room expired")
    srv.mu.Lock()
    m := srv.members[code]
    delete(srv.members, code)
    srv.mu.Unlock()
    for _, c := range m {
        c.Emit("room:deleted", map[string]any{"code": code})
        if ctx, ok := c.Context().(*ConnCtx); ok {
            c.SetContext(&ConnCtx{Session: ctx.Session})
        }
        c.Leave(code)
    }
}

func (srv *Server) addMember(code string, c socketio.Conn) {
    srv.mu.Lock()
    defer srv.mu.Unlock()
    if srv.members[code] == nil {
        srv.members[code] = make(map[string]socketio.Conn)
    }
    srv.members[code][c.ID()] = c
}

func (srv *Server) removeMember(code string, c socketio.Conn) {
    srv.mu.Lock()
    defer srv.mu.Unlock()
    if m := srv.members[code]; m != nil {
        delete(m, c.ID())
        if len(m) == 0 {
            delete(srv.members, code)
        }
    }
}

func (srv *Server) conn(code, socketID string) socketio.Conn {
    srv.mu.RLock()
    defer srv.mu.RUnlock()
    if m := srv.members[code]; m != nil {
        return m[socketID]
    }
    return nil
}

// emitRoomState sends the room snapshot to every member, personalized with
// a "you" block so each client can find itself.
func (srv *Server) emitRoomState(code string) {
    state, ok := srv.Store.RoomState(code)
    if !ok {
        return
    }
    srv.mu.RLock()
    conns := make([]socketio.Conn, 0, len(srv.members[code]))
    for _, c := range srv.members[code] {
        conns = append(conns, c)
    }
    srv.mu.RUnlock()
    for _, c := range conns {
        you := map[string]any{"id": c.ID()}
        for _, p := range state.Players {
            if p.ID == c.ID() {
                you["nickname"] = p.Nickname
                you["isHost"] = p.IsHost
                break
            }
        }
        c.Emit("room:state", map[string]any{"room": state, "you": you})
    }
}

// fail turns a store error into an ack. Non-hosts pushing host buttons get
// nothing back at all.
func (srv *Server) fail(s socketio.Conn, err error) map[string]any {
    if errors.Is(err, game.ErrNotHost) {
        log.Debug().Str("sid", s.ID()).Msg("dropped host action from non-host")
        return nil
    }
    return srv.err(s, err.Error(), errText(err))
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
    s.Emit("error", map[string]any{"code": code, "message": message})
    return map[string]any{"error": code, "message": message}
}

func (srv *Server) exportRound(state game.RoomInfo, round int, song catalog.Song, winners []game.Winner) {
    if !srv.config.ExportEnabled {
        return
    }
    if err := game.ExportRound(srv.config.ExportFile, state, round, song, winners); err != nil {
        log.Error().Err(err).Str("code", state.Code).Msg("failed to export round")
    }
}

func (srv *Server) exportFinal(state game.RoomInfo) {
    if !srv.config.ExportEnabled {
        return
    }
    if err := game.ExportFinal(srv.config.ExportFile, state); err != nil {
        log.Error().Err(err).Str("code", state.Code).Msg("failed to export results")
    }
}

func errText(err error) string {
    switch {
    case errors.Is(err, game.ErrRoomNotFound):
        return "Room not found"
    case errors.Is(err, game.ErrAlreadyInRoom):
        return "Already in a room"
    case errors.Is(err, game.ErrGameInProgress):
        return "Game already in progress"
    case errors.Is(err, game.ErrRoomFull):
        return "Room is full"
    case errors.Is(err, game.ErrNicknameTaken):
        return "Nickname already taken"
    case errors.Is(err, game.ErrRoundClosed):
        return "Answers are closed for this round"
    case errors.Is(err, game.ErrAlreadyScored):
        return "You already scored this round"
    case errors.Is(err, game.ErrNoSongs):
        return "No songs selected"
    }
    return err.Error()
}
