package game

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kiliankoe/songdash/internal/catalog"
)

func testPlaylist(n int) catalog.Playlist {
	songs := make([]catalog.Song, 0, n)
	for i := 0; i < n; i++ {
		songs = append(songs, catalog.Song{
			ID:     fmt.Sprintf("song-%d", i+1),
			Title:  fmt.Sprintf("Song %d", i+1),
			Artist: "Test Artist",
		})
	}
	return catalog.Playlist{ID: "pl-1", Name: "Test Mix", Songs: songs}
}

func TestNewStore(t *testing.T) {
	s := NewStore(nil, Options{})
	if s.rooms == nil || s.members == nil || s.pending == nil {
		t.Fatal("store maps should be initialized")
	}
	if s.maxPlayers != DefaultMaxPlayers {
		t.Fatalf("expected default max players %d, got %d", DefaultMaxPlayers, s.maxPlayers)
	}
	if s.grace != DefaultDeletionGrace {
		t.Fatalf("expected default grace %v, got %v", DefaultDeletionGrace, s.grace)
	}
}

func TestCreateRoom(t *testing.T) {
	s := NewStore(nil, Options{})

	state, err := s.CreateRoom("conn-1", "sess-1")
	if err != nil {
		t.Fatalf("should be able to create room: %v", err)
	}

	// Verify the code shape
	if len(state.Code) != CodeLength {
		t.Fatalf("expected %d digit code, got %q", CodeLength, state.Code)
	}
	for _, r := range state.Code {
		if r < '0' || r > '9' {
			t.Fatalf("code should be numeric, got %q", state.Code)
		}
	}

	// Creator is the host with a default nickname
	if state.Phase != PhaseLobby {
		t.Fatalf("expected phase %s, got %s", PhaseLobby, state.Phase)
	}
	if len(state.Players) != 1 {
		t.Fatalf("expected 1 player, got %d", len(state.Players))
	}
	if !state.Players[0].IsHost {
		t.Fatal("creator should be host")
	}
	if state.Players[0].Nickname != "Player 1" {
		t.Fatalf("expected default nickname Player 1, got %s", state.Players[0].Nickname)
	}

	// Default settings are in place
	if state.Settings.RoundCount != defaultRoundCount {
		t.Fatalf("expected %d rounds, got %d", defaultRoundCount, state.Settings.RoundCount)
	}
	if len(state.Settings.DurationSteps) == 0 || len(state.Settings.ScoringScheme) == 0 {
		t.Fatal("default settings should have steps and a scoring scheme")
	}

	// Creating again on the same connection must fail
	if _, err := s.CreateRoom("conn-1", "sess-1"); err != ErrAlreadyInRoom {
		t.Fatalf("expected ErrAlreadyInRoom, got %v", err)
	}
}

func TestJoinRoomAssignsNicknames(t *testing.T) {
	s := NewStore(nil, Options{})
	state, err := s.CreateRoom("host", "sess-h")
	if err != nil {
		t.Fatalf("should be able to create room: %v", err)
	}
	code := state.Code

	res, err := s.JoinRoom(code, "p1", "sess-1")
	if err != nil {
		t.Fatalf("should be able to join: %v", err)
	}
	if res.Host {
		t.Fatal("regular player should not be host")
	}
	if len(res.Room.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(res.Room.Players))
	}
	if res.Room.Players[1].Nickname != "Player 2" {
		t.Fatalf("expected nickname Player 2, got %s", res.Room.Players[1].Nickname)
	}

	// Joining an unknown room fails
	if _, err := s.JoinRoom("0000", "p2", "sess-2"); err != ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	// Join order is preserved in the snapshot
	res3, err := s.JoinRoom(code, "p3", "sess-3")
	if err != nil {
		t.Fatalf("should be able to join: %v", err)
	}
	if res3.Room.Players[0].ID != "host" || res3.Room.Players[1].ID != "p1" || res3.Room.Players[2].ID != "p3" {
		t.Fatal("players should be listed in join order")
	}
}

func TestSetNickname(t *testing.T) {
	s := NewStore(nil, Options{})
	state, _ := s.CreateRoom("host", "sess-h")
	code := state.Code
	if _, err := s.JoinRoom(code, "p1", "sess-1"); err != nil {
		t.Fatalf("should be able to join: %v", err)
	}

	got, err := s.SetNickname("p1", "Alice")
	if err != nil {
		t.Fatalf("should be able to set nickname: %v", err)
	}
	if got.Players[1].Nickname != "Alice" {
		t.Fatalf("expected nickname Alice, got %s", got.Players[1].Nickname)
	}

	// Exact duplicates are rejected
	if _, err := s.SetNickname("host", "Alice"); err != ErrNicknameTaken {
		t.Fatalf("expected ErrNicknameTaken, got %v", err)
	}

	// A differently cased spelling is a different name
	lower, err := s.SetNickname("host", "alice")
	if err != nil {
		t.Fatalf("alice should coexist with Alice: %v", err)
	}
	if lower.Players[0].Nickname != "alice" || lower.Players[1].Nickname != "Alice" {
		t.Fatalf("expected alice and Alice side by side, got %+v", lower.Players)
	}

	if _, err := s.SetNickname("p1", "   "); err != ErrBadNickname {
		t.Fatalf("expected ErrBadNickname, got %v", err)
	}

	// The nickname sticks to the session for later rooms
	if _, ok := s.LeaveRoom("p1"); !ok {
		t.Fatal("should be able to leave")
	}
	res, err := s.JoinRoom(code, "p1-new", "sess-1")
	if err != nil {
		t.Fatalf("should be able to rejoin: %v", err)
	}
	if res.Room.Players[1].Nickname != "Alice" {
		t.Fatalf("expected remembered nickname Alice, got %s", res.Room.Players[1].Nickname)
	}
}

func TestSetNicknameMidGame(t *testing.T) {
	s := NewStore(nil, Options{})
	state, _ := s.CreateRoom("host", "sess-h")
	code := state.Code
	if _, err := s.JoinRoom(code, "p1", "sess-1"); err != nil {
		t.Fatalf("should be able to join: %v", err)
	}
	s.SetSongs("host", testPlaylist(2))
	if _, err := s.StartGame("host"); err != nil {
		t.Fatalf("should be able to start game: %v", err)
	}

	// Only the handicap freezes with the game, names stay changeable
	got, err := s.SetNickname("p1", "Second Wind")
	if err != nil {
		t.Fatalf("should be able to rename mid-game: %v", err)
	}
	if got.Players[1].Nickname != "Second Wind" {
		t.Fatalf("expected renamed player, got %s", got.Players[1].Nickname)
	}

	// The new name follows the session through a reconnect
	if _, ok := s.LeaveRoom("p1"); !ok {
		t.Fatal("should be able to leave")
	}
	res, err := s.JoinRoom(code, "p1-back", "sess-1")
	if err != nil {
		t.Fatalf("should be able to rejoin: %v", err)
	}
	if res.Room.Players[1].Nickname != "Second Wind" {
		t.Fatalf("expected restored nickname, got %s", res.Room.Players[1].Nickname)
	}
}

func TestJoinRoomFull(t *testing.T) {
	s := NewStore(nil, Options{MaxPlayers: 2})
	state, _ := s.CreateRoom("host", "sess-h")
	if _, err := s.JoinRoom(state.Code, "p1", "sess-1"); err != nil {
		t.Fatalf("should be able to join: %v", err)
	}
	if _, err := s.JoinRoom(state.Code, "p2", "sess-2"); err != ErrRoomFull {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
}

func TestJoinDuringGameOnlyForParticipants(t *testing.T) {
	s := NewStore(nil, Options{})
	state, _ := s.CreateRoom("host", "sess-h")
	code := state.Code
	if _, err := s.JoinRoom(code, "p1", "sess-1"); err != nil {
		t.Fatalf("should be able to join: %v", err)
	}
	if _, err := s.SetSongs("host", testPlaylist(3)); err != nil {
		t.Fatalf("should be able to set songs: %v", err)
	}
	if _, err := s.StartGame("host"); err != nil {
		t.Fatalf("should be able to start game: %v", err)
	}

	// A stranger cannot join a running game
	if _, err := s.JoinRoom(code, "p2", "sess-2"); err != ErrGameInProgress {
		t.Fatalf("expected ErrGameInProgress, got %v", err)
	}

	// A participant who dropped can come back on a new connection
	if _, ok := s.LeaveRoom("p1"); !ok {
		t.Fatal("should be able to leave")
	}
	res, err := s.JoinRoom(code, "p1-reconnect", "sess-1")
	if err != nil {
		t.Fatalf("participant should be able to rejoin: %v", err)
	}
	if res.Room.Phase != PhasePlaying {
		t.Fatalf("expected phase %s, got %s", PhasePlaying, res.Room.Phase)
	}
}

func TestRejoinRestoresScoreAndHandicap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock, Options{})
	state, _ := s.CreateRoom("host", "sess-h")
	code := state.Code
	if _, err := s.JoinRoom(code, "p1", "sess-1"); err != nil {
		t.Fatalf("should be able to join: %v", err)
	}
	if _, err := s.SetNickname("p1", "Alice"); err != nil {
		t.Fatalf("should be able to set nickname: %v", err)
	}
	if _, err := s.SetHandicap("p1", 7); err != nil {
		t.Fatalf("should be able to set handicap: %v", err)
	}
	s.SetSongs("host", testPlaylist(3))
	start, err := s.StartGame("host")
	if err != nil {
		t.Fatalf("should be able to start game: %v", err)
	}

	// Alice scores through her handicap delay, then drops
	if _, err := s.SubmitAnswer("p1", start.Round.Song.ID, start.Round.Song.Title); err != nil {
		t.Fatalf("should be able to submit: %v", err)
	}
	clock.Advance(7 * time.Second)
	waitFor(t, func() bool {
		got, _ := s.RoomState(code)
		return len(got.Players) > 1 && got.Players[1].Score > 0
	})
	if _, ok := s.LeaveRoom("p1"); !ok {
		t.Fatal("should be able to leave")
	}

	res, err := s.JoinRoom(code, "p1-back", "sess-1")
	if err != nil {
		t.Fatalf("should be able to rejoin: %v", err)
	}
	back := res.Room.Players[len(res.Room.Players)-1]
	if back.Nickname != "Alice" {
		t.Fatalf("expected restored nickname Alice, got %s", back.Nickname)
	}
	if back.Score == 0 {
		t.Fatal("score should be restored on rejoin")
	}
	if back.Handicap != 7 {
		t.Fatalf("expected restored handicap 7, got %d", back.Handicap)
	}
}

func TestHostLeaveDuringGamePausesRoom(t *testing.T) {
	s := NewStore(nil, Options{})
	state, _ := s.CreateRoom("host", "sess-h")
	code := state.Code
	s.JoinRoom(code, "p1", "sess-1")
	s.SetSongs("host", testPlaylist(3))
	if _, err := s.StartGame("host"); err != nil {
		t.Fatalf("should be able to start game: %v", err)
	}

	res, ok := s.LeaveRoom("host")
	if !ok {
		t.Fatal("host should be able to leave")
	}
	if !res.WasHost || !res.Paused {
		t.Fatalf("expected host leave to pause, got %+v", res)
	}
	if res.Room.Phase != PhasePaused {
		t.Fatalf("expected phase %s, got %s", PhasePaused, res.Room.Phase)
	}

	// Round state stays intact while paused
	s.mu.Lock()
	round := s.rooms[code].Round
	s.mu.Unlock()
	if round == nil || round.Number != 1 {
		t.Fatal("round should survive the pause")
	}

	// The host session resumes the game on rejoin
	join, err := s.JoinRoom(code, "host-back", "sess-h")
	if err != nil {
		t.Fatalf("host should be able to rejoin: %v", err)
	}
	if !join.Host {
		t.Fatal("rejoining host session should get the host flag back")
	}
	if !join.Resumed || join.Room.Phase != PhasePlaying {
		t.Fatalf("expected resume to playing, got resumed=%v phase=%s", join.Resumed, join.Room.Phase)
	}
	if join.Song == nil || join.Song.ID == "" {
		t.Fatal("rejoining host should receive the current song")
	}

	// Still exactly one host
	hosts := 0
	for _, p := range join.Room.Players {
		if p.IsHost {
			hosts++
		}
	}
	if hosts != 1 {
		t.Fatalf("expected exactly 1 host, got %d", hosts)
	}
}

func TestSoleHostDisconnectAndResume(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock, Options{DeletionGrace: 5 * time.Minute})
	state, _ := s.CreateRoom("host", "sess-h")
	code := state.Code
	s.SetSongs("host", testPlaylist(3))
	if _, err := s.StartGame("host"); err != nil {
		t.Fatalf("should be able to start game: %v", err)
	}

	// The only player drops mid-game: paused and on the deletion clock
	res, ok := s.LeaveRoom("host")
	if !ok {
		t.Fatal("host should be able to leave")
	}
	if !res.Paused || !res.Emptied {
		t.Fatalf("expected a paused, emptied room, got %+v", res)
	}

	clock.Advance(4 * time.Minute)
	join, err := s.JoinRoom(code, "host-back", "sess-h")
	if err != nil {
		t.Fatalf("host should get back in within the grace period: %v", err)
	}
	if !join.Host || !join.Resumed || join.Room.Phase != PhasePlaying {
		t.Fatalf("expected a resumed game, got %+v", join)
	}
	if join.Room.Round == nil || join.Room.Round.Number != 1 {
		t.Fatal("round state should survive the absence")
	}

	// The rejoin cancelled the teardown
	clock.Advance(10 * time.Minute)
	if _, ok := s.RoomState(code); !ok {
		t.Fatal("rejoined room should not be deleted")
	}
}

func TestEmptyRoomDeletedAfterGrace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock, Options{DeletionGrace: 5 * time.Minute})
	state, _ := s.CreateRoom("host", "sess-h")
	code := state.Code

	deleted := make(chan string, 1)
	s.OnRoomDeleted = func(c string, conns []string) { deleted <- c }

	res, ok := s.LeaveRoom("host")
	if !ok || !res.Emptied {
		t.Fatal("leaving as last player should empty the room")
	}

	// Room still probeable during the grace window
	if _, ok := s.CheckRoom(code, ""); !ok {
		t.Fatal("room should survive until the grace period ends")
	}

	clock.Advance(6 * time.Minute)
	select {
	case c := <-deleted:
		if c != code {
			t.Fatalf("expected deletion of %s, got %s", code, c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("room should have been deleted after the grace period")
	}
	if _, ok := s.CheckRoom(code, ""); ok {
		t.Fatal("room should be gone after deletion")
	}
}

func TestRejoinCancelsScheduledDeletion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock, Options{DeletionGrace: 5 * time.Minute})
	state, _ := s.CreateRoom("host", "sess-h")
	code := state.Code

	if res, ok := s.LeaveRoom("host"); !ok || !res.Emptied {
		t.Fatal("leaving as last player should empty the room")
	}
	if _, err := s.JoinRoom(code, "host-back", "sess-h"); err != nil {
		t.Fatalf("should be able to rejoin within grace: %v", err)
	}

	clock.Advance(10 * time.Minute)
	if _, ok := s.CheckRoom(code, ""); !ok {
		t.Fatal("rejoin should have cancelled the scheduled deletion")
	}
}

func TestHostLeaveInLobbySchedulesDeletion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock, Options{DeletionGrace: 5 * time.Minute})
	state, _ := s.CreateRoom("host", "sess-h")
	code := state.Code
	s.JoinRoom(code, "p1", "sess-1")

	deleted := make(chan string, 1)
	s.OnRoomDeleted = func(c string, conns []string) { deleted <- c }

	res, ok := s.LeaveRoom("host")
	if !ok || res.Emptied {
		t.Fatal("room should still have a player")
	}

	clock.Advance(6 * time.Minute)
	select {
	case <-deleted:
	case <-time.After(2 * time.Second):
		t.Fatal("host-abandoned lobby should be deleted after the grace period")
	}

	// The remaining player's membership is cleaned up too
	if _, err := s.CreateRoom("p1", "sess-1"); err != nil {
		t.Fatalf("former member should be able to create a new room: %v", err)
	}
}

func TestSetHandicapValidation(t *testing.T) {
	s := NewStore(nil, Options{})
	if _, err := s.CreateRoom("host", "sess-h"); err != nil {
		t.Fatalf("should be able to create room: %v", err)
	}

	if _, err := s.SetHandicap("host", -1); err != ErrHandicapRange {
		t.Fatalf("expected ErrHandicapRange, got %v", err)
	}
	if _, err := s.SetHandicap("host", MaxHandicapSeconds+1); err != ErrHandicapRange {
		t.Fatalf("expected ErrHandicapRange, got %v", err)
	}
	got, err := s.SetHandicap("host", 12)
	if err != nil {
		t.Fatalf("should be able to set handicap: %v", err)
	}
	if got.Players[0].Handicap != 12 {
		t.Fatalf("expected handicap 12, got %d", got.Players[0].Handicap)
	}

	// Handicap is frozen once the game starts
	s.SetSongs("host", testPlaylist(2))
	if _, err := s.StartGame("host"); err != nil {
		t.Fatalf("should be able to start game: %v", err)
	}
	if _, err := s.SetHandicap("host", 3); err != ErrWrongPhase {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}
}

func TestUpdateSettings(t *testing.T) {
	s := NewStore(nil, Options{})
	state, _ := s.CreateRoom("host", "sess-h")
	s.JoinRoom(state.Code, "p1", "sess-1")

	rounds := 5
	got, err := s.UpdateSettings("host", SettingsUpdate{
		RoundCount:    &rounds,
		DurationSteps: []int{2, 4, 8},
		ScoringScheme: []int{3, 1},
	})
	if err != nil {
		t.Fatalf("should be able to update settings: %v", err)
	}
	if got.Settings.RoundCount != 5 {
		t.Fatalf("expected 5 rounds, got %d", got.Settings.RoundCount)
	}
	if len(got.Settings.DurationSteps) != 3 || got.Settings.DurationSteps[0] != 2 {
		t.Fatalf("expected duration steps applied, got %v", got.Settings.DurationSteps)
	}

	// Only the host may touch settings
	if _, err := s.UpdateSettings("p1", SettingsUpdate{RoundCount: &rounds}); err != ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	// Bounds are enforced
	if _, err := s.UpdateSettings("host", SettingsUpdate{DurationSteps: []int{0}}); err != ErrBadSettings {
		t.Fatalf("expected ErrBadSettings, got %v", err)
	}
	bad := -1
	if _, err := s.UpdateSettings("host", SettingsUpdate{RoundCount: &bad}); err != ErrBadSettings {
		t.Fatalf("expected ErrBadSettings, got %v", err)
	}
}

func TestSetSongsSanitizes(t *testing.T) {
	s := NewStore(nil, Options{})
	s.CreateRoom("host", "sess-h")

	got, err := s.SetSongs("host", catalog.Playlist{Songs: []catalog.Song{
		{ID: " a ", Title: " One "},
		{ID: "a", Title: "Duplicate"},
		{ID: "", Title: "No ID"},
		{ID: "b", Title: "Two"},
	}})
	if err != nil {
		t.Fatalf("should be able to set songs: %v", err)
	}
	songs := got.Settings.Playlist.Songs
	if len(songs) != 2 {
		t.Fatalf("expected 2 songs after sanitizing, got %d", len(songs))
	}
	if songs[0].ID != "a" || songs[0].Title != "One" {
		t.Fatalf("expected trimmed first song, got %+v", songs[0])
	}
	if songs[1].ID != "b" {
		t.Fatalf("expected order preserved, got %+v", songs[1])
	}
}

func TestCheckRoom(t *testing.T) {
	s := NewStore(nil, Options{})
	state, _ := s.CreateRoom("host", "sess-h")
	code := state.Code

	probe, ok := s.CheckRoom(code, "")
	if !ok {
		t.Fatal("existing room should be found")
	}
	if probe.Phase != PhaseLobby || probe.PlayerCount != 1 || !probe.Joinable {
		t.Fatalf("unexpected probe %+v", probe)
	}

	if _, ok := s.CheckRoom("9999", ""); ok {
		t.Fatal("unknown code should not be found")
	}

	// Once playing, the probe only reports joinable for participants
	s.SetSongs("host", testPlaylist(2))
	if _, err := s.StartGame("host"); err != nil {
		t.Fatalf("should be able to start game: %v", err)
	}
	probe, _ = s.CheckRoom(code, "sess-stranger")
	if probe.Joinable {
		t.Fatal("running game should not be joinable for strangers")
	}
	probe, _ = s.CheckRoom(code, "sess-h")
	if !probe.Joinable {
		t.Fatal("running game should be joinable for the host session")
	}
}
