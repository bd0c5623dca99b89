package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiliankoe/songdash/internal/catalog"
)

// ExportRound appends one round's reveal to a results text file
func ExportRound(filename string, room RoomInfo, round int, song catalog.Song, winners []Winner) error {
	file, fresh, err := openExport(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	var sb strings.Builder

	// Add header only for new files or the first round of a game
	if fresh || round == 1 {
		if !fresh {
			sb.WriteString("\n\n") // spacing between games
		}
		sb.WriteString(fmt.Sprintf("Songdash Game Results - Room %s\n", room.Code))
		sb.WriteString(fmt.Sprintf("Started: %s\n", time.Now().Format("2006-01-02 15:04:05")))
		sb.WriteString(strings.Repeat("=", 50) + "\n\n")

		sb.WriteString("Players:\n")
		for _, p := range room.Players {
			sb.WriteString(fmt.Sprintf("- %s\n", p.Nickname))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Round %d: \"%s\" by %s\n", round, song.Title, song.Artist))
	sb.WriteString(strings.Repeat("-", 40) + "\n")

	if len(winners) == 0 {
		sb.WriteString("- nobody guessed it\n")
	}
	for i, w := range winners {
		sb.WriteString(fmt.Sprintf("- %d. %s (+%d points)\n", i+1, w.Nickname, w.Points))
	}

	sb.WriteString("\nScores after this round:\n")
	for _, ps := range standings(room) {
		sb.WriteString(fmt.Sprintf("- %s: %d points\n", ps.Nickname, ps.Score))
	}
	sb.WriteString("\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}

	return nil
}

// ExportFinal appends the final standings once a game has ended
func ExportFinal(filename string, room RoomInfo) error {
	file, _, err := openExport(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	var sb strings.Builder
	sb.WriteString("Final standings:\n")
	for i, ps := range standings(room) {
		sb.WriteString(fmt.Sprintf("- %d. %s: %d points\n", i+1, ps.Nickname, ps.Score))
	}
	sb.WriteString(fmt.Sprintf("\nGame ended at %s\n", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}

	return nil
}

// openExport opens the results file in append mode, creating parent
// directories as needed. fresh reports whether the file did not exist yet.
func openExport(filename string) (file *os.File, fresh bool, err error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create directory: %w", err)
	}

	fresh = true
	if _, err := os.Stat(filename); err == nil {
		fresh = false
	}

	file, err = os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open file: %w", err)
	}
	return file, fresh, nil
}

type playerScore struct {
	Nickname string
	Score    int
}

func standings(room RoomInfo) []playerScore {
	scores := make([]playerScore, 0, len(room.Players))
	for _, p := range room.Players {
		scores = append(scores, playerScore{Nickname: p.Nickname, Score: p.Score})
	}
	// Simple sort by score (descending)
	for i := 0; i < len(scores); i++ {
		for j := i + 1; j < len(scores); j++ {
			if scores[j].Score > scores[i].Score {
				scores[i], scores[j] = scores[j], scores[i]
			}
		}
	}
	return scores
}
