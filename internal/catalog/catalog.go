package catalog

import (
    "math/rand"
    "strings"
)

// Song is one playable track as delivered by the host's client. The server
// never talks to the catalog provider itself; IDs are opaque strings and are
// only ever compared for equality when matching answers.
type Song struct {
    ID         string `json:"id"`
    Title      string `json:"title"`
    Artist     string `json:"artist"`
    PreviewURL string `json:"previewUrl,omitempty"`
    CoverURL   string `json:"coverUrl,omitempty"`
}

// Playlist is the host-curated selection staged in the lobby.
type Playlist struct {
    ID    string `json:"id,omitempty"`
    Name  string `json:"name,omitempty"`
    Songs []Song `json:"songs"`
}

// Sanitize trims fields, drops songs without an id or title, and removes
// duplicate ids while preserving the host's ordering.
func Sanitize(songs []Song) []Song {
    seen := make(map[string]bool, len(songs))
    out := make([]Song, 0, len(songs))
    for _, s := range songs {
        s.ID = strings.TrimSpace(s.ID)
        s.Title = strings.TrimSpace(s.Title)
        s.Artist = strings.TrimSpace(s.Artist)
        if s.ID == "" || s.Title == "" {
            continue
        }
        if seen[s.ID] {
            continue
        }
        seen[s.ID] = true
        out = append(out, s)
    }
    return out
}

// Stage returns a shuffled copy of songs for one game. The lobby selection
// itself is left untouched so a later game can restage it.
func Stage(songs []Song) []Song {
    staged := make([]Song, len(songs))
    copy(staged, songs)
    rand.Shuffle(len(staged), func(i, j int) { staged[i], staged[j] = staged[j], staged[i] })
    return staged
}
