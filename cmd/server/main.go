package main

import (
    "flag"
    "fmt"
    "log"
    "net/http"
    "os"
    "strings"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/joho/godotenv"
    "github.com/jonboulle/clockwork"
    "github.com/kiliankoe/songdash/internal/config"
    "github.com/kiliankoe/songdash/internal/game"
    "github.com/kiliankoe/songdash/internal/ws"
    staticserver "github.com/kiliankoe/songdash/static"
    "github.com/rs/zerolog"
    zerologlog "github.com/rs/zerolog/log"
    qrcode "github.com/skip2/go-qrcode"
)

const version = "v1.0.0-dev"

func main() {
    var (
        showHelp    = flag.Bool("help", false, "Show help message")
        showVersion = flag.Bool("version", false, "Show version information")
        portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
    )
    flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
    flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
    flag.Parse()

    if *showHelp {
        fmt.Printf(`Songdash - Real-time music guessing game

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                Port to listen on (default: 8080)
  PUBLIC_URL          Public base URL used in join QR codes (default: derived per request)
  MAX_PLAYERS         Maximum players per room (default: 20)
  ROOM_GRACE          How long empty rooms survive, e.g. "5m" (default: 5m)
  EXPORT_ENABLED      Export game results to file (default: true)
  EXPORT_FILE         Path to export game results (default: ./songdash-results.txt)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000

Visit http://localhost:8080 after starting the server.
`, os.Args[0], os.Args[0], os.Args[0])
        return
    }

    if *showVersion {
        fmt.Printf("Songdash %s\n", version)
        return
    }

    // .env is optional, flags and real env win
    _ = godotenv.Load()

    // Determine port
    port := *portFlag
    if port == "" {
        port = os.Getenv("PORT")
    }
    if port == "" {
        port = "8080"
    }

    // zerolog setup (human-friendly console)
    zerolog.TimeFieldFormat = time.RFC3339
    cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
    zerologlog.Logger = zerologlog.Output(cw)

    // Gin setup with custom logger (skip /socket.io noise)
    gin.SetMode(gin.ReleaseMode)
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context) {
        start := time.Now()
        c.Next()
        path := c.Request.URL.Path
        if strings.HasPrefix(path, "/socket.io") {
            return
        }
        status := c.Writer.Status()
        dur := time.Since(start)
        zerologlog.Info().Str("path", path).Int("status", status).Dur("dur", dur).Msg("http")
    })

	// Healthcheck
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

    // Config
    cfg := config.FromEnv()

    // Socket server + game store
    store := game.NewStore(clockwork.NewRealClock(), game.Options{
        MaxPlayers:    cfg.MaxPlayers,
        DeletionGrace: cfg.DeletionGrace,
    })
    sock := ws.New(store, cfg)
    io := sock.Mount(r)
    defer io.Close()

    // Room probe for the join screen
    r.GET("/api/rooms/:code", func(c *gin.Context) {
        probe, ok := store.CheckRoom(c.Param("code"), c.Query("session"))
        if !ok {
            c.Status(http.StatusNotFound)
            return
        }
        c.JSON(http.StatusOK, probe)
    })

    // Join QR code for the host screen
    r.GET("/api/rooms/:code/qr", func(c *gin.Context) {
        code := c.Param("code")
        if _, ok := store.CheckRoom(code, ""); !ok {
            c.Status(http.StatusNotFound)
            return
        }
        base := strings.TrimSuffix(cfg.PublicURL, "/")
        if base == "" {
            // derive scheme from the request, respecting proxies
            scheme := "http"
            if c.Request.TLS != nil {
                scheme = "https"
            }
            if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
                scheme = proto
            }
            base = scheme + "://" + c.Request.Host
        }
        png, err := qrcode.Encode(base+"/join/"+code, qrcode.Medium, 320)
        if err != nil {
            c.Status(http.StatusInternalServerError)
            return
        }
        c.Data(http.StatusOK, "image/png", png)
    })

    // Serve frontend (if embedded build is present) for all other routes
    r.NoRoute(func(c *gin.Context) {
        staticserver.Handler().ServeHTTP(c.Writer, c.Request)
    })

    log.Printf("listening on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
