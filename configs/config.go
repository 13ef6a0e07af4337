package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/joho/godotenv"
)

var InstanceId string

// Settings is the process configuration, read from the environment.
type Settings struct {
	Port       string `env:"ROOM_SERVICE_PORT" envDefault:"8010"`
	Backend    string `env:"ROOM_BACKEND" envDefault:"memory"` // memory, mongo, nats or relay
	RelayURL   string `env:"RELAY_URL" envDefault:"ws://localhost:8010/v1/ws"`
	RelayToken string `env:"RELAY_TOKEN"`

	MongoURI        string `env:"MONGODB_URI"`
	MongoCollection string `env:"MONGODB_COLLECTION" envDefault:"rooms"`
	NatsURL         string `env:"NATS_URL"`
	NatsToken       string `env:"NATS_TOKEN"`
	NatsBucket      string `env:"NATS_BUCKET" envDefault:"rooms"`
	PostgresURL     string `env:"POSTGRES_URL"`

	JWTSecret string `env:"JWT_SECRET_KEY" envDefault:"change-me"`
	RateLimit int    `env:"RATE_LIMIT" envDefault:"100"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	PuzzlesFile     string `env:"PUZZLES_FILE"`
	WheelFile       string `env:"WHEEL_FILE"`
	BannedWordsFile string `env:"BANNED_WORDS_FILE"`

	VowelCost     int `env:"VOWEL_COST" envDefault:"250"`
	RoundsPerGame int `env:"ROUNDS_PER_GAME" envDefault:"5"`
	MaxPlayers    int `env:"MAX_PLAYERS" envDefault:"4"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"15s"`
	DisconnectGrace   time.Duration `env:"DISCONNECT_GRACE" envDefault:"120s"`
	FirstVoteAfter    time.Duration `env:"FIRST_VOTE_AFTER" envDefault:"120s"`
	RevoteAfter       time.Duration `env:"REVOTE_AFTER" envDefault:"60s"`
	VoteDuration      time.Duration `env:"VOTE_DURATION" envDefault:"60s"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`
	RoomIdleTimeout   time.Duration `env:"ROOM_IDLE_TIMEOUT" envDefault:"1h"`
}

var backends = map[string]bool{"memory": true, "mongo": true, "nats": true, "relay": true}

func LoadEnv(service string) {
	log.Info("service configuration and env variables loading started ...")
	err := godotenv.Load("./.env")
	if err != nil {
		log.Warnf("no .env file for %s, using the process environment", service)
		return
	}

	log.Info(".env file loaded.")
}

// Load parses Settings from the environment.
func Load() (*Settings, error) {
	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if !backends[s.Backend] {
		return nil, fmt.Errorf("unknown ROOM_BACKEND %q", s.Backend)
	}
	if s.MaxPlayers < 1 || s.RoundsPerGame < 1 || s.VowelCost < 0 {
		return nil, fmt.Errorf("invalid game settings: players=%d rounds=%d vowel cost=%d", s.MaxPlayers, s.RoundsPerGame, s.VowelCost)
	}
	return s, nil
}

func CreateUniqueInstance(service string) string {
	id, err := uuid.NewV4() // instance identifier
	if err != nil {
		log.Errorf("error generating instanceId: %s", err)
		os.Exit(0)
	}
	InstanceId = id.String()
	log.Infof(service+" service with Instance ID: %s is ready", id)
	return id.String()
}

func GetInstanceId() string {
	return InstanceId
}

func CORS() *cors.Cors {
	corsOptions := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	return corsOptions
}

// Logging sends the service log to .l_g/<service>.log at the LOG_LEVEL level.
func Logging(service string) {
	logFolder := ".l_g"

	_, err := os.Stat(logFolder)
	if os.IsNotExist(err) {
		err = os.Mkdir(logFolder, 0755)
		if err != nil {
			log.Warnf("unable to create folder for log %s", err)
			return
		}
	}

	logFilePath := filepath.Join(logFolder, service+".log")

	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}

	log.SetOutput(file)

	log.SetFormatter(&log.TextFormatter{})
	log.SetLevel(Level(os.Getenv("LOG_LEVEL")))

	log.Infof("log to file started for service: %s", service)
}

// Level parses a logrus level name, falling back to info.
func Level(name string) log.Level {
	if name == "" {
		return log.InfoLevel
	}
	lvl, err := log.ParseLevel(name)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", name)
		return log.InfoLevel
	}
	return lvl
}

func CustomLoggerMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Printf("%s %s %s %d %s %s",
					r.Method,
					r.RequestURI,
					r.RemoteAddr,
					ww.Status(),
					http.StatusText(ww.Status()),
					time.Since(start),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
