package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/canecast/internal/advisor"
	"github.com/lox/canecast/internal/api"
	"github.com/lox/canecast/internal/predict"
	"github.com/lox/canecast/internal/store"
	"github.com/lox/canecast/internal/yield"
)

// Globals are settings shared by every command.
type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`

	DB            string        `name:"db" default:"data/canecast.db" env:"CANECAST_DB" help:"Path to SQLite database."`
	Model         string        `name:"model" env:"CANECAST_MODEL" help:"Path to a trained forest artifact (JSON). Uses the built-in response surface when empty."`
	Timeout       time.Duration `name:"timeout" default:"2s" env:"CANECAST_TIMEOUT" help:"Per-request prediction budget."`
	Workers       int           `name:"workers" default:"0" env:"CANECAST_WORKERS" help:"Concurrent estimator evaluations (0 = GOMAXPROCS)."`
	TopK          int           `name:"top-k" default:"5" env:"CANECAST_TOP_K" help:"Number of NPK candidates to return."`
	GridN         string        `name:"grid-n" default:"0:150:10" env:"CANECAST_GRID_N" help:"Nitrogen search range min:max:step (kg/ha)."`
	GridP         string        `name:"grid-p" default:"0:100:10" env:"CANECAST_GRID_P" help:"Phosphorus search range min:max:step (kg/ha)."`
	GridK         string        `name:"grid-k" default:"0:100:10" env:"CANECAST_GRID_K" help:"Potassium search range min:max:step (kg/ha)."`
	NoSensitivity bool          `name:"no-sensitivity" env:"CANECAST_NO_SENSITIVITY" help:"Skip the sensitivity analysis stage."`
	HistoryLimit  int           `name:"history-limit" default:"50" env:"CANECAST_HISTORY_LIMIT" help:"Number of saved predictions to retain."`
}

type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP prediction service."`
	Predict PredictCmd `cmd:"" help:"Predict from one JSON payload on stdin and write the result to stdout."`
	History HistoryCmd `cmd:"" help:"List or clear saved predictions."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("canecast"),
		kong.Description("Sugarcane yield, quality and fertilizer recommendation engine."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	if errors.Is(err, errPredictFailed) {
		os.Exit(1)
	}
	ctx.FatalIfErrorf(err)
}

func (g *Globals) searchConfig() (predict.SearchConfig, error) {
	cfg := predict.DefaultSearchConfig()
	var err error
	if cfg.Grid.N, err = parseRange(g.GridN); err != nil {
		return cfg, fmt.Errorf("grid-n: %w", err)
	}
	if cfg.Grid.P, err = parseRange(g.GridP); err != nil {
		return cfg, fmt.Errorf("grid-p: %w", err)
	}
	if cfg.Grid.K, err = parseRange(g.GridK); err != nil {
		return cfg, fmt.Errorf("grid-k: %w", err)
	}
	cfg.TopK = g.TopK
	if g.Workers > 0 {
		cfg.Workers = g.Workers
	}
	return cfg, nil
}

// newPredictor loads the estimator once and builds the shared predictor.
func (g *Globals) newPredictor() (*predict.Predictor, error) {
	var est yield.Estimator
	if g.Model != "" {
		f, err := yield.LoadForest(g.Model)
		if err != nil {
			return nil, err
		}
		log.Printf("model: loaded forest from %s", g.Model)
		est = f
	} else {
		log.Printf("model: using built-in response surface")
		est = yield.NewSurface()
	}

	search, err := g.searchConfig()
	if err != nil {
		return nil, err
	}
	cfg := predict.DefaultConfig()
	cfg.Search = search
	cfg.Timeout = g.Timeout
	cfg.Sensitivity = !g.NoSensitivity
	return predict.New(est, cfg)
}

// openStore opens and migrates the history database.
func (g *Globals) openStore() (*store.Store, func(), error) {
	if dir := filepath.Dir(g.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	st.SetLimit(g.HistoryLimit)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

type ServeCmd struct {
	Port           string `name:"port" default:"8080" env:"CANECAST_PORT" help:"HTTP server port."`
	LLM            string `name:"llm" enum:"auto,openai,anthropic,none" default:"auto" env:"CANECAST_LLM" help:"Language model provider for action guide narratives."`
	OpenAIKey      string `name:"openai-key" env:"OPENAI_API_KEY" help:"OpenAI API key."`
	OpenAIModel    string `name:"openai-model" env:"CANECAST_OPENAI_MODEL" help:"OpenAI chat model."`
	AnthropicKey   string `name:"anthropic-key" env:"ANTHROPIC_API_KEY" help:"Anthropic API key."`
	AnthropicModel string `name:"anthropic-model" env:"CANECAST_ANTHROPIC_MODEL" help:"Anthropic model."`
}

// narrator picks the configured provider. In auto mode the first provider
// with a key wins, OpenAI before Anthropic.
func (c *ServeCmd) narrator() (advisor.Narrator, error) {
	provider := c.LLM
	if provider == "auto" {
		switch {
		case c.OpenAIKey != "":
			provider = "openai"
		case c.AnthropicKey != "":
			provider = "anthropic"
		default:
			provider = "none"
		}
	}
	switch provider {
	case "openai":
		return advisor.NewOpenAINarrator(c.OpenAIKey, c.OpenAIModel)
	case "anthropic":
		return advisor.NewAnthropicNarrator(c.AnthropicKey, c.AnthropicModel)
	}
	return nil, nil
}

func (c *ServeCmd) Run(g *Globals) error {
	p, err := g.newPredictor()
	if err != nil {
		return err
	}
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	narrator, err := c.narrator()
	if err != nil {
		return err
	}
	if narrator == nil {
		log.Println("advisor: no language model configured, guides use rules only")
	}

	ctx, cancel := signalContext()
	defer cancel()

	server := api.NewServer(p, st, advisor.New(narrator), c.Port)
	log.Printf("starting server on :%s", c.Port)
	return server.Run(ctx)
}

func parseRange(s string) (predict.Range, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return predict.Range{}, fmt.Errorf("want min:max:step, got %q", s)
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return predict.Range{}, fmt.Errorf("bad number %q in %q", p, s)
		}
		vals[i] = v
	}
	return predict.Range{Min: vals[0], Max: vals[1], Step: vals[2]}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
