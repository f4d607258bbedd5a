package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/likesync/internal/repositories"
	"github.com/desertthunder/likesync/internal/services"
	"github.com/desertthunder/likesync/internal/shared"
	"github.com/desertthunder/likesync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database and the sync components are opened on first use, so commands like setup run without them.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	db       *sql.DB
	ownsDB   bool
	tokenDB  *repositories.TokenRepository
	library  *repositories.LibraryRepository
	meta     *repositories.SyncMetadataRepository
	legacy   *repositories.LegacyRepository
	migrator *tasks.MigrationManager

	spotify  *services.SpotifyService
	remote   services.LibraryService
	provider services.TokenProvider
	tokens   *services.TokenStore
	engine   *tasks.LibraryEngine
	updates  *tasks.UpdateHandler
}

// RunnerOpts contains configuration options for creating a Runner.
//
// DB, Library and Provider replace the components normally built from Config; tests use them to run
// commands against an in-memory database and a fake remote library.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	DB         *sql.DB
	Library    services.LibraryService
	Provider   services.TokenProvider
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		db:         opts.DB,
		remote:     opts.Library,
		provider:   opts.Provider,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, linkCommand, disconnectCommand, syncCommand, likeCommand, unlikeCommand,
		migrateCommand, statusCommand, libraryCommand, legacyCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Configure applies the global --config and --debug flags. It runs before every command.
func (r *Runner) Configure(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	return ctx, nil
}

// Close releases the database if the runner opened it.
func (r *Runner) Close(ctx context.Context, cmd *cli.Command) error {
	if r.db != nil && r.ownsDB {
		return r.db.Close()
	}
	return nil
}

// SetLogger replaces the logger used by the runner and by components built after the call.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// loadConfig reads the config file once, falling back to defaults when it is missing.
func (r *Runner) loadConfig() (*shared.Config, error) {
	if r.config != nil {
		return r.config, nil
	}

	path := r.configPath
	if path == "" {
		path = "config.toml"
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		r.logger.Debug("config file not found, using defaults", "path", path)
		r.config = shared.DefaultConfig()
		return r.config, nil
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	r.config = config
	return config, nil
}

// openStore opens the database, applies pending migrations and builds the repositories.
func (r *Runner) openStore() error {
	if r.library != nil {
		return nil
	}

	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	if r.db == nil {
		db, err := shared.NewDatabase(config.Database.Path)
		if err != nil {
			return err
		}
		shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)
		r.db, r.ownsDB = db, true
	}

	if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	r.tokenDB = repositories.NewTokenRepository(r.db)
	r.library = repositories.NewLibraryRepository(r.db)
	r.meta = repositories.NewSyncMetadataRepository(r.db)
	r.legacy = repositories.NewLegacyRepository(r.db)
	r.migrator = tasks.NewMigrationManager(r.legacy, r.library, r.logger)
	return nil
}

// openEngine builds the remote client, token store and sync tasks on top of [Runner.openStore].
func (r *Runner) openEngine() error {
	if r.engine != nil {
		return nil
	}
	if err := r.openStore(); err != nil {
		return err
	}

	sync := r.config.Sync
	if r.remote == nil || r.provider == nil {
		if err := r.openSpotify(); err != nil {
			return err
		}
		if r.remote == nil {
			r.remote = r.spotify
		}
		if r.provider == nil {
			r.provider = r.spotify
		}
	}

	r.tokens = services.NewTokenStore(r.tokenDB, r.provider, services.TokenStoreOptions{
		Margin: sync.RefreshMargin(),
		Logger: r.logger,
	})
	r.engine = tasks.NewLibraryEngine(r.tokens, r.remote, r.library, r.meta, tasks.EngineOptions{
		BatchLimit: sync.BatchLimit,
		StaleAfter: sync.StaleAfter(),
		Logger:     r.logger,
	})
	r.updates = tasks.NewUpdateHandler(r.tokens, r.remote, r.library, r.meta, tasks.UpdateOptions{
		LookupDetails: true,
		Logger:        r.logger,
	})
	return nil
}

// openSpotify builds the Spotify client from the configured credentials.
func (r *Runner) openSpotify() error {
	if r.spotify != nil {
		return nil
	}

	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	svc, err := services.NewSpotifyService(config.Credentials.Spotify.Map(), services.SpotifyOptions{
		HTTPClient: r.httpClient,
		PageSize:   config.Sync.PageSize,
		PageDelay:  config.Sync.PageDelay(),
		Retry:      config.Sync.RetryPolicy(),
		Logger:     r.logger,
	})
	if err != nil {
		return fmt.Errorf("%w (set [credentials.spotify] in %s)", err, r.configPathOrDefault())
	}
	r.spotify = svc
	return nil
}

func (r *Runner) configPathOrDefault() string {
	if r.configPath == "" {
		return "config.toml"
	}
	return r.configPath
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
