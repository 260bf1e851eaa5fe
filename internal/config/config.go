package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3"

	"github.com/lsat-prep/cat/internal/cat"
	"github.com/lsat-prep/cat/internal/database"
	"github.com/lsat-prep/cat/internal/quiz"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config is the process configuration. Every setting can come from a flag,
// a CAT_* environment variable or the JSON file named by -config, in that
// order of precedence.
type Config struct {
	Host string
	Port int

	Store      string
	Postgres   database.Options
	SQLitePath string

	LogFile string

	// Auth is enabled when JWTSecret is set.
	JWTSecret        string
	ClientID         string
	ClientSecretHash string

	Quiz      quiz.Config
	Optimizer cat.DifferentialEvolution
	Seed      int64
}

// Load parses args (without the program name).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("cat-server", flag.ContinueOnError)
	var (
		_ = fs.String("config", "", "config file (optional), json format")

		host = fs.String("host", "", "address to listen on")
		port = fs.Int("port", 8080, "port to listen on")

		storeKind  = fs.String("store", StoreMemory, "session store: memory, postgres or sqlite")
		dbHost     = fs.String("db-host", "localhost", "postgres host")
		dbPort     = fs.String("db-port", "5432", "postgres port")
		dbUser     = fs.String("db-user", "postgres", "postgres user")
		dbPassword = fs.String("db-password", "postgres", "postgres password")
		dbName     = fs.String("db-name", "cat", "postgres database")
		dbSSLMode  = fs.String("db-sslmode", "disable", "postgres sslmode")
		sqlitePath = fs.String("sqlite-path", "data/cat.db", "sqlite database file")

		logFile = fs.String("log-file", "logs/cat.log", "rotating log file, empty for stdout only")

		jwtSecret  = fs.String("jwt-secret", "", "HMAC key for bearer tokens; empty disables auth")
		clientID   = fs.String("client-id", "", "service client allowed to request tokens")
		secretHash = fs.String("client-secret-hash", "", "bcrypt hash of the client secret")

		maxQuestions = fs.Int("max-questions", 20, "default maxNumberOfQuestions")
		minAccuracy  = fs.Float64("min-accuracy", 0.4, "default minMeasurementAccuracy")
		inputLevel   = fs.Float64("input-proficiency", cat.RandomProficiency, "default inputProficiencyLevel (99.9 = random)")
		selector     = fs.String("selector", string(cat.SelectorMaxInfo), "default questionSelector")
		estimator    = fs.String("estimator", string(cat.EstimatorDifferentialEvolution), "default competencyEstimator")

		popSize   = fs.Int("de-population", 15, "differential evolution population size")
		maxGen    = fs.Int("de-max-generations", 200, "differential evolution generation budget")
		tolerance = fs.Float64("de-tolerance", 0.01, "differential evolution convergence tolerance")
		seed      = fs.Int64("seed", 0, "RNG seed, 0 for a random seed")
	)

	if err := ff.Parse(fs, args,
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.JSONParser),
		ff.WithEnvVarPrefix("CAT"),
	); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	switch *storeKind {
	case StoreMemory, StorePostgres, StoreSQLite:
	default:
		return nil, fmt.Errorf("unknown store %q", *storeKind)
	}
	sel, err := cat.ParseSelectorKind(*selector)
	if err != nil {
		return nil, err
	}
	est, err := cat.ParseEstimatorKind(*estimator)
	if err != nil {
		return nil, err
	}
	if *maxQuestions < 1 {
		return nil, errors.New("max-questions must be at least 1")
	}

	de := cat.DefaultDifferentialEvolution()
	de.PopulationSize = *popSize
	de.MaxGenerations = *maxGen
	de.Tolerance = *tolerance

	return &Config{
		Host:  *host,
		Port:  *port,
		Store: *storeKind,
		Postgres: database.Options{
			Host:     *dbHost,
			Port:     *dbPort,
			User:     *dbUser,
			Password: *dbPassword,
			Name:     *dbName,
			SSLMode:  *dbSSLMode,
		},
		SQLitePath:       *sqlitePath,
		LogFile:          *logFile,
		JWTSecret:        *jwtSecret,
		ClientID:         *clientID,
		ClientSecretHash: *secretHash,
		Quiz: quiz.Config{
			MaxNumberOfQuestions:   *maxQuestions,
			MinMeasurementAccuracy: *minAccuracy,
			InputProficiency:       *inputLevel,
			Selector:               sel,
			Estimator:              est,
		},
		Optimizer: de,
		Seed:      *seed,
	}, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
