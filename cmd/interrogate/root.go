package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/asaidimu/go-interrogator/config"
	"github.com/asaidimu/go-interrogator/core/interrogator"
	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/asaidimu/go-interrogator/core/schema"
	"github.com/asaidimu/go-interrogator/sqlite"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Compact    bool
}

// NewRootCommand creates the interrogate command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "interrogate",
		Short: "Run ad-hoc reports against a relational schema",
		Long: `Interrogate compiles column, filter and ordering expressions into a single
query against a SQLite database, enforcing the report policy from the
configuration file. Results are printed as JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "interrogate.yaml", "configuration file")
	cmd.PersistentFlags().BoolVar(&opts.Compact, "compact", false, "print JSON on a single line")

	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewPivotCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))

	return cmd
}

// engine bundles everything a command needs to answer a request.
type engine struct {
	logger       *zap.Logger
	db           *sql.DB
	registry     *schema.Registry
	store        *sqlite.SQLiteInteractor
	interrogator *interrogator.Interrogator
}

func (o *RootOptions) open() (*engine, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	access, err := cfg.AccessPolicy()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := sqlite.NewSQLiteInteractor(db, registry, logger, cfg.InteractorOptions())

	reports, err := interrogator.New(registry, access, store, logger, cfg.InterrogatorOptions())
	if err != nil {
		db.Close()
		return nil, err
	}

	return &engine{
		logger:       logger,
		db:           db,
		registry:     registry,
		store:        store,
		interrogator: reports,
	}, nil
}

func (e *engine) Close() {
	e.db.Close()
	_ = e.logger.Sync()
}

func (o *RootOptions) write(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if !o.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// requestFlags are shared by the commands that take a report request.
type requestFlags struct {
	file        string
	root        string
	columns     []string
	filters     []string
	orderBy     []string
	aggregators []string
	limit       int
	offset      int
}

func (f *requestFlags) register(cmd *cobra.Command, pivot bool) {
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "request", "r", "", "read the request from a YAML or JSON file")
	flags.StringVar(&f.root, "root", "", "root entity as namespace:Name")
	flags.StringArrayVar(&f.columns, "column", nil, "column expression (repeatable)")
	flags.StringArrayVar(&f.filters, "filter", nil, "filter expression (repeatable)")
	flags.StringArrayVar(&f.orderBy, "order", nil, "ordering key, prefix with - for descending (repeatable)")
	flags.IntVar(&f.limit, "limit", 0, "maximum number of rows")
	flags.IntVar(&f.offset, "offset", 0, "number of rows to skip")
	if pivot {
		flags.StringArrayVar(&f.aggregators, "aggregate", nil, "aggregator expression shown in every cell (repeatable)")
	}
}

// request builds the request from the file, if any, with flags appended.
func (f *requestFlags) request(cmd *cobra.Command) (*query.Request, error) {
	req := &query.Request{}
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		}
		// YAML is a superset of JSON.
		if err := yaml.Unmarshal(data, req); err != nil {
			return nil, fmt.Errorf("parse request: %w", err)
		}
	}

	b := query.NewRequest(req.Root)
	if f.root != "" {
		b = query.NewRequest(f.root)
	}
	b.Columns(req.Columns...).Columns(f.columns...).
		Filter(req.Filters...).Filter(f.filters...).
		OrderBy(req.OrderBy...).OrderBy(f.orderBy...).
		Aggregate(req.Aggregators...).Aggregate(f.aggregators...)

	if cmd.Flags().Changed("limit") {
		b.Limit(f.limit)
	} else if req.Limit != nil {
		b.Limit(*req.Limit)
	}
	if cmd.Flags().Changed("offset") {
		b.Offset(f.offset)
	} else {
		b.Offset(req.Offset)
	}

	out := b.Build()
	if out.Root == "" {
		return nil, fmt.Errorf("a root entity is required, use --root or a request file")
	}
	return out, nil
}
