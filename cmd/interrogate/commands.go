package main

import (
	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/spf13/cobra"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &requestFlags{}
	var explain bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compile a request and print the plan without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			e, err := rootOpts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			if explain {
				explained, err := e.interrogator.Explain(req)
				if err != nil {
					return err
				}
				return rootOpts.write(cmd.OutOrStdout(), explained)
			}

			plan, diagnostics, err := e.interrogator.GeneratePlan(req)
			if err != nil {
				return err
			}
			return rootOpts.write(cmd.OutOrStdout(), struct {
				Plan        *query.Plan        `json:"plan"`
				Diagnostics []query.Diagnostic `json:"diagnostics"`
			}{plan, diagnostics})
		},
	}

	flags.register(cmd, false)
	cmd.Flags().BoolVar(&explain, "sql", false, "include the SQL statement the plan compiles to")
	return cmd
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &requestFlags{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run a report and print its rows",
		Example: `  interrogate report --root shop:SalesPerson \
    --column name --column 'profit:=sum(sale.sale_price - sale.product.cost_price)' \
    --filter 'sale.state=NSW' --order -profit --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			e, err := rootOpts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.interrogator.Interrogate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return rootOpts.write(cmd.OutOrStdout(), result)
		},
	}

	flags.register(cmd, false)
	return cmd
}

// NewPivotCommand creates the pivot command.
func NewPivotCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &requestFlags{}

	cmd := &cobra.Command{
		Use:   "pivot",
		Short: "Run a report and reshape it into a grid",
		Long: `Pivot groups the report by its first two permitted columns. Values of the
first column become column heads, values of the second become rows, and
every cell holds a row count plus the requested aggregators.`,
		Example: `  interrogate pivot --root shop:Product --column sale.state --column name \
    --aggregate 'profit:=sum(sale.sale_price - cost_price)'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			e, err := rootOpts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.interrogator.Pivot(cmd.Context(), req)
			if err != nil {
				return err
			}
			return rootOpts.write(cmd.OutOrStdout(), result)
		},
	}

	flags.register(cmd, true)
	return cmd
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configured entities, optionally creating their tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			entities := e.registry.Entities()
			if create {
				if err := e.store.CreateSchema(cmd.Context(), entities...); err != nil {
					return err
				}
			}

			type table struct {
				Entity string `json:"entity"`
				Exists bool   `json:"exists"`
				DDL    string `json:"ddl"`
			}
			tables := make([]table, 0, len(entities))
			for _, entity := range entities {
				ddl, err := e.store.CreateTableSQL(entity)
				if err != nil {
					return err
				}
				exists, err := e.store.EntityExists(cmd.Context(), entity)
				if err != nil {
					return err
				}
				tables = append(tables, table{Entity: entity.Ref(), Exists: exists, DDL: ddl})
			}
			return rootOpts.write(cmd.OutOrStdout(), tables)
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "create missing tables")
	return cmd
}
