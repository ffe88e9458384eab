package bootstrap

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upem-wims/wims-lti/apps/cli/cmd/dbconn"
	"github.com/upem-wims/wims-lti/platform/go/persistence"
)

// Notes/constraints:
// - Every DDL statement is idempotent; rerunning after an upgrade only adds what is missing.
// - The schema is created when absent. The API connects with search_path set to the same schema.

// Command creates the bridge schema and tables.
func Command() *cobra.Command {
	var db dbconn.Flags

	c := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the bridge schema and tables",
		Long:  "Create the schema and the lms, wims, wims_classes, wims_activities and wims_outcomes tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := db.Open(ctx)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			if err := persistence.Bootstrap(ctx, pool, db.Schema); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Bootstrap complete. Schema: %s\n", db.Schema)
			return nil
		},
	}

	db.Register(c)
	return c
}
