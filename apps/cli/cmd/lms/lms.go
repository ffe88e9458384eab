package lmscmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upem-wims/wims-lti/apps/cli/cmd/dbconn"
	"github.com/upem-wims/wims-lti/domains/credentials/be/repo"
	"github.com/upem-wims/wims-lti/domains/credentials/be/service"
	"github.com/upem-wims/wims-lti/platform/go/persistence"
	"github.com/upem-wims/wims-lti/platform/go/requesttrace"
)

// Registry is the part of the credentials service the lms commands use.
type Registry interface {
	RegisterLMS(ctx context.Context, in service.RegisterLMSInput) (service.LMS, error)
	ListLMS(ctx context.Context) ([]service.LMS, error)
}

// Command groups LMS registration helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lms",
		Short: "Register and list LMS tool consumers",
	}

	cmd.AddCommand(addCommand())
	cmd.AddCommand(listCommand())
	return cmd
}

func withRegistry(ctx context.Context, db *dbconn.Flags, fn func(Registry) error) error {
	pool, err := db.Open(ctx)
	if err != nil {
		return err
	}
	defer persistence.ClosePool(pool)

	store, err := persistence.NewCredentialStore(ctx, pool)
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	return fn(service.New(repo.NewPostgresRepository(store)))
}

func addCommand() *cobra.Command {
	var (
		db dbconn.Flags
		in service.RegisterLMSInput
	)

	c := &cobra.Command{
		Use:   "add",
		Short: "Register an LMS; a consumer secret is generated when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			logger := dbconn.Logger(cmd.ErrOrStderr())
			return withRegistry(ctx, &db, func(reg Registry) error {
				return runAdd(ctx, reg, in, cmd.OutOrStdout(), logger)
			})
		},
	}

	db.Register(c)
	c.Flags().StringVar(&in.UUID, "uuid", "", "tool_consumer_instance_guid sent by the LMS")
	c.Flags().StringVar(&in.URL, "url", "", "LMS home URL")
	c.Flags().StringVar(&in.Name, "name", "", "Display name, also used as the institution of created classes")
	c.Flags().StringVar(&in.ConsumerKey, "consumer-key", "", "OAuth consumer key")
	c.Flags().StringVar(&in.ConsumerSecret, "consumer-secret", "", "OAuth consumer secret (optional)")

	_ = c.MarkFlagRequired("uuid")
	_ = c.MarkFlagRequired("url")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("consumer-key")

	return c
}

func runAdd(ctx context.Context, reg Registry, in service.RegisterLMSInput, out io.Writer, logger *zap.Logger) error {
	generated := false
	if in.ConsumerSecret == "" {
		in.ConsumerSecret = strings.ReplaceAll(uuid.NewString(), "-", "")
		generated = true
	}

	lms, err := reg.RegisterLMS(ctx, in)
	if err != nil {
		if errors.Is(err, service.ErrConflict) {
			return fmt.Errorf("an LMS with uuid %q or consumer key %q is already registered", in.UUID, in.ConsumerKey)
		}
		return fmt.Errorf("register lms: %w", err)
	}

	logger.Info("lms registered", append(requesttrace.System("").Fields(),
		zap.Int64("lms_id", lms.ID),
		zap.String("uuid", lms.UUID),
	)...)

	fmt.Fprintf(out, "LMS registered. ID: %d | UUID: %s | Consumer key: %s\n", lms.ID, lms.UUID, lms.ConsumerKey)
	if generated {
		fmt.Fprintf(out, "Consumer secret: %s\n", lms.ConsumerSecret)
	}
	return nil
}

func listCommand() *cobra.Command {
	var db dbconn.Flags

	c := &cobra.Command{
		Use:   "list",
		Short: "List registered LMS",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withRegistry(ctx, &db, func(reg Registry) error {
				return runList(ctx, reg, cmd.OutOrStdout())
			})
		},
	}

	db.Register(c)
	return c
}

func runList(ctx context.Context, reg Registry, out io.Writer) error {
	items, err := reg.ListLMS(ctx)
	if err != nil {
		return fmt.Errorf("list lms: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUUID\tNAME\tURL\tCONSUMER KEY")
	for _, l := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", l.ID, l.UUID, l.Name, l.URL, l.ConsumerKey)
	}
	return tw.Flush()
}
