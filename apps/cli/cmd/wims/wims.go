package wimscmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upem-wims/wims-lti/apps/cli/cmd/dbconn"
	"github.com/upem-wims/wims-lti/domains/credentials/be/repo"
	"github.com/upem-wims/wims-lti/domains/credentials/be/service"
	"github.com/upem-wims/wims-lti/platform/go/persistence"
	"github.com/upem-wims/wims-lti/platform/go/requesttrace"
	"github.com/upem-wims/wims-lti/platform/go/wims"
)

// Registry is the part of the credentials service the wims commands use.
type Registry interface {
	RegisterWims(ctx context.Context, in service.RegisterWimsInput) (service.WimsServer, error)
	ListWims(ctx context.Context) ([]service.WimsServer, error)
}

// Command groups WIMS server registration helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wims",
		Short: "Register and list WIMS servers",
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
		db      dbconn.Flags
		in      service.RegisterWimsInput
		check   bool
		timeout time.Duration
	)

	c := &cobra.Command{
		Use:   "add",
		Short: "Register a WIMS server, checking its adm/raw credentials first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			logger := dbconn.Logger(cmd.ErrOrStderr())

			var connector wims.Connector
			if check {
				connector = wims.NewClient(wims.ClientConfig{Timeout: timeout, Logger: logger})
			}
			return withRegistry(ctx, &db, func(reg Registry) error {
				return runAdd(ctx, reg, connector, in, cmd.OutOrStdout(), logger)
			})
		},
	}

	db.Register(c)
	c.Flags().StringVar(&in.URL, "url", "", "URL of wims.cgi (e.g. https://wims.example.org/wims/wims.cgi)")
	c.Flags().StringVar(&in.Name, "name", "", "Display name")
	c.Flags().StringVar(&in.Ident, "ident", "", "adm/raw identifier declared in the server's connection file")
	c.Flags().StringVar(&in.Passwd, "passwd", "", "adm/raw password")
	c.Flags().StringVar(&in.RClass, "rclass", "", "Class prefix the bridge creates classes under")
	c.Flags().BoolVar(&check, "check", true, "Run checkident against the server before registering it")
	c.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout of the credential check")

	_ = c.MarkFlagRequired("url")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("ident")
	_ = c.MarkFlagRequired("passwd")
	_ = c.MarkFlagRequired("rclass")

	return c
}

// runAdd registers the server. A nil connector skips the credential check.
func runAdd(ctx context.Context, reg Registry, connector wims.Connector, in service.RegisterWimsInput, out io.Writer, logger *zap.Logger) error {
	if connector != nil {
		if _, err := connector.Login(ctx, wims.Server{URL: in.URL, Ident: in.Ident, Passwd: in.Passwd, RClass: in.RClass}); err != nil {
			return fmt.Errorf("check wims credentials: %w", err)
		}
	}

	server, err := reg.RegisterWims(ctx, in)
	if err != nil {
		return fmt.Errorf("register wims: %w", err)
	}

	logger.Info("wims server registered", append(requesttrace.System("").Fields(),
		zap.Int64("wims_id", server.ID),
		zap.String("url", server.URL),
	)...)

	fmt.Fprintf(out, "WIMS server registered. ID: %d | Launch URL path: /lti/%d/\n", server.ID, server.ID)
	return nil
}

func listCommand() *cobra.Command {
	var db dbconn.Flags

	c := &cobra.Command{
		Use:   "list",
		Short: "List registered WIMS servers",
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
	items, err := reg.ListWims(ctx)
	if err != nil {
		return fmt.Errorf("list wims: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tURL\tIDENT\tRCLASS")
	for _, w := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", w.ID, w.Name, w.URL, w.Ident, w.RClass)
	}
	return tw.Flush()
}
