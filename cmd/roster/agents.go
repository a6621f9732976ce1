package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rizome-dev/roster/pkg/client"
	"github.com/rizome-dev/roster/pkg/controller"
	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/gateway"
	"github.com/rizome-dev/roster/pkg/monitoring"
	"github.com/rizome-dev/roster/pkg/state"
	"github.com/rizome-dev/roster/pkg/types"
	"github.com/rizome-dev/roster/pkg/validation"
)

// MsgAgentNotFound is printed when an id is not in the collection
const MsgAgentNotFound = "Agent Not Found"

// errReported marks failures already printed to the user
var errReported = errors.New("reported")

// console is one command's view of the agent collection
type console struct {
	ctrl     *controller.Controller
	client   *client.Client
	snapshot state.Snapshot
	monitor  *monitoring.Monitor
}

// openConsole wires client, gateway and controller and loads the collection
func (a *app) openConsole(ctx context.Context) (*console, error) {
	snapshot, err := state.NewFromConfig(a.cfg.State)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s snapshot: %w", a.cfg.State.Type, err)
	}

	monitor, err := monitoring.NewMonitor(&a.cfg.Monitoring)
	if err != nil {
		_ = snapshot.Close(ctx)
		return nil, fmt.Errorf("failed to initialize monitoring: %w", err)
	}

	opts := []client.Option{
		client.WithBaseURL(a.cfg.Remote.BaseURL),
		client.WithTimeout(a.cfg.Remote.Timeout),
		client.WithTracer(monitor.Tracer()),
	}
	if a.cfg.Remote.DNSCacheTTL > 0 {
		opts = append(opts, client.WithDNSCache(a.cfg.Remote.DNSCacheTTL))
	}
	c := client.New(opts...)

	logger := a.logger
	ctrl := controller.New(controller.Config{
		Store: gateway.New(c, snapshot,
			gateway.WithMonitor(monitor),
			gateway.WithLogger(logger.With().Str("component", "gateway").Logger()),
		),
		Snapshot:       snapshot,
		Monitor:        monitor,
		Logger:         &logger,
		ConfirmDeletes: a.cfg.Controller.ConfirmDeletes,
	})
	ctrl.Initialize(ctx)

	return &console{ctrl: ctrl, client: c, snapshot: snapshot, monitor: monitor}, nil
}

func (c *console) Close(ctx context.Context) {
	c.client.Close()
	_ = c.snapshot.Close(ctx)
	_ = c.monitor.Shutdown(ctx)
}

// report prints the warning and error left by the last operation. An error
// fails the command.
func (c *console) report(w io.Writer) error {
	st := c.ctrl.State()
	if st.Warning != "" {
		fmt.Fprintf(w, "warning: %s (remote unavailable, using local copy)\n", st.Warning)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "error: %s\n", st.Error)
		return errReported
	}
	return nil
}

func (a *app) listCmd() *cobra.Command {
	var (
		filter string
		sortBy string
		desc   bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List agents",
		Example: `  roster list
  roster list --filter jane --sort email
  roster list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			con, err := a.openConsole(ctx)
			if err != nil {
				return err
			}
			defer con.Close(ctx)

			reportErr := con.report(cmd.ErrOrStderr())

			agents := con.ctrl.Filter(filter)
			if sortBy != "" {
				if agents, err = controller.SortBy(agents, sortBy, desc); err != nil {
					return err
				}
			}

			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), agents); err != nil {
					return err
				}
			} else {
				writeTable(cmd.OutOrStdout(), agents)
			}
			return reportErr
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Case-insensitive match on name, email or status")
	cmd.Flags().StringVarP(&sortBy, "sort", "s", "", "Sort field ("+strings.Join(controller.SortFields, ", ")+")")
	cmd.Flags().BoolVar(&desc, "desc", false, "Sort descending")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			con, err := a.openConsole(ctx)
			if err != nil {
				return err
			}
			defer con.Close(ctx)

			_ = con.report(cmd.ErrOrStderr())

			agent, ok := con.ctrl.FindByID(args[0])
			if !ok {
				fmt.Fprintln(cmd.ErrOrStderr(), MsgAgentNotFound)
				return errReported
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), agent)
			}
			writeDetail(cmd.OutOrStdout(), agent)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func (a *app) addCmd() *cobra.Command {
	var name, email, status string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an agent",
		Example: `  roster add --name "Jane Doe" --email jane@example.com
  roster add --name "John Roe" --email john@example.com --status Inactive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := types.AgentDraft{Name: name, Email: email, Status: parseStatus(status)}
			if err := validation.ValidateDraft(draft); err != nil {
				return printValidation(cmd.ErrOrStderr(), err)
			}

			ctx := cmd.Context()
			con, err := a.openConsole(ctx)
			if err != nil {
				return err
			}
			defer con.Close(ctx)

			created, err := con.ctrl.Create(ctx, draft)
			if err != nil {
				return printValidation(cmd.ErrOrStderr(), err)
			}
			if err := con.report(cmd.ErrOrStderr()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added agent %s (%s)\n", created.Name, created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Agent name (required)")
	cmd.Flags().StringVar(&email, "email", "", "Agent email (required)")
	cmd.Flags().StringVar(&status, "status", string(types.AgentStatusActive), "Agent status (Active, Inactive)")
	return cmd
}

func (a *app) editCmd() *cobra.Command {
	var name, email, status string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit an agent",
		Example: `  roster edit 3f1c --status Inactive
  roster edit 3f1c --name "Jane Smith" --email jane.smith@example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			con, err := a.openConsole(ctx)
			if err != nil {
				return err
			}
			defer con.Close(ctx)

			agent, ok := con.ctrl.FindByID(args[0])
			if !ok {
				_ = con.report(cmd.ErrOrStderr())
				fmt.Fprintln(cmd.ErrOrStderr(), MsgAgentNotFound)
				return errReported
			}

			flags := cmd.Flags()
			if flags.Changed("name") {
				agent.Name = name
			}
			if flags.Changed("email") {
				agent.Email = email
			}
			if flags.Changed("status") {
				agent.Status = parseStatus(status)
			}

			updated, err := con.ctrl.Update(ctx, agent)
			if err != nil {
				return printValidation(cmd.ErrOrStderr(), err)
			}
			if err := con.report(cmd.ErrOrStderr()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Updated agent %s (%s)\n", updated.Name, updated.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&email, "email", "", "New email")
	cmd.Flags().StringVar(&status, "status", "", "New status (Active, Inactive)")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete an agent",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			con, err := a.openConsole(ctx)
			if err != nil {
				return err
			}
			defer con.Close(ctx)

			agent, ok := con.ctrl.FindByID(args[0])
			if !ok {
				_ = con.report(cmd.ErrOrStderr())
				fmt.Fprintln(cmd.ErrOrStderr(), MsgAgentNotFound)
				return errReported
			}

			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
				fmt.Sprintf("Are you sure you want to delete %s (%s)?", agent.Name, agent.ID)) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}

			if err := con.ctrl.Remove(ctx, agent.ID); err != nil {
				return err
			}
			if err := con.report(cmd.ErrOrStderr()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted agent %s (%s)\n", agent.Name, agent.ID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// parseStatus accepts any casing; unknown values are kept so that
// validation reports them
func parseStatus(value string) types.AgentStatus {
	if status, err := types.ParseAgentStatus(value); err == nil {
		return status
	}
	return types.AgentStatus(value)
}

func printValidation(w io.Writer, err error) error {
	var verr *rerrors.ValidationError
	if !errors.As(err, &verr) {
		return err
	}

	fields := make([]string, 0, len(verr.Fields))
	for field := range verr.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	fmt.Fprintln(w, "invalid agent:")
	for _, field := range fields {
		fmt.Fprintf(w, "  %s: %s\n", field, verr.Fields[field])
	}
	return errReported
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func writeTable(w io.Writer, agents []types.Agent) {
	if len(agents) == 0 {
		fmt.Fprintln(w, "No agents found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tSTATUS")
	for _, agent := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", agent.ID, agent.Name, agent.Email, agent.Status)
	}
	_ = tw.Flush()
}

func writeDetail(w io.Writer, agent types.Agent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", agent.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", agent.Name)
	fmt.Fprintf(tw, "Email:\t%s\n", agent.Email)
	fmt.Fprintf(tw, "Status:\t%s\n", agent.Status)
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
