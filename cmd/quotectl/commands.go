package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"quoteflow/audit"
	"quoteflow/auth"
	"quoteflow/engine"
	"quoteflow/quotation"
)

func loginCommand(c *client) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "store the principal and bearer credential issued by your identity provider",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true},
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "role", Value: string(auth.RoleViewer), Usage: "manager, sales_rep or viewer"},
			&cli.StringFlag{Name: "token", Required: true, EnvVars: []string{"QUOTEFLOW_TOKEN"}},
		},
		Action: func(cctx *cli.Context) error {
			role, err := auth.ParseRole(cctx.String("role"))
			if err != nil {
				return err
			}
			p := auth.Principal{Name: cctx.String("name"), Email: cctx.String("email"), Role: role}
			if err := c.session.Login(cctx.Context, p, cctx.String("token")); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "logged in as %s (%s)\n", p.Name, p.Role)
			return nil
		},
	}
}

func logoutCommand(c *client) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "forget the stored session",
		Action: func(cctx *cli.Context) error {
			if err := c.session.Logout(cctx.Context); err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, "logged out")
			return nil
		},
	}
}

func whoamiCommand(c *client) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "show the current principal and what it may do",
		Action: func(*cli.Context) error {
			p, ok := c.session.Principal()
			if !ok {
				return auth.ErrUnauthenticated
			}
			caps := c.engine.Capabilities()
			fmt.Fprintf(c.stdout, "%s <%s>\nrole: %s\n", p.Name, p.Email, p.Role)
			fmt.Fprintf(c.stdout, "approve/reject: %s\nedit: %s\ncomment: %s\nreply: %s\n",
				yesNo(caps.CanApproveReject), yesNo(caps.CanEdit), yesNo(caps.CanComment), yesNo(caps.CanReply))
			if !c.session.Authenticated() {
				fmt.Fprintln(c.stdout, "credential: missing or expired")
			}
			return nil
		},
	}
}

func switchRoleCommand(c *client) *cli.Command {
	return &cli.Command{
		Name:      "switch-role",
		Usage:     "change the current role",
		ArgsUsage: "ROLE",
		Action: func(cctx *cli.Context) error {
			role, err := auth.ParseRole(cctx.Args().First())
			if err != nil {
				return err
			}
			if err := c.engine.SwitchRole(cctx.Context, role); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "role switched to %s\n", role)
			return nil
		},
	}
}

func listCommand(c *client) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list quotations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "q", Usage: "free-text search"},
			&cli.StringFlag{Name: "status", Value: "all", Usage: "Pending, Approved, Rejected or all"},
			&cli.IntFlag{Name: "page", Value: 1},
			&cli.BoolFlag{Name: "all-pages", Usage: "follow the cursor until the list is exhausted"},
		},
		Action: func(cctx *cli.Context) error {
			filter := quotation.Filter{Query: cctx.String("q"), Status: quotation.Status(cctx.String("status"))}
			if f := filter.Normalized(); f.Status != "" {
				st, err := quotation.ParseStatus(string(f.Status))
				if err != nil {
					return err
				}
				filter.Status = st
			}

			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCLIENT\tAMOUNT\tSTATUS\tUPDATED")
			cursor := cctx.Int("page")
			var page quotation.Page
			for {
				var err error
				page, err = c.engine.ListQuery(cctx.Context, filter, cursor)
				if err != nil {
					return err
				}
				for _, q := range page.Items {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", q.ID, q.Client, audit.FormatAmount(q.Amount), q.Status, when(q.LastUpdated))
				}
				if !cctx.Bool("all-pages") || !page.HasMore() {
					break
				}
				cursor = page.NextCursor
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if page.HasMore() {
				fmt.Fprintf(c.stdout, "%d total, next page: %d\n", page.TotalCount, page.NextCursor)
			} else {
				fmt.Fprintf(c.stdout, "%d total\n", page.TotalCount)
			}
			return nil
		},
	}
}

func showCommand(c *client) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "show a quotation with comments and history",
		ArgsUsage: "ID",
		Action: func(cctx *cli.Context) error {
			id, err := requireArg(cctx, 0, "ID")
			if err != nil {
				return err
			}
			q, err := c.engine.DetailQuery(cctx.Context, id)
			if err != nil {
				return err
			}
			c.printQuotation(q)
			return nil
		},
	}
}

func statusCommand(c *client, verb string) *cli.Command {
	target := quotation.StatusApproved
	if verb == "reject" {
		target = quotation.StatusRejected
	}
	return &cli.Command{
		Name:      verb,
		Usage:     verb + " a pending quotation",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "notes", Usage: "reason recorded in the history"},
		},
		Action: func(cctx *cli.Context) error {
			id, err := requireArg(cctx, 0, "ID")
			if err != nil {
				return err
			}
			h, err := c.engine.SubmitStatusChange(cctx.Context, id, target, cctx.String("notes"))
			return c.await(cctx, h, err)
		},
	}
}

func editCommand(c *client) *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "change client and/or amount",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "client"},
			&cli.StringFlag{Name: "amount"},
		},
		Action: func(cctx *cli.Context) error {
			id, err := requireArg(cctx, 0, "ID")
			if err != nil {
				return err
			}
			var edit quotation.FieldEdit
			if cctx.IsSet("client") {
				v := cctx.String("client")
				edit.Client = &v
			}
			if cctx.IsSet("amount") {
				d, err := decimal.NewFromString(strings.TrimPrefix(strings.ReplaceAll(cctx.String("amount"), ",", ""), "$"))
				if err != nil {
					return fmt.Errorf("quotectl: amount: %w", err)
				}
				edit.Amount = &d
			}
			h, err := c.engine.SubmitFieldEdit(cctx.Context, id, edit)
			return c.await(cctx, h, err)
		},
	}
}

func commentCommand(c *client) *cli.Command {
	return &cli.Command{
		Name:      "comment",
		Usage:     "add a comment",
		ArgsUsage: "ID TEXT",
		Action: func(cctx *cli.Context) error {
			id, err := requireArg(cctx, 0, "ID")
			if err != nil {
				return err
			}
			text := strings.Join(cctx.Args().Tail(), " ")
			h, err := c.engine.SubmitComment(cctx.Context, id, text)
			return c.await(cctx, h, err)
		},
	}
}

func replyCommand(c *client) *cli.Command {
	return &cli.Command{
		Name:      "reply",
		Usage:     "reply to a comment",
		ArgsUsage: "ID COMMENT_ID TEXT",
		Action: func(cctx *cli.Context) error {
			id, err := requireArg(cctx, 0, "ID")
			if err != nil {
				return err
			}
			commentID, err := requireArg(cctx, 1, "COMMENT_ID")
			if err != nil {
				return err
			}
			text := strings.Join(cctx.Args().Slice()[2:], " ")
			h, err := c.engine.SubmitReply(cctx.Context, id, commentID, text)
			return c.await(cctx, h, err)
		},
	}
}

// await blocks until the server confirms or the change is rolled back.
func (c *client) await(cctx *cli.Context, h *engine.Handle, err error) error {
	if err != nil {
		return err
	}
	q, err := h.Wait(cctx.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s %s: %s\n", h.Op, q.ID, h.State())
	c.printQuotation(q)
	return nil
}

func (c *client) printQuotation(q quotation.Quotation) {
	out := c.stdout
	fmt.Fprintf(out, "%s  %s  %s  %s\n", q.ID, q.Client, audit.FormatAmount(q.Amount), q.Status)
	fmt.Fprintf(out, "updated %s\n", when(q.LastUpdated))
	if q.Description != "" {
		fmt.Fprintf(out, "%s\n", q.Description)
	}

	if len(q.Comments) > 0 {
		fmt.Fprintln(out, "\ncomments:")
		for _, cm := range q.Comments {
			fmt.Fprintf(out, "  [%s] %s (%s), %s: %s\n", cm.ID, cm.Author, cm.Role, when(cm.Timestamp), cm.Text)
			for _, r := range c.engine.VisibleReplies(cm) {
				fmt.Fprintf(out, "      ↳ %s (%s): %s\n", r.Author, r.Role, r.Text)
			}
		}
	}

	if len(q.History) > 0 {
		fmt.Fprintln(out, "\nhistory:")
		for _, h := range q.SortedHistory() {
			line := fmt.Sprintf("  %s  %s: %s", h.Timestamp.Format(time.RFC3339), h.User, h.Action)
			if h.Notes != "" {
				line += " (" + h.Notes + ")"
			}
			fmt.Fprintln(out, line)
		}
	}
}

func requireArg(cctx *cli.Context, i int, name string) (string, error) {
	v := strings.TrimSpace(cctx.Args().Get(i))
	if v == "" {
		return "", fmt.Errorf("quotectl: missing %s argument", name)
	}
	return v, nil
}

func when(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func yesNo(b bool) string {
	return strconv.FormatBool(b)
}
