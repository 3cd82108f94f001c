package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/rover/internal/model"
	"github.com/roach88/rover/internal/store"
)

// withStore opens the database, runs fn and closes it.
func withStore(opts *RootOptions, fn func(st *store.Store) error) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func parseBanKind(s string) (model.BanKind, error) {
	kind := model.BanKind(strings.ToLower(s))
	if !kind.Valid() {
		return "", NewExitError(ExitCommandError, fmt.Sprintf("invalid ban kind %q: must be user or scope", s))
	}
	return kind, nil
}

// RegisterResult reports which handler names were newly registered.
type RegisterResult struct {
	Registered []string `json:"registered"`
	Existing   []string `json:"existing"`
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <name>...",
		Short: "Register handler names in the database",
		Long: `Register handler names ahead of their first run, so bans can be scoped
to them. Registering an existing name is a no-op.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				res := RegisterResult{Registered: []string{}, Existing: []string{}}
				for _, name := range args {
					inserted, err := st.RegisterHandler(cmd.Context(), name)
					if err != nil {
						return WrapExitError(ExitFailure, "failed to register handler", err)
					}
					if inserted {
						res.Registered = append(res.Registered, name)
					} else {
						res.Existing = append(res.Existing, name)
					}
				}
				return rootOpts.formatter(cmd).Render(res, func(w io.Writer) error {
					for _, name := range res.Registered {
						fmt.Fprintf(w, "registered %s\n", name)
					}
					for _, name := range res.Existing {
						fmt.Fprintf(w, "%s already registered\n", name)
					}
					return nil
				})
			})
		},
	}
}

// NewWipeCommand creates the wipe command.
func NewWipeCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "wipe <name>",
		Short: "Remove a handler and all of its stored records",
		Long: `Remove a handler's registration, reactions, deferred tasks, bans,
statistics and messages. This cannot be undone, so --yes is required.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, fmt.Sprintf("refusing to wipe %q without --yes", args[0]))
			}
			return withStore(rootOpts, func(st *store.Store) error {
				res, err := st.WipeHandler(cmd.Context(), args[0])
				if err != nil {
					return WrapExitError(ExitFailure, "failed to wipe handler", err)
				}
				return rootOpts.formatter(cmd).Render(res, func(w io.Writer) error {
					fmt.Fprintf(w, "wiped %s: %d reactions, %d tasks, %d bans, %d stats, %d messages\n",
						res.Handler, res.Dedup, res.Tasks, res.Bans, res.Stats, res.Messages)
					return nil
				})
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	return cmd
}

// NewBanCommand creates the ban command.
func NewBanCommand(rootOpts *RootOptions) *cobra.Command {
	var handlerName string

	cmd := &cobra.Command{
		Use:   "ban <user|scope> <subject>",
		Short: "Ban an author or a community",
		Long: `Ban an author or a community from dispatch. Without --handler the ban
applies to every handler.

Examples:
  rover ban user spammer
  rover ban scope r/news --handler echo`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseBanKind(args[0])
			if err != nil {
				return err
			}
			return withStore(rootOpts, func(st *store.Store) error {
				banned, err := st.IsBanned(cmd.Context(), kind, args[1], handlerName)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to check ban", err)
				}
				if banned {
					return rootOpts.formatter(cmd).Render(map[string]any{"already_banned": true}, func(w io.Writer) error {
						fmt.Fprintf(w, "%s %s is already banned\n", kind, model.NormalizeSubject(args[1]))
						return nil
					})
				}
				ban, err := st.AddBan(cmd.Context(), model.Ban{Kind: kind, Subject: args[1], Handler: handlerName})
				if err != nil {
					return WrapExitError(ExitFailure, "failed to add ban", err)
				}
				return rootOpts.formatter(cmd).Render(ban, func(w io.Writer) error {
					fmt.Fprintf(w, "banned %s %s (%s)\n", ban.Kind, ban.Subject, banScope(ban))
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVar(&handlerName, "handler", "", "restrict the ban to one handler")
	return cmd
}

// UnbanResult reports how many bans were removed.
type UnbanResult struct {
	Removed int64 `json:"removed"`
}

// NewUnbanCommand creates the unban command.
func NewUnbanCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		handlerName string
		all         bool
	)

	cmd := &cobra.Command{
		Use:   "unban <user|scope> [subject]",
		Short: "Lift bans on an author or a community",
		Long: `Lift bans on a subject. With --handler only that handler's ban goes;
without it every ban on the subject is removed. --all removes every ban of
the kind.

Examples:
  rover unban user spammer
  rover unban scope news --handler echo
  rover unban user --all`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseBanKind(args[0])
			if err != nil {
				return err
			}
			if all == (len(args) == 2) {
				return NewExitError(ExitCommandError, "specify either a subject or --all")
			}
			return withStore(rootOpts, func(st *store.Store) error {
				var n int64
				if all {
					n, err = st.PurgeBans(cmd.Context(), kind)
				} else {
					n, err = st.RemoveBan(cmd.Context(), kind, args[1], handlerName)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "failed to remove bans", err)
				}
				return rootOpts.formatter(cmd).Render(UnbanResult{Removed: n}, func(w io.Writer) error {
					fmt.Fprintf(w, "removed %d ban(s)\n", n)
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVar(&handlerName, "handler", "", "only remove the ban scoped to this handler")
	cmd.Flags().BoolVar(&all, "all", false, "remove every ban of the kind")
	return cmd
}

func banScope(b model.Ban) string {
	if b.Global() {
		return "global"
	}
	return b.Handler
}

// NewBansCommand creates the bans command.
func NewBansCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "bans",
		Short:         "List bans",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				bans, err := st.ListBans(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list bans", err)
				}
				return rootOpts.formatter(cmd).Render(bans, func(w io.Writer) error {
					if len(bans) == 0 {
						fmt.Fprintln(w, "No bans.")
						return nil
					}
					tw := newTable(w)
					fmt.Fprintln(tw, "KIND\tSUBJECT\tHANDLER\tSINCE")
					for _, b := range bans {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Kind, b.Subject, banScope(b), humanize.Time(b.CreatedAt))
					}
					return tw.Flush()
				})
			})
		},
	}
}

// StatsResult is the output of the stats command.
type StatsResult struct {
	Handlers  []model.HandlerSummary `json:"handlers"`
	Days      []model.DayStats       `json:"days"`
	Reactions []model.StatsEntry     `json:"reactions"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		handlerName string
		since       time.Duration
		limit       int
		days        int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-handler totals, daily counters and recent reactions",
		Long: `Show what rover has done: totals per handler, the daily counters of
items seen and update cycles, and the most recent reactions.

Examples:
  rover stats
  rover stats --handler echo --since 24h --limit 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				ctx := cmd.Context()
				var (
					res StatsResult
					err error
				)
				if res.Handlers, err = st.HandlerSummaries(ctx); err != nil {
					return WrapExitError(ExitFailure, "failed to summarize handlers", err)
				}
				if res.Days, err = st.ListDays(ctx, days); err != nil {
					return WrapExitError(ExitFailure, "failed to list daily counters", err)
				}
				q := store.StatsQuery{Handler: handlerName, Limit: limit}
				if since > 0 {
					q.Since = time.Now().Add(-since)
				}
				if res.Reactions, err = st.ListStats(ctx, q); err != nil {
					return WrapExitError(ExitFailure, "failed to list reactions", err)
				}
				return rootOpts.formatter(cmd).Render(res, func(w io.Writer) error {
					return writeStatsText(w, res)
				})
			})
		},
	}

	cmd.Flags().StringVar(&handlerName, "handler", "", "only show reactions of this handler")
	cmd.Flags().DurationVar(&since, "since", 0, "only show reactions newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of reactions to show (0 = all)")
	cmd.Flags().IntVar(&days, "days", 7, "number of days of counters to show (0 = all)")
	return cmd
}

func writeStatsText(w io.Writer, res StatsResult) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "HANDLER\tREACTIONS\tTASKS\tBANS\tMESSAGES")
	for _, h := range res.Handlers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", h.Name,
			humanize.Comma(h.Reactions), humanize.Comma(h.Tasks), humanize.Comma(h.Bans), humanize.Comma(h.Messages))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = newTable(w)
	fmt.Fprintln(tw, "DAY\tSUBMISSIONS\tCOMMENTS\tCYCLES")
	for _, d := range res.Days {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Day,
			humanize.Comma(d.Submissions), humanize.Comma(d.Comments), humanize.Comma(d.Cycles))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(res.Reactions) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = newTable(w)
	fmt.Fprintln(tw, "WHEN\tHANDLER\tSCOPE\tAUTHOR\tITEM")
	for _, e := range res.Reactions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", humanize.Time(e.CreatedAt), e.Handler, e.Scope, e.Author, e.ItemID)
	}
	return tw.Flush()
}

// NewTasksCommand creates the tasks command.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	var deleteItem string

	cmd := &cobra.Command{
		Use:   "tasks [handler]",
		Short: "List or cancel deferred update tasks",
		Long: `List deferred update tasks. With --delete the named item's task is
removed from the handler instead; the handler argument is then required.

Examples:
  rover tasks
  rover tasks echo --delete t1_abc`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var handlerName string
			if len(args) == 1 {
				handlerName = args[0]
			}
			if deleteItem != "" {
				if handlerName == "" {
					return NewExitError(ExitCommandError, "--delete needs a handler argument")
				}
				return withStore(rootOpts, func(st *store.Store) error {
					if err := st.DeleteTask(cmd.Context(), deleteItem, handlerName); err != nil {
						return WrapExitError(ExitFailure, "failed to delete task", err)
					}
					res := map[string]string{"handler": handlerName, "deleted": deleteItem}
					return rootOpts.formatter(cmd).Render(res, func(w io.Writer) error {
						fmt.Fprintf(w, "deleted task %s of %s\n", deleteItem, handlerName)
						return nil
					})
				})
			}
			return withStore(rootOpts, func(st *store.Store) error {
				tasks, err := st.ListTasks(cmd.Context(), handlerName)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list tasks", err)
				}
				return rootOpts.formatter(cmd).Render(tasks, func(w io.Writer) error {
					if len(tasks) == 0 {
						fmt.Fprintln(w, "No deferred tasks.")
						return nil
					}
					tw := newTable(w)
					fmt.Fprintln(tw, "HANDLER\tITEM\tEVERY\tLAST RUN\tEXPIRES")
					for _, t := range tasks {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.Handler, t.ItemID, t.Interval,
							humanize.Time(t.LastInvoked), humanize.Time(t.ExpiresAt))
					}
					return tw.Flush()
				})
			})
		},
	}

	cmd.Flags().StringVar(&deleteItem, "delete", "", "remove the task of this item instead of listing")
	return cmd
}

// ScoresResult reports the scores recorded on a reaction.
type ScoresResult struct {
	StatsID      string `json:"stats_id"`
	AuthorScore  *int64 `json:"author_score,omitempty"`
	HandlerScore *int64 `json:"handler_score,omitempty"`
}

// NewScoresCommand creates the scores command.
func NewScoresCommand(rootOpts *RootOptions) *cobra.Command {
	var authorScore, handlerScore int64

	cmd := &cobra.Command{
		Use:   "scores <stats-id>",
		Short: "Record vote scores on a reaction",
		Long: `Record the score of the item a handler reacted to and of the handler's
own reply on a reaction's statistics row. The row id is the "id" of a
reaction in "rover stats --format json". A score left out keeps its value.

Examples:
  rover scores 7d1c0e9a-... --author 42 --handler 7`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := ScoresResult{StatsID: args[0]}
			if cmd.Flags().Changed("author") {
				res.AuthorScore = &authorScore
			}
			if cmd.Flags().Changed("handler") {
				res.HandlerScore = &handlerScore
			}
			if res.AuthorScore == nil && res.HandlerScore == nil {
				return NewExitError(ExitCommandError, "specify --author, --handler or both")
			}
			return withStore(rootOpts, func(st *store.Store) error {
				found, err := st.UpdateScores(cmd.Context(), res.StatsID, res.AuthorScore, res.HandlerScore)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to update scores", err)
				}
				if !found {
					return NewExitError(ExitFailure, fmt.Sprintf("no reaction with stats id %q", res.StatsID))
				}
				return rootOpts.formatter(cmd).Render(res, func(w io.Writer) error {
					fmt.Fprintf(w, "updated scores of %s\n", res.StatsID)
					return nil
				})
			})
		},
	}

	cmd.Flags().Int64Var(&authorScore, "author", 0, "score of the item reacted to")
	cmd.Flags().Int64Var(&handlerScore, "handler", 0, "score of the handler's reply")
	return cmd
}

// NewMessagesCommand creates the messages command.
func NewMessagesCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "messages [handler]",
		Short:         "List stored inbox messages",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var handlerName string
			if len(args) == 1 {
				handlerName = args[0]
			}
			return withStore(rootOpts, func(st *store.Store) error {
				msgs, err := st.ListMessages(cmd.Context(), handlerName, limit)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list messages", err)
				}
				return rootOpts.formatter(cmd).Render(msgs, func(w io.Writer) error {
					if len(msgs) == 0 {
						fmt.Fprintln(w, "No messages.")
						return nil
					}
					tw := newTable(w)
					fmt.Fprintln(tw, "WHEN\tHANDLER\tFROM\tSUBJECT\tBODY")
					for _, m := range msgs {
						from := m.Author
						if from == "" {
							from = m.Scope
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", humanize.Time(m.CreatedAt), m.Handler, from, m.Subject, firstLine(m.Body, 60))
					}
					return tw.Flush()
				})
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages (0 = all)")
	return cmd
}

// firstLine returns the first line of s, truncated to n runes.
func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
