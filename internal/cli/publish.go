package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/rover/internal/model"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	Kind   string
	ID     string
	Author string
	Scope  string
	Title  string
	Body   string
	URL    string
	IsSelf bool
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Add an item to the Redis item streams",
		Long: `Add a submission or comment to the Redis streams a running rover reads
from. Useful for trying handlers without the external service.

Examples:
  rover publish --kind submission --scope test --author alice --title "hello" --self --body "hi"
  rover publish --kind comment --scope test --author bob --body "ping"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", string(model.KindSubmission), "item kind (submission|comment)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (default: random)")
	cmd.Flags().StringVar(&opts.Author, "author", "", "author username")
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "community the item is posted to")
	cmd.Flags().StringVar(&opts.Title, "title", "", "submission title (or parent title for comments)")
	cmd.Flags().StringVar(&opts.Body, "body", "", "item body")
	cmd.Flags().StringVar(&opts.URL, "url", "", "link URL")
	cmd.Flags().BoolVar(&opts.IsSelf, "self", false, "mark the submission as a self post")

	return cmd
}

// item builds the item described by the flags.
func (o *PublishOptions) item(now time.Time) (model.Item, error) {
	kind := model.Kind(o.Kind)
	if !kind.Valid() {
		return model.Item{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be submission or comment", o.Kind))
	}
	if o.Scope == "" {
		return model.Item{}, NewExitError(ExitCommandError, "--scope is required")
	}
	it := model.Item{
		ID:        o.ID,
		Kind:      kind,
		Author:    o.Author,
		Scope:     o.Scope,
		Body:      o.Body,
		URL:       o.URL,
		CreatedAt: now,
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if kind == model.KindComment {
		it.ParentTitle = o.Title
	} else {
		it.Title = o.Title
		it.IsSelf = o.IsSelf
	}
	return it, nil
}

func runPublish(opts *PublishOptions, cmd *cobra.Command) error {
	it, err := opts.item(time.Now())
	if err != nil {
		return err
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	client, src, err := newRedisSource(cfg.Source.Redis, slog.New(slog.DiscardHandler))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid redis configuration", err)
	}
	defer client.Close()

	if err := src.Publish(cmd.Context(), it); err != nil {
		return WrapExitError(ExitFailure, "failed to publish item", err)
	}
	return opts.formatter(cmd).Render(it, func(w io.Writer) error {
		fmt.Fprintf(w, "published %s %s to %s\n", it.Kind, it.ID, it.Scope)
		return nil
	})
}
