package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/runstream/internal/initiator"
	"github.com/xiaot623/gogo/runstream/internal/patch"
	"github.com/xiaot623/gogo/runstream/internal/runclient"
)

func (a *app) submitCmd() *cobra.Command {
	var (
		specPath string
		token    string
		watch    bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a run spec",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadSpec(specPath)
			if err != nil {
				return err
			}
			if token == "" {
				token = initiator.NewIdempotencyToken()
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			watcher, runs := a.watcher()
			if !watch {
				created, err := runs.Create(ctx, spec.Dedupe(), token)
				if err != nil {
					return err
				}
				if created.Deduplicated {
					fmt.Fprintf(a.out, "%s (existing run for token %s)\n", created.RunID, token)
				} else {
					fmt.Fprintln(a.out, created.RunID)
				}
				return nil
			}

			p := newProgress(a.out)
			sub, err := watcher.Start(ctx, spec, token, p.attach)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "run %s submitted, following (Ctrl-C to stop)\n", sub.RunID())
			return a.follow(sub)
		},
	}
	cmd.Flags().StringVarP(&specPath, "spec", "f", "", "run spec file (YAML or JSON)")
	cmd.Flags().StringVar(&token, "token", "", "idempotency token (generated when empty)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow the run after submitting")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	var afterSeq int64
	cmd := &cobra.Command{
		Use:   "watch RUN_ID",
		Short: "Follow a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			watcher, _ := a.watcher()
			return a.follow(watcher.Attach(ctx, args[0], afterSeq, newProgress(a.out).attach))
		},
	}
	cmd.Flags().Int64Var(&afterSeq, "after-seq", 0, "resume after this cursor")
	return cmd
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel a run on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, runs := a.watcher()
			resp, err := runs.CancelRemote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "run %s %s\n", resp.RunID, runStatusText(resp.Status))
			return nil
		},
	}
}

func (a *app) renderCmd() *cobra.Command {
	var (
		docPath  string
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "render RUN_ID",
		Short: "Follow a run and fill its outputs into the {{run:<item_id>}} markers of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(docPath)
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			watcher, _ := a.watcher()
			sub := watcher.Attach(ctx, args[0], 0)
			if err := sub.Wait(); err != nil {
				return err
			}
			out, err := patch.Render(string(doc), patch.DefaultMarkerPattern, sub.View(), patch.Options{InlineProgress: progress})
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&docPath, "doc", "d", "", "document containing markers")
	cmd.Flags().BoolVar(&progress, "inline-progress", false, "show partial output of unfinished items")
	_ = cmd.MarkFlagRequired("doc")
	return cmd
}

// follow waits for a subscription whose progress printer is already attached,
// then prints the final view. A stream that gave up is reported with the
// cursor to resume from.
func (a *app) follow(sub *runclient.Subscription) error {
	err := sub.Wait()
	fmt.Fprintln(a.out)
	printTable(a.out, sub.View())

	if err != nil {
		return fmt.Errorf("%w (resume with --after-seq %d)", err, sub.LastApplied())
	}
	if runErr := sub.Aggregator().Err(); runErr != nil {
		fmt.Fprintln(a.out, red(runErr.Error()))
	}
	return nil
}
