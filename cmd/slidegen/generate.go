package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thywilljoshua/slidegen/internal/artifact"
	"github.com/thywilljoshua/slidegen/internal/invoker"
	"github.com/thywilljoshua/slidegen/internal/pipeline"
	"github.com/thywilljoshua/slidegen/internal/slides"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

// runFlags are shared by the commands that start a run.
type runFlags struct {
	kind     string
	source   sourceFlags
	settings invoker.Settings
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.kind, "kind", "k", string(workflow.KindPaper2PPT), "workflow: paper2ppt|pdf2ppt|polish")
	cmd.Flags().StringVar(&f.source.mode, "mode", "", "input mode: document|image (default: from the file type)")
	cmd.Flags().StringVar(&f.source.text, "text", "", "generate from pasted text instead of a file")
	cmd.Flags().StringVar(&f.source.topic, "topic", "", "generate from a topic instead of a file")
	registerSettingsFlags(cmd, &f.settings)
}

func registerSettingsFlags(cmd *cobra.Command, s *invoker.Settings) {
	cmd.Flags().StringVar(&s.Endpoint, "endpoint", "", "generation service base URL")
	cmd.Flags().StringVar(&s.ChatAPIURL, "chat-api-url", "", "model API URL passed to the service")
	cmd.Flags().StringVar(&s.APIKey, "api-key", "", "model API key")
	cmd.Flags().StringVar(&s.Model, "model", "", "text model")
	cmd.Flags().StringVar(&s.ImageModel, "image-model", "", "image model")
	cmd.Flags().StringVar(&s.Language, "language", "", "slide language")
	cmd.Flags().StringVar(&s.Style, "style", "", "visual style prompt")
	cmd.Flags().StringVar(&s.AspectRatio, "aspect-ratio", "", "slide aspect ratio, e.g. 16:9")
	cmd.Flags().IntVar(&s.PageCount, "pages", 0, "number of slides to draft (0 lets the service decide)")
	cmd.Flags().StringVar(&s.InviteCode, "invite-code", "", "service invite code")
}

func (f *runFlags) resolve(args []string) (workflow.Kind, invoker.Source, error) {
	profile, err := workflow.Lookup(workflow.Kind(f.kind))
	if err != nil {
		return "", invoker.Source{}, err
	}
	src, err := readSource(args, f.source)
	if err != nil {
		return "", invoker.Source{}, err
	}
	return profile.Kind, src, nil
}

type runResult struct {
	Kind   workflow.Kind     `json:"kind"`
	Token  string            `json:"token"`
	Slides []slides.Unit     `json:"slides"`
	Final  *pipeline.Final   `json:"final,omitempty"`
	Files  map[string]string `json:"files,omitempty"`

	Endpoint string `json:"-"`
}

func generateCmd() *cobra.Command {
	var flags runFlags
	var editArgs []string
	var out string
	var noFetch bool

	cmd := &cobra.Command{
		Use:   "generate [source]",
		Short: "Run a source through outline, render and finalize",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, src, err := flags.resolve(args)
			if err != nil {
				return err
			}
			edits, err := parseEdits(editArgs)
			if err != nil {
				return err
			}
			if out == "" {
				out = cfg.Output.Dir
			}

			ctx := cmd.Context()
			a := newApp(cfg, logger)
			defer a.Close()
			if err := a.wire(ctx); err != nil {
				return err
			}
			c, err := a.controller(kind, false)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer p.Follow(ctx, c.Progress)()

			res, err := runDeck(ctx, a, c, p, kind, src, flags.settings, edits)
			if err != nil {
				return err
			}
			if !noFetch {
				store := artifact.NewFileStore(out, a.client, logger).WithBase(res.Endpoint)
				res.Files = store.FetchAll(ctx, deckRefs(res), a.cfg.Gemini.Parallel)
				p.Success("saved %d files to %s", len(res.Files), store.Dir())
			}
			b, _ := json.MarshalIndent(res, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringArrayVar(&editArgs, "edit", nil, "re-render slide N with an instruction before confirming it (N=instruction, repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "directory for downloaded slides and decks (default: output.dir)")
	cmd.Flags().BoolVar(&noFetch, "no-fetch", false, "print artifact refs without downloading them")
	return cmd
}

// runDeck drives one run to the final deck: submit, batch render, optional
// per-slide edits, confirm every slide, finalize.
func runDeck(ctx context.Context, a *app, c *pipeline.Controller, p *printer, kind workflow.Kind, src invoker.Source, flagSettings invoker.Settings, edits map[int]string) (*runResult, error) {
	s := a.settings(kind, flagSettings)

	p.Info("submitting %s source to %s", src.Mode, a.backend.Name())
	err := c.Submit(ctx, src, s)
	if c.Snapshot().Stage != pipeline.StageIntake {
		// The outline call was accepted with these settings, even if the
		// render that follows failed.
		a.remember(kind, s)
	}
	if err != nil {
		return nil, err
	}

	snap := c.Snapshot()
	p.Info("rendered %d slides", len(snap.Units))
	for _, u := range snap.Units {
		if u.Fallback {
			p.Warn("slide %d (%s) kept its source image", u.Order, u.Title)
		}
	}
	for _, i := range editOrder(edits) {
		if i >= len(snap.Units) {
			p.Warn("ignoring --edit for slide %d, the deck has %d slides", i+1, len(snap.Units))
		}
	}

	for i := range snap.Units {
		if instr, ok := edits[i]; ok {
			p.Info("re-rendering slide %d", i+1)
			if err := c.Rerender(ctx, instr); err != nil {
				return nil, err
			}
		}
		if err := c.Confirm(); err != nil {
			return nil, err
		}
	}

	p.Info("assembling deck")
	final, err := c.Finalize(ctx)
	if err != nil {
		return nil, err
	}
	snap = c.Snapshot()
	return &runResult{Kind: kind, Token: snap.Token, Slides: snap.Units, Final: final, Endpoint: s.Endpoint}, nil
}

func deckRefs(res *runResult) []string {
	seen := map[string]bool{}
	var refs []string
	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}
	if res.Final != nil {
		add(res.Final.Primary)
		add(res.Final.Secondary)
	}
	for _, u := range res.Slides {
		add(u.Artifact)
	}
	return refs
}
