package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mina-studio/internal/application"
	"mina-studio/internal/domain/model"
)

var (
	genBrief    string
	genAspect   string
	genAssets   []string
	genSession  string
	genJSON     bool
	genFeedback string
)

var stillCmd = &cobra.Command{
	Use:   "still",
	Short: "Create a still image",
	Long: `Creates a still from a brief. Reference uploads added in the same run
with --asset are folded into the request.

Examples:
  studio still --brief "perfume bottle on wet stone" --aspect 4:5
  studio still --brief "flat lay" --asset product=./bottle.png`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runGenerate(cmd, model.CreateRequest{Kind: model.KindStillCreate})
	},
}

var videoCmd = &cobra.Command{
	Use:   "video <still-generation-id>",
	Short: "Animate an existing still",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerate(cmd, model.CreateRequest{Kind: model.KindVideoAnimate, ParentID: args[0]})
	},
}

var tweakCmd = &cobra.Command{
	Use:   "tweak <generation-id>",
	Short: "Tweak a still or video with feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(genFeedback) == "" {
			return fmt.Errorf("--feedback is required")
		}
		kind := model.KindStillTweak
		if v, _ := cmd.Flags().GetBool("video"); v {
			kind = model.KindVideoTweak
		}
		return runGenerate(cmd, model.CreateRequest{Kind: kind, ParentID: args[0], Feedback: genFeedback})
	},
}

func init() {
	for _, c := range []*cobra.Command{stillCmd, videoCmd, tweakCmd} {
		c.Flags().StringVar(&genBrief, "brief", "", "creative brief")
		c.Flags().StringVar(&genAspect, "aspect", "", "aspect ratio, e.g. 4:5")
		c.Flags().StringArrayVar(&genAssets, "asset", nil, "reference upload as category=path-or-url (repeatable)")
		c.Flags().StringVar(&genSession, "session", "", "session id to attach the job to")
		c.Flags().BoolVar(&genJSON, "json", false, "print the final record as JSON")
		rootCmd.AddCommand(c)
	}
	tweakCmd.Flags().StringVar(&genFeedback, "feedback", "", "what to change")
	tweakCmd.Flags().Bool("video", false, "the parent is a video")
}

func runGenerate(cmd *cobra.Command, req model.CreateRequest) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := addAssets(ctx, a, genAssets); err != nil {
		return err
	}

	req.Inputs = map[string]any{}
	if genBrief != "" {
		req.Inputs["brief"] = genBrief
	}
	if genAspect != "" {
		req.Inputs["aspect_ratio"] = genAspect
	}
	req.History.SessionID = genSession

	out := cmd.OutOrStdout()
	job, err := a.facade.Generate(ctx, req, func(ev model.ProgressEvent) {
		fmt.Fprintf(cmd.ErrOrStderr(), "... %s\n", ev.Status)
		for _, line := range ev.ScanLines {
			fmt.Fprintf(cmd.ErrOrStderr(), "    %s\n", line)
		}
	})
	if job != nil {
		if genJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			_ = enc.Encode(job)
		} else {
			fmt.Fprintln(out, application.Summary(job))
		}
	}
	return err
}

// addAssets uploads category=source pairs and waits until every item is
// durable (or failed).
func addAssets(ctx context.Context, a *app, specs []string) error {
	if len(specs) == 0 {
		return nil
	}
	for _, s := range specs {
		cat, src, ok := strings.Cut(s, "=")
		if !ok || src == "" {
			return fmt.Errorf("invalid --asset %q: want category=path-or-url", s)
		}
		if err := addOne(ctx, a, model.UploadCategory(cat), src); err != nil {
			return err
		}
	}
	if err := a.uploads.Wait(ctx); err != nil {
		return err
	}
	for _, cat := range model.Categories() {
		for _, it := range a.uploads.Items(cat) {
			if it.Err != "" {
				return fmt.Errorf("upload %s (%s): %s", it.FileName, cat, it.Err)
			}
		}
	}
	return nil
}

func addOne(ctx context.Context, a *app, cat model.UploadCategory, src string) error {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		_, err := a.facade.AddUploadURL(ctx, cat, src)
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	_, err = a.facade.AddUpload(ctx, cat, filepath.Base(src), data)
	return err
}
