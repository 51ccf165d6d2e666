package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/stillreel/internal/compose"
	"github.com/seantiz/stillreel/internal/model"
	"github.com/seantiz/stillreel/internal/staging"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var (
		duration  float64
		fps       int
		format    string
		audioPath string
		output    string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "render [flags] <image>...",
		Short: "Compose images into a video in this process",
		Long: "Compose the given images, in argument order, into one video using the\n" +
			"configured engine. Settings not given as flags come from the [defaults]\n" +
			"section of the configuration.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			settings := cfg.JobDefaults()
			flags := cmd.Flags()
			if flags.Changed("duration") {
				settings.DurationPerFrame = duration
			}
			if flags.Changed("fps") {
				settings.FrameRate = fps
			}
			if flags.Changed("format") {
				f, err := model.ParseFormat(format)
				if err != nil {
					return err
				}
				settings.Format = f
			}

			frames, err := loadFrames(args)
			if err != nil {
				return err
			}
			req := compose.Request{Frames: frames, Settings: settings}
			if audioPath != "" {
				data, err := os.ReadFile(audioPath)
				if err != nil {
					return fmt.Errorf("read audio: %w", err)
				}
				req.Audio = &model.AudioTrack{Name: filepath.Base(audioPath), Data: data}
			}
			if err := compose.Validate(req); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				return printPlan(out, req, cfg.Canvas())
			}

			svc, err := ctx.newServices(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svc.close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			printer := newProgressPrinter(cmd.ErrOrStderr())
			req.Progress = printer.progress
			req.Stage = printer.setStage

			res, err := svc.pipeline.Run(runCtx, req)
			printer.finish()
			if err != nil {
				return fmt.Errorf("render failed (%s): %w", compose.ErrorKind(err), err)
			}

			target := output
			if target == "" {
				target = "slideshow." + string(settings.Format)
			}
			if err := os.WriteFile(target, res.Data, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(out, "Wrote %s video to %s (%d bytes)\n", upperCase.String(string(settings.Format)), target, len(res.Data))
			return nil
		},
	}

	cmd.Flags().Float64Var(&duration, "duration", 0, "Seconds each image is shown")
	cmd.Flags().IntVar(&fps, "fps", 0, "Output frame rate")
	cmd.Flags().StringVar(&format, "format", "", "Output format: mp4, webm or avi")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Soundtrack trimmed to the length of the slideshow")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default slideshow.<format>)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the timeline and engine arguments without encoding")
	return cmd
}

func loadFrames(paths []string) ([]model.Frame, error) {
	frames := make([]model.Frame, 0, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		frames = append(frames, model.Frame{Index: i, Name: filepath.Base(path), Data: data})
	}
	return frames, nil
}

// printPlan shows the staged timeline and the engine invocation for req.
func printPlan(w io.Writer, req compose.Request, canvas compose.Canvas) error {
	names := make([]string, len(req.Frames))
	for i, f := range req.Frames {
		names[i] = staging.FrameName(f.Index, f.Ext())
	}
	entries, err := compose.ParseScript(compose.BuildScript(names, req.Settings.DurationPerFrame))
	if err != nil {
		return fmt.Errorf("build timeline: %w", err)
	}

	rows := make([][]string, len(entries))
	var start float64
	for i, e := range entries {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			req.Frames[i].Name,
			e.Ref,
			seconds(start),
			seconds(e.Duration),
		}
		start += e.Duration
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Image", "Staged As", "Starts", "Shown For"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
	))

	total := req.Settings.TotalDuration(len(req.Frames))
	fmt.Fprintf(w, "Format:  %s %dx%d @ %d fps\n", upperCase.String(string(req.Settings.Format)), canvas.Width, canvas.Height, req.Settings.FrameRate)
	fmt.Fprintf(w, "Length:  %s\n", seconds(total))
	if req.Audio != nil {
		fmt.Fprintf(w, "Audio:   %s (trimmed to %s)\n", req.Audio.Name, seconds(total))
	}
	fmt.Fprintf(w, "Command: ffmpeg %s\n", strings.Join(compose.Plan(req.Settings, req.Audio != nil, total, canvas), " "))
	return nil
}

func seconds(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64) + "s"
}
