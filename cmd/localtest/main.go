package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wapuda/mkvpress/internal/logx"
	"github.com/wapuda/mkvpress/internal/pipeline"
	"github.com/wapuda/mkvpress/internal/proc"
)

var rootCmd = &cobra.Command{
	Use:   "localtest <input.mkv>",
	Short: "inspect and compress a local MKV file the way the worker does",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func main() {
	rootCmd.Flags().IntP("quality", "q", pipeline.DefaultTranscodeQuality, "CRF passed to the HEVC encoder")
	rootCmd.Flags().Duration("timeout", time.Hour, "per-tool time limit")
	rootCmd.Flags().StringP("out", "o", "./out", "directory for the compressed file")
	rootCmd.Flags().String("ffmpeg", "ffmpeg", "ffmpeg binary")
	rootCmd.Flags().String("ffprobe", "ffprobe", "ffprobe binary")
	rootCmd.Flags().Bool("inspect-only", false, "stop after inspection")

	logx.Setup(logx.FromEnv("localtest"))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	quality, _ := flags.GetInt("quality")
	timeout, _ := flags.GetDuration("timeout")
	outDir, _ := flags.GetString("out")
	ffmpeg, _ := flags.GetString("ffmpeg")
	ffprobe, _ := flags.GetString("ffprobe")
	inspectOnly, _ := flags.GetBool("inspect-only")

	in, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	info, err := os.Stat(in)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", in)
	}

	ctx := cmd.Context()
	runner := proc.Exec{Logger: &log.Logger}

	v := pipeline.NewProbeInspector(runner, ffprobe, timeout).Inspect(ctx, in)
	fmt.Printf("inspect: passed=%v kind=%s %s\n", v.Passed, v.Kind, v.Message)
	if !v.Passed {
		if v.Detail != "" {
			fmt.Println(v.Detail)
		}
		return errors.New(v.Message)
	}
	if inspectOnly {
		return nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	ext := filepath.Ext(in)
	dst, err := filepath.Abs(filepath.Join(outDir, strings.TrimSuffix(filepath.Base(in), ext)+".hevc"+ext))
	if err != nil {
		return err
	}
	if dst == in {
		return fmt.Errorf("output %s would overwrite the input", dst)
	}

	// The transcoder deletes its output on failure, so it works in a scratch dir.
	work, err := os.MkdirTemp(outDir, ".localtest-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	src := &pipeline.TransientAsset{Path: in, Size: info.Size(), Stage: pipeline.StageFetch}
	start := time.Now()
	out, err := pipeline.NewFFmpegTranscoder(runner, ffmpeg, quality, timeout).Transcode(ctx, src, work)
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) && se.Detail != "" {
			fmt.Println(se.Detail)
		}
		return err
	}
	if err := os.Rename(out.Path, dst); err != nil {
		return err
	}
	fmt.Printf("Generated: %s (%s → %s in %s)\n", dst,
		humanize.IBytes(uint64(src.Size)), humanize.IBytes(uint64(out.Size)), time.Since(start).Round(time.Second))
	return nil
}
