package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ah-its-andy/mediaconv/internal/config"
	"github.com/ah-its-andy/mediaconv/internal/format"
)

var (
	v          = config.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "mediaconv [dir]",
	Short: "Convert a media library in place to one target format",
	Long: `mediaconv walks a directory tree and converts every audio or video file to
the target format with ffmpeg, replacing the original. Files already converted
are recognised by their fingerprint, the encoder footer or a probe of their
streams, so repeated runs only touch what changed.

Examples:
  mediaconv /srv/media --format mp4
  mediaconv /srv/music --format mp3 --limit 20 --prescan
  mediaconv watch /srv/media --http`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runConvert,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Config file (default: mediaconv.yaml in . or the app dir)")
	pf.String("app-dir", v.GetString("app_dir"), "Directory for the fingerprint log, scratch files and history")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console or json")
	pf.StringP("format", "f", "mp4", "Target format: "+strings.Join(format.Supported(), ", "))
	pf.Int("limit", 0, "Stop after this many conversions (0 = no limit)")
	pf.Bool("prescan", false, "List all candidates before converting to report n/total")
	pf.Bool("check-footer", false, "Treat files with the encoder footer marker as converted")
	pf.Bool("check-probe", false, "Probe target-format files and skip those with the right codec")
	pf.Bool("mark-bad-completed", false, "Record files the prober cannot read so they are not retried")
	pf.Bool("stream-copy", false, "Remux without re-encoding")
	pf.String("ffmpeg", "ffmpeg", "ffmpeg executable")
	pf.String("ffprobe", "ffprobe", "ffprobe executable")
	pf.String("workdir", "", "Working directory for ffmpeg and ffprobe")
	pf.Int("port", 8000, "HTTP port of the status API")

	bind(pf, map[string]string{
		"app_dir":                  "app-dir",
		"log.level":                "log-level",
		"log.format":               "log-format",
		"format":                   "format",
		"limit":                    "limit",
		"prescan":                  "prescan",
		"check.footer":             "check-footer",
		"check.probe":              "check-probe",
		"check.mark_bad_completed": "mark-bad-completed",
		"convert.stream_copy":      "stream-copy",
		"engine.ffmpeg":            "ffmpeg",
		"engine.ffprobe":           "ffprobe",
		"engine.workdir":           "workdir",
		"http.port":                "port",
	})

	rootCmd.AddCommand(watchCmd, serveCmd, resetCmd, exportCmd)
}

func bind(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", flag, err))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if config.IsConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// loadConfig reads configuration; a positional dir argument overrides root.
func loadConfig(args []string) (*config.Config, error) {
	if len(args) > 0 {
		v.Set("root", args[0])
	}
	return config.Load(v, configFile)
}
