// Command edge-tts synthesizes speech through the Edge read-aloud service
// and optionally writes WebVTT subtitles alongside the audio.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/voskit/edge-tts/pkg/edgetts"
)

// envDefaults are picked up from the environment and act as flag defaults,
// so a preferred voice does not have to be repeated on every invocation.
type envDefaults struct {
	Voice  string `env:"EDGE_TTS_VOICE" envDefault:"en-US-AriaNeural"`
	Rate   string `env:"EDGE_TTS_RATE" envDefault:"+0%"`
	Volume string `env:"EDGE_TTS_VOLUME" envDefault:"+0%"`
	Pitch  string `env:"EDGE_TTS_PITCH" envDefault:"+0Hz"`
	Proxy  string `env:"EDGE_TTS_PROXY"`
}

var (
	text           string
	file           string
	voice          string
	rate           string
	volume         string
	pitch          string
	proxy          string
	writeMedia     string
	writeSubtitles string
	wordsInCue     int
	verbose        bool

	rootCmd = &cobra.Command{
		Use:           "edge-tts",
		Short:         "Speak text through the Edge read-aloud service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
		RunE: runSynthesize,
	}

	listVoicesCmd = &cobra.Command{
		Use:   "list-voices",
		Short: "List available voices, optionally filtered by attribute",
		RunE:  runListVoices,
	}

	voiceFilter edgetts.VoiceQuery
)

func init() {
	defaults := envDefaults{}
	if err := env.Parse(&defaults); err != nil {
		logrus.Fatalf("parse environment: %v", err)
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&text, "text", "t", "", "text to synthesize")
	flags.StringVarP(&file, "file", "f", "", "file to synthesize ('-' for stdin)")
	flags.StringVarP(&voice, "voice", "v", defaults.Voice, "voice to use")
	flags.StringVar(&rate, "rate", defaults.Rate, "speaking rate, e.g. -10%")
	flags.StringVar(&volume, "volume", defaults.Volume, "speaking volume, e.g. +20%")
	flags.StringVar(&pitch, "pitch", defaults.Pitch, "voice pitch, e.g. -50Hz")
	flags.StringVar(&writeMedia, "write-media", "", "write audio to this file instead of stdout")
	flags.StringVar(&writeSubtitles, "write-subtitles", "", "write WebVTT subtitles to this file")
	flags.IntVar(&wordsInCue, "words-in-cue", 10, "number of words per subtitle cue")

	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&proxy, "proxy", defaults.Proxy, "HTTP proxy URL")
	pflags.BoolVar(&verbose, "verbose", false, "enable debug logging")

	lv := listVoicesCmd.Flags()
	lv.StringVar(&voiceFilter.Gender, "gender", "", "filter by gender, e.g. Female")
	lv.StringVar(&voiceFilter.Language, "language", "", "filter by language, e.g. es")
	lv.StringVar(&voiceFilter.Locale, "locale", "", "filter by locale, e.g. es-AR")

	rootCmd.AddCommand(listVoicesCmd)
}

func readInput() (string, error) {
	switch {
	case text != "" && file != "":
		return "", errors.New("--text and --file are mutually exclusive")
	case text != "":
		return text, nil
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", errors.New("one of --text or --file is required")
	}
}

func runSynthesize(cmd *cobra.Command, _ []string) error {
	input, err := readInput()
	if err != nil {
		return err
	}

	opts := []edgetts.Option{
		edgetts.WithVoice(voice),
		edgetts.WithRate(rate),
		edgetts.WithVolume(volume),
		edgetts.WithPitch(pitch),
	}
	if proxy != "" {
		opts = append(opts, edgetts.WithProxy(proxy))
	}
	communicate, err := edgetts.NewCommunicate(input, opts...)
	if err != nil {
		return err
	}

	var media io.Writer = os.Stdout
	if writeMedia != "" {
		f, err := os.Create(writeMedia)
		if err != nil {
			return err
		}
		defer f.Close()
		media = f
	}

	submaker := edgetts.NewSubMaker()
	err = communicate.Stream(cmd.Context(), func(r edgetts.Result) error {
		switch r := r.(type) {
		case edgetts.AudioResult:
			if _, err := media.Write(r.Data); err != nil {
				return err
			}
		case edgetts.BoundaryResult:
			submaker.FeedBoundary(r)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if writeSubtitles != "" {
		subs, err := submaker.GenerateSubs(wordsInCue)
		if err != nil {
			return err
		}
		if err := os.WriteFile(writeSubtitles, []byte(subs), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func runListVoices(cmd *cobra.Command, _ []string) error {
	manager, err := edgetts.CreateVoicesManager(cmd.Context(), proxy)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ShortName\tGender\tLocale")
	for _, v := range manager.Find(voiceFilter) {
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.ShortName, v.Gender, v.Locale)
	}
	return w.Flush()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}
