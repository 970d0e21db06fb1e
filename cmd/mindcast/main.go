package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/KeLuoJun/MindCast/internal/audio"
	"github.com/KeLuoJun/MindCast/internal/config"
	"github.com/KeLuoJun/MindCast/internal/engine"
	"github.com/KeLuoJun/MindCast/internal/knowledge"
	"github.com/KeLuoJun/MindCast/internal/llm"
	"github.com/KeLuoJun/MindCast/internal/news"
	"github.com/KeLuoJun/MindCast/internal/store"
	"github.com/KeLuoJun/MindCast/internal/tts"
)

var (
	version  = "dev"
	revision = "none"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.Command{
		Name:    "mindcast",
		Usage:   "AI multi-speaker podcast generator - from today's news to a finished episode",
		Version: fmt.Sprintf("%s (rev: %s)", version, revision),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "Enable verbose logging",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if c.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:    "generate",
				Usage:   "Generate a complete episode (script, article and audio)",
				Action:  handleGenerate,
				Aliases: []string{"g"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "topic",
						Aliases: []string{"t"},
						Usage:   "Explicit topic; skips news-driven topic selection",
					},
					&cli.StringSliceFlag{
						Name:  "guest",
						Usage: "Guest name from the persona pool (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "play",
						Usage: "Play the episode audio when generation finishes",
					},
				},
			},
			{
				Name:      "resynth",
				Usage:     "Re-synthesize audio from an existing episode script",
				Action:    handleResynth,
				ArgsUsage: "<episode.json>",
			},
			{
				Name:    "episodes",
				Usage:   "List generated episodes",
				Action:  handleEpisodes,
				Aliases: []string{"ls"},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func buildOrchestrator() (*engine.Orchestrator, *config.Settings, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.LLMAPIKey == "" {
		return nil, nil, fmt.Errorf("MINDCAST_LLM_API_KEY is required")
	}

	host, guests, err := cfg.LoadPersonas()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(cfg.OutputDir)
	if err != nil {
		return nil, nil, err
	}

	chat := llm.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	searcher := news.New(cfg.TavilyBaseURL, cfg.TavilyAPIKey, chat, nil)
	synth := tts.NewClient(cfg.MiniMaxTTSBaseURL, cfg.MiniMaxAPIKey, cfg.MiniMaxGroupID, cfg.MiniMaxTTSModel, cfg.MiniMaxAudioFormat, nil)
	stitcher := audio.NewProcessor(nil, cfg.MiniMaxAudioFormat)

	var kb knowledge.Base = knowledge.Noop{}
	if cfg.KnowledgeBaseURL != "" {
		kb = knowledge.NewClient(cfg.KnowledgeBaseURL, nil)
	}

	orch := engine.New(cfg, chat, searcher, synth, stitcher, kb, st, host, guests, nil)
	return orch, cfg, nil
}

func handleGenerate(ctx context.Context, c *cli.Command) error {
	orch, _, err := buildOrchestrator()
	if err != nil {
		return err
	}

	opts := engine.Options{
		Topic:      strings.TrimSpace(c.String("topic")),
		GuestNames: c.StringSlice("guest"),
		Progress: func(stage, message string) {
			log.Info().Str("stage", stage).Msg(message)
		},
	}

	ep, err := orch.GenerateEpisode(ctx, opts)
	if err != nil {
		return err
	}

	fmt.Printf("🎙  %s\n", ep.Title)
	fmt.Printf("    topic:    %s\n", ep.Topic)
	fmt.Printf("    guests:   %s\n", strings.Join(ep.Guests, ", "))
	fmt.Printf("    lines:    %d (%d chars)\n", len(ep.Dialogue), ep.WordCount)
	fmt.Printf("    audio:    %s (%.1fs)\n", ep.AudioPath, ep.DurationSeconds)
	fmt.Printf("    run log:  %s\n", ep.RunLogPath)

	if c.Bool("play") {
		if err := audio.NewPlayer().Play(ep.AudioPath); err != nil {
			return err
		}
	}
	return nil
}

func handleResynth(ctx context.Context, c *cli.Command) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("usage: mindcast resynth <episode.json>")
	}
	orch, _, err := buildOrchestrator()
	if err != nil {
		return err
	}
	ep, err := orch.SynthesizeFromScript(ctx, path)
	if err != nil {
		return err
	}
	fmt.Printf("re-synthesized %s -> %s (%.1fs)\n", ep.ID, ep.AudioPath, ep.DurationSeconds)
	return nil
}

func handleEpisodes(ctx context.Context, c *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := store.New(cfg.OutputDir)
	if err != nil {
		return err
	}
	eps, err := st.ListEpisodes()
	if err != nil {
		return err
	}
	if len(eps) == 0 {
		fmt.Println("no episodes yet - run 'mindcast generate'")
		return nil
	}
	for _, ep := range eps {
		fmt.Printf("%s  %s  %s  (%d lines, %.1fs)\n",
			ep.ID, ep.CreatedAt.Format("2006-01-02"), ep.Title, len(ep.Dialogue), ep.DurationSeconds)
	}
	return nil
}
