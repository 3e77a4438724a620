// Command racore-discord is the reference Voice Agent binary: it joins a
// Discord voice channel and drives the VAD → STT → LLM → TTS turn pipeline
// of spec §4.12 over that channel's audio, using the discordgo/gopus/
// coder-websocket transport stack for the voice connection itself.
//
// Unlike racore-server, this binary's job is entirely the Voice Agent
// Pipeline — it has no HTTP surface. Component frameworks are named by a
// YAML configuration file (see internal/config); the Discord bot token,
// guild ID, and DM role ID are operational secrets/identifiers supplied via
// flags and environment instead of the shared config schema.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bwmarrin/discordgo"

	"github.com/runanywhere/racore/internal/benchmark"
	"github.com/runanywhere/racore/internal/config"
	"github.com/runanywhere/racore/internal/discord"
	"github.com/runanywhere/racore/internal/observe"
	"github.com/runanywhere/racore/internal/rlog"
	"github.com/runanywhere/racore/internal/voiceagent"
	"github.com/runanywhere/racore/pkg/audio"
	"github.com/runanywhere/racore/pkg/provider/llm"
	"github.com/runanywhere/racore/pkg/provider/llm/anyllm"
	"github.com/runanywhere/racore/pkg/provider/llm/openai"
	"github.com/runanywhere/racore/pkg/provider/stt"
	"github.com/runanywhere/racore/pkg/provider/stt/deepgram"
	"github.com/runanywhere/racore/pkg/provider/stt/whisper"
	"github.com/runanywhere/racore/pkg/provider/tts"
	"github.com/runanywhere/racore/pkg/provider/tts/coqui"
	"github.com/runanywhere/racore/pkg/provider/tts/elevenlabs"
	"github.com/runanywhere/racore/pkg/provider/vad"
	vadmock "github.com/runanywhere/racore/pkg/provider/vad/mock"
	"github.com/runanywhere/racore/pkg/rachandle"
	"github.com/runanywhere/racore/pkg/racevent"
	"github.com/runanywhere/racore/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("racore-discord", flag.ContinueOnError)
	configPath := fs.String("config", "racore-discord.yaml", "path to the YAML configuration file")
	token := fs.String("token", "", "Discord bot token (overrides RACORE_DISCORD_TOKEN)")
	guildID := fs.String("guild", "", "Discord guild (server) ID to operate in")
	dmRoleID := fs.String("dm-role", "", "Discord role ID permitted to manage voice sessions")
	verbose := fs.Bool("verbose", false, "enable debug-level logging")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "racore-discord — Voice Agent Pipeline reference bot for Discord")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "racore-discord: load config: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Server.LogLevel = config.LogDebug
	}
	logger := rlog.SetDefault(cfg.Server.LogLevel)

	shutdownObserve, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "racore-discord"})
	if err != nil {
		logger.Error("failed to initialise observability provider", "err", err)
		return 1
	}
	defer func() { _ = shutdownObserve(context.Background()) }()
	metrics := observe.DefaultMetrics()

	botToken := *token
	if botToken == "" {
		botToken = os.Getenv("RACORE_DISCORD_TOKEN")
	}
	if botToken == "" {
		logger.Error("no Discord bot token: pass --token or set RACORE_DISCORD_TOKEN")
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinComponents(reg)

	llmProvider, sttProvider, ttsProvider, vadEngine, err := buildComponents(cfg, reg, logger)
	if err != nil {
		logger.Error("failed to build voice agent components", "err", err)
		return 2
	}

	// stats feeds every capability call's six lifecycle timestamps (spec
	// §4.7) into one process-wide benchmark collector; expose its
	// summaries through a diagnostics surface as the deployment grows one.
	stats := benchmark.NewStats()

	// events is the process-wide broadcaster every capability call publishes
	// to (spec §4.2); the metrics subscription below is what turns those
	// publications into the OTel instruments operators actually scrape.
	events := racevent.NewBus(nil)
	observe.SubscribeMetrics(events, metrics)

	handles := rachandle.NewRegistry()
	llmV := llm.NewVtable(handles, llm.WithObserver(stats.Observer()), llm.WithBus(events))
	sttV := stt.NewVtable(handles, stt.WithObserver(stats.Observer()), stt.WithBus(events))
	ttsV := tts.NewVtable(handles, tts.WithObserver(stats.Observer()), tts.WithBus(events))
	vadV := vad.NewVtable(handles, vad.WithObserver(stats.Observer()), vad.WithBus(events))

	var llmH, sttH, ttsH, vadH rachandle.Handle
	if llmProvider != nil {
		llmH = llmV.Create(llmProvider)
	}
	if sttProvider != nil {
		sttH = sttV.Create(sttProvider)
	}
	if ttsProvider != nil {
		ttsH = ttsV.Create(ttsProvider)
	}
	vadCfg := vad.Config{SampleRate: cfg.VoiceAgent.SampleRate, FrameSizeMs: cfg.VoiceAgent.FrameSizeMs}
	if vadEngine != nil {
		vadH, err = vadV.Create(vadEngine, vadCfg)
		if err != nil {
			logger.Error("failed to create vad session", "err", err)
			return 2
		}
	}

	vc := &voiceCommand{metrics: metrics, logger: logger}
	pipeline := voiceagent.New(
		voiceagent.Config{
			MinSilenceDurationMs: cfg.VoiceAgent.MinSilenceDurationMs,
			FrameSizeMs:          cfg.VoiceAgent.FrameSizeMs,
			Voice:                voiceProfile(cfg),
		},
		vadV, vadH, sttV, sttH, llmV, llmH, ttsV, ttsH,
		voiceagent.WithTranscriptCallback(func(t types.Transcript) {
			logger.Debug("turn transcribed", "text", t.Text)
		}),
		voiceagent.WithAudioCallback(vc.sendAudio),
	)
	vc.pipeline = pipeline

	if *guildID == "" {
		logger.Error("no Discord guild: pass --guild")
		return 1
	}

	bot, err := discord.New(context.Background(), discord.Config{
		Token:    botToken,
		GuildID:  *guildID,
		DMRoleID: *dmRoleID,
	})
	if err != nil {
		logger.Error("failed to connect discord bot", "err", err)
		return 2
	}

	vc.bot = bot
	vc.Register(bot.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("racore-discord ready", "guild", *guildID)
	runErr := bot.Run(ctx)
	vc.disconnectActive()
	if err := bot.Close(); err != nil {
		logger.Warn("error closing discord bot", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("bot run ended with error", "err", runErr)
		return 1
	}
	logger.Info("goodbye")
	return 0
}

// voiceProfile derives the [types.VoiceProfile] used for synthesis from the
// configured voice_agent.voice_id, leaving every other field at its
// provider-specific default.
func voiceProfile(cfg *config.Config) types.VoiceProfile {
	return types.VoiceProfile{ID: cfg.VoiceAgent.VoiceID}
}

// registerBuiltinComponents wires the component frameworks this binary ships
// support for into reg, following the factory-registration idiom of
// cmd/glyphoxa/main.go's provider wiring.
//
// No production Voice Activity Detection backend is part of this module's
// dependency set (spec §4.6's "silero" framework has no shipped Go binding),
// so "mock" is registered in its place; operators pointing voice_agent at a
// real deployment should register a real vad.Engine via
// [config.Registry.RegisterVAD] before calling buildComponents.
// Priorities give the provider registry's auto-selection path (spec §4.5,
// §8 scenario 6) something real to rank: on-device frameworks outrank
// cloud ones so an unconfigured ComponentConfig.Framework prefers running
// locally, falling back to a hosted API only if no local framework is
// registered.
const (
	priorityLocal = 100
	priorityCloud = 50
)

func registerBuiltinComponents(reg *config.Registry) {
	reg.RegisterLLMPriority("llamacpp", priorityLocal, nil, func(c config.ComponentConfig) (llm.Provider, error) {
		return anyllm.NewLlamaCpp(c.ModelPath)
	})
	reg.RegisterLLMPriority("ollama", priorityLocal, nil, func(c config.ComponentConfig) (llm.Provider, error) {
		return anyllm.NewOllama(c.ModelPath)
	})
	reg.RegisterLLMPriority("anthropic", priorityCloud, nil, func(c config.ComponentConfig) (llm.Provider, error) {
		return anyllm.NewAnthropic(c.ModelPath)
	})
	reg.RegisterLLMPriority("gemini", priorityCloud, nil, func(c config.ComponentConfig) (llm.Provider, error) {
		return anyllm.NewGemini(c.ModelPath)
	})
	reg.RegisterLLMPriority("openai", priorityCloud, nil, func(c config.ComponentConfig) (llm.Provider, error) {
		return openai.New(optString(c.Options, "api_key"), c.ModelPath)
	})

	reg.RegisterSTTPriority("whispercpp", priorityLocal, nil, func(c config.ComponentConfig) (stt.Provider, error) {
		return whisper.NewNative(c.ModelPath)
	})
	reg.RegisterSTTPriority("deepgram", priorityCloud, nil, func(c config.ComponentConfig) (stt.Provider, error) {
		return deepgram.New(optString(c.Options, "api_key"))
	})

	reg.RegisterTTSPriority("elevenlabs", priorityCloud, nil, func(c config.ComponentConfig) (tts.Provider, error) {
		return elevenlabs.New(optString(c.Options, "api_key"))
	})
	// "piper" names the local-server TTS framework in spec §4.6's framework
	// list; this module ships a coqui-server client rather than a
	// dedicated piper one, so it serves that slot.
	reg.RegisterTTSPriority("piper", priorityLocal, nil, func(c config.ComponentConfig) (tts.Provider, error) {
		return coqui.New(optString(c.Options, "server_url"))
	})

	reg.RegisterVAD("mock", func(config.ComponentConfig) (vad.Engine, error) {
		return &vadmock.Engine{}, nil
	})
}

// componentWanted reports whether cfg names enough to attempt creating a
// component: either an explicit framework, or a model path to auto-select
// a framework for via the provider registry's priority ranking (spec §4.5).
func componentWanted(cfg config.ComponentConfig) bool {
	return cfg.Framework != "" || cfg.ModelPath != ""
}

// buildComponents creates the four Voice Agent Pipeline stages named in
// cfg.Components, skipping any capability left fully unconfigured. A
// component naming a framework this binary has no factory for, or whose
// auto-selection finds no registered candidate, is a hard error, not a
// silent skip, since this binary exists solely to run the pipeline.
func buildComponents(cfg *config.Config, reg *config.Registry, logger *slog.Logger) (llm.Provider, stt.Provider, tts.Provider, vad.Engine, error) {
	var (
		llmProvider llm.Provider
		sttProvider stt.Provider
		ttsProvider tts.Provider
		vadEngine   vad.Engine
	)

	if componentWanted(cfg.Components.LLM) {
		p, err := reg.CreateLLM(cfg.Components.LLM)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("create llm component: %w", err)
		}
		llmProvider = p
		logger.Info("component loaded", "capability", "llm", "framework", cfg.Components.LLM.Framework)
	}
	if componentWanted(cfg.Components.STT) {
		p, err := reg.CreateSTT(cfg.Components.STT)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("create stt component: %w", err)
		}
		sttProvider = p
		logger.Info("component loaded", "capability", "stt", "framework", cfg.Components.STT.Framework)
	}
	if componentWanted(cfg.Components.TTS) {
		p, err := reg.CreateTTS(cfg.Components.TTS)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("create tts component: %w", err)
		}
		ttsProvider = p
		logger.Info("component loaded", "capability", "tts", "framework", cfg.Components.TTS.Framework)
	}
	if componentWanted(cfg.Components.VAD) {
		e, err := reg.CreateVAD(cfg.Components.VAD)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("create vad component: %w", err)
		}
		vadEngine = e
		logger.Info("component loaded", "capability", "vad", "framework", cfg.Components.VAD.Framework)
	}
	return llmProvider, sttProvider, ttsProvider, vadEngine, nil
}

// interactionUserID extracts the user ID from an interaction, handling both
// guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// optString reads a string option from a component's free-form Options map,
// returning "" when absent or of the wrong type.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// voiceCommand implements the /voice join and /voice leave slash commands
// that bridge a Discord voice channel to the turn pipeline.
type voiceCommand struct {
	bot      *discord.Bot
	pipeline *voiceagent.Pipeline
	metrics  *observe.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	conn   audio.Connection
	output chan<- audio.AudioFrame
	cancel context.CancelFunc
}

// sendAudio forwards one turn's synthesized PCM to the currently connected
// voice channel's mixed output stream, registered as the pipeline's
// [voiceagent.WithAudioCallback]. Frames arriving with no active connection
// (e.g. a turn that finishes just after /voice leave) are dropped.
func (vc *voiceCommand) sendAudio(pcm []byte) {
	vc.mu.Lock()
	out := vc.output
	vc.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- audio.AudioFrame{Data: pcm, SampleRate: 48000, Channels: 2}:
	default:
		vc.logger.Warn("dropped synthesized turn audio: output stream full")
	}
}

func (vc *voiceCommand) Register(router *discord.CommandRouter) {
	router.RegisterCommand("voice", &discordgo.ApplicationCommand{
		Name:        "voice",
		Description: "Control the voice agent",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "join", Description: "Join your current voice channel"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "leave", Description: "Leave the voice channel"},
		},
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Use `/voice join` or `/voice leave`.")
	})
	router.RegisterHandler("voice/join", vc.handleJoin)
	router.RegisterHandler("voice/leave", vc.handleLeave)
}

func (vc *voiceCommand) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID := vc.bot.GuildID()
	userID := interactionUserID(i)
	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		discord.RespondEphemeral(s, i, "You must be in a voice channel to summon the agent.")
		return
	}

	conn, err := vc.bot.Platform().Connect(context.Background(), vs.ChannelID)
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	vc.mu.Lock()
	vc.conn = conn
	vc.output = conn.OutputStream()
	vc.cancel = cancel
	vc.mu.Unlock()

	go vc.pumpInputs(turnCtx, conn)

	discord.RespondEphemeral(s, i, "Joined your voice channel.")
}

func (vc *voiceCommand) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	vc.disconnectActive()
	discord.RespondEphemeral(s, i, "Left the voice channel.")
}

func (vc *voiceCommand) disconnectActive() {
	vc.mu.Lock()
	conn, cancel := vc.conn, vc.cancel
	vc.conn, vc.cancel, vc.output = nil, nil, nil
	vc.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Disconnect()
	}
}

// pumpInputs feeds every participant's incoming audio frames through the
// pipeline. Frames are fanned in from however many InputStreams channels
// are currently open; a fresh [audio.EventJoin] means InputStreams must be
// re-polled, per its own documented contract.
func (vc *voiceCommand) pumpInputs(ctx context.Context, conn audio.Connection) {
	var mu sync.Mutex
	started := make(map[string]bool)
	startOnce := func(id string, ch <-chan audio.AudioFrame) {
		mu.Lock()
		already := started[id]
		started[id] = true
		mu.Unlock()
		if !already {
			go vc.pumpOneInput(ctx, ch)
		}
	}

	conn.OnParticipantChange(func(ev audio.Event) {
		if ev.Type != audio.EventJoin {
			return
		}
		if ch, ok := conn.InputStreams()[ev.UserID]; ok {
			startOnce(ev.UserID, ch)
		}
	})
	for id, ch := range conn.InputStreams() {
		startOnce(id, ch)
	}
	<-ctx.Done()
}

func (vc *voiceCommand) pumpOneInput(ctx context.Context, frames <-chan audio.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := vc.pipeline.ProcessFrame(ctx, frame.Data); err != nil {
				vc.logger.Warn("pipeline frame error", "err", err)
				vc.metrics.RecordComponentError(ctx, "voice_agent", "pipeline")
			}
		}
	}
}
