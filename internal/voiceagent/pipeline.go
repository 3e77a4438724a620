// Package voiceagent implements the Voice Agent Pipeline of spec §4.12: a
// VAD → STT → LLM → TTS turn orchestrator driven by a stream of incoming
// audio frames.
//
// Each stage is addressed through its capability vtable and an opaque
// handle, exactly as every other consumer of those vtables (§4.6) — the
// pipeline holds no provider state of its own, only the accumulated speech
// buffer and turn bookkeeping.
package voiceagent

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/runanywhere/racore/pkg/provider/llm"
	"github.com/runanywhere/racore/pkg/provider/stt"
	"github.com/runanywhere/racore/pkg/provider/tts"
	"github.com/runanywhere/racore/pkg/provider/vad"
	"github.com/runanywhere/racore/pkg/rachandle"
	"github.com/runanywhere/racore/pkg/types"
)

// State is the pipeline's turn state machine, per spec §4.12.
type State int32

const (
	StateListening State = iota
	StateTranscribing
	StateGenerating
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

const defaultMinSilenceDurationMs = 500

// Config controls a [Pipeline]'s turn-detection and per-stage call
// parameters.
type Config struct {
	// MinSilenceDurationMs is how long a VAD speech→silence transition must
	// persist before a turn is triggered (spec default: 500).
	MinSilenceDurationMs int
	// FrameSizeMs must match the VAD session's configured frame duration —
	// it is how silence duration is measured (frame count × FrameSizeMs).
	FrameSizeMs int

	Voice             types.VoiceProfile
	GenerateOptions   llm.GenerateOptions
	TranscribeOptions stt.TranscribeOptions
}

func (c Config) withDefaults() Config {
	if c.MinSilenceDurationMs <= 0 {
		c.MinSilenceDurationMs = defaultMinSilenceDurationMs
	}
	if c.FrameSizeMs <= 0 {
		c.FrameSizeMs = 20
	}
	return c
}

// Option configures optional turn callbacks on a [Pipeline].
type Option func(*Pipeline)

// WithAudioCallback registers the callback invoked with each turn's
// synthesized audio.
func WithAudioCallback(f func([]byte)) Option { return func(p *Pipeline) { p.onAudio = f } }

// WithTranscriptCallback registers the callback invoked with each turn's STT
// result.
func WithTranscriptCallback(f func(types.Transcript)) Option {
	return func(p *Pipeline) { p.onTranscript = f }
}

// WithTokenCallback registers the callback invoked with each LLM token as it
// streams in, before TTS begins.
func WithTokenCallback(f func(string)) Option { return func(p *Pipeline) { p.onToken = f } }

// Pipeline orchestrates VAD → STT → LLM → TTS over a stream of audio frames
// delivered via [Pipeline.ProcessFrame] (spec §4.12).
//
// Pipeline is safe for concurrent use: ProcessFrame is expected to be called
// from a single audio-capture goroutine, while Cancel and Readiness may be
// called from any goroutine at any time.
type Pipeline struct {
	cfg Config

	vadV *vad.Vtable
	sttV *stt.Vtable
	llmV *llm.Vtable
	ttsV *tts.Vtable

	handleMu sync.RWMutex
	vadH     rachandle.Handle
	sttH     rachandle.Handle
	llmH     rachandle.Handle
	ttsH     rachandle.Handle

	state atomic.Int32

	mu            sync.Mutex
	speechBuf     []byte
	silenceFrames int
	inSpeech      bool

	turnMu     sync.Mutex
	turnCancel context.CancelFunc

	onAudio      func([]byte)
	onTranscript func(types.Transcript)
	onToken      func(string)
}

// New constructs a [Pipeline]. Any handle may be the zero [rachandle.Handle]
// if that stage's component has not been loaded yet — lazy initialization
// is supported via the Set* methods, and [Pipeline.Readiness] reports which
// stages are currently live (spec §4.12: "components may be loaded
// individually").
func New(cfg Config, vadV *vad.Vtable, vadH rachandle.Handle, sttV *stt.Vtable, sttH rachandle.Handle, llmV *llm.Vtable, llmH rachandle.Handle, ttsV *tts.Vtable, ttsH rachandle.Handle, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:  cfg.withDefaults(),
		vadV: vadV, vadH: vadH,
		sttV: sttV, sttH: sttH,
		llmV: llmV, llmH: llmH,
		ttsV: ttsV, ttsH: ttsH,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetVAD, SetSTT, SetLLM, and SetTTS rebind a stage to a newly loaded
// component's handle, supporting lazy per-component initialization.
func (p *Pipeline) SetVAD(h rachandle.Handle) { p.handleMu.Lock(); p.vadH = h; p.handleMu.Unlock() }
func (p *Pipeline) SetSTT(h rachandle.Handle) { p.handleMu.Lock(); p.sttH = h; p.handleMu.Unlock() }
func (p *Pipeline) SetLLM(h rachandle.Handle) { p.handleMu.Lock(); p.llmH = h; p.handleMu.Unlock() }
func (p *Pipeline) SetTTS(h rachandle.Handle) { p.handleMu.Lock(); p.ttsH = h; p.handleMu.Unlock() }

func (p *Pipeline) handles() (vadH, sttH, llmH, ttsH rachandle.Handle) {
	p.handleMu.RLock()
	defer p.handleMu.RUnlock()
	return p.vadH, p.sttH, p.llmH, p.ttsH
}

// State reports the pipeline's current turn state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setState(s State) { p.state.Store(int32(s)) }

// Readiness reports whether each stage currently holds a live component
// handle.
type Readiness struct {
	VAD bool
	STT bool
	LLM bool
	TTS bool
}

// Readiness reports per-component liveness, per spec §4.12's lazy
// initialization requirement.
func (p *Pipeline) Readiness() Readiness {
	vadH, sttH, llmH, ttsH := p.handles()
	return Readiness{
		VAD: p.vadV.IsReady(vadH),
		STT: p.sttV.IsReady(sttH),
		LLM: p.llmV.IsReady(llmH),
		TTS: p.ttsV.IsReady(ttsH),
	}
}

// Cancel aborts the in-flight turn, if any, and returns the pipeline to
// StateListening. Safe to call from any goroutine; idempotent (spec §5
// cancel semantics).
func (p *Pipeline) Cancel() {
	_, _, llmH, _ := p.handles()
	_ = p.llmV.Cancel(llmH)

	p.turnMu.Lock()
	cancel := p.turnCancel
	p.turnMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Pipeline) resetTurn() {
	p.mu.Lock()
	p.speechBuf = nil
	p.silenceFrames = 0
	p.inSpeech = false
	p.mu.Unlock()
	p.setState(StateListening)
}

// ProcessFrame feeds one audio frame through VAD. While the pipeline is
// accumulating speech, a speech→silence transition held for at least
// MinSilenceDurationMs triggers a full turn (transcribe → generate →
// speak), after which the pipeline returns to StateListening.
//
// Only valid while State is StateListening; frames delivered mid-turn are
// ignored, since a single mutual-exclusion state machine drives one turn at
// a time (spec §5's per-component concurrency model).
func (p *Pipeline) ProcessFrame(ctx context.Context, frame []byte) error {
	if p.State() != StateListening {
		return nil
	}

	vadH, _, _, _ := p.handles()
	isSpeech, _, err := p.vadV.Process(vadH, frame)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if isSpeech {
		p.speechBuf = append(p.speechBuf, frame...)
		p.silenceFrames = 0
		p.inSpeech = true
	} else if p.inSpeech {
		p.silenceFrames++
	}
	silenceMs := p.silenceFrames * p.cfg.FrameSizeMs
	shouldTurn := p.inSpeech && silenceMs >= p.cfg.MinSilenceDurationMs
	buf := p.speechBuf
	p.mu.Unlock()

	if !shouldTurn {
		return nil
	}
	return p.runTurn(ctx, buf)
}

// runTurn executes transcribing → generating → speaking for one accumulated
// speech buffer. A [Pipeline.Cancel] call at any point during the turn
// cancels turnCtx, which each stage observes via its own ctx-aware call or
// (for LLM) the cooperative cancel flag; the turn then ends quietly rather
// than returning an error.
func (p *Pipeline) runTurn(ctx context.Context, speech []byte) error {
	turnCtx, cancel := context.WithCancel(ctx)
	p.turnMu.Lock()
	p.turnCancel = cancel
	p.turnMu.Unlock()
	defer func() {
		cancel()
		p.turnMu.Lock()
		p.turnCancel = nil
		p.turnMu.Unlock()
		p.resetTurn()
	}()

	_, sttH, llmH, ttsH := p.handles()

	p.setState(StateTranscribing)
	transcript, err := p.sttV.Transcribe(turnCtx, sttH, speech, p.cfg.TranscribeOptions)
	if err != nil {
		if turnCtx.Err() != nil {
			return nil
		}
		return err
	}
	if p.onTranscript != nil {
		p.onTranscript(transcript)
	}

	p.setState(StateGenerating)
	reply, err := p.generate(turnCtx, llmH, transcript.Text)
	if err != nil {
		if turnCtx.Err() != nil {
			return nil
		}
		return err
	}

	p.setState(StateSpeaking)
	audio, err := p.ttsV.Synthesize(turnCtx, ttsH, reply, p.cfg.Voice)
	if err != nil {
		if turnCtx.Err() != nil {
			return nil
		}
		return err
	}
	if p.onAudio != nil {
		p.onAudio(audio)
	}
	return nil
}

func (p *Pipeline) generate(ctx context.Context, llmH rachandle.Handle, prompt string) (string, error) {
	done := make(chan struct{})
	var reply string
	var genErr error
	p.llmV.GenerateStream(ctx, llmH, prompt, p.cfg.GenerateOptions,
		func(tok string) {
			if p.onToken != nil {
				p.onToken(tok)
			}
		},
		func(result llm.GenerateResult) {
			reply = result.Content
			close(done)
		},
		func(err error) {
			genErr = err
			close(done)
		},
	)
	<-done
	return reply, genErr
}
