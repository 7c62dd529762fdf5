package speech

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/murmurlabs/murmur-core/internal/textproc"
	"github.com/murmurlabs/murmur-core/internal/tts"
)

// Notifier receives pipeline lifecycle callbacks.
type Notifier interface {
	SpeechStarted()
	SpeechFinished()
}

// Pipeline speaks a streamed reply sentence by sentence without waiting for
// the full text. Two stages, synthesize and play, are connected by a depth-1
// look-ahead: while sentence N plays, sentence N+1 synthesizes, so playback
// stays gapless when supply keeps up. A single consumer goroutine owns both
// stages; playback order always equals enqueue order.
type Pipeline struct {
	synth    tts.Synthesizer
	fallback tts.StreamingSpeaker
	player   tts.Player
	notify   Notifier
	voice    string
	logger   *slog.Logger

	parent context.Context
	wake   chan struct{}

	spoken    metric.Int64Counter
	fallbacks metric.Int64Counter

	mu       sync.Mutex
	queue    []string
	queued   int // sentences ever queued this turn; monotonically non-decreasing
	finished bool
	running  bool
	cancelFn context.CancelFunc
}

func NewPipeline(parent context.Context, synth tts.Synthesizer, fallback tts.StreamingSpeaker, player tts.Player, voice string, notify Notifier, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		synth:    synth,
		fallback: fallback,
		player:   player,
		notify:   notify,
		voice:    voice,
		logger:   logger.With(slog.String("component", "speech-pipeline")),
		parent:   parent,
		wake:     make(chan struct{}, 1),
	}
	meter := otel.Meter("github.com/murmurlabs/murmur-core/speech")
	var err error
	if p.spoken, err = meter.Int64Counter("murmur_sentences_spoken_total",
		metric.WithDescription("Sentences handed to playback")); err != nil {
		p.logger.Warn("failed to initialize metrics", slogError(err))
	}
	p.fallbacks, _ = meter.Int64Counter("murmur_synth_fallbacks_total",
		metric.WithDescription("Sentences spoken via the fallback engine"))
	return p
}

// FeedDelta re-derives the sentence segmentation of the filtered text so far
// and appends any sentence beyond what was already queued. The trailing
// remainder is never queued: the stream may still extend it.
func (p *Pipeline) FeedDelta(text string) {
	seg := textproc.Segment(text)
	p.append(seg.Complete, false)
}

// FeedFinal runs the same segmentation but treats the trailing segment as
// complete, appends the remainder, and marks the queue finished.
func (p *Pipeline) FeedFinal(text string) {
	seg := textproc.Segment(text)
	sentences := seg.Complete
	if seg.Remainder != "" {
		sentences = append(sentences, seg.Remainder)
	}
	p.append(sentences, true)
}

func (p *Pipeline) append(sentences []string, final bool) {
	p.mu.Lock()
	for i := p.queued; i < len(sentences); i++ {
		p.queue = append(p.queue, sentences[i])
	}
	if len(sentences) > p.queued {
		p.queued = len(sentences)
	}
	if final {
		p.finished = true
	}
	start := (len(p.queue) > 0 || final) && !p.running
	if start {
		p.running = true
		ctx, cancel := context.WithCancel(p.parent)
		p.cancelFn = cancel
		go p.run(ctx, cancel)
	}
	p.mu.Unlock()
	p.signal()
}

// Cancel stops the consumer, clears the queue, and resets the turn state.
// Idempotent and always safe to call.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	cancel := p.cancelFn
	p.cancelFn = nil
	p.running = false
	p.queue = nil
	p.queued = 0
	p.finished = false
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

type synthesized struct {
	text string
	pcm  []byte
}

func (p *Pipeline) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	var ahead *synthesized
	started := false

	for {
		var current synthesized
		if ahead != nil {
			current = *ahead
			ahead = nil
		} else {
			text, ok := p.next(ctx)
			if !ok {
				if ctx.Err() != nil {
					return
				}
				p.mu.Lock()
				if ctx.Err() != nil || p.cancelFn == nil {
					p.mu.Unlock()
					return
				}
				if len(p.queue) > 0 || !p.finished {
					// A feed slipped in between the drain and this reset;
					// keep consuming instead of wiping it.
					p.mu.Unlock()
					continue
				}
				// Normal drain: reset for the next turn.
				p.cancelFn = nil
				p.running = false
				p.queue = nil
				p.queued = 0
				p.finished = false
				p.mu.Unlock()
				if started {
					p.notify.SpeechFinished()
				}
				return
			}
			pcm, err := p.synth.Synthesize(ctx, tts.SynthRequest{Text: text, Voice: p.voice})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn("local synthesis failed, using fallback", slogError(err))
				started = p.speakFallback(ctx, text, started)
				continue
			}
			current = synthesized{text: text, pcm: pcm}
		}

		if !started {
			started = true
			p.notify.SpeechStarted()
		}

		// Look-ahead: synthesize the next sentence while this one plays.
		if nextText, ok := p.tryNext(); ok {
			done := make(chan synthesized, 1)
			fail := make(chan error, 1)
			go func() {
				pcm, err := p.synth.Synthesize(ctx, tts.SynthRequest{Text: nextText, Voice: p.voice})
				if err != nil {
					fail <- err
					return
				}
				done <- synthesized{text: nextText, pcm: pcm}
			}()

			p.countSpoken(ctx)
			if err := p.player.Play(ctx, current.pcm); err != nil && ctx.Err() == nil {
				p.logger.Warn("playback failed", slogError(err))
			}
			select {
			case s := <-done:
				ahead = &s
			case err := <-fail:
				if ctx.Err() == nil {
					p.logger.Warn("look-ahead synthesis failed, requeueing", slogError(err))
				}
				p.requeueFront(nextText)
			case <-ctx.Done():
			}
		} else {
			p.countSpoken(ctx)
			if err := p.player.Play(ctx, current.pcm); err != nil && ctx.Err() == nil {
				p.logger.Warn("playback failed", slogError(err))
			}
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// next blocks until a sentence is available, the queue is finished and
// drained, or ctx is cancelled.
func (p *Pipeline) next(ctx context.Context) (string, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			text := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return text, true
		}
		finished := p.finished
		p.mu.Unlock()
		if finished {
			return "", false
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-p.wake:
		}
	}
}

// tryNext dequeues without waiting.
func (p *Pipeline) tryNext() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return "", false
	}
	text := p.queue[0]
	p.queue = p.queue[1:]
	return text, true
}

// requeueFront returns a sentence whose look-ahead synthesis failed to the
// head of the queue so it is not lost and order is preserved.
func (p *Pipeline) requeueFront(text string) {
	p.mu.Lock()
	p.queue = append([]string{text}, p.queue...)
	p.mu.Unlock()
	p.signal()
}

func (p *Pipeline) speakFallback(ctx context.Context, text string, started bool) bool {
	if p.fallback == nil {
		p.logger.Warn("no fallback engine, dropping sentence")
		return started
	}
	if !started {
		p.notify.SpeechStarted()
		started = true
	}
	if p.fallbacks != nil {
		p.fallbacks.Add(ctx, 1)
	}
	p.countSpoken(ctx)
	if err := p.fallback.Speak(ctx, text); err != nil && ctx.Err() == nil {
		// Both engines failed for this sentence; drop it and move on.
		p.logger.Warn("fallback synthesis failed, dropping sentence", slogError(err))
	}
	return started
}

func (p *Pipeline) countSpoken(ctx context.Context) {
	if p.spoken != nil {
		p.spoken.Add(ctx, 1)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
