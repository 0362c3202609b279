// Package stream re-encodes a provider's incremental response stream into the
// format the client asked for, one event at a time.
package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pysugar/nexus-gateway/internal/translator"
	"github.com/pysugar/nexus-gateway/internal/util"
)

var (
	// ErrStreamAborted is returned when the safety checker stops a runaway stream.
	ErrStreamAborted = errors.New("stream aborted")
	// ErrStreamIdle is returned when the upstream sent nothing for longer
	// than the idle timeout.
	ErrStreamIdle = errors.New("upstream stream idle")
)

// Result summarizes a finished stream.
type Result struct {
	Events       int
	TextBytes    int
	FinishReason string
	Usage        translator.Usage
	// Completed is true when the upstream reached its end marker (or, for
	// Gemini, the end of the body).
	Completed bool
}

// Reencoder converts one upstream SSE body from Source into Target.
type Reencoder struct {
	Source translator.Format
	Target translator.Format
	// Model is reported to the client until the upstream names its own.
	Model string
	// RequestID is used only for log lines.
	RequestID string
	Safety    *SafetyChecker
}

// Run copies body to w, translating every event. It returns when the upstream
// ends, the client goes away (ctx), the upstream stays silent past the idle
// timeout, or a write fails. body is always closed; on cancellation or idle
// it is closed immediately rather than drained.
func (r *Reencoder) Run(ctx context.Context, w io.Writer, body io.ReadCloser) (Result, error) {
	var res Result
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer func() {
		stop()
		body.Close()
	}()

	dec, err := NewDecoder(r.Source)
	if err != nil {
		return res, err
	}
	passthrough := r.Source == r.Target
	var enc Encoder
	if !passthrough {
		if enc, err = NewEncoder(r.Target, r.Model); err != nil {
			return res, err
		}
	}
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	safety := r.Safety
	if safety == nil {
		safety = NewSafetyChecker()
	}

	// A silent upstream blocks in Read; closing the body unblocks it.
	idle := safety.idleTimeout()
	var stalled atomic.Bool
	watchdog := time.AfterFunc(idle, func() {
		stalled.Store(true)
		body.Close()
	})
	defer watchdog.Stop()

	events := newEventReader(body)
	for {
		ev, readErr := events.Next()
		if readErr != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if stalled.Load() {
				log.Printf("⏱️ [%s] Upstream silent for %s after %d events", r.RequestID, idle, res.Events)
				return res, ErrStreamIdle
			}
			if readErr != io.EOF {
				return res, readErr
			}
			// Gemini ends with the body; other formats ended early.
			res.Completed = r.Source == translator.FormatGemini
			break
		}

		watchdog.Reset(idle)

		if abort, reason := safety.CheckChunk(ev.Data); abort {
			log.Printf("⚠️ [%s] Stream aborted: %s", r.RequestID, reason)
			return res, ErrStreamAborted
		}

		d, ok, decErr := dec.Decode(ev)
		if decErr != nil && decErr != io.EOF {
			if passthrough {
				// Forward the provider's own error event before stopping.
				_ = writeRaw(w, ev)
				flush()
			}
			return res, decErr
		}
		if ok {
			res.observe(d)
		}

		if passthrough {
			if err := writeRaw(w, ev); err != nil {
				return res, err
			}
			res.Events++
			flush()
		} else if ok {
			if err := enc.Encode(w, d); err != nil {
				return res, err
			}
			res.Events++
			flush()
		}

		if util.IsVerbose() && ok {
			log.Printf("📦 [VERBOSE] [%s] Stream delta %s->%s: text=%q finish=%q", r.RequestID, r.Source, r.Target, util.TruncateLog(d.Text, 200), d.FinishReason)
		}

		if decErr == io.EOF {
			res.Completed = true
			break
		}
	}

	if !passthrough {
		if err := enc.Close(w); err != nil {
			return res, err
		}
		flush()
	}
	return res, nil
}

func (res *Result) observe(d Delta) {
	res.TextBytes += len(d.Text)
	if d.FinishReason != "" {
		res.FinishReason = d.FinishReason
	}
	if d.Usage != nil {
		if d.Usage.InputTokens > 0 {
			res.Usage.InputTokens = d.Usage.InputTokens
		}
		if d.Usage.OutputTokens > 0 {
			res.Usage.OutputTokens = d.Usage.OutputTokens
		}
	}
}
