// Package webhook implements the HTTP entry points of spec.md §6: the
// provider webhook surface, the media-stream upgrade endpoint, and the
// ambient health/metrics surface, all behind one chi router.
package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shelterline/relay/internal/dialog"
	"github.com/shelterline/relay/internal/media"
	"github.com/shelterline/relay/internal/session"
	"github.com/shelterline/relay/internal/stats"
	"github.com/shelterline/relay/internal/upstream"
	"github.com/shelterline/relay/internal/xmlenvelope"
	"github.com/shelterline/relay/pkg/logging"
)

var tracer = otel.Tracer("relay.webhook")

const consentPrompt = "Would you like a text message summary of this call? Please say yes or no."

// Dialog is the narrow surface of *dialog.Engine the dispatcher needs.
// It is a superset of media.Dialog, so a *dialog.Engine value assigned
// here also satisfies the media worker's own Dialog interface.
type Dialog interface {
	Greet(sess *session.CallSession, now time.Time) dialog.Outcome
	HandleUtterance(ctx context.Context, sess *session.CallSession, utterance string, now time.Time) dialog.Outcome
	HandleConsent(ctx context.Context, sess *session.CallSession, utterance string, now time.Time) dialog.Outcome
	Complete(ctx context.Context, sess *session.CallSession, now time.Time)
}

// DispatcherConfig configures a Dispatcher. Logger, MediaSampleRate, and
// MediaLanguage fall back to sensible defaults when left zero.
type DispatcherConfig struct {
	Registry   *session.Registry
	Dialog     Dialog
	STT        upstream.STT
	TTS        upstream.TTS
	AudioStore media.AudioStore

	Limiter         RateLimiter
	RateLimitWindow time.Duration
	SigningSecret   string

	Stats  *stats.Stats
	Logger *logging.Logger

	MediaSampleRate int
	MediaLanguage   string
	MediaVoice      string
}

// Dispatcher mounts the webhook surface and media-stream upgrade of
// spec.md §6 onto a chi router. Each entry point validates its body,
// binds a per-endpoint deadline, invokes the dialog engine, and
// serializes the provider XML envelope — never a 5xx, per §4.10.
type Dispatcher struct {
	registry   *session.Registry
	dialog     Dialog
	stt        upstream.STT
	tts        upstream.TTS
	audioStore media.AudioStore

	limiter         RateLimiter
	rateLimitWindow time.Duration
	signingSecret   string

	stats  *stats.Stats
	logger *logging.Logger

	mediaSampleRate int
	mediaLanguage   string
	mediaVoice      string
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		registry:        cfg.Registry,
		dialog:          cfg.Dialog,
		stt:             cfg.STT,
		tts:             cfg.TTS,
		audioStore:      cfg.AudioStore,
		limiter:         cfg.Limiter,
		rateLimitWindow: cfg.RateLimitWindow,
		signingSecret:   cfg.SigningSecret,
		stats:           cfg.Stats,
		logger:          cfg.Logger,
		mediaSampleRate: cfg.MediaSampleRate,
		mediaLanguage:   cfg.MediaLanguage,
		mediaVoice:      cfg.MediaVoice,
	}
	if d.logger == nil {
		d.logger = logging.Default()
	}
	if d.mediaSampleRate <= 0 {
		d.mediaSampleRate = 8000
	}
	if d.mediaLanguage == "" {
		d.mediaLanguage = "en-US"
	}
	if d.rateLimitWindow <= 0 {
		d.rateLimitWindow = 15 * time.Minute
	}
	return d
}

// Routes builds the chi router covering every endpoint of spec.md §6.
func (d *Dispatcher) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if d.limiter != nil {
		r.Use(d.rateLimitMiddleware)
	}

	r.Post("/voice", d.withBudget("/voice", 6*time.Second, d.withSignature(d.withRecovery("/voice", d.handleVoice))))
	r.Post("/voice/process", d.withBudget("/voice/process", 12*time.Second, d.withSignature(d.withRecovery("/voice/process", d.handleVoiceProcess))))
	r.Post("/voice/interim", d.withBudget("/voice/interim", time.Second, d.withSignature(d.withRecovery("/voice/process", d.handleVoiceInterim))))
	r.Post("/status", d.withBudget("/status", 3*time.Second, d.withSignature(d.handleStatus)))
	r.Post("/recording", d.withBudget("/recording", 3*time.Second, d.withSignature(d.handleRecording)))
	r.Post("/sms", d.withBudget("/sms", 3*time.Second, d.withSignature(d.withRecovery("", d.handleSMS))))
	r.Post("/consent", d.withBudget("/consent", 6*time.Second, d.withSignature(d.withRecovery("/consent", d.handleConsent))))

	r.Get("/twilio-stream", d.handleStream)

	r.Get("/healthz", d.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (d *Dispatcher) handleVoice(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "webhook.voice")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		d.writeValidationFailure(w, "/voice/process", []string{"malformed body"})
		return
	}
	callID := strings.TrimSpace(r.PostFormValue("CallSid"))
	if callID == "" {
		d.writeValidationFailure(w, "/voice/process", []string{"CallSid is required"})
		return
	}
	span.SetAttributes(attribute.String("relay.call_id", callID))

	sess := d.registry.GetOrCreate(callID)
	if from := strings.TrimSpace(r.PostFormValue("From")); from != "" {
		sess.Lock()
		if sess.Caller == "" {
			sess.Caller = from
		}
		sess.Unlock()
	}

	outcome := d.dialog.Greet(sess, time.Now())
	d.writeGather(w, "/voice/process", outcome.Text)
}

func (d *Dispatcher) handleVoiceProcess(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "webhook.voice.process")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		d.writeValidationFailure(w, "/voice/process", []string{"malformed body"})
		return
	}
	callID := strings.TrimSpace(r.PostFormValue("CallSid"))
	if callID == "" {
		d.writeValidationFailure(w, "/voice/process", []string{"CallSid is required"})
		return
	}
	span.SetAttributes(attribute.String("relay.call_id", callID))

	sess := d.registry.GetOrCreate(callID)
	speech := r.PostFormValue("SpeechResult")
	outcome := d.dialog.HandleUtterance(ctx, sess, speech, time.Now())

	switch {
	case outcome.NextState == session.StateAwaitingConsent:
		writeXML(w, xmlenvelope.New().Say(outcome.Text, "", "").Redirect("/consent").String())
	case outcome.Hangup:
		writeXML(w, xmlenvelope.New().Say(outcome.Text, "", "").Hangup().String())
	default:
		d.writeGather(w, "/voice/process", outcome.Text)
	}
}

// handleVoiceInterim implements the recorded Open Question decision:
// partial speech results return the minimal empty envelope and never
// mutate session state.
func (d *Dispatcher) handleVoiceInterim(w http.ResponseWriter, r *http.Request) {
	writeXML(w, xmlenvelope.New().String())
}

var validCallStatuses = map[string]bool{
	"initiated": true, "ringing": true, "answered": true, "completed": true,
	"busy": true, "failed": true, "no-answer": true,
}

var terminalCallStatuses = map[string]bool{
	"completed": true, "busy": true, "failed": true, "no-answer": true,
}

func (d *Dispatcher) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	callID := strings.TrimSpace(r.PostFormValue("CallSid"))
	status := strings.TrimSpace(r.PostFormValue("CallStatus"))
	if callID == "" || !validCallStatuses[status] {
		http.Error(w, "missing or invalid fields", http.StatusBadRequest)
		return
	}
	d.logger.Info("webhook: call status", "call_id", callID, "status", status)

	if terminalCallStatuses[status] {
		if sess, ok := d.registry.Get(callID); ok {
			d.dialog.Complete(r.Context(), sess, time.Now())
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (d *Dispatcher) handleRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	callID := strings.TrimSpace(r.PostFormValue("CallSid"))
	recordingSid := strings.TrimSpace(r.PostFormValue("RecordingSid"))
	recordingURL := strings.TrimSpace(r.PostFormValue("RecordingUrl"))
	if callID == "" || recordingSid == "" || !strings.HasPrefix(recordingURL, "http") {
		http.Error(w, "missing or invalid fields", http.StatusBadRequest)
		return
	}
	d.logger.Info("webhook: recording available", "call_id", callID, "recording_sid", recordingSid, "recording_url", recordingURL)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSMS acknowledges an inbound SMS to the relay's own number. It is
// a separate channel from the call dialog: no CallSession is involved.
func (d *Dispatcher) handleSMS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeXML(w, xmlenvelope.New().String())
		return
	}
	from := strings.TrimSpace(r.PostFormValue("From"))
	body := strings.TrimSpace(r.PostFormValue("Body"))
	if from == "" || body == "" {
		writeXML(w, xmlenvelope.New().String())
		return
	}
	d.logger.Info("webhook: inbound sms received", "from", from)
	writeXML(w, xmlenvelope.New().String())
}

// handleConsent implements the two-phase gather-then-confirm flow a
// /voice/process redirect to "/consent" starts: the first hit (no
// SpeechResult yet) asks the question and gathers speech; the second
// hit (posted by that Gather) carries the answer and ends the call.
func (d *Dispatcher) handleConsent(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "webhook.consent")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		d.writeValidationFailure(w, "/consent", []string{"malformed body"})
		return
	}
	callID := strings.TrimSpace(r.PostFormValue("CallSid"))
	if callID == "" {
		d.writeValidationFailure(w, "/consent", []string{"CallSid is required"})
		return
	}
	span.SetAttributes(attribute.String("relay.call_id", callID))

	sess, ok := d.registry.Get(callID)
	if !ok {
		writeXML(w, xmlenvelope.New().Hangup().String())
		return
	}

	speech := strings.TrimSpace(r.PostFormValue("SpeechResult"))
	if speech == "" {
		d.writeGather(w, "/consent", consentPrompt)
		return
	}

	outcome := d.dialog.HandleConsent(ctx, sess, speech, time.Now())
	writeXML(w, xmlenvelope.New().Say(outcome.Text, "", "").Hangup().String())
}

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream upgrades to the media socket of spec.md §6, resolving
// the call's session from a call_id query parameter before handing off
// to a fresh media.Worker.
func (d *Dispatcher) handleStream(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.URL.Query().Get("call_id"))
	if callID == "" {
		http.Error(w, "missing call_id", http.StatusBadRequest)
		return
	}
	sess, ok := d.registry.Get(callID)
	if !ok {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}

	conn, err := mediaUpgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("webhook: media upgrade failed", "call_id", callID, "error", err)
		return
	}

	worker := media.NewWorker(conn, callID, sess, d.dialog, d.stt, d.tts, d.audioStore, media.Config{
		SampleRate: d.mediaSampleRate,
		Language:   d.mediaLanguage,
		Voice:      d.mediaVoice,
		Logger:     d.logger,
	})
	if err := worker.Run(r.Context()); err != nil {
		d.logger.Info("webhook: media worker stopped", "call_id", callID, "error", err)
	}
}

func (d *Dispatcher) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (d *Dispatcher) writeGather(w http.ResponseWriter, action, prompt string) {
	writeXML(w, xmlenvelope.New().Gather(action, prompt).String())
}

func (d *Dispatcher) writeValidationFailure(w http.ResponseWriter, regatherAction string, details []string) {
	d.logger.Warn("webhook: validation failed", "action", regatherAction, "details", details)
	writeXML(w, xmlenvelope.MinimalRegather(regatherAction))
}

func writeXML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// withBudget binds ctx to the endpoint's request budget (spec.md §6)
// and records webhook latency under the endpoint's path.
func (d *Dispatcher) withBudget(path string, budget time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), budget)
		defer cancel()
		next(w, r.WithContext(ctx))
		d.stats.ObserveWebhookLatency(path, time.Since(start).Seconds())
	}
}

// withSignature validates the provider's HMAC signature when a signing
// secret is configured; unconfigured deployments skip validation
// (mirrors the teacher's optional webhook-secret handling).
func (d *Dispatcher) withSignature(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.signingSecret == "" {
			next(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := verifySignature(d.signingSecret, r.Header.Get(signatureTimestampHeader), r.Header.Get(signatureHeader), body); err != nil {
			d.logger.Warn("webhook: invalid provider signature", "path", r.URL.Path, "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// withRecovery implements spec.md §4.10's panic-safety rule: on any
// panic, emit a re-gather XML envelope instead of letting the panic
// surface as a 5xx that would drop the call. action == "" falls back
// to the minimal empty envelope, for non-conversational endpoints.
func (d *Dispatcher) withRecovery(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("webhook: panic recovered", "path", r.URL.Path, "panic", rec)
				if action == "" {
					writeXML(w, xmlenvelope.New().String())
					return
				}
				writeXML(w, xmlenvelope.MinimalRegather(action))
			}
		}()
		next(w, r)
	}
}

func (d *Dispatcher) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if xri := r.Header.Get("X-Real-Ip"); xri != "" {
			ip = xri
		}
		allowed, err := d.limiter.Allow(r.Context(), ip)
		if err != nil {
			d.logger.Warn("webhook: rate limiter error, allowing request", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.rateLimitWindow.Seconds())))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
