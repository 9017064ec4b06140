// Package media implements the per-call media-stream worker of spec.md
// §4.9: demux start/media/mark/stop frames over a websocket, accumulate
// inbound audio, and drive a turn through the dialog engine on stop.
package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shelterline/relay/internal/dialog"
	"github.com/shelterline/relay/internal/session"
	"github.com/shelterline/relay/internal/upstream"
	"github.com/shelterline/relay/pkg/logging"
)

const (
	trackInbound  = "inbound_track"
	trackOutbound = "outbound_track"

	// frameLogSampleRate logs one media frame out of every N (spec.md §4.9).
	frameLogSampleRate = 100

	// turnBudget bounds one stop-to-speak turn (spec.md §5: "media: 15 s
	// per turn"), mirroring the webhook dispatcher's per-endpoint budgets.
	turnBudget = 15 * time.Second
)

// frameEnvelope is the wire shape of one websocket text frame.
type frameEnvelope struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Payload   string `json:"payload"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type markPayload struct {
	Name string `json:"name"`
}

// speakMessage instructs the provider to play back a generated clip, or,
// when AudioURL is empty, to speak Text inline (the <Say> fallback of
// spec.md §3 for when TTS/S3 are not configured or storing the clip fails).
type speakMessage struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
	AudioURL  string `json:"audioUrl,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Dialog is the narrow surface of *dialog.Engine the worker needs.
type Dialog interface {
	HandleUtterance(ctx context.Context, sess *session.CallSession, utterance string, now time.Time) dialog.Outcome
}

// AudioStore persists a generated clip and returns a URL the provider
// can fetch it from.
type AudioStore interface {
	Put(ctx context.Context, callID string, audio []byte, mime string) (url string, err error)
	Enabled() bool
}

// Conn is the narrow surface of *websocket.Conn the worker needs,
// satisfied by the real connection and by test fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Config configures a Worker beyond its required collaborators.
type Config struct {
	SampleRate int
	Language   string
	Voice      string
	Logger     *logging.Logger
}

// Worker demuxes one call's media socket, per spec.md §4.9.
type Worker struct {
	conn   Conn
	callID string
	sess   *session.CallSession
	dialog Dialog
	stt    upstream.STT
	tts    upstream.TTS
	store  AudioStore
	logger *logging.Logger

	sampleRate int
	language   string
	voice      string

	bufMu     sync.Mutex
	buf       []byte
	streamSID string

	writeMu sync.Mutex

	frameCount uint64

	wg sync.WaitGroup
}

// NewWorker constructs a Worker for one call's media socket. sess must
// already exist in the registry; the caller resolves it from the
// websocket upgrade request (e.g. a call_id query parameter) before
// calling NewWorker.
func NewWorker(conn Conn, callID string, sess *session.CallSession, dlg Dialog, stt upstream.STT, tts upstream.TTS, store AudioStore, cfg Config) *Worker {
	w := &Worker{
		conn: conn, callID: callID, sess: sess, dialog: dlg, stt: stt, tts: tts, store: store,
		sampleRate: cfg.SampleRate, language: cfg.Language, voice: cfg.Voice, logger: cfg.Logger,
	}
	if w.sampleRate <= 0 {
		w.sampleRate = 8000
	}
	if w.language == "" {
		w.language = "en-US"
	}
	if w.logger == nil {
		w.logger = logging.Default()
	}
	return w
}

// Run reads frames until the socket closes, dispatching each to its
// handler. A call may carry several
// start/media/stop cycles, one per caller utterance; Run keeps reading
// across all of them. It blocks until the socket closes, at which
// point any transcription/TTS still in flight is cancelled and the
// buffer is disposed of.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	// Deferred calls run last-first: cancel in-flight work, wait for it,
	// then dispose of the buffer.
	defer w.disposeBuffer()
	defer w.wg.Wait()
	defer cancel()

	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				w.logger.Warn("media: websocket read error", "call_id", w.callID, "error", err)
			}
			return err
		}
		if msgType == websocket.BinaryMessage {
			w.logger.Warn("media: rejecting binary frame", "call_id", w.callID)
			continue
		}

		var env frameEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			w.logger.Warn("media: malformed frame", "call_id", w.callID, "error", err)
			continue
		}

		switch env.Event {
		case "start":
			w.handleStart(env)
		case "media":
			w.handleMedia(env)
		case "mark":
			w.handleMark(env)
		case "stop":
			w.handleStop(ctx)
		default:
			w.logger.Warn("media: unknown frame event", "call_id", w.callID, "event", env.Event)
		}
	}
}

func (w *Worker) handleStart(env frameEnvelope) {
	w.bufMu.Lock()
	w.streamSID = env.StreamSID
	w.buf = nil
	w.bufMu.Unlock()
	w.logger.Info("media: stream started", "call_id", w.callID, "stream_sid", env.StreamSID)
}

func (w *Worker) handleMedia(env frameEnvelope) {
	if env.Media == nil || env.Media.Track != trackInbound {
		return
	}

	count := atomic.AddUint64(&w.frameCount, 1)
	if count%frameLogSampleRate == 0 {
		w.logger.Debug("media: inbound frame", "call_id", w.callID, "frame_count", count)
	}

	payload := env.Media.Payload
	if payload == "" {
		payload = env.Media.Chunk
	}
	if payload == "" {
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		w.logger.Warn("media: failed to decode inbound payload", "call_id", w.callID, "error", err)
		return
	}

	w.bufMu.Lock()
	w.buf = append(w.buf, chunk...)
	w.bufMu.Unlock()
}

func (w *Worker) handleMark(env frameEnvelope) {
	if env.Mark == nil {
		return
	}
	w.logger.Debug("media: mark received", "call_id", w.callID, "name", env.Mark.Name)
}

func (w *Worker) handleStop(ctx context.Context) {
	w.bufMu.Lock()
	audio := w.buf
	w.buf = nil
	w.bufMu.Unlock()

	w.logger.Info("media: stream stopped", "call_id", w.callID, "buffered_bytes", len(audio))
	if len(audio) == 0 {
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.transcribeAndRespond(ctx, audio)
	}()
}

// transcribeAndRespond implements the "transcribes on stop ... calls
// into the router as if a webhook had delivered the utterance ... ships
// a speak instruction back over the socket" sequence of spec.md §4.9,
// under the per-turn budget of spec.md §5.
func (w *Worker) transcribeAndRespond(ctx context.Context, audio []byte) {
	ctx, cancel := context.WithTimeout(ctx, turnBudget)
	defer cancel()

	text, err := w.stt.Transcribe(ctx, audio, w.sampleRate, w.language)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Error("media: transcription failed", "call_id", w.callID, "error", err)
		}
		return
	}
	if text == "" {
		return
	}

	outcome := w.dialog.HandleUtterance(ctx, w.sess, text, time.Now())
	if outcome.Text == "" {
		return
	}

	if url, ok := w.synthesizeAndStore(ctx, outcome.Text); ok {
		if err := w.sendSpeak(url); err != nil {
			w.logger.Warn("media: failed to send speak instruction", "call_id", w.callID, "error", err)
		}
		return
	}

	if err := w.sendSpeakText(outcome.Text); err != nil {
		w.logger.Warn("media: failed to send speak fallback", "call_id", w.callID, "error", err)
	}
}

// synthesizeAndStore runs TTS and uploads the clip, returning the
// playback URL. It reports ok=false whenever the caller should fall
// back to speaking outcome.Text inline instead: TTS/S3 not configured,
// or either step failing.
func (w *Worker) synthesizeAndStore(ctx context.Context, text string) (url string, ok bool) {
	if w.tts == nil || w.store == nil || !w.store.Enabled() {
		return "", false
	}

	clip, mime, err := w.tts.Synthesize(ctx, text, w.voice)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Error("media: speech synthesis failed, falling back to inline speak", "call_id", w.callID, "error", err)
		}
		return "", false
	}

	url, err = w.store.Put(ctx, w.callID, clip, mime)
	if err != nil {
		w.logger.Error("media: failed to store generated clip, falling back to inline speak", "call_id", w.callID, "error", err)
		return "", false
	}
	return url, true
}

func (w *Worker) sendSpeak(audioURL string) error {
	w.bufMu.Lock()
	streamSID := w.streamSID
	w.bufMu.Unlock()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(speakMessage{Event: "speak", StreamSID: streamSID, AudioURL: audioURL})
}

// sendSpeakText ships the <Say> fallback of spec.md §3: the provider
// speaks Text directly instead of fetching a generated clip.
func (w *Worker) sendSpeakText(text string) error {
	w.bufMu.Lock()
	streamSID := w.streamSID
	w.bufMu.Unlock()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(speakMessage{Event: "speak", StreamSID: streamSID, Text: text})
}

func (w *Worker) disposeBuffer() {
	w.bufMu.Lock()
	w.buf = nil
	w.bufMu.Unlock()
}
