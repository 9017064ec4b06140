package media_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelterline/relay/internal/dialog"
	"github.com/shelterline/relay/internal/media"
	"github.com/shelterline/relay/internal/session"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	idx      int
	closeErr error
	written  []media_speakMessage
}

type media_speakMessage struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
	AudioURL  string `json:"audioUrl,omitempty"`
	Text      string `json:"text,omitempty"`
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx >= len(c.frames) {
		if c.closeErr != nil {
			return 0, nil, c.closeErr
		}
		return 0, nil, errors.New("fakeConn: no more frames")
	}
	f := c.frames[c.idx]
	c.idx++
	return websocket.TextMessage, f, nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg media_speakMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return err
	}
	c.written = append(c.written, msg)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) writes() []media_speakMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media_speakMessage, len(c.written))
	copy(out, c.written)
	return out
}

func frame(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func startFrame(streamSID string) map[string]any {
	return map[string]any{"event": "start", "streamSid": streamSID}
}

func mediaFrame(track, payload string) map[string]any {
	return map[string]any{"event": "media", "media": map[string]any{"track": track, "payload": payload}}
}

func stopFrame() map[string]any {
	return map[string]any{"event": "stop"}
}

type stubSTT struct {
	text string
	err  error
	wait chan struct{} // if non-nil, blocks until ctx.Done() or this is closed
}

func (s *stubSTT) Transcribe(ctx context.Context, audio []byte, sampleRate int, language string) (string, error) {
	if s.wait != nil {
		select {
		case <-s.wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

type stubTTS struct {
	clip []byte
	mime string
	err  error
}

func (s *stubTTS) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	return s.clip, s.mime, s.err
}

type stubStore struct {
	url      string
	err      error
	disabled bool
}

func (s *stubStore) Put(ctx context.Context, callID string, audio []byte, mime string) (string, error) {
	return s.url, s.err
}

func (s *stubStore) Enabled() bool {
	return !s.disabled
}

type stubDialog struct {
	mu     sync.Mutex
	seen   []string
	outcome dialog.Outcome
}

func (d *stubDialog) HandleUtterance(ctx context.Context, sess *session.CallSession, utterance string, now time.Time) dialog.Outcome {
	d.mu.Lock()
	d.seen = append(d.seen, utterance)
	d.mu.Unlock()
	return d.outcome
}

func newSession(t *testing.T) *session.CallSession {
	reg := session.NewRegistry(20)
	t.Cleanup(reg.Close)
	return reg.GetOrCreate("call-1")
}

func TestWorkerTranscribesOnStopAndSendsSpeakInstruction(t *testing.T) {
	audioChunk := base64.StdEncoding.EncodeToString([]byte("raw-pcm-bytes"))
	conn := &fakeConn{frames: [][]byte{
		frame(t, startFrame("stream-1")),
		frame(t, mediaFrame("inbound_track", audioChunk)),
		frame(t, stopFrame()),
	}, closeErr: errors.New("socket closed")}

	stt := &stubSTT{text: "find me a shelter"}
	tts := &stubTTS{clip: []byte("wav-bytes"), mime: "audio/wav"}
	store := &stubStore{url: "https://clips.example.org/abc.wav"}
	dlg := &stubDialog{outcome: dialog.Outcome{Text: "here are some shelters"}}

	w := media.NewWorker(conn, "call-1", newSession(t), dlg, stt, tts, store, media.Config{})
	err := w.Run(context.Background())
	require.Error(t, err)

	dlg.mu.Lock()
	seen := dlg.seen
	dlg.mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, "find me a shelter", seen[0])

	writes := conn.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "speak", writes[0].Event)
	assert.Equal(t, "https://clips.example.org/abc.wav", writes[0].AudioURL)
	assert.Equal(t, "stream-1", writes[0].StreamSID)
}

func TestWorkerFallsBackToInlineSpeakWhenAudioStoreDisabled(t *testing.T) {
	audioChunk := base64.StdEncoding.EncodeToString([]byte("raw-pcm-bytes"))
	conn := &fakeConn{frames: [][]byte{
		frame(t, startFrame("stream-1")),
		frame(t, mediaFrame("inbound_track", audioChunk)),
		frame(t, stopFrame()),
	}, closeErr: errors.New("socket closed")}

	stt := &stubSTT{text: "find me a shelter"}
	tts := &stubTTS{clip: []byte("wav-bytes"), mime: "audio/wav"}
	store := &stubStore{disabled: true}
	dlg := &stubDialog{outcome: dialog.Outcome{Text: "here are some shelters"}}

	w := media.NewWorker(conn, "call-1", newSession(t), dlg, stt, tts, store, media.Config{})
	err := w.Run(context.Background())
	require.Error(t, err)

	writes := conn.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "speak", writes[0].Event)
	assert.Empty(t, writes[0].AudioURL)
	assert.Equal(t, "here are some shelters", writes[0].Text)
	assert.Equal(t, "stream-1", writes[0].StreamSID)
}

func TestWorkerIgnoresOutboundTrack(t *testing.T) {
	audioChunk := base64.StdEncoding.EncodeToString([]byte("raw-pcm-bytes"))
	conn := &fakeConn{frames: [][]byte{
		frame(t, startFrame("stream-1")),
		frame(t, mediaFrame("outbound_track", audioChunk)),
		frame(t, stopFrame()),
	}, closeErr: errors.New("socket closed")}

	stt := &stubSTT{text: "should not be reached"}
	dlg := &stubDialog{}

	w := media.NewWorker(conn, "call-1", newSession(t), dlg, stt, &stubTTS{}, &stubStore{}, media.Config{})
	_ = w.Run(context.Background())

	dlg.mu.Lock()
	seen := len(dlg.seen)
	dlg.mu.Unlock()
	assert.Equal(t, 0, seen, "outbound-track media must never reach transcription")
}

func TestWorkerRejectsBinaryFrames(t *testing.T) {
	binaryConn := &binaryThenCloseConn{fakeConn: &fakeConn{}}

	w := media.NewWorker(binaryConn, "call-1", newSession(t), &stubDialog{}, &stubSTT{}, &stubTTS{}, &stubStore{}, media.Config{})
	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, binaryConn.reads, "the binary frame is skipped, not dispatched, so the loop reads once more before the socket closes")
}

type binaryThenCloseConn struct {
	*fakeConn
	reads int
}

func (c *binaryThenCloseConn) ReadMessage() (int, []byte, error) {
	c.reads++
	if c.reads == 1 {
		return websocket.BinaryMessage, []byte{0x01, 0x02}, nil
	}
	return 0, nil, errors.New("socket closed")
}

func TestWorkerEmptyTranscriptSkipsReply(t *testing.T) {
	audioChunk := base64.StdEncoding.EncodeToString([]byte("raw-pcm-bytes"))
	conn := &fakeConn{frames: [][]byte{
		frame(t, startFrame("stream-1")),
		frame(t, mediaFrame("inbound_track", audioChunk)),
		frame(t, stopFrame()),
	}, closeErr: errors.New("socket closed")}

	stt := &stubSTT{text: ""}
	dlg := &stubDialog{outcome: dialog.Outcome{Text: "should not be used"}}

	w := media.NewWorker(conn, "call-1", newSession(t), dlg, stt, &stubTTS{}, &stubStore{}, media.Config{})
	_ = w.Run(context.Background())

	assert.Empty(t, conn.writes())
}

func TestWorkerCancelsInFlightTranscriptionOnSocketClose(t *testing.T) {
	audioChunk := base64.StdEncoding.EncodeToString([]byte("raw-pcm-bytes"))
	wait := make(chan struct{})
	conn := &fakeConn{frames: [][]byte{
		frame(t, startFrame("stream-1")),
		frame(t, mediaFrame("inbound_track", audioChunk)),
		frame(t, stopFrame()),
	}, closeErr: errors.New("socket closed")}

	stt := &stubSTT{text: "find me a shelter", wait: wait}
	dlg := &stubDialog{}

	w := media.NewWorker(conn, "call-1", newSession(t), dlg, stt, &stubTTS{}, &stubStore{}, media.Config{})

	done := make(chan struct{})
	go func() {
		_ = w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after the socket closed with transcription in flight")
	}

	dlg.mu.Lock()
	seen := len(dlg.seen)
	dlg.mu.Unlock()
	assert.Equal(t, 0, seen, "a cancelled transcription must not reach the dialog engine")
}
