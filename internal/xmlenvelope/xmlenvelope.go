// Package xmlenvelope builds the provider's TwiML-like XML response
// envelope (spec.md §6): Say, Play, Gather, Redirect, and Pause
// elements wrapped in a <Response>.
package xmlenvelope

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const header = `<?xml version="1.0" encoding="UTF-8"?>`

// Builder accumulates response elements in emission order. The zero
// value is ready to use.
type Builder struct {
	buf strings.Builder
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// Say appends a <Say> element. voice and language are omitted when
// empty, letting the provider fall back to its account defaults.
func (b *Builder) Say(text, voice, language string) *Builder {
	b.buf.WriteString("<Say")
	writeAttr(&b.buf, "voice", voice)
	writeAttr(&b.buf, "language", language)
	b.buf.WriteString(">")
	escapeInto(&b.buf, text)
	b.buf.WriteString("</Say>")
	return b
}

// Play appends a <Play> element pointing at a generated audio clip URL.
func (b *Builder) Play(url string) *Builder {
	b.buf.WriteString("<Play>")
	escapeInto(&b.buf, url)
	b.buf.WriteString("</Play>")
	return b
}

// Gather appends a <Gather> element configured for one-shot speech
// capture (spec.md §6: input=speech, method=POST, speechTimeout=auto,
// speechModel=phone_call, enhanced=true, language=en-US), optionally
// wrapping a Say prompt spoken while the provider listens.
func (b *Builder) Gather(action, prompt string) *Builder {
	fmt.Fprintf(&b.buf, `<Gather input="speech" action=%q method="POST" speechTimeout="auto" speechModel="phone_call" enhanced="true" language="en-US">`, action)
	if prompt != "" {
		b.buf.WriteString("<Say>")
		escapeInto(&b.buf, prompt)
		b.buf.WriteString("</Say>")
	}
	b.buf.WriteString("</Gather>")
	return b
}

// Redirect appends a <Redirect> element, handing control of the call
// to another endpoint.
func (b *Builder) Redirect(url string) *Builder {
	b.buf.WriteString(`<Redirect method="POST">`)
	escapeInto(&b.buf, url)
	b.buf.WriteString("</Redirect>")
	return b
}

// Pause appends a <Pause> element of the given length in seconds.
func (b *Builder) Pause(seconds int) *Builder {
	fmt.Fprintf(&b.buf, `<Pause length="%d"/>`, seconds)
	return b
}

// Hangup appends a <Hangup> element, ending the call.
func (b *Builder) Hangup() *Builder {
	b.buf.WriteString("<Hangup/>")
	return b
}

// String renders the accumulated elements inside a <Response> envelope.
func (b *Builder) String() string {
	return header + "<Response>" + b.buf.String() + "</Response>"
}

// MinimalRegather renders a Gather-and-listen envelope with a short
// spoken request to repeat. Webhook handlers fall back to this on panic or
// internal error (spec.md §4.10): never a 5xx, which would drop the
// call, just ask the caller to try again.
func MinimalRegather(action string) string {
	return New().Gather(action, "Sorry, something went wrong. Could you say that again?").String()
}

func writeAttr(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, " %s=%q", name, value)
}

func escapeInto(b *strings.Builder, s string) {
	_ = xml.EscapeText(b, []byte(s))
}
