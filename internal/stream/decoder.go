// Package stream decodes the chunked push-event protocol used by the chat
// endpoint into Delta, Final and Malformed events.
//
// A frame is the text between two blank-line boundaries and must start with
// "data: ". Frames may arrive split across any number of reads; incomplete
// trailing input is buffered until the boundary shows up and discarded if the
// transport ends first.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/chatphantom/phantomchat/internal/logger"
	"github.com/chatphantom/phantomchat/internal/metrics"
)

// FramePrefix starts every well-formed frame.
const FramePrefix = "data: "

const readSize = 4096

var (
	frameDelimiter = []byte("\n\n")
	crlf           = []byte("\r\n")
	lf             = []byte("\n")
)

// ErrStop may be returned by a Handler to end decoding without error.
var ErrStop = errors.New("stop decoding")

// Kind tags an Event.
type Kind int

const (
	KindDelta Kind = iota
	KindFinal
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindFinal:
		return "final"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Event is one decoded unit of the stream.
type Event struct {
	Kind Kind
	// Text is the cumulative reply for Delta and the full reply for Final.
	Text string
	// Raw and Err describe a Malformed frame.
	Raw string
	Err error
}

type payload struct {
	Delta *string         `json:"delta"`
	Done  json.RawMessage `json:"done"`
	Final *string         `json:"final"`
}

// Decoder reassembles frames from arbitrary byte chunks. It is not safe for
// concurrent use; one Decoder serves one response body.
type Decoder struct {
	buf       []byte
	lastDelta string
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk and returns the events of every frame it completed.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)
	if bytes.Contains(d.buf, crlf) {
		d.buf = bytes.ReplaceAll(d.buf, crlf, lf)
	}

	var events []Event
	for {
		idx := bytes.Index(d.buf, frameDelimiter)
		if idx < 0 {
			break
		}
		frame := d.buf[:idx]
		events = append(events, d.decodeFrame(frame)...)
		d.buf = d.buf[idx+len(frameDelimiter):]
	}

	// Release consumed prefix once the buffer drains.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Discard drops any incomplete trailing frame and returns its size.
func (d *Decoder) Discard() int {
	n := len(d.buf)
	d.buf = nil
	return n
}

func (d *Decoder) decodeFrame(frame []byte) []Event {
	if len(bytes.TrimSpace(frame)) == 0 {
		return nil
	}
	// SSE comment lines act as keep-alives.
	if frame[0] == ':' {
		return nil
	}

	if !bytes.HasPrefix(frame, []byte(FramePrefix)) {
		return []Event{d.malformed(frame, fmt.Errorf("frame does not start with %q", FramePrefix))}
	}

	var p payload
	if err := json.Unmarshal(frame[len(FramePrefix):], &p); err != nil {
		return []Event{d.malformed(frame, fmt.Errorf("invalid frame payload: %w", err))}
	}

	var events []Event
	if p.Delta != nil {
		d.lastDelta = *p.Delta
		events = append(events, Event{Kind: KindDelta, Text: *p.Delta})
		metrics.FramesDecoded.WithLabelValues(KindDelta.String()).Inc()
	}
	if truthy(p.Done) {
		final := d.lastDelta
		if p.Final != nil {
			final = *p.Final
		}
		events = append(events, Event{Kind: KindFinal, Text: final})
		metrics.FramesDecoded.WithLabelValues(KindFinal.String()).Inc()
	}
	if len(events) == 0 {
		return []Event{d.malformed(frame, errors.New("frame carries neither delta nor done"))}
	}
	return events
}

func (d *Decoder) malformed(frame []byte, err error) Event {
	raw := string(frame)
	l := logger.With(logger.STREAM)
	l.Warn().Err(err).Str("frame", truncate(raw, 200)).Msg("Skipping malformed frame")
	metrics.FramesDecoded.WithLabelValues(KindMalformed.String()).Inc()
	return Event{Kind: KindMalformed, Raw: raw, Err: err}
}

// truthy follows loose JSON truthiness: true, non-zero numbers and non-empty strings.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 't':
		return bytes.Equal(raw, []byte("true"))
	case 'f', 'n':
		return false
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return false
		}
		return s != ""
	case '{', '[':
		return true
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Handler receives events in arrival order.
type Handler func(Event) error

// Decode reads r until EOF, passing each event to handle. A transport error is
// returned wrapped; an incomplete trailing frame at EOF is dropped. Decoding
// ends early without error when handle returns ErrStop.
func Decode(ctx context.Context, r io.Reader, handle Handler) error {
	d := NewDecoder()
	chunk := make([]byte, readSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(chunk)
		if n > 0 {
			for _, ev := range d.Feed(chunk[:n]) {
				if herr := handle(ev); herr != nil {
					if errors.Is(herr, ErrStop) {
						return nil
					}
					return herr
				}
			}
		}

		if errors.Is(err, io.EOF) {
			if dropped := d.Discard(); dropped > 0 {
				l := logger.With(logger.STREAM)
				l.Debug().Int("bytes", dropped).Msg("Discarding incomplete trailing frame")
			}
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("reading stream: %w", err)
		}
	}
}
