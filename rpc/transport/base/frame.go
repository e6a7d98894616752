package base

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/ValentinKolb/wBridge/rpc/common"
)

// maxControlLine bounds the length of a control line without CRLF
const maxControlLine = 4096

// maxMsgPayload is the largest payload a server can be configured to send (64 MiB)
const maxMsgPayload = 64 * 1024 * 1024

var crlf = []byte("\r\n")

// FrameKind is the type of a parsed frame
type FrameKind uint8

const (
	FrameMsg FrameKind = iota + 1
	FramePing
	FramePong
	FrameInfo
	FrameOK
	FrameErr
)

func (k FrameKind) String() string {
	switch k {
	case FrameMsg:
		return "MSG"
	case FramePing:
		return "PING"
	case FramePong:
		return "PONG"
	case FrameInfo:
		return "INFO"
	case FrameOK:
		return "+OK"
	case FrameErr:
		return "-ERR"
	default:
		return "UNKNOWN"
	}
}

// Frame is a complete unit read from the wire
type Frame struct {
	Kind FrameKind
	// MSG fields
	Subject string
	Sid     uint64
	ReplyTo string
	Payload []byte
	// Text is the json of INFO or the message of -ERR
	Text string
}

// --------------------------------------------------------------------------
// Parser
// --------------------------------------------------------------------------

// frameParser is a resumable parser for the inbound byte stream.
// Bytes stay buffered until they form a complete frame.
type frameParser struct {
	buf []byte

	// header of a MSG whose payload is not complete yet.
	// hdrLen is the length of the control line including CRLF.
	pending *Frame
	need    int
	hdrLen  int
}

// Feed appends data to the buffer and returns all frames that are complete.
// On a protocol error the buffer is discarded and the frames parsed before the
// error are returned together with the error.
func (p *frameParser) Feed(data []byte) ([]Frame, error) {
	p.buf = append(p.buf, data...)

	var frames []Frame
	consumed := 0
	for {
		frame, n, err := p.next(p.buf[consumed:])
		if err != nil {
			p.reset()
			return frames, err
		}
		if n == 0 {
			break
		}
		consumed += n
		frames = append(frames, frame)
	}

	if consumed > 0 {
		p.buf = append(p.buf[:0], p.buf[consumed:]...)
	}
	return frames, nil
}

// Buffered returns the number of bytes waiting for the rest of their frame
func (p *frameParser) Buffered() int {
	return len(p.buf)
}

func (p *frameParser) reset() {
	p.buf = nil
	p.pending = nil
	p.need = 0
	p.hdrLen = 0
}

// next parses one frame from the start of b. n is zero if b holds no complete frame.
func (p *frameParser) next(b []byte) (frame Frame, n int, err error) {
	if p.pending != nil {
		return p.payload(b)
	}

	end := bytes.Index(b, crlf)
	if end < 0 {
		if len(b) > maxControlLine {
			return Frame{}, 0, &common.ProtocolError{Line: truncate(string(b)), Reason: "control line too long"}
		}
		return Frame{}, 0, nil
	}
	if end > maxControlLine {
		return Frame{}, 0, &common.ProtocolError{Line: truncate(string(b[:end])), Reason: "control line too long"}
	}

	line := string(b[:end])
	lineLen := end + len(crlf)

	switch {
	case strings.HasPrefix(line, "MSG "):
		hdr, need, err := parseMsgArgs(line)
		if err != nil {
			return Frame{}, 0, err
		}
		p.pending, p.need, p.hdrLen = &hdr, need, lineLen
		return p.payload(b)
	case line == "PING":
		return Frame{Kind: FramePing}, lineLen, nil
	case line == "PONG":
		return Frame{Kind: FramePong}, lineLen, nil
	case strings.HasPrefix(line, "INFO "):
		return Frame{Kind: FrameInfo, Text: strings.TrimSpace(line[len("INFO "):])}, lineLen, nil
	case line == "+OK":
		return Frame{Kind: FrameOK}, lineLen, nil
	case strings.HasPrefix(line, "-ERR"):
		text := strings.TrimSpace(line[len("-ERR"):])
		return Frame{Kind: FrameErr, Text: strings.Trim(text, "'")}, lineLen, nil
	default:
		return Frame{}, 0, &common.ProtocolError{Line: truncate(line), Reason: "unknown control line"}
	}
}

// payload completes the pending MSG once need bytes and the trailing CRLF are buffered
func (p *frameParser) payload(b []byte) (Frame, int, error) {
	total := p.hdrLen + p.need + len(crlf)
	if len(b) < total {
		return Frame{}, 0, nil
	}
	if !bytes.Equal(b[p.hdrLen+p.need:total], crlf) {
		return Frame{}, 0, &common.ProtocolError{Line: p.pending.Subject, Reason: "payload not terminated by CRLF"}
	}

	frame := *p.pending
	frame.Payload = make([]byte, p.need)
	copy(frame.Payload, b[p.hdrLen:p.hdrLen+p.need])

	p.pending, p.need, p.hdrLen = nil, 0, 0
	return frame, total, nil
}

// parseMsgArgs parses `MSG <subject> <sid> [replyTo] <nbytes>`
func parseMsgArgs(line string) (Frame, int, error) {
	args := strings.Fields(line[len("MSG "):])

	var subject, sid, reply, size string
	switch len(args) {
	case 3:
		subject, sid, size = args[0], args[1], args[2]
	case 4:
		subject, sid, reply, size = args[0], args[1], args[2], args[3]
	default:
		return Frame{}, 0, &common.ProtocolError{Line: truncate(line), Reason: "wrong number of MSG arguments"}
	}

	id, err := strconv.ParseUint(sid, 10, 64)
	if err != nil {
		return Frame{}, 0, &common.ProtocolError{Line: truncate(line), Reason: "invalid sid"}
	}
	need, err := strconv.Atoi(size)
	if err != nil || need < 0 {
		return Frame{}, 0, &common.ProtocolError{Line: truncate(line), Reason: "invalid byte count"}
	}
	if need > maxMsgPayload {
		return Frame{}, 0, &common.ProtocolError{Line: truncate(line), Reason: "byte count exceeds maximum payload"}
	}

	return Frame{Kind: FrameMsg, Subject: subject, Sid: id, ReplyTo: reply}, need, nil
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}

// --------------------------------------------------------------------------
// Command writers
// --------------------------------------------------------------------------

// validSubject rejects empty subjects and subjects containing whitespace
func validSubject(subject string) bool {
	return subject != "" && !strings.ContainsAny(subject, " \t\r\n")
}

// pubCmd serializes `PUB <subject> [replyTo] <n>\r\n<payload>\r\n`
func pubCmd(subject, replyTo string, payload []byte) []byte {
	b := make([]byte, 0, len(subject)+len(replyTo)+len(payload)+24)
	b = append(b, "PUB "...)
	b = append(b, subject...)
	b = append(b, ' ')
	if replyTo != "" {
		b = append(b, replyTo...)
		b = append(b, ' ')
	}
	b = strconv.AppendInt(b, int64(len(payload)), 10)
	b = append(b, crlf...)
	b = append(b, payload...)
	return append(b, crlf...)
}

// subCmd serializes `SUB <subject> [queueGroup] <sid>\r\n`
func subCmd(subject, queueGroup string, sid uint64) []byte {
	b := make([]byte, 0, len(subject)+len(queueGroup)+28)
	b = append(b, "SUB "...)
	b = append(b, subject...)
	b = append(b, ' ')
	if queueGroup != "" {
		b = append(b, queueGroup...)
		b = append(b, ' ')
	}
	b = strconv.AppendUint(b, sid, 10)
	return append(b, crlf...)
}

// unsubCmd serializes `UNSUB <sid> [max]\r\n`
func unsubCmd(sid uint64, maxMessages int) []byte {
	b := make([]byte, 0, 32)
	b = append(b, "UNSUB "...)
	b = strconv.AppendUint(b, sid, 10)
	if maxMessages > 0 {
		b = append(b, ' ')
		b = strconv.AppendInt(b, int64(maxMessages), 10)
	}
	return append(b, crlf...)
}

// connectCmd serializes `CONNECT <json>\r\n`
func connectCmd(options []byte) []byte {
	b := make([]byte, 0, len(options)+10)
	b = append(b, "CONNECT "...)
	b = append(b, options...)
	return append(b, crlf...)
}

var (
	pingCmd = []byte("PING\r\n")
	pongCmd = []byte("PONG\r\n")
)
