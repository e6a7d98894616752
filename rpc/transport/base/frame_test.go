package base

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wireStream contains every frame kind, including a payload with an embedded CRLF
const wireStream = "INFO {\"server_id\":\"x\",\"max_payload\":1048576}\r\n" +
	"+OK\r\n" +
	"PING\r\n" +
	"MSG foo 42 5\r\nhello\r\n" +
	"MSG app.client.gp 7 _INBOX.abc 12\r\n{\"id\":\"x\"}\r\n\r\n" +
	"PONG\r\n" +
	"MSG empty 1 0\r\n\r\n" +
	"-ERR 'Unknown Protocol Operation'\r\n"

func expectedStreamFrames() []Frame {
	return []Frame{
		{Kind: FrameInfo, Text: `{"server_id":"x","max_payload":1048576}`},
		{Kind: FrameOK},
		{Kind: FramePing},
		{Kind: FrameMsg, Subject: "foo", Sid: 42, Payload: []byte("hello")},
		{Kind: FrameMsg, Subject: "app.client.gp", Sid: 7, ReplyTo: "_INBOX.abc", Payload: []byte("{\"id\":\"x\"}\r\n")},
		{Kind: FramePong},
		{Kind: FrameMsg, Subject: "empty", Sid: 1, Payload: []byte{}},
		{Kind: FrameErr, Text: "Unknown Protocol Operation"},
	}
}

func feedChunks(t *testing.T, chunks [][]byte) []Frame {
	t.Helper()
	p := &frameParser{}
	var all []Frame
	for _, c := range chunks {
		frames, err := p.Feed(c)
		require.NoError(t, err)
		all = append(all, frames...)
	}
	assert.Equal(t, 0, p.Buffered(), "no bytes should be left after a complete stream")
	return all
}

// TestFeedOneShot parses the whole stream with a single feed
func TestFeedOneShot(t *testing.T) {
	frames := feedChunks(t, [][]byte{[]byte(wireStream)})
	assert.Equal(t, expectedStreamFrames(), frames)
}

// TestFeedChunkingInvariance checks byte-by-byte and random splits against the one-shot result
func TestFeedChunkingInvariance(t *testing.T) {
	want := feedChunks(t, [][]byte{[]byte(wireStream)})

	t.Run("ByteByByte", func(t *testing.T) {
		var chunks [][]byte
		for i := 0; i < len(wireStream); i++ {
			chunks = append(chunks, []byte{wireStream[i]})
		}
		assert.Equal(t, want, feedChunks(t, chunks))
	})

	t.Run("RandomSplits", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		for round := 0; round < 200; round++ {
			var chunks [][]byte
			data := []byte(wireStream)
			for len(data) > 0 {
				n := 1 + rng.Intn(len(data))
				chunks = append(chunks, data[:n])
				data = data[n:]
			}
			require.Equal(t, want, feedChunks(t, chunks), "round %d", round)
		}
	})
}

// TestPartialMsgNotEmitted checks that a MSG is only emitted once payload and CRLF are buffered
func TestPartialMsgNotEmitted(t *testing.T) {
	p := &frameParser{}
	header := "MSG big 3 20\r\n"
	payload := "01234567890123456789"

	frames, err := p.Feed([]byte(header))
	require.NoError(t, err)
	assert.Empty(t, frames)

	for i := 0; i < len(payload); i++ {
		frames, err = p.Feed([]byte{payload[i]})
		require.NoError(t, err)
		assert.Empty(t, frames, "frame emitted after %d of %d payload bytes", i+1, len(payload))
	}
	assert.Equal(t, len(header)+len(payload), p.Buffered())

	frames, err = p.Feed([]byte("\r"))
	require.NoError(t, err)
	assert.Empty(t, frames, "frame emitted before the trailing CRLF")

	frames, err = p.Feed([]byte("\n"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, string(frames[0].Payload))
	assert.Equal(t, 0, p.Buffered())
}

// TestSplitMsgAcrossReads delivers `MSG foo 42 5\r\nhello\r\n` in two reads
func TestSplitMsgAcrossReads(t *testing.T) {
	p := &frameParser{}

	frames, err := p.Feed([]byte("MSG foo 42 5\r\nhe"))
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = p.Feed([]byte("llo\r\n"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{Kind: FrameMsg, Subject: "foo", Sid: 42, Payload: []byte("hello")}, frames[0])
}

// TestProtocolErrors checks that malformed input is fatal and discards the buffer
func TestProtocolErrors(t *testing.T) {
	cases := map[string]string{
		"UnknownLine":       "PING\r\nHELLO world\r\nPONG\r\n",
		"LowercaseCommand":  "ping\r\n",
		"MissingCRLF":       "MSG foo 1 3\r\nabcXX",
		"TooFewArgs":        "MSG foo 3\r\n",
		"TooManyArgs":       "MSG foo 1 r x 3\r\n",
		"NegativeCount":     "MSG foo 1 -3\r\n",
		"NonNumericSid":     "MSG foo abc 3\r\n",
		"OversizedCount":    "MSG foo 1 999999999999\r\n",
		"ControlLineTooBig": "INFO " + string(make([]byte, maxControlLine+1)),
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			p := &frameParser{}
			_, err := p.Feed([]byte(input))
			require.Error(t, err)

			var perr *common.ProtocolError
			assert.True(t, errors.As(err, &perr), "expected a ProtocolError, got %T", err)
			assert.Equal(t, 0, p.Buffered(), "buffer must be discarded")
		})
	}
}

// TestFramesBeforeErrorAreReturned checks that complete frames ahead of a bad line are kept
func TestFramesBeforeErrorAreReturned(t *testing.T) {
	p := &frameParser{}
	frames, err := p.Feed([]byte("PING\r\nMSG a 1 1\r\nx\r\nBOGUS\r\n"))
	require.Error(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, FramePing, frames[0].Kind)
	assert.Equal(t, "x", string(frames[1].Payload))
}

// TestCommandWriters checks the serialized outbound commands
func TestCommandWriters(t *testing.T) {
	assert.Equal(t, "PUB foo 5\r\nhello\r\n", string(pubCmd("foo", "", []byte("hello"))))
	assert.Equal(t, "PUB app.client.gp _INBOX.1 2\r\n{}\r\n", string(pubCmd("app.client.gp", "_INBOX.1", []byte("{}"))))
	assert.Equal(t, "PUB foo 0\r\n\r\n", string(pubCmd("foo", "", nil)))
	assert.Equal(t, "SUB foo 42\r\n", string(subCmd("foo", "", 42)))
	assert.Equal(t, "SUB app.client.* workers 3\r\n", string(subCmd("app.client.*", "workers", 3)))
	assert.Equal(t, "UNSUB 42\r\n", string(unsubCmd(42, 0)))
	assert.Equal(t, "UNSUB 42 1\r\n", string(unsubCmd(42, 1)))
	assert.Equal(t, "CONNECT {}\r\n", string(connectCmd([]byte("{}"))))

	assert.True(t, validSubject("app.client.cc"))
	assert.False(t, validSubject(""))
	assert.False(t, validSubject("a b"))
}

func BenchmarkFeedMsg(b *testing.B) {
	msg := []byte("MSG app.client.fc 12 _INBOX.0123456789abcdef 64\r\n" + string(make([]byte, 64)) + "\r\n")
	p := &frameParser{}
	b.ReportAllocs()
	b.SetBytes(int64(len(msg)))
	for i := 0; i < b.N; i++ {
		if _, err := p.Feed(msg); err != nil {
			b.Fatal(err)
		}
	}
}
