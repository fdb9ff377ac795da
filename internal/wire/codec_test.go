package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/protocol"
)

func TestRoundTripRequest(t *testing.T) {
	tests := []struct {
		name string
		req  protocol.CompletionRequest
	}{
		{"string prompt", protocol.CompletionRequest{Prompt: protocol.NewPrompt("2+2"), Depth: 0}},
		{"chat prompt", protocol.CompletionRequest{
			Prompt: protocol.NewChatPrompt([]protocol.Message{
				{Role: "system", Content: "preamble"},
				{Role: "user", Content: "query"},
			}),
			Depth: 1,
		}},
		{"batched", protocol.CompletionRequest{
			Prompts: []protocol.Prompt{{Text: "a"}, {Text: "b"}},
			Model:   "gpt-4o-mini",
			Depth:   2,
		}},
		{"zero-length batch", protocol.CompletionRequest{Prompts: []protocol.Prompt{}, Depth: 1}},
		{"with preferences", protocol.CompletionRequest{
			Prompt: protocol.NewPrompt("x"),
			Preferences: &protocol.ModelPreferences{
				Candidates: []string{"gpt-4o", "gemini-2.0-flash"},
				Family:     "mini",
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Send(&buf, &tt.req))

			var got protocol.CompletionRequest
			require.NoError(t, Receive(&buf, &got))
			assert.Equal(t, tt.req, got)
		})
	}
}

func TestRoundTripResponse(t *testing.T) {
	usage := protocol.UsageSummary{}
	usage.Add("gpt-4o", 12, 4)

	tests := []struct {
		name string
		resp protocol.CompletionResponse
	}{
		{"single", protocol.CompletionResponse{
			Success: true,
			Completion: &protocol.ChatCompletion{
				Model:          "gpt-4o",
				Prompt:         protocol.NewPrompt("2+2"),
				Response:       "4",
				Usage:          usage,
				ElapsedSeconds: 0.25,
			},
		}},
		{"batched", protocol.CompletionResponse{
			Success: true,
			Completions: []protocol.ChatCompletion{
				{Model: "gpt-4o", Response: "a"},
				{Model: "gpt-4o", Response: "b"},
			},
		}},
		{"zero-length batch", protocol.CompletionResponse{
			Success:     true,
			Completions: []protocol.ChatCompletion{},
		}},
		{"error only", protocol.CompletionResponse{
			Success: false,
			Error:   "sub budget exceeded by 420 tokens",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Send(&buf, &tt.resp))

			var got protocol.CompletionResponse
			require.NoError(t, Receive(&buf, &got))
			assert.Equal(t, tt.resp, got)
		})
	}
}

func TestReceiveCleanClose(t *testing.T) {
	var req protocol.CompletionRequest
	err := Receive(bytes.NewReader(nil), &req)
	assert.ErrorIs(t, err, io.EOF)
	assert.Nil(t, req.Prompt)
}

func TestReceivePeerClosedMidHeader(t *testing.T) {
	var req protocol.CompletionRequest
	err := Receive(bytes.NewReader([]byte{0x00, 0x00}), &req)
	assert.True(t, errors.IsCategory(err, errors.ErrPeerDisconnect))
}

func TestReceivePeerClosedMidBody(t *testing.T) {
	var frame bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 100)
	frame.Write(header[:])
	frame.WriteString(`{"depth":`)

	var req protocol.CompletionRequest
	err := Receive(&frame, &req)
	assert.True(t, errors.IsCategory(err, errors.ErrPeerDisconnect))
}

func TestReceiveZeroLengthFrame(t *testing.T) {
	var frame bytes.Buffer
	frame.Write([]byte{0, 0, 0, 0})

	var req protocol.CompletionRequest
	require.NoError(t, Receive(&frame, &req))
	assert.Nil(t, req.Prompt)
	assert.Nil(t, req.Prompts)
}

func TestReceiveMalformedBody(t *testing.T) {
	var frame bytes.Buffer
	body := []byte(`{not json`)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	frame.Write(header[:])
	frame.Write(body)

	var req protocol.CompletionRequest
	err := Receive(&frame, &req)
	assert.True(t, errors.IsCategory(err, errors.ErrInvalidInput))
}

func TestBigEndianFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, map[string]int{"depth": 0}))

	raw := buf.Bytes()
	length := binary.BigEndian.Uint32(raw[:4])
	assert.Equal(t, int(length), len(raw)-4)
	assert.JSONEq(t, `{"depth":0}`, string(raw[4:]))
}
