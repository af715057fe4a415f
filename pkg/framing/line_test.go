package framing_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/vault-cosigner/pkg/framing"
)

type stream struct {
	io.Reader
	io.Writer
}

func newStream(response string) (*stream, *bytes.Buffer) {
	sent := &bytes.Buffer{}
	return &stream{strings.NewReader(response), sent}, sent
}

func TestLineFraming(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		rw, sent := newStream("ACK\r\ncHNidP8BAA==\r\nACK\nd34db33f\n")
		conn := framing.NewLineConn(rw)

		payload, err := conn.Exchange("sign cHNidP8BAA==")
		require.NoError(t, err)
		require.Equal(t, "cHNidP8BAA==", payload)

		// The reader is kept across exchanges.
		payload, err = conn.Exchange("fingerprint")
		require.NoError(t, err)
		require.Equal(t, "d34db33f", payload)

		require.Equal(t, "sign cHNidP8BAA==\r\nfingerprint\r\n", sent.String())
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name     string
			response string
		}{
			{"no_response", ""},
			{"missing_ack", "cHNidP8BAA==\r\n"},
			{"wrong_literal", "ACKNOWLEDGED\r\ncHNidP8BAA==\r\n"},
			{"missing_payload", "ACK\r\n"},
			{"partial_payload", "ACK\r\ncHNidP8B"},
			{"empty_payload", "ACK\r\n\r\n"},
		}
		for _, tt := range tests {
			rw, _ := newStream(tt.response)
			payload, err := framing.NewLineConn(rw).Exchange("sign cHNidP8BAA==")
			require.Error(t, err, tt.name)
			require.Empty(t, payload, tt.name)
			require.True(t, framing.IsProtocolError(err), tt.name)
		}
	})

	t.Run("device_error", func(t *testing.T) {
		t.Parallel()

		rw, _ := newStream("ACK\r\nerror: user denied\r\n")
		_, err := framing.NewLineConn(rw).Exchange("sign cHNidP8BAA==")
		require.True(t, framing.IsDeviceError(err))
		require.Contains(t, err.Error(), "user denied")
	})

	t.Run("write_failure", func(t *testing.T) {
		t.Parallel()

		rw := &stream{strings.NewReader("ACK\r\nok\r\n"), failingWriter{}}
		_, err := framing.NewLineConn(rw).Exchange("fingerprint")
		require.True(t, framing.IsTransportError(err))
	})

	t.Run("multiline_command", func(t *testing.T) {
		t.Parallel()

		rw, sent := newStream("")
		_, err := framing.NewLineConn(rw).Exchange("sign a\nb")
		require.True(t, framing.IsProtocolError(err))
		require.Zero(t, sent.Len())
	})
}
