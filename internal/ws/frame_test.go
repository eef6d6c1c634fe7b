package ws

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ValidateInbound(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		userID  string
		wantErr bool
	}{
		{
			name:   "valid with implicit type",
			frame:  Frame{Text: "hi", Receiver: "bob"},
			userID: "alice",
		},
		{
			name:   "valid with explicit type and sender",
			frame:  Frame{Type: FrameMessage, Text: "hi", Sender: "alice", Receiver: "bob"},
			userID: "alice",
		},
		{
			name:    "empty text",
			frame:   Frame{Receiver: "bob"},
			userID:  "alice",
			wantErr: true,
		},
		{
			name:    "missing receiver",
			frame:   Frame{Text: "hi"},
			userID:  "alice",
			wantErr: true,
		},
		{
			name:    "forged sender",
			frame:   Frame{Text: "hi", Sender: "mallory", Receiver: "bob"},
			userID:  "alice",
			wantErr: true,
		},
		{
			name:    "wrong frame type",
			frame:   Frame{Type: FrameAck, Text: "hi", Receiver: "bob"},
			userID:  "alice",
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.frame.ValidateInbound(tc.userID)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
