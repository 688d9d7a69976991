package token_test

import (
	"strings"
	"testing"

	"github.com/EtienneBBeaulac/workrail/internal/token"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
	"github.com/stretchr/testify/require"
)

func testCodec() *token.Codec {
	return token.New([]byte("a-test-secret-that-is-long-enough"))
}

func TestSignParseRoundTrip(t *testing.T) {
	c := testCodec()
	raw, err := c.SignState(token.StatePayload{
		SessionID: "sess-1", RunID: "run-1", NodeID: "node-1", WorkflowHashRef: "sha256:abc",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "st.1."))

	parsed, err := c.Parse(raw)
	require.NoError(t, err)
	require.NoError(t, c.VerifySignature(parsed))
	require.Equal(t, token.KindState, parsed.Kind)
	require.Equal(t, "sess-1", parsed.State.SessionID)
}

func TestOneBitMutationBreaksSignature(t *testing.T) {
	c := testCodec()
	raw, err := c.SignAck(token.AckPayload{SessionID: "s", RunID: "r", NodeID: "n", AttemptID: "a1"})
	require.NoError(t, err)

	mutated := []byte(raw)
	// Flip a bit inside the signature segment (last dot-separated part).
	mutated[len(mutated)-1] ^= 0x01
	parsed, err := c.Parse(string(mutated))
	require.NoError(t, err)

	err = c.VerifySignature(parsed)
	require.Error(t, err)
	var tokErr *wrerrors.TokenError
	require.ErrorAs(t, err, &tokErr)
	require.Equal(t, wrerrors.TokenBadSignature, tokErr.Code)
}

func TestParseRejectsMalformedFormat(t *testing.T) {
	c := testCodec()
	_, err := c.Parse("not-a-token")
	var tokErr *wrerrors.TokenError
	require.ErrorAs(t, err, &tokErr)
	require.Equal(t, wrerrors.TokenInvalidFormat, tokErr.Code)
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	c := testCodec()
	raw, err := c.SignState(token.StatePayload{SessionID: "s", RunID: "r", NodeID: "n", WorkflowHashRef: "h"})
	require.NoError(t, err)
	parts := strings.Split(raw, ".")
	parts[1] = "99"
	_, err = c.Parse(strings.Join(parts, "."))
	var tokErr *wrerrors.TokenError
	require.ErrorAs(t, err, &tokErr)
	require.Equal(t, wrerrors.TokenUnsupportedVersion, tokErr.Code)
}

func TestAssertScopeMatches(t *testing.T) {
	state := &token.StatePayload{SessionID: "s", RunID: "r", NodeID: "n", WorkflowHashRef: "h"}
	ack := &token.AckPayload{SessionID: "s", RunID: "r", NodeID: "n", AttemptID: "a1"}
	require.NoError(t, token.AssertScopeMatches(state, ack))

	ack.NodeID = "other"
	err := token.AssertScopeMatches(state, ack)
	var tokErr *wrerrors.TokenError
	require.ErrorAs(t, err, &tokErr)
	require.Equal(t, wrerrors.TokenScopeMismatch, tokErr.Code)
}

func TestDeriveNextAttemptIDIsDeterministic(t *testing.T) {
	c := testCodec()
	a := c.DeriveNextAttemptID("attempt-1")
	b := c.DeriveNextAttemptID("attempt-1")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c.DeriveNextAttemptID("attempt-2"))
}
