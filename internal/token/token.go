// Package token implements the opaque, short, signed tokens the
// orchestrator hands agents (C4, spec.md §4.4, §6). Tokens are never
// interpreted by the agent; their structure is private to this package so
// the wire format can evolve without breaking callers.
//
// Wire format: "<prefix>.<version>.<base32-lower-no-pad(payload)>.<base32-lower-no-pad(hmac)>"
// where prefix is one of st|ack|chk. The payload is the canonical JSON
// encoding (pkg/canon) of the token's fields; the signature is an
// HMAC-SHA256 over those same canonical payload bytes.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"strings"

	"github.com/EtienneBBeaulac/workrail/internal/base32c"
	"github.com/EtienneBBeaulac/workrail/pkg/canon"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// Kind identifies which of the three token shapes a token carries.
type Kind string

const (
	KindState      Kind = "state"
	KindAck        Kind = "ack"
	KindCheckpoint Kind = "checkpoint"
)

// CurrentVersion is the only version this codec currently mints or accepts.
const CurrentVersion = "1"

func prefixForKind(k Kind) string {
	switch k {
	case KindState:
		return "st"
	case KindAck:
		return "ack"
	case KindCheckpoint:
		return "chk"
	default:
		return ""
	}
}

func kindForPrefix(p string) (Kind, bool) {
	switch p {
	case "st":
		return KindState, true
	case "ack":
		return KindAck, true
	case "chk":
		return KindCheckpoint, true
	default:
		return "", false
	}
}

// StatePayload binds a state token to a specific pinned workflow snapshot.
type StatePayload struct {
	SessionID       string `json:"sessionId"`
	RunID           string `json:"runId"`
	NodeID          string `json:"nodeId"`
	WorkflowHashRef string `json:"workflowHashRef"`
}

// AckPayload binds an ack or checkpoint token to a specific attempt at the
// node it names. Ack and checkpoint tokens share this shape (spec.md §4.4).
type AckPayload struct {
	SessionID string `json:"sessionId"`
	RunID     string `json:"runId"`
	NodeID    string `json:"nodeId"`
	AttemptID string `json:"attemptId"`
}

// Parsed is the result of splitting and decoding a token's wire format,
// before its signature has been verified.
type Parsed struct {
	Kind          Kind
	Version       string
	PayloadBytes  []byte
	Signature     []byte
	State         *StatePayload
	Ack           *AckPayload // also used for KindCheckpoint
}

// Codec signs and verifies tokens using a single HMAC-SHA256 secret shared
// by a WorkRail process. Tokens never expire; they are bound to content-
// addressed snapshot identity instead (spec.md §5).
type Codec struct {
	secret []byte
}

// New creates a Codec keyed by secret. secret should be process-local and
// at least 32 bytes; the caller is responsible for its provisioning.
func New(secret []byte) *Codec {
	return &Codec{secret: append([]byte(nil), secret...)}
}

// SignState mints a state token.
func (c *Codec) SignState(p StatePayload) (string, error) {
	return c.sign(KindState, p)
}

// SignAck mints an ack token.
func (c *Codec) SignAck(p AckPayload) (string, error) {
	return c.sign(KindAck, p)
}

// SignCheckpoint mints a checkpoint token.
func (c *Codec) SignCheckpoint(p AckPayload) (string, error) {
	return c.sign(KindCheckpoint, p)
}

func (c *Codec) sign(kind Kind, payload interface{}) (string, error) {
	payloadBytes, err := canon.Marshal(payload)
	if err != nil {
		return "", wrerrors.Wrap(err, "canonicalizing token payload")
	}
	sig := c.mac(payloadBytes)
	return strings.Join([]string{
		prefixForKind(kind),
		CurrentVersion,
		base32c.Encode(payloadBytes),
		base32c.Encode(sig),
	}, "."), nil
}

func (c *Codec) mac(data []byte) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write(data)
	return h.Sum(nil)
}

// Parse splits a token's wire format and decodes its payload, but does NOT
// verify the signature — call VerifySignature separately. Splitting parse
// from verification lets callers distinguish a malformed token from a
// tampered one, per spec.md §7's closed token error set.
func (c *Codec) Parse(raw string) (*Parsed, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 4 {
		return nil, &wrerrors.TokenError{Code: wrerrors.TokenInvalidFormat, Message: "expected 4 dot-separated segments"}
	}

	kind, ok := kindForPrefix(parts[0])
	if !ok {
		return nil, &wrerrors.TokenError{Code: wrerrors.TokenInvalidFormat, Message: "unknown token prefix " + parts[0]}
	}

	if parts[1] != CurrentVersion {
		return nil, &wrerrors.TokenError{Code: wrerrors.TokenUnsupportedVersion, Message: "version " + parts[1]}
	}

	payloadBytes, err := base32c.Decode(parts[2])
	if err != nil {
		return nil, &wrerrors.TokenError{Code: wrerrors.TokenInvalidFormat, Message: "bad payload encoding: " + err.Error()}
	}
	sigBytes, err := base32c.Decode(parts[3])
	if err != nil {
		// A signature segment that no longer decodes is a tampered
		// signature: parsing continues with an empty signature, which
		// VerifySignature rejects with TOKEN_BAD_SIGNATURE.
		sigBytes = nil
	}

	parsed := &Parsed{
		Kind:         kind,
		Version:      parts[1],
		PayloadBytes: payloadBytes,
		Signature:    sigBytes,
	}

	switch kind {
	case KindState:
		var sp StatePayload
		if err := canon.Unmarshal(payloadBytes, &sp); err != nil {
			return nil, &wrerrors.TokenError{Code: wrerrors.TokenInvalidFormat, Message: "bad state payload: " + err.Error()}
		}
		parsed.State = &sp
	case KindAck, KindCheckpoint:
		var ap AckPayload
		if err := canon.Unmarshal(payloadBytes, &ap); err != nil {
			return nil, &wrerrors.TokenError{Code: wrerrors.TokenInvalidFormat, Message: "bad ack payload: " + err.Error()}
		}
		parsed.Ack = &ap
	}

	return parsed, nil
}

// VerifySignature checks that a Parsed token's signature matches its
// payload under this codec's secret.
func (c *Codec) VerifySignature(p *Parsed) error {
	expected := c.mac(p.PayloadBytes)
	if !hmac.Equal(expected, p.Signature) {
		return &wrerrors.TokenError{Code: wrerrors.TokenBadSignature, Message: "signature mismatch"}
	}
	return nil
}

// AssertScopeMatches verifies that a state token and an ack/checkpoint
// token name the same session, run, and node (spec.md §4.4). It is the
// orchestrator's job to additionally confirm the state token's
// workflowHashRef against the session's recorded workflowHash.
func AssertScopeMatches(state *StatePayload, ack *AckPayload) error {
	if state == nil || ack == nil {
		return &wrerrors.TokenError{Code: wrerrors.TokenScopeMismatch, Message: "missing state or ack payload"}
	}
	if state.SessionID != ack.SessionID || state.RunID != ack.RunID || state.NodeID != ack.NodeID {
		return &wrerrors.TokenError{Code: wrerrors.TokenScopeMismatch, Message: "session/run/node do not agree"}
	}
	return nil
}

// DeriveNextAttemptID deterministically derives the attempt id for the
// node that follows a successful advance from parentAttemptID, so that
// replaying an identical advance re-mints identical follow-up tokens
// (spec.md §4.4, testable property in §8).
func (c *Codec) DeriveNextAttemptID(parentAttemptID string) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte("attempt:" + parentAttemptID))
	return base32c.Encode(h.Sum(nil)[:16])
}
