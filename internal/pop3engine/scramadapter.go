package pop3engine

import (
	"context"
	"fmt"

	"github.com/xdg-go/scram"
)

// scramMechanism adapts an xdg-go/scram client conversation to Mechanism.
// It is sourced from an entirely independent library than sasladapter.go,
// demonstrating that the Engine's AUTH driver is mechanism-agnostic: it
// only ever sees the Mechanism interface.
type scramMechanism struct {
	name string
	conv *scram.ClientConversation
}

// NewScramSHA256Mechanism builds a SCRAM-SHA-256 (RFC 7677) mechanism.
func NewScramSHA256Mechanism(username, password, authzID string) (Mechanism, error) {
	return newScramMechanism("SCRAM-SHA-256", scram.SHA256, username, password, authzID)
}

// NewScramSHA512Mechanism builds a SCRAM-SHA-512 mechanism.
func NewScramSHA512Mechanism(username, password, authzID string) (Mechanism, error) {
	return newScramMechanism("SCRAM-SHA-512", scram.SHA512, username, password, authzID)
}

func newScramMechanism(name string, hash scram.HashGeneratorFcn, username, password, authzID string) (Mechanism, error) {
	client, err := hash.NewClient(username, password, authzID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &scramMechanism{name: name, conv: client.NewConversation()}, nil
}

func (m *scramMechanism) Name() string { return m.name }

// Start issues the SCRAM client-first-message as the initial response.
func (m *scramMechanism) Start(ctx context.Context) ([]byte, error) {
	resp, err := m.conv.Step("")
	if err != nil {
		return nil, fmt.Errorf("%s: client-first: %w", m.name, err)
	}
	return []byte(resp), nil
}

func (m *scramMechanism) Next(ctx context.Context, challenge []byte) ([]byte, error) {
	resp, err := m.conv.Step(string(challenge))
	if err != nil {
		return nil, fmt.Errorf("%s: step: %w", m.name, err)
	}
	return []byte(resp), nil
}

// Done reports whether the client has validated the server's final
// signature. SCRAM requires this even after the server answers +OK.
func (m *scramMechanism) Done() bool {
	return m.conv.Done() && m.conv.Valid()
}
