package pop3engine

import (
	"context"
	"fmt"

	"github.com/emersion/go-sasl"
)

// saslMechanism adapts a github.com/emersion/go-sasl Client to Mechanism.
// go-sasl's Client is exactly the "black box producing challenge
// responses" spec.md's Non-goals describe: this adapter is the only place
// in the engine that imports the sasl package.
type saslMechanism struct {
	name   string
	client sasl.Client
	done   bool
}

// NewPlainMechanism builds the PLAIN mechanism (RFC 4616).
func NewPlainMechanism(identity, username, password string) Mechanism {
	return &saslMechanism{name: sasl.Plain, client: sasl.NewPlainClient(identity, username, password)}
}

// NewLoginMechanism builds the (non-standard, widely deployed) LOGIN
// mechanism.
func NewLoginMechanism(username, password string) Mechanism {
	return &saslMechanism{name: "LOGIN", client: sasl.NewLoginClient(username, password)}
}

// NewAnonymousMechanism builds the ANONYMOUS mechanism (RFC 4505).
func NewAnonymousMechanism(trace string) Mechanism {
	return &saslMechanism{name: sasl.Anonymous, client: sasl.NewAnonymousClient(trace)}
}

// NewOAuthBearerMechanism builds the OAUTHBEARER mechanism (RFC 7628).
func NewOAuthBearerMechanism(opts *sasl.OAuthBearerOptions) Mechanism {
	return &saslMechanism{name: sasl.OAuthBearer, client: sasl.NewOAuthBearerClient(opts)}
}

// NewXoauth2Mechanism builds the (legacy, Google/Microsoft) XOAUTH2
// mechanism.
func NewXoauth2Mechanism(username, token string) Mechanism {
	return &saslMechanism{name: "XOAUTH2", client: sasl.NewXoauth2Client(username, token)}
}

func (m *saslMechanism) Name() string { return m.name }

func (m *saslMechanism) Start(ctx context.Context) ([]byte, error) {
	_, ir, err := m.client.Start()
	if err != nil {
		return nil, fmt.Errorf("%s: start: %w", m.name, err)
	}
	return ir, nil
}

func (m *saslMechanism) Next(ctx context.Context, challenge []byte) ([]byte, error) {
	resp, err := m.client.Next(challenge)
	if err != nil {
		return nil, fmt.Errorf("%s: step: %w", m.name, err)
	}
	return resp, nil
}

func (m *saslMechanism) Done() bool { return true }
