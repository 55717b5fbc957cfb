package pop3engine

import "context"

// Mechanism is the black-box contract the Engine's AUTH driver speaks: it
// produces an optional initial response and then steps through
// server-supplied challenges, never exposing which SASL library (or none)
// implements it. go-sasl- and xdg-go/scram-backed adapters both satisfy
// this interface; see internal/pop3engine/sasladapter.go and
// internal/pop3engine/scramadapter.go.
type Mechanism interface {
	// Name returns the SASL mechanism name as advertised by the server
	// (e.g. "PLAIN", "SCRAM-SHA-256").
	Name() string

	// Start returns the initial response to send with "AUTH <mech>
	// <initial-response>", or (nil, nil) if the mechanism has no initial
	// response and the exchange should begin with an empty challenge.
	Start(ctx context.Context) (initialResponse []byte, err error)

	// Next consumes one decoded server challenge and returns the next raw
	// response; the AUTH driver base64-encodes it for the wire.
	Next(ctx context.Context, challenge []byte) (response []byte, err error)

	// Done reports whether the mechanism considers the exchange complete
	// from the client's side (some mechanisms, e.g. SCRAM, need to
	// validate a final server message after the server says "+OK").
	Done() bool
}

// mechanismStrength ranks mechanism names strongest-first for the ordered
// iteration in the USER/PASS-fallback algorithm (SPEC_FULL.md §4.4).
var mechanismStrength = []string{
	"SCRAM-SHA-512",
	"SCRAM-SHA-256",
	"XOAUTH2",
	"OAUTHBEARER",
	"PLAIN",
	"LOGIN",
	"ANONYMOUS",
}

// RankMechanisms orders the subset of serverMechs present in
// mechanismStrength, strongest first, dropping any the engine does not
// recognize.
func RankMechanisms(serverMechs map[string]struct{}) []string {
	var ranked []string
	for _, name := range mechanismStrength {
		if _, ok := serverMechs[name]; ok {
			ranked = append(ranked, name)
		}
	}
	return ranked
}
