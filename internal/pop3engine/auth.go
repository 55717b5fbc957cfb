package pop3engine

import (
	"context"
	"encoding/base64"
)

// MechanismFactory builds a Mechanism for a given server-advertised name,
// or returns (nil, false) if the caller has no implementation for it. The
// Authenticator never constructs mechanisms itself; callers supply the
// factories (typically backed by sasladapter.go/scramadapter.go) so the
// Engine package never needs to know a caller's credentials up front.
type MechanismFactory func(name string) (Mechanism, bool)

// Authenticator drives the client-level authentication algorithm described
// in SPEC_FULL.md §4.4: APOP, then ranked SASL mechanisms, then USER/PASS.
// The Engine itself exposes no single "authenticate" operation; this type
// is the building-block composition spec.md §4.4 calls for.
type Authenticator struct {
	engine *Engine
}

// NewAuthenticator returns an Authenticator bound to engine.
func NewAuthenticator(engine *Engine) *Authenticator {
	return &Authenticator{engine: engine}
}

// Authenticate runs APOP (if offered), then SASL (if offered and factory
// supplies a usable mechanism), then USER/PASS, stopping at the first
// success. On success it re-queries capabilities, populates MessageCount,
// and opportunistically probes UIDL, per SPEC_FULL.md §4.4.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string, mechanisms MechanismFactory) error {
	e := a.engine
	if e.state != StateConnected {
		return &StateError{Operation: "Authenticate", State: e.state}
	}

	utf8 := e.caps.Has(CapUTF8) || e.caps.Has(CapUTF8User)
	preparedUser, err := PrepareCredential(username, utf8)
	if err != nil {
		return err
	}
	preparedPass, err := PrepareCredential(password, utf8)
	if err != nil {
		return err
	}

	var attempts []string

	if e.caps.Has(CapApop) && e.meta.ApopToken != "" {
		attempts = append(attempts, "APOP")
		if err := a.tryApop(ctx, preparedUser, preparedPass); err == nil {
			return a.finishAuthentication(ctx)
		}
	}

	if e.caps.Has(CapSasl) && mechanisms != nil {
		for _, name := range RankMechanisms(e.meta.AuthMechanism) {
			mech, ok := mechanisms(name)
			if !ok {
				continue
			}
			attempts = append(attempts, name)
			if err := a.trySasl(ctx, mech); err == nil {
				return a.finishAuthentication(ctx)
			}
		}
	}

	attempts = append(attempts, "USER/PASS")
	if err := a.tryUserPass(ctx, preparedUser, preparedPass); err != nil {
		notify(e.observer, Event{Kind: EventAuthenticationFailed, Cause: err})
		return &AuthenticationError{Attempts: attempts, Last: err}
	}
	return a.finishAuthentication(ctx)
}

func (a *Authenticator) tryApop(ctx context.Context, username, password string) error {
	e := a.engine
	digest := ComposeApopDigest(e.meta.ApopToken, password)
	e.redactor.SetAuthenticating(true)
	defer e.redactor.SetAuthenticating(false)

	cmd := e.QueueCommand(NewCommand("APOP %s %s", username, digest))
	if err := e.Run(ctx, false); err != nil {
		return err
	}
	if cmd.Status != StatusOk {
		return &CommandError{Command: "APOP", StatusText: cmd.StatusText}
	}
	return nil
}

func (a *Authenticator) tryUserPass(ctx context.Context, username, password string) error {
	e := a.engine
	e.redactor.SetAuthenticating(true)
	defer e.redactor.SetAuthenticating(false)

	userCmd := e.QueueCommand(NewCommand("USER %s", username))
	if err := e.Run(ctx, false); err != nil {
		return err
	}
	if userCmd.Status != StatusOk {
		return &CommandError{Command: "USER", StatusText: userCmd.StatusText}
	}

	passCmd := e.QueueCommand(NewCommand("PASS %s", password))
	if err := e.Run(ctx, false); err != nil {
		return err
	}
	if passCmd.Status != StatusOk {
		return &CommandError{Command: "PASS", StatusText: passCmd.StatusText}
	}
	return nil
}

// trySasl drives the AUTH <mech> challenge/response loop described in
// SPEC_FULL.md §4.4: while the server answers with a Continue ("+ <b64>")
// status, decode the challenge, feed it to mech, and write its base64
// response on its own line.
func (a *Authenticator) trySasl(ctx context.Context, mech Mechanism) error {
	e := a.engine
	e.redactor.SetAuthenticating(true)
	defer e.redactor.SetAuthenticating(false)

	ir, err := mech.Start(ctx)
	if err != nil {
		return err
	}

	text := "AUTH " + mech.Name()
	if ir != nil {
		if len(ir) == 0 {
			text += " ="
		} else {
			text += " " + base64.StdEncoding.EncodeToString(ir)
		}
	}

	cmd := e.QueueCommand(NewCommand(text))
	if err := e.Run(ctx, false); err != nil {
		return err
	}

	for cmd.Status == StatusContinue {
		challenge, err := base64.StdEncoding.DecodeString(cmd.StatusText)
		if err != nil {
			perr := protocolErrorf(err, "invalid base64 SASL challenge")
			_ = e.Disconnect(ctx, perr)
			return perr
		}
		resp, err := mech.Next(ctx, challenge)
		if err != nil {
			return err
		}
		cmd = e.QueueCommand(NewCommand(base64.StdEncoding.EncodeToString(resp)))
		if err := e.Run(ctx, false); err != nil {
			return err
		}
	}

	if cmd.Status != StatusOk {
		return &CommandError{Command: "AUTH " + mech.Name(), StatusText: cmd.StatusText}
	}
	if !mech.Done() {
		perr := protocolErrorf(nil, "%s: server said OK before the client validated completion", mech.Name())
		_ = e.Disconnect(ctx, perr)
		return perr
	}
	return nil
}

// finishAuthentication performs the post-authentication initialization
// named in SPEC_FULL.md §4.4: transition to Transaction, re-query
// capabilities (authentication may expose new ones), populate MessageCount
// via STAT, and opportunistically probe UIDL.
func (a *Authenticator) finishAuthentication(ctx context.Context) error {
	e := a.engine
	e.markAuthenticated()
	notify(e.observer, Event{Kind: EventAuthenticationSucceeded})

	e.QueryCapabilities()
	if err := e.Run(ctx, false); err != nil {
		return err
	}

	statCmd := e.Stat()
	if err := e.Run(ctx, false); err != nil {
		return err
	}
	if statCmd.Status != StatusOk {
		return &CommandError{Command: "STAT", StatusText: statCmd.StatusText}
	}

	count, _ := e.MessageCount()
	if count > 0 && !e.caps.Has(CapUIDL) {
		uidlCmd, err := e.Uidl(0)
		if err == nil {
			runErr := e.Run(ctx, false)
			e.probed.mark(ProbedUIDL)
			if runErr != nil {
				return runErr
			}
			// A -ERR response is swallowed here: the probe is now
			// recorded, so future Uidl calls fail fast with
			// NotSupportedError instead of touching the wire again.
			_ = uidlCmd
		}
	}

	return nil
}
