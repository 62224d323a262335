package tpm2

import (
	"fmt"

	gotpm "github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/wbibile/LetsConfide/pkg/config"
)

// PCRHashAlgID maps a config.HashType to the go-tpm algorithm ID.
func PCRHashAlgID(h config.HashType) (gotpm.TPMAlgID, error) {
	switch h {
	case config.SHA256:
		return gotpm.TPMAlgSHA256, nil
	case config.SHA1:
		return gotpm.TPMAlgSHA1, nil
	default:
		return 0, fmt.Errorf("tpm2: unsupported pcr hash %q", h)
	}
}

// pcrSelection builds the TPMLPCRSelection the spec derives from a
// headers record: a single TPMS_PCR_SELECTION with the configured hash
// and a 3-byte mask taken from the lower 24 bits of PCRSelection.
func pcrSelection(headers config.Headers) (gotpm.TPMLPCRSelection, error) {
	if headers.PCRSelection == 0 || headers.PCRSelection > config.MaxPCRSelection {
		return gotpm.TPMLPCRSelection{}, ErrInvalidPCRSelection
	}
	algID, err := PCRHashAlgID(headers.PCRHash)
	if err != nil {
		return gotpm.TPMLPCRSelection{}, err
	}
	mask := headers.PCRMask()
	return gotpm.TPMLPCRSelection{
		PCRSelections: []gotpm.TPMSPCRSelection{{
			Hash:      algID,
			PCRSelect: mask[:],
		}},
	}, nil
}

// PolicySession is a live PCR policy session bound to a PCR selection.
// It must be closed on every exit path of the code that opened it;
// leaving it open leaks a TPM session slot.
type PolicySession struct {
	gateway *Gateway
	session gotpm.Session
	closer  func() error
}

// OpenPCRPolicySession starts a policy session and immediately binds it
// to headers' PCR selection via PolicyPCR, matching §4.D: a 16-byte
// caller nonce, SHA-256 session hash, null bind/salt/symmetric, and an
// empty policy digest so the TPM computes the current PCR digest.
func OpenPCRPolicySession(gw *Gateway, headers config.Headers) (*PolicySession, error) {
	sel, err := pcrSelection(headers)
	if err != nil {
		return nil, err
	}

	var session gotpm.Session
	var closer func() error
	err = gw.Do(func(t transport.TPMCloser) error {
		var e error
		session, closer, e = gotpm.PolicySession(t, gotpm.TPMAlgSHA256, 16)
		if e != nil {
			return fmt.Errorf("tpm2: start auth session failed: %w", e)
		}
		_, e = gotpm.PolicyPCR{
			PolicySession: session.Handle(),
			Pcrs:          sel,
			PcrDigest:     gotpm.TPM2BDigest{},
		}.Execute(t)
		if e != nil {
			_ = closer()
			return fmt.Errorf("tpm2: policy pcr failed: %w", e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &PolicySession{gateway: gw, session: session, closer: closer}, nil
}

// Session returns the underlying go-tpm session for use as a command's
// authorization value.
func (p *PolicySession) Session() gotpm.Session {
	return p.session
}

// Digest returns the session's current policy digest via
// TPM2_PolicyGetDigest.
func (p *PolicySession) Digest() (gotpm.TPM2BDigest, error) {
	var digest gotpm.TPM2BDigest
	err := p.gateway.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.PolicyGetDigest{PolicySession: p.session.Handle()}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: policy get digest failed: %w", e)
		}
		digest = resp.PolicyDigest
		return nil
	})
	return digest, err
}

// Close flushes the policy session. It must be called on every exit
// path once the session is no longer needed.
func (p *PolicySession) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
