package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	"github.com/vulpemventures/vault-cosigner/pkg/framing"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

const (
	RevocationTarget TargetKind = iota
	UnvaultTarget
	SpendTarget
)

const (
	SessionDisconnected SessionState = iota
	SessionConnected
	SessionSigning
	SessionSigned
)

const DefaultProbeInterval = time.Second

var (
	targetKindString = map[TargetKind]string{
		RevocationTarget: "revocation",
		UnvaultTarget:    "unvault",
		SpendTarget:      "spend",
	}
	sessionStateString = map[SessionState]string{
		SessionDisconnected: "disconnected",
		SessionConnected:    "connected",
		SessionSigning:      "signing",
		SessionSigned:       "signed",
	}
)

type TargetKind int

func (k TargetKind) String() string {
	return targetKindString[k]
}

type SessionState int

func (s SessionState) String() string {
	return sessionStateString[s]
}

// SigningTarget is what a signing session signs. Only the field related to
// its kind is set.
type SigningTarget struct {
	Kind          TargetKind
	RevocationTxs *vault.RevocationTransactions
	Tx            *psbt.Packet
}

func NewRevocationTarget(txs *vault.RevocationTransactions) SigningTarget {
	return SigningTarget{Kind: RevocationTarget, RevocationTxs: txs}
}

func NewUnvaultTarget(tx *psbt.Packet) SigningTarget {
	return SigningTarget{Kind: UnvaultTarget, Tx: tx}
}

func NewSpendTarget(tx *psbt.Packet) SigningTarget {
	return SigningTarget{Kind: SpendTarget, Tx: tx}
}

func (t SigningTarget) validate() error {
	switch t.Kind {
	case RevocationTarget:
		if t.RevocationTxs == nil {
			return ErrMissingTarget
		}
	case UnvaultTarget, SpendTarget:
		if t.Tx == nil || t.Tx.UnsignedTx == nil {
			return ErrMissingTarget
		}
	default:
		return fmt.Errorf("unknown signing target kind %d", t.Kind)
	}
	return nil
}

func (t SigningTarget) sign(
	ctx context.Context, signer ports.Signer,
) (SigningTarget, error) {
	switch t.Kind {
	case RevocationTarget:
		signed, err := signer.SignRevocationTxs(ctx, t.RevocationTxs)
		if err != nil {
			return SigningTarget{}, err
		}
		if err := checkRevocationTxs(t.RevocationTxs, signed); err != nil {
			return SigningTarget{}, err
		}
		return NewRevocationTarget(signed), nil
	default:
		signFn := signer.SignUnvaultTx
		if t.Kind == SpendTarget {
			signFn = signer.SignSpendTx
		}
		signed, err := signFn(ctx, t.Tx)
		if err != nil {
			return SigningTarget{}, err
		}
		if err := checkTx(t.Tx, signed); err != nil {
			return SigningTarget{}, err
		}
		return SigningTarget{Kind: t.Kind, Tx: signed}, nil
	}
}

// SigningSession drives one signing operation to completion while
// tolerating device disconnections: it connects to the device, probes it
// and sends the signing request, retrying after reconnection if the
// transport fails meanwhile.
type SigningSession struct {
	signer        ports.Signer
	target        SigningTarget
	probeInterval time.Duration
	listener      func(SessionState)

	state  SessionState
	signed SigningTarget
	lock   *sync.RWMutex

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func NewSigningSession(
	signer ports.Signer, target SigningTarget, probeInterval time.Duration,
) (*SigningSession, error) {
	if signer == nil {
		return nil, fmt.Errorf("missing signer")
	}
	if err := target.validate(); err != nil {
		return nil, err
	}
	if probeInterval <= 0 {
		probeInterval = DefaultProbeInterval
	}

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("signing session: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("signing session: %s", format)
		log.WithError(err).Warnf(format, a...)
	}

	state := SessionDisconnected
	if signer.IsConnected() {
		state = SessionConnected
	}
	return &SigningSession{
		signer:        signer,
		target:        target,
		probeInterval: probeInterval,
		state:         state,
		lock:          &sync.RWMutex{},
		log:           logFn,
		warn:          warnFn,
	}, nil
}

// OnStateChange registers a listener notified on every state transition.
// It must be called before Run.
func (s *SigningSession) OnStateChange(listener func(SessionState)) {
	s.listener = listener
}

func (s *SigningSession) State() SessionState {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state
}

// Run ticks every probe interval until the target is signed, the context is
// canceled or a non transport error occurs.
func (s *SigningSession) Run(ctx context.Context) (SigningTarget, error) {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		done, err := s.transition(ctx)
		if err != nil {
			return SigningTarget{}, err
		}
		if done {
			return s.signed, nil
		}

		select {
		case <-ctx.Done():
			return SigningTarget{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SigningSession) transition(ctx context.Context) (bool, error) {
	switch s.State() {
	case SessionDisconnected:
		if err := s.signer.Connect(ctx); err != nil {
			if isRecoverable(err) {
				s.log("device not reachable: %s", err)
				return false, nil
			}
			return false, err
		}
		s.setState(SessionConnected)
		return false, nil

	case SessionConnected:
		if err := s.signer.Ping(ctx); err != nil {
			s.warn(err, "liveness probe failed")
			s.signer.Reset()
			s.setState(SessionDisconnected)
			return false, nil
		}

		s.setState(SessionSigning)
		signed, err := s.target.sign(ctx, s.signer)
		if err != nil {
			if isRecoverable(err) {
				s.warn(err, "lost device while signing %s tx(s)", s.target.Kind)
				s.setState(SessionDisconnected)
				return false, nil
			}
			s.setState(SessionConnected)
			return false, err
		}
		s.signed = signed
		s.setState(SessionSigned)
		return true, nil

	case SessionSigned:
		return true, nil
	}

	return false, fmt.Errorf("unexpected session state %d", s.State())
}

func (s *SigningSession) setState(state SessionState) {
	s.lock.Lock()
	changed := s.state != state
	s.state = state
	s.lock.Unlock()

	if changed {
		s.log("%s", state)
		if s.listener != nil {
			s.listener(state)
		}
	}
}

// isRecoverable returns whether the error is due to the device being
// unreachable, and therefore the operation can be retried after reconnecting.
func isRecoverable(err error) bool {
	return framing.IsTransportError(err) ||
		errors.Is(err, ports.ErrSignerNotConnected)
}

func checkTx(expected, signed *psbt.Packet) error {
	if signed == nil || signed.UnsignedTx == nil {
		return ErrMissingSignatures
	}
	if expected.UnsignedTx.TxHash() != signed.UnsignedTx.TxHash() {
		return fmt.Errorf(
			"%w: expected %s, got %s", ErrUnexpectedTx,
			expected.UnsignedTx.TxHash(), signed.UnsignedTx.TxHash(),
		)
	}
	for _, in := range signed.Inputs {
		if len(in.PartialSigs) > 0 {
			return nil
		}
	}
	return fmt.Errorf("%w %s", ErrMissingSignatures, signed.UnsignedTx.TxHash())
}

func checkRevocationTxs(expected, signed *vault.RevocationTransactions) error {
	if signed == nil {
		return ErrMissingSignatures
	}
	signedTxs := signed.Txs()
	for i, tx := range expected.Txs() {
		if err := checkTx(tx, signedTxs[i]); err != nil {
			return err
		}
	}
	return nil
}
