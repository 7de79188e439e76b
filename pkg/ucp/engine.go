package ucp

import (
	"time"

	"github.com/Krajiyah/uds-sdk/pkg/session"
	"github.com/Krajiyah/uds-sdk/pkg/store"
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/Krajiyah/uds-sdk/pkg/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultIndicationTimeout bounds how long a session may stay in
// ProcedureInProgress waiting for the indication confirmation.
const DefaultIndicationTimeout = 30 * time.Second

// Indicator delivers a control point response to the remote device and
// blocks until the indication is confirmed or fails.
type Indicator interface {
	IndicateControlPoint(addr string, payload []byte) error
}

// Listener observes procedure outcomes.
type Listener interface {
	OnProcedureComplete(addr string, resp uds.ControlPointResponse)
	OnInternalError(err error)
}

// Engine interprets User Control Point writes, executes Register, Consent,
// and Delete against the user data store, and delivers each result through
// a single in flight indication per session.
type Engine struct {
	store     *store.UserStore
	indicator Indicator
	listener  Listener
	timeout   time.Duration
	log       *logrus.Entry
}

// NewEngine returns an engine over the store. listener may be nil.
func NewEngine(st *store.UserStore, indicator Indicator, listener Listener) *Engine {
	return &Engine{
		store:     st,
		indicator: indicator,
		listener:  listener,
		timeout:   DefaultIndicationTimeout,
		log:       logrus.WithField("component", "control-point"),
	}
}

// HandleWrite processes a control point write for the session. A nil
// return acknowledges the write; the procedure result follows by
// indication. Errors map to the immediate ATT write response and never
// enter ProcedureInProgress.
func (e *Engine) HandleWrite(s *session.Session, data []byte) error {
	if !s.Encrypted {
		return errors.Wrap(uds.ErrInsufficientEncryption, "control point write on unencrypted link")
	}
	if s.ControlPointCCCD&uds.CCCDIndicate == 0 {
		return errors.Wrap(uds.ErrCCCDImproperlyConfigured, "control point indications not configured")
	}
	if err := s.BeginProcedure(); err != nil {
		return err
	}
	req, err := uds.UnmarshalControlPointRequest(data)
	if err != nil {
		s.EndProcedure()
		return err
	}
	resp := e.execute(s, req)
	go e.deliver(s, resp)
	return nil
}

// deliver sends the result indication and releases ProcedureInProgress on
// any terminal outcome, confirmed or failed.
func (e *Engine) deliver(s *session.Session, resp uds.ControlPointResponse) {
	defer s.EndProcedure()
	err := util.Timeout(func() error {
		return e.indicator.IndicateControlPoint(s.Addr, resp.Marshal())
	}, e.timeout)
	if err != nil {
		e.log.WithError(err).WithField("addr", s.Addr).Error("control point indication failed")
		if e.listener != nil {
			e.listener.OnInternalError(errors.Wrap(err, "IndicateControlPoint issue: "))
		}
		return
	}
	if e.listener != nil {
		e.listener.OnProcedureComplete(s.Addr, resp)
	}
}

func (e *Engine) execute(s *session.Session, req uds.ControlPointRequest) uds.ControlPointResponse {
	resp := uds.ControlPointResponse{RequestOpCode: req.OpCode}
	switch req.OpCode {
	case uds.OpRegisterNewUser:
		resp.Value = e.registerNewUser(req, &resp)
	case uds.OpConsent:
		resp.Value = e.consent(s, req)
	case uds.OpDeleteUserData:
		resp.Value = e.deleteUserData(s)
	default:
		resp.Value = uds.ResponseOpCodeNotSupported
	}
	e.log.WithFields(logrus.Fields{"addr": s.Addr, "op": req.OpCode, "value": resp.Value}).Debug("procedure executed")
	return resp
}

func (e *Engine) registerNewUser(req uds.ControlPointRequest, resp *uds.ControlPointResponse) byte {
	if !uds.ValidConsentCode(req.ConsentCode) {
		return uds.ResponseInvalidParameter
	}
	userIndex, err := e.store.Register(req.ConsentCode)
	if err != nil {
		return uds.ResponseOperationFailed
	}
	resp.UserIndex = userIndex
	resp.HasUserIndex = true
	return uds.ResponseSuccess
}

func (e *Engine) consent(s *session.Session, req uds.ControlPointRequest) byte {
	if int(req.UserIndex) >= uds.MaxUsers || !e.store.Registered(req.UserIndex) {
		return uds.ResponseUserNotAuthorized
	}
	if !uds.ValidConsentCode(req.ConsentCode) {
		return uds.ResponseInvalidParameter
	}
	err := e.store.Authorize(req.UserIndex, req.ConsentCode)
	switch errors.Cause(err) {
	case nil:
		s.GrantConsent(req.UserIndex)
		s.SelectUser(req.UserIndex)
		return uds.ResponseSuccess
	case uds.ErrOperationFailed:
		return uds.ResponseOperationFailed
	default:
		return uds.ResponseUserNotAuthorized
	}
}

func (e *Engine) deleteUserData(s *session.Session) byte {
	selected := s.SelectedUser()
	if selected == uds.UnknownUserIndex {
		return uds.ResponseUserNotAuthorized
	}
	if err := e.store.Delete(selected); err != nil {
		return uds.ResponseUserNotAuthorized
	}
	s.ClearSelection(selected)
	s.RevokeConsent(selected)
	return uds.ResponseSuccess
}
