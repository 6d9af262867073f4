// Package engine runs a single ring attempt end-to-end: it opens a UDP
// endpoint, sends the INVITE, interprets responses and always tears the
// attempt down, either with CANCEL (still ringing) or ACK+BYE (answered).
// One engine owns one call and one socket; it knows nothing about other
// concurrent attempts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/sebas/sipring/internal/sip"
)

// Result is the terminal outcome of a ring attempt, produced exactly once.
type Result string

const (
	ResultAnswered  Result = "answered"
	ResultCancelled Result = "cancelled"
	ResultTimeout   Result = "timeout"
	ResultBusy      Result = "busy"
	ResultError     Result = "error"
)

// Call states. Terminated is absorbing.
const (
	StateIdle       = "IDLE"
	StateInviting   = "INVITING"
	StateRinging    = "RINGING"
	StateAnswered   = "ANSWERED"
	StateCanceling  = "CANCELING"
	StateTerminated = "TERMINATED"
)

// FSM event names. The allowed source states encode which requests are
// valid from which state: CANCEL only from INVITING/RINGING, BYE only
// after ANSWERED.
const (
	eventInvite    = "invite"
	eventRinging   = "ringing"
	eventAnswer    = "answer"
	eventCancel    = "cancel"
	eventTerminate = "terminate"
)

// Params are the connection parameters of one attempt, immutable for
// its lifetime.
type Params struct {
	TargetUser string
	TargetHost string
	TargetPort int

	CallerName string
	CallerUser string

	// LocalHost binds and advertises an explicit local address.
	LocalHost string
	// LocalPort is the local UDP port for the attempt. 0 picks an
	// ephemeral port.
	LocalPort int
	// AdvertisedHost, when set, is placed in SIP headers while the
	// socket binds to the wildcard address (NAT / reverse proxy).
	// Takes precedence over LocalHost.
	AdvertisedHost string

	UserAgent string
}

type inviteOutcome int

const (
	inviteFailed inviteOutcome = iota
	inviteRinging
	inviteAnswered
	inviteBusy
	inviteCancelled
)

// Engine drives one ring attempt. Create with New, run with Ring, and
// request cooperative cancellation with RequestCancel from any goroutine.
type Engine struct {
	params   Params
	resolver *AddrResolver
	onState  func(state string)

	builder *sip.Builder
	dialog  sip.Dialog
	states  *fsm.FSM

	conn   *net.UDPConn
	remote *net.UDPAddr
	inbox  chan string

	cancelRequested atomic.Bool

	// Phase bounds. Defaults follow the protocol flow; tests shrink them.
	inviteTimeout time.Duration
	cancelTimeout time.Duration
	byeTimeout    time.Duration
	recvTimeout   time.Duration
	pollInterval  time.Duration
}

// New creates an engine for one attempt. onState, if non-nil, is called
// on every state transition with the new state label; it must not block.
func New(params Params, resolver *AddrResolver, onState func(state string)) *Engine {
	if params.UserAgent == "" {
		params.UserAgent = "SIPring"
	}
	e := &Engine{
		params:        params,
		resolver:      resolver,
		onState:       onState,
		inviteTimeout: 10 * time.Second,
		cancelTimeout: 5 * time.Second,
		byeTimeout:    5 * time.Second,
		recvTimeout:   1 * time.Second,
		pollInterval:  500 * time.Millisecond,
	}
	e.states = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventInvite, Src: []string{StateIdle}, Dst: StateInviting},
			{Name: eventRinging, Src: []string{StateInviting}, Dst: StateRinging},
			{Name: eventAnswer, Src: []string{StateInviting, StateRinging}, Dst: StateAnswered},
			{Name: eventCancel, Src: []string{StateInviting, StateRinging}, Dst: StateCanceling},
			{Name: eventTerminate, Src: []string{StateIdle, StateInviting, StateRinging, StateAnswered, StateCanceling}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, ev *fsm.Event) {
				if e.onState != nil {
					e.onState(ev.Dst)
				}
			},
		},
	)
	return e
}

// State returns the current call state label.
func (e *Engine) State() string {
	return e.states.Current()
}

// RequestCancel asks the running attempt to stop. The flag is observed
// cooperatively at the engine's next poll point; there is no preemption.
func (e *Engine) RequestCancel() {
	e.cancelRequested.Store(true)
}

// Ring executes the attempt: INVITE, wait for ringing for up to the
// requested duration, then tear down. It always releases the UDP
// endpoint and always reaches TERMINATED, whatever the outcome.
func (e *Engine) Ring(duration time.Duration) Result {
	defer func() {
		e.close()
		e.transition(eventTerminate)
	}()

	if err := e.connect(); err != nil {
		slog.Error("[Engine] connect failed", "target", e.params.TargetHost, "error", err)
		return ResultError
	}

	switch e.sendInvite() {
	case inviteAnswered:
		// Answered before ring indication: valid outcome, hang up
		// immediately. The call's purpose is the ring, not a conversation.
		e.hangup()
		return ResultAnswered
	case inviteBusy:
		return ResultBusy
	case inviteCancelled:
		e.sendCancel()
		return ResultCancelled
	case inviteFailed:
		return ResultError
	}

	// Ringing. Poll for an answer or a cancellation until the duration
	// elapses; either way the attempt ends by cancelling the INVITE
	// unless it was answered.
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if e.cancelRequested.Load() {
			slog.Info("[Engine] cancel requested", "call_id", e.dialog.CallID)
			break
		}
		resp, ok := e.receive(e.pollInterval)
		if !ok {
			continue
		}
		if sip.StatusCode(resp) == 200 {
			slog.Info("[Engine] answered during ring", "call_id", e.dialog.CallID)
			if tag, ok := sip.ToTag(resp); ok {
				e.dialog.ToTag = tag
			}
			e.transition(eventAnswer)
			e.hangup()
			return ResultAnswered
		}
	}

	e.sendCancel()
	return ResultCancelled
}

// connect resolves the address to advertise, binds the UDP endpoint and
// starts the reader that queues inbound datagrams in arrival order.
func (e *Engine) connect() error {
	var advertise, bind string
	switch {
	case e.params.AdvertisedHost != "":
		advertise = e.params.AdvertisedHost
		bind = "0.0.0.0"
	case e.params.LocalHost != "":
		advertise = e.params.LocalHost
		bind = e.params.LocalHost
	default:
		ip, err := e.resolver.LocalIP(e.params.TargetHost, e.params.TargetPort)
		if err != nil {
			return err
		}
		advertise = ip
		bind = ip
	}

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(e.params.TargetHost, fmt.Sprint(e.params.TargetPort)))
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(bind), Port: e.params.LocalPort})
	if err != nil {
		return fmt.Errorf("bind %s:%d: %w", bind, e.params.LocalPort, err)
	}

	e.conn = conn
	e.remote = raddr
	e.inbox = make(chan string, 16)
	e.builder = &sip.Builder{
		TargetUser: e.params.TargetUser,
		TargetHost: e.params.TargetHost,
		TargetPort: e.params.TargetPort,
		CallerName: e.params.CallerName,
		CallerUser: e.params.CallerUser,
		LocalHost:  advertise,
		LocalPort:  conn.LocalAddr().(*net.UDPAddr).Port,
		UserAgent:  e.params.UserAgent,
	}

	go e.readLoop()

	slog.Info("[Engine] endpoint bound",
		"bind", conn.LocalAddr().String(),
		"advertise", fmt.Sprintf("%s:%d", advertise, e.builder.LocalPort),
	)
	return nil
}

func (e *Engine) close() {
	if e.conn != nil {
		_ = e.conn.Close()
	}
}

// readLoop queues inbound datagrams for sequential consumption. There
// is a single transaction in flight at a time, so arrival order is all
// the ordering we need.
func (e *Engine) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		// e.dialog belongs to the engine goroutine; only fields set
		// before this loop started are safe to touch here.
		select {
		case e.inbox <- string(buf[:n]):
		default:
			slog.Warn("[Engine] inbox full, dropping datagram", "remote", e.remote.String())
		}
	}
}

func (e *Engine) send(msg string) {
	if _, err := e.conn.WriteToUDP([]byte(msg), e.remote); err != nil {
		slog.Warn("[Engine] send failed", "error", err)
		return
	}
	method, _, _ := strings.Cut(msg, " ")
	slog.Debug("[Engine] sent", "method", method, "target", e.remote.String())
}

func (e *Engine) receive(timeout time.Duration) (string, bool) {
	select {
	case resp := <-e.inbox:
		slog.Debug("[Engine] received", "code", sip.StatusCode(resp))
		return resp, true
	case <-time.After(timeout):
		return "", false
	}
}

func (e *Engine) transition(event string) {
	if err := e.states.Event(context.Background(), event); err != nil {
		slog.Debug("[Engine] state transition rejected", "event", event, "state", e.states.Current())
	}
}

// sendInvite sends the call-setup request and waits up to inviteTimeout
// for a signal: 100 is ignored, 180/183 means ringing, 200 means
// answered before ring indication, 486/600 means busy, any other >=400
// is a protocol failure. Silence for the whole bound is a failure.
func (e *Engine) sendInvite() inviteOutcome {
	e.dialog = sip.Dialog{
		CallID:  sip.NewCallID(),
		FromTag: sip.NewTag(),
		Branch:  sip.NewBranch(),
		CSeq:    1,
	}
	e.transition(eventInvite)
	e.send(e.builder.Invite(&e.dialog))

	deadline := time.Now().Add(e.inviteTimeout)
	for time.Now().Before(deadline) {
		if e.cancelRequested.Load() {
			return inviteCancelled
		}
		resp, ok := e.receive(e.recvTimeout)
		if !ok {
			continue
		}
		code := sip.StatusCode(resp)
		switch {
		case code == 100:
			continue
		case code == 180 || code == 183:
			slog.Info("[Engine] phone is ringing", "call_id", e.dialog.CallID, "code", code)
			e.transition(eventRinging)
			return inviteRinging
		case code == 200:
			slog.Info("[Engine] answered during invite", "call_id", e.dialog.CallID)
			if tag, ok := sip.ToTag(resp); ok {
				e.dialog.ToTag = tag
			}
			e.transition(eventAnswer)
			return inviteAnswered
		case code == 486 || code == 600:
			slog.Info("[Engine] target busy", "call_id", e.dialog.CallID, "code", code)
			return inviteBusy
		case code >= 400:
			slog.Warn("[Engine] invite rejected", "call_id", e.dialog.CallID, "code", code)
			return inviteFailed
		}
	}

	slog.Warn("[Engine] no response to invite", "call_id", e.dialog.CallID)
	return inviteFailed
}

// sendCancel cancels the outstanding INVITE transaction and waits up to
// cancelTimeout for both the 200 matching the CANCEL and the 487 for
// the INVITE. Absence of either is tolerated: the phone may simply stop
// ringing without confirming.
func (e *Engine) sendCancel() {
	if err := e.states.Event(context.Background(), eventCancel); err != nil {
		slog.Warn("[Engine] cannot cancel", "state", e.states.Current())
		return
	}
	e.send(e.builder.Cancel(&e.dialog))

	deadline := time.Now().Add(e.cancelTimeout)
	var got200, got487 bool
	for time.Now().Before(deadline) && !(got200 && got487) {
		resp, ok := e.receive(e.recvTimeout)
		if !ok {
			continue
		}
		switch sip.StatusCode(resp) {
		case 200:
			if strings.Contains(resp, "CANCEL") {
				got200 = true
			}
		case 487:
			got487 = true
		}
	}
}

// hangup acknowledges the answer and immediately terminates the call
// with BYE, then waits briefly for its 200.
func (e *Engine) hangup() {
	if e.dialog.ToTag == "" {
		slog.Warn("[Engine] no to-tag, cannot send BYE", "call_id", e.dialog.CallID)
		return
	}
	e.send(e.builder.Ack(&e.dialog))
	e.send(e.builder.Bye(&e.dialog))

	deadline := time.Now().Add(e.byeTimeout)
	for time.Now().Before(deadline) {
		resp, ok := e.receive(e.recvTimeout)
		if ok && sip.StatusCode(resp) == 200 {
			return
		}
	}
}
