package health

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/orchestra/internal/events"
	"github.com/msageha/orchestra/internal/lock"
	"github.com/msageha/orchestra/internal/logging"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/notify"
	"github.com/msageha/orchestra/internal/scheduler"
)

var ErrUnknownAgent = errors.New("unknown agent")

// InteractionRecorder receives one record per probe.
type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, in model.Interaction) error
}

type Options struct {
	ObservationDelay time.Duration
	SettleDelay      time.Duration
	LaunchDelay      time.Duration
	// Defaults fill zero fields of each agent's Config.
	Defaults Config

	Publisher    events.Publisher
	Notifier     notify.Notifier
	Interactions InteractionRecorder
	Logger       *logging.Logger

	// AfterCheck, if set, receives a copy of the agent's record after each
	// check, outside the agent's lock.
	AfterCheck func(ctx context.Context, st AgentStatus)
}

// agentRecord holds the last committed status of one agent. A check works
// on a copy and commits it at every state change, so readers never wait
// for a probe in progress.
type agentRecord struct {
	mu     sync.RWMutex
	status AgentStatus
	loop   *scheduler.Loop
}

func (r *agentRecord) current() AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *agentRecord) commit(st AgentStatus) {
	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
}

// Supervisor owns the health fields of every registered agent. Checks of
// one agent are serialized; different agents are checked independently.
// Status reads return the last committed record without waiting for a check.
type Supervisor struct {
	comm   Communicator
	opts   Options
	logger *logging.Logger
	now    func() time.Time
	sleep  func(time.Duration)

	locks *lock.KeyedMutex

	mu         sync.RWMutex
	agents     map[string]*agentRecord
	recoveries map[string]RecoveryFunc
	running    bool
	runCtx     context.Context
}

func NewSupervisor(comm Communicator, opts Options) *Supervisor {
	if opts.ObservationDelay <= 0 {
		opts.ObservationDelay = DefaultObservationDelay
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.LaunchDelay <= 0 {
		opts.LaunchDelay = DefaultLaunchDelay
	}
	opts.Defaults = opts.Defaults.withDefaults(Config{})

	s := &Supervisor{
		comm:       comm,
		opts:       opts,
		logger:     opts.Logger.With("health"),
		now:        time.Now,
		sleep:      time.Sleep,
		locks:      lock.NewKeyedMutex(),
		agents:     make(map[string]*agentRecord),
		recoveries: make(map[string]RecoveryFunc),
	}
	s.recoveries[StrategyRestart] = s.restart
	s.recoveries[StrategyNotifyOnly] = s.notifyOnly
	return s
}

// Register starts supervising name at target. Re-registering resets the
// agent's record. If the supervisor is running, the agent's loop starts now.
func (s *Supervisor) Register(name, target string, cfg Config) error {
	if name == "" {
		return fmt.Errorf("register agent: name is required")
	}
	if target == "" {
		return fmt.Errorf("register agent %s: target is required", name)
	}
	cfg = cfg.withDefaults(s.opts.Defaults)

	s.stopLoop(name)

	now := s.now()
	rec := &agentRecord{status: AgentStatus{
		Name:         name,
		Target:       target,
		State:        StateHealthy,
		LastResponse: now,
		UpSince:      now,
		Config:       cfg,
	}}

	s.mu.Lock()
	s.agents[name] = rec
	running, runCtx := s.running, s.runCtx
	s.mu.Unlock()

	s.logger.Infof("registered agent=%s target=%s max_failures=%d strategy=%s interval=%s",
		name, target, cfg.MaxFailures, cfg.RecoveryStrategy, cfg.CheckInterval)

	if running {
		return s.startLoop(runCtx, name, cfg.CheckInterval)
	}
	return nil
}

// Deregister stops supervising name. It waits for an in-flight check.
func (s *Supervisor) Deregister(name string) error {
	s.stopLoop(name)

	s.mu.Lock()
	_, ok := s.agents[name]
	delete(s.agents, name)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("deregister %s: %w", name, ErrUnknownAgent)
	}

	s.locks.WithLock(name, func() {})
	s.locks.Forget(name)
	return nil
}

func (s *Supervisor) record(name string) (*agentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[name]
	return rec, ok
}

// Names returns the supervised agents in name order.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Status returns a copy of name's record.
func (s *Supervisor) Status(name string) (AgentStatus, bool) {
	rec, ok := s.record(name)
	if !ok {
		return AgentStatus{}, false
	}
	return rec.current(), true
}

// Snapshot returns copies of every record in name order.
func (s *Supervisor) Snapshot() []AgentStatus {
	names := s.Names()
	out := make([]AgentStatus, 0, len(names))
	for _, name := range names {
		if st, ok := s.Status(name); ok {
			out = append(out, st)
		}
	}
	return out
}

// CheckAgent runs one probe cycle for name and, when the failure limit is
// reached, the configured recovery. It returns the resulting state.
func (s *Supervisor) CheckAgent(ctx context.Context, name string) (State, error) {
	rec, ok := s.record(name)
	if !ok {
		return 0, fmt.Errorf("check %s: %w", name, ErrUnknownAgent)
	}

	var snapshot AgentStatus
	s.locks.WithLock(name, func() {
		st := rec.current()
		s.check(ctx, rec, &st)
		rec.commit(st)
		snapshot = st
	})

	if s.opts.AfterCheck != nil {
		s.opts.AfterCheck(ctx, snapshot)
	}
	return snapshot.State, nil
}

func (s *Supervisor) check(ctx context.Context, rec *agentRecord, st *AgentStatus) {
	healthy, latency := s.probe(ctx, st)
	st.LastCheck = s.now()
	st.LastProbeLatency = latency
	st.ProbesSent++
	s.recordProbe(ctx, st, healthy, latency)

	if healthy {
		st.ConsecutiveFailures = 0
		st.LastResponse = st.LastCheck
		s.setState(st, StateHealthy)
		return
	}

	st.ConsecutiveFailures++
	s.logger.Warnf("probe failed agent=%s failures=%d/%d", st.Name, st.ConsecutiveFailures, st.Config.MaxFailures)
	if st.ConsecutiveFailures < st.Config.MaxFailures {
		s.setState(st, StateSuspect)
		return
	}

	s.setState(st, StateUnhealthy)
	rec.commit(*st)
	s.runRecovery(ctx, rec, st)
}

// probe sends ProbeMessage, waits the observation delay and looks for the
// marker. A panicking communicator counts as a failed probe.
func (s *Supervisor) probe(ctx context.Context, st *AgentStatus) (healthy bool, latency time.Duration) {
	start := s.now()
	defer func() {
		latency = s.now().Sub(start)
		if r := recover(); r != nil {
			s.logger.Errorf("probe panic agent=%s panic=%v\n%s", st.Name, r, debug.Stack())
			healthy = false
		}
	}()

	if !s.comm.Send(ctx, st.Target, ProbeMessage) {
		return false, 0
	}
	s.sleep(s.opts.ObservationDelay)
	return containsMarker(s.comm.CaptureOutput(ctx, st.Target)), 0
}

func (s *Supervisor) recordProbe(ctx context.Context, st *AgentStatus, healthy bool, latency time.Duration) {
	if s.opts.Interactions == nil {
		return
	}
	in := model.Interaction{
		Timestamp:       st.LastCheck,
		FromAgent:       "supervisor",
		ToAgent:         st.Name,
		InteractionType: "health_probe",
		Content:         ProbeMessage,
		ResponseTime:    model.Float(latency.Seconds()),
		Success:         healthy,
	}
	if err := s.opts.Interactions.RecordInteraction(ctx, in); err != nil {
		s.logger.Warnf("record probe agent=%s error=%v", st.Name, err)
	}
}

func (s *Supervisor) runRecovery(ctx context.Context, rec *agentRecord, st *AgentStatus) {
	strategy := st.Config.RecoveryStrategy
	fn, ok := s.recoveryFor(strategy)
	if !ok {
		s.logger.Warnf("unknown recovery strategy agent=%s strategy=%s, no action taken", st.Name, strategy)
		s.publish(events.EventAgentRecovery, map[string]any{
			"agent": st.Name, "strategy": strategy, "outcome": "unknown_strategy",
		})
		return
	}

	s.setState(st, StateRecovering)
	rec.commit(*st)
	target := RecoveryTarget{Name: st.Name, Target: st.Target, ConsecutiveFailures: st.ConsecutiveFailures}
	recovered, err := s.safeRecover(ctx, fn, target)
	if err != nil {
		s.logger.Errorf("recovery error agent=%s strategy=%s error=%v", st.Name, strategy, err)
	}

	outcome := "unrecovered"
	if recovered {
		outcome = "recovered"
		now := s.now()
		st.ConsecutiveFailures = 0
		st.LastResponse = now
		st.UpSince = now
		s.setState(st, StateHealthy)
	} else {
		s.setState(st, StateUnhealthy)
	}

	data := map[string]any{"agent": st.Name, "strategy": strategy, "outcome": outcome}
	if err != nil {
		data["error"] = err.Error()
	}
	s.publish(events.EventAgentRecovery, data)
	s.logger.Infof("recovery finished agent=%s strategy=%s outcome=%s", st.Name, strategy, outcome)
}

func (s *Supervisor) safeRecover(ctx context.Context, fn RecoveryFunc, t RecoveryTarget) (recovered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			recovered = false
			err = fmt.Errorf("recovery panic: %v", r)
		}
	}()
	return fn(ctx, t)
}

func (s *Supervisor) setState(st *AgentStatus, to State) {
	from := st.State
	if from == to {
		return
	}
	st.State = to
	s.logger.Infof("state change agent=%s %s -> %s failures=%d", st.Name, from, to, st.ConsecutiveFailures)
	s.publish(events.EventAgentStateChanged, map[string]any{
		"agent":    st.Name,
		"from":     from.String(),
		"to":       to.String(),
		"failures": st.ConsecutiveFailures,
	})
}

func (s *Supervisor) publish(t events.EventType, data map[string]any) {
	if s.opts.Publisher != nil {
		s.opts.Publisher.Publish(t, data)
	}
}

// CheckAll checks every agent concurrently and returns the resulting
// states. A failure in one agent's check is logged and does not affect the
// others.
func (s *Supervisor) CheckAll(ctx context.Context) map[string]State {
	names := s.Names()
	results := make(map[string]State, len(names))
	var mu sync.Mutex

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error {
			state, err := s.checkContained(ctx, name)
			if err != nil {
				s.logger.Errorf("check failed agent=%s error=%v", name, err)
				return nil
			}
			mu.Lock()
			results[name] = state
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

func (s *Supervisor) checkContained(ctx context.Context, name string) (state State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panic: %v", r)
		}
	}()
	return s.CheckAgent(ctx, name)
}

// Start launches one loop per registered agent, each at the agent's own
// check interval. Agents registered later get a loop on registration.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already running")
	}
	s.running = true
	s.runCtx = ctx
	type entry struct {
		name     string
		interval time.Duration
	}
	var entries []entry
	for name, rec := range s.agents {
		entries = append(entries, entry{name, rec.current().Config.CheckInterval})
	}
	s.mu.Unlock()

	for _, e := range entries {
		if err := s.startLoop(ctx, e.name, e.interval); err != nil {
			return err
		}
	}
	s.logger.Infof("supervisor started agents=%d", len(entries))
	return nil
}

// Stop stops every agent loop, letting in-flight checks finish.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.running = false
	var loops []*scheduler.Loop
	for _, rec := range s.agents {
		if rec.loop != nil {
			loops = append(loops, rec.loop)
			rec.loop = nil
		}
	}
	s.mu.Unlock()

	for _, l := range loops {
		l.Stop()
	}
	s.logger.Infof("supervisor stopped")
}

func (s *Supervisor) startLoop(ctx context.Context, name string, interval time.Duration) error {
	loop := scheduler.NewLoop("health:"+name, interval, func(ctx context.Context) error {
		_, err := s.CheckAgent(ctx, name)
		return err
	}, s.opts.Logger)

	s.mu.Lock()
	rec, ok := s.agents[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("start loop %s: %w", name, ErrUnknownAgent)
	}
	rec.loop = loop
	s.mu.Unlock()

	return loop.Start(ctx)
}

func (s *Supervisor) stopLoop(name string) {
	s.mu.Lock()
	var loop *scheduler.Loop
	if rec, ok := s.agents[name]; ok {
		loop = rec.loop
		rec.loop = nil
	}
	s.mu.Unlock()
	if loop != nil {
		loop.Stop()
	}
}
