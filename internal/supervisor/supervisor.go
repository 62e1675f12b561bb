package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/habistack/stackctl/internal/config"
	"github.com/habistack/stackctl/internal/detector"
	"github.com/habistack/stackctl/internal/history"
	"github.com/habistack/stackctl/internal/metrics"
	"github.com/habistack/stackctl/internal/process"
	"github.com/habistack/stackctl/internal/proxy"
)

// System abstracts the OS-facing operations the supervisor performs, so the
// orchestration logic can be exercised without spawning real processes or
// binding real ports.
type System interface {
	// Launch starts the service as a detached child and returns its PID.
	Launch(spec process.Spec) (int, error)
	// Alive reports whether the PID refers to a running process.
	Alive(pid int) bool
	// Terminate best-effort kills the process (group), escalating after wait.
	Terminate(pid int, wait time.Duration) error
	// PortBound reports whether something is listening on the local port.
	PortBound(port int) bool
	// PortOwner returns the PID listening on the port, or detector.ErrNoOwner.
	PortOwner(port int) (int, error)
}

// osSystem is the production System backed by the process and detector
// packages.
type osSystem struct{}

func (osSystem) Launch(spec process.Spec) (int, error) { return process.Launch(spec) }
func (osSystem) Alive(pid int) bool                    { return process.Alive(pid) }
func (osSystem) Terminate(pid int, wait time.Duration) error {
	return process.Terminate(pid, wait)
}
func (osSystem) PortBound(port int) bool {
	ok, _ := detector.PortDetector{Port: port}.Alive()
	return ok
}
func (osSystem) PortOwner(port int) (int, error) { return detector.OwnerPID(port) }

// ServiceStatus is the port-occupancy view of one service. It deliberately
// ignores the persisted PID table: status reflects reality, not history.
type ServiceStatus struct {
	Name    string `json:"name"`
	Port    int    `json:"port"`
	Route   string `json:"route"`
	Running bool   `json:"running"`
	URL     string `json:"url,omitempty"`
}

// StackStatus is the full status report: per-service liveness plus the
// registrar's view of the world.
type StackStatus struct {
	Services []ServiceStatus `json:"services"`
	Routes   string          `json:"routes"`
	DNSName  string          `json:"dns_name"`
	Online   bool            `json:"online"`
}

// Supervisor owns the lifecycle of the fixed service stack. All operations
// are strictly sequential; concurrent invocations are not guarded against.
type Supervisor struct {
	cfg       *config.Config
	table     *process.Table
	registrar proxy.Registrar
	sys       System
	sink      history.Sink
	log       *slog.Logger
	out       io.Writer
	sleep     func(time.Duration)
}

// New builds a supervisor with production defaults: real processes, real
// port probes and the tailscale registrar.
func New(cfg *config.Config) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		table:     process.NewTable(cfg.PIDFile),
		registrar: proxy.NewTailscale(cfg.TailscaleBin, nil),
		sys:       osSystem{},
		log:       slog.Default(),
		out:       os.Stdout,
		sleep:     time.Sleep,
	}
}

// SetRegistrar replaces the proxy registrar (tests, alternative meshes).
func (s *Supervisor) SetRegistrar(r proxy.Registrar) { s.registrar = r }

// SetSystem replaces the OS seam (tests).
func (s *Supervisor) SetSystem(sys System) { s.sys = sys }

// SetSink attaches an action history sink. nil disables recording.
func (s *Supervisor) SetSink(sink history.Sink) { s.sink = sink }

// SetLogger replaces the slog logger.
func (s *Supervisor) SetLogger(l *slog.Logger) { s.log = l }

// SetOutput redirects the human-readable report stream (default stdout).
func (s *Supervisor) SetOutput(w io.Writer) { s.out = w }

// SetSleep replaces the settling-delay clock (tests).
func (s *Supervisor) SetSleep(f func(time.Duration)) { s.sleep = f }

// Start brings up the whole stack: terminate anything left from a previous
// run, then launch each service in order and verify it bound its port. The
// first service that fails aborts the remaining launches (fail-fast). On
// success the proxy routes are registered; registration failures only warn.
func (s *Supervisor) Start(ctx context.Context) error {
	// Clean slate, but leave the routes alone: they are re-registered below.
	s.terminateAll(ctx)

	s.table.Reset()
	if err := s.table.Save(); err != nil {
		return fmt.Errorf("reset pid table: %w", err)
	}

	for _, spec := range s.cfg.Services {
		if err := s.startOne(ctx, spec); err != nil {
			metrics.IncStartFailure(spec.Name)
			s.record(ctx, history.Record{Action: history.ActionStart, Service: spec.Name, Detail: err.Error()})
			fmt.Fprintf(s.out, "FAILED to start %s: %v\n", spec.Name, err)
			return fmt.Errorf("start %s: %w", spec.Name, err)
		}
	}

	s.syncRoutes(ctx)
	fmt.Fprintf(s.out, "all %d services running\n", len(s.cfg.Services))
	return nil
}

// startOne launches a single service and confirms it bound its port.
func (s *Supervisor) startOne(ctx context.Context, spec process.Spec) error {
	if s.sys.PortBound(spec.Port) {
		// Evict whoever holds the port, then give the OS a moment to
		// release it. The check-kill-launch sequence is racy against
		// third-party processes; that race is accepted (see DESIGN.md).
		if pid, err := s.sys.PortOwner(spec.Port); err == nil {
			s.log.Warn("port already bound, terminating owner",
				"service", spec.Name, "port", spec.Port, "pid", pid)
			if terr := s.sys.Terminate(pid, s.cfg.KillWait); terr != nil {
				s.log.Warn("terminate port owner failed", "pid", pid, "error", terr)
			}
		} else if !errors.Is(err, detector.ErrNoOwner) {
			s.log.Warn("port owner lookup failed", "port", spec.Port, "error", err)
		}
		s.sleep(s.cfg.SettleDelay)
	}

	pid, err := s.sys.Launch(spec)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	s.table.Append(pid)
	if err := s.table.Save(); err != nil {
		s.log.Warn("persist pid table failed", "error", err)
	}

	s.sleep(s.cfg.SettleDelay)

	if !s.sys.Alive(pid) {
		return fmt.Errorf("process %d exited during settling window", pid)
	}
	if !s.sys.PortBound(spec.Port) {
		return fmt.Errorf("process %d is alive but port %d is not bound", pid, spec.Port)
	}

	metrics.IncStart(spec.Name)
	s.record(ctx, history.Record{Action: history.ActionStart, Service: spec.Name, PID: pid, OK: true})
	fmt.Fprintf(s.out, "started %s (pid %d) on port %d\n", spec.Name, pid, spec.Port)
	return nil
}

// Stop terminates every known service process and clears the proxy routes.
// Every step is best-effort: errors are logged and discarded, never
// surfaced, so stop always succeeds.
func (s *Supervisor) Stop(ctx context.Context) {
	s.terminateAll(ctx)

	if err := s.registrar.ResetRoutes(ctx); err != nil {
		// deliberate: route cleanup is best-effort
		s.log.Warn("route reset failed", "error", err)
	}
	fmt.Fprintln(s.out, "all services stopped")
}

// terminateAll kills everything the persisted table knows about, removes
// the table, then sweeps the fixed ports for orphans the table missed.
func (s *Supervisor) terminateAll(ctx context.Context) {
	if err := s.table.Load(); err != nil {
		s.log.Warn("load pid table failed", "error", err)
	}
	for _, pid := range s.table.PIDs() {
		if !s.sys.Alive(pid) {
			continue
		}
		if err := s.sys.Terminate(pid, s.cfg.StopWait); err != nil {
			// deliberate: termination is best-effort
			s.log.Warn("terminate failed", "pid", pid, "error", err)
		}
		metrics.IncStop("pid")
		s.record(ctx, history.Record{Action: history.ActionStop, PID: pid, OK: true})
	}
	if err := s.table.Remove(); err != nil {
		s.log.Warn("remove pid table failed", "error", err)
	}
	s.table.Reset()

	// Second pass by port ownership: catches processes launched by an
	// earlier, differently-invoked run that never made it into the table.
	for _, spec := range s.cfg.Services {
		pid, err := s.sys.PortOwner(spec.Port)
		if err != nil {
			if !errors.Is(err, detector.ErrNoOwner) {
				s.log.Warn("port owner lookup failed", "port", spec.Port, "error", err)
			}
			continue
		}
		s.log.Info("terminating orphan port owner", "service", spec.Name, "port", spec.Port, "pid", pid)
		if err := s.sys.Terminate(pid, s.cfg.StopWait); err != nil {
			s.log.Warn("terminate orphan failed", "pid", pid, "error", err)
		}
		metrics.IncStop(spec.Name)
		s.record(ctx, history.Record{Action: history.ActionStop, Service: spec.Name, PID: pid, OK: true})
	}
}

// Restart is stop, a settling pause, then start. Purely compositional.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.Stop(ctx)
	s.sleep(s.cfg.SettleDelay)
	return s.Start(ctx)
}

// SyncRoutes re-registers the proxy routes without touching any service
// process. Failures are reported as warnings; the operation itself never
// fails.
func (s *Supervisor) SyncRoutes(ctx context.Context) {
	s.syncRoutes(ctx)
}

func (s *Supervisor) syncRoutes(ctx context.Context) {
	ok := true
	if err := s.registrar.ResetRoutes(ctx); err != nil {
		s.log.Warn("route reset failed", "error", err)
		ok = false
	}
	for _, spec := range s.cfg.Services {
		if spec.Route == "" {
			continue
		}
		if err := s.registrar.RegisterRoute(ctx, spec.Route, spec.Target()); err != nil {
			// Registration stays non-fatal to keep start semantics, but it
			// is surfaced as a warning instead of vanishing.
			s.log.Warn("route registration failed",
				"service", spec.Name, "route", spec.Route, "error", err)
			ok = false
			continue
		}
		fmt.Fprintf(s.out, "registered route %s -> %s\n", spec.Route, spec.Target())
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	metrics.IncRouteSync(outcome)
	s.record(ctx, history.Record{Action: history.ActionRouteSync, OK: ok})
}

// Status reports per-service port occupancy and the registrar's current
// view. Registrar failures degrade to placeholders instead of propagating.
func (s *Supervisor) Status(ctx context.Context) StackStatus {
	st := StackStatus{}

	ident, err := s.registrar.SelfIdentity(ctx)
	if err != nil {
		s.log.Debug("identity query failed", "error", err)
	} else {
		st.DNSName = ident.DNSName
		st.Online = ident.Online
	}

	running := 0
	for _, spec := range s.cfg.Services {
		svc := ServiceStatus{Name: spec.Name, Port: spec.Port, Route: spec.Route}
		svc.Running = s.sys.PortBound(spec.Port)
		if svc.Running {
			running++
		}
		if st.DNSName != "" && spec.Route != "" {
			svc.URL = "https://" + st.DNSName + spec.Route
		}
		st.Services = append(st.Services, svc)
	}
	metrics.SetServicesRunning(running)

	routes, err := s.registrar.RouteTable(ctx)
	if err != nil {
		s.log.Debug("route table query failed", "error", err)
		routes = ""
	}
	st.Routes = routes
	return st
}

// record appends to the history sink when one is attached.
func (s *Supervisor) record(ctx context.Context, rec history.Record) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Append(ctx, rec); err != nil {
		s.log.Warn("history append failed", "error", err)
	}
}
