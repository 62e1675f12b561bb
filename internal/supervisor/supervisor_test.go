package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/habistack/stackctl/internal/config"
	"github.com/habistack/stackctl/internal/detector"
	"github.com/habistack/stackctl/internal/history"
	"github.com/habistack/stackctl/internal/process"
	"github.com/habistack/stackctl/internal/proxy"
)

// fakeSystem simulates process and port state in memory.
type fakeSystem struct {
	nextPID    int
	attempts   []string
	terminated []int
	alive      map[int]bool
	portPID    map[int]int
	launchErr  map[string]error
	exitsEarly map[string]bool
	neverBinds map[string]bool
	stubborn   map[int]int // pid -> Terminate calls it survives
	termErr    error
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		nextPID:    100,
		alive:      make(map[int]bool),
		portPID:    make(map[int]int),
		launchErr:  make(map[string]error),
		exitsEarly: make(map[string]bool),
		neverBinds: make(map[string]bool),
		stubborn:   make(map[int]int),
	}
}

func (f *fakeSystem) Launch(spec process.Spec) (int, error) {
	f.attempts = append(f.attempts, spec.Name)
	if err := f.launchErr[spec.Name]; err != nil {
		return 0, err
	}
	f.nextPID++
	pid := f.nextPID
	if f.exitsEarly[spec.Name] {
		return pid, nil
	}
	f.alive[pid] = true
	if !f.neverBinds[spec.Name] {
		f.portPID[spec.Port] = pid
	}
	return pid, nil
}

func (f *fakeSystem) Alive(pid int) bool { return f.alive[pid] }

func (f *fakeSystem) Terminate(pid int, _ time.Duration) error {
	f.terminated = append(f.terminated, pid)
	if f.stubborn[pid] > 0 {
		f.stubborn[pid]--
		return nil
	}
	if f.termErr != nil {
		return f.termErr
	}
	delete(f.alive, pid)
	for port, owner := range f.portPID {
		if owner == pid {
			delete(f.portPID, port)
		}
	}
	return nil
}

func (f *fakeSystem) PortBound(port int) bool {
	_, ok := f.portPID[port]
	return ok
}

func (f *fakeSystem) PortOwner(port int) (int, error) {
	pid, ok := f.portPID[port]
	if !ok {
		return 0, detector.ErrNoOwner
	}
	return pid, nil
}

func (f *fakeSystem) killed(pid int) int {
	n := 0
	for _, p := range f.terminated {
		if p == pid {
			n++
		}
	}
	return n
}

type fakeRegistrar struct {
	resets      int
	registered  [][2]string
	resetErr    error
	registerErr map[string]error
	ident       proxy.Identity
	identErr    error
	routes      string
	routesErr   error
}

func (f *fakeRegistrar) ResetRoutes(context.Context) error {
	f.resets++
	return f.resetErr
}

func (f *fakeRegistrar) RegisterRoute(_ context.Context, path, target string) error {
	if err := f.registerErr[path]; err != nil {
		return err
	}
	f.registered = append(f.registered, [2]string{path, target})
	return nil
}

func (f *fakeRegistrar) RouteTable(context.Context) (string, error) {
	return f.routes, f.routesErr
}

func (f *fakeRegistrar) SelfIdentity(context.Context) (proxy.Identity, error) {
	return f.ident, f.identErr
}

type memSink struct {
	records []history.Record
}

func (m *memSink) EnsureSchema(context.Context) error { return nil }
func (m *memSink) Close() error                       { return nil }

func (m *memSink) Append(_ context.Context, rec history.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memSink) Recent(_ context.Context, limit int) ([]history.Record, error) {
	out := make([]history.Record, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func testStack() []process.Spec {
	return []process.Spec{
		{Name: "frontend", Command: "./frontend", Port: 3000, Route: "/"},
		{Name: "stack-api", Command: "./stack-api", Port: 5000, Route: "/stack"},
		{Name: "audio-api", Command: "./audio-api", Port: 5001, Route: "/audio"},
	}
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeSystem, *fakeRegistrar, *memSink, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Services = testStack()
	cfg.PIDFile = filepath.Join(t.TempDir(), "stack.pids")

	sys := newFakeSystem()
	reg := &fakeRegistrar{registerErr: make(map[string]error)}
	sink := &memSink{}
	out := &bytes.Buffer{}

	sup := New(cfg)
	sup.SetSystem(sys)
	sup.SetRegistrar(reg)
	sup.SetSink(sink)
	sup.SetOutput(out)
	sup.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	sup.SetSleep(func(time.Duration) {})
	return sup, sys, reg, sink, out
}

func TestStartLaunchesAllInOrder(t *testing.T) {
	sup, sys, reg, sink, out := newTestSupervisor(t)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []string{"frontend", "stack-api", "audio-api"}
	if strings.Join(sys.attempts, ",") != strings.Join(want, ",") {
		t.Fatalf("launch order %v, want %v", sys.attempts, want)
	}
	if reg.resets != 1 {
		t.Fatalf("expected 1 route reset, got %d", reg.resets)
	}
	if len(reg.registered) != 3 {
		t.Fatalf("expected 3 registered routes, got %v", reg.registered)
	}
	if reg.registered[1] != [2]string{"/stack", "http://localhost:5000"} {
		t.Fatalf("unexpected route registration: %v", reg.registered[1])
	}
	if !strings.Contains(out.String(), "all 3 services running") {
		t.Fatalf("missing summary line in output:\n%s", out.String())
	}

	b, err := os.ReadFile(sup.cfg.PIDFile)
	if err != nil {
		t.Fatalf("pid table not persisted: %v", err)
	}
	if got := len(strings.Fields(string(b))); got != 3 {
		t.Fatalf("expected 3 pids in table, got %d (%q)", got, b)
	}

	starts := 0
	for _, r := range sink.records {
		if r.Action == history.ActionStart && r.OK {
			starts++
		}
	}
	if starts != 3 {
		t.Fatalf("expected 3 start records, got %d", starts)
	}
	last := sink.records[len(sink.records)-1]
	if last.Action != history.ActionRouteSync || !last.OK {
		t.Fatalf("expected trailing route-sync record, got %+v", last)
	}
}

func TestStartFailFast(t *testing.T) {
	sup, sys, reg, sink, out := newTestSupervisor(t)
	sys.launchErr["stack-api"] = errors.New("spawn failed")

	err := sup.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "start stack-api") {
		t.Fatalf("expected stack-api start error, got %v", err)
	}
	want := []string{"frontend", "stack-api"}
	if strings.Join(sys.attempts, ",") != strings.Join(want, ",") {
		t.Fatalf("expected launch attempts %v, got %v", want, sys.attempts)
	}
	if len(reg.registered) != 0 {
		t.Fatalf("routes must not be registered after a failed start: %v", reg.registered)
	}
	if !strings.Contains(out.String(), "FAILED to start stack-api") {
		t.Fatalf("missing failure line in output:\n%s", out.String())
	}

	var failure *history.Record
	for i := range sink.records {
		if sink.records[i].Action == history.ActionStart && !sink.records[i].OK {
			failure = &sink.records[i]
		}
	}
	if failure == nil || failure.Service != "stack-api" || failure.Detail == "" {
		t.Fatalf("expected failed start record for stack-api, got %+v", sink.records)
	}
}

func TestStartFailsWhenProcessExitsEarly(t *testing.T) {
	sup, sys, _, _, _ := newTestSupervisor(t)
	sys.exitsEarly["frontend"] = true

	err := sup.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "exited during settling window") {
		t.Fatalf("expected early-exit error, got %v", err)
	}
	if len(sys.attempts) != 1 {
		t.Fatalf("remaining services must not be attempted, got %v", sys.attempts)
	}
}

func TestStartFailsWhenPortNeverBinds(t *testing.T) {
	sup, sys, _, _, _ := newTestSupervisor(t)
	sys.neverBinds["stack-api"] = true

	err := sup.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "port 5000 is not bound") {
		t.Fatalf("expected unbound-port error, got %v", err)
	}
}

func TestStartEvictsStubbornPortOwner(t *testing.T) {
	sup, sys, _, _, _ := newTestSupervisor(t)
	// An occupant that survives the pre-start sweep so the per-service
	// eviction has to kill it again.
	sys.alive[999] = true
	sys.portPID[3000] = 999
	sys.stubborn[999] = 1

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := sys.killed(999); n != 2 {
		t.Fatalf("expected occupant killed twice (sweep + eviction), got %d", n)
	}
	if sys.alive[999] {
		t.Fatalf("occupant should be gone")
	}
}

func TestStopTerminatesTablePIDs(t *testing.T) {
	sup, sys, reg, _, out := newTestSupervisor(t)
	if err := os.WriteFile(sup.cfg.PIDFile, []byte("101\n102\n"), 0o600); err != nil {
		t.Fatalf("seed pid table: %v", err)
	}
	sys.alive[101] = true // 102 is already dead

	sup.Stop(context.Background())

	if sys.killed(101) != 1 {
		t.Fatalf("live pid 101 not terminated: %v", sys.terminated)
	}
	if sys.killed(102) != 0 {
		t.Fatalf("dead pid 102 must be skipped: %v", sys.terminated)
	}
	if _, err := os.Stat(sup.cfg.PIDFile); !os.IsNotExist(err) {
		t.Fatalf("pid table should be removed, stat err: %v", err)
	}
	if reg.resets != 1 {
		t.Fatalf("expected route reset on stop, got %d", reg.resets)
	}
	if !strings.Contains(out.String(), "all services stopped") {
		t.Fatalf("missing stop summary:\n%s", out.String())
	}
}

func TestStopSweepsOrphanPortOwners(t *testing.T) {
	sup, sys, _, sink, _ := newTestSupervisor(t)
	sys.alive[777] = true
	sys.portPID[5000] = 777

	sup.Stop(context.Background())

	if sys.killed(777) != 1 {
		t.Fatalf("orphan owner not terminated: %v", sys.terminated)
	}
	found := false
	for _, r := range sink.records {
		if r.Action == history.ActionStop && r.Service == "stack-api" && r.PID == 777 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected orphan stop record, got %+v", sink.records)
	}
}

func TestStopSwallowsErrors(t *testing.T) {
	sup, sys, reg, _, out := newTestSupervisor(t)
	if err := os.WriteFile(sup.cfg.PIDFile, []byte("101\n"), 0o600); err != nil {
		t.Fatalf("seed pid table: %v", err)
	}
	sys.alive[101] = true
	sys.termErr = errors.New("kill refused")
	reg.resetErr = errors.New("tailscale down")

	sup.Stop(context.Background())

	if !strings.Contains(out.String(), "all services stopped") {
		t.Fatalf("stop must report completion despite errors:\n%s", out.String())
	}
}

func TestRestartStopsThenStarts(t *testing.T) {
	sup, sys, reg, _, _ := newTestSupervisor(t)
	sys.alive[55] = true
	sys.portPID[3000] = 55

	if err := sup.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if sys.killed(55) == 0 {
		t.Fatalf("previous occupant not stopped: %v", sys.terminated)
	}
	if len(sys.attempts) != 3 {
		t.Fatalf("expected all services launched, got %v", sys.attempts)
	}
	// one reset from stop, one from the post-start route sync
	if reg.resets != 2 {
		t.Fatalf("expected 2 route resets, got %d", reg.resets)
	}
}

func TestSyncRoutesContinuesPastFailures(t *testing.T) {
	sup, _, reg, sink, _ := newTestSupervisor(t)
	reg.registerErr["/stack"] = errors.New("serve refused")

	sup.SyncRoutes(context.Background())

	if len(reg.registered) != 2 {
		t.Fatalf("remaining routes must still be registered, got %v", reg.registered)
	}
	last := sink.records[len(sink.records)-1]
	if last.Action != history.ActionRouteSync || last.OK {
		t.Fatalf("expected failed route-sync record, got %+v", last)
	}
}

func TestStatusReflectsPortOccupancy(t *testing.T) {
	sup, sys, reg, _, _ := newTestSupervisor(t)
	sys.portPID[3000] = 10
	sys.portPID[5001] = 11
	reg.ident = proxy.Identity{DNSName: "box.tail1234.ts.net", Online: true}
	reg.routes = "https://box.tail1234.ts.net/\n"

	st := sup.Status(context.Background())

	if !st.Online || st.DNSName != "box.tail1234.ts.net" {
		t.Fatalf("identity not reported: %+v", st)
	}
	if len(st.Services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(st.Services))
	}
	if !st.Services[0].Running || st.Services[1].Running || !st.Services[2].Running {
		t.Fatalf("running flags wrong: %+v", st.Services)
	}
	if st.Services[1].URL != "https://box.tail1234.ts.net/stack" {
		t.Fatalf("unexpected URL: %q", st.Services[1].URL)
	}
	if st.Routes != reg.routes {
		t.Fatalf("route table not passed through: %q", st.Routes)
	}
}

func TestStatusDegradesWhenRegistrarFails(t *testing.T) {
	sup, _, reg, _, _ := newTestSupervisor(t)
	reg.identErr = errors.New("no tailscale")
	reg.routesErr = errors.New("no tailscale")

	st := sup.Status(context.Background())

	if st.Online || st.DNSName != "" || st.Routes != "" {
		t.Fatalf("expected degraded status, got %+v", st)
	}
	for _, svc := range st.Services {
		if svc.URL != "" {
			t.Fatalf("URL must be empty without a node name: %+v", svc)
		}
	}
}
