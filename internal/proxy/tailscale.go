package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultBinary is the proxy CLI consulted when no explicit path is configured.
const DefaultBinary = "tailscale"

// Identity describes the local node as seen by the mesh.
type Identity struct {
	// DNSName is the externally reachable name of this node, without the
	// trailing dot tailscale reports.
	DNSName string
	// Online is false when the backend is not in the Running state.
	Online bool
}

// Registrar is the reverse-proxy collaborator: it owns the mapping from
// external URL paths to local service ports. The supervisor depends only on
// these four semantic operations, never on the invocation syntax.
type Registrar interface {
	// ResetRoutes clears every registered route.
	ResetRoutes(ctx context.Context) error
	// RegisterRoute maps an external path to a local target URL.
	RegisterRoute(ctx context.Context, path, target string) error
	// RouteTable returns the current route registrations, verbatim.
	RouteTable(ctx context.Context) (string, error)
	// SelfIdentity reports the node's externally reachable name.
	SelfIdentity(ctx context.Context) (Identity, error)
}

// Tailscale registers routes via the tailscale CLI's serve feature.
type Tailscale struct {
	Bin    string
	Runner Runner
}

// NewTailscale builds a registrar shelling out to bin ("" selects the
// default binary on PATH).
func NewTailscale(bin string, runner Runner) *Tailscale {
	if bin == "" {
		bin = DefaultBinary
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Tailscale{Bin: bin, Runner: runner}
}

func (t *Tailscale) ResetRoutes(ctx context.Context) error {
	out, err := t.Runner.Run(ctx, t.Bin, "serve", "reset")
	if err != nil {
		return fmt.Errorf("serve reset: %w (%s)", err, strings.TrimSpace(out))
	}
	return nil
}

func (t *Tailscale) RegisterRoute(ctx context.Context, path, target string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("route path %q must start with /", path)
	}
	out, err := t.Runner.Run(ctx, t.Bin, "serve", "--bg", "--set-path="+path, target)
	if err != nil {
		return fmt.Errorf("serve --set-path=%s: %w (%s)", path, err, strings.TrimSpace(out))
	}
	return nil
}

func (t *Tailscale) RouteTable(ctx context.Context) (string, error) {
	out, err := t.Runner.Run(ctx, t.Bin, "serve", "status")
	if err != nil {
		return "", fmt.Errorf("serve status: %w", err)
	}
	return out, nil
}

// tsStatus mirrors the fields of `tailscale status --json` we consume.
type tsStatus struct {
	BackendState string `json:"BackendState"`
	Self         struct {
		DNSName string `json:"DNSName"`
	} `json:"Self"`
}

func (t *Tailscale) SelfIdentity(ctx context.Context) (Identity, error) {
	out, err := t.Runner.Run(ctx, t.Bin, "status", "--json")
	if err != nil {
		return Identity{}, fmt.Errorf("status --json: %w", err)
	}
	var st tsStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		return Identity{}, fmt.Errorf("parse status: %w", err)
	}
	return Identity{
		DNSName: strings.TrimSuffix(st.Self.DNSName, "."),
		Online:  st.BackendState == "Running",
	}, nil
}
