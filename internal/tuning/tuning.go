package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxelpilot.ai/internal/navigate"
	"voxelpilot.ai/internal/pathfind"
	"voxelpilot.ai/internal/sim"
	"voxelpilot.ai/internal/world"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Planner     Planner     `yaml:"planner"`
	Navigator   Navigator   `yaml:"navigator"`
	Transport   Transport   `yaml:"transport"`
	Sim         Sim         `yaml:"sim"`
	Persistence Persistence `yaml:"persistence"`
}

type Planner struct {
	SnapshotRadius int `yaml:"snapshot_radius"`
	MaxRadius      int `yaml:"max_radius"`
	MaxExpansions  int `yaml:"max_expansions"`
}

type Navigator struct {
	HorizontalTolerance float64 `yaml:"horizontal_tolerance"`
	VerticalTolerance   float64 `yaml:"vertical_tolerance"`
	JumpThreshold       float64 `yaml:"jump_threshold"`
	WaypointTimeoutMs   int     `yaml:"waypoint_timeout_ms"`
	PollIntervalMs      int     `yaml:"poll_interval_ms"`
	SupportBlock        string  `yaml:"support_block"`
}

type Transport struct {
	Kind             string `yaml:"kind"`
	HTTPBaseURL      string `yaml:"http_base_url"`
	WSURL            string `yaml:"ws_url"`
	AgentName        string `yaml:"agent_name"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

type Sim struct {
	Speed          float64 `yaml:"speed"`
	EditDelayTicks int     `yaml:"edit_delay_ticks"`
	BoundaryR      int     `yaml:"boundary_r"`
	FloorY         int     `yaml:"floor_y"`
	FloorRadius    int     `yaml:"floor_radius"`
}

type Persistence struct {
	TraceEnabled   bool `yaml:"trace_enabled"`
	IndexEnabled   bool `yaml:"index_enabled"`
	IndexQueueSize int  `yaml:"index_queue_size"`
	SaveSnapshots  bool `yaml:"save_snapshots"`
}

const (
	TransportHTTP = "http"
	TransportWS   = "ws"
)

func Defaults() Tuning {
	nav := navigate.DefaultConfig()
	simCfg := sim.DefaultConfig()
	return Tuning{
		ProtocolVersion: "1.0",
		Planner: Planner{
			SnapshotRadius: 64,
			MaxExpansions:  pathfind.DefaultMaxExpansions,
		},
		Navigator: Navigator{
			HorizontalTolerance: nav.HorizontalTolerance,
			VerticalTolerance:   nav.VerticalTolerance,
			JumpThreshold:       nav.JumpThreshold,
			WaypointTimeoutMs:   int(nav.WaypointTimeout / time.Millisecond),
			PollIntervalMs:      int(nav.PollInterval / time.Millisecond),
			SupportBlock:        string(nav.SupportBlock),
		},
		Transport: Transport{
			Kind:             TransportHTTP,
			HTTPBaseURL:      "http://127.0.0.1:8080",
			WSURL:            "ws://127.0.0.1:8080/v1/ws",
			AgentName:        "pilot",
			RequestTimeoutMs: 5000,
		},
		Sim: Sim{
			Speed:          simCfg.Speed,
			EditDelayTicks: simCfg.EditDelayTicks,
			FloorY:         64,
			FloorRadius:    32,
		},
		Persistence: Persistence{
			TraceEnabled:   true,
			IndexEnabled:   true,
			IndexQueueSize: 4096,
		},
	}
}

// Load reads path over Defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("pilot.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("pilot.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	t.Transport.Kind = strings.ToLower(strings.TrimSpace(t.Transport.Kind))
	t.Transport.HTTPBaseURL = strings.TrimRight(strings.TrimSpace(t.Transport.HTTPBaseURL), "/")
	t.Transport.WSURL = strings.TrimSpace(t.Transport.WSURL)
	t.Transport.AgentName = strings.TrimSpace(t.Transport.AgentName)
	t.Navigator.SupportBlock = strings.TrimSpace(t.Navigator.SupportBlock)
}

func (t Tuning) Validate() error {
	if t.Planner.SnapshotRadius <= 0 {
		return fmt.Errorf("planner.snapshot_radius must be > 0")
	}
	if t.Planner.MaxRadius < 0 {
		return fmt.Errorf("planner.max_radius must be >= 0")
	}
	if t.Planner.MaxExpansions < 0 {
		return fmt.Errorf("planner.max_expansions must be >= 0")
	}
	n := t.Navigator
	if n.HorizontalTolerance <= 0 || n.VerticalTolerance <= 0 || n.JumpThreshold <= 0 {
		return fmt.Errorf("navigator tolerances must be > 0")
	}
	if n.WaypointTimeoutMs <= 0 || n.PollIntervalMs <= 0 {
		return fmt.Errorf("navigator.waypoint_timeout_ms and poll_interval_ms must be > 0")
	}
	if n.PollIntervalMs > n.WaypointTimeoutMs {
		return fmt.Errorf("navigator.poll_interval_ms exceeds waypoint_timeout_ms")
	}
	if world.BlockID(n.SupportBlock).IsAir() {
		return fmt.Errorf("navigator.support_block must be a solid block, got %q", n.SupportBlock)
	}
	switch t.Transport.Kind {
	case TransportHTTP:
		if t.Transport.HTTPBaseURL == "" {
			return fmt.Errorf("transport.http_base_url is required for kind=http")
		}
	case TransportWS:
		if t.Transport.WSURL == "" {
			return fmt.Errorf("transport.ws_url is required for kind=ws")
		}
	default:
		return fmt.Errorf("transport.kind must be http or ws, got %q", t.Transport.Kind)
	}
	if t.Transport.RequestTimeoutMs < 0 {
		return fmt.Errorf("transport.request_timeout_ms must be >= 0")
	}
	if t.Sim.Speed <= 0 || t.Sim.Speed >= 1 {
		return fmt.Errorf("sim.speed must be in (0,1)")
	}
	if t.Sim.EditDelayTicks < 0 || t.Sim.BoundaryR < 0 || t.Sim.FloorRadius < 0 {
		return fmt.Errorf("sim values must be >= 0")
	}
	if t.Persistence.IndexQueueSize < 0 {
		return fmt.Errorf("persistence.index_queue_size must be >= 0")
	}
	return nil
}

func (t Tuning) NavigatorConfig() navigate.Config {
	return navigate.Config{
		HorizontalTolerance: t.Navigator.HorizontalTolerance,
		VerticalTolerance:   t.Navigator.VerticalTolerance,
		JumpThreshold:       t.Navigator.JumpThreshold,
		WaypointTimeout:     time.Duration(t.Navigator.WaypointTimeoutMs) * time.Millisecond,
		PollInterval:        time.Duration(t.Navigator.PollIntervalMs) * time.Millisecond,
		SupportBlock:        world.BlockID(t.Navigator.SupportBlock),
	}
}

func (t Tuning) PlannerOptions() pathfind.Options {
	return pathfind.Options{
		MaxRadius:     t.Planner.MaxRadius,
		MaxExpansions: t.Planner.MaxExpansions,
	}
}

func (t Tuning) RequestTimeout() time.Duration {
	return time.Duration(t.Transport.RequestTimeoutMs) * time.Millisecond
}

// SimConfig builds the simulated world's config; FloorY and FloorRadius are applied by the caller.
func (t Tuning) SimConfig(id string) sim.WorldConfig {
	cfg := sim.DefaultConfig()
	if id != "" {
		cfg.ID = id
	}
	cfg.Speed = t.Sim.Speed
	cfg.EditDelayTicks = t.Sim.EditDelayTicks
	cfg.BoundaryR = t.Sim.BoundaryR
	cfg.Spawn = world.Vec3{X: 0.5, Y: float64(t.Sim.FloorY + 1), Z: 0.5}
	return cfg
}
