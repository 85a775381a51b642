package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// subsystems gates readiness: the coordinator cannot accept or finish a
// query if any of these is down. eventbus is the WorkEventBus sweeper,
// persistence is the BoltStore query-transition log, rpc is the
// FragmentControl/ClientGateway listener.
var subsystems = []string{"eventbus", "persistence", "rpc"}

// SubsystemStatus is the last-reported state of one of the coordinator's
// long-lived subsystems.
type SubsystemStatus struct {
	Ready   bool
	Detail  string
	Updated time.Time
}

// coordinatorHealth tracks subsystem readiness for the /health, /ready and
// /live endpoints. Unlike the per-query Prometheus metrics above, this is
// process-wide state: one coordinator, one set of subsystems.
type coordinatorHealth struct {
	mu         sync.RWMutex
	subsystems map[string]SubsystemStatus
	startTime  time.Time
	version    string
}

var health = &coordinatorHealth{
	subsystems: make(map[string]SubsystemStatus),
	startTime:  time.Now(),
}

// SetVersion sets the version string reported on /health.
func SetVersion(version string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.version = version
}

// MarkSubsystemReady records whether a named subsystem (see subsystems
// above) is ready to serve. Called once at startup for each of eventbus,
// persistence, and rpc, and again if one is torn down.
func MarkSubsystemReady(name string, ready bool, detail string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.subsystems[name] = SubsystemStatus{Ready: ready, Detail: detail, Updated: time.Now()}
}

// Snapshot is the JSON body served by /health and /ready. QueriesActive is
// read directly off the QueriesRunning gauge so the health endpoint never
// drifts from what Prometheus is scraping.
type Snapshot struct {
	Status        string            `json:"status"` // health: "healthy"/"unhealthy"; readiness: "ready"/"not_ready"
	Timestamp     time.Time         `json:"timestamp"`
	Subsystems    map[string]string `json:"subsystems,omitempty"`
	Message       string            `json:"message,omitempty"`
	Version       string            `json:"version,omitempty"`
	Uptime        string            `json:"uptime,omitempty"`
	QueriesActive int               `json:"queries_active"`
}

// gaugeValue reads a Prometheus gauge's current value without going
// through the scrape path, so /health can report it inline.
func gaugeValue(g prometheus.Gauge) int {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return int(m.GetGauge().GetValue())
}

// GetHealth reports every registered subsystem's status plus the number of
// queries currently RUNNING or CANCELLATION_REQUESTED. Status is
// "unhealthy" if any registered subsystem reports unready, regardless of
// whether it is one of the critical ones readiness checks.
func GetHealth() Snapshot {
	health.mu.RLock()
	defer health.mu.RUnlock()

	status := "healthy"
	reported := make(map[string]string, len(health.subsystems))
	for name, s := range health.subsystems {
		if !s.Ready {
			status = "unhealthy"
			reported[name] = "down: " + s.Detail
		} else {
			reported[name] = "up"
		}
	}

	return Snapshot{
		Status:        status,
		Timestamp:     time.Now(),
		Subsystems:    reported,
		Version:       health.version,
		Uptime:        time.Since(health.startTime).String(),
		QueriesActive: gaugeValue(QueriesRunning),
	}
}

// GetReadiness reports "ready" only if every subsystem in subsystems has
// been marked ready; an unregistered or down subsystem both count as
// not_ready, since a coordinator that never finished wiring one of them
// cannot safely accept a query.
func GetReadiness() Snapshot {
	health.mu.RLock()
	defer health.mu.RUnlock()

	status := "ready"
	message := ""
	reported := make(map[string]string, len(subsystems))

	for _, name := range subsystems {
		s, exists := health.subsystems[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			reported[name] = "not registered"
		case !s.Ready:
			status = "not_ready"
			message = "waiting for " + name
			reported[name] = "not ready: " + s.Detail
		default:
			reported[name] = "ready"
		}
	}

	return Snapshot{
		Status:        status,
		Timestamp:     time.Now(),
		Subsystems:    reported,
		Message:       message,
		Version:       health.version,
		Uptime:        time.Since(health.startTime).String(),
		QueriesActive: gaugeValue(QueriesRunning),
	}
}

// HealthHandler serves /health: 200 if every reporting subsystem is
// healthy, 503 otherwise.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := GetHealth()
		w.Header().Set("Content-Type", "application/json")
		if snap.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(snap)
	}
}

// ReadyHandler serves /ready: 200 once eventbus, persistence, and rpc have
// all reported ready, 503 until then.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := GetReadiness()
		w.Header().Set("Content-Type", "application/json")
		if snap.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(snap)
	}
}

// LivenessHandler always reports 200 while the process is running; a
// coordinator that can answer this but fails /ready is up but not yet
// wired, not dead.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(health.startTime).String(),
		})
	}
}
