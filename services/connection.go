package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/richinsley/comfyflow/client"
	"github.com/richinsley/comfyflow/comfyerr"
)

// StatsProber is the part of the backend client the connection check uses.
type StatsProber interface {
	GetSystemStats(ctx context.Context) (*client.SystemStats, error)
}

// Status is the outcome of one connection check.
type Status struct {
	Reachable bool          `json:"reachable"`
	CheckedAt time.Time     `json:"checkedAt"`
	Latency   time.Duration `json:"latency"`
	// populated when reachable
	Version string   `json:"version,omitempty"`
	Devices []string `json:"devices,omitempty"`
	// populated when not reachable
	ErrorType comfyerr.ErrorType `json:"errorType,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// ConnectionService probes backend reachability. Probes report a Status and
// never fail.
type ConnectionService struct {
	prober  StatsProber
	timeout time.Duration
	now     func() time.Time

	mu   sync.Mutex
	last Status
}

// DefaultProbeTimeout bounds a probe when the caller's context has no deadline.
const DefaultProbeTimeout = 10 * time.Second

func NewConnectionService(prober StatsProber, timeout time.Duration) *ConnectionService {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &ConnectionService{prober: prober, timeout: timeout, now: time.Now}
}

// Validate calls /system_stats and records the result.
func (s *ConnectionService) Validate(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	stats, err := s.prober.GetSystemStats(ctx)
	status := Status{CheckedAt: start, Latency: s.now().Sub(start)}
	if err != nil {
		status.ErrorType = probeErrorType(err)
		status.Error = err.Error()
		slog.Warn("ComfyUI connection check failed", "error", err, "type", status.ErrorType)
	} else {
		status.Reachable = true
		status.Version = stats.System.ComfyUIVersion
		for _, d := range stats.Devices {
			status.Devices = append(status.Devices, d.Name)
		}
	}

	s.mu.Lock()
	s.last = status
	s.mu.Unlock()
	return status
}

// Last returns the status of the most recent check, or the zero Status.
func (s *ConnectionService) Last() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func probeErrorType(err error) comfyerr.ErrorType {
	var herr *client.HTTPError
	if errors.As(err, &herr) {
		switch herr.StatusCode {
		case http.StatusUnauthorized:
			return comfyerr.TypeInvalidAPIKey
		case http.StatusForbidden:
			return comfyerr.TypePermissionDenied
		}
	}
	return comfyerr.TypeServiceUnavailable
}
