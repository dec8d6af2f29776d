package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job duration and update interval bounds.
const (
	MinJobDurationSeconds = 1
	MaxJobDurationSeconds = 86400
	MinUpdateInterval     = 100 * time.Millisecond
	MaxUpdateInterval     = 60 * time.Second
)

// Job holds the standalone timer job configuration.
type Job struct {
	TimerID              string
	Name                 string
	DurationSeconds      int
	Labels               map[string]string
	CreatedBy            string
	ControlPlaneEndpoint string // http:// or https:// URL of the control plane gRPC port.
	GRPCPort             int
	LogLevel             string
	UpdateInterval       time.Duration

	OTELEndpoint string
	OTELInsecure bool
}

// LoadJob reads the job configuration from the environment.
// TIMER_DURATION_SECONDS and CONTROL_PLANE_ENDPOINT are required.
func LoadJob() (Job, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Job{
		TimerID:              envStr("TIMER_ID", uuid.NewString()),
		Name:                 envStr("TIMER_NAME", "default-timer"),
		CreatedBy:            envStr("TIMER_CREATED_BY", "system"),
		ControlPlaneEndpoint: os.Getenv("CONTROL_PLANE_ENDPOINT"),
		LogLevel:             envStr("LOG_LEVEL", "info"),
		Labels:               map[string]string{},
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if os.Getenv("TIMER_DURATION_SECONDS") == "" {
		errs = append(errs, errors.New("TIMER_DURATION_SECONDS is required"))
	} else {
		d, err := envInt("TIMER_DURATION_SECONDS", 0)
		collect(err)
		cfg.DurationSeconds = d
	}

	if raw := os.Getenv("TIMER_LABELS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Labels); err != nil {
			errs = append(errs, fmt.Errorf("TIMER_LABELS must be a JSON object of strings: %w", err))
		}
	}

	var err error
	cfg.GRPCPort, err = envInt("GRPC_PORT", 50051)
	collect(err)

	intervalMS, err := envInt("UPDATE_INTERVAL_MS", 1000)
	collect(err)
	cfg.UpdateInterval = time.Duration(intervalMS) * time.Millisecond

	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)

	if len(errs) > 0 {
		return Job{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Job{}, err
	}
	return cfg, nil
}

// Validate checks ranges and the endpoint scheme.
func (c Job) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TimerID) == "" {
		errs = append(errs, errors.New("TIMER_ID must not be empty"))
	}
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("TIMER_NAME must not be empty"))
	}
	if c.DurationSeconds < MinJobDurationSeconds || c.DurationSeconds > MaxJobDurationSeconds {
		errs = append(errs, fmt.Errorf("TIMER_DURATION_SECONDS must be between %d and %d", MinJobDurationSeconds, MaxJobDurationSeconds))
	}
	if c.ControlPlaneEndpoint == "" {
		errs = append(errs, errors.New("CONTROL_PLANE_ENDPOINT is required"))
	} else if !strings.HasPrefix(c.ControlPlaneEndpoint, "http://") && !strings.HasPrefix(c.ControlPlaneEndpoint, "https://") {
		errs = append(errs, errors.New("CONTROL_PLANE_ENDPOINT must start with http:// or https://"))
	}
	if c.GRPCPort <= 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("GRPC_PORT=%d is not a valid port number", c.GRPCPort))
	}
	if c.UpdateInterval < MinUpdateInterval || c.UpdateInterval > MaxUpdateInterval {
		errs = append(errs, errors.New("UPDATE_INTERVAL_MS must be between 100 and 60000"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ControlPlaneTarget converts the endpoint URL into a gRPC dial target and
// reports whether TLS should be used.
func (c Job) ControlPlaneTarget() (target string, useTLS bool, err error) {
	u, err := url.Parse(c.ControlPlaneEndpoint)
	if err != nil {
		return "", false, fmt.Errorf("config: parse CONTROL_PLANE_ENDPOINT: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("config: CONTROL_PLANE_ENDPOINT %q has no host", c.ControlPlaneEndpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

// GRPCAddr is the listen address for the job's status server.
func (c Job) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
