// Package metrics holds the Prometheus collectors shared by the authentication paths and
// the HTTP transport.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "serreconnect"

// AuthMetrics counts login failures and validation outcomes. A nil *AuthMetrics records nothing.
type AuthMetrics struct {
	LoginFailures *prometheus.CounterVec
	Validations   *prometheus.CounterVec
}

// NewAuthMetrics registers the auth collectors with reg (default registerer when nil).
// Collectors that are already registered are reused.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "login_failures_total",
		Help:      "Failed login attempts partitioned by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}
	validations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "validations_total",
		Help:      "Session validations partitioned by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	return &AuthMetrics{LoginFailures: failures, Validations: validations}, nil
}

// LoginFailed increments the login failure counter for reason.
func (m *AuthMetrics) LoginFailed(reason string) {
	if m == nil || m.LoginFailures == nil {
		return
	}
	m.LoginFailures.WithLabelValues(reason).Inc()
}

// Validation increments the validation counter for outcome ("ok" or an error kind).
func (m *AuthMetrics) Validation(outcome string) {
	if m == nil || m.Validations == nil {
		return
	}
	m.Validations.WithLabelValues(outcome).Inc()
}

// register registers c, returning the existing collector of the same type if one is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}
