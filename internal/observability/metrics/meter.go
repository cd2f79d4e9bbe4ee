// Copyright 2026 The AgencyDesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// Uses the global meter provider; exporters are configured by the SDK env.
	return &Meter{
		meter: otel.Meter(serviceName),
	}, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// Instruments are the domain counters recorded by the services. A nil
// *Instruments records nothing.
type Instruments struct {
	invitations  metric.Int64Counter
	redemptions  metric.Int64Counter
	accessDenied metric.Int64Counter
	logins       metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// NewInstruments registers the domain instruments on m.
func NewInstruments(m *Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.invitations, err = m.CreateCounter("agencydesk.invitations.issued", "Invitations issued"); err != nil {
		return nil, err
	}
	if in.redemptions, err = m.CreateCounter("agencydesk.invitations.redemptions", "Invitation redemption attempts by outcome"); err != nil {
		return nil, err
	}
	if in.accessDenied, err = m.CreateCounter("agencydesk.access.denied", "Gateway operations rejected by scope or capability"); err != nil {
		return nil, err
	}
	if in.logins, err = m.CreateCounter("agencydesk.auth.logins", "Login attempts by outcome"); err != nil {
		return nil, err
	}
	if in.httpDuration, err = m.CreateHistogram("agencydesk.http.duration", "HTTP request duration", "ms"); err != nil {
		return nil, err
	}
	return &in, nil
}

// InvitationIssued counts an issued invitation for role.
func (in *Instruments) InvitationIssued(ctx context.Context, role string) {
	if in == nil {
		return
	}
	in.invitations.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// Redemption counts a redemption attempt; outcome is "ok" or an error kind.
func (in *Instruments) Redemption(ctx context.Context, outcome string) {
	if in == nil {
		return
	}
	in.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// AccessDenied counts a rejected gateway operation.
func (in *Instruments) AccessDenied(ctx context.Context, kind, operation string) {
	if in == nil {
		return
	}
	in.accessDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity_kind", kind),
		attribute.String("operation", operation),
	))
}

// Login counts a login attempt.
func (in *Instruments) Login(ctx context.Context, outcome string) {
	if in == nil {
		return
	}
	in.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// HTTPRequest records the duration of a request.
func (in *Instruments) HTTPRequest(ctx context.Context, route string, status int, ms float64) {
	if in == nil {
		return
	}
	in.httpDuration.Record(ctx, ms, metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}
