// Package failmeter provides a meter provider whose instrument
// registrations always fail.
package failmeter

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var ErrRegistration = errors.New("instrument registration failed")

type MeterProvider struct {
	noop.MeterProvider
}

//nolint:ireturn // required by interface
func (MeterProvider) Meter(string, ...metric.MeterOption) metric.Meter {
	return meter{}
}

type meter struct {
	noop.Meter
}

//nolint:ireturn // required by interface
func (meter) Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return nil, ErrRegistration
}

//nolint:ireturn // required by interface
func (meter) Int64ObservableGauge(
	string, ...metric.Int64ObservableGaugeOption,
) (metric.Int64ObservableGauge, error) {
	return nil, ErrRegistration
}
