// Package policy exposes the current irrigation policy (mode, manual pump
// state, moisture threshold) read from the settings store.
package policy

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/storage"
)

// Policy is the mode-dependent state both telemetry sources read.
type Policy struct {
	Mode              entities.Mode `json:"systemMode"`
	ManualPumpState   string        `json:"manualPumpState"`
	MoistureThreshold int           `json:"moistureThreshold"`
}

// ManualPumpOn reports whether the operator asked for the pump on in manual mode.
func (p Policy) ManualPumpOn() bool {
	return p.ManualPumpState == "on"
}

// Default is used for every key with no stored row.
func Default() Policy {
	return Policy{
		Mode:              entities.DefaultMode,
		ManualPumpState:   entities.DefaultManualPumpState,
		MoistureThreshold: entities.DefaultMoistureThreshold,
	}
}

// Reader returns the current policy.
type Reader interface {
	Current(ctx context.Context) (Policy, error)
}

// SettingsGetter is the slice of storage.ReadingStore the reader needs.
type SettingsGetter interface {
	GetSetting(ctx context.Context, key string) (*entities.Setting, error)
}

// StoreReader reads the policy from settings, substituting defaults for
// missing or unparsable values.
type StoreReader struct {
	store SettingsGetter
}

func NewStoreReader(s SettingsGetter) *StoreReader {
	return &StoreReader{store: s}
}

// Current always returns a usable policy. The error is non-nil when a
// setting could not be read for a reason other than absence; the affected
// fields then hold their defaults.
func (r *StoreReader) Current(ctx context.Context) (Policy, error) {
	p := Default()
	var errs []error

	if v, ok, err := r.value(ctx, entities.KeySystemMode); err != nil {
		errs = append(errs, err)
	} else if ok {
		if m := entities.Mode(strings.ToLower(v)); m.Valid() {
			p.Mode = m
		}
	}

	if v, ok, err := r.value(ctx, entities.KeyManualPumpState); err != nil {
		errs = append(errs, err)
	} else if ok {
		if s := strings.ToLower(v); s == "on" || s == "off" {
			p.ManualPumpState = s
		}
	}

	if v, ok, err := r.value(ctx, entities.KeyMoistureThreshold); err != nil {
		errs = append(errs, err)
	} else if ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			p.MoistureThreshold = n
		}
	}

	return p, errors.Join(errs...)
}

func (r *StoreReader) value(ctx context.Context, key string) (string, bool, error) {
	s, err := r.store.GetSetting(ctx, key)
	if storage.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Value, true, nil
}

// Static is a fixed policy, handy for tests and the simulator.
type Static Policy

func (s Static) Current(context.Context) (Policy, error) { return Policy(s), nil }
