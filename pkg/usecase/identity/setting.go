package identity

import (
	"context"
	"strconv"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/usecase/match"
	"github.com/m-mizutani/goerr/v2"
)

// ErrInvalidSetting is returned for unknown keys or out of range values
var ErrInvalidSetting = goerr.New("invalid setting")

// SetSetting validates and stores a setting
func (u *UseCase) SetSetting(ctx context.Context, key model.SettingKey, value string) error {
	if !key.Valid() {
		return goerr.Wrap(ErrInvalidSetting, "unknown setting key", goerr.V("key", key))
	}

	switch key {
	case model.SettingDistanceThreshold:
		if _, err := parseDistance(value); err != nil {
			return err
		}
	case model.SettingConfidenceThreshold:
		if _, err := parseConfidence(value); err != nil {
			return err
		}
	}

	if err := u.repo.PutSetting(ctx, key, value); err != nil {
		return goerr.Wrap(err, "failed to save setting", goerr.V("key", key))
	}
	return nil
}

// GetSetting returns a stored setting value
func (u *UseCase) GetSetting(ctx context.Context, key model.SettingKey) (string, bool, error) {
	if !key.Valid() {
		return "", false, goerr.Wrap(ErrInvalidSetting, "unknown setting key", goerr.V("key", key))
	}
	return u.repo.GetSetting(ctx, key)
}

// LoadPolicy applies thresholds stored in settings on top of base
func (u *UseCase) LoadPolicy(ctx context.Context, base match.Policy) (match.Policy, error) {
	policy := base

	if v, ok, err := u.repo.GetSetting(ctx, model.SettingDistanceThreshold); err != nil {
		return base, err
	} else if ok && v != "" {
		d, err := parseDistance(v)
		if err != nil {
			return base, err
		}
		policy.DistanceThreshold = d
	}

	if v, ok, err := u.repo.GetSetting(ctx, model.SettingConfidenceThreshold); err != nil {
		return base, err
	} else if ok && v != "" {
		c, err := parseConfidence(v)
		if err != nil {
			return base, err
		}
		policy.ConfidenceThreshold = c
	}

	return policy, nil
}

func parseDistance(v string) (float64, error) {
	d, err := strconv.ParseFloat(v, 64)
	if err != nil || d <= 0 {
		return 0, goerr.Wrap(ErrInvalidSetting, "distance threshold must be a positive number", goerr.V("value", v))
	}
	return d, nil
}

func parseConfidence(v string) (int, error) {
	c, err := strconv.Atoi(v)
	if err != nil || c < 0 || c > 100 {
		return 0, goerr.Wrap(ErrInvalidSetting, "confidence threshold must be an integer in 0..100", goerr.V("value", v))
	}
	return c, nil
}
