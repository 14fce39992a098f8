package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/spf13/viper"
)

// LoadSettingsSeed reads the campaign settings used before an operator has
// saved any. Keys absent from the file keep their defaults; an empty path or
// a missing file yields the defaults.
func LoadSettingsSeed(path string) (domain.CampaignSettings, error) {
	settings := domain.DefaultSettings()
	if path == "" {
		return settings, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return domain.CampaignSettings{}, fmt.Errorf("reading settings seed %s: %w", path, err)
	}

	clock := func(key string, dst *domain.ClockTime) error {
		if !v.IsSet(key) {
			return nil
		}
		parsed, err := domain.ParseClockTime(v.GetString(key))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = parsed
		return nil
	}
	if err := clock("daily_send_time", &settings.DailySendTime); err != nil {
		return domain.CampaignSettings{}, err
	}
	if err := clock("followup_fixed_time", &settings.FollowupFixedTime); err != nil {
		return domain.CampaignSettings{}, err
	}

	if v.IsSet("followup_mode") {
		mode, err := domain.ParseFollowupModeFromString(v.GetString("followup_mode"))
		if err != nil {
			return domain.CampaignSettings{}, err
		}
		settings.FollowupMode = mode
	}
	if v.IsSet("followup_interval.value") {
		settings.FollowupInterval.Value = v.GetInt("followup_interval.value")
	}
	if v.IsSet("followup_interval.unit") {
		unit, err := domain.ParseIntervalUnitFromString(v.GetString("followup_interval.unit"))
		if err != nil {
			return domain.CampaignSettings{}, err
		}
		settings.FollowupInterval.Unit = unit
	}
	if v.IsSet("max_followups") {
		settings.MaxFollowups = v.GetInt("max_followups")
	}
	if v.IsSet("inter_send_delay_seconds") {
		settings.InterSendDelaySeconds = v.GetInt("inter_send_delay_seconds")
	}
	if v.IsSet("enabled") {
		settings.Enabled = v.GetBool("enabled")
	}
	if v.IsSet("timezone") {
		settings.Timezone = v.GetString("timezone")
	}

	if err := settings.Validate(); err != nil {
		return domain.CampaignSettings{}, fmt.Errorf("settings seed %s: %w", path, err)
	}
	return settings, nil
}
