package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type SchedulerConfig struct {
	Enabled    bool
	Interval   time.Duration
	LockKey    string
	LockTTL    time.Duration
	InstanceID string
}

func LoadSchedulerConfig() *SchedulerConfig {
	instance := viper.GetString("scheduler.instance_id")
	if instance == "" {
		instance, _ = os.Hostname()
	}

	return &SchedulerConfig{
		Enabled:    viper.GetBool("scheduler.enabled"),
		Interval:   viper.GetDuration("scheduler.interval"),
		LockKey:    viper.GetString("scheduler.lock_key"),
		LockTTL:    viper.GetDuration("scheduler.lock_ttl"),
		InstanceID: instance,
	}
}
