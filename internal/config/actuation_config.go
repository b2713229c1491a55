// File: internal/config/actuation_config.go
// ActuationConfig holds the gesture timings used when translating actions into
// device input, and the mapping from human app names to package names used by
// open_app.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ActuationConfig tunes gesture translation.
type ActuationConfig struct {
	LongPressDuration time.Duration `mapstructure:"long_press_duration" yaml:"long_press_duration"`
	SwipeDuration     time.Duration `mapstructure:"swipe_duration" yaml:"swipe_duration"`
	DoubleTapInterval time.Duration `mapstructure:"double_tap_interval" yaml:"double_tap_interval"`
	WaitDuration      time.Duration `mapstructure:"wait_duration" yaml:"wait_duration"`
	// Apps maps lower case app names to Android package names.
	Apps map[string]string `mapstructure:"apps" yaml:"apps"`
}

func setActuationDefaults(v *viper.Viper) {
	v.SetDefault("actuation.long_press_duration", "1s")
	v.SetDefault("actuation.swipe_duration", "500ms")
	v.SetDefault("actuation.double_tap_interval", "100ms")
	v.SetDefault("actuation.wait_duration", "1s")
	v.SetDefault("actuation.apps", map[string]string{
		"chrome":   "com.android.chrome",
		"settings": "com.android.settings",
		"camera":   "com.android.camera2",
		"clock":    "com.google.android.deskclock",
		"contacts": "com.google.android.contacts",
		"files":    "com.google.android.documentsui",
		"gmail":    "com.google.android.gm",
		"maps":     "com.google.android.apps.maps",
		"messages": "com.google.android.apps.messaging",
		"phone":    "com.google.android.dialer",
		"photos":   "com.google.android.apps.photos",
		"youtube":  "com.google.android.youtube",
	})
}

// Validate checks the gesture timings.
func (a *ActuationConfig) Validate() error {
	if a.LongPressDuration <= 0 {
		return fmt.Errorf("long_press_duration must be a positive duration")
	}
	if a.SwipeDuration <= 0 {
		return fmt.Errorf("swipe_duration must be a positive duration")
	}
	if a.DoubleTapInterval < 0 || a.WaitDuration < 0 {
		return fmt.Errorf("double_tap_interval and wait_duration must not be negative")
	}
	return nil
}
