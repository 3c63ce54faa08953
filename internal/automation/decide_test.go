package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"coop-door-controller/internal/settings"
)

func TestDecide(t *testing.T) {
	defaults := settings.Default()
	thresholds := settings.Settings{
		LightLevels: settings.LightLevels{Open: 60, Close: 10},
		Times:       defaults.Times,
	}

	tests := []struct {
		name  string
		now   settings.TimeOfDay
		level float64
		s     settings.Settings
		want  Decision
	}{
		{"evening with defaults closes", settings.Clock(19, 0, 0), 50, defaults, Close},
		{"morning with defaults opens", settings.Clock(7, 0, 0), 50, defaults, Open},
		{"before dawn with defaults waits", settings.Clock(5, 0, 0), 50, defaults, NoAction},
		{"exactly at close time", settings.Clock(18, 0, 0), 50, defaults, Close},
		{"exactly at open time", settings.Clock(6, 0, 0), 50, defaults, Open},
		{"darkness closes during the day", settings.Clock(12, 0, 0), 5, thresholds, Close},
		{"close threshold is inclusive", settings.Clock(12, 0, 0), 10, thresholds, Close},
		{"bright morning opens early", settings.Clock(5, 0, 0), 70, thresholds, Open},
		{"open threshold is inclusive", settings.Clock(5, 0, 0), 60, thresholds, Open},
		{"dim night waits", settings.Clock(3, 0, 0), 30, thresholds, NoAction},
		{"close wins over open", settings.Clock(19, 0, 0), 90, thresholds, Close},
		{"zero light with default close threshold closes", settings.Clock(12, 0, 0), 0, defaults, Close},
		{"full light with default open threshold opens", settings.Clock(3, 0, 0), 100, defaults, Open},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.now, tt.level, tt.s))
		})
	}
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "none", NoAction.String())
	assert.Equal(t, "close", Close.String())
	assert.Equal(t, "open", Open.String())
}
