package domain

// Settings is the single configuration record covering fees, funding,
// display balance and the user's default SL/TP percentages. The core only
// echoes the display preferences; it never interprets them.
type Settings struct {
	TakerFee                 float64
	MakerFee                 float64
	EnableFunding            bool
	BaseBalance              float64
	DefaultStopLossPercent   float64
	DefaultTakeProfitPercent float64

	// Display-only, echoed verbatim by the core.
	NumberFormat string
	Timezone     string
}

// SettingsPatch carries a partial update; nil fields are left untouched.
type SettingsPatch struct {
	TakerFee                 *float64
	MakerFee                 *float64
	EnableFunding            *bool
	BaseBalance              *float64
	DefaultStopLossPercent   *float64
	DefaultTakeProfitPercent *float64
	NumberFormat             *string
	Timezone                 *string
}

// DefaultSettings returns the spec-mandated defaults, seeded when no
// settings row exists yet.
func DefaultSettings() Settings {
	return Settings{
		TakerFee:                 0.0004,
		MakerFee:                 0.0002,
		EnableFunding:            false,
		BaseBalance:              10000,
		DefaultStopLossPercent:   0,
		DefaultTakeProfitPercent: 0,
		NumberFormat:             "en-US",
		Timezone:                 "UTC",
	}
}
