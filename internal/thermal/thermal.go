// Package thermal converts the console's raw ADC telemetry into
// physical units: a fixed resistor-bridge model for the thermistor
// channels and a resistance-to-temperature lookup with linear
// interpolation.
package thermal

// Bridge constants for the TEC thermistor divider: a 10k NTC against
// a 10k reference resistor on a 12-bit ADC.
const (
	adcMaxCounts   = 4095
	bridgeRefOhms  = 10000.0
	railVoltage    = 3.3
	railScale      = railVoltage * 2 / adcMaxCounts // PDU rails read through a 1:2 divider
	currentShuntmA = 0.5                            // mA per count on the laser current channel
)

// tempPoint is one row of the thermistor calibration table.
type tempPoint struct {
	ohms float64
	degC float64
}

// ntcTable is the 10k B=3950 curve, resistance descending.
var ntcTable = []tempPoint{
	{58200, -10},
	{44040, -5},
	{33620, 0},
	{25930, 5},
	{20180, 10},
	{15840, 15},
	{12530, 20},
	{10000, 25},
	{8038, 30},
	{6506, 35},
	{5301, 40},
	{4349, 45},
	{3588, 50},
	{2979, 55},
	{2487, 60},
	{2087, 65},
	{1761, 70},
}

// ResistanceFromADC converts a raw bridge reading to thermistor
// resistance in ohms. Saturated readings clamp to the rail.
func ResistanceFromADC(raw uint16) float64 {
	if raw == 0 {
		return ntcTable[0].ohms // open circuit reads as coldest
	}
	if raw >= adcMaxCounts {
		raw = adcMaxCounts - 1
	}
	return bridgeRefOhms * float64(raw) / float64(adcMaxCounts-raw)
}

// TemperatureC converts a thermistor resistance to degrees Celsius by
// linear interpolation over the calibration table, clamping outside
// its range.
func TemperatureC(ohms float64) float64 {
	if ohms >= ntcTable[0].ohms {
		return ntcTable[0].degC
	}
	last := ntcTable[len(ntcTable)-1]
	if ohms <= last.ohms {
		return last.degC
	}
	for i := 1; i < len(ntcTable); i++ {
		hi, lo := ntcTable[i-1], ntcTable[i]
		if ohms > lo.ohms {
			frac := (hi.ohms - ohms) / (hi.ohms - lo.ohms)
			return hi.degC + frac*(lo.degC-hi.degC)
		}
	}
	return last.degC
}

// ThermistorC converts a raw bridge ADC reading straight to degrees.
func ThermistorC(raw uint16) float64 {
	return TemperatureC(ResistanceFromADC(raw))
}

// RailVolts converts a PDU rail-monitor reading to volts.
func RailVolts(raw uint16) float64 {
	return float64(raw) * railScale
}

// HighRailVolts converts the 12V rail-monitor reading to volts. That
// channel sits behind a 1:4 divider rather than the 1:2 used by the
// low rails.
func HighRailVolts(raw uint16) float64 {
	return float64(raw) * railVoltage * 4 / adcMaxCounts
}

// LaserCurrentmA converts the laser current-shunt channel to mA.
func LaserCurrentmA(raw uint16) float64 {
	return float64(raw) * currentShuntmA
}
