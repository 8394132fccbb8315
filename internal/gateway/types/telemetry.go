package types

import "time"

// TelemetryMessage is the canonical ten-field report sent by a thermostat.
// Field order here is the order used for the integrity computation.
type TelemetryMessage struct {
	ID            string  `json:"id"`
	StatusOn      bool    `json:"status_on"`
	Temp          float64 `json:"temp"`
	SetTemp       float64 `json:"set_temp"`
	Heating       bool    `json:"heating"`
	Ventilator    float64 `json:"ventilator"`
	SetVentilator float64 `json:"set_ventilator"`
	Pressure      float64 `json:"pressure"`
	WifiSignal    float64 `json:"wifi_signal"`
	RFSignal      float64 `json:"rf_signal"`
}

// TelemetryRecord is one stored report as returned to operators.
type TelemetryRecord struct {
	Num           int64     `json:"num"`
	StatusOn      bool      `json:"status_on"`
	Temp          float64   `json:"temp"`
	SetTemp       float64   `json:"set_temp"`
	Heating       bool      `json:"heating"`
	Ventilator    float64   `json:"ventilator"`
	SetVentilator float64   `json:"set_ventilator"`
	Pressure      float64   `json:"pressure"`
	Recorded      time.Time `json:"recorded"`
	WifiSignal    float64   `json:"wifi_signal"`
	RFSignal      float64   `json:"rf_signal"`
}

// RecordFromMessage copies the measured values of m into a record stamped
// with num and recorded.
func RecordFromMessage(m TelemetryMessage, num int64, recorded time.Time) TelemetryRecord {
	return TelemetryRecord{
		Num:           num,
		StatusOn:      m.StatusOn,
		Temp:          m.Temp,
		SetTemp:       m.SetTemp,
		Heating:       m.Heating,
		Ventilator:    m.Ventilator,
		SetVentilator: m.SetVentilator,
		Pressure:      m.Pressure,
		Recorded:      recorded.UTC(),
		WifiSignal:    m.WifiSignal,
		RFSignal:      m.RFSignal,
	}
}
