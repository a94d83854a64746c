// Package reading is public data model of wearable telemetry.
// Kind values double as one byte wire tags.
package reading

import "fmt"

type Kind uint8

const (
	KindInvalid         Kind = 0
	KindGps             Kind = 55
	KindStepCount       Kind = 66
	KindBodyTemperature Kind = 77
	KindBloodPressure   Kind = 88
	KindHeartRate       Kind = 99
)

// TagDisconnect is reserved wire tag for disconnect signal, never a Kind.
const TagDisconnect byte = 0xff

// All kinds in default priority order.
var AllKinds = []Kind{KindHeartRate, KindBloodPressure, KindBodyTemperature, KindStepCount, KindGps}

type kindInfo struct {
	name   string // config block name
	slug   string // sink endpoint/topic suffix
	fields []string
}

var kinds = map[Kind]kindInfo{
	KindHeartRate:       {"heart_rate", "heartRate", []string{"heartRate"}},
	KindBloodPressure:   {"blood_pressure", "bloodPressure", []string{"bloodPressureSystolic", "bloodPressureDiastolic"}},
	KindBodyTemperature: {"body_temperature", "bodyTemperature", []string{"bodyTemperature"}},
	KindStepCount:       {"step_count", "stepCount", []string{"stepCount"}},
	KindGps:             {"gps", "gps", []string{"longitude", "latitude"}},
}

func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Composite kinds pack two fields into one payload.
func (k Kind) Composite() bool { return k.FieldCount() == 2 }

func (k Kind) FieldCount() int { return len(kinds[k].fields) }

// FieldNames are event field names in payload order. Nil for invalid kind.
func (k Kind) FieldNames() []string { return kinds[k].fields }

// Name is config block name, e.g. "heart_rate".
func (k Kind) Name() string { return kinds[k].name }

// Slug is sink endpoint/topic suffix, e.g. "heartRate".
func (k Kind) Slug() string { return kinds[k].slug }

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func KindByName(name string) (Kind, bool) {
	for k, info := range kinds {
		if info.name == name {
			return k, true
		}
	}
	return KindInvalid, false
}
