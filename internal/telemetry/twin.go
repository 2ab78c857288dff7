package telemetry

import (
	"encoding/json"
	"fmt"
)

const StatusLEDProperty = "StatusLED"

type boolProperty struct {
	Value *bool `json:"value"`
}

// DesiredBool extracts property.value from a twin document. Full twin
// documents carry the properties under "desired"; patches carry them at the
// root. ok is false when the property or its value is absent.
func DesiredBool(payload []byte, property string) (value bool, ok bool, err error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(payload, &root); err != nil {
		return false, false, fmt.Errorf("cannot parse twin payload as JSON: %w", err)
	}
	props := root
	if raw, found := root["desired"]; found {
		var desired map[string]json.RawMessage
		if err := json.Unmarshal(raw, &desired); err == nil {
			props = desired
		}
	}
	raw, found := props[property]
	if !found {
		return false, false, nil
	}
	var p boolProperty
	if err := json.Unmarshal(raw, &p); err != nil {
		return false, false, fmt.Errorf("property %s: %w", property, err)
	}
	if p.Value == nil {
		return false, false, nil
	}
	return *p.Value, true, nil
}
