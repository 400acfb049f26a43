package conf

import (
	"encoding/json"
	"fmt"
)

// TimeJitter is the timeJitter parameter.
type TimeJitter int

// supported jitter correction algorithms.
const (
	// TimeJitterFull rewrites timestamps so that deltas stay plausible.
	TimeJitterFull TimeJitter = iota

	// TimeJitterZero shifts timestamps so that the stream starts at zero.
	TimeJitterZero

	// TimeJitterOff forwards timestamps untouched.
	TimeJitterOff
)

// MarshalJSON implements json.Marshaler.
func (d TimeJitter) MarshalJSON() ([]byte, error) {
	var out string

	switch d {
	case TimeJitterFull:
		out = "full"

	case TimeJitterZero:
		out = "zero"

	case TimeJitterOff:
		out = "off"

	default:
		return nil, fmt.Errorf("invalid time jitter: %v", d)
	}

	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *TimeJitter) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	switch in {
	case "full":
		*d = TimeJitterFull

	case "zero":
		*d = TimeJitterZero

	case "off":
		*d = TimeJitterOff

	default:
		return fmt.Errorf("invalid time jitter: '%s'", in)
	}

	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *TimeJitter) UnmarshalEnv(_ string, v string) error {
	return d.UnmarshalJSON([]byte(`"` + v + `"`))
}
