package conf

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zhengqiangwang/live-server-sub002/internal/logger"
)

// LogDestination is a log destination.
type LogDestination logger.Destination

// MarshalJSON implements json.Marshaler.
func (d LogDestination) MarshalJSON() ([]byte, error) {
	var out string

	switch d {
	case LogDestination(logger.DestinationStdout):
		out = "stdout"

	case LogDestination(logger.DestinationFile):
		out = "file"

	case LogDestination(logger.DestinationSyslog):
		out = "syslog"

	default:
		return nil, fmt.Errorf("invalid log destination: %v", d)
	}

	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *LogDestination) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	switch in {
	case "stdout":
		*d = LogDestination(logger.DestinationStdout)

	case "file":
		*d = LogDestination(logger.DestinationFile)

	case "syslog":
		*d = LogDestination(logger.DestinationSyslog)

	default:
		return fmt.Errorf("invalid log destination: '%s'", in)
	}

	return nil
}

// LogDestinations is the logDestinations parameter.
type LogDestinations []LogDestination

// UnmarshalEnv implements env.Unmarshaler.
func (d *LogDestinations) UnmarshalEnv(_ string, v string) error {
	byts, _ := json.Marshal(strings.Split(v, ","))
	return json.Unmarshal(byts, d)
}

// ToDestinations converts to logger.Destination slice.
func (d LogDestinations) ToDestinations() []logger.Destination {
	out := make([]logger.Destination, len(d))
	for i, v := range d {
		out[i] = logger.Destination(v)
	}
	return out
}
