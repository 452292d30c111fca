package endpoint

import (
	"fmt"
	"os"
	"strconv"
)

// readPort parses PortVar as a decimal port in 1..=65535.
func readPort() (int, error) {
	raw, ok := os.LookupEnv(PortVar)
	if !ok || raw == "" {
		return 0, fmt.Errorf("%s is not set", PortVar)
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid port number: %w", PortVar, raw, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%s=%d is out of range 1..65535", PortVar, port)
	}
	return port, nil
}
