package link

import (
	"fmt"
	"io"

	serial "go.bug.st/serial"

	"agrolink/internal/model"
)

// Dial opens the transport for an endpoint: a serial port path, or the
// reserved "simulated" endpoint which returns an in-process flight controller.
func Dial(vehicleID int, endpoint string, baud int) (io.ReadWriteCloser, error) {
	if endpoint == model.SimulatedEndpoint {
		return NewSimTransport(vehicleID), nil
	}
	port, err := serial.Open(endpoint, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("link %d: open %s @ %d: %w", vehicleID, endpoint, baud, err)
	}
	return port, nil
}
