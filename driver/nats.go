package driver

import (
	"time"

	"github.com/nats-io/nats.go"
)

const (
	natsMaxReconnects = 10
	natsReconnectWait = 2 * time.Second
)

// ConnectNATS connects to the NATS server and returns a *nats.Conn and an errors
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
	)
}
