//nolint:errcheck // testsetup
package tcnats

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NatsContainer represents a nats server with jetstream enabled
type NatsContainer struct {
	testcontainers.Container
	URL string
}

// SetupNats starts (or reuses) a nats container and returns a connection to it
func SetupNats() (*NatsContainer, *nats.Conn) {
	ctx := context.Background()
	port, err := nat.NewPort("tcp", "4222")
	if err != nil {
		log.Fatal(err)
	}
	req := testcontainers.ContainerRequest{
		Image:        "nats:2.10",
		Cmd:          []string{"-js"},
		ExposedPorts: []string{string(port)},
		Name:         "igap-nats-test",
		WaitingFor: wait.ForLog("Server is ready").
			WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
			Reuse:            true,
		})
	if err != nil {
		log.Fatal(err)
	}
	containerPort, _ := container.MappedPort(ctx, port)
	host, _ := container.Host(ctx)
	url := fmt.Sprintf("nats://%s:%s", host, containerPort.Port())
	conn, err := nats.Connect(url)
	if err != nil {
		log.Fatal(err)
	}
	return &NatsContainer{Container: container, URL: url}, conn
}
