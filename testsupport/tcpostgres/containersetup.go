package tcpostgres

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultImage = "postgres:17"

type PostgresContainer struct {
	testcontainers.Container
}

type PostgresContainerOption func(req *testcontainers.ContainerRequest)

func WithImage(image string) PostgresContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.Image = image
	}
}

func WithWaitStrategy(strategies ...wait.Strategy) PostgresContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.WaitingFor = wait.ForAll(strategies...).WithDeadline(1 * time.Minute)
	}
}

func WithPort(port string) PostgresContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.ExposedPorts = append(req.ExposedPorts, port)
	}
}

// WithName names the container. Named containers are reused between test packages.
func WithName(containerName string) PostgresContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.Name = containerName
	}
}

func WithInitialDatabase(user, password, dbName string) PostgresContainerOption {
	return func(req *testcontainers.ContainerRequest) {
		req.Env["POSTGRES_USER"] = user
		req.Env["POSTGRES_PASSWORD"] = password
		req.Env["POSTGRES_DB"] = dbName
	}
}

//nolint:whitespace // can't make both editor and linter happy
func SetupPostgres(ctx context.Context, opts ...PostgresContainerOption) (
	*PostgresContainer, error,
) {
	req := testcontainers.ContainerRequest{
		Image:        defaultImage,
		Env:          map[string]string{},
		ExposedPorts: []string{},
		Cmd:          []string{"postgres", "-c", "fsync=off"},
	}
	for _, opt := range opts {
		opt(&req)
	}

	container, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
			Reuse:            req.Name != "",
		})
	if err != nil {
		return nil, err
	}
	return &PostgresContainer{Container: container}, nil
}
