package helper

import (
	"context"
	"fmt"
	"os"
	"strconv"

	database "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
	instance "cloud.google.com/go/spanner/admin/instance/apiv1"
	"cloud.google.com/go/spanner/admin/instance/apiv1/instancepb"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	spannerEmulatorImage = "gcr.io/cloud-spanner-emulator/emulator:latest"
	spannerEmulatorPort  = "9010/tcp"
	emulatorHostEnv      = "SPANNER_EMULATOR_HOST"
)

// NewTestContainer creates and starts a new test container with the specified image, environment variables, ports, wait strategy, and optional command arguments.
// Returns a testcontainers.Container instance or an error.
func NewTestContainer(ctx context.Context, image string, envVars map[string]string, ports []string, waitfor wait.Strategy, cmdArgs ...string) (testcontainers.Container, error) {
	req := testcontainers.ContainerRequest{
		SkipReaper:   true,
		Image:        image,
		Env:          envVars,
		ExposedPorts: ports,
		WaitingFor:   waitfor,
		Cmd:          cmdArgs,
	}

	// picks up local test env to clean up containers
	if skipReaper := os.Getenv("SKIP_REAPER"); skipReaper != "" {
		shouldSkipReaper, err := strconv.ParseBool(skipReaper)
		if err != nil {
			return nil, err
		}
		req.SkipReaper = shouldSkipReaper
	}

	return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
}

// EnsureSpannerEmulator points the Spanner clients at an emulator.
// An emulator already named by SPANNER_EMULATOR_HOST is reused; otherwise one is started in a container.
// The returned function terminates the container, if one was started.
func EnsureSpannerEmulator(ctx context.Context) (func(), error) {
	if host := os.Getenv(emulatorHostEnv); host != "" {
		return func() {}, nil
	}

	container, err := NewTestContainer(ctx, spannerEmulatorImage, nil, []string{spannerEmulatorPort}, wait.ForLog("gRPC server listening"))
	if err != nil {
		return nil, fmt.Errorf("failed to start spanner emulator: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, spannerEmulatorPort, "")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to resolve spanner emulator endpoint: %w", err)
	}
	if err := os.Setenv(emulatorHostEnv, endpoint); err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return func() {
		_ = os.Unsetenv(emulatorHostEnv)
		_ = container.Terminate(context.Background())
	}, nil
}

// CreateInstance creates a new Spanner instance with the given project, instance ID and instance config.
// An instance that already exists is not an error. Returns the instance name.
func CreateInstance(ctx context.Context, parentProjectID, instanceID, instanceConfig string) (string, error) {
	instanceAdminClient, err := instance.NewInstanceAdminClient(ctx)
	if err != nil {
		return "", err
	}
	defer instanceAdminClient.Close()

	name := fmt.Sprintf("projects/%s/instances/%s", parentProjectID, instanceID)
	op, err := instanceAdminClient.CreateInstance(ctx, &instancepb.CreateInstanceRequest{
		Parent:     "projects/" + parentProjectID,
		InstanceId: instanceID,
		Instance: &instancepb.Instance{
			Config:          fmt.Sprintf("projects/%s/instanceConfigs/%s", parentProjectID, instanceConfig),
			DisplayName:     instanceID,
			ProcessingUnits: 100,
		},
	})
	if status.Code(err) == codes.AlreadyExists {
		return name, nil
	}
	if err != nil {
		return "", err
	}

	resp, err := op.Wait(ctx)
	if err != nil {
		return "", err
	}

	return resp.Name, nil
}

// DeleteInstance deletes the specified Spanner instance.
// Returns an error if the operation fails.
func DeleteInstance(ctx context.Context, instanceName string) error {
	instanceAdminClient, err := instance.NewInstanceAdminClient(ctx)
	if err != nil {
		return err
	}
	defer instanceAdminClient.Close()

	return instanceAdminClient.DeleteInstance(ctx, &instancepb.DeleteInstanceRequest{
		Name: instanceName,
	})
}

// CreateDatabase creates a new Spanner database with the given parent instance name and database ID.
// A database that already exists is not an error. Returns the database name.
func CreateDatabase(ctx context.Context, parentInstanceName, databaseID string) (string, error) {
	databaseAdminClient, err := database.NewDatabaseAdminClient(ctx)
	if err != nil {
		return "", err
	}
	defer databaseAdminClient.Close()

	name := fmt.Sprintf("%s/databases/%s", parentInstanceName, databaseID)
	op, err := databaseAdminClient.CreateDatabase(ctx, &databasepb.CreateDatabaseRequest{
		Parent:          parentInstanceName,
		CreateStatement: fmt.Sprintf("CREATE DATABASE `%s`", databaseID),
	})
	if status.Code(err) == codes.AlreadyExists {
		return name, nil
	}
	if err != nil {
		return "", err
	}

	resp, err := op.Wait(ctx)
	if err != nil {
		return "", err
	}

	return resp.Name, nil
}
