package scylla

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository"
)

const testKeyspace = "iep_test"

var testSchema = []string{
	`CREATE KEYSPACE IF NOT EXISTS ` + testKeyspace + `
        WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
	`CREATE TABLE IF NOT EXISTS ` + testKeyspace + `.user_profiles (
        user_id text PRIMARY KEY,
        created_at timestamp,
        updated_at timestamp,
        children text,
        consent_given boolean)`,
}

func newTestCluster(hostPort, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(hostPort)
	cluster.Keyspace = keyspace
	cluster.DisableInitialHostLookup = true
	cluster.Consistency = gocql.One
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 30 * time.Second
	return cluster
}

func newProfile(userID, childID string, now time.Time) *models.UserProfile {
	return &models.UserProfile{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Children: []models.Child{
			{ChildID: childID, Name: models.DefaultChildName, SchoolCity: models.DefaultSchoolCity},
		},
	}
}

func setupTestClient(t *testing.T) *ScyllaClient {
	if testing.Short() {
		t.Skip("skipping scylla container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "scylladb/scylla:5.4",
			ExposedPorts: []string{"9042/tcp"},
			Cmd:          []string{"--smp", "1", "--memory", "512M", "--overprovisioned", "1", "--developer-mode", "1"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Starting listening for CQL clients"),
				wait.ForListeningPort("9042/tcp"),
			).WithDeadline(3 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate scylla container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9042/tcp")
	require.NoError(t, err)
	hostPort := net.JoinHostPort(host, port.Port())

	admin, err := newTestCluster(hostPort, "").CreateSession()
	require.NoError(t, err)
	for _, stmt := range testSchema {
		require.NoError(t, admin.Query(stmt).WithContext(ctx).Exec())
	}
	admin.Close()

	session, err := newTestCluster(hostPort, testKeyspace).CreateSession()
	require.NoError(t, err)
	t.Cleanup(session.Close)

	statements := profileStatements
	return &ScyllaClient{Session: session, Prepared: &statements}
}

func TestProfileRepository_Scylla(t *testing.T) {
	repo := NewProfileRepository(setupTestClient(t), zap.NewNop())
	ctx := context.Background()
	// CQL timestamps carry millisecond precision.
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("missing profile", func(t *testing.T) {
		_, err := repo.GetProfile(ctx, "nobody")
		assert.ErrorIs(t, err, repository.ErrProfileNotFound)
	})

	t.Run("create then read", func(t *testing.T) {
		profile := newProfile("user-1", "child-1", now)
		require.NoError(t, repo.CreateProfile(ctx, profile))

		got, err := repo.GetProfile(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, profile, got)
	})

	t.Run("duplicate create keeps first write", func(t *testing.T) {
		first := newProfile("user-2", "child-a", now)
		require.NoError(t, repo.CreateProfile(ctx, first))

		second := newProfile("user-2", "child-b", now.Add(time.Second))
		assert.ErrorIs(t, repo.CreateProfile(ctx, second), repository.ErrProfileExists)

		got, err := repo.GetProfile(ctx, "user-2")
		require.NoError(t, err)
		require.Len(t, got.Children, 1)
		assert.Equal(t, "child-a", got.Children[0].ChildID)
	})

	t.Run("concurrent creates have one winner", func(t *testing.T) {
		const writers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			exists  int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.CreateProfile(ctx, newProfile("user-3", "child-x", now))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, repository.ErrProfileExists):
					exists++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Equal(t, writers-1, exists)
	})
}
