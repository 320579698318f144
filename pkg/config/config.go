// Package config provides environment-driven configuration for Rhea.
//
// All runtime parameters are supplied through environment variables read at
// startup. A .env file in the working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the root configuration, assembled once at startup.
type Settings struct {
	// Transport host/port for the SSE and streamable-HTTP transports and the
	// REST sidecar.
	Host string
	Port int

	// DebugPort, when non-zero, enables the debug trace exporter.
	DebugPort int

	// ClientTTL is how long an idle session keeps its tool bindings.
	ClientTTL time.Duration

	// CatalogPath locates the JSON descriptor catalog.
	CatalogPath string

	Registry  RegistryConfig
	Index     IndexConfig
	Embedding EmbeddingConfig
	Store     StoreConfig
	Scheduler SchedulerConfig
}

// RegistryConfig locates the shared key-value index holding worker handles.
type RegistryConfig struct {
	Host string
	Port int
}

// Addr returns the host:port address of the registry.
func (c RegistryConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IndexConfig locates the semantic tool index.
type IndexConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string
	UseTLS     bool
}

// EmbeddingConfig locates the OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	URL   string
	Key   string
	Model string
}

// StoreConfig locates the S3-compatible object store.
type StoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
	Region    string
}

// SchedulerConfig sizes the worker pool and selects the block provider.
type SchedulerConfig struct {
	// Provider is one of "local", "container", "batch".
	Provider string

	// ContainerBackend is "docker" or "podman" (container provider only).
	ContainerBackend string

	// ContainerNetwork is the network mode for container blocks.
	ContainerNetwork string

	// ContainerImage is the image container blocks run.
	ContainerImage string

	// MaxBlocks bounds the number of concurrently live workers.
	MaxBlocks int

	// AcquireTimeout bounds how long Ensure waits for a free block.
	AcquireTimeout time.Duration

	// ProvisionTimeout bounds environment creation for a new worker.
	ProvisionTimeout time.Duration

	// RunTimeout is the wall-clock limit for one tool subprocess.
	RunTimeout time.Duration

	// WorkerTTL drains workers idle longer than this.
	WorkerTTL time.Duration

	Batch BatchConfig
}

// BatchConfig carries the grid-scheduler settings for the batch provider.
type BatchConfig struct {
	Account          string
	Queue            string
	Walltime         string
	SchedulerOptions string
	SelectOptions    string
	WorkerInit       string
	CPUsPerNode      int
}

// Load reads Settings from the environment. A .env file is merged in first
// when present; real environment variables win.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		Host:        getString("RHEA_HOST", "localhost"),
		Port:        getInt("RHEA_PORT", 3001),
		DebugPort:   getInt("RHEA_DEBUG_PORT", 0),
		ClientTTL:   getDuration("RHEA_CLIENT_TTL", time.Hour),
		CatalogPath: getString("RHEA_CATALOG", "tools.json"),
		Registry: RegistryConfig{
			Host: getString("REGISTRY_HOST", "localhost"),
			Port: getInt("REGISTRY_PORT", 6379),
		},
		Index: IndexConfig{
			Host:       getString("INDEX_HOST", "localhost"),
			Port:       getInt("INDEX_PORT", 6334),
			Collection: getString("INDEX_COLLECTION", ""),
			APIKey:     getString("INDEX_API_KEY", ""),
			UseTLS:     getBool("INDEX_USE_TLS", false),
		},
		Embedding: EmbeddingConfig{
			URL:   getString("EMBEDDING_URL", "http://localhost:8000/v1"),
			Key:   getString("EMBEDDING_KEY", ""),
			Model: getString("EMBEDDING_MODEL", "Qwen/Qwen3-Embedding-0.6B"),
		},
		Store: StoreConfig{
			Endpoint:  getString("STORE_ENDPOINT", "localhost:9000"),
			AccessKey: getString("STORE_ACCESS_KEY", "minioadmin"),
			SecretKey: getString("STORE_SECRET_KEY", "minioadmin"),
			Secure:    getBool("STORE_SECURE", false),
			Bucket:    getString("STORE_BUCKET", "dev"),
			Region:    getString("STORE_REGION", "us-east-1"),
		},
		Scheduler: SchedulerConfig{
			Provider:         getString("SCHEDULER_PROVIDER", "local"),
			ContainerBackend: getString("SCHEDULER_CONTAINER_BACKEND", "docker"),
			ContainerNetwork: getString("SCHEDULER_CONTAINER_NETWORK", "host"),
			ContainerImage:   getString("SCHEDULER_CONTAINER_IMAGE", ""),
			MaxBlocks:        getInt("SCHEDULER_MAX_BLOCKS", 5),
			AcquireTimeout:   getDuration("SCHEDULER_ACQUIRE_TIMEOUT", 2*time.Minute),
			ProvisionTimeout: getDuration("SCHEDULER_PROVISION_TIMEOUT", 10*time.Minute),
			RunTimeout:       getDuration("SCHEDULER_RUN_TIMEOUT", 10*time.Minute),
			WorkerTTL:        getDuration("SCHEDULER_WORKER_TTL", 30*time.Minute),
			Batch: BatchConfig{
				Account:          getString("BATCH_ACCOUNT", ""),
				Queue:            getString("BATCH_QUEUE", ""),
				Walltime:         getString("BATCH_WALLTIME", "01:00:00"),
				SchedulerOptions: getString("BATCH_SCHEDULER_OPTIONS", ""),
				SelectOptions:    getString("BATCH_SELECT_OPTIONS", ""),
				WorkerInit:       getString("BATCH_WORKER_INIT", ""),
				CPUsPerNode:      getInt("BATCH_CPUS_PER_NODE", 1),
			},
		},
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks cross-field constraints that defaults cannot repair.
func (s *Settings) Validate() error {
	switch s.Scheduler.Provider {
	case "local", "container", "batch":
	default:
		return fmt.Errorf("config: unsupported scheduler provider %q", s.Scheduler.Provider)
	}
	if s.Scheduler.Provider == "container" {
		switch s.Scheduler.ContainerBackend {
		case "docker", "podman":
		default:
			return fmt.Errorf("config: unsupported container backend %q", s.Scheduler.ContainerBackend)
		}
	}
	if s.Scheduler.Provider == "batch" && s.Scheduler.Batch.Queue == "" {
		return fmt.Errorf("config: BATCH_QUEUE is required for the batch provider")
	}
	if s.Scheduler.MaxBlocks < 1 {
		return fmt.Errorf("config: SCHEDULER_MAX_BLOCKS must be at least 1")
	}
	if s.Index.Collection == "" {
		return fmt.Errorf("config: INDEX_COLLECTION must be set")
	}
	return nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getDuration reads either a Go duration string ("90s", "5m") or a bare
// number of seconds, matching how deployments have historically set TTLs.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
