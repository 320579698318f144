package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rhea-ai/rhea/pkg/config"
	"github.com/rhea-ai/rhea/pkg/environment"
	"github.com/rhea-ai/rhea/pkg/toolspec"
)

// Block is one provisioned isolate hosting a worker. The wrapper reshapes
// command lines for the backend the block runs on; everything else the
// scheduler core sees is backend-agnostic.
type Block struct {
	ID      string
	Wrapper environment.ArgvWrapper
}

// Provider allocates blocks on a concrete backend. Provider-specific
// command-line formatting is confined here.
type Provider interface {
	Name() string
	Allocate(ctx context.Context, tool *toolspec.Tool) (*Block, error)
	Free(block *Block)
}

// NewProvider selects the provider configured for the scheduler.
func NewProvider(cfg config.SchedulerConfig) (Provider, error) {
	switch cfg.Provider {
	case "local":
		return &LocalProvider{}, nil
	case "container":
		return &ContainerProvider{
			Backend: cfg.ContainerBackend,
			Network: cfg.ContainerNetwork,
			Image:   cfg.ContainerImage,
		}, nil
	case "batch":
		return &BatchProvider{Batch: cfg.Batch}, nil
	}
	return nil, fmt.Errorf("scheduler: unsupported provider %q", cfg.Provider)
}

// LocalProvider runs workers as plain subprocesses of the server.
type LocalProvider struct{}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Allocate(ctx context.Context, tool *toolspec.Tool) (*Block, error) {
	return &Block{
		ID:      "local-" + uuid.NewString(),
		Wrapper: func(argv []string) []string { return argv },
	}, nil
}

func (p *LocalProvider) Free(block *Block) {}

// ContainerProvider runs each worker command inside a fresh container.
type ContainerProvider struct {
	Backend string // docker or podman
	Network string
	Image   string
}

func (p *ContainerProvider) Name() string { return "container" }

func (p *ContainerProvider) Allocate(ctx context.Context, tool *toolspec.Tool) (*Block, error) {
	if p.Image == "" {
		return nil, fmt.Errorf("scheduler: container provider requires an image")
	}
	blockID := "container-" + uuid.NewString()
	prefix := []string{
		p.Backend, "run", "--rm",
		"--network", p.Network,
		"--name", blockID,
		p.Image,
	}
	return &Block{
		ID: blockID,
		Wrapper: func(argv []string) []string {
			return append(append([]string{}, prefix...), argv...)
		},
	}, nil
}

func (p *ContainerProvider) Free(block *Block) {}

// BatchProvider submits each worker command as a blocking grid job.
type BatchProvider struct {
	Batch config.BatchConfig
}

func (p *BatchProvider) Name() string { return "batch" }

func (p *BatchProvider) Allocate(ctx context.Context, tool *toolspec.Tool) (*Block, error) {
	blockID := "batch-" + uuid.NewString()

	prefix := []string{"qsub", "-W", "block=true", "-N", blockID}
	if p.Batch.Account != "" {
		prefix = append(prefix, "-A", p.Batch.Account)
	}
	if p.Batch.Queue != "" {
		prefix = append(prefix, "-q", p.Batch.Queue)
	}
	if p.Batch.Walltime != "" {
		prefix = append(prefix, "-l", "walltime="+p.Batch.Walltime)
	}
	if p.Batch.SelectOptions != "" {
		prefix = append(prefix, "-l", p.Batch.SelectOptions)
	}
	if p.Batch.SchedulerOptions != "" {
		prefix = append(prefix, p.Batch.SchedulerOptions)
	}
	prefix = append(prefix, "--")

	return &Block{
		ID: blockID,
		Wrapper: func(argv []string) []string {
			return append(append([]string{}, prefix...), argv...)
		},
	}, nil
}

func (p *BatchProvider) Free(block *Block) {}

var (
	_ Provider = (*LocalProvider)(nil)
	_ Provider = (*ContainerProvider)(nil)
	_ Provider = (*BatchProvider)(nil)
)
