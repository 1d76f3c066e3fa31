package engine

import (
	"context"

	"github.com/mux-run/mux/backend/internal/runtime"
	"github.com/mux-run/mux/backend/internal/runtime/devcontainerrt"
	"github.com/mux-run/mux/backend/internal/runtime/dockerrt"
	"github.com/mux-run/mux/backend/internal/runtime/localrt"
	"github.com/mux-run/mux/backend/internal/runtime/sshrt"
)

func localRuntime(cfg RuntimeConfig) runtime.Runtime {
	return localrt.New(cfg.SrcBaseDir)
}

func sshRuntime(cfg RuntimeConfig) runtime.Runtime {
	return sshrt.New(cfg.Host, cfg.Port, cfg.User, cfg.IdentityFile, cfg.SrcBaseDir)
}

func dockerRuntime(cfg RuntimeConfig) (runtime.Runtime, error) {
	return dockerrt.New(cfg.Image)
}

func devcontainerRuntime(ctx context.Context, projectPath string) (runtime.Runtime, error) {
	return devcontainerrt.New(ctx, projectPath)
}
