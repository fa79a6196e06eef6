package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

const (
	osLinux    = "linux"
	osDarwin   = "darwin"
	osWindows  = "windows"
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"

	// EnvLibraryPath overrides the runtime library search.
	EnvLibraryPath = "MEDINVOICE_ONNXRUNTIME_LIB"
)

// ErrRuntimeUnavailable is returned when no ONNX Runtime shared library can be located.
var ErrRuntimeUnavailable = errors.New("onnx runtime library not found")

// GPUConfig holds configuration for CUDA acceleration.
type GPUConfig struct {
	UseGPU      bool   `mapstructure:"use_gpu" yaml:"use_gpu" json:"use_gpu"`
	DeviceID    int    `mapstructure:"device_id" yaml:"device_id" json:"device_id"`
	GPUMemLimit uint64 `mapstructure:"gpu_mem_limit" yaml:"gpu_mem_limit" json:"gpu_mem_limit"`
}

// Validate checks the GPU configuration.
func (c GPUConfig) Validate() error {
	if c.UseGPU && c.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", c.DeviceID)
	}
	return nil
}

// SessionConfig describes how a model session is created.
type SessionConfig struct {
	LibraryPath string
	NumThreads  int
	GPU         GPUConfig
}

var envMu sync.Mutex

// libraryName returns the shared library filename for goos.
func libraryName(goos string) (string, error) {
	switch goos {
	case osLinux:
		return libLinux, nil
	case osDarwin:
		return libDarwin, nil
	case osWindows:
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// candidatePaths lists library locations in search order.
func candidatePaths(explicit string, useGPU bool) []string {
	var paths []string
	if explicit != "" {
		paths = append(paths, explicit)
	}
	if env := os.Getenv(EnvLibraryPath); env != "" {
		paths = append(paths, env)
	}
	if useGPU {
		paths = append(paths, "/opt/onnxruntime/gpu/lib/libonnxruntime.so")
	}
	paths = append(paths,
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	)
	if root, err := findProjectRoot(); err == nil {
		if name, err := libraryName(runtime.GOOS); err == nil {
			if useGPU {
				paths = append(paths, filepath.Join(root, "onnxruntime", "gpu", "lib", name))
			}
			paths = append(paths, filepath.Join(root, "onnxruntime", "lib", name))
		}
	}
	return paths
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// LocateLibrary returns the first existing runtime library path.
func LocateLibrary(explicit string, useGPU bool) (string, error) {
	for _, p := range candidatePaths(explicit, useGPU) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrRuntimeUnavailable
}

// EnsureEnvironment points the runtime at its shared library and initializes it once.
func EnsureEnvironment(cfg SessionConfig) error {
	envMu.Lock()
	defer envMu.Unlock()
	if onnxruntime_go.IsInitialized() {
		return nil
	}
	path, err := LocateLibrary(cfg.LibraryPath, cfg.GPU.UseGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(path)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("onnx runtime initialized", "library", path)
	return nil
}

// configureGPU appends the CUDA execution provider when requested.
func configureGPU(opts *onnxruntime_go.SessionOptions, gpu GPUConfig) error {
	if !gpu.UseGPU {
		return nil
	}
	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options: %w", err)
	}
	defer func() { _ = cudaOpts.Destroy() }()

	settings := map[string]string{"device_id": strconv.Itoa(gpu.DeviceID)}
	if gpu.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(gpu.GPUMemLimit, 10)
	}
	if err := cudaOpts.Update(settings); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}

// NewSession opens a dynamic session for modelPath bound to the named inputs and outputs.
func NewSession(modelPath string, inputs, outputs []string, cfg SessionConfig) (*onnxruntime_go.DynamicAdvancedSession, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}
	if err := EnsureEnvironment(cfg); err != nil {
		return nil, err
	}
	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()

	if err := configureGPU(opts, cfg.GPU); err != nil {
		slog.Warn("GPU unavailable, using CPU", "error", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}
	session, err := onnxruntime_go.NewDynamicAdvancedSession(modelPath, inputs, outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}
