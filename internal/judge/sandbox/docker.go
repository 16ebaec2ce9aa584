package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	appErr "github.com/nageing/nano-oj-backend/pkg/errors"
	"github.com/nageing/nano-oj-backend/pkg/utils/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"go.uber.org/zap"
)

const (
	containerWorkDir = "/box"

	// compile containers get a fixed generous limit, independent of the
	// problem's run limit
	compileMemoryBytes = 1 << 30

	compileLogCap = 16 << 10

	// extra wall time beyond the problem limit before the container is
	// killed, so borderline runs are classified by measured time instead
	// of by the kill
	killGrace = 250 * time.Millisecond
)

// DockerConfig holds settings for the Docker-backed executor.
type DockerConfig struct {
	// WorkDir is the host directory for per-submission workspaces
	WorkDir string `yaml:"workDir"`

	// CompileTimeout bounds the compile phase
	CompileTimeout time.Duration `yaml:"compileTimeout"`

	// NanoCPUs limits CPU per container (1e9 = one core)
	NanoCPUs int64 `yaml:"nanoCPUs"`

	// PidsLimit caps processes per container
	PidsLimit int64 `yaml:"pidsLimit"`
}

func (c *DockerConfig) setDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "nanooj-judge")
	}
	if c.CompileTimeout == 0 {
		c.CompileTimeout = 10 * time.Second
	}
	if c.NanoCPUs == 0 {
		c.NanoCPUs = 1e9
	}
	if c.PidsLimit == 0 {
		c.PidsLimit = 64
	}
}

// DockerSandbox runs each test case in a fresh container with the
// problem's resource limits applied through the container runtime.
type DockerSandbox struct {
	cli       *client.Client
	languages *Registry
	cfg       DockerConfig
}

// NewDockerSandbox creates the executor and verifies the Docker daemon
// is reachable.
func NewDockerSandbox(cfg DockerConfig, languages *Registry) (*DockerSandbox, error) {
	cfg.setDefaults()
	if languages == nil {
		languages = DefaultRegistry()
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, appErr.Wrap(err, appErr.SandboxUnavailable)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, appErr.Wrapf(err, appErr.SandboxUnavailable, "docker daemon unreachable")
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("create sandbox work dir: %w", err)
	}

	return &DockerSandbox{cli: cli, languages: languages, cfg: cfg}, nil
}

// Close releases the Docker client.
func (d *DockerSandbox) Close() error {
	return d.cli.Close()
}

// Execute compiles the submission once, then runs every test case in
// its own container. Returned errors are judge-system failures; verdict
// material (compile failure, crashes, limits) comes back in the response.
func (d *DockerSandbox) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	spec, ok := d.languages.Lookup(req.Language)
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", req.Language)
	}

	root, err := os.MkdirTemp(d.cfg.WorkDir, fmt.Sprintf("sub-%d-", req.SubmissionID))
	if err != nil {
		return nil, fmt.Errorf("create submission workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(root); err != nil {
			logger.Warn(ctx, "cleanup submission workspace failed",
				zap.String("dir", root), zap.Error(err))
		}
	}()

	if err := os.WriteFile(filepath.Join(root, spec.SourceFile), []byte(req.SourceCode), 0o644); err != nil {
		return nil, fmt.Errorf("write source file: %w", err)
	}
	for i, input := range req.Inputs {
		if err := os.WriteFile(filepath.Join(root, inputFileName(i)), []byte(input), 0o644); err != nil {
			return nil, fmt.Errorf("write input %d: %w", i, err)
		}
	}

	resp := &ExecuteResponse{Compile: CompileResult{OK: true}}

	if spec.CompileCmd != "" {
		compile, err := d.compile(ctx, spec, root)
		if err != nil {
			return nil, err
		}
		resp.Compile = compile
		if !compile.OK {
			return resp, nil
		}
	}

	for i := range req.Inputs {
		caseRes, err := d.runCase(ctx, spec, root, i, req)
		if err != nil {
			return nil, err
		}
		resp.Cases = append(resp.Cases, caseRes)
		if stopRun(caseRes) {
			break
		}
	}
	return resp, nil
}

// stopRun reports whether a case ends the run phase early. A plain
// crash stops the run; limit kills keep their sentinel flags and the
// remaining cases cannot change the verdict either way.
func stopRun(res CaseResult) bool {
	return res.ExitCode != 0 && !res.TimedOut && !res.OomKilled
}

func (d *DockerSandbox) compile(ctx context.Context, spec LanguageSpec, root string) (CompileResult, error) {
	// Compilers run as a plain argv; only the run phase needs a shell,
	// for stdin redirection.
	args, err := spec.CompileArgs()
	if err != nil {
		return CompileResult{}, fmt.Errorf("split compile command: %w", err)
	}
	id, err := d.createContainer(ctx, spec.Image, args, root, compileMemoryBytes)
	if err != nil {
		return CompileResult{}, err
	}
	defer d.removeContainer(id)

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return CompileResult{}, fmt.Errorf("start compile container: %w", err)
	}

	exitCode, timedOut, err := d.waitContainer(ctx, id, d.cfg.CompileTimeout)
	if err != nil {
		return CompileResult{}, err
	}

	stdout, stderr, _, err := d.collectLogs(ctx, id, compileLogCap)
	if err != nil {
		return CompileResult{}, err
	}

	log := stderr
	if log == "" {
		log = stdout
	}
	if timedOut {
		log = "compilation timed out"
	}
	return CompileResult{
		OK:     exitCode == 0 && !timedOut,
		TimeMs: time.Since(start).Milliseconds(),
		Log:    log,
	}, nil
}

func (d *DockerSandbox) runCase(ctx context.Context, spec LanguageSpec, root string, index int, req *ExecuteRequest) (CaseResult, error) {
	cmd := fmt.Sprintf("%s < %s", spec.RunCmd, inputFileName(index))
	memBytes := spec.ContainerMemoryBytes(req.MemoryLimitKB)

	id, err := d.createContainer(ctx, spec.Image, []string{"sh", "-c", cmd}, root, memBytes)
	if err != nil {
		return CaseResult{}, err
	}
	defer d.removeContainer(id)

	statsCtx, stopStats := context.WithCancel(ctx)
	peakCh := d.watchMemory(statsCtx, id)

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		stopStats()
		return CaseResult{}, fmt.Errorf("start case container: %w", err)
	}

	limit := time.Duration(req.TimeLimitMs)*time.Millisecond + killGrace
	exitCode, timedOut, err := d.waitContainer(ctx, id, limit)
	wallMs := time.Since(start).Milliseconds()
	stopStats()
	if err != nil {
		return CaseResult{}, err
	}
	peakKB := <-peakCh / 1024

	outputCap := req.OutputLimitKB * 1024
	stdout, stderr, truncated, err := d.collectLogs(ctx, id, outputCap)
	if err != nil {
		return CaseResult{}, err
	}

	res := CaseResult{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		TimeMs:    wallMs,
		MemoryKB:  peakKB,
		TimedOut:  timedOut,
		Truncated: truncated,
	}

	inspect, err := d.cli.ContainerInspect(ctx, id)
	if err == nil && inspect.State != nil {
		res.OomKilled = inspect.State.OOMKilled
		if !timedOut {
			res.ExitCode = inspect.State.ExitCode
		}
		if ms, ok := elapsedFromInspect(inspect.State.StartedAt, inspect.State.FinishedAt); ok {
			res.TimeMs = ms
		}
	}
	// Managed runtimes can die of heap exhaustion below the container
	// cap, because of the memory headroom. The runtime's own OOM message
	// is as good a sentinel as the kernel kill.
	if !res.OomKilled && oomSignaled(stderr) {
		res.OomKilled = true
	}
	return res, nil
}

// oomMarkers are runtime out-of-memory messages that never appear in a
// run that stayed within its heap.
var oomMarkers = []string{
	"java.lang.OutOfMemoryError",
	"std::bad_alloc",
	"MemoryError",
	"runtime: out of memory",
}

func oomSignaled(stderr string) bool {
	for _, marker := range oomMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func (d *DockerSandbox) createContainer(ctx context.Context, image string, cmd []string, root string, memoryBytes int64) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           image,
			Cmd:             cmd,
			WorkingDir:      containerWorkDir,
			NetworkDisabled: true,
		},
		d.hostConfig(root, memoryBytes),
		nil, nil, "",
	)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SandboxUnavailable, "create container for image %s", image)
	}
	return resp.ID, nil
}

// hostConfig locks the container down: read-only root filesystem with
// the workspace bind and a small /tmp tmpfs as the only writable paths,
// no network, hard resource caps.
func (d *DockerSandbox) hostConfig(root string, memoryBytes int64) *container.HostConfig {
	pids := d.cfg.PidsLimit
	return &container.HostConfig{
		Binds:          []string{root + ":" + containerWorkDir},
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,nosuid,size=64m"},
		Resources: container.Resources{
			Memory:     memoryBytes,
			MemorySwap: memoryBytes,
			NanoCPUs:   d.cfg.NanoCPUs,
			PidsLimit:  &pids,
			Ulimits: []*units.Ulimit{
				{Name: "nproc", Soft: 64, Hard: 128},
				{Name: "nofile", Soft: 64, Hard: 128},
				{Name: "core", Soft: 0, Hard: 0},
				{Name: "fsize", Soft: 32 << 20, Hard: 32 << 20},
			},
		},
	}
}

func (d *DockerSandbox) waitContainer(ctx context.Context, id string, timeout time.Duration) (exitCode int, timedOut bool, err error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := d.cli.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		return int(status.StatusCode), false, nil
	case werr := <-errCh:
		if waitCtx.Err() != nil {
			break
		}
		return 0, false, fmt.Errorf("container wait: %w", werr)
	case <-waitCtx.Done():
	}

	// deadline hit: kill and report as timed out
	killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer killCancel()
	if kerr := d.cli.ContainerKill(killCtx, id, "SIGKILL"); kerr != nil {
		logger.Warn(ctx, "kill timed-out container failed", zap.String("container", id), zap.Error(kerr))
	}
	return -1, true, nil
}

// watchMemory samples the container stats stream and reports the peak
// usage in bytes once the context is canceled.
func (d *DockerSandbox) watchMemory(ctx context.Context, id string) <-chan int64 {
	peakCh := make(chan int64, 1)
	go func() {
		var peak uint64
		stats, err := d.cli.ContainerStats(ctx, id, true)
		if err == nil {
			dec := json.NewDecoder(stats.Body)
			for {
				var st container.StatsResponse
				if err := dec.Decode(&st); err != nil {
					break
				}
				usage := st.MemoryStats.Usage
				if cache, ok := st.MemoryStats.Stats["inactive_file"]; ok && cache < usage {
					usage -= cache
				}
				if usage > peak {
					peak = usage
				}
			}
			_ = stats.Body.Close()
		}
		peakCh <- int64(peak)
	}()
	return peakCh
}

func (d *DockerSandbox) collectLogs(ctx context.Context, id string, capBytes int64) (stdout, stderr string, truncated bool, err error) {
	reader, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", false, fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, reader); err != nil {
		return "", "", false, fmt.Errorf("read container logs: %w", err)
	}

	out := outBuf.String()
	if capBytes > 0 && int64(len(out)) > capBytes {
		out = out[:capBytes]
		truncated = true
	}
	errs := errBuf.String()
	if capBytes > 0 && int64(len(errs)) > capBytes {
		errs = errs[:capBytes]
	}
	return out, errs, truncated, nil
}

func (d *DockerSandbox) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		logger.Warn(ctx, "remove container failed", zap.String("container", id), zap.Error(err))
	}
}

func elapsedFromInspect(startedAt, finishedAt string) (int64, bool) {
	start, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil || start.IsZero() {
		return 0, false
	}
	finish, err := time.Parse(time.RFC3339Nano, finishedAt)
	if err != nil || finish.Before(start) {
		return 0, false
	}
	return finish.Sub(start).Milliseconds(), true
}

func inputFileName(index int) string {
	return fmt.Sprintf("input_%d.txt", index+1)
}

var _ Executor = (*DockerSandbox)(nil)
