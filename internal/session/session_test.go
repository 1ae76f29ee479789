package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/modelcell/envman/internal/credentials"
	"github.com/modelcell/envman/internal/naming"
	"github.com/modelcell/envman/internal/paths"
	"github.com/modelcell/envman/internal/runtime"
)

// Scripted runtime for exercising the session state machine without a
// daemon.
type fakeRuntime struct {
	images     map[string]*runtime.Image
	containers []runtime.Container
	stats      map[string]*runtime.Stats
	existing   map[string]bool // container paths reported by "test -e"

	buildResult *runtime.Image
	buildLog    string
	buildErr    error
	buildHook   func(opts runtime.BuildOptions) // inspect the context before it is torn down

	execs    []runtime.ExecOptions
	execHook func(opts runtime.ExecOptions) (*runtime.ExecResult, error)

	runs     []runtime.RunOptions
	builds   []runtime.BuildOptions
	tags     []string
	pulls    []string
	pushes   []string
	removals []string
	stops    []string
	copies   []string
	networks []string
	logins   int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		images:   map[string]*runtime.Image{},
		stats:    map[string]*runtime.Stats{},
		existing: map[string]bool{},
	}
}

func (f *fakeRuntime) FindImage(_ context.Context, repo string) (*runtime.Image, error) {
	return f.images[repo], nil
}

func (f *fakeRuntime) BuildImage(_ context.Context, opts runtime.BuildOptions) (*runtime.Image, string, error) {
	f.builds = append(f.builds, opts)
	if f.buildHook != nil {
		f.buildHook(opts)
	}
	if f.buildErr != nil {
		return nil, f.buildLog, f.buildErr
	}
	if f.buildResult != nil {
		f.images[f.buildResult.Repo] = f.buildResult
	}
	return f.buildResult, f.buildLog, nil
}

func (f *fakeRuntime) TagImage(_ context.Context, imageID, repo, tag string) error {
	f.tags = append(f.tags, repo+":"+tag)
	if img := f.images[repo]; img != nil {
		f.images[repo] = &runtime.Image{ID: img.ID, Repo: img.Repo, Tags: append(append([]string{}, img.Tags...), tag)}
	}
	return nil
}

func (f *fakeRuntime) PullImage(_ context.Context, repo, tag string) (*runtime.Image, error) {
	f.pulls = append(f.pulls, repo+":"+tag)
	img := &runtime.Image{ID: "sha256:pulled", Repo: repo, Tags: []string{tag}}
	f.images[repo] = img
	return img, nil
}

func (f *fakeRuntime) PushImage(_ context.Context, repo, tag string) error {
	f.pushes = append(f.pushes, repo+":"+tag)
	return nil
}

func (f *fakeRuntime) RemoveImage(_ context.Context, repo, tag string, _ bool) error {
	f.removals = append(f.removals, "image:"+repo+":"+tag)
	return nil
}

func (f *fakeRuntime) Login(context.Context, string, string) error {
	f.logins++
	return nil
}

func (f *fakeRuntime) ListContainers(context.Context, bool) ([]runtime.Container, error) {
	return f.containers, nil
}

func (f *fakeRuntime) RunContainer(_ context.Context, opts runtime.RunOptions) (*runtime.Container, error) {
	f.runs = append(f.runs, opts)
	ctr := runtime.Container{
		ID:        fmt.Sprintf("ctr-%d", len(f.runs)),
		Name:      opts.Name,
		ImageRef:  opts.Image,
		CreatedAt: time.Now(),
		Status:    runtime.StatusRunning,
	}
	f.containers = append(f.containers, ctr)
	return &ctr, nil
}

func (f *fakeRuntime) Exec(_ context.Context, _ string, opts runtime.ExecOptions) (*runtime.ExecResult, error) {
	f.execs = append(f.execs, opts)
	if len(opts.Cmd) == 3 && opts.Cmd[0] == "test" && opts.Cmd[1] == "-e" {
		code := 1
		if f.existing[opts.Cmd[2]] {
			code = 0
		}
		return &runtime.ExecResult{ExitCode: code}, nil
	}
	if f.execHook != nil {
		return f.execHook(opts)
	}
	return &runtime.ExecResult{ExitCode: 0}, nil
}

func (f *fakeRuntime) Stats(_ context.Context, containerID string) (*runtime.Stats, error) {
	if st, ok := f.stats[containerID]; ok {
		return st, nil
	}
	return nil, errors.New("no stats")
}

func (f *fakeRuntime) StopContainer(_ context.Context, containerID string) error {
	f.stops = append(f.stops, containerID)
	return nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, containerID string, force bool) error {
	f.removals = append(f.removals, fmt.Sprintf("container:%s:force=%t", containerID, force))
	return nil
}

func (f *fakeRuntime) CopyToContainer(_ context.Context, hostPath, containerName, containerPath string) error {
	f.copies = append(f.copies, hostPath+" -> "+containerName+":"+containerPath)
	return nil
}

func (f *fakeRuntime) CopyFromContainer(_ context.Context, containerName, containerPath, hostPath string) error {
	f.copies = append(f.copies, containerName+":"+containerPath+" -> "+hostPath)
	return nil
}

func (f *fakeRuntime) EnsureNetwork(_ context.Context, name string) error {
	f.networks = append(f.networks, name)
	return nil
}

func (f *fakeRuntime) RemoveNetwork(context.Context, string) error { return nil }

var _ runtime.Runtime = (*fakeRuntime)(nil)

// Counts exec calls whose command starts with a pip install.
func installExecs(f *fakeRuntime) []runtime.ExecOptions {
	var out []runtime.ExecOptions
	for _, e := range f.execs {
		if len(e.Cmd) >= 2 && strings.HasPrefix(e.Cmd[0], "pip") && e.Cmd[1] == "install" {
			out = append(out, e)
		}
	}
	return out
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Image.ConfigDir = t.TempDir() // no *.cfg files, no third-party index
	cfg.Container.SSHKey = ""
	return cfg
}

func testSession(t *testing.T, rt runtime.Runtime, cfg Config) *Session {
	t.Helper()
	s, err := New(rt, paths.ResolverAt("/home/alice", "/home/alice/work"), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Image.Repo = "NOT A REPO"

	if _, err := New(newFakeRuntime(), paths.ResolverAt("/home/alice", "/home/alice"), cfg); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("New = %v, want ErrConfiguration", err)
	}
}

func TestResolveSelectsLatestByStats(t *testing.T) {
	f := newFakeRuntime()
	f.containers = []runtime.Container{
		{ID: "a", Name: "env-2018-08-23-10-00-00", Status: runtime.StatusRunning},
		{ID: "b", Name: "env-2018-08-20-10-00-00", Status: runtime.StatusRunning},
		{ID: "x", Name: "unrelated", Status: runtime.StatusRunning},
	}
	// The older-named container was used more recently.
	f.stats["a"] = &runtime.Stats{Read: time.Date(2018, 8, 23, 11, 0, 0, 0, time.UTC)}
	f.stats["b"] = &runtime.Stats{Read: time.Date(2018, 8, 24, 9, 0, 0, 0, time.UTC)}

	s := testSession(t, f, testConfig(t))
	if err := s.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if s.State() != StateContainerResolved {
		t.Fatalf("state = %q, want %q", s.State(), StateContainerResolved)
	}
	if got := s.Container(); got == nil || got.ID != "b" {
		t.Fatalf("Container() = %+v, want id b", got)
	}
}

func TestCreateUsesManagedNameAndContainerUser(t *testing.T) {
	f := newFakeRuntime()
	f.images["modelcell/env"] = &runtime.Image{ID: "sha256:abc", Repo: "modelcell/env", Tags: []string{"latest"}}

	cfg := testConfig(t)
	cfg.Container.Mounts = paths.MountTable{{Host: "~/repo", Container: "/usr/git_repos/repo"}}

	s := testSession(t, f, cfg)
	ctr, err := s.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !naming.IsManaged(ctr.Name, cfg.Container.NameFormat) {
		t.Fatalf("container name %q does not match the managed format", ctr.Name)
	}
	if len(f.runs) != 1 {
		t.Fatalf("RunContainer calls = %d, want 1", len(f.runs))
	}

	run := f.runs[0]
	if run.Identity != runtime.ContainerUser {
		t.Fatalf("identity = %q, want container user", run.Identity.Name())
	}
	if run.Image != "modelcell/env:latest" {
		t.Fatalf("image = %q, want modelcell/env:latest", run.Image)
	}
	if run.Network != "envman" {
		t.Fatalf("network = %q, want envman", run.Network)
	}
	if len(run.Mounts) != 1 || run.Mounts[0].Host != "/home/alice/repo" {
		t.Fatalf("mounts = %+v, want resolved home path", run.Mounts)
	}
	if len(f.networks) != 1 || f.networks[0] != "envman" {
		t.Fatalf("networks = %v, want the helper network ensured", f.networks)
	}
}

func TestCreateStartsAuxContainers(t *testing.T) {
	f := newFakeRuntime()
	cfg := testConfig(t)
	cfg.Network.Containers = []AuxContainer{
		{Name: "envman-postgres", Image: "postgres:11", Env: map[string]string{"POSTGRES_USER": "envman"}},
	}

	s := testSession(t, f, cfg)
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if len(f.runs) != 2 {
		t.Fatalf("RunContainer calls = %d, want aux + main", len(f.runs))
	}
	aux := f.runs[0]
	if aux.Name != "envman-postgres" || !aux.RestartAlways {
		t.Fatalf("aux run = %+v, want named restart-always container", aux)
	}

	// A second create must not start the helper twice.
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("second Create: %v", err)
	}
	auxRuns := 0
	for _, r := range f.runs {
		if r.Name == "envman-postgres" {
			auxRuns++
		}
	}
	if auxRuns != 1 {
		t.Fatalf("aux container started %d times, want 1", auxRuns)
	}
}

func TestExecMapsWorkdirThroughMounts(t *testing.T) {
	f := newFakeRuntime()
	cfg := testConfig(t)
	cfg.Container.Mounts = paths.MountTable{{Host: "/home/alice/repo", Container: "/usr/git_repos/repo"}}

	s := testSession(t, f, cfg)
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Exec(context.Background(), []string{"ls"}, "/home/alice/repo/pkg", runtime.ContainerUser); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	last := f.execs[len(f.execs)-1]
	if last.Workdir != "/usr/git_repos/repo/pkg" {
		t.Fatalf("workdir = %q, want mapped container path", last.Workdir)
	}
	if s.State() != StateActive {
		t.Fatalf("state = %q, want %q", s.State(), StateActive)
	}

	if _, err := s.Exec(context.Background(), []string{"ls"}, "/elsewhere", runtime.ContainerUser); !errors.Is(err, paths.ErrNotMounted) {
		t.Fatalf("Exec outside mounts = %v, want ErrNotMounted", err)
	}
}

func TestTeardownStopsThenRemoves(t *testing.T) {
	f := newFakeRuntime()
	s := testSession(t, f, testConfig(t))
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := s.Container().ID

	if err := s.Teardown(context.Background(), false); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if len(f.stops) != 1 || f.stops[0] != id {
		t.Fatalf("stops = %v, want [%s]", f.stops, id)
	}
	if len(f.removals) != 1 || f.removals[0] != "container:"+id+":force=false" {
		t.Fatalf("removals = %v", f.removals)
	}
	if s.State() != StateRemoved || s.Container() != nil {
		t.Fatalf("state = %q, container = %v after teardown", s.State(), s.Container())
	}
}

func TestTeardownForceSkipsStop(t *testing.T) {
	f := newFakeRuntime()
	s := testSession(t, f, testConfig(t))
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Teardown(context.Background(), true); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if len(f.stops) != 0 {
		t.Fatalf("stops = %v, want none under force", f.stops)
	}
	if len(f.removals) != 1 || !strings.HasSuffix(f.removals[0], "force=true") {
		t.Fatalf("removals = %v, want forced removal", f.removals)
	}
}

func TestRemoveAllSkipsUnmanaged(t *testing.T) {
	f := newFakeRuntime()
	f.containers = []runtime.Container{
		{ID: "a", Name: "env-2018-08-23-10-00-00"},
		{ID: "b", Name: "postgres"},
		{ID: "c", Name: "env-2018-08-20-10-00-00"},
	}

	s := testSession(t, f, testConfig(t))
	removed, err := s.RemoveAll(context.Background(), true)
	if err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	for _, r := range f.removals {
		if strings.Contains(r, ":b:") {
			t.Fatalf("removals = %v, unmanaged container was removed", f.removals)
		}
	}
}

func TestListManagedLeavesListingIntact(t *testing.T) {
	f := newFakeRuntime()
	f.containers = []runtime.Container{
		{ID: "b", Name: "postgres"},
		{ID: "a", Name: "env-2018-08-23-10-00-00"},
	}

	s := testSession(t, f, testConfig(t))
	managed, err := s.ListManaged(context.Background(), true)
	if err != nil {
		t.Fatalf("ListManaged: %v", err)
	}

	if len(managed) != 1 || managed[0].ID != "a" {
		t.Fatalf("managed = %+v, want the single managed container", managed)
	}
	// The runtime's listing must not be rearranged by the filter.
	if f.containers[0].Name != "postgres" || f.containers[1].ID != "a" {
		t.Fatalf("listing mutated: %+v", f.containers)
	}
}

func TestSetupInstallsRegistryPackagesOnly(t *testing.T) {
	f := newFakeRuntime()
	cfg := testConfig(t)
	cfg.Container.Packages.Registry = []string{"requests==2.0"}

	s := testSession(t, f, cfg)
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Setup(context.Background(), false); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	installs := installExecs(f)
	if len(installs) != 1 {
		t.Fatalf("install execs = %d, want exactly one", len(installs))
	}
	got := installs[0]
	want := []string{"pip3.11", "install", "requests==2.0"}
	if strings.Join(got.Cmd, " ") != strings.Join(want, " ") {
		t.Fatalf("install cmd = %v, want %v", got.Cmd, want)
	}
	if got.Identity != runtime.Root {
		t.Fatalf("install identity = %q, want root", got.Identity.Name())
	}
	if len(f.copies) != 0 {
		t.Fatalf("copies = %v, want none without config files", f.copies)
	}
	if s.State() != StateProvisioned {
		t.Fatalf("state = %q, want %q", s.State(), StateProvisioned)
	}
}

func TestSetupUpgradeAddsUpgradeFlag(t *testing.T) {
	f := newFakeRuntime()
	cfg := testConfig(t)
	cfg.Container.Packages.Registry = []string{"requests"}

	s := testSession(t, f, cfg)
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Setup(context.Background(), true); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	installs := installExecs(f)
	if len(installs) != 1 || strings.Join(installs[0].Cmd, " ") != "pip3.11 install -U requests" {
		t.Fatalf("install execs = %+v, want a single upgrade install", installs)
	}
}

func TestSetupPackageSetOrderAndBlanks(t *testing.T) {
	f := newFakeRuntime()
	cfg := testConfig(t)
	cfg.Container.Mounts = paths.MountTable{{Host: "/home/alice/proj", Container: "/usr/git_repos/proj"}}
	cfg.Container.Packages = PackageSets{
		Registry: []string{"requests", "", "# comment"},
		VCS:      []string{"git+ssh://git@github.com/org/pkg.git"},
		Local:    []string{"/home/alice/proj"},
	}
	cfg.Container.SSHKey = writeKeyPair(t)
	f.execHook = func(opts runtime.ExecOptions) (*runtime.ExecResult, error) {
		if opts.Cmd[0] == "ssh" {
			return &runtime.ExecResult{ExitCode: 1, Output: []byte("You've successfully authenticated")}, nil
		}
		return &runtime.ExecResult{ExitCode: 0}, nil
	}

	s := testSession(t, f, cfg)
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Setup(context.Background(), false); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	installs := installExecs(f)
	if len(installs) != 3 {
		t.Fatalf("install execs = %d, want 3 (blanks and comments skipped)", len(installs))
	}
	if installs[0].Cmd[2] != "requests" {
		t.Fatalf("first install = %v, want the registry set first", installs[0].Cmd)
	}
	if installs[1].Cmd[2] != "git+ssh://git@github.com/org/pkg.git" {
		t.Fatalf("second install = %v, want the VCS set second", installs[1].Cmd)
	}
	if got := strings.Join(installs[2].Cmd[2:], " "); got != "-e /usr/git_repos/proj" {
		t.Fatalf("local install = %q, want editable from the mounted path", got)
	}
}

func TestSetupVCSPackagesRequireSSHKey(t *testing.T) {
	f := newFakeRuntime()
	cfg := testConfig(t)
	cfg.Container.SSHKey = "/nonexistent/id_rsa"
	cfg.Container.Packages.VCS = []string{"git+ssh://git@github.com/org/pkg.git"}

	s := testSession(t, f, cfg)
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := s.Setup(context.Background(), false)
	if !errors.Is(err, credentials.ErrMissingCredentials) {
		t.Fatalf("Setup = %v, want ErrMissingCredentials", err)
	}
	if len(installExecs(f)) != 0 {
		t.Fatal("installs ran despite missing credentials")
	}
}

func TestSetupLocalPackageOutsideMounts(t *testing.T) {
	f := newFakeRuntime()
	cfg := testConfig(t)
	cfg.Container.Packages.Local = []string{"/not/mounted"}

	s := testSession(t, f, cfg)
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Setup(context.Background(), false); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Setup = %v, want ErrConfiguration", err)
	}
}

func TestSetupStepFailureNamesTheStep(t *testing.T) {
	f := newFakeRuntime()
	f.execHook = func(opts runtime.ExecOptions) (*runtime.ExecResult, error) {
		if len(opts.Cmd) > 1 && opts.Cmd[1] == "install" {
			return &runtime.ExecResult{ExitCode: 2, Output: []byte("boom")}, nil
		}
		return &runtime.ExecResult{ExitCode: 0}, nil
	}

	cfg := testConfig(t)
	cfg.Container.Packages.Registry = []string{"broken-pkg", "never-reached"}

	s := testSession(t, f, cfg)
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := s.Setup(context.Background(), false)
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("Setup = %v, want ErrStepFailed", err)
	}
	if !strings.Contains(err.Error(), "broken-pkg") || !strings.Contains(err.Error(), "registry packages") {
		t.Fatalf("err = %v, want the step name and group", err)
	}
	if len(installExecs(f)) != 1 {
		t.Fatal("installs continued past the failing step")
	}
}

func TestSetupRunsSetupScript(t *testing.T) {
	f := newFakeRuntime()
	cfg := testConfig(t)
	cfg.Container.SetupScript = "make configure"

	s := testSession(t, f, cfg)
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Setup(context.Background(), false); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	last := f.execs[len(f.execs)-1]
	if strings.Join(last.Cmd, " ") != "bash -c make configure" {
		t.Fatalf("last exec = %v, want the setup script", last.Cmd)
	}
	if last.Identity != runtime.ContainerUser {
		t.Fatalf("script identity = %q, want container user", last.Identity.Name())
	}
}

func TestSSHProbeAcceptsOnlyTheRefusedShell(t *testing.T) {
	tests := []struct {
		code int
		out  string
		want bool
	}{
		{1, "Hi alice! You've successfully authenticated, but GitHub does not provide shell access.", true},
		{0, "You've successfully authenticated", false},
		{1, "Permission denied (publickey).", false},
		{255, "Connection refused", false},
	}

	for _, tt := range tests {
		res := &runtime.ExecResult{ExitCode: tt.code, Output: []byte(tt.out)}
		if got := sshProbeOK(res); got != tt.want {
			t.Fatalf("sshProbeOK(exit %d, %q) = %t, want %t", tt.code, tt.out, got, tt.want)
		}
	}
}
