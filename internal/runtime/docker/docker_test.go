package docker

import (
	"reflect"
	"strings"
	"testing"

	"github.com/modelcell/envman/internal/paths"
	"github.com/modelcell/envman/internal/runtime"
)

func TestSplitRef(t *testing.T) {
	tests := []struct {
		ref  string
		repo string
		tag  string
	}{
		{"modelcell/env:latest", "modelcell/env", "latest"},
		{"modelcell/env:0.0.1", "modelcell/env", "0.0.1"},
		{"modelcell/env", "modelcell/env", ""},
		{"registry.example.com:5000/env:latest", "registry.example.com:5000/env", "latest"},
	}

	for _, tt := range tests {
		repo, tag, err := splitRef(tt.ref)
		if err != nil {
			t.Fatalf("splitRef(%q): %v", tt.ref, err)
		}
		if repo != tt.repo || tag != tt.tag {
			t.Fatalf("splitRef(%q) = (%q, %q), want (%q, %q)", tt.ref, repo, tag, tt.repo, tt.tag)
		}
	}
}

func TestImageDescriptor(t *testing.T) {
	img := imageDescriptor("modelcell/env", "sha256:abc", []string{
		"modelcell/env:latest",
		"modelcell/env:0.0.1",
		"other/repo:latest",
	})

	if img.ID != "sha256:abc" {
		t.Fatalf("ID = %q, want sha256:abc", img.ID)
	}
	if img.Repo != "modelcell/env" {
		t.Fatalf("Repo = %q, want modelcell/env", img.Repo)
	}
	// Tags from other repositories are excluded.
	want := []string{"0.0.1", "latest"}
	if !reflect.DeepEqual(img.Tags, want) {
		t.Fatalf("Tags = %v, want %v", img.Tags, want)
	}
}

func TestImageRef(t *testing.T) {
	img := runtime.Image{Repo: "modelcell/env", Tags: []string{"0.0.1", "latest"}}
	if got := img.Ref(); got != "modelcell/env:0.0.1" {
		t.Fatalf("Ref() = %q, want modelcell/env:0.0.1", got)
	}

	bare := runtime.Image{Repo: "modelcell/env"}
	if got := bare.Ref(); got != "modelcell/env" {
		t.Fatalf("Ref() = %q, want modelcell/env", got)
	}
}

func TestStatusFromState(t *testing.T) {
	tests := []struct {
		state string
		want  runtime.Status
	}{
		{"created", runtime.StatusCreated},
		{"running", runtime.StatusRunning},
		{"restarting", runtime.StatusRunning},
		{"exited", runtime.StatusStopped},
		{"dead", runtime.StatusStopped},
		{"removing", runtime.StatusRemoved},
	}

	for _, tt := range tests {
		if got := statusFromState(tt.state); got != tt.want {
			t.Fatalf("statusFromState(%q) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestContainerName(t *testing.T) {
	if got := containerName([]string{"/env-2018-08-23-14-30-05"}); got != "env-2018-08-23-14-30-05" {
		t.Fatalf("containerName = %q", got)
	}
	if got := containerName(nil); got != "" {
		t.Fatalf("containerName(nil) = %q, want empty", got)
	}
}

func TestEnvSlice(t *testing.T) {
	got := envSlice(map[string]string{"B": "2", "A": "1"})
	want := []string{"A=1", "B=2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("envSlice = %v, want %v", got, want)
	}

	if envSlice(nil) != nil {
		t.Fatal("envSlice(nil) != nil")
	}
}

func TestBindMounts(t *testing.T) {
	table := paths.MountTable{
		{Host: "/home/alice/repo", Container: "/usr/git_repos/repo", Mode: paths.ModeReadWrite},
		{Host: "/data", Container: "/mnt/data", Mode: paths.ModeReadOnly},
	}

	mounts := bindMounts(table)
	if len(mounts) != 2 {
		t.Fatalf("len(mounts) = %d, want 2", len(mounts))
	}
	if mounts[0].Source != "/home/alice/repo" || mounts[0].Target != "/usr/git_repos/repo" {
		t.Fatalf("mounts[0] = %+v", mounts[0])
	}
	if mounts[0].ReadOnly {
		t.Fatal("rw mount marked read-only")
	}
	if !mounts[1].ReadOnly {
		t.Fatal("ro mount not marked read-only")
	}
}

func TestPortBindings(t *testing.T) {
	exposed, bindings, err := portBindings(map[string]int{"8888/tcp": 8888})
	if err != nil {
		t.Fatalf("portBindings: %v", err)
	}
	if len(exposed) != 1 || len(bindings) != 1 {
		t.Fatalf("exposed = %v, bindings = %v, want one entry each", exposed, bindings)
	}
	for p, binds := range bindings {
		if p.Proto() != "tcp" || p.Port() != "8888" {
			t.Fatalf("port = %s/%s, want 8888/tcp", p.Port(), p.Proto())
		}
		if len(binds) != 1 || binds[0].HostPort != "8888" {
			t.Fatalf("binds = %v", binds)
		}
	}

	if _, _, err := portBindings(map[string]int{"not-a-port/tcp": 1}); err == nil {
		t.Fatal("portBindings accepted an invalid port spec")
	}
}

func TestPortBindingsEmpty(t *testing.T) {
	exposed, bindings, err := portBindings(nil)
	if err != nil || exposed != nil || bindings != nil {
		t.Fatalf("portBindings(nil) = (%v, %v, %v), want nils", exposed, bindings, err)
	}
}

func TestDrainMessages(t *testing.T) {
	stream := strings.NewReader(
		`{"stream":"Step 1/3 : FROM ubuntu\n"}` +
			`{"status":"Pulling fs layer","id":"abc"}` +
			`{"stream":"Successfully built deadbeef\n"}`)

	log, err := drainMessages(stream)
	if err != nil {
		t.Fatalf("drainMessages: %v", err)
	}
	if !strings.Contains(log, "Step 1/3") || !strings.Contains(log, "Successfully built") {
		t.Fatalf("log = %q, missing stream entries", log)
	}
	if !strings.Contains(log, "Pulling fs layer") {
		t.Fatalf("log = %q, missing status entry", log)
	}
}

func TestDrainMessagesError(t *testing.T) {
	stream := strings.NewReader(
		`{"stream":"Step 1/3 : FROM ubuntu\n"}` +
			`{"errorDetail":{"message":"no space left"},"error":"no space left"}`)

	log, err := drainMessages(stream)
	if err == nil {
		t.Fatal("drainMessages did not surface the stream error")
	}
	if !strings.Contains(err.Error(), "no space left") {
		t.Fatalf("err = %v, want daemon message", err)
	}
	if !strings.Contains(log, "Step 1/3") {
		t.Fatalf("log = %q, want output collected before the error", log)
	}
}

func TestBuildArgPointers(t *testing.T) {
	args := buildArgPointers(map[string]string{"A": "1", "B": "2"})
	if len(args) != 2 {
		t.Fatalf("len(args) = %d, want 2", len(args))
	}
	if args["A"] == nil || *args["A"] != "1" {
		t.Fatalf("args[A] = %v, want 1", args["A"])
	}
	if args["B"] == nil || *args["B"] != "2" {
		t.Fatalf("args[B] = %v, want 2", args["B"])
	}
}
