package sandbox

import "testing"

func TestOomSignaled(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   bool
	}{
		{"jvm heap", "Exception in thread \"main\" java.lang.OutOfMemoryError: Java heap space", true},
		{"cpp alloc", "terminate called after throwing an instance of 'std::bad_alloc'", true},
		{"python", "MemoryError\n", true},
		{"go runtime", "runtime: out of memory: cannot allocate 1073741824-byte block", true},
		{"plain crash", "panic: index out of range", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := oomSignaled(tt.stderr); got != tt.want {
				t.Fatalf("oomSignaled(%q) = %v, want %v", tt.stderr, got, tt.want)
			}
		})
	}
}

func TestStopRun(t *testing.T) {
	// Only a plain crash ends the run early; kill sentinels carry their
	// own classification and run out the clock like any other case.
	if !stopRun(CaseResult{ExitCode: 1}) {
		t.Fatalf("crash did not stop the run")
	}
	if stopRun(CaseResult{ExitCode: 0, Stdout: "1"}) {
		t.Fatalf("clean exit stopped the run")
	}
	if stopRun(CaseResult{ExitCode: -1, TimedOut: true}) {
		t.Fatalf("timeout stopped the run")
	}
	if stopRun(CaseResult{ExitCode: 137, OomKilled: true}) {
		t.Fatalf("oom kill stopped the run")
	}
}

func TestHostConfigLocksDownContainer(t *testing.T) {
	d := &DockerSandbox{cfg: DockerConfig{NanoCPUs: 1e9, PidsLimit: 64}}
	hc := d.hostConfig("/work/sub-1", 256<<20)

	if !hc.ReadonlyRootfs {
		t.Fatalf("root filesystem is writable")
	}
	if _, ok := hc.Tmpfs["/tmp"]; !ok {
		t.Fatalf("no writable scratch mount: %+v", hc.Tmpfs)
	}
	if string(hc.NetworkMode) != "none" {
		t.Fatalf("NetworkMode = %q", hc.NetworkMode)
	}
	if len(hc.Binds) != 1 || hc.Binds[0] != "/work/sub-1:"+containerWorkDir {
		t.Fatalf("Binds = %v", hc.Binds)
	}
	if hc.Resources.Memory != 256<<20 || hc.Resources.MemorySwap != 256<<20 {
		t.Fatalf("memory caps = %d/%d", hc.Resources.Memory, hc.Resources.MemorySwap)
	}
	if hc.Resources.PidsLimit == nil || *hc.Resources.PidsLimit != 64 {
		t.Fatalf("pids limit not applied")
	}
}
