package gitcollab

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FakeGit is an in-memory GitOps used by unit and scenario tests so the
// SyncExecutor/Worker can be exercised without touching a real git remote,
// grounded the same way k8sclient.FakeClient stands in for the real
// Kubernetes collaborator in tests.
type FakeGit struct {
	mu sync.Mutex

	// remoteHead is what LsRemote/Sync resolve "<url>@<branch>" to.
	remoteHead map[string]string
	// files holds the repository content as of the current remoteHead,
	// keyed by file path; Sync/Checkout snapshot this into workdirFiles.
	files map[string][]byte

	workdirFiles map[string]map[string][]byte // workDir -> path -> contents
	workdirHead  map[string]string            // workDir -> synced commit sha
}

// NewFakeGit returns an empty fake collaborator.
func NewFakeGit() *FakeGit {
	return &FakeGit{
		remoteHead:   make(map[string]string),
		files:        make(map[string][]byte),
		workdirFiles: make(map[string]map[string][]byte),
		workdirHead:  make(map[string]string),
	}
}

var _ GitOps = (*FakeGit)(nil)

func remoteKey(url, branch string) string { return url + "@" + branch }

// SetRemote sets the commit a (url, branch) pair currently resolves to and
// the file contents that commit contains, as tests advance a simulated
// remote forward.
func (f *FakeGit) SetRemote(url, branch, sha string, contents map[string][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteHead[remoteKey(url, branch)] = sha
	f.files = make(map[string][]byte, len(contents))
	for k, v := range contents {
		f.files[k] = v
	}
}

// Sync implements GitOps: it snapshots the current simulated remote content
// into workDir and returns the resolved HEAD sha.
func (f *FakeGit) Sync(_ context.Context, url, branch, workDir string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.remoteHead[remoteKey(url, branch)]
	if !ok {
		return "", fmt.Errorf("gitcollab: no remote configured for %s@%s", url, branch)
	}
	snapshot := make(map[string][]byte, len(f.files))
	for k, v := range f.files {
		snapshot[k] = v
	}
	f.workdirFiles[workDir] = snapshot
	f.workdirHead[workDir] = sha
	return sha, nil
}

// Files implements GitOps.
func (f *FakeGit) Files(_ context.Context, workDir, subpath string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for path := range f.workdirFiles[workDir] {
		if subpath != "" && !strings.HasPrefix(path, subpath) {
			continue
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			continue
		}
		if strings.HasPrefix(path[strings.LastIndex(path, "/")+1:], ".") {
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

// Read implements GitOps.
func (f *FakeGit) Read(_ context.Context, workDir, file string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.workdirFiles[workDir][file]
	if !ok {
		return nil, fmt.Errorf("gitcollab: %s not found in %s", file, workDir)
	}
	return content, nil
}

// Head implements GitOps with minimal metadata; tests that need author
// details should assert against SetRemote's sha directly instead.
func (f *FakeGit) Head(_ context.Context, workDir string) (HeadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.workdirHead[workDir]
	if !ok {
		return HeadInfo{}, fmt.Errorf("gitcollab: %s has no synced HEAD", workDir)
	}
	return HeadInfo{SHA: sha}, nil
}

// Checkout implements GitOps as a no-op that just reports the requested sha,
// since FakeGit has no branching history model beyond the current snapshot.
func (f *FakeGit) Checkout(_ context.Context, workDir, sha string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workdirHead[workDir] = sha
	return sha, nil
}

// LsRemote implements GitOps.
func (f *FakeGit) LsRemote(_ context.Context, url, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.remoteHead[remoteKey(url, branch)]
	if !ok {
		return "", fmt.Errorf("gitcollab: no remote configured for %s@%s", url, branch)
	}
	return sha, nil
}
