package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/veeso/termscp-sub002/internal/fs"
	"github.com/veeso/termscp-sub002/internal/params"
)

// Kube implements fs.FsContract against a single pod's filesystem, driving
// every operation through the exec subresource and a POSIX shell the same
// way `kubectl exec`/`kubectl cp` do: there is no native Kubernetes file
// API, so "connect" means picking a target pod/container and every other
// operation is a shell command run inside it.
type Kube struct {
	p params.Kube

	restConfig *rest.Config
	clientset  *kubernetes.Clientset
	pod        string
	container  string
	wrkdir     string
	connected  bool
	log        log.FieldLogger
}

// NewKube builds an unconnected Kube endpoint. pod/container identify the
// exec target within p.Namespace; the UI/activity layer resolves which pod
// to target before constructing this endpoint.
func NewKube(p params.Kube, pod, container string) *Kube {
	return &Kube{
		p:         p,
		pod:       pod,
		container: container,
		wrkdir:    "/",
		log:       log.WithField(trace.Component, "protocol:kube"),
	}
}

// Connect builds a rest.Config from the supplied cluster URL and client
// certificate pair, then verifies the target pod is reachable with a
// trivial exec ("true").
func (k *Kube) Connect(ctx context.Context) (fs.Welcome, error) {
	cfg := &rest.Config{
		Host: k.p.ClusterURL,
		TLSClientConfig: rest.TLSClientConfig{
			CertData: []byte(k.p.ClientCert),
			KeyData:  []byte(k.p.ClientKey),
		},
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return fs.Welcome{}, trace.Wrap(err, "building kube client")
	}
	k.restConfig = cfg
	k.clientset = clientset

	if _, _, err := k.exec(ctx, "true"); err != nil {
		k.clientset = nil
		return fs.Welcome{}, trace.ConnectionProblem(err, "exec probe against pod %s/%s", k.p.Namespace, k.pod)
	}
	k.connected = true
	return fs.Welcome{Banner: fmt.Sprintf("pod/%s", k.pod)}, nil
}

// Disconnect drops the client; exec sessions are per-call and hold no
// persistent connection to tear down.
func (k *Kube) Disconnect(ctx context.Context) error {
	k.clientset = nil
	k.connected = false
	return nil
}

// IsConnected reports whether the exec probe in Connect succeeded.
func (k *Kube) IsConnected() bool { return k.connected }

// exec runs cmd inside the target pod/container via the exec subresource
// and returns its captured stdout/stderr, the same remotecommand.Executor
// plumbing `kubectl exec` uses.
func (k *Kube) exec(ctx context.Context, cmd ...string) (string, string, error) {
	if k.clientset == nil {
		return "", "", fs.ErrNotConnected("kube")
	}
	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(k.pod).
		Namespace(k.p.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: k.container,
			Command:   cmd,
			Stdin:     false,
			Stdout:    true,
			Stderr:    true,
			TTY:       false,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return "", "", trace.Wrap(err)
	}

	var stdout, stderr bytes.Buffer
	execCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err = executor.StreamWithContext(execCtx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return stdout.String(), stderr.String(), trace.Wrap(err, "exec %q: %s", strings.Join(cmd, " "), stderr.String())
	}
	return stdout.String(), stderr.String(), nil
}

func (k *Kube) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Clean(path.Join(k.wrkdir, p))
}

// Pwd returns the tracked working directory.
func (k *Kube) Pwd(ctx context.Context) (string, error) { return k.wrkdir, nil }

// ChangeDir validates the target is a directory via `test -d` then adopts
// it, since the exec transport carries no shell state between calls.
func (k *Kube) ChangeDir(ctx context.Context, p string) (string, error) {
	target := k.resolve(p)
	if _, _, err := k.exec(ctx, "test", "-d", target); err != nil {
		return "", trace.NotFound("%s: no such directory", target)
	}
	k.wrkdir = target
	return target, nil
}

// ListDir runs `ls -la` with an ISO time style and parses its fixed-column
// output.
func (k *Kube) ListDir(ctx context.Context, p string) ([]fs.File, error) {
	target := k.resolve(p)
	out, _, err := k.exec(ctx, "ls", "-la", "--time-style=+%Y-%m-%dT%H:%M:%S", target)
	if err != nil {
		return nil, trace.NotFound("%s: %v", target, err)
	}
	var files []fs.File
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "total ") {
			continue
		}
		entry, ok := parseLsLine(line)
		if !ok {
			continue
		}
		if entry.name == "." || entry.name == ".." {
			continue
		}
		files = append(files, entry.toFile(path.Join(target, entry.name)))
	}
	return files, nil
}

// Stat lists the parent directory and matches the entry by name, since
// `stat --printf` formats vary across the busybox/coreutils images a pod
// might run and `ls -la` output is the common denominator.
func (k *Kube) Stat(ctx context.Context, p string) (fs.File, error) {
	target := k.resolve(p)
	parent, name := path.Split(target)
	entries, err := k.ListDir(ctx, parent)
	if err != nil {
		return fs.File{}, err
	}
	for _, e := range entries {
		if e.Name() == name {
			return e, nil
		}
	}
	return fs.File{}, trace.NotFound("%s: no such file or directory", target)
}

// Exists reports whether Stat finds an entry.
func (k *Kube) Exists(ctx context.Context, p string) (bool, error) {
	_, err := k.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if fs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreateDir runs `mkdir`.
func (k *Kube) CreateDir(ctx context.Context, p string, mode fs.UnixPex, ignoreExisting bool) error {
	target := k.resolve(p)
	args := []string{"mkdir"}
	if ignoreExisting {
		args = append(args, "-p")
	}
	args = append(args, "-m", strconv.FormatUint(uint64(mode), 8), target)
	if _, stderr, err := k.exec(ctx, args...); err != nil {
		if !ignoreExisting && strings.Contains(stderr, "File exists") {
			return trace.AlreadyExists("%s already exists", target)
		}
		return trace.Wrap(err)
	}
	return nil
}

// RemoveFile runs `rm -f`.
func (k *Kube) RemoveFile(ctx context.Context, p string) error {
	_, _, err := k.exec(ctx, "rm", "-f", k.resolve(p))
	return trace.Wrap(err)
}

// RemoveDirAll runs `rm -rf`.
func (k *Kube) RemoveDirAll(ctx context.Context, p string) error {
	_, _, err := k.exec(ctx, "rm", "-rf", k.resolve(p))
	return trace.Wrap(err)
}

// Rename runs `mv`.
func (k *Kube) Rename(ctx context.Context, src, dst string) error {
	_, _, err := k.exec(ctx, "mv", k.resolve(src), k.resolve(dst))
	return trace.Wrap(err)
}

// Copy runs `cp -a`.
func (k *Kube) Copy(ctx context.Context, src, dst string) error {
	_, _, err := k.exec(ctx, "cp", "-a", k.resolve(src), k.resolve(dst))
	return trace.Wrap(err)
}

// Symlink runs `ln -s`.
func (k *Kube) Symlink(ctx context.Context, src, dst string) error {
	_, _, err := k.exec(ctx, "ln", "-s", k.resolve(src), k.resolve(dst))
	return trace.Wrap(err)
}

// Setstat applies mtime via `touch -d` and mode via `chmod`.
func (k *Kube) Setstat(ctx context.Context, p string, metadata fs.Metadata) error {
	target := k.resolve(p)
	if !metadata.Modified.IsZero() {
		stamp := metadata.Modified.UTC().Format("2006-01-02T15:04:05")
		if _, _, err := k.exec(ctx, "touch", "-d", stamp, target); err != nil {
			return trace.Wrap(err)
		}
	}
	if metadata.Mode != nil {
		if _, _, err := k.exec(ctx, "chmod", strconv.FormatUint(uint64(*metadata.Mode), 8), target); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Chmod runs `chmod`.
func (k *Kube) Chmod(ctx context.Context, p string, pex fs.UnixPex) error {
	_, _, err := k.exec(ctx, "chmod", strconv.FormatUint(uint64(pex), 8), k.resolve(p))
	return trace.Wrap(err)
}

// Exec runs an arbitrary shell command inside the pod and returns stdout.
func (k *Kube) Exec(ctx context.Context, cmd string) (string, error) {
	out, _, err := k.exec(ctx, "sh", "-c", cmd)
	return out, err
}

// Open is unsupported: the exec transport has no byte-stream primitive, so
// Kube always routes through OpenFile/CreateFile and the TempMappedFile
// bridge, which shuttle content via `cat`/stdin redirection.
func (k *Kube) Open(ctx context.Context, p string) (fs.ReadStream, error) {
	return nil, fs.ErrUnsupported("open")
}

// Create is unsupported for the same reason as Open.
func (k *Kube) Create(ctx context.Context, p string, metadata fs.Metadata) (fs.WriteStream, error) {
	return nil, fs.ErrUnsupported("create")
}

// OpenFile execs `cat` with stdout captured directly into sink, avoiding an
// intermediate buffer for large files.
func (k *Kube) OpenFile(ctx context.Context, p string, sink io.Writer) error {
	if k.clientset == nil {
		return fs.ErrNotConnected("kube")
	}
	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(k.pod).
		Namespace(k.p.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: k.container,
			Command:   []string{"cat", k.resolve(p)},
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return trace.Wrap(err)
	}
	var stderr bytes.Buffer
	if err := executor.StreamWithContext(ctx, remotecommand.StreamOptions{Stdout: sink, Stderr: &stderr}); err != nil {
		return trace.NotFound("%s: %v: %s", p, err, stderr.String())
	}
	return nil
}

// CreateFile execs a shell that redirects stdin into the target path,
// streaming source directly as the exec session's stdin.
func (k *Kube) CreateFile(ctx context.Context, p string, metadata fs.Metadata, source io.Reader) error {
	if k.clientset == nil {
		return fs.ErrNotConnected("kube")
	}
	target := k.resolve(p)
	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(k.pod).
		Namespace(k.p.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: k.container,
			Command:   []string{"sh", "-c", fmt.Sprintf("cat > %s", shellQuote(target))},
			Stdin:     true,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return trace.Wrap(err)
	}
	var stderr bytes.Buffer
	if err := executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  source,
		Stdout: io.Discard,
		Stderr: &stderr,
	}); err != nil {
		return trace.Wrap(err, "write %s: %s", target, stderr.String())
	}
	return nil
}

// OnRead is a no-op: OpenFile streams directly into the caller's sink.
func (k *Kube) OnRead(ctx context.Context, stream fs.ReadStream) error { return nil }

// OnWritten is a no-op: CreateFile already completed the upload.
func (k *Kube) OnWritten(ctx context.Context, stream fs.WriteStream) error { return nil }

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// lsEntry is a parsed `ls -la` line.
type lsEntry struct {
	perms    string
	name     string
	size     int64
	modified time.Time
	isDir    bool
	isLink   bool
	linkDest string
}

func (e lsEntry) toFile(fullPath string) fs.File {
	ftype := fs.TypeFile
	if e.isDir {
		ftype = fs.TypeDirectory
	} else if e.isLink {
		ftype = fs.TypeSymlink
	}
	return fs.File{
		Path: fullPath,
		Metadata: fs.Metadata{
			Size:     e.size,
			Modified: e.modified,
			FileType: ftype,
			Symlink:  e.linkDest,
		},
	}
}

// parseLsLine parses one `ls -la --time-style=+%Y-%m-%dT%H:%M:%S` line:
// perms links owner group size date name[ -> target]
func parseLsLine(line string) (lsEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return lsEntry{}, false
	}
	perms := fields[0]
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return lsEntry{}, false
	}
	modified, err := time.Parse("2006-01-02T15:04:05", fields[5])
	if err != nil {
		modified = time.Time{}
	}
	rest := strings.Join(fields[6:], " ")
	name := rest
	linkDest := ""
	if idx := strings.Index(rest, " -> "); idx >= 0 {
		name = rest[:idx]
		linkDest = rest[idx+4:]
	}
	return lsEntry{
		perms:    perms,
		name:     name,
		size:     size,
		modified: modified,
		isDir:    len(perms) > 0 && perms[0] == 'd',
		isLink:   len(perms) > 0 && perms[0] == 'l',
		linkDest: linkDest,
	}, true
}
