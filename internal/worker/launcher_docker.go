package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/moby/moby/api/types/container"
	dockerclient "github.com/moby/moby/client"
)

// DockerLauncher runs each worker inside its own container instead of a
// plain OS process, for deployments that want filesystem and resource
// isolation per worker. It is optional: WorkerManager accepts any Launcher,
// and ExecLauncher remains the default.
type DockerLauncher struct {
	Client    *dockerclient.Client
	Image     string
	Cmd       []string
}

// NewDockerLauncher connects to the Docker daemon using the ambient
// environment (DOCKER_HOST and friends), the same way the daemon connection
// is established for any other Docker-backed component.
func NewDockerLauncher(image string, cmd []string) (*DockerLauncher, error) {
	cli, err := dockerclient.New(dockerclient.WithAPIVersionNegotiation(), dockerclient.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &DockerLauncher{Client: cli, Image: image, Cmd: cmd}, nil
}

func (l *DockerLauncher) Launch(ctx context.Context, workerID string, env map[string]string) (Process, error) {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	result, err := l.Client.ContainerCreate(ctx, dockerclient.ContainerCreateOptions{
		Image: l.Image,
		Config: &container.Config{
			Image:        l.Image,
			Cmd:          l.Cmd,
			Env:          envList,
			OpenStdin:    true,
			AttachStdin:  true,
			AttachStdout: true,
			Tty:          false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create worker container: %w", err)
	}

	if _, err := l.Client.ContainerStart(ctx, result.ID, dockerclient.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("start worker container: %w", err)
	}

	attached, err := l.Client.ContainerAttach(ctx, result.ID, dockerclient.ContainerAttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach worker container: %w", err)
	}

	hijack := attached.HijackedResponse
	return &dockerProcess{client: l.Client, containerID: result.ID, conn: hijack.Conn, reader: hijack.Reader}, nil
}

type dockerProcess struct {
	client      *dockerclient.Client
	containerID string
	conn        io.Closer
	reader      io.Reader
}

func (p *dockerProcess) Stdin() io.WriteCloser {
	if wc, ok := p.conn.(io.WriteCloser); ok {
		return wc
	}
	return nil
}

func (p *dockerProcess) Stdout() io.ReadCloser {
	return io.NopCloser(p.reader)
}

func (p *dockerProcess) Pid() int {
	return 0
}

func (p *dockerProcess) Kill() error {
	timeout := 5
	_, err := p.client.ContainerStop(context.Background(), p.containerID, dockerclient.ContainerStopOptions{Timeout: &timeout})
	return err
}

func (p *dockerProcess) Wait() (bool, error) {
	result := p.client.ContainerWait(context.Background(), p.containerID, dockerclient.ContainerWaitOptions{Condition: container.WaitConditionNotRunning})
	select {
	case err := <-result.Error:
		return false, err
	case status := <-result.Result:
		return status.StatusCode == 0, nil
	}
}
