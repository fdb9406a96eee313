package relay

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
)

const labelManagedBy = "lanward"

// DockerFactory connects to the Docker daemon and returns a factory that
// runs each relay in its own container of the given image. A nil error
// means the daemon answered a ping; callers use that to select the
// backend.
func DockerFactory(ctx context.Context, host, img, memoryLimit string) (Factory, error) {
	opts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}

	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker ping: %w", err)
	}

	var memBytes int64
	if memoryLimit != "" {
		memBytes, err = units.RAMInBytes(memoryLimit)
		if err != nil {
			return nil, fmt.Errorf("relay memory limit %q: %w", memoryLimit, err)
		}
	}

	log.Println("Docker daemon connected")
	return func(id string, o Options) (Handle, error) {
		return &dockerHandle{
			client:   cli,
			name:     "lanward-" + id,
			image:    img,
			memBytes: memBytes,
			opts:     o,
		}, nil
	}, nil
}

// dockerHandle runs one relay container. The container is named after the
// server ID so a handle recreated across process restarts finds and
// resumes the same container instead of colliding with it.
type dockerHandle struct {
	client   *dockerclient.Client
	name     string
	image    string
	memBytes int64
	opts     Options

	mu sync.Mutex
}

func (d *dockerHandle) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	inspect, err := d.client.ContainerInspect(ctx, d.name)
	if err == nil {
		if inspect.State.Running {
			return nil
		}
		return d.client.ContainerStart(ctx, d.name, container.StartOptions{})
	}
	if !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("inspect container %s: %w", d.name, err)
	}

	if err := d.ensureImage(ctx); err != nil {
		return err
	}

	cmd := []string{"-server", d.opts.Remote}
	if d.opts.Bind != "" {
		cmd = append(cmd, "-bind", d.opts.Bind)
	}
	if d.opts.BindPort > 0 {
		cmd = append(cmd, "-bind_port", strconv.Itoa(d.opts.BindPort))
	}
	if d.opts.IPv6 {
		cmd = append(cmd, "-6")
	}

	containerCfg := &container.Config{
		Image:  d.image,
		Cmd:    cmd,
		Labels: map[string]string{"managed-by": labelManagedBy},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "host",
		Resources:   container.Resources{Memory: d.memBytes},
	}
	// Host networking makes LAN broadcast reach game clients directly. When
	// a fixed bind port is configured, fall back to an explicit UDP mapping
	// so the port is reachable on daemons without host-mode support.
	if d.opts.BindPort > 0 {
		port, err := nat.NewPort("udp", strconv.Itoa(d.opts.BindPort))
		if err != nil {
			return fmt.Errorf("relay bind port: %w", err)
		}
		hostCfg.NetworkMode = "bridge"
		containerCfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostPort: strconv.Itoa(d.opts.BindPort)}},
		}
	}

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, d.name)
	if err != nil {
		return fmt.Errorf("create container %s: %w", d.name, err)
	}
	return d.client.ContainerStart(ctx, resp.ID, container.StartOptions{})
}

func (d *dockerHandle) ensureImage(ctx context.Context) error {
	_, _, err := d.client.ImageInspectWithRaw(ctx, d.image)
	if err == nil {
		return nil
	}

	log.Printf("Image %s not found locally, pulling...", d.image)
	reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", d.image, err)
	}
	defer reader.Close()
	io.Copy(io.Discard, reader)
	return nil
}

func (d *dockerHandle) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	timeout := 10
	err := d.client.ContainerStop(ctx, d.name, container.StopOptions{Timeout: &timeout})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("stop container %s: %w", d.name, err)
	}
	err = d.client.ContainerRemove(ctx, d.name, container.RemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", d.name, err)
	}
	return nil
}
