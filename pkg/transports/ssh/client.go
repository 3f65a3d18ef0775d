package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client holds one SSH connection and its SFTP channel.
type Client struct {
	config *Config

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
}

// NewClient creates a client for the given config.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection and opens the SFTP channel.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return err
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		cl, err := ssh.Dial("tcp", address, clientConfig)
		ch <- dialResult{cl, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("connect to %s: %w", address, res.err)
		}
		c.client = res.client
	}

	sftpClient, err := sftp.NewClient(c.client)
	if err != nil {
		_ = c.client.Close()
		c.client = nil
		return fmt.Errorf("open sftp channel: %w", err)
	}
	c.sftp = sftpClient
	return nil
}

// Close tears down the SFTP channel and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		_ = c.sftp.Close()
		c.sftp = nil
	}
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// run executes one command line on the remote host.
func (c *Client) run(ctx context.Context, cmdline string) (stdout, stderr string, exitCode int, err error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return "", "", -1, fmt.Errorf("not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmdline)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		err = ctx.Err()
	case err = <-done:
	}

	stdout = strings.TrimRight(stdoutBuf.String(), "\n")
	stderr = strings.TrimRight(stderrBuf.String(), "\n")

	exitCode = 0
	if err != nil {
		exitCode = -1
		var exitErr *ssh.ExitError
		if ok := asExitError(err, &exitErr); ok {
			exitCode = exitErr.ExitStatus()
		}
	}
	return stdout, stderr, exitCode, err
}

func asExitError(err error, target **ssh.ExitError) bool {
	if e, ok := err.(*ssh.ExitError); ok {
		*target = e
		return true
	}
	return false
}
