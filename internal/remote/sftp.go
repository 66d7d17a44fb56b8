package remote

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"path"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/withObsrvr/lab-ingest/internal/config"
)

// sftpSession is a Session over SSH/SFTP with password authentication.
type sftpSession struct {
	ssh    *ssh.Client
	client *sftp.Client
	root   string
}

func dialSFTP(ctx context.Context, cfg config.RemoteConfig) (Session, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, &ConnectError{Kind: AuthFailure, Addr: addr, Err: err}
	}

	clientCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeys,
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Kind: Unreachable, Addr: addr, Err: err}
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, &ConnectError{Kind: classifyHandshakeError(err), Addr: addr, Err: err}
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, &ConnectError{Kind: Unreachable, Addr: addr, Err: fmt.Errorf("start sftp subsystem: %w", err)}
	}

	return &sftpSession{ssh: sshClient, client: client, root: cfg.Root}, nil
}

func hostKeyCallback(cfg config.RemoteConfig) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
		return cb, nil
	}
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, fmt.Errorf("no host key policy configured")
}

// classifyHandshakeError separates credential and host key rejections from
// transport failures. x/crypto/ssh does not export typed errors for these.
func classifyHandshakeError(err error) ConnectKind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "knownhosts:"),
		strings.Contains(msg, "host key"):
		return AuthFailure
	default:
		return Unreachable
	}
}

func (s *sftpSession) abs(p string) string {
	return path.Join(s.root, p)
}

func (s *sftpSession) ReadDir(dir string) ([]fs.FileInfo, error) {
	return s.client.ReadDir(s.abs(dir))
}

func (s *sftpSession) Open(name string) (io.ReadCloser, error) {
	return s.client.Open(s.abs(name))
}

func (s *sftpSession) Remove(name string) error {
	return s.client.Remove(s.abs(name))
}

func (s *sftpSession) Close() error {
	if s == nil {
		return nil
	}

	var result *multierror.Error
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close sftp client: %w", err))
		}
		s.client = nil
	}
	if s.ssh != nil {
		if err := s.ssh.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close ssh connection: %w", err))
		}
		s.ssh = nil
	}
	return result.ErrorOrNil()
}
