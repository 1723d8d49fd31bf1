// Package ssh fetches configuration documents from a remote host over SFTP.
package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Fetcher downloads configuration files from one remote host.
type Fetcher struct {
	config *HostConfig
	logger zerolog.Logger

	// Extensions limits directory downloads to these file extensions.
	// Empty means every regular file.
	Extensions []string
}

// NewFetcher validates config and returns a fetcher.
func NewFetcher(config *HostConfig, logger zerolog.Logger) (*Fetcher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Fetcher{
		config: config,
		logger: logger.With().Str("component", "sftp-fetch").Str("host", config.Host).Logger(),
	}, nil
}

// dial connects to the remote host, honouring ctx while the handshake runs.
func (f *Fetcher) dial(ctx context.Context) (*ssh.Client, func() error, error) {
	clientConfig, closeAgent, err := f.config.clientConfig()
	if err != nil {
		return nil, nil, err
	}

	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", f.config.Addr(), clientConfig)
		done <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		_ = closeAgent()
		return nil, nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			_ = closeAgent()
			return nil, nil, fmt.Errorf("failed to connect to %s: %w", f.config.Addr(), r.err)
		}
		return r.client, func() error {
			_ = closeAgent()
			return r.client.Close()
		}, nil
	}
}

// Fetch copies each remote path (file or directory) into localDir and returns
// the local paths of the downloaded files.
func (f *Fetcher) Fetch(ctx context.Context, remotePaths []string, localDir string) ([]string, error) {
	client, closeConn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeConn() }()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}
	defer sftpClient.Close()

	return f.fetchWith(ctx, sftpClient, remotePaths, localDir)
}

func (f *Fetcher) fetchWith(ctx context.Context, c *sftp.Client, remotePaths []string, localDir string) ([]string, error) {
	var fetched []string
	for _, remote := range remotePaths {
		info, err := c.Stat(remote)
		if err != nil {
			return fetched, fmt.Errorf("failed to stat %s: %w", remote, err)
		}

		if !info.IsDir() {
			target := filepath.Join(localDir, path.Base(remote))
			if err := f.downloadFile(ctx, c, remote, target); err != nil {
				return fetched, err
			}
			fetched = append(fetched, target)
			continue
		}

		walker := c.Walk(remote)
		for walker.Step() {
			if err := walker.Err(); err != nil {
				return fetched, fmt.Errorf("failed to walk remote directory: %w", err)
			}
			if walker.Stat().IsDir() || !f.accept(walker.Path()) {
				continue
			}
			rel, err := filepath.Rel(remote, walker.Path())
			if err != nil {
				return fetched, err
			}
			target := filepath.Join(localDir, rel)
			if err := f.downloadFile(ctx, c, walker.Path(), target); err != nil {
				return fetched, err
			}
			fetched = append(fetched, target)

			select {
			case <-ctx.Done():
				return fetched, ctx.Err()
			default:
			}
		}
	}
	return fetched, nil
}

func (f *Fetcher) accept(name string) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	ext := path.Ext(name)
	for _, e := range f.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (f *Fetcher) downloadFile(ctx context.Context, c *sftp.Client, remotePath, localPath string) error {
	startTime := time.Now()

	remoteFile, err := c.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer localFile.Close()

	written, err := copyWithContext(ctx, localFile, remoteFile)
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", remotePath, err)
	}

	f.logger.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("file downloaded")
	return nil
}

// copyWithContext copies src to dst, checking ctx between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}
