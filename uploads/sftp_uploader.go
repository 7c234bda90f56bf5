package uploads

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"www.velocidex.com/golang/triage/logging"
	"www.velocidex.com/golang/triage/utils"
)

const (
	connect_timeout     = 30 * time.Second
	default_buffer_size = 8 * 1024 * 1024
	retry_attempts      = 5
)

var (
	ErrAuthFailed    = errors.New("authentication failed")
	ErrConnectFailed = errors.New("connect failed")
)

type SFTPConfig struct {
	// host:port
	Hostname string
	Username string

	// Path to a PEM encoded private key. Password authentication is
	// not supported - keys only.
	PrivateKeyPath string

	RemotePath string

	BufferSizeMb          int64
	ConcurrentConnections int
}

func (self *SFTPConfig) bufferSize() int64 {
	size := self.BufferSizeMb * 1024 * 1024
	if size == 0 {
		size = default_buffer_size
	}
	return size
}

func (self *SFTPConfig) connections() int {
	if self.ConcurrentConnections <= 0 {
		return 2
	}
	return self.ConcurrentConnections
}

type sftpSession struct {
	ssh_client  *ssh.Client
	sftp_client *sftp.Client
}

func (self *sftpSession) close() {
	if self.sftp_client != nil {
		self.sftp_client.Close()
	}
	if self.ssh_client != nil {
		self.ssh_client.Close()
	}
}

// SFTPSink writes the archive over a pool of SFTP sessions. One
// session owns the remote file handle; the others stand by for
// retries after a connection drops.
type SFTPSink struct {
	ctx    context.Context
	config SFTPConfig

	pool    []*sftpSession
	owner   int
	remote  *sftp.File
	written int64

	buffer   []byte
	buffered int64

	progress *progressReporter
	backoff  utils.Backoff
	aborted  bool
	done     bool
}

func NewSFTPSink(ctx context.Context,
	config SFTPConfig, cb ProgressFunc) (*SFTPSink, error) {

	key_data, err := os.ReadFile(config.PrivateKeyPath)
	if err != nil {
		return nil, errors.Wrap(ErrAuthFailed, err.Error())
	}

	signer, err := ssh.ParsePrivateKey(key_data)
	if err != nil {
		return nil, errors.Wrap(ErrAuthFailed, err.Error())
	}

	ssh_config := &ssh.ClientConfig{
		User:            config.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connect_timeout,
	}

	self := &SFTPSink{
		ctx:      ctx,
		config:   config,
		buffer:   make([]byte, 0, config.bufferSize()),
		progress: newProgressReporter(cb, 0),
		backoff: utils.Backoff{
			Initial: 500 * time.Millisecond,
			Max:     30 * time.Second,
		},
	}

	for i := 0; i < config.connections(); i++ {
		session, err := dialSFTP(config.Hostname, ssh_config)
		if err != nil {
			self.closePool()
			return nil, err
		}
		self.pool = append(self.pool, session)
	}

	err = self.openRemote()
	if err != nil {
		self.closePool()
		return nil, err
	}

	return self, nil
}

func dialSFTP(hostname string,
	ssh_config *ssh.ClientConfig) (*sftpSession, error) {

	ssh_client, err := ssh.Dial("tcp", hostname, ssh_config)
	if err != nil {
		return nil, errors.Wrap(ErrConnectFailed, err.Error())
	}

	sftp_client, err := sftp.NewClient(ssh_client)
	if err != nil {
		ssh_client.Close()
		return nil, errors.Wrap(ErrConnectFailed, err.Error())
	}

	return &sftpSession{
		ssh_client:  ssh_client,
		sftp_client: sftp_client,
	}, nil
}

func (self *SFTPSink) openRemote() error {
	client := self.pool[self.owner].sftp_client

	err := client.MkdirAll(path.Dir(self.config.RemotePath))
	if err != nil {
		return errors.Wrap(ErrTransferFailed, err.Error())
	}

	remote, err := client.OpenFile(self.config.RemotePath,
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return errors.Wrap(ErrTransferFailed, err.Error())
	}

	self.remote = remote
	return nil
}

func (self *SFTPSink) Write(buf []byte) (int, error) {
	if self.aborted {
		return 0, errors.Wrap(ErrTransferFailed, "sink aborted")
	}

	total := len(buf)
	for len(buf) > 0 {
		space := self.config.bufferSize() - self.buffered
		n := int64(len(buf))
		if n > space {
			n = space
		}

		self.buffer = append(self.buffer, buf[:n]...)
		self.buffered += n
		buf = buf[n:]

		if self.buffered >= self.config.bufferSize() {
			err := self.flushChunk()
			if err != nil {
				return 0, err
			}
		}
	}

	return total, nil
}

// flushChunk writes the buffered chunk, retrying with exponential
// backoff over the session pool on transient failures.
func (self *SFTPSink) flushChunk() error {
	if self.buffered == 0 {
		return nil
	}

	chunk := self.buffer
	logger := logging.GetLogger("uploads")

	attempt := 0
	err := utils.Retry(self.ctx, retry_attempts, self.backoff,
		func() error {
			attempt++
			_, write_err := self.remote.Write(chunk)
			if write_err == nil {
				return nil
			}

			logger.Warnf("sftp write attempt %v failed: %v",
				attempt, write_err)

			// Rotate to a standby session and reopen the handle at
			// the current offset before the next attempt.
			reconnect_err := self.reconnect()
			if reconnect_err != nil {
				return reconnect_err
			}
			return write_err
		})
	if err != nil {
		return errors.Wrap(ErrTransferFailed, err.Error())
	}

	self.written += self.buffered
	self.progress.add(self.buffered)
	self.buffer = self.buffer[:0]
	self.buffered = 0
	return nil
}

func (self *SFTPSink) reconnect() error {
	if self.remote != nil {
		self.remote.Close()
		self.remote = nil
	}

	next := (self.owner + 1) % len(self.pool)
	self.owner = next

	client := self.pool[self.owner].sftp_client
	remote, err := client.OpenFile(self.config.RemotePath, os.O_WRONLY)
	if err != nil {
		return errors.Wrap(ErrTransferFailed, err.Error())
	}

	_, err = remote.Seek(self.written, 0)
	if err != nil {
		remote.Close()
		return errors.Wrap(ErrTransferFailed, err.Error())
	}

	self.remote = remote
	return nil
}

func (self *SFTPSink) Flush() error {
	return self.flushChunk()
}

func (self *SFTPSink) Complete() error {
	if self.done {
		return nil
	}

	err := self.flushChunk()
	if err != nil {
		return err
	}

	self.done = true
	self.progress.final()

	logging.GetLogger("uploads").Infof(
		"sftp upload of %v complete (%v)",
		self.config.RemotePath, humanize.Bytes(uint64(self.written)))

	err = self.remote.Close()
	self.closePool()
	return err
}

// Abort deletes the remote partial file before tearing the sessions
// down. Idempotent.
func (self *SFTPSink) Abort() error {
	if self.aborted || self.done {
		return nil
	}
	self.aborted = true

	if self.remote != nil {
		self.remote.Close()
	}

	var remove_err error
	for _, session := range self.pool {
		remove_err = session.sftp_client.Remove(self.config.RemotePath)
		if remove_err == nil {
			break
		}
	}
	self.closePool()

	if remove_err != nil {
		return errors.Wrap(errors.New("remote abort failed"),
			fmt.Sprintf("%v", remove_err))
	}
	return nil
}

func (self *SFTPSink) closePool() {
	for _, session := range self.pool {
		session.close()
	}
	self.pool = nil
}
