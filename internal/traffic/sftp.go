package traffic

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// sftpUnit uploads a synthetic file over SSH, then removes it
type sftpUnit struct {
	hosts    []string
	transfer Transfer
	timeout  time.Duration
}

func newSFTPUnit(job Job, _ int, _ *logrus.Entry) (Unit, error) {
	t := job.Transfer
	if t.Port == 0 {
		t.Port = defaultSFTPPort
	}
	if t.FileSize <= 0 {
		t.FileSize = DefaultFileSize
	}
	return &sftpUnit{hosts: job.Targets, transfer: t, timeout: job.unitTimeout()}, nil
}

func (u *sftpUnit) Do(context.Context) (string, error) {
	host := u.hosts[rand.IntN(len(u.hosts))]
	addr := net.JoinHostPort(host, strconv.Itoa(u.transfer.Port))

	cfg := &ssh.ClientConfig{
		User:            u.transfer.User,
		Auth:            []ssh.AuthMethod{ssh.Password(u.transfer.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         u.timeout,
	}
	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return addr, fmt.Errorf("ssh dial: %w", err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return addr, fmt.Errorf("sftp session: %w", err)
	}
	defer client.Close()

	name := remoteName(u.transfer.RemoteDir)
	f, err := client.Create(name)
	if err != nil {
		return addr, fmt.Errorf("create %s: %w", name, err)
	}
	_, err = io.Copy(f, NewVirtualFile(u.transfer.FileSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return addr, fmt.Errorf("upload %s: %w", name, err)
	}

	if err := client.Remove(name); err != nil {
		return addr, fmt.Errorf("remove %s: %w", name, err)
	}
	return addr, nil
}

func (u *sftpUnit) Close() error { return nil }
