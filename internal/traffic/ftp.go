package traffic

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand/v2"
	"net"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"
	"github.com/sirupsen/logrus"
)

const (
	defaultFTPPort  = 21
	defaultSFTPPort = 22
)

// ftpUnit uploads a synthetic file over FTP or explicit FTPS, then removes it
type ftpUnit struct {
	hosts    []string
	secure   bool
	transfer Transfer
	timeout  time.Duration
}

func newFTPUnit(job Job, _ int, _ *logrus.Entry) (Unit, error) {
	t := job.Transfer
	if t.Port == 0 {
		t.Port = defaultFTPPort
	}
	if t.FileSize <= 0 {
		t.FileSize = DefaultFileSize
	}
	return &ftpUnit{
		hosts:    job.Targets,
		secure:   job.Protocol == ProtocolFTPS,
		transfer: t,
		timeout:  job.unitTimeout(),
	}, nil
}

func (u *ftpUnit) Do(ctx context.Context) (string, error) {
	host := u.hosts[rand.IntN(len(u.hosts))]
	addr := net.JoinHostPort(host, strconv.Itoa(u.transfer.Port))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.timeout)
	defer cancel()

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(u.timeout),
	}
	if u.secure {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true,
		}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return addr, fmt.Errorf("dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(u.transfer.User, u.transfer.Password); err != nil {
		return addr, fmt.Errorf("login: %w", err)
	}

	name := remoteName(u.transfer.RemoteDir)
	if err := conn.Stor(name, NewVirtualFile(u.transfer.FileSize)); err != nil {
		return addr, fmt.Errorf("upload %s: %w", name, err)
	}
	if err := conn.Delete(name); err != nil {
		return addr, fmt.Errorf("delete %s: %w", name, err)
	}
	return addr, nil
}

func (u *ftpUnit) Close() error { return nil }

// remoteName returns a unique upload path inside dir
func remoteName(dir string) string {
	name := "agentstress-" + uuid.NewString() + ".bin"
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}
