package traffic

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
)

// udpUnit sends one datagram per unit over a socket owned by its worker.
// Successive units rotate through the targets.
type udpUnit struct {
	conn    *net.UDPConn
	addrs   []*net.UDPAddr
	names   []string
	next    int
	payload []byte
}

func newUDPUnit(job Job, worker int, _ *logrus.Entry) (Unit, error) {
	network := "udp4"
	if job.IPv6 {
		network = "udp6"
	}

	u := &udpUnit{next: worker}
	for _, host := range job.Targets {
		target := net.JoinHostPort(host, strconv.Itoa(job.Port))
		addr, err := net.ResolveUDPAddr(network, target)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", target, err)
		}
		u.addrs = append(u.addrs, addr)
		u.names = append(u.names, target)
	}

	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s socket: %w", network, err)
	}
	u.conn = conn

	u.payload = make([]byte, UDPPayloadSize)
	rand.Read(u.payload)
	return u, nil
}

func (u *udpUnit) Do(context.Context) (string, error) {
	i := u.next % len(u.addrs)
	u.next++
	_, err := u.conn.WriteToUDP(u.payload, u.addrs[i])
	return u.names[i], err
}

func (u *udpUnit) Close() error {
	return u.conn.Close()
}
