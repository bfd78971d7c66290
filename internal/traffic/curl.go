package traffic

import (
	"context"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCurlPath is the request tool used when a job names none
const DefaultCurlPath = "curl"

// curlUnit fires one request through the external request tool.
// The tool is killed if the job is cancelled mid-request.
type curlUnit struct {
	path    string
	urls    []string
	timeout time.Duration
}

func newCurlUnit(job Job, _ int, _ *logrus.Entry) (Unit, error) {
	path := job.CurlPath
	if path == "" {
		path = DefaultCurlPath
	}
	return &curlUnit{path: path, urls: job.Targets, timeout: job.unitTimeout()}, nil
}

func (u *curlUnit) Do(ctx context.Context) (string, error) {
	url := u.urls[rand.IntN(len(u.urls))]

	secs := int(u.timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	cmd := execCommand(ctx, u.path, "-s", "-o", os.DevNull, "--max-time", strconv.Itoa(secs), url)
	bindTreeKill(cmd)
	cmd.WaitDelay = time.Second

	return url, cmd.Run()
}

func (u *curlUnit) Close() error { return nil }
