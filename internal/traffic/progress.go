package traffic

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// durationProgressStep is the unit interval between progress lines for timed
// jobs and for request floods
const durationProgressStep = 100

// progress logs completed units at 20% milestones, or every
// durationProgressStep units when the total is unknown or the job is an HTTPS
// request flood
type progress struct {
	log   *logrus.Entry
	total int64
	step  int64
	done  atomic.Int64
}

func newProgress(job Job, log *logrus.Entry) *progress {
	p := &progress{log: log, step: durationProgressStep}
	if job.Duration == 0 && job.Count > 0 {
		p.total = int64(job.Count)
		if job.Protocol == ProtocolHTTPS {
			return p
		}
		p.step = p.total / 5
		if p.step == 0 {
			p.step = 1
		}
	}
	return p
}

func (p *progress) add() {
	n := p.done.Add(1)
	if n%p.step != 0 {
		return
	}
	if p.total > 0 {
		p.log.Infof("Progress: %d/%d (%d%%)", n, p.total, n*100/p.total)
		return
	}
	p.log.Infof("Progress: %d units", n)
}

func (p *progress) count() int64 {
	return p.done.Load()
}
