// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

package envelope

import (
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"
)

// DiagInterval is the minimum spacing between diagnostic log lines of the
// same failure class. Historical scans can hit thousands of undecryptable
// foreign events; one line per class per interval keeps the log usable.
const DiagInterval = 2 * time.Second

type diagClass struct {
	lastEmit   time.Time
	suppressed int
}

// DiagLimiter emits per-event failure diagnostics, rate limited per
// failure class. Safe for concurrent use.
type DiagLimiter struct {
	sync.Mutex

	log      *logging.Logger
	interval time.Duration
	classes  map[string]*diagClass
}

// NewDiagLimiter creates a DiagLimiter logging to log.
func NewDiagLimiter(log *logging.Logger) *DiagLimiter {
	return &DiagLimiter{
		log:      log,
		interval: DiagInterval,
		classes:  make(map[string]*diagClass),
	}
}

// Report records a dropped event failure. The first failure of a class in
// each interval is logged; later ones are counted and summarized on the
// next emit.
func (d *DiagLimiter) Report(proto Protocol, eventID string, err error) {
	class := FailureClass(err)

	d.Lock()
	c, ok := d.classes[class]
	if !ok {
		c = new(diagClass)
		d.classes[class] = c
	}
	now := time.Now()
	if now.Sub(c.lastEmit) < d.interval {
		c.suppressed++
		d.Unlock()
		return
	}
	suppressed := c.suppressed
	c.suppressed = 0
	c.lastEmit = now
	d.Unlock()

	if suppressed > 0 {
		d.log.Warningf("%s: dropped event %s: %v (%d similar failures suppressed)", proto, eventID, err, suppressed)
		return
	}
	d.log.Warningf("%s: dropped event %s: %v", proto, eventID, err)
}
