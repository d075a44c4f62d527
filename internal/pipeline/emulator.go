// Package pipeline implements the forwarding engine: per-direction
// receive, worker and transmit stages connected by rings, plus the timer
// that drives the token buckets and delay resampling.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"firestige.xyz/impair/internal/affinity"
	"firestige.xyz/impair/internal/clock"
	"firestige.xyz/impair/internal/core"
	"firestige.xyz/impair/internal/delay"
	"firestige.xyz/impair/internal/loss"
	"firestige.xyz/impair/internal/pktbuf"
	"firestige.xyz/impair/internal/ring"
	"firestige.xyz/impair/internal/shaper"
	"firestige.xyz/impair/internal/timer"
)

// Emulator forwards traffic between two ports in both directions.
type Emulator struct {
	cfg   Config
	clk   clock.Clock
	pool  *pktbuf.Pool
	dirs  [2]*direction
	stats [2]*PortStats
	timer *timer.Manager

	rx      [2]*rxStage
	workers [2]*workerStage
	tx      [2]*txStage
	latency [2]*latencySampler

	stop    atomic.Bool
	running atomic.Bool
	stopped atomic.Bool
	wg      conc.WaitGroup
	started time.Time
	elapsed time.Duration

	errMu sync.Mutex
	errs  []error
}

// New assembles an emulator. Nothing runs until Start.
func New(cfg Config) (*Emulator, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Emulator{
		cfg:   cfg,
		clk:   cfg.Clock,
		pool:  cfg.Pool,
		timer: timer.New(cfg.Clock),
	}
	for p := 0; p < 2; p++ {
		e.stats[p] = NewPortStats(cfg.Ports[p].Name())
	}

	for _, dir := range core.Directions {
		d, err := e.newDirection(dir)
		if err != nil {
			return nil, err
		}
		e.dirs[dir] = d

		egress := dir.Egress()
		e.latency[egress] = newLatencySampler(cfg.LatencySamples)
		e.rx[dir] = newRxStage(d, e.clk, e.pool, cfg.Burst)
		e.workers[dir] = newWorkerStage(d, e.clk, cfg.Burst, cfg.HOL)
		e.tx[dir] = newTxStage(d, e.clk, cfg.Burst, e.latency[egress])
	}
	return e, nil
}

func (e *Emulator) newDirection(dir core.Direction) (*direction, error) {
	cfg := &e.cfg
	d := &direction{
		dir:      dir,
		impaired: cfg.impaired(dir),
		in:       cfg.Ports[dir.Ingress()],
		out:      cfg.Ports[dir.Egress()],
		inStats:  e.stats[dir.Ingress()],
		outStats: e.stats[dir.Egress()],
	}

	var err error
	if d.rxq, err = ring.New[*pktbuf.Packet]("rx-"+dir.String(), cfg.RingSize); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	if d.txq, err = ring.New[*pktbuf.Packet]("tx-"+dir.String(), cfg.RingSize); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}

	if !d.impaired {
		d.loss = loss.None{}
		d.delay = delay.New(0, 0, nil)
		return d, nil
	}

	im := cfg.Impairment
	name := dir.String()
	if d.loss, err = loss.New(im.Loss, cfg.Random.New("loss-"+name)); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	if im.DuplicatePercent > 0 {
		d.dup = loss.NewDuplicator(im.DuplicatePercent, cfg.Random.New("dup-"+name))
	}

	d.delay = delay.New(
		clock.MicrosToTicks(e.clk, im.DelayUs),
		clock.MicrosToTicks(e.clk, im.JitterUs),
		cfg.Random.New("jitter-"+name))
	if d.delay.Jittered() {
		period := int64(im.ResamplePeriod.Seconds() * float64(e.clk.Hz()))
		if period < 1 {
			period = 1
		}
		if err := e.timer.Add("resample-"+name, period, func(int64, int64) { d.delay.Resample() }); err != nil {
			return nil, err
		}
	}

	if im.RateBps > 0 {
		// Refill on a whole number of clock ticks and let the bucket
		// compute its per-refill share from the frequency that yields.
		period := e.clk.Hz() / im.RefillHz
		if period < 1 {
			period = 1
		}
		d.bucket, err = shaper.New(shaper.Config{
			Rate:        im.RateBps,
			RefillHz:    e.clk.Hz() / period,
			MaxLineRate: im.MaxLineRate,
			CeilingHz:   im.CeilingHz,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidRate, err)
		}
		if err := e.timer.Add("refill-"+name, period, func(_, periods int64) { d.bucket.RefillN(periods) }); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// RunID returns the identifier this run was started with.
func (e *Emulator) RunID() string { return e.cfg.RunID }

// Start launches one goroutine per role. The timer and transmit stages start
// before the workers, and the workers before the receive stages.
func (e *Emulator) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return core.ErrPipelineRunning
	}
	e.started = time.Now()
	slog.Info("emulator starting",
		"run_id", e.cfg.RunID,
		"ports", []string{e.cfg.Ports[0].Name(), e.cfg.Ports[1].Name()},
		"impaired", e.cfg.Impaired,
		"hol", e.cfg.HOL,
		"timer_tasks", e.timer.Len())

	if prev, short := affinity.Reserve(len(core.Roles)); short {
		slog.Warn("fewer CPUs than polling stages, stages will time-share cores",
			"cpus", affinity.NumCPU(), "stages", len(core.Roles), "gomaxprocs_was", prev)
	}

	for _, role := range core.Roles {
		e.wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					e.stop.Store(true)
					panic(r)
				}
			}()
			e.runRole(role)
		})
	}
	return nil
}

func (e *Emulator) runRole(role core.Role) {
	cpu, ok := e.cfg.Cores[role]
	if !ok {
		cpu = affinity.Unpinned
	}
	release, err := affinity.Pin(cpu)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", role, err))
		return
	}
	defer release()

	slog.Info("stage started", "role", role, "cpu", cpu)
	switch role {
	case core.RoleTimer:
		e.timer.Run(&e.stop)
	case core.RoleRxA, core.RoleRxB:
		e.loop(e.rx[dirOfRole(role)].poll)
	case core.RoleWorkerA, core.RoleWorkerB:
		e.loop(e.workers[dirOfRole(role)].poll)
	case core.RoleTxA, core.RoleTxB:
		// tx-a drains the direction whose egress is port A.
		e.loop(e.tx[1-dirOfRole(role)].poll)
	}
	slog.Info("stage stopped", "role", role)
}

// dirOfRole maps a per-port role to the direction whose ingress is that port.
func dirOfRole(role core.Role) int {
	switch role {
	case core.RoleRxA, core.RoleWorkerA, core.RoleTxA:
		return int(core.DirAToB)
	}
	return int(core.DirBToA)
}

func (e *Emulator) loop(poll func() int) {
	yield := e.cfg.IdleYield
	idle := 0
	for !e.stop.Load() {
		if poll() != 0 || yield == 0 {
			continue
		}
		if idle++; idle >= yield {
			idle = 0
			runtime.Gosched()
		}
	}
}

func (e *Emulator) fail(err error) {
	slog.Error("stage failed", "error", err)
	e.errMu.Lock()
	e.errs = append(e.errs, err)
	e.errMu.Unlock()
	e.stop.Store(true)
}

// Stopping reports whether shutdown has been requested, including by a
// failed stage.
func (e *Emulator) Stopping() bool { return e.stop.Load() }

// Stop sets the shutdown flag, waits for every stage and returns all
// in-flight buffers to the pool. The error wraps core.ErrStageFailed when a
// stage failed or panicked.
func (e *Emulator) Stop() error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	slog.Info("emulator stopping", "run_id", e.cfg.RunID)
	e.stop.Store(true)

	if e.running.Load() {
		if rec := e.wg.WaitAndRecover(); rec != nil {
			e.errMu.Lock()
			e.errs = append(e.errs, rec.AsError())
			e.errMu.Unlock()
			slog.Error("stage panicked", "panic", rec.Value, "stack", string(rec.Stack))
		}
		e.elapsed = time.Since(e.started)
	}
	e.running.Store(false)
	e.drain()

	for _, ts := range e.timer.Stats() {
		slog.Debug("timer task", "task", ts.Name, "fired", ts.Fired, "periods", ts.Periods)
	}
	slog.Info("emulator stopped", "run_id", e.cfg.RunID, "elapsed", e.elapsed)

	e.errMu.Lock()
	defer e.errMu.Unlock()
	if len(e.errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrStageFailed, errors.Join(e.errs...))
	}
	return nil
}

// drain frees everything still owned by the stages or queued in the rings.
// Each direction's leftovers are counted against its egress port.
func (e *Emulator) drain() {
	scratch := make([]*pktbuf.Packet, e.cfg.Burst)
	for i, d := range e.dirs {
		n := e.workers[i].drain() + e.tx[i].drain()
		for _, q := range []*ring.Ring[*pktbuf.Packet]{d.rxq, d.txq} {
			for {
				k := q.DequeueBurst(scratch)
				if k == 0 {
					break
				}
				e.pool.FreeBulk(scratch[:k])
				clear(scratch[:k])
				n += k
			}
		}
		if n > 0 {
			d.outStats.TxAbandoned.Add(uint64(n))
			slog.Debug("freed in-flight packets", "direction", d.dir, "count", n)
		}
	}
}

// Close stops the emulator if needed and closes both ports.
func (e *Emulator) Close() error {
	err := e.Stop()
	for _, p := range e.cfg.Ports {
		if cerr := p.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: %s: %v", core.ErrPortClosed, p.Name(), cerr))
		}
	}
	return err
}

// Snapshot reads the live counters. It is safe to call while running.
func (e *Emulator) Snapshot() Snapshot {
	s := Snapshot{
		RunID:      e.cfg.RunID,
		Running:    e.running.Load() && !e.stop.Load(),
		PoolInUse:  e.pool.InUse(),
		PoolFailed: e.pool.AllocFailed(),
	}
	for p := 0; p < 2; p++ {
		s.Ports[p] = e.stats[p].Snapshot()
		s.Devices[p] = e.cfg.Ports[p].Stats()
	}
	for i, d := range e.dirs {
		ds := DirectionSnapshot{
			Direction:      d.dir.String(),
			Impaired:       d.impaired,
			Loss:           d.loss.Kind().String(),
			EffectiveDelay: d.delay.Effective(),
			RxRing:         d.rxq.Len(),
			TxRing:         d.txq.Len(),
		}
		if d.bucket != nil {
			ds.Tokens = d.bucket.Tokens()
			ds.TokenCeiling = d.bucket.Ceiling()
		}
		s.Directions[i] = ds
	}
	return s
}

// step runs one poll of the timer and of every stage, in pipeline order,
// on the calling goroutine.
func (e *Emulator) step() int {
	n := e.timer.Poll(e.clk.Now())
	for i := range e.dirs {
		n += e.rx[i].poll()
	}
	for i := range e.dirs {
		n += e.workers[i].poll()
	}
	for i := range e.dirs {
		n += e.tx[i].poll()
	}
	return n
}
