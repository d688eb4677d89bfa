package process

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage is the resource usage of a process tree as seen by periodic sampling. Processes that
// start and exit between two samples are not seen.
type Usage struct {
	PeakRSS       uint64  // bytes, summed over the tree
	PeakProcesses int     // largest number of processes in the tree
	CPUSeconds    float64 // user + system time, highest sum observed
	Samples       int
}

// TreeUsage returns the summed RSS and CPU time of pid and its descendants, and the number
// of processes it could read.
func TreeUsage(pid int) (rss uint64, cpuSeconds float64, count int) {
	pids := append(Descendants(pid), int32(pid))
	for _, id := range pids {
		p, err := process.NewProcess(id)
		if err != nil {
			continue
		}
		memInfo, err := p.MemoryInfo()
		if err != nil {
			// Exited or a zombie
			continue
		}
		rss += memInfo.RSS
		if times, err := p.Times(); err == nil {
			cpuSeconds += times.User + times.System
		}
		count++
	}
	return rss, cpuSeconds, count
}

// Sampler records the peak usage of a process tree in the background
type Sampler struct {
	pid      int
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu    sync.Mutex
	usage Usage
}

// StartSampler samples the tree below pid every interval until Stop is called or pid is no
// longer running
func StartSampler(pid int, interval time.Duration) *Sampler {
	s := &Sampler{
		pid:      pid,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Sampler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sample()
		// Stop once the child is gone so a recycled pid is never sampled.
		if !Running(s.pid) {
			return
		}
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Sampler) sample() {
	rss, cpu, count := TreeUsage(s.pid)
	if count == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Samples++
	s.usage.PeakRSS = max(s.usage.PeakRSS, rss)
	s.usage.PeakProcesses = max(s.usage.PeakProcesses, count)
	s.usage.CPUSeconds = max(s.usage.CPUSeconds, cpu)
}

// Usage returns what has been recorded so far
func (s *Sampler) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Stop ends sampling and returns the recorded usage. It is safe to call more than once.
func (s *Sampler) Stop() Usage {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return s.Usage()
}
