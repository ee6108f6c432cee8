package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	tz := s.cfg.Timezone
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, StartupSpread: d.startupSpread}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		d.state.mu.Lock()
		it.Running = d.state.running
		it.Runs = d.state.runs
		it.Skipped = d.state.skipped
		it.Failures = d.state.failures
		it.LastRun = d.state.lastRun
		it.LastDuration = d.state.lastDur
		it.LastError = d.state.lastErr
		d.state.mu.Unlock()
		items = append(items, it)
	}
	return Snapshot{Started: c != nil, Timezone: tz, Schedules: items}
}
