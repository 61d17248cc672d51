package system

import (
	"fmt"
	"time"
)

// Runner executes systems in phase order each fixed step. Systems sharing a
// phase run in registration order.
type Runner struct {
	phases [phaseCount][]System
	count  int
}

func NewRunner() *Runner {
	return &Runner{}
}

// Register adds s to the bucket of its phase. It panics on a phase outside
// the declared range; that is a wiring bug caught at startup.
func (r *Runner) Register(s System) {
	p := s.Phase()
	if p < 0 || p >= phaseCount {
		panic(fmt.Sprintf("system %T has invalid phase %d", s, p))
	}
	r.phases[p] = append(r.phases[p], s)
	r.count++
}

// Len is the number of registered systems.
func (r *Runner) Len() int { return r.count }

// Tick runs one full fixed step.
func (r *Runner) Tick(dt time.Duration) {
	for p := range r.phases {
		for _, s := range r.phases[p] {
			s.Update(dt)
		}
	}
}

// TickPhase 只執行指定 Phase 的 System。
// 暫停時仍需處理輸入與除錯指令，其餘階段不推進。
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	if phase < 0 || phase >= phaseCount {
		return
	}
	for _, s := range r.phases[phase] {
		s.Update(dt)
	}
}
