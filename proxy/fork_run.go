package proxy

import (
	"context"
	"strconv"
	"sync"

	"github.com/nexsip/nexsip/metrics"
	"github.com/nexsip/nexsip/sip"
)

type branchEvent struct {
	branch *branch
	res    *sip.Response
}

// finalResult pairs a branch's final response with its stable index so
// pickBest can tie-break deterministically instead of by goroutine arrival
// order.
type finalResult struct {
	idx int
	res *sip.Response
}

// Run pumps branch responses back into the inbound server transaction until
// every branch has produced a final response or ctx is canceled. The first
// 2xx cancels every other pending branch and is forwarded immediately; any
// 2xx arriving after that is forwarded too, per RFC 3261 section 16.7 rule
// 10. Non-2xx finals are aggregated with pickBest once every branch has
// answered.
func (f *Fork) Run(ctx context.Context) {
	f.mu.Lock()
	branches := append([]*branch(nil), f.branches...)
	f.mu.Unlock()

	events := make(chan branchEvent, 16)
	var wg sync.WaitGroup
	for _, b := range branches {
		wg.Add(1)
		go f.pumpBranch(b, events, &wg)
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	var finals []finalResult
	remaining := len(branches)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				f.finish(finals)
				return
			}
			if ev.res.IsProvisional() {
				f.relay(ev.res)
				continue
			}

			remaining--
			if ev.res.IsSuccess() {
				f.handleSuccess(ev)
				if remaining == 0 {
					return
				}
				continue
			}

			finals = append(finals, finalResult{idx: ev.branch.idx, res: ev.res})
			if remaining == 0 {
				f.finish(finals)
				return
			}

		case req, ok := <-f.srvTx.Cancels():
			if !ok {
				continue
			}
			_ = req
			f.cancelAll()

		case req, ok := <-f.srvTx.Acks():
			if !ok {
				continue
			}
			f.relayAck(req)

		case <-ctx.Done():
			f.cancelAll()
			return
		}
	}
}

func (f *Fork) pumpBranch(b *branch, events chan<- branchEvent, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case res, ok := <-b.tx.Responses():
			if !ok {
				return
			}
			events <- branchEvent{branch: b, res: res}
			if !res.IsProvisional() {
				return
			}
		case <-b.tx.Done():
			return
		}
	}
}

func (f *Fork) handleSuccess(ev branchEvent) {
	f.mu.Lock()
	alreadyWon := f.won
	f.won = true
	f.winnerTarget = ev.branch.target
	f.mu.Unlock()

	if !alreadyWon {
		f.cancelOthers(ev.branch)
	}
	f.relay(ev.res)
}

func (f *Fork) finish(finals []finalResult) {
	f.mu.Lock()
	won := f.won
	f.mu.Unlock()
	if won {
		return
	}

	best := pickBest(finals)
	if best == nil {
		best = sip.NewResponseFromRequest(f.original, sip.StatusInternalServerError, "Server Internal Error", nil)
	}
	f.relay(best)
}

func (f *Fork) relay(res *sip.Response) {
	if !res.IsProvisional() {
		metrics.ProxyBestResponseTotal.WithLabelValues(strconv.Itoa(responseClass(res)) + "xx").Inc()
	}
	res.RemoveHeader("Via")
	if err := f.srvTx.Respond(res); err != nil {
		f.log.Error().Err(err).Msg("failed to relay response to server transaction")
	}
}

func (f *Fork) cancelOthers(winner *branch) {
	f.mu.Lock()
	branches := append([]*branch(nil), f.branches...)
	f.mu.Unlock()
	for _, b := range branches {
		if b == winner {
			continue
		}
		if err := b.tx.Cancel(); err != nil {
			f.log.Debug().Err(err).Str("target", b.target.String()).Msg("cancel failed, branch likely already terminated")
		}
	}
}

func (f *Fork) cancelAll() {
	f.mu.Lock()
	branches := append([]*branch(nil), f.branches...)
	f.mu.Unlock()
	for _, b := range branches {
		if err := b.tx.Cancel(); err != nil {
			f.log.Debug().Err(err).Str("target", b.target.String()).Msg("cancel failed, branch likely already terminated")
		}
	}
}

func (f *Fork) relayAck(req *sip.Request) {
	f.mu.Lock()
	target := f.winnerTarget
	f.mu.Unlock()
	if target == nil || f.write == nil {
		return
	}
	ack := req.Clone()
	ack.Recipient = target
	ack.SetDestination(target.Host)
	if err := f.write(ack); err != nil {
		f.log.Error().Err(err).Msg("failed to relay ACK to winning branch")
	}
}
