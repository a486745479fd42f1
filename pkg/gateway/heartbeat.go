package gateway

import (
	"time"

	"github.com/Zert3x/spacebar-gateway/pkg/protocol"
)

// heartbeatMonitor acknowledges client heartbeats and kills the session
// when none arrives within the allowed window. A session that stops
// heartbeating is a zombie: its socket may still look open to the kernel,
// so the monitor tears it down without sending a close frame.
func (s *Session) heartbeatMonitor() {
	defer close(s.monitorDone)
	defer s.recovered("heartbeat_monitor")

	deadline := s.cfg.HeartbeatDeadline()
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-s.heartbeats:
			if err := s.writeEvent(protocol.HeartbeatAck{}); err != nil {
				if s.ctx.Err() == nil {
					s.logger.Debug("heartbeat ack failed", "error", err)
					s.close(0, "transport", true)
				}
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(deadline)

		case <-timer.C:
			s.metrics.heartbeatTimeout()
			s.logger.Info("heartbeat deadline missed, closing zombie session",
				"deadline", deadline.String())
			s.close(0, "zombie", true)
			return
		}
	}
}
