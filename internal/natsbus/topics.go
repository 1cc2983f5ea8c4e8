package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicAgentInbox carries point-to-point agent messages for one role.
func TopicAgentInbox(role string) string {
	return fmt.Sprintf("agents.%s.inbox", role)
}

// IPC topics answered by the running daemon, used by navctl.
const (
	TopicIPCChat           = "ipc.chat"
	TopicIPCStatus         = "ipc.status"
	TopicIPCScheduleList   = "ipc.schedule.list"
	TopicIPCScheduleAdd    = "ipc.schedule.add"
	TopicIPCScheduleRemove = "ipc.schedule.remove"
)

// TopicEventsTurn publishes a summary of each completed turn for
// observers (dashboard, navctl --follow).
func TopicEventsTurn(sessionID string) string {
	return fmt.Sprintf("events.turn.%s", sessionID)
}

// TopicEventsSchedule publishes one record per fired schedule.
const TopicEventsSchedule = "events.schedule"

const TopicEventsAll = "events.>"
