package domain

import "fmt"

func OutboxPendingKey(workflowID, actionID string) string {
	return fmt.Sprintf("outbox:%s:pending:%s", workflowID, actionID)
}

func OutboxPendingScope(workflowID string) string {
	return fmt.Sprintf("outbox:%s:pending:", workflowID)
}

func SnapshotKey(workflowID string) string {
	return fmt.Sprintf("workflow:%s:snapshot", workflowID)
}

func SettingKey(name string) string {
	return fmt.Sprintf("setting:global:%s", name)
}

func SettingScope() string {
	return "setting:global:"
}

func WorkflowSettingKey(workflowID, name string) string {
	return fmt.Sprintf("setting:workflow:%s:%s", workflowID, name)
}

func WorkflowSettingScope(workflowID string) string {
	return fmt.Sprintf("setting:workflow:%s:", workflowID)
}
