package shared

import "fmt"

// ReconcileLockKey builds the redis key guarding a reconciliation sweep.
func ReconcileLockKey(scope string) string {
	return fmt.Sprintf("quotes:reconcile:%s:lock", scope)
}
